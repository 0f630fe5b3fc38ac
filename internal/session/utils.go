package session

import "sort"

// UniqueQueries returns the distinct queries of sessions in sorted order.
func UniqueQueries(sessions []*Session) []string {
	seen := make(map[string]struct{})
	for _, s := range sessions {
		seen[s.Query] = struct{}{}
	}
	queries := make([]string, 0, len(seen))
	for q := range seen {
		queries = append(queries, q)
	}
	sort.Strings(queries)
	return queries
}

// FilterByQueries keeps the sessions whose query is in queries.
func FilterByQueries(sessions []*Session, queries []string) []*Session {
	keep := make(map[string]struct{}, len(queries))
	for _, q := range queries {
		keep[q] = struct{}{}
	}
	filtered := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if _, ok := keep[s.Query]; ok {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// Split cuts sessions into a training prefix holding fraction of them and a
// test suffix. Log order is kept so that training data precedes test data.
func Split(sessions []*Session, fraction float64) (train, test []*Session) {
	if fraction <= 0 {
		return nil, sessions
	}
	if fraction >= 1 {
		return sessions, nil
	}
	n := int(float64(len(sessions)) * fraction)
	return sessions[:n], sessions[n:]
}
