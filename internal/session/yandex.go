package session

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ReadYandex parses logs in the Yandex relevance prediction challenge format.
// Two kinds of tab separated lines are recognised:
//
//	SessionID TimePassed Q QueryID RegionID URL...
//	SessionID TimePassed C URLID
//
// A click line marks the matching result of the most recent query line of the
// same session. Unrecognised lines are ignored. max limits the number of
// sessions returned; zero means no limit.
func ReadYandex(r io.Reader, maxRank, max int) ([]*Session, ReadStats, error) {
	var (
		sessions []*Session
		stats    ReadStats
		current  *Session
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	flush := func() {
		if current == nil {
			return
		}
		if err := current.Validate(maxRank); err != nil {
			stats.reject(stats.Lines, err)
		} else {
			sessions = append(sessions, current)
			stats.Sessions++
		}
		current = nil
	}

	for scanner.Scan() {
		stats.Lines++
		fields := strings.Split(strings.TrimSpace(scanner.Text()), "\t")

		switch {
		case len(fields) >= 6 && fields[2] == "Q":
			flush()
			if max > 0 && len(sessions) >= max {
				return sessions, stats, nil
			}
			current = &Session{UID: fields[0], Query: fields[3], Region: fields[4]}
			for _, u := range fields[5:] {
				current.Results = append(current.Results, Result{
					Doc:       u,
					Relevance: NoRelevance,
					ClickTime: NoClickTime,
				})
			}
		case len(fields) == 4 && fields[2] == "C":
			if current == nil || current.UID != fields[0] {
				continue
			}
			for i := range current.Results {
				if current.Results[i].Doc == fields[3] {
					current.Results[i].Click = true
					break
				}
			}
		}
	}
	flush()
	if max > 0 && len(sessions) > max {
		sessions = sessions[:max]
	}

	if err := scanner.Err(); err != nil {
		return sessions, stats, fmt.Errorf("reading yandex log: %w", err)
	}
	return sessions, stats, nil
}
