// Package session holds the query impressions click models are trained and
// evaluated on, plus readers for the supported log formats.
package session

import (
	"fmt"

	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
)

// Sentinels used by the session log for missing values.
const (
	NoRelevance = -1
	NoClickTime = -1
)

// Result is one ranked document of a session.
type Result struct {
	Doc       string `json:"doc" yaml:"doc"`
	Click     bool   `json:"click" yaml:"click"`
	Relevance int    `json:"relevance" yaml:"relevance"`
	ClickTime int64  `json:"click_time" yaml:"click_time"`
}

// Vertical describes a vertical result block shown with the web results.
// Position is the 0-based index of the block in the result list.
type Vertical struct {
	Position  int   `json:"position" yaml:"position"`
	Click     bool  `json:"click" yaml:"click"`
	ClickTime int64 `json:"click_time" yaml:"click_time"`
}

// Session is one query impression. UID, Region and click times are carried
// through untouched and play no role in estimation.
type Session struct {
	UID      string    `json:"uid,omitempty" yaml:"uid,omitempty"`
	Query    string    `json:"query" yaml:"query"`
	Region   string    `json:"region,omitempty" yaml:"region,omitempty"`
	Results  []Result  `json:"results" yaml:"results"`
	Vertical *Vertical `json:"vertical,omitempty" yaml:"vertical,omitempty"`
}

// New builds a session from parallel document and click lists. Relevance is
// unknown for every result. It panics if the lists differ in length.
func New(query string, docs []string, clicks []bool) *Session {
	if len(docs) != len(clicks) {
		panic(fmt.Sprintf("session: %d docs but %d clicks", len(docs), len(clicks)))
	}
	s := &Session{Query: query, Results: make([]Result, len(docs))}
	for i, d := range docs {
		s.Results[i] = Result{Doc: d, Click: clicks[i], Relevance: NoRelevance, ClickTime: NoClickTime}
	}
	return s
}

// Len returns the number of ranked results.
func (s *Session) Len() int { return len(s.Results) }

// Docs returns the document identifiers in rank order.
func (s *Session) Docs() []string {
	docs := make([]string, len(s.Results))
	for i, r := range s.Results {
		docs[i] = r.Doc
	}
	return docs
}

// Clicks returns the click vector in rank order.
func (s *Session) Clicks() []bool {
	clicks := make([]bool, len(s.Results))
	for i, r := range s.Results {
		clicks[i] = r.Click
	}
	return clicks
}

// ClickCount returns the number of clicked results.
func (s *Session) ClickCount() int {
	n := 0
	for _, r := range s.Results {
		if r.Click {
			n++
		}
	}
	return n
}

// LastClick returns the index of the last clicked result, or -1.
func (s *Session) LastClick() int {
	for i := len(s.Results) - 1; i >= 0; i-- {
		if s.Results[i].Click {
			return i
		}
	}
	return -1
}

// FirstClick returns the index of the first clicked result, or -1.
func (s *Session) FirstClick() int {
	for i, r := range s.Results {
		if r.Click {
			return i
		}
	}
	return -1
}

// Grades returns the relevance grade of every result, or nil when no result
// is graded.
func (s *Session) Grades() []int {
	var grades []int
	for i, r := range s.Results {
		if r.Relevance == NoRelevance {
			continue
		}
		if grades == nil {
			grades = make([]int, len(s.Results))
			for j := range grades {
				grades[j] = NoRelevance
			}
		}
		grades[i] = r.Relevance
	}
	return grades
}

// HasVertical reports whether a vertical block was shown.
func (s *Session) HasVertical() bool { return s.Vertical != nil }

// WithClicks returns a copy of s with its click vector replaced. The original
// session is left untouched.
func (s *Session) WithClicks(clicks []bool) *Session {
	cp := *s
	cp.Results = make([]Result, len(s.Results))
	copy(cp.Results, s.Results)
	for i := range cp.Results {
		cp.Results[i].Click = i < len(clicks) && clicks[i]
	}
	return &cp
}

// Validate checks the structural invariants the estimators rely on.
func (s *Session) Validate(maxRank int) error {
	switch {
	case len(s.Results) == 0:
		return apperrors.MalformedSessionError("empty result list")
	case maxRank > 0 && len(s.Results) > maxRank:
		return apperrors.MalformedSessionError(
			fmt.Sprintf("%d results exceed max rank %d", len(s.Results), maxRank))
	case s.Vertical != nil && (s.Vertical.Position < 0 || s.Vertical.Position >= len(s.Results)):
		return apperrors.MalformedSessionError(
			fmt.Sprintf("vertical position %d outside result list", s.Vertical.Position))
	}
	for _, r := range s.Results {
		if r.Doc == "" {
			return apperrors.MalformedSessionError("empty document identifier")
		}
	}
	return nil
}

// Partition splits sessions into valid and rejected ones.
func Partition(sessions []*Session, maxRank int) (valid []*Session, rejected int) {
	valid = make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if s == nil || s.Validate(maxRank) != nil {
			rejected++
			continue
		}
		valid = append(valid, s)
	}
	return valid, rejected
}
