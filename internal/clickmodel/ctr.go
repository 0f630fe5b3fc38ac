package clickmodel

import (
	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// ctr is a click-through rate baseline keyed by document, rank or nothing.
type ctr struct {
	p *params.Param
}

func (m *ctr) Count(s *session.Session, acc *params.Accumulator) {
	for i, r := range s.Results {
		acc.Add(m.p, m.p.KeyFor(s, i, 0), indicator(r.Click), 1)
	}
}

func (m *ctr) conditional(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	for i, r := range s.Results {
		probs[i] = outcome(m.p.Value(s, i, 0), r.Click)
	}
	return probs
}

func (m *ctr) full(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	for i := range s.Results {
		probs[i] = m.p.Value(s, i, 0)
	}
	return probs
}

func (m *ctr) relevance(s *session.Session, i int) float64 {
	return m.p.Value(s, i, 0)
}

// cascade is the cascade model: the user scans down and stops at the first
// click. Clicks after the first one have no explanation and are given the
// smallest probability.
type cascade struct {
	attr *params.Param
}

func (m *cascade) Count(s *session.Session, acc *params.Accumulator) {
	for i, r := range s.Results {
		acc.Add(m.attr, m.attr.KeyFor(s, i, 0), indicator(r.Click), 1)
		if r.Click {
			return
		}
	}
}

func (m *cascade) conditional(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	clicked := false
	for i, r := range s.Results {
		p := params.ProbMin
		if !clicked {
			p = m.attr.Value(s, i, 0)
		}
		probs[i] = outcome(p, r.Click)
		clicked = clicked || r.Click
	}
	return probs
}

func (m *cascade) full(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	exam := 1.0
	for i := range s.Results {
		a := m.attr.Value(s, i, 0)
		probs[i] = exam * a
		exam *= 1 - a
	}
	return probs
}

func (m *cascade) relevance(s *session.Session, i int) float64 {
	return m.attr.Value(s, i, 0)
}

// pbm is the position-based model: clicks are independent, each the product
// of document attractiveness and rank examination.
type pbm struct {
	attr *params.Param
	exam *params.Param
}

func (m *pbm) Expect(s *session.Session, acc *params.Accumulator) float64 {
	var ll float64
	for i, r := range s.Results {
		a := m.attr.Value(s, i, 0)
		e := m.exam.Value(s, i, 0)

		attrPost, examPost := 1.0, 1.0
		if !r.Click {
			attrPost = (1 - e) * a / (1 - e*a)
			examPost = e * (1 - a) / (1 - e*a)
		}
		acc.Add(m.attr, m.attr.KeyFor(s, i, 0), attrPost, 1)
		acc.Add(m.exam, m.exam.KeyFor(s, i, 0), examPost, 1)
		ll += safeLog(outcome(a*e, r.Click))
	}
	return ll
}

func (m *pbm) conditional(s *session.Session) []float64 {
	probs := m.full(s)
	for i, r := range s.Results {
		probs[i] = outcome(probs[i], r.Click)
	}
	return probs
}

func (m *pbm) full(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	for i := range s.Results {
		probs[i] = m.attr.Value(s, i, 0) * m.exam.Value(s, i, 0)
	}
	return probs
}

func (m *pbm) relevance(s *session.Session, i int) float64 {
	return m.attr.Value(s, i, 0)
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
