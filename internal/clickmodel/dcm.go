package clickmodel

import (
	"context"

	"github.com/ricesearch/rice-clickmodels/internal/inference"
	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// dcm is the dependent click model. After a click at rank i the user goes on
// with probability cont(i) and is satisfied otherwise; without a click the
// user always goes on. Simple-DCM and DCM share the recursions and differ in
// how they estimate: Simple-DCM counts the results up to the last click,
// DCM also weighs the results below it.
type dcm struct {
	attr        *params.Param
	cont        *params.Param
	skipNoClick bool
}

// Count applies the last-click counting rule: every result up to the last
// click was examined, and a click was followed by more browsing unless it
// was the last one. Without clicks every result was examined.
func (m *dcm) Count(s *session.Session, acc *params.Accumulator) {
	last := s.LastClick()
	if last < 0 {
		if m.skipNoClick {
			return
		}
		last = s.Len() - 1
	}

	for i := 0; i <= last; i++ {
		r := s.Results[i]
		acc.Add(m.attr, m.attr.KeyFor(s, i, 0), indicator(r.Click), 1)
		if r.Click {
			acc.Add(m.cont, m.cont.KeyFor(s, i, 0), indicator(i != last), 1)
		}
	}
}

// Expect adds the posterior counts. Up to the last click l everything is
// observed. Below it, either the user stopped at l or went on and found
// nothing attractive:
//
//	P(went on | no more clicks) = cont(l)·Π(1-a_j) / ((1-cont(l)) + cont(l)·Π(1-a_j))
//	P(A_j = 1 | no more clicks) = a_j·(1-cont(l)) / ((1-cont(l)) + cont(l)·Π(1-a_k))
func (m *dcm) Expect(s *session.Session, acc *params.Accumulator) float64 {
	last := s.LastClick()
	n := s.Len()
	var ll float64

	for i := 0; i <= last; i++ {
		r := s.Results[i]
		a := m.attr.Value(s, i, 0)
		acc.Add(m.attr, m.attr.KeyFor(s, i, 0), indicator(r.Click), 1)
		ll += safeLog(outcome(a, r.Click))
		if r.Click && i != last {
			acc.Add(m.cont, m.cont.KeyFor(s, i, 0), 1, 1)
			ll += safeLog(m.cont.Value(s, i, 0))
		}
	}

	if last < 0 {
		// no click: the user examined and rejected every result
		for i := 0; i < n; i++ {
			a := m.attr.Value(s, i, 0)
			acc.Add(m.attr, m.attr.KeyFor(s, i, 0), 0, 1)
			ll += safeLog(1 - a)
		}
		return ll
	}

	tail := 1.0
	for j := last + 1; j < n; j++ {
		tail *= 1 - m.attr.Value(s, j, 0)
	}
	lambda := m.cont.Value(s, last, 0)
	z := (1 - lambda) + lambda*tail
	ll += safeLog(z)

	acc.Add(m.cont, m.cont.KeyFor(s, last, 0), lambda*tail/z, 1)
	for j := last + 1; j < n; j++ {
		a := m.attr.Value(s, j, 0)
		acc.Add(m.attr, m.attr.KeyFor(s, j, 0), a*(1-lambda)/z, 1)
	}
	return ll
}

// warmStart seeds a fresh DCM with the Simple-DCM estimates.
func (m *dcm) warmStart(ctx context.Context, set *params.Set, sessions []*session.Session, opts inference.Options) error {
	opts.Progress = nil
	_, err := inference.RunMLE(ctx, set, m, sessions, opts)
	return err
}

func (m *dcm) conditional(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	exam := 1.0
	for i, r := range s.Results {
		a := m.attr.Value(s, i, 0)
		p := a * exam
		probs[i] = outcome(p, r.Click)
		if r.Click {
			exam = m.cont.Value(s, i, 0)
		} else {
			exam = skipped(exam, a)
		}
	}
	return probs
}

func (m *dcm) full(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	exam := 1.0
	for i := range s.Results {
		a := m.attr.Value(s, i, 0)
		probs[i] = a * exam
		exam *= a*m.cont.Value(s, i, 0) + (1 - a)
	}
	return probs
}

func (m *dcm) relevance(s *session.Session, i int) float64 {
	return m.attr.Value(s, i, 0)
}
