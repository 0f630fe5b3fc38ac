package clickmodel

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// step is one result visited by a browsing component.
type step struct {
	t       int // position in the browsing order
	prev    int // 1-based step of the previous click, 0 if none
	i       int // result index
	a       float64
	ex      float64
	clicked bool
}

// posterior returns P(E=1 | C) for examination probability ex.
func (st step) posterior(ex float64) float64 {
	if st.clicked {
		return ex / st.ex
	}
	return ex * (1 - st.a) / (1 - st.a*st.ex)
}

// component is one way a user may browse the result list. Clicks are
// explained by attractiveness times the examination probability the
// component assigns to each step.
type component struct {
	prior float64
	// order lists result indices in the order they are browsed.
	order []int
	exam  func(t, prev int) float64
	// update adds the component's examination statistics for one step,
	// weighted by the component posterior w.
	update func(acc *params.Accumulator, st step, w float64)
}

// browser supplies the components of a user browsing model.
type browser interface {
	// components returns the browsing components for s. observed reports
	// whether the vertical click of s may be used to rule components out.
	components(s *session.Session, observed bool) []component
	// settle adds the statistics of the mixture weights.
	settle(acc *params.Accumulator, s *session.Session, comps []component, w []float64)
}

// browsing is the engine shared by the user browsing model and its vertical
// extensions: a mixture of browsing components over a shared attractiveness.
type browsing struct {
	attr *params.Param
	b    browser
}

func topDown(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// trace follows the observed clicks through c.
func (e *browsing) trace(s *session.Session, c component) ([]step, float64) {
	steps := make([]step, len(c.order))
	var ll float64
	prev := 0
	for t, i := range c.order {
		r := s.Results[i]
		st := step{t: t, prev: prev, i: i, a: e.attr.Value(s, i, 0), ex: c.exam(t, prev), clicked: r.Click}
		steps[t] = st
		ll += safeLog(outcome(st.a*st.ex, st.clicked))
		if r.Click {
			prev = t + 1
		}
	}
	return steps, ll
}

// Expect weighs every component by its posterior given the clicks.
func (e *browsing) Expect(s *session.Session, acc *params.Accumulator) float64 {
	comps := e.b.components(s, true)
	traces := make([][]step, len(comps))
	logw := make([]float64, len(comps))
	for k, c := range comps {
		steps, ll := e.trace(s, c)
		traces[k] = steps
		logw[k] = safeLog(c.prior) + ll
	}

	total := floats.LogSumExp(logw)
	w := make([]float64, len(comps))
	for k := range w {
		w[k] = math.Exp(logw[k] - total)
	}

	attrNum := make([]float64, s.Len())
	for k, c := range comps {
		for _, st := range traces[k] {
			post := 1.0
			if !st.clicked {
				post = (1 - st.ex) * st.a / (1 - st.a*st.ex)
			}
			attrNum[st.i] += w[k] * post
			if c.update != nil {
				c.update(acc, st, w[k])
			}
		}
	}
	for i := range attrNum {
		acc.Add(e.attr, e.attr.KeyFor(s, i, 0), attrNum[i], 1)
	}

	e.b.settle(acc, s, comps, w)
	return total
}

// walk runs the forward recursion of c over the states "previous click
// step". Results with observe[i] set are held to their observed click value
// and the others are marginalised. It returns the probability of the
// observed values and, per result, the joint probability of a click and the
// observed values.
func (e *browsing) walk(s *session.Session, c component, observe []bool) (float64, []float64) {
	n := len(c.order)
	clicks := make([]float64, s.Len())
	f := make([]float64, n+1)
	f[0] = 1

	for t, i := range c.order {
		a := e.attr.Value(s, i, 0)
		next := make([]float64, n+1)
		for prev, mass := range f {
			if mass == 0 {
				continue
			}
			p := a * c.exam(t, prev)
			switch {
			case !observe[i]:
				next[t+1] += mass * p
				next[prev] += mass * (1 - p)
				clicks[i] += mass * p
			case s.Results[i].Click:
				next[t+1] += mass * p
				clicks[i] += mass * p
			default:
				next[prev] += mass * (1 - p)
			}
		}
		f = next
	}
	return floats.Sum(f), clicks
}

func (e *browsing) mixture(s *session.Session, comps []component, observe []bool) float64 {
	var total float64
	for _, c := range comps {
		p, _ := e.walk(s, c, observe)
		total += c.prior * p
	}
	return total
}

func (e *browsing) conditional(s *session.Session) []float64 {
	comps := e.b.components(s, true)
	observe := make([]bool, s.Len())
	probs := make([]float64, s.Len())

	before := e.mixture(s, comps, observe)
	for i := range probs {
		observe[i] = true
		after := e.mixture(s, comps, observe)
		if before > 0 {
			probs[i] = after / before
		}
		before = after
	}
	return probs
}

func (e *browsing) full(s *session.Session) []float64 {
	comps := e.b.components(s, false)
	observe := make([]bool, s.Len())
	probs := make([]float64, s.Len())
	for _, c := range comps {
		_, clicks := e.walk(s, c, observe)
		for i, p := range clicks {
			probs[i] += c.prior * p
		}
	}
	return probs
}

func (e *browsing) relevance(s *session.Session, i int) float64 {
	return e.attr.Value(s, i, 0)
}

// examUpdate returns the update of an examination parameter keyed by step
// and previous click step.
func examUpdate(s *session.Session, exam *params.Param) func(*params.Accumulator, step, float64) {
	return func(acc *params.Accumulator, st step, w float64) {
		acc.Add(exam, exam.KeyFor(s, st.t, st.prev), w*st.posterior(st.ex), w)
	}
}

// examLookup reads an examination parameter keyed by step and previous click
// step.
func examLookup(s *session.Session, exam *params.Param) func(t, prev int) float64 {
	return func(t, prev int) float64 {
		return exam.Value(s, t, prev)
	}
}
