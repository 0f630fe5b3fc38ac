package clickmodel

import (
	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// dbn is the dynamic Bayesian network model. A user examining result i
// clicks it with probability attr, is satisfied after a click with
// probability sat, and otherwise goes on with probability gamma. Simple-DBN
// fixes gamma at 1 and has no gamma parameter.
type dbn struct {
	attr        *params.Param
	sat         *params.Param
	gamma       *params.Param
	skipNoClick bool
}

func (m *dbn) perseverance() float64 {
	if m.gamma == nil {
		return 1
	}
	return m.gamma.At(params.Key{})
}

// Count is the Simple-DBN counting rule: results up to the last click were
// examined, and only the last click satisfied the user.
func (m *dbn) Count(s *session.Session, acc *params.Accumulator) {
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
			acc.Add(m.sat, m.sat.KeyFor(s, i, 0), indicator(i == last), 1)
		}
	}
}

// chain holds the scaled forward and backward variables of one session.
// Index 1 is the examined state, index 0 the abandoned one.
type chain struct {
	alpha [][2]float64
	beta  [][2]float64
	scale []float64
	trans []float64
	emit  [][2]float64
}

// emission is P(C_i | E_i).
func emission(a float64, clicked bool) [2]float64 {
	if clicked {
		return [2]float64{0, a}
	}
	return [2]float64{1, 1 - a}
}

func (m *dbn) forwardBackward(s *session.Session) *chain {
	n := s.Len()
	g := m.perseverance()
	ch := &chain{
		alpha: make([][2]float64, n),
		beta:  make([][2]float64, n),
		scale: make([]float64, n),
		trans: make([]float64, n),
		emit:  make([][2]float64, n),
	}

	for i, r := range s.Results {
		ch.emit[i] = emission(m.attr.Value(s, i, 0), r.Click)
		ch.trans[i] = g
		if r.Click {
			ch.trans[i] = (1 - m.sat.Value(s, i, 0)) * g
		}
	}

	var prev [2]float64
	for i := 0; i < n; i++ {
		var cur [2]float64
		if i == 0 {
			cur[1] = ch.emit[0][1]
		} else {
			t := ch.trans[i-1]
			cur[1] = prev[1] * t * ch.emit[i][1]
			cur[0] = (prev[1]*(1-t) + prev[0]) * ch.emit[i][0]
		}
		c := cur[0] + cur[1]
		if c <= 0 {
			c = params.ProbMin * params.ProbMin
		}
		ch.scale[i] = c
		ch.alpha[i] = [2]float64{cur[0] / c, cur[1] / c}
		prev = ch.alpha[i]
	}

	ch.beta[n-1] = [2]float64{1, 1}
	for i := n - 2; i >= 0; i-- {
		t, next, c := ch.trans[i], ch.beta[i+1], ch.scale[i+1]
		ch.beta[i][1] = (t*ch.emit[i+1][1]*next[1] + (1-t)*ch.emit[i+1][0]*next[0]) / c
		ch.beta[i][0] = ch.emit[i+1][0] * next[0] / c
	}
	return ch
}

// Expect runs the scaled forward-backward pass over the examination chain.
func (m *dbn) Expect(s *session.Session, acc *params.Accumulator) float64 {
	n := s.Len()
	ch := m.forwardBackward(s)
	g := m.perseverance()

	var ll float64
	for i, r := range s.Results {
		ll += safeLog(ch.scale[i])

		a := m.attr.Value(s, i, 0)
		if r.Click {
			acc.Add(m.attr, m.attr.KeyFor(s, i, 0), 1, 1)
		} else {
			abandoned := ch.alpha[i][0] * ch.beta[i][0]
			acc.Add(m.attr, m.attr.KeyFor(s, i, 0), a*abandoned, 1)
		}

		sat := m.sat.Value(s, i, 0)
		if i == n-1 {
			if r.Click {
				acc.Add(m.sat, m.sat.KeyFor(s, i, 0), sat, 1)
			}
			continue
		}

		c := ch.scale[i+1]
		stop := ch.emit[i+1][0] * ch.beta[i+1][0] / c
		if r.Click {
			acc.Add(m.sat, m.sat.KeyFor(s, i, 0), ch.alpha[i][1]*sat*stop, 1)
		}

		if m.gamma != nil {
			unsatisfied := 1.0
			if r.Click {
				unsatisfied = 1 - sat
			}
			went := ch.alpha[i][1] * ch.trans[i] * ch.emit[i+1][1] * ch.beta[i+1][1] / c
			quit := ch.alpha[i][1] * unsatisfied * (1 - g) * stop
			acc.Add(m.gamma, params.Key{}, went, went+quit)
		}
	}
	return ll
}

func (m *dbn) conditional(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	g := m.perseverance()
	exam := 1.0
	for i, r := range s.Results {
		a := m.attr.Value(s, i, 0)
		p := a * exam
		probs[i] = outcome(p, r.Click)
		if r.Click {
			exam = (1 - m.sat.Value(s, i, 0)) * g
		} else {
			exam = skipped(exam, a) * g
		}
	}
	return probs
}

func (m *dbn) full(s *session.Session) []float64 {
	probs := make([]float64, s.Len())
	g := m.perseverance()
	exam := 1.0
	for i := range s.Results {
		a := m.attr.Value(s, i, 0)
		probs[i] = a * exam
		exam *= g * (a*(1-m.sat.Value(s, i, 0)) + 1 - a)
	}
	return probs
}

func (m *dbn) relevance(s *session.Session, i int) float64 {
	return m.attr.Value(s, i, 0) * m.sat.Value(s, i, 0)
}
