package clickmodel

import (
	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// fcm is the federated click model. With probability phi the vertical
// block draws the user's attention, and every result is then also examined
// with a probability beta depending on its distance from the vertical.
type fcm struct {
	browsing
	exam    *params.Param
	beta    *params.Param
	phi     *params.Param
	maxRank int
}

func (m *fcm) components(s *session.Session, observed bool) []component {
	plain := component{
		prior:  1,
		order:  topDown(s.Len()),
		exam:   examLookup(s, m.exam),
		update: examUpdate(s, m.exam),
	}
	if !s.HasVertical() {
		return []component{plain}
	}

	v := s.Vertical.Position
	phi := m.phi.Value(s, 0, v+1)
	plain.prior = 1 - phi

	distance := func(t int) int { return t - v + m.maxRank }
	attracted := component{
		prior: phi,
		order: topDown(s.Len()),
		exam: func(t, prev int) float64 {
			e := m.exam.Value(s, t, prev)
			return e + (1-e)*m.beta.Value(s, t, distance(t))
		},
		update: func(acc *params.Accumulator, st step, w float64) {
			e := m.exam.Value(s, st.t, st.prev)
			b := m.beta.Value(s, st.t, distance(st.t))
			acc.Add(m.exam, m.exam.KeyFor(s, st.t, st.prev), w*st.posterior(e), w)
			acc.Add(m.beta, m.beta.KeyFor(s, st.t, distance(st.t)), w*st.posterior(b), w)
		},
	}

	// a clicked vertical is proof that it drew attention
	if observed && s.Vertical.Click {
		return []component{attracted}
	}
	return []component{plain, attracted}
}

func (m *fcm) settle(acc *params.Accumulator, s *session.Session, comps []component, w []float64) {
	if !s.HasVertical() {
		return
	}
	v := s.Vertical.Position
	acc.Add(m.phi, m.phi.KeyFor(s, 0, v+1), w[len(w)-1], 1)
}
