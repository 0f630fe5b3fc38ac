package evaluation

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// CTRError returns the root mean squared error between the predicted click
// probability of the top result and its observed click-through rate. Sessions
// are grouped by query and top document, and groups are weighted by size.
func CTRError(p Predictor, sessions []*session.Session) (float64, error) {
	type group struct {
		clicks    float64
		predicted float64
		n         float64
	}
	type key struct{ query, doc string }

	groups := make(map[key]*group)
	var order []key
	for _, s := range sessions {
		if s.Len() == 0 {
			continue
		}
		k := key{s.Query, s.Results[0].Doc}
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
			order = append(order, k)
		}
		g.n++
		g.clicks += indicator(s.Results[0].Click)
		g.predicted += p.PredictClickProbs(s)[0]
	}
	if len(order) == 0 {
		return 0, errNoSessions()
	}

	errs := make([]float64, len(order))
	weights := make([]float64, len(order))
	for i, k := range order {
		g := groups[k]
		d := g.predicted/g.n - g.clicks/g.n
		errs[i] = d * d
		weights[i] = g.n
	}
	return math.Sqrt(stat.Mean(errs, weights)), nil
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
