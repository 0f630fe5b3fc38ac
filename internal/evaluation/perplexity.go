package evaluation

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ricesearch/rice-clickmodels/internal/params"
	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
	"github.com/ricesearch/rice-clickmodels/internal/session"
)

func errNoSessions() error {
	return apperrors.ValidationError("no sessions to evaluate")
}

// floor keeps a zero probability from turning a metric infinite.
func floor(p float64) float64 {
	return math.Max(p, params.ProbMin)
}

// LogLikelihood returns the mean over sessions of the mean log probability
// of each observed click value given the clicks above it.
func LogLikelihood(p Predictor, sessions []*session.Session) (float64, error) {
	perSession := make([]float64, 0, len(sessions))
	for _, s := range sessions {
		probs := p.ConditionalClickProbs(s)
		if len(probs) == 0 {
			continue
		}
		logs := make([]float64, len(probs))
		for i, pr := range probs {
			logs[i] = math.Log(floor(pr))
		}
		perSession = append(perSession, stat.Mean(logs, nil))
	}
	if len(perSession) == 0 {
		return 0, errNoSessions()
	}
	return stat.Mean(perSession, nil), nil
}

// Perplexity scores the unconditional click probabilities. Lower is better;
// a model that predicts every click value with certainty scores 1.
func Perplexity(p Predictor, sessions []*session.Session, maxRank int) (PerplexityResult, error) {
	return perplexity(sessions, maxRank, func(s *session.Session) []float64 {
		probs := p.PredictClickProbs(s)
		for i, r := range s.Results {
			if i < len(probs) && !r.Click {
				probs[i] = 1 - probs[i]
			}
		}
		return probs
	})
}

// ConditionalPerplexity scores the probabilities of the observed click
// values given the clicks above them.
func ConditionalPerplexity(p Predictor, sessions []*session.Session, maxRank int) (PerplexityResult, error) {
	return perplexity(sessions, maxRank, p.ConditionalClickProbs)
}

// perplexity computes 2^(-mean log2 p) per rank over the sessions reaching
// that rank. outcomes returns the probability of each observed click value.
func perplexity(sessions []*session.Session, maxRank int, outcomes func(*session.Session) []float64) (PerplexityResult, error) {
	if maxRank <= 0 {
		return PerplexityResult{}, apperrors.InvalidConfigError("max rank must be positive")
	}
	sums := make([]float64, maxRank)
	counts := make([]float64, maxRank)

	for _, s := range sessions {
		for i, pr := range outcomes(s) {
			if i >= maxRank {
				break
			}
			sums[i] += math.Log2(floor(pr))
			counts[i]++
		}
	}
	if floats.Sum(counts) == 0 {
		return PerplexityResult{}, errNoSessions()
	}

	res := PerplexityResult{ByRank: make([]float64, maxRank)}
	var reached []float64
	for i := range sums {
		if counts[i] == 0 {
			continue
		}
		res.ByRank[i] = math.Pow(2, -sums[i]/counts[i])
		reached = append(reached, res.ByRank[i])
	}
	res.Overall = stat.Mean(reached, nil)
	return res, nil
}
