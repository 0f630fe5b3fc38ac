package evaluation

import (
	"sort"

	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// Options controls which metrics the Evaluator computes.
type Options struct {
	MaxRank int
	// NDCGRank is the cutoff of the ranking metric.
	NDCGRank int
	// MinSessions is the number of sessions a query needs before it is used
	// by the ranking metric.
	MinSessions int
}

// DefaultOptions returns the options used by the CLI.
func DefaultOptions() Options {
	return Options{MaxRank: 10, NDCGRank: 5, MinSessions: 10}
}

// Evaluator scores click models on a test set.
type Evaluator struct {
	opts      Options
	judgments Judgments
}

// NewEvaluator creates a new evaluator.
func NewEvaluator(opts Options) *Evaluator {
	if opts.MaxRank <= 0 {
		opts.MaxRank = DefaultOptions().MaxRank
	}
	if opts.NDCGRank <= 0 {
		opts.NDCGRank = DefaultOptions().NDCGRank
	}
	return &Evaluator{opts: opts, judgments: make(Judgments)}
}

// LoadJudgments loads relevance judgments.
func (e *Evaluator) LoadJudgments(judgments []RelevanceJudgment) {
	for _, j := range judgments {
		if e.judgments[j.Query] == nil {
			e.judgments[j.Query] = make(map[string]int)
		}
		e.judgments[j.Query][j.Doc] = j.Relevance
	}
}

// Evaluate computes every metric for p on sessions.
func (e *Evaluator) Evaluate(p Predictor, sessions []*session.Session) (*Report, error) {
	ll, err := LogLikelihood(p, sessions)
	if err != nil {
		return nil, err
	}
	full, err := Perplexity(p, sessions, e.opts.MaxRank)
	if err != nil {
		return nil, err
	}
	cond, err := ConditionalPerplexity(p, sessions, e.opts.MaxRank)
	if err != nil {
		return nil, err
	}
	ctr, err := CTRError(p, sessions)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Model:                 p.Name(),
		Sessions:              len(sessions),
		LogLikelihood:         ll,
		Perplexity:            full,
		ConditionalPerplexity: cond,
		CTRError:              ctr,
	}

	if len(e.judgments) > 0 {
		if rel, ok := RelevancePrediction(p, sessions, e.judgments); ok {
			report.Relevance = &rel
		}
		if ndcg, ok := RankingPerformance(p, sessions, e.judgments, e.opts.NDCGRank, e.opts.MinSessions); ok {
			report.NDCG = &ndcg
		}
	}
	return report, nil
}

// Summary names the best model per metric.
type Summary struct {
	Models                    int    `json:"models" yaml:"models"`
	BestLogLikelihood         string `json:"best_log_likelihood" yaml:"best_log_likelihood"`
	BestPerplexity            string `json:"best_perplexity" yaml:"best_perplexity"`
	BestConditionalPerplexity string `json:"best_conditional_perplexity" yaml:"best_conditional_perplexity"`
}

// Summarize orders reports by perplexity, best first, and names the best
// model per metric.
func (e *Evaluator) Summarize(reports []*Report) *Summary {
	if len(reports) == 0 {
		return &Summary{}
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Perplexity.Overall < reports[j].Perplexity.Overall
	})

	summary := &Summary{Models: len(reports), BestPerplexity: reports[0].Model}
	bestLL, bestCond := reports[0], reports[0]
	for _, r := range reports[1:] {
		if r.LogLikelihood > bestLL.LogLikelihood {
			bestLL = r
		}
		if r.ConditionalPerplexity.Overall < bestCond.ConditionalPerplexity.Overall {
			bestCond = r
		}
	}
	summary.BestLogLikelihood = bestLL.Model
	summary.BestConditionalPerplexity = bestCond.Model
	return summary
}
