package evaluation

import "github.com/ricesearch/rice-clickmodels/internal/session"

// Predictor is the part of a click model the evaluators use.
type Predictor interface {
	Name() string
	ConditionalClickProbs(s *session.Session) []float64
	PredictClickProbs(s *session.Session) []float64
	PredictRelevance(query string, r session.Result) float64
}

// RelevanceJudgment represents an editorial relevance grade for a query-doc pair.
type RelevanceJudgment struct {
	Query     string `json:"query" yaml:"query"`
	Doc       string `json:"doc" yaml:"doc"`
	Relevance int    `json:"relevance" yaml:"relevance"` // 0=not relevant .. 4=perfect
}

// Judgments indexes relevance grades by query and document.
type Judgments map[string]map[string]int

// Grade returns the judged grade of doc for query.
func (j Judgments) Grade(query, doc string) (int, bool) {
	g, ok := j[query][doc]
	return g, ok
}

// PerplexityResult holds perplexity overall and per rank. Ranks no session
// reached are reported as 0 and left out of the overall value.
type PerplexityResult struct {
	Overall float64   `json:"overall" yaml:"overall"`
	ByRank  []float64 `json:"by_rank" yaml:"by_rank"`
}

// RelevanceResult compares predicted relevance with judgments.
type RelevanceResult struct {
	AUC         float64 `json:"auc" yaml:"auc"`
	Correlation float64 `json:"correlation" yaml:"correlation"`
	Pairs       int     `json:"pairs" yaml:"pairs"`
}

// Report contains every metric for one model on one test set.
type Report struct {
	Model                 string           `json:"model" yaml:"model"`
	Sessions              int              `json:"sessions" yaml:"sessions"`
	LogLikelihood         float64          `json:"log_likelihood" yaml:"log_likelihood"`
	Perplexity            PerplexityResult `json:"perplexity" yaml:"perplexity"`
	ConditionalPerplexity PerplexityResult `json:"conditional_perplexity" yaml:"conditional_perplexity"`
	CTRError              float64          `json:"ctr_rmse" yaml:"ctr_rmse"`
	// Relevance and NDCG are only set when judgments are loaded.
	Relevance *RelevanceResult `json:"relevance,omitempty" yaml:"relevance,omitempty"`
	NDCG      *float64         `json:"ndcg,omitempty" yaml:"ndcg,omitempty"`
}
