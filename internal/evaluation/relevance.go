package evaluation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/ricesearch/rice-clickmodels/internal/session"
)

// unjudged is the grade assumed for ranked documents without a judgment.
const unjudged = 0.5

// RelevancePrediction compares predicted relevance with judged grades over
// every judged result in sessions. AUC treats grades above 0 as relevant.
// ok is false when there are fewer than two pairs or only one class.
func RelevancePrediction(p Predictor, sessions []*session.Session, j Judgments) (res RelevanceResult, ok bool) {
	var (
		predicted []float64
		grades    []float64
		classes   []bool
	)
	for _, s := range sessions {
		for _, r := range s.Results {
			g, judged := j.Grade(s.Query, r.Doc)
			if !judged {
				continue
			}
			predicted = append(predicted, p.PredictRelevance(s.Query, r))
			grades = append(grades, float64(g))
			classes = append(classes, g > 0)
		}
	}

	res.Pairs = len(predicted)
	if res.Pairs < 2 {
		return res, false
	}

	var pos int
	for _, c := range classes {
		if c {
			pos++
		}
	}
	if pos == 0 || pos == len(classes) {
		return res, false
	}

	res.Correlation = stat.Correlation(predicted, grades, nil)
	if math.IsNaN(res.Correlation) {
		res.Correlation = 0
	}

	y := make([]float64, len(predicted))
	copy(y, predicted)
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	res.AUC = integrate.Trapezoidal(fpr, tpr)
	return res, true
}

// RankingPerformance ranks the documents seen for each query by predicted
// relevance and returns the mean NDCG@k against the judgments. Only queries
// with at least minSessions sessions and a positive judgment count. ok is
// false when no query qualifies.
func RankingPerformance(p Predictor, sessions []*session.Session, j Judgments, k, minSessions int) (float64, bool) {
	byQuery := make(map[string][]*session.Session)
	for _, s := range sessions {
		byQuery[s.Query] = append(byQuery[s.Query], s)
	}

	queries := make([]string, 0, len(byQuery))
	for q := range byQuery {
		queries = append(queries, q)
	}
	sort.Strings(queries)

	var scores []float64
	for _, q := range queries {
		qs := byQuery[q]
		judged := j[q]
		if len(qs) < minSessions || len(judged) == 0 {
			continue
		}

		ideal := make([]float64, 0, len(judged))
		for _, g := range judged {
			ideal = append(ideal, float64(g))
		}
		if DCG(sortedDesc(ideal), k) == 0 {
			continue
		}

		predicted := make(map[string]float64)
		var docs []string
		for _, s := range qs {
			for _, r := range s.Results {
				if _, seen := predicted[r.Doc]; !seen {
					predicted[r.Doc] = p.PredictRelevance(q, r)
					docs = append(docs, r.Doc)
				}
			}
		}
		sort.SliceStable(docs, func(a, b int) bool {
			if predicted[docs[a]] != predicted[docs[b]] {
				return predicted[docs[a]] > predicted[docs[b]]
			}
			return docs[a] < docs[b]
		})

		grades := make([]float64, len(docs))
		for i, d := range docs {
			grades[i] = unjudged
			if g, ok := judged[d]; ok {
				grades[i] = float64(g)
			}
		}
		scores = append(scores, NDCG(grades, ideal, k))
	}

	if len(scores) == 0 {
		return 0, false
	}
	return stat.Mean(scores, nil), true
}
