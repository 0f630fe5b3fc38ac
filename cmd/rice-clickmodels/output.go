package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/ricesearch/rice-clickmodels/internal/evaluation"
	"github.com/ricesearch/rice-clickmodels/internal/trainer"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// writeTrainReport prints the per-model training outcome and, when the
// models were scored, the evaluation table.
func writeTrainReport(w io.Writer, r *trainer.Report) error {
	fmt.Fprintf(w, "Trained %d model(s) on %d sessions in %s\n\n", len(r.Runs), r.TrainSessions, r.Duration.Round(time.Millisecond))

	tw := newTable(w)
	fmt.Fprintln(tw, "MODEL\tRULE\tITERATIONS\tCONVERGED\tSESSIONS\tSKIPPED\tDURATION\tSNAPSHOT")
	for _, run := range r.Runs {
		res := run.Result
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\t%d\t%s\t%s\n",
			run.Model, res.Rule, res.Iterations, res.Converged,
			res.Sessions, res.Skipped, res.Duration.Round(time.Millisecond), run.Snapshot)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var reports []*evaluation.Report
	for _, run := range r.Runs {
		if run.Report != nil {
			reports = append(reports, run.Report)
		}
	}
	if len(reports) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\nEvaluated on %d sessions\n\n", r.TestSessions)
	return writeEvalTable(w, reports, r.Summary)
}

// writeEvalTable prints one row of metrics per report.
func writeEvalTable(w io.Writer, reports []*evaluation.Report, summary *evaluation.Summary) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "MODEL\tLOG-LIKELIHOOD\tPERPLEXITY\tCOND-PERPLEXITY\tCTR-RMSE\tREL-AUC\tNDCG")
	for _, rep := range reports {
		auc, ndcg := "-", "-"
		if rep.Relevance != nil {
			auc = formatFloat(rep.Relevance.AUC)
		}
		if rep.NDCG != nil {
			ndcg = formatFloat(*rep.NDCG)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rep.Model,
			formatFloat(rep.LogLikelihood),
			formatFloat(rep.Perplexity.Overall),
			formatFloat(rep.ConditionalPerplexity.Overall),
			formatFloat(rep.CTRError),
			auc, ndcg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if summary != nil && summary.Models > 1 {
		fmt.Fprintf(w, "\nBest log-likelihood: %s\nBest perplexity: %s\nBest conditional perplexity: %s\n",
			summary.BestLogLikelihood, summary.BestPerplexity, summary.BestConditionalPerplexity)
	}
	return nil
}
