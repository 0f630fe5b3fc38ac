package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-clickmodels/internal/client"
	"github.com/ricesearch/rice-clickmodels/internal/clickmodel"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/security"
	"github.com/ricesearch/rice-clickmodels/internal/session"
	"github.com/ricesearch/rice-clickmodels/internal/trainer"
)

// Prediction kinds accepted by --kind.
const (
	kindPredict     = "predict"
	kindConditional = "conditional"
	kindRelevance   = "relevance"
)

// prediction is one session with the model output per result.
type prediction struct {
	Query  string    `json:"query" yaml:"query"`
	Docs   []string  `json:"docs" yaml:"docs"`
	Clicks []bool    `json:"clicks" yaml:"clicks"`
	Values []float64 `json:"values" yaml:"values"`
}

func predictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict <snapshot> <click-log>",
		Short: "Predict clicks or relevance with a stored model",
		Long: `Apply a stored model to every session of a click log.

Kinds:
  predict      full click probability per result, ignoring observed clicks
  conditional  probability of each observed click value given the clicks above
  relevance    estimated relevance of each result

With --server the sessions are sent to a running prediction server instead
of loading the snapshot locally.

Examples:
  rice-clickmodels predict exp1-dbn sessions.tsv
  rice-clickmodels predict exp1-ubm sessions.tsv --kind conditional --format json
  rice-clickmodels predict exp1-dbn sessions.tsv --server http://localhost:8090`,
		Args: cobra.ExactArgs(2),
		RunE: runPredict,
	}

	addInputFlags(cmd)
	cmd.Flags().String("kind", kindPredict, "prediction kind (predict, conditional, relevance)")
	cmd.Flags().String("server", "", "prediction server URL (default: load the snapshot locally)")
	return cmd
}

// predictFunc returns the per-session output of m for kind.
func predictFunc(m *clickmodel.Model, kind string) (func(*session.Session) []float64, error) {
	switch kind {
	case kindPredict:
		return m.PredictClickProbs, nil
	case kindConditional:
		return m.ConditionalClickProbs, nil
	case kindRelevance:
		return func(s *session.Session) []float64 {
			out := make([]float64, s.Len())
			for i, r := range s.Results {
				out[i] = m.PredictRelevance(s.Query, r)
			}
			return out
		}, nil
	}
	return nil, fmt.Errorf("invalid kind %q (must be predict, conditional or relevance)", kind)
}

func runPredict(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	kind, _ := cmd.Flags().GetString("kind")
	kind = strings.ToLower(kind)

	if addr, _ := cmd.Flags().GetString("server"); addr != "" {
		out, err := predictRemote(cmd, a, client.New(client.Config{BaseURL: addr}), args[0], args[1], kind)
		if err != nil {
			return err
		}
		return a.render(out, func(w io.Writer) error { return writePredictions(w, out) })
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := st.Load(ctx, args[0])
	if err != nil {
		return err
	}
	fn, err := predictFunc(m, kind)
	if err != nil {
		return err
	}

	t := trainer.New(st, nil, a.metrics, a.log)
	sessions, err := readInput(ctx, cmd, t, args[1], m.MaxRank())
	if err != nil {
		return err
	}

	start := time.Now()
	out := make([]prediction, len(sessions))
	for i, s := range sessions {
		out[i] = prediction{Query: s.Query, Docs: s.Docs(), Clicks: s.Clicks(), Values: fn(s)}
	}
	a.metrics.RecordPrediction(m.Name(), kind, time.Since(start))

	return a.render(out, func(w io.Writer) error { return writePredictions(w, out) })
}

// predictRemote sends the sessions of logPath to a prediction server in
// batches the server accepts.
func predictRemote(cmd *cobra.Command, a *app, c *client.Client, name, logPath, kind string) ([]prediction, error) {
	ctx := cmd.Context()
	info, err := c.GetModel(ctx, name)
	if err != nil {
		return nil, err
	}

	t := trainer.New(nil, nil, a.metrics, a.log)
	sessions, err := readInput(ctx, cmd, t, logPath, info.MaxRank)
	if err != nil {
		return nil, err
	}

	out := make([]prediction, 0, len(sessions))
	for start := 0; start < len(sessions); start += security.MaxSessions {
		batch := sessions[start:min(start+security.MaxSessions, len(sessions))]
		reqs := make([]client.SessionRequest, len(batch))
		for i, s := range batch {
			reqs[i] = client.NewSessionRequest(s)
		}
		resp, err := c.Predict(ctx, name, kind, reqs)
		if err != nil {
			return nil, err
		}
		if len(resp.Results) != len(batch) {
			return nil, fmt.Errorf("server returned %d results for %d sessions", len(resp.Results), len(batch))
		}
		for i, s := range batch {
			out = append(out, prediction{Query: s.Query, Docs: s.Docs(), Clicks: s.Clicks(), Values: resp.Results[i]})
		}
	}
	a.log.Debug("Remote predictions", "snapshot", name, "sessions", len(out))
	return out, nil
}

// writePredictions prints one tab separated line per session: query,
// documents, clicks and values, lists comma separated.
func writePredictions(w io.Writer, preds []prediction) error {
	for _, p := range preds {
		values := make([]string, len(p.Values))
		for i, v := range p.Values {
			values[i] = formatFloat(v)
		}
		clicks := make([]string, len(p.Clicks))
		for i, c := range p.Clicks {
			clicks[i] = "0"
			if c {
				clicks[i] = "1"
			}
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			p.Query, strings.Join(p.Docs, ","), strings.Join(clicks, ","), strings.Join(values, ",")); err != nil {
			return err
		}
	}
	return nil
}
