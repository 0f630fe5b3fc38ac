package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-clickmodels/internal/config"
	"github.com/ricesearch/rice-clickmodels/internal/server"
	"github.com/ricesearch/rice-clickmodels/internal/store"
	"github.com/ricesearch/rice-clickmodels/internal/watch"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the prediction server",
		Long: `Serve predictions of stored models over HTTP.

Endpoints:
  GET    /healthz                        liveness
  GET    /metrics                        Prometheus metrics
  GET    /v1/models                      stored snapshots and trainable models
  GET    /v1/models/{name}               snapshot metadata
  DELETE /v1/models/{name}               delete a snapshot
  POST   /v1/models/{name}/predict       full click probabilities
  POST   /v1/models/{name}/conditional   conditional click probabilities
  POST   /v1/models/{name}/relevance     estimated relevance`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "HTTP server port")
	cmd.Flags().String("host", "", "HTTP server host")
	cmd.Flags().Float64("rate-limit", 0, "requests per second per client (0 disables)")
	cmd.Flags().Bool("watch", true, "evict cached models when disk snapshots change")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, func(cfg *config.Config) error {
		f := cmd.Flags()
		if f.Changed("port") {
			cfg.Server.Port, _ = f.GetInt("port")
		}
		if f.Changed("host") {
			cfg.Server.Host, _ = f.GetString("host")
		}
		if f.Changed("rate-limit") {
			cfg.Server.RateLimit, _ = f.GetFloat64("rate-limit")
		}
		if f.Changed("watch") {
			cfg.Server.WatchStore, _ = f.GetBool("watch")
		}
		return nil
	})
	if err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := server.New(server.ConfigFrom(a.cfg.Server, version), st, a.metrics, a.log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if path := st.WatchPath(); a.cfg.Server.WatchStore && path != "" {
		w, err := watch.New(watch.Config{
			Path:     path,
			OnChange: srv.Invalidate,
			Accept:   func(name string) bool { return store.ValidateName(name) == nil },
			Logger:   a.log,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := w.Start(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("Snapshot watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.log.Info("Shutdown signal received")
	}
	return srv.Stop(context.Background())
}
