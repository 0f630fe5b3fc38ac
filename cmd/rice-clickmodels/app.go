package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-clickmodels/internal/bus"
	"github.com/ricesearch/rice-clickmodels/internal/config"
	"github.com/ricesearch/rice-clickmodels/internal/metrics"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/logger"
	"github.com/ricesearch/rice-clickmodels/internal/store"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// app holds what every command needs: configuration, logging and metrics.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	format  string
	out     io.Writer
}

// newApp loads the configuration named by --config and applies the global
// flags. apply may override settings from command flags before validation.
func newApp(cmd *cobra.Command, apply func(*config.Config) error) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	format = strings.ToLower(format)
	switch format {
	case formatText, formatJSON, formatYAML:
	default:
		return nil, fmt.Errorf("invalid format %q (must be text, json or yaml)", format)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if apply != nil {
		if err := apply(cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return &app{
		cfg: cfg,
		// stdout carries command output
		log:     logger.NewWithWriter(os.Stderr, cfg.Log.Level, cfg.Log.Format),
		metrics: metrics.New(),
		format:  format,
		out:     cmd.OutOrStdout(),
	}, nil
}

// openStore creates the configured snapshot store.
func (a *app) openStore() (*store.Service, error) {
	storage, err := store.NewStorage(a.cfg.Store)
	if err != nil {
		return nil, err
	}
	a.log.Debug("Opened model store", "type", a.cfg.Store.Type)
	return store.NewService(storage, a.log), nil
}

// openBus creates the configured event bus, instrumented with metrics.
func (a *app) openBus() (bus.Bus, error) {
	b, err := bus.NewBus(a.cfg.Bus, a.log)
	if err != nil {
		return nil, err
	}
	a.log.Debug("Opened event bus", "type", a.cfg.Bus.Type, "journal", a.cfg.Bus.Journal)
	return bus.NewInstrumentedBus(b, a.metrics), nil
}

// render writes v in the selected format. text renders the human form.
func (a *app) render(v interface{}, text func(io.Writer) error) error {
	return render(a.out, a.format, v, text)
}

func render(w io.Writer, format string, v interface{}, text func(io.Writer) error) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}
