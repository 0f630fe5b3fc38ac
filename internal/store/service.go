package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/ricesearch/rice-clickmodels/internal/clickmodel"
	"github.com/ricesearch/rice-clickmodels/internal/config"
	apperrors "github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/logger"
)

// NewStorage creates the backend selected by cfg.Type: "memory", "disk" or
// "redis".
func NewStorage(cfg config.StoreConfig) (Storage, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory":
		return NewMemoryStorage(), nil
	case "", "disk":
		return NewDiskStorage(cfg.Path, cfg.CacheSize), nil
	case "redis":
		rs, err := NewRedisStorage(cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, apperrors.StoreError("opening redis store", err)
		}
		return rs, nil
	default:
		return nil, apperrors.InvalidConfigError(fmt.Sprintf("unknown store type %q", cfg.Type))
	}
}

// Service saves trained models and rebuilds them from snapshots.
type Service struct {
	storage Storage
	log     *logger.Logger
}

// NewService creates a store service.
func NewService(storage Storage, log *logger.Logger) *Service {
	return &Service{storage: storage, log: log}
}

// Save snapshots a trained model under name.
func (s *Service) Save(ctx context.Context, name string, m *clickmodel.Model, sessions int) (*Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	if !m.Trained() {
		return nil, apperrors.ValidationError(fmt.Sprintf("model %s is not trained", m.Name()))
	}

	snap := NewSnapshot(name, m.Name(), m.Rule().String(), m.MaxRank(), sessions, m.Snapshot())
	if err := s.storage.Save(ctx, snap); err != nil {
		return nil, apperrors.StoreError("saving snapshot "+name, err)
	}

	s.log.Info("Saved snapshot", "name", name, "model", snap.Model, "params", len(snap.Triples))
	return snap, nil
}

// Get loads and verifies a snapshot.
func (s *Service) Get(ctx context.Context, name string) (*Snapshot, error) {
	if err := ValidateName(name); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	snap, err := s.storage.Load(ctx, name)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, apperrors.StoreError("loading snapshot "+name, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, apperrors.StoreError("corrupt snapshot "+name, err)
	}
	return snap, nil
}

// Load rebuilds the model saved under name.
func (s *Service) Load(ctx context.Context, name string) (*clickmodel.Model, error) {
	snap, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return Rebuild(snap)
}

// Rebuild constructs a model from a snapshot and restores its parameters.
func Rebuild(snap *Snapshot) (*clickmodel.Model, error) {
	spec, err := clickmodel.ParseSpec(snap.Model)
	if err != nil {
		return nil, err
	}

	cfg := clickmodel.DefaultConfig()
	cfg.MaxRank = snap.MaxRank
	cfg.Inference = snap.Rule
	m, err := clickmodel.New(spec, cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(snap.Triples); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns the names of every stored snapshot.
func (s *Service) List(ctx context.Context) ([]string, error) {
	names, err := s.storage.List(ctx)
	if err != nil {
		return nil, apperrors.StoreError("listing snapshots", err)
	}
	return names, nil
}

// Delete removes the snapshot saved under name.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := s.storage.Delete(ctx, name); err != nil {
		return apperrors.StoreError("deleting snapshot "+name, err)
	}
	s.log.Info("Deleted snapshot", "name", name)
	return nil
}

// Invalidate tells a caching backend that the snapshot saved under name
// changed outside this process.
func (s *Service) Invalidate(name string) {
	if inv, ok := s.storage.(Invalidator); ok {
		inv.Invalidate(name)
	}
}

// WatchPath returns the directory to watch for snapshot changes, or "" when
// the backend does not keep snapshots in local files.
func (s *Service) WatchPath() string {
	if ds, ok := s.storage.(*DiskStorage); ok {
		return ds.Path()
	}
	return ""
}

// Close releases the storage backend.
func (s *Service) Close() error {
	return s.storage.Close()
}
