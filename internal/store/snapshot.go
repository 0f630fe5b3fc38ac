// Package store persists trained click model parameters.
// A snapshot is the full state of one trained model under a name.
package store

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-clickmodels/internal/params"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/hash"
)

// Snapshot is the persisted form of a trained model.
type Snapshot struct {
	Name      string          `json:"name" yaml:"name"`
	Model     string          `json:"model" yaml:"model"`
	Rule      string          `json:"rule" yaml:"rule"`
	MaxRank   int             `json:"max_rank" yaml:"max_rank"`
	Sessions  int             `json:"sessions" yaml:"sessions"`
	TrainedAt time.Time       `json:"trained_at" yaml:"trained_at"`
	Checksum  string          `json:"checksum" yaml:"checksum"`
	Triples   []params.Triple `json:"triples" yaml:"triples"`
}

// Snapshot name validation rules
var (
	// nameRegex validates names: lowercase alphanumeric, dots, underscores and hyphens, starting with a letter
	nameRegex = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)

	// MaxNameLength is the maximum length of a snapshot name
	MaxNameLength = 128
)

// ValidateName validates a snapshot name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("snapshot name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("snapshot name cannot exceed %d characters", MaxNameLength)
	}

	if !nameRegex.MatchString(name) {
		return fmt.Errorf("snapshot name must be lowercase alphanumeric with dots, underscores or hyphens, starting with a letter")
	}

	return nil
}

// NewSnapshot creates a sealed snapshot.
func NewSnapshot(name, model, rule string, maxRank, sessions int, triples []params.Triple) *Snapshot {
	s := &Snapshot{
		Name:      name,
		Model:     model,
		Rule:      rule,
		MaxRank:   maxRank,
		Sessions:  sessions,
		TrainedAt: time.Now().UTC(),
		Triples:   triples,
	}
	params.SortTriples(s.Triples)
	s.Seal()
	return s
}

// digest hashes the model identity and parameter values.
func (s *Snapshot) digest() string {
	data, err := yaml.Marshal(struct {
		Model   string          `yaml:"model"`
		Rule    string          `yaml:"rule"`
		MaxRank int             `yaml:"max_rank"`
		Triples []params.Triple `yaml:"triples"`
	}{s.Model, s.Rule, s.MaxRank, s.Triples})
	if err != nil {
		return ""
	}
	return hash.SHA256(data)
}

// Seal recomputes the checksum.
func (s *Snapshot) Seal() {
	s.Checksum = s.digest()
}

// Validate checks the name and the checksum.
func (s *Snapshot) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if s.Model == "" {
		return fmt.Errorf("snapshot %s has no model", s.Name)
	}
	if s.MaxRank <= 0 {
		return fmt.Errorf("snapshot %s has max rank %d", s.Name, s.MaxRank)
	}
	if s.Checksum != s.digest() {
		return fmt.Errorf("snapshot %s checksum mismatch", s.Name)
	}
	return nil
}

func encode(s *Snapshot) ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &s, nil
}
