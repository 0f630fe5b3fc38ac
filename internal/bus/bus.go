// Package bus publishes training lifecycle events to in-process subscribers
// or to Kafka.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type, equal to the topic it was published on.
	Type string `json:"type"`

	// Source is the component that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(topic, source string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      topic,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// Training lifecycle topics.
const (
	TopicTrainStarted       = "train.started"
	TopicIterationCompleted = "iteration.completed"
	TopicTrainCompleted     = "train.completed"
	TopicModelSaved         = "model.saved"
	TopicSessionsRejected   = "sessions.rejected"
)

// Topics lists every lifecycle topic.
func Topics() []string {
	return []string{
		TopicTrainStarted,
		TopicIterationCompleted,
		TopicTrainCompleted,
		TopicModelSaved,
		TopicSessionsRejected,
	}
}

// TrainStarted is the payload of TopicTrainStarted.
type TrainStarted struct {
	Model    string `json:"model"`
	Rule     string `json:"rule"`
	Sessions int    `json:"sessions"`
}

// IterationCompleted is the payload of TopicIterationCompleted.
type IterationCompleted struct {
	Model         string  `json:"model"`
	Iteration     int     `json:"iteration"`
	MaxDelta      float64 `json:"max_delta"`
	LogLikelihood float64 `json:"log_likelihood"`
	ElapsedMs     int64   `json:"elapsed_ms"`
}

// TrainCompleted is the payload of TopicTrainCompleted.
type TrainCompleted struct {
	Model      string  `json:"model"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	Sessions   int     `json:"sessions"`
	Skipped    int     `json:"skipped"`
	DurationMs int64   `json:"duration_ms"`
	Perplexity float64 `json:"perplexity,omitempty"`
}

// ModelSaved is the payload of TopicModelSaved.
type ModelSaved struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Checksum string `json:"checksum"`
	Params   int    `json:"params"`
}

// SessionsRejected is the payload of TopicSessionsRejected.
type SessionsRejected struct {
	Source   string `json:"source"`
	Rejected int    `json:"rejected"`
	Accepted int    `json:"accepted"`
}
