package bus

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricesearch/rice-clickmodels/internal/config"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), TopicIterationCompleted, func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		event := NewEvent(TopicIterationCompleted, "test", IterationCompleted{Model: "dbn", Iteration: i + 1})
		if err := bus.Publish(context.Background(), TopicIterationCompleted, event); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for events")
	}

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_TopicsAreIsolated(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var started, completed atomic.Int32
	bus.Subscribe(context.Background(), TopicTrainStarted, func(context.Context, Event) error {
		started.Add(1)
		return nil
	})
	bus.Subscribe(context.Background(), TopicTrainCompleted, func(context.Context, Event) error {
		completed.Add(1)
		return nil
	})

	bus.Publish(context.Background(), TopicTrainStarted, NewEvent(TopicTrainStarted, "test", nil))
	if !bus.Drain(time.Second) {
		t.Fatal("Drain() timed out")
	}

	if started.Load() != 1 || completed.Load() != 0 {
		t.Errorf("started = %d, completed = %d", started.Load(), completed.Load())
	}
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	if err := bus.Publish(context.Background(), TopicModelSaved, NewEvent(TopicModelSaved, "test", nil)); err != nil {
		t.Errorf("Publish() without subscribers error = %v", err)
	}
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus(nil)
	bus.Close()

	err := bus.Publish(context.Background(), TopicTrainStarted, Event{})
	if !errors.HasCode(err, errors.CodeUnavailable) {
		t.Errorf("Publish() after close error = %v", err)
	}
	if err := bus.Subscribe(context.Background(), TopicTrainStarted, nil); err == nil {
		t.Error("Subscribe() after close expected error")
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestMemoryBus_CloseWaitsForHandlers(t *testing.T) {
	bus := NewMemoryBus(nil)

	var finished atomic.Bool
	bus.Subscribe(context.Background(), TopicTrainCompleted, func(context.Context, Event) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	bus.Publish(context.Background(), TopicTrainCompleted, Event{})
	bus.Close()

	if !finished.Load() {
		t.Error("Close() returned before the handler finished")
	}
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(TopicTrainStarted, "trainer", TrainStarted{Model: "ubm"})
	b := NewEvent(TopicTrainStarted, "trainer", TrainStarted{Model: "ubm"})

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("event IDs %q and %q must be unique", a.ID, b.ID)
	}
	if a.Type != TopicTrainStarted || a.Source != "trainer" || a.Timestamp == 0 {
		t.Errorf("NewEvent() = %+v", a)
	}
}

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "journal.jsonl")
	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}

	inner := NewMemoryBus(nil)
	bus := NewJournaledBus(inner, journal, nil)

	since := time.Now().Add(-time.Minute)
	for _, topic := range Topics() {
		if err := bus.Publish(context.Background(), topic, NewEvent(topic, "test", map[string]int{"n": 1})); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := journal.Entries(since, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(Topics()) {
		t.Fatalf("Entries() returned %d entries, want %d", len(entries), len(Topics()))
	}
	for i, topic := range Topics() {
		if entries[i].Topic != topic || entries[i].Event.Type != topic {
			t.Errorf("entry %d = %+v", i, entries[i])
		}
	}

	if limited, _ := journal.Entries(since, 2); len(limited) != 2 {
		t.Errorf("Entries(limit 2) returned %d", len(limited))
	}
	if later, _ := journal.Entries(time.Now().Add(time.Minute), 0); len(later) != 0 {
		t.Errorf("Entries(future) returned %d", len(later))
	}

	target := NewMemoryBus(nil)
	defer target.Close()
	var replayed atomic.Int32
	for _, topic := range Topics() {
		target.Subscribe(context.Background(), topic, func(context.Context, Event) error {
			replayed.Add(1)
			return nil
		})
	}
	if err := journal.Replay(context.Background(), target, since); err != nil {
		t.Fatal(err)
	}
	target.Drain(time.Second)
	if got := int(replayed.Load()); got != len(Topics()) {
		t.Errorf("replayed %d events, want %d", got, len(Topics()))
	}

	if err := bus.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := journal.Append(TopicTrainStarted, Event{}); err == nil {
		t.Error("Append() after close expected error")
	}
}

type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) RecordBusPublish(topic string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
}

func TestInstrumentedBus(t *testing.T) {
	rec := &recorder{}
	bus := NewInstrumentedBus(NewMemoryBus(nil), rec)
	defer bus.Close()

	bus.Publish(context.Background(), TopicTrainStarted, Event{})
	bus.Publish(context.Background(), TopicModelSaved, Event{})

	if len(rec.topics) != 2 || rec.topics[0] != TopicTrainStarted || rec.topics[1] != TopicModelSaved {
		t.Errorf("recorded topics = %v", rec.topics)
	}
}

func TestNewBus(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BusConfig
		wantErr bool
	}{
		{"memory", config.BusConfig{Type: "memory"}, false},
		{"default", config.BusConfig{}, false},
		{"journaled", config.BusConfig{Type: "memory", Journal: filepath.Join(t.TempDir(), "j.jsonl")}, false},
		{"kafka without brokers", config.BusConfig{Type: "kafka"}, true},
		{"unknown", config.BusConfig{Type: "carrier-pigeon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBus(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != nil {
				b.Close()
			}
		})
	}
}

func TestPayloadEncoding(t *testing.T) {
	event := NewEvent(TopicTrainCompleted, "trainer", TrainCompleted{Model: "dbn", Iterations: 7, Converged: true})
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	var decoded struct {
		Type    string         `json:"type"`
		Payload TrainCompleted `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != TopicTrainCompleted || decoded.Payload.Iterations != 7 || !decoded.Payload.Converged {
		t.Errorf("decoded = %+v", decoded)
	}
}
