package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/ricesearch/rice-clickmodels/internal/pkg/logger"
)

func TestKafkaConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     KafkaConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			cfg:     KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "test-group"},
			wantErr: false,
		},
		{
			name:    "empty brokers",
			cfg:     KafkaConfig{ConsumerGroup: "test-group"},
			wantErr: true,
		},
		{
			name:    "empty consumer group",
			cfg:     KafkaConfig{Brokers: []string{"localhost:9092"}},
			wantErr: true,
		},
		{
			name:    "invalid kafka version",
			cfg:     KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "test-group", Version: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			_, err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (cfg.ClientID == "" || cfg.Version == "") {
				t.Errorf("defaults not applied: %+v", cfg)
			}
		})
	}
}

func TestSaramaConfig_Valid(t *testing.T) {
	cfg := KafkaConfig{Brokers: []string{"localhost:9092"}, ConsumerGroup: "g"}
	version, err := cfg.validate()
	if err != nil {
		t.Fatal(err)
	}
	if err := saramaConfig(cfg, version).Validate(); err != nil {
		t.Errorf("sarama config invalid: %v", err)
	}
}

func newMockBus(t *testing.T, producer sarama.SyncProducer) *KafkaBus {
	t.Helper()
	return &KafkaBus{
		config:       KafkaConfig{TopicPrefix: "clickmodels."},
		producer:     producer,
		log:          logger.Discard(),
		handlers:     make(map[string][]Handler),
		consumerStop: make(chan struct{}),
	}
}

func TestKafkaBus_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "clickmodels."+TopicModelSaved {
			return fmt.Errorf("topic = %s", msg.Topic)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event Event
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.Type != TopicModelSaved {
			return fmt.Errorf("event type = %s", event.Type)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	bus := newMockBus(t, producer)
	event := NewEvent(TopicModelSaved, "test", ModelSaved{Name: "dbn", Model: "dbn"})

	if err := bus.Publish(context.Background(), TopicModelSaved, event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := bus.Publish(context.Background(), TopicModelSaved, event); err == nil {
		t.Error("Publish() expected error from producer")
	}

	producer.Close()
}

func TestConsumerGroupHandler_Dispatch(t *testing.T) {
	bus := newMockBus(t, nil)

	var got []Event
	bus.handlers[TopicTrainCompleted] = []Handler{func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	}}

	h := &consumerGroupHandler{bus: bus, topic: TopicTrainCompleted}
	data, _ := json.Marshal(NewEvent(TopicTrainCompleted, "test", nil))
	h.dispatch(context.Background(), data)

	h.dispatch(context.Background(), []byte("not json"))

	if len(got) != 1 || got[0].Type != TopicTrainCompleted {
		t.Errorf("dispatched = %+v", got)
	}
}

func TestParseKafkaBrokers(t *testing.T) {
	got := ParseKafkaBrokers(" a:9092, b:9092 ,,")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("ParseKafkaBrokers() = %v", got)
	}
	if ParseKafkaBrokers("") != nil {
		t.Error("ParseKafkaBrokers(\"\") should be nil")
	}
}
