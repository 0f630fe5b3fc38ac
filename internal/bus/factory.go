package bus

import (
	"fmt"
	"strings"

	"github.com/ricesearch/rice-clickmodels/internal/config"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/errors"
	"github.com/ricesearch/rice-clickmodels/internal/pkg/logger"
)

// NewBus creates a new Bus instance based on the configuration. When
// cfg.Journal is set, published events are also appended to that file.
func NewBus(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	var b Bus
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		b = NewMemoryBus(log)

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}

		clientID := cfg.ClientID
		if clientID == "" {
			clientID = "rice-clickmodels"
		}

		kb, err := NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: clientID,
			ClientID:      clientID,
			TopicPrefix:   cfg.TopicPrefix,
		}, log)
		if err != nil {
			return nil, err
		}
		b = kb

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}

	if cfg.Journal == "" {
		return b, nil
	}
	journal, err := OpenJournal(cfg.Journal)
	if err != nil {
		b.Close()
		return nil, errors.BusError("opening event journal", err)
	}
	return NewJournaledBus(b, journal, log), nil
}

// ParseKafkaBrokers parses a comma-separated string of Kafka brokers.
func ParseKafkaBrokers(brokersStr string) []string {
	var brokers []string
	for _, b := range strings.Split(brokersStr, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
