// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Training and inference
	Train TrainConfig `yaml:"train"`

	// Model snapshot persistence
	Store StoreConfig `yaml:"store"`

	// Training lifecycle events
	Bus BusConfig `yaml:"bus"`

	// Prediction server
	Server ServerConfig `yaml:"server"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// TrainConfig controls estimation.
type TrainConfig struct {
	MaxRank       int     `envconfig:"RCM_MAX_RANK" yaml:"max_rank"`
	MaxIterations int     `envconfig:"RCM_MAX_ITERATIONS" yaml:"max_iterations"`
	Tolerance     float64 `envconfig:"RCM_TOLERANCE" yaml:"tolerance"`
	Workers       int     `envconfig:"RCM_WORKERS" yaml:"workers"`
	// NoClickPolicy decides whether sessions without clicks feed MLE counts:
	// "include" or "skip".
	NoClickPolicy string `envconfig:"RCM_NO_CLICK_POLICY" yaml:"no_click_policy"`
	// Models is a comma separated list of model names or model set names.
	Models string `envconfig:"RCM_MODELS" yaml:"models"`
	// TrainFraction is the share of sessions used for training when a single
	// log file is split into train and test parts.
	TrainFraction float64 `envconfig:"RCM_TRAIN_FRACTION" yaml:"train_fraction"`
	// FilterTestQueries drops test sessions whose query never appears in
	// the training sessions.
	FilterTestQueries bool `envconfig:"RCM_FILTER_TEST_QUERIES" yaml:"filter_test_queries"`
}

// StoreConfig holds model store settings.
type StoreConfig struct {
	Type     string `envconfig:"RCM_STORE_TYPE" yaml:"type"`
	Path     string `envconfig:"RCM_STORE_PATH" yaml:"path"`
	RedisURL string `envconfig:"RCM_REDIS_URL" yaml:"redis_url"`
	Prefix   string `envconfig:"RCM_STORE_PREFIX" yaml:"prefix"`
	// CacheSize is the diskv in-memory cache in bytes.
	CacheSize uint64 `envconfig:"RCM_STORE_CACHE_SIZE" yaml:"cache_size"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"RCM_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"RCM_KAFKA_BROKERS" yaml:"kafka_brokers"`
	TopicPrefix  string `envconfig:"RCM_TOPIC_PREFIX" yaml:"topic_prefix"`
	ClientID     string `envconfig:"RCM_KAFKA_CLIENT_ID" yaml:"client_id"`
	// Journal is an optional JSON lines file receiving every published event.
	Journal string `envconfig:"RCM_EVENT_JOURNAL" yaml:"journal"`
}

// ServerConfig holds HTTP prediction server settings.
type ServerConfig struct {
	Host       string  `envconfig:"RCM_HOST" yaml:"host"`
	Port       int     `envconfig:"RCM_PORT" yaml:"port"`
	RateLimit  float64 `envconfig:"RCM_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
	RateBurst  int     `envconfig:"RCM_RATE_BURST" yaml:"rate_burst"`
	ModelCache int     `envconfig:"RCM_MODEL_CACHE" yaml:"model_cache"`
	// WatchStore evicts cached models when their snapshot files change.
	// Only disk stores can be watched.
	WatchStore bool `envconfig:"RCM_WATCH_STORE" yaml:"watch_store"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"RCM_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"RCM_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Environment has the highest priority
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	cfg.Train = TrainConfig{
		MaxRank:       10,
		MaxIterations: 50,
		Tolerance:     1e-4,
		Workers:       4,
		NoClickPolicy: "include",
		Models:        "test",
		TrainFraction: 0.75,
	}

	cfg.Store = StoreConfig{
		Type:      "disk",
		Path:      "./clickmodels",
		RedisURL:  "redis://localhost:6379",
		Prefix:    "rcm:",
		CacheSize: 16 << 20,
	}

	cfg.Bus = BusConfig{
		Type:        "memory",
		TopicPrefix: "clickmodels.",
		ClientID:    "rice-clickmodels",
	}

	cfg.Server = ServerConfig{
		Host:       "0.0.0.0",
		Port:       8090,
		RateLimit:  0,
		RateBurst:  100,
		ModelCache: 16,
		WatchStore: true,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Train.MaxRank < 1 {
		errs = append(errs, "max_rank must be positive")
	}

	if c.Train.MaxIterations < 1 {
		errs = append(errs, "max_iterations must be positive")
	}

	if c.Train.Tolerance < 0 {
		errs = append(errs, "tolerance must not be negative")
	}

	if c.Train.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}

	validPolicies := map[string]bool{"include": true, "skip": true}
	if !validPolicies[c.Train.NoClickPolicy] {
		errs = append(errs, fmt.Sprintf("invalid no_click_policy: %s (must be include or skip)", c.Train.NoClickPolicy))
	}

	if c.Train.TrainFraction <= 0 || c.Train.TrainFraction > 1 {
		errs = append(errs, "train_fraction must be in (0, 1]")
	}

	validStoreTypes := map[string]bool{"memory": true, "disk": true, "redis": true}
	if !validStoreTypes[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("invalid store type: %s (must be memory, disk, or redis)", c.Store.Type))
	}

	if c.Store.Type == "disk" && c.Store.Path == "" {
		errs = append(errs, "store path is required for disk store")
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && c.Bus.KafkaBrokers == "" {
		errs = append(errs, "kafka_brokers is required for kafka bus")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, "rate_limit must not be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ModelNames splits the configured model list.
func (c *Config) ModelNames() []string {
	var names []string
	for _, n := range strings.Split(c.Train.Models, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Brokers splits the configured Kafka broker list.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.Bus.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
