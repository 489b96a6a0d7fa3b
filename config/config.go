package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/runner"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix    = "TRANSFORMER__"
	envDelimiter = "__"

	DriverKgo    = "kgo"
	DriverSarama = "sarama"
)

type KafkaConfig struct {
	Brokers     []string `koanf:"brokers"`
	GroupID     string   `koanf:"group_id"`
	InputTopics []string `koanf:"input_topics"`
	OutputTopic string   `koanf:"output_topic"`
	StartFrom   string   `koanf:"start_from"` // earliest|latest (default latest)
	// Producer selects the producer implementation: kgo or sarama.
	Producer       string        `koanf:"producer"`
	MaxPollRecords int           `koanf:"max_poll_records"`
	PollTimeout    time.Duration `koanf:"poll_timeout"`
	QueueSize      int           `koanf:"queue_size"`
}

type EngineConfig struct {
	MaxOutstanding      int           `koanf:"max_outstanding"`
	OrderPolicy         string        `koanf:"order_policy"`
	ErrorTolerance      string        `koanf:"error_tolerance"`
	BackpressureBackoff time.Duration `koanf:"backpressure_backoff"`
	PollErrorBackoff    time.Duration `koanf:"poll_error_backoff"`
	// RetryBackoff is the first wait before a retried transform or send; it
	// doubles per attempt.
	RetryBackoff        time.Duration `koanf:"retry_backoff"`
	DrainTimeout        time.Duration `koanf:"drain_timeout"`
	ShutdownTimeout     time.Duration `koanf:"shutdown_timeout"`
	CommitInterval      time.Duration `koanf:"commit_interval"`
	CommitCount         int           `koanf:"commit_count"`
}

type TransformConfig struct {
	// Name picks a builtin transform: passthrough, uppercase or drop-empty.
	Name    string        `koanf:"name"`
	Latency time.Duration `koanf:"latency"`
}

type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

type MetricsConfig struct {
	// Addr is the listen address of the Prometheus endpoint. Empty disables it.
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

type Config struct {
	Name       string          `koanf:"name"`
	InstanceID string          `koanf:"instance_id"`
	Kafka      KafkaConfig     `koanf:"kafka"`
	Engine     EngineConfig    `koanf:"engine"`
	Transform  TransformConfig `koanf:"transform"`
	Log        LogConfig       `koanf:"log"`
	Metrics    MetricsConfig   `koanf:"metrics"`
}

// Load merges the YAML file at path (if present) with environment variables
// (prefix TRANSFORMER__, nesting delimiter __), applies defaults and validates
// the result.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	envProvider := env.Provider(
		EnvPrefix, envDelimiter, func(s string) string {
			return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		},
	)
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Name == "" {
		c.Name = "transformer"
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = c.Name + "-group"
	}
	if c.Kafka.StartFrom == "" {
		c.Kafka.StartFrom = "latest"
	}
	if c.Kafka.Producer == "" {
		c.Kafka.Producer = DriverKgo
	}
	if c.Kafka.MaxPollRecords == 0 {
		c.Kafka.MaxPollRecords = 100
	}
	if c.Kafka.PollTimeout == 0 {
		c.Kafka.PollTimeout = 3 * time.Second
	}
	if c.Kafka.QueueSize == 0 {
		c.Kafka.QueueSize = 10000
	}
	if c.Engine.MaxOutstanding == 0 {
		c.Engine.MaxOutstanding = 20
	}
	if c.Engine.OrderPolicy == "" {
		c.Engine.OrderPolicy = "completion"
	}
	if c.Engine.ErrorTolerance == "" {
		c.Engine.ErrorTolerance = "none"
	}
	if c.Engine.BackpressureBackoff == 0 {
		c.Engine.BackpressureBackoff = 100 * time.Millisecond
	}
	if c.Engine.PollErrorBackoff == 0 {
		c.Engine.PollErrorBackoff = time.Second
	}
	if c.Engine.RetryBackoff == 0 {
		c.Engine.RetryBackoff = 50 * time.Millisecond
	}
	if c.Engine.DrainTimeout == 0 {
		c.Engine.DrainTimeout = 60 * time.Second
	}
	if c.Engine.ShutdownTimeout == 0 {
		c.Engine.ShutdownTimeout = 30 * time.Second
	}
	if c.Engine.CommitInterval == 0 {
		c.Engine.CommitInterval = 5 * time.Second
	}
	if c.Engine.CommitCount == 0 {
		c.Engine.CommitCount = 100
	}
	if c.Transform.Name == "" {
		c.Transform.Name = "passthrough"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	if len(c.Kafka.InputTopics) == 0 {
		errs = append(errs, errors.New("kafka.input_topics: at least one topic is required"))
	}
	if c.Kafka.OutputTopic == "" {
		errs = append(errs, errors.New("kafka.output_topic: required"))
	}
	switch c.Kafka.StartFrom {
	case "earliest", "latest":
	default:
		errs = append(errs, fmt.Errorf("kafka.start_from: %q is not earliest or latest", c.Kafka.StartFrom))
	}
	switch c.Kafka.Producer {
	case DriverKgo, DriverSarama:
	default:
		errs = append(errs, fmt.Errorf("kafka.producer: unknown driver %q", c.Kafka.Producer))
	}
	if c.Engine.MaxOutstanding < 1 {
		errs = append(errs, fmt.Errorf("engine.max_outstanding: must be at least 1, got %d", c.Engine.MaxOutstanding))
	}
	if _, err := runner.ParseOrderPolicy(c.Engine.OrderPolicy); err != nil {
		errs = append(errs, fmt.Errorf("engine.order_policy: %w", err))
	}
	if _, err := errorhandler.ParseTolerance(c.Engine.ErrorTolerance); err != nil {
		errs = append(errs, fmt.Errorf("engine.error_tolerance: %w", err))
	}
	if c.Transform.Latency < 0 {
		errs = append(errs, errors.New("transform.latency: must not be negative"))
	}

	return errors.Join(errs...)
}

// ResetToEarliest reports whether a group without committed offsets starts
// from the beginning of each partition.
func (k KafkaConfig) ResetToEarliest() bool {
	return k.StartFrom == "earliest"
}
