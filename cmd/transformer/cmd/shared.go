package cmd

import (
	"fmt"

	"github.com/google/uuid"
	transformer "github.com/hugolhafner/go-transformer"
	"github.com/hugolhafner/go-transformer/config"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/logger"
	"github.com/hugolhafner/go-transformer/plugins/zaplogger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newZapLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

// clientID builds ids of the form <name>-<role>-<instance>. A missing
// instance id is replaced by a random one.
func clientID(cfg config.Config, role string) string {
	instance := cfg.InstanceID
	if instance == "" {
		instance = uuid.NewString()
	}
	return fmt.Sprintf("%s-%s-%s", cfg.Name, role, instance)
}

type clients struct {
	consumer *kafka.KgoClient
	producer kafka.Producer
}

func (c clients) Close() {
	if c.producer != kafka.Producer(c.consumer) {
		c.producer.Close()
	}
	c.consumer.Close()
}

// newClients builds the consumer and the configured producer. The kgo driver
// shares one client for both roles.
func newClients(cfg config.Config, l logger.Logger) (clients, error) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	kgoOpts := []kafka.KgoOption{
		kafka.WithBootstrapServers(cfg.Kafka.Brokers),
		kafka.WithGroupID(cfg.Kafka.GroupID),
		kafka.WithClientID(clientID(cfg, "consumer")),
		kafka.WithPollTimeout(cfg.Kafka.PollTimeout),
		kafka.WithMaxPollRecords(cfg.Kafka.MaxPollRecords),
		kafka.WithMaxBufferedRecords(cfg.Kafka.QueueSize),
		kafka.WithLogger(l),
	}
	if cfg.Kafka.ResetToEarliest() {
		kgoOpts = append(kgoOpts, kafka.WithResetToEarliest())
	}

	consumer, err := kafka.NewKgoClient(kgoOpts...)
	if err != nil {
		return clients{}, err
	}

	if cfg.Kafka.Producer != config.DriverSarama {
		return clients{consumer: consumer, producer: consumer}, nil
	}

	producer, err := kafka.NewSaramaProducer(
		kafka.WithSaramaBootstrapServers(cfg.Kafka.Brokers),
		kafka.WithSaramaClientID(clientID(cfg, "producer")),
		kafka.WithSaramaQueueSize(cfg.Kafka.QueueSize),
		kafka.WithSaramaLogger(l),
	)
	if err != nil {
		consumer.Close()
		return clients{}, err
	}

	return clients{consumer: consumer, producer: producer}, nil
}

func loadConfig() (config.Config, *zap.Logger, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	zl, err := newZapLogger(cfg.Log)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	l := zaplogger.New(zl).With("app", cfg.Name, "version", transformer.Version)
	return cfg, zl, l, nil
}
