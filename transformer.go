// Package transformer runs a record transform between Kafka topics with many
// records in flight at once, while only ever committing offsets whose records
// have fully left the pipeline.
package transformer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/logger"
	"github.com/hugolhafner/go-transformer/otel"
	"github.com/hugolhafner/go-transformer/pipeline"
	"github.com/hugolhafner/go-transformer/runner"
)

const Version = "v0.1.0" // x-release-please-version

var (
	ErrAlreadyRunning = errors.New("application is already running")
	ErrClosed         = errors.New("application is closed")
	ErrNotStarted     = errors.New("application has not started")
)

type Config struct {
	Logger    logger.Logger
	Telemetry *otel.Telemetry
}

type ConfigOption func(*Config)

func WithLogger(logger logger.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = logger
	}
}

func WithTelemetry(t *otel.Telemetry) ConfigOption {
	return func(c *Config) {
		c.Telemetry = t
	}
}

func defaultConfig() Config {
	return Config{
		Logger:    logger.NewNoopLogger(),
		Telemetry: otel.Noop(),
	}
}

// Application runs one pipeline between a consumer and a producer.
type Application struct {
	pipeline *pipeline.Pipeline
	config   Config

	consumer kafka.Consumer
	producer kafka.Producer
	logger   logger.Logger

	mu        sync.Mutex
	running   bool
	runner    runner.Runner
	closeOnce sync.Once
	closedCh  chan struct{}
}

func NewApplication(
	consumer kafka.Consumer, producer kafka.Producer, p *pipeline.Pipeline, opts ...ConfigOption,
) (*Application, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return NewApplicationWithConfig(consumer, producer, p, config)
}

func NewApplicationWithConfig(
	consumer kafka.Consumer, producer kafka.Producer, p *pipeline.Pipeline, config Config,
) (*Application, error) {
	if p == nil {
		return nil, errors.New("pipeline is required")
	}
	if consumer == nil || producer == nil {
		return nil, errors.New("consumer and producer are required")
	}
	if config.Logger == nil {
		config.Logger = logger.NewNoopLogger()
	}
	if config.Telemetry == nil {
		config.Telemetry = otel.Noop()
	}

	return &Application{
		pipeline: p,
		config:   config,
		consumer: consumer,
		producer: producer,
		logger:   config.Logger,
		closedCh: make(chan struct{}),
	}, nil
}

// Run runs the pipeline with an AsyncRunner using default settings.
func (a *Application) Run(ctx context.Context) error {
	return a.RunWith(
		ctx, runner.NewAsyncRunner(
			runner.WithLogger(a.logger),
		),
	)
}

// RunWith runs the pipeline with the runner built by factory. It returns when
// ctx is cancelled, Close is called or the runner stops on a fatal error.
func (a *Application) RunWith(ctx context.Context, factory runner.Factory) error {
	if err := a.startRunning(); err != nil {
		return err
	}
	defer a.Close()

	r, err := factory(a.pipeline, a.consumer, a.producer, a.config.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}

	a.mu.Lock()
	a.runner = r
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-a.closedCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	return r.Run(runCtx)
}

// Stats returns a snapshot of the active runner.
func (a *Application) Stats() (runner.Stats, error) {
	a.mu.Lock()
	r := a.runner
	a.mu.Unlock()

	if r == nil {
		return runner.Stats{}, ErrNotStarted
	}
	return r.Stats(), nil
}

// Close stops a running application. The consumer and producer stay open and
// are closed by their owner.
func (a *Application) Close() {
	a.closeOnce.Do(
		func() {
			a.mu.Lock()
			defer a.mu.Unlock()

			a.running = false
			close(a.closedCh)
		},
	)
}

func (a *Application) startRunning() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrAlreadyRunning
	}

	select {
	case <-a.closedCh:
		return ErrClosed
	default:
	}

	a.running = true
	return nil
}
