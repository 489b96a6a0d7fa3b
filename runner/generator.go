package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/logger"
	transformerotel "github.com/hugolhafner/go-transformer/otel"
	"github.com/hugolhafner/go-transformer/pipeline"
)

var _ Runner = (*GeneratorRunner)(nil)

// GeneratorRunner calls the function of a generator pipeline in a loop and
// publishes each result to the output topic, one at a time and in call order.
// A full producer queue is retried like the AsyncRunner's sends.
type GeneratorRunner struct {
	pipeline *pipeline.Pipeline
	producer kafka.Producer
	config   AsyncConfig

	errorHandler errorhandler.Handler
	sink         *sink
	stats        counters
	state        atomic.Int32

	logger    logger.Logger
	telemetry *transformerotel.Telemetry
}

// NewGeneratorRunner creates a factory for GeneratorRunner. The consumer is
// not used and may be nil. Of the options, the logger, error handlers,
// backoffs and ShutdownTimeout apply.
func NewGeneratorRunner(opts ...AsyncOption) Factory {
	config := defaultAsyncConfig()
	for _, opt := range opts {
		opt.applyAsync(&config)
	}

	return func(
		p *pipeline.Pipeline,
		_ kafka.Consumer,
		producer kafka.Producer,
		telemetry *transformerotel.Telemetry,
	) (Runner, error) {
		if p == nil || !p.IsGenerator() {
			return nil, errors.New("runner: a generator pipeline is required")
		}
		if producer == nil {
			return nil, errors.New("runner: producer is required")
		}
		if telemetry == nil {
			telemetry = transformerotel.Noop()
		}

		l := config.Logger.With(
			"component", "runner",
			"runner", "generator",
			"pipeline", p.Name(),
		)

		g := &GeneratorRunner{
			pipeline:     p,
			producer:     producer,
			config:       config,
			errorHandler: config.errorHandler(l),
			logger:       l,
			telemetry:    telemetry,
		}
		g.sink = &sink{
			producer:     producer,
			pipeline:     p,
			backpressure: config.BackpressureBackoff,
			retry:        config.RetryBackoff,
			handler:      g.errorHandler,
			stats:        &g.stats,
			telemetry:    telemetry,
			logger:       l.With("component", "sink"),
		}

		return g, nil
	}
}

// Run publishes until ctx is cancelled or a fatal error occurs, then flushes
// the producer. Cancelling ctx returns nil.
func (g *GeneratorRunner) Run(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	g.logger.Info("Generator runner started", "output_topic", g.pipeline.OutputTopic())

	err := g.loop(ctx)

	g.state.Store(int32(StateDraining))
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.config.ShutdownTimeout)
	defer cancel()

	if ferr := g.producer.Flush(flushCtx); ferr != nil && err == nil {
		err = fmt.Errorf("flush producer: %w", ferr)
	}
	g.state.Store(int32(StateStopped))

	if err != nil {
		g.logger.Error("Generator runner stopped with fatal error", "error", err)
		return &FatalError{Cause: err}
	}

	g.logger.Info("Generator runner stopped")
	return nil
}

func (g *GeneratorRunner) loop(ctx context.Context) error {
	for seq := int64(0); ctx.Err() == nil; seq++ {
		it, err := g.generate(ctx, seq)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if it == nil {
			continue
		}

		g.stats.dispatched.Add(1)
		if err := g.sink.emit(ctx, it); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	return nil
}

// generate calls the function, retrying while the processing error handler
// asks for it. It returns nil when the handler skips the failure.
func (g *GeneratorRunner) generate(ctx context.Context, seq int64) (*pendingItem, error) {
	for attempt := 1; ; attempt++ {
		out, err := g.pipeline.Transform(ctx, nil)
		if err == nil {
			return &pendingItem{offset: seq, result: out}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{Offset: seq}, err).
			WithPhase(errorhandler.PhaseProcessing).
			WithAttempt(attempt).
			WithDispatched(true)

		// there is no input record to dead letter
		switch handleError(ctx, g.errorHandler, g.telemetry, ec).Type() {
		case errorhandler.ActionTypeRetry:
			if werr := wait(ctx, g.sink.retry.Next(uint(attempt))); werr != nil {
				return nil, werr
			}
		case errorhandler.ActionTypeContinue, errorhandler.ActionTypeSendToDLQ:
			g.stats.skipped.Add(1)
			return nil, nil
		default:
			return nil, pipeline.NewTransformError(err, kafka.TopicPartition{}, seq)
		}
	}
}

func (g *GeneratorRunner) Stats() Stats {
	s := Stats{
		State:      State(g.state.Load()),
		Partitions: map[kafka.TopicPartition]PartitionStats{},
	}
	g.stats.fill(&s)
	return s
}

func (g *GeneratorRunner) OnAssigned(context.Context, []kafka.TopicPartition) {}

func (g *GeneratorRunner) OnRevoked(context.Context, []kafka.TopicPartition) {}
