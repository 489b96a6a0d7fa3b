package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugolhafner/go-transformer/committer"
	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/logger"
	transformerotel "github.com/hugolhafner/go-transformer/otel"
	"github.com/hugolhafner/go-transformer/pipeline"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

var _ Runner = (*AsyncRunner)(nil)
var _ kafka.RebalanceCallback = (*AsyncRunner)(nil)

// AsyncRunner polls records on a single goroutine and runs the transform of
// each record on its own goroutine. A global gate bounds the records in the
// pipeline, so polling stalls once MaxOutstanding records are outstanding.
// Any fatal error stops polling, drains in-flight work and is returned by Run.
type AsyncRunner struct {
	consumer  kafka.Consumer
	producer  kafka.Producer
	pipeline  *pipeline.Pipeline
	config    AsyncConfig
	committer committer.Committer

	errorHandler errorhandler.Handler
	gate         *gate
	scheduler    *scheduler
	stats        counters

	state      atomic.Int32
	dispatched atomic.Bool

	coordinators map[kafka.TopicPartition]*partitionCoordinator
	revoked      map[kafka.TopicPartition]struct{}
	// assignedAt is the assignment generation that last assigned each
	// partition. Records polled before it belong to an older assignment.
	assignedAt map[kafka.TopicPartition]uint64
	generation uint64
	mu         sync.RWMutex

	// inflight counts transform goroutines across all partitions
	inflight sync.WaitGroup
	workCtx  context.Context

	cancel   context.CancelCauseFunc
	failOnce sync.Once
	failMu   sync.Mutex
	failErr  error

	logger    logger.Logger
	telemetry *transformerotel.Telemetry
}

// NewAsyncRunner creates a factory function for AsyncRunner
func NewAsyncRunner(opts ...AsyncOption) Factory {
	config := defaultAsyncConfig()
	for _, opt := range opts {
		opt.applyAsync(&config)
	}

	return func(
		p *pipeline.Pipeline,
		consumer kafka.Consumer,
		producer kafka.Producer,
		telemetry *transformerotel.Telemetry,
	) (Runner, error) {
		if p == nil {
			return nil, errors.New("runner: pipeline is required")
		}
		if p.IsGenerator() {
			return nil, errors.New("runner: generator pipelines run with NewGeneratorRunner")
		}
		if consumer == nil || producer == nil {
			return nil, errors.New("runner: consumer and producer are required")
		}
		if telemetry == nil {
			telemetry = transformerotel.Noop()
		}

		l := config.Logger.With(
			"component", "runner",
			"runner", "async",
			"pipeline", p.Name(),
		)

		c := config.Committer
		if c == nil {
			c = committer.NewPeriodicCommitter()
		}

		r := &AsyncRunner{
			consumer:     consumer,
			producer:     producer,
			pipeline:     p,
			config:       config,
			committer:    c,
			errorHandler: config.errorHandler(l),
			gate:         newGate(config.MaxOutstanding),
			coordinators: make(map[kafka.TopicPartition]*partitionCoordinator),
			revoked:      make(map[kafka.TopicPartition]struct{}),
			assignedAt:   make(map[kafka.TopicPartition]uint64),
			logger:       l,
			telemetry:    telemetry,
		}

		r.scheduler = &scheduler{
			policy: config.OrderPolicy,
			sink: &sink{
				producer:     producer,
				pipeline:     p,
				backpressure: config.BackpressureBackoff,
				retry:        config.RetryBackoff,
				handler:      r.errorHandler,
				stats:        &r.stats,
				telemetry:    telemetry,
				logger:       l.With("component", "sink"),
			},
		}

		return r, nil
	}
}

// Run subscribes to the input topics and processes records until ctx is
// cancelled or a fatal error occurs. Cancelling ctx returns nil once in-flight
// work has drained; a fatal error is returned as *FatalError.
func (r *AsyncRunner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	r.cancel = cancel

	// transforms and emission outlive the poll loop so they can drain
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer workCancel()
	r.workCtx = workCtx

	topics := r.pipeline.InputTopics()
	if err := r.consumer.Subscribe(topics, r); err != nil {
		r.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	r.logger.Info(
		"Async runner started",
		"topics", topics,
		"output_topic", r.pipeline.OutputTopic(),
		"max_outstanding", r.config.MaxOutstanding,
		"order_policy", r.config.OrderPolicy.String(),
	)

	r.loop(runCtx)

	r.state.Store(int32(StateDraining))
	r.shutdown(workCancel)
	r.state.Store(int32(StateStopped))

	if err := r.fatalErr(); err != nil {
		r.logger.Error("Async runner stopped with fatal error", "error", err)
		return &FatalError{Cause: err}
	}

	r.logger.Info("Async runner stopped")
	return nil
}

// fail records the first fatal error and stops the poll loop.
func (r *AsyncRunner) fail(err error) {
	r.failOnce.Do(
		func() {
			r.failMu.Lock()
			r.failErr = err
			r.failMu.Unlock()

			r.logger.Error("Fatal error, stopping runner", "error", err)
			if r.cancel != nil {
				r.cancel(err)
			}
		},
	)
}

func (r *AsyncRunner) fatalErr() error {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	return r.failErr
}

func (r *AsyncRunner) loop(ctx context.Context) {
	var errAttempts uint
	for ctx.Err() == nil {
		err := r.doPoll(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			errAttempts = 0
			r.maybeCommit(ctx)
			continue
		}

		backoffNeeded, fatal := r.handlePollError(ctx, err)
		if fatal {
			r.fail(err)
			return
		}
		if !backoffNeeded {
			continue
		}

		r.logger.Warn("Poll error, backing off", "error", err, "attempt", errAttempts+1)
		if wait(ctx, r.config.PollErrorBackoff.Next(errAttempts)) != nil {
			return
		}
		errAttempts++
	}
}

// doPoll polls once and dispatches every returned record, even when Poll
// also returned an error. The poll error is returned after the records.
func (r *AsyncRunner) doPoll(ctx context.Context) error {
	tel := r.telemetry
	pollStart := time.Now()

	pollCtx, receiveSpan := tel.Tracer.Start(
		ctx, "receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeReceive,
		),
	)
	records, pollErr := r.consumer.Poll(pollCtx)
	generation := r.assignmentGeneration()

	status := transformerotel.StatusSuccess
	if pollErr != nil {
		status = transformerotel.StatusError
		receiveSpan.RecordError(pollErr)
	}
	tel.PollDuration.Record(
		ctx, time.Since(pollStart).Seconds(), metric.WithAttributes(
			transformerotel.AttrPollStatus.String(status),
		),
	)
	receiveSpan.SetAttributes(semconv.MessagingBatchMessageCount(len(records)))
	receiveSpan.End()

	if len(records) > 0 {
		r.logger.Debug("Polled records", "count", len(records))
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			// not dispatched, so the resume offset stays below them
			return nil
		}

		tel.MessagesConsumed.Add(
			ctx, 1, metric.WithAttributes(
				semconv.MessagingDestinationName(rec.Topic),
				semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(rec.Partition), 10)),
			),
		)

		if err := r.process(ctx, rec, generation); err != nil {
			r.fail(err)
			return nil
		}
	}

	if pollErr != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to poll: %w", pollErr)
	}
	return nil
}

// process decodes rec and dispatches it. It blocks on the gate while
// MaxOutstanding records are outstanding. generation is the assignment
// generation the record was polled under. The returned error is fatal.
func (r *AsyncRunner) process(ctx context.Context, rec kafka.ConsumerRecord, generation uint64) error {
	tp := rec.TopicPartition()

	in, err := r.pipeline.Decode(rec)
	if err != nil {
		ec := errorhandler.NewErrorContext(rec, err).
			WithPhase(errorhandler.PhaseSerde).
			WithDispatched(r.dispatched.Load())

		action := handleError(ctx, r.errorHandler, r.telemetry, ec)
		skip, dlqErr := r.scheduler.sink.skipOrDeadLetter(ctx, action, rec, ec)
		if dlqErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return dlqErr
		}
		if !skip {
			return err
		}

		if c := r.coordinatorFor(tp, generation); c != nil {
			c.Skip(rec)
		}
		return nil
	}

	if err := r.gate.Acquire(ctx); err != nil {
		return nil
	}

	c := r.coordinatorFor(tp, generation)
	if c == nil {
		r.gate.Release(1)
		r.logger.Warn("Dropping record for revoked partition", "topic", tp.Topic, "partition", tp.Partition)
		return nil
	}

	r.telemetry.InFlight.Add(ctx, 1)
	if err := c.Dispatch(r.workCtx, rec, in); err != nil {
		r.gate.Release(1)
		r.telemetry.InFlight.Add(ctx, -1)

		if errors.Is(err, errPartitionRevoked) {
			r.logger.Warn("Dropping record for revoked partition", "topic", tp.Topic, "partition", tp.Partition)
			return nil
		}
		return err
	}

	r.dispatched.Store(true)
	return nil
}

// handlePollError classifies a poll error. Client side deserialization
// failures follow the serde handler, the rest the consume handler.
func (r *AsyncRunner) handlePollError(ctx context.Context, err error) (backoffNeeded, fatal bool) {
	phase := errorhandler.PhaseConsume
	if ce, ok := kafka.AsConsumeError(err); ok && ce.Kind == kafka.ErrorKindDeserialization {
		phase = errorhandler.PhaseSerde
	}

	ec := errorhandler.NewErrorContext(kafka.ConsumerRecord{}, err).
		WithPhase(phase).
		WithDispatched(r.dispatched.Load())

	switch handleError(ctx, r.errorHandler, r.telemetry, ec).Type() {
	// a failed poll has no record to dead letter
	case errorhandler.ActionTypeContinue, errorhandler.ActionTypeSendToDLQ:
		return phase == errorhandler.PhaseConsume, false
	case errorhandler.ActionTypeRetry:
		return true, false
	default:
		return false, true
	}
}

func (r *AsyncRunner) maybeCommit(ctx context.Context) {
	if !r.committer.TryCommit() {
		return
	}

	// results must be delivered before the offsets past them are committed
	if err := r.producer.Flush(ctx); err != nil {
		r.committer.UnlockCommit(false)
		if ctx.Err() == nil {
			r.fail(fmt.Errorf("flush producer: %w", err))
		}
		return
	}

	err := r.consumer.Commit(ctx)
	r.committer.UnlockCommit(err == nil)
	if err != nil {
		r.logger.Warn("Failed to commit offsets", "error", err)
		return
	}
	r.logger.Debug("Committed offsets")
}

func (r *AsyncRunner) assignmentGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// coordinatorFor returns the coordinator of tp, creating it on first use.
// It returns nil for revoked partitions and for records polled before the
// partition's latest assignment, whose offsets a new ledger must not see.
func (r *AsyncRunner) coordinatorFor(tp kafka.TopicPartition, generation uint64) *partitionCoordinator {
	r.mu.RLock()
	c, ok := r.coordinators[tp]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, revoked := r.revoked[tp]; revoked {
		return nil
	}
	if r.assignedAt[tp] > generation {
		return nil
	}
	if c, ok := r.coordinators[tp]; ok {
		return c
	}

	c = &partitionCoordinator{
		tp:        tp,
		pipeline:  r.pipeline,
		consumer:  r.consumer,
		gate:      r.gate,
		scheduler: r.scheduler,
		handler:   r.errorHandler,
		committer: r.committer,
		fail:      r.fail,
		inflight:  &r.inflight,
		stats:     &r.stats,
		telemetry: r.telemetry,
		logger: r.logger.With(
			"component", "partition",
			"topic", tp.Topic,
			"partition", tp.Partition,
		),
		ledger: newLedger(r.config.MaxOutstanding),
	}
	r.coordinators[tp] = c

	r.telemetry.PartitionsActive.Add(context.Background(), 1)
	r.logger.Debug("Created partition coordinator", "topic", tp.Topic, "partition", tp.Partition)
	return c
}

func (r *AsyncRunner) OnAssigned(ctx context.Context, partitions []kafka.TopicPartition) {
	r.logger.Info("Partitions assigned", "partitions", partitions)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	for _, tp := range partitions {
		delete(r.revoked, tp)
		r.assignedAt[tp] = r.generation
	}
}

// OnRevoked stops dispatching to the partitions, waits up to DrainTimeout for
// their transforms so the final resume offsets are recorded, then drops their
// state and flushes the producer. Records already polled for them are dropped.
func (r *AsyncRunner) OnRevoked(ctx context.Context, partitions []kafka.TopicPartition) {
	r.logger.Info("Partitions revoked", "partitions", partitions)

	r.mu.Lock()
	toDrain := make([]*partitionCoordinator, 0, len(partitions))
	for _, tp := range partitions {
		r.revoked[tp] = struct{}{}
		if c, ok := r.coordinators[tp]; ok {
			toDrain = append(toDrain, c)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range toDrain {
		wg.Add(1)
		go func(c *partitionCoordinator) {
			defer wg.Done()
			if !c.revoke(r.config.DrainTimeout) {
				r.logger.Warn(
					"Timeout waiting for revoked partition to drain",
					"topic", c.tp.Topic,
					"partition", c.tp.Partition,
				)
			}
		}(c)
	}
	wg.Wait()

	r.mu.Lock()
	for _, c := range toDrain {
		delete(r.coordinators, c.tp)
	}
	r.mu.Unlock()

	r.telemetry.PartitionsActive.Add(ctx, -int64(len(toDrain)))

	// the client commits the final marks once this returns
	flushCtx, cancel := context.WithTimeout(ctx, r.config.ShutdownTimeout)
	defer cancel()

	if err := r.producer.Flush(flushCtx); err != nil {
		r.logger.Error("Failed to flush producer on revoke", "error", err)
		r.fail(fmt.Errorf("flush producer on revoke: %w", err))
	}

	r.logger.Debug("Completed handling partition revocation")
}

// shutdown waits for in-flight transforms, flushes the producer and commits
// the final resume offsets.
func (r *AsyncRunner) shutdown(workCancel context.CancelFunc) {
	r.logger.Info("Draining in-flight transforms", "inflight", r.gate.InUse())

	if !waitTimeout(&r.inflight, r.config.DrainTimeout) {
		r.logger.Warn("Timeout draining in-flight transforms, cancelling them", "inflight", r.gate.InUse())
		workCancel()
		if !waitTimeout(&r.inflight, r.config.ShutdownTimeout) {
			r.logger.Error("In-flight transforms did not stop after cancellation")
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
	defer flushCancel()

	if err := r.producer.Flush(flushCtx); err != nil {
		r.logger.Error("Failed to flush producer during shutdown", "error", err)
		r.fail(fmt.Errorf("flush producer: %w", err))
		return
	}

	commitCtx, commitCancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
	defer commitCancel()

	if err := r.consumer.Commit(commitCtx); err != nil {
		r.logger.Error("Failed to commit offsets during shutdown", "error", err)
	}
}

// Stats returns a point in time view of the runner.
func (r *AsyncRunner) Stats() Stats {
	s := Stats{
		State:          State(r.state.Load()),
		MaxOutstanding: r.gate.Capacity(),
		InFlight:       r.gate.InUse(),
	}
	r.stats.fill(&s)

	r.mu.RLock()
	coordinators := make([]*partitionCoordinator, 0, len(r.coordinators))
	for _, c := range r.coordinators {
		coordinators = append(coordinators, c)
	}
	r.mu.RUnlock()

	s.Partitions = make(map[kafka.TopicPartition]PartitionStats, len(coordinators))
	for _, c := range coordinators {
		s.Partitions[c.tp] = c.snapshot()
	}

	return s
}
