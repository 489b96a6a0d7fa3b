package runner

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hugolhafner/go-transformer/committer"
	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/logger"
	transformerotel "github.com/hugolhafner/go-transformer/otel"
	"github.com/hugolhafner/go-transformer/pipeline"
	"github.com/hugolhafner/go-transformer/record"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// partitionCoordinator owns the ledger of one partition. It starts a
// goroutine per dispatched record and serialises completions, scheduling and
// resume offset updates under its mutex.
type partitionCoordinator struct {
	tp        kafka.TopicPartition
	pipeline  *pipeline.Pipeline
	consumer  kafka.Consumer
	gate      *gate
	scheduler *scheduler
	handler   errorhandler.Handler
	committer committer.Committer
	fail      func(error)
	inflight  *sync.WaitGroup
	stats     *counters
	telemetry *transformerotel.Telemetry
	logger    logger.Logger

	// pending counts this partition's transform goroutines.
	pending sync.WaitGroup

	mu      sync.Mutex
	ledger  *ledger
	revoked bool
}

// Dispatch registers rec as executing and starts its transform. The caller
// holds a gate permit for it, which is released when the record leaves the
// pipeline.
func (c *partitionCoordinator) Dispatch(ctx context.Context, rec kafka.ConsumerRecord, in *record.UntypedRecord) error {
	it := &pendingItem{record: rec, offset: rec.Offset, input: in}

	c.mu.Lock()
	if c.revoked {
		c.mu.Unlock()
		return errPartitionRevoked
	}
	if err := c.ledger.Begin(it); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("dispatch %s@%d: %w", c.tp, rec.Offset, err)
	}
	c.pending.Add(1)
	c.inflight.Add(1)
	c.mu.Unlock()

	c.stats.dispatched.Add(1)
	go c.run(ctx, it)
	return nil
}

// Skip records an offset that was consumed but never dispatched, so the
// resume offset can move past it.
func (c *partitionCoordinator) Skip(rec kafka.ConsumerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.revoked {
		return
	}

	c.ledger.Skip(rec.Offset, rec.LeaderEpoch)
	c.stats.skipped.Add(1)
	c.markResume(context.Background())
}

func (c *partitionCoordinator) run(ctx context.Context, it *pendingItem) {
	defer c.inflight.Done()
	defer c.pending.Done()

	headers := it.record.Headers
	ctx = c.telemetry.Propagator.Extract(ctx, transformerotel.NewKafkaHeadersCarrier(&headers))

	ctx, span := c.telemetry.Tracer.Start(
		ctx, it.record.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeProcess,
			semconv.MessagingDestinationName(it.record.Topic),
			semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(it.record.Partition), 10)),
			semconv.MessagingKafkaOffsetKey.Int64(it.offset),
			transformerotel.AttrPipeline.String(c.pipeline.Name()),
		),
	)
	defer span.End()

	start := time.Now()
	out, attempts, err := c.transform(ctx, it)

	status := transformerotel.StatusSuccess
	switch {
	case err != nil:
		status = transformerotel.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case out == nil:
		status = transformerotel.StatusFiltered
	}

	span.SetAttributes(attribute.Int("transformer.transform.attempts", attempts))
	c.telemetry.TransformDuration.Record(
		ctx, time.Since(start).Seconds(), metric.WithAttributes(
			semconv.MessagingDestinationName(it.record.Topic),
			semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(it.record.Partition), 10)),
			transformerotel.AttrTransformStatus.String(status),
		),
	)

	c.complete(ctx, it, out, err)
}

// transform runs the pipeline transform, retrying while the processing error
// handler asks for it. A record the handler decides to skip is treated as
// filtered.
func (c *partitionCoordinator) transform(ctx context.Context, it *pendingItem) (*record.UntypedRecord, int, error) {
	ec := errorhandler.NewErrorContext(it.record, nil).
		WithPhase(errorhandler.PhaseProcessing).
		WithDispatched(true)

	for {
		out, err := c.safeTransform(ctx, it)
		if err == nil {
			return out, ec.Attempt, nil
		}

		ec = ec.WithError(err)
		action := handleError(ctx, c.handler, c.telemetry, ec)

		if action.Type() == errorhandler.ActionTypeRetry {
			c.logger.Debug("Retrying transform", "offset", it.offset, "attempt", ec.Attempt)
			if ec.Attempt%10 == 0 {
				c.logger.Warn(
					"Record seen high number of retry attempts, "+
						"consider sending to DLQ or allowing error handler to skip.",
					"offset", it.offset, "attempt", ec.Attempt,
				)
			}

			if werr := wait(ctx, c.scheduler.sink.retry.Next(uint(ec.Attempt))); werr != nil {
				return nil, ec.Attempt, fmt.Errorf("retrying transform: %w: %w", werr, err)
			}
			ec = ec.IncrementAttempt()
			continue
		}

		skip, dlqErr := c.scheduler.sink.skipOrDeadLetter(ctx, action, it.record, ec)
		if dlqErr != nil {
			return nil, ec.Attempt, dlqErr
		}
		if skip {
			c.logger.Debug("Skipping failed transform", "offset", it.offset)
			return nil, ec.Attempt, nil
		}
		return nil, ec.Attempt, err
	}
}

func (c *partitionCoordinator) safeTransform(ctx context.Context, it *pendingItem) (out *record.UntypedRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transform panicked: %v", p)
		}
	}()

	return c.pipeline.Transform(ctx, it.input)
}

// complete moves a finished item out of executing, lets the scheduler emit
// what is eligible, records the resume offset and releases the permits of
// every item that left the pipeline.
func (c *partitionCoordinator) complete(ctx context.Context, it *pendingItem, out *record.UntypedRecord, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ledger.Finish(it)
	minExecuting := c.ledger.MinExecuting()

	if err != nil {
		// keep the failed record executing so the resume offset stays below it
		_ = c.ledger.executing.Add(it)
		c.logger.Error("Transform failed", "offset", it.offset, "error", err)
		c.fail(pipeline.NewTransformError(err, c.tp, it.offset))
		return
	}

	it.result = out
	released, err := c.scheduler.schedule(ctx, c.ledger, it, minExecuting)
	if err != nil {
		c.logger.Error("Failed to emit result", "offset", it.offset, "error", err)
		c.fail(err)
	}

	c.markResume(ctx)

	c.gate.Release(released)
	c.telemetry.InFlight.Add(ctx, -int64(released))
}

// markResume records the resume offset when it moved. Callers hold c.mu.
func (c *partitionCoordinator) markResume(ctx context.Context) {
	offset, moved := c.ledger.Advance()
	if !moved {
		return
	}

	if err := c.consumer.MarkOffset(c.tp, kafka.Offset{Offset: offset, LeaderEpoch: c.ledger.resumeEpoch}); err != nil {
		c.logger.Error("Failed to record resume offset", "offset", offset, "error", err)
		c.fail(NewResumeError(err, c.tp, offset))
		return
	}

	c.stats.marks.Add(1)
	c.committer.RecordMarked(1)
	c.telemetry.ResumeMarks.Add(
		ctx, 1, metric.WithAttributes(
			semconv.MessagingDestinationName(c.tp.Topic),
			semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(c.tp.Partition), 10)),
		),
	)
	c.logger.Debug("Recorded resume offset", "offset", offset)
}

// revoke stops new dispatches and waits up to timeout for this partition's
// transforms to finish. It reports whether they all did.
func (c *partitionCoordinator) revoke(timeout time.Duration) bool {
	c.mu.Lock()
	c.revoked = true
	c.mu.Unlock()

	return waitTimeout(&c.pending, timeout)
}

func (c *partitionCoordinator) snapshot() PartitionStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return PartitionStats{
		Executing:    c.ledger.executing.Len(),
		Waiting:      c.ledger.waiting.Len(),
		LastSeen:     c.ledger.lastSeen,
		ResumeOffset: c.ledger.resume,
	}
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
