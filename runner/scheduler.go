package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/logger"
	transformerotel "github.com/hugolhafner/go-transformer/otel"
	"github.com/hugolhafner/go-transformer/pipeline"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// OrderPolicy selects the order in which results of one partition are emitted.
type OrderPolicy int

const (
	// CompletionOrder emits each result as soon as its transform completes.
	CompletionOrder OrderPolicy = iota
	// InputOrder emits results of a partition in offset order.
	InputOrder
)

func (p OrderPolicy) String() string {
	switch p {
	case CompletionOrder:
		return "completion"
	case InputOrder:
		return "input"
	default:
		return "unknown"
	}
}

func ParseOrderPolicy(s string) (OrderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "completion", "completion-order", "completion_order":
		return CompletionOrder, nil
	case "input", "input-order", "input_order":
		return InputOrder, nil
	default:
		return CompletionOrder, fmt.Errorf("unknown output order policy %q", s)
	}
}

// scheduler decides when completed items are emitted. Callers hold the
// partition lock, so emissions of one partition never interleave.
type scheduler struct {
	policy OrderPolicy
	sink   *sink
}

// schedule hands a completed item to the sink according to the policy and
// returns how many items left the pipeline. Items that could not be emitted
// stay in the ledger's waiting set so the resume offset cannot pass them.
func (s *scheduler) schedule(ctx context.Context, l *ledger, it *pendingItem, minExecuting int64) (int, error) {
	var ready []*pendingItem

	switch s.policy {
	case InputOrder:
		if err := l.waiting.Add(it); err != nil {
			return 0, err
		}
		ready = l.waiting.TakeBelow(minExecuting)
	default:
		ready = []*pendingItem{it}
	}

	for i, r := range ready {
		if err := s.sink.emit(ctx, r); err != nil {
			for _, rest := range ready[i:] {
				// room was just made by TakeBelow or by leaving executing
				_ = l.waiting.Add(rest)
			}
			return i, err
		}
	}

	return len(ready), nil
}

// sink emits transform results to the output topic.
type sink struct {
	producer     kafka.Producer
	pipeline     *pipeline.Pipeline
	backpressure backoff.Backoff
	retry        backoff.Backoff
	handler      errorhandler.Handler
	stats        *counters
	telemetry    *transformerotel.Telemetry
	logger       logger.Logger
}

// emit sends one result. Filtered items are counted and skipped. A full
// producer queue is retried until ctx is done; other failures go through the
// error handler.
func (s *sink) emit(ctx context.Context, it *pendingItem) error {
	if it.result == nil {
		s.stats.filtered.Add(1)
		return nil
	}

	topic := s.pipeline.OutputTopic()
	ec := errorhandler.NewErrorContext(it.record, nil).WithDispatched(true)

	key, value, err := s.pipeline.Encode(it.result)
	if err != nil {
		ec = ec.WithError(err).WithPhase(errorhandler.PhaseSerde)
		skip, dlqErr := s.skipOrDeadLetter(ctx, s.handle(ctx, ec), it.record, ec)
		if dlqErr != nil {
			return pipeline.NewProductionError(dlqErr, topic, it.offset)
		}
		if skip {
			s.stats.skipped.Add(1)
			return nil
		}
		return pipeline.NewProductionError(err, topic, it.offset)
	}

	ctx, span := s.telemetry.Tracer.Start(
		ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			transformerotel.AttrMessagingOperation.String("send"),
			semconv.MessagingDestinationName(topic),
		),
	)
	defer span.End()

	headers := make([]kafka.Header, len(it.result.Headers))
	copy(headers, it.result.Headers)
	s.telemetry.Propagator.Inject(ctx, transformerotel.NewKafkaHeadersCarrier(&headers))

	var full uint
	for {
		err := s.producer.Send(ctx, topic, key, value, headers)
		if err == nil {
			break
		}

		if errors.Is(err, kafka.ErrQueueFull) {
			s.stats.backpressure.Add(1)
			s.telemetry.ProduceBackpressure.Add(
				ctx, 1, metric.WithAttributes(semconv.MessagingDestinationName(topic)),
			)
			s.logger.Debug("Producer queue full, retrying", "offset", it.offset, "attempt", full+1)

			if err := wait(ctx, s.backpressure.Next(full)); err != nil {
				return pipeline.NewProductionError(
					fmt.Errorf("retrying full producer queue: %w", err), topic, it.offset,
				)
			}
			full++
			continue
		}

		span.RecordError(err)
		ec = ec.WithError(err).WithPhase(errorhandler.PhaseProduction)
		action := s.handle(ctx, ec)
		if action.Type() == errorhandler.ActionTypeRetry {
			s.logger.Debug("Retrying send", "offset", it.offset, "attempt", ec.Attempt)
			if err := wait(ctx, s.retry.Next(uint(ec.Attempt))); err != nil {
				return pipeline.NewProductionError(fmt.Errorf("retrying send: %w", err), topic, it.offset)
			}
			ec = ec.IncrementAttempt()
			continue
		}

		skip, dlqErr := s.skipOrDeadLetter(ctx, action, it.record, ec)
		if dlqErr != nil {
			return pipeline.NewProductionError(dlqErr, topic, it.offset)
		}
		if skip {
			s.stats.skipped.Add(1)
			return nil
		}
		return pipeline.NewProductionError(err, topic, it.offset)
	}

	s.stats.emitted.Add(1)
	s.telemetry.MessagesProduced.Add(
		ctx, 1, metric.WithAttributes(semconv.MessagingDestinationName(topic)),
	)
	return nil
}

func (s *sink) handle(ctx context.Context, ec errorhandler.ErrorContext) errorhandler.Action {
	return handleError(ctx, s.handler, s.telemetry, ec)
}

func handleError(
	ctx context.Context, h errorhandler.Handler, tel *transformerotel.Telemetry, ec errorhandler.ErrorContext,
) errorhandler.Action {
	tel.Errors.Add(
		ctx, 1, metric.WithAttributes(
			transformerotel.AttrErrorPhase.String(ec.Phase.String()),
		),
	)

	action := h.Handle(ctx, ec)

	tel.ErrorHandlerActions.Add(
		ctx, 1, metric.WithAttributes(
			transformerotel.AttrErrorAction.String(action.Type().String()),
			transformerotel.AttrErrorPhase.String(ec.Phase.String()),
		),
	)
	return action
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
