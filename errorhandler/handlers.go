package errorhandler

import (
	"context"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/logger"
)

// LogAndContinue logs error and continues processing
func LogAndContinue(logger logger.Logger) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			logger.Error(
				"error processing record, skipping",
				recordFields(ec)...,
			)
			return ActionContinue{}
		},
	)
}

// LogAndFail logs error and stops processing
func LogAndFail(logger logger.Logger) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			logger.Error(
				"error processing record, failing",
				recordFields(ec)...,
			)
			return ActionFail{}
		},
	)
}

// SilentFail fails without logging. The engine logs the terminal error itself.
func SilentFail() Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			return ActionFail{}
		},
	)
}

// FromTolerance maps an error tolerance onto a handler: ToleranceAll skips
// the offending record, ToleranceNone stops the engine.
func FromTolerance(t Tolerance, logger logger.Logger) Handler {
	if t == ToleranceAll {
		return LogAndContinue(logger)
	}
	return LogAndFail(logger)
}

// FailBeforeFirstDispatch treats connectivity and authorization failures as
// fatal until the first record has been dispatched. Before that point they
// most likely mean a misconfigured client; afterwards they are assumed to be
// transient and the poll is retried.
func FailBeforeFirstDispatch(logger logger.Logger) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			if kafka.IsConnectivityOrAuth(ec.Error) && !ec.Dispatched {
				logger.Error(
					"Cannot consume before first dispatch, failing",
					"error", ec.Error,
					"attempt", ec.Attempt,
				)
				return ActionFail{}
			}

			logger.Warn(
				"Consume error, retrying",
				"error", ec.Error,
				"attempt", ec.Attempt,
			)
			return ActionContinue{}
		},
	)
}

// WithMaxAttempts wraps a handler with retry logic
// When the max attempts is reached, the fallback handler is called
func WithMaxAttempts(maxAttempts int, b backoff.Backoff, fallback Handler) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			if ec.Attempt >= maxAttempts {
				return fallback.Handle(ctx, ec)
			}

			t := time.NewTimer(b.Next(uint(ec.Attempt)))
			defer t.Stop()

			select {
			case <-ctx.Done():
				return ActionFail{}
			case <-t.C:
			}

			return ActionRetry{}
		},
	)
}

// WithDLQ turns every Continue decision of inner into SendToDLQ(topic). A nil
// inner always dead letters. Wrap it in WithMaxAttempts to retry first.
func WithDLQ(topic string, inner Handler) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			var action Action = ActionContinue{}
			if inner != nil {
				action = inner.Handle(ctx, ec)
			}

			if action.Type() == ActionTypeContinue {
				return SendToDLQ(topic)
			}

			return action
		},
	)
}

// ActionLogger logs the action decided by the next handler
func ActionLogger(l logger.Logger, level logger.LogLevel, next Handler) Handler {
	return HandlerFunc(
		func(ctx context.Context, ec ErrorContext) Action {
			action := next.Handle(ctx, ec)

			l.Log(
				level,
				"Error handler decision",
				append([]any{"action", action.Type().String()}, recordFields(ec)...)...,
			)
			return action
		},
	)
}

func recordFields(ec ErrorContext) []any {
	return []any{
		"error", ec.Error,
		"phase", ec.Phase.String(),
		"key", ec.Record.Key,
		"topic", ec.Record.Topic,
		"offset", ec.Record.Offset,
		"partition", ec.Record.Partition,
		"attempt", ec.Attempt,
	}
}
