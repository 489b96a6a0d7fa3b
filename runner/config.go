package runner

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-transformer/committer"
	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/logger"
)

const DefaultMaxOutstanding = 20

type AsyncConfig struct {
	Logger logger.Logger

	// MaxOutstanding bounds the records between dispatch and leaving the
	// pipeline, across all partitions.
	MaxOutstanding int
	OrderPolicy    OrderPolicy

	// ConsumeErrorTolerance decides whether undecodable records are skipped.
	ConsumeErrorTolerance errorhandler.Tolerance

	// ErrorHandler handles phases without a dedicated handler.
	ErrorHandler           errorhandler.Handler
	ConsumeErrorHandler    errorhandler.Handler
	SerdeErrorHandler      errorhandler.Handler
	ProcessingErrorHandler errorhandler.Handler
	ProductionErrorHandler errorhandler.Handler

	PollErrorBackoff    backoff.Backoff
	BackpressureBackoff backoff.Backoff
	// RetryBackoff is the wait before a transform or send the error handler
	// asked to retry. It is indexed by the failed attempt, starting at 1.
	RetryBackoff backoff.Backoff

	// DrainTimeout bounds how long shutdown and revocation wait for in-flight
	// transforms. Transforms still running after it see their context cancelled.
	DrainTimeout time.Duration
	// ShutdownTimeout bounds the final producer flush and offset commit.
	ShutdownTimeout time.Duration

	Committer committer.Committer
}

func defaultAsyncConfig() AsyncConfig {
	l := logger.NewNoopLogger()
	return AsyncConfig{
		Logger:              l,
		MaxOutstanding:      DefaultMaxOutstanding,
		OrderPolicy:         CompletionOrder,
		PollErrorBackoff:    backoff.NewFixed(time.Second),
		BackpressureBackoff: backoff.NewFixed(100 * time.Millisecond),
		RetryBackoff: backoff.NewExponential(
			backoff.WithInitialInterval(50*time.Millisecond),
			backoff.WithMaxInterval(5*time.Second),
		),
		DrainTimeout:        60 * time.Second,
		ShutdownTimeout:     30 * time.Second,
	}
}

// errorHandler routes each phase to its handler. Unset phases default to
// FailBeforeFirstDispatch for consume errors, the tolerance for serde errors
// and ErrorHandler, LogAndFail unless set, for the rest.
func (c AsyncConfig) errorHandler(l logger.Logger) errorhandler.Handler {
	fallback := c.ErrorHandler
	if fallback == nil {
		fallback = errorhandler.LogAndFail(l)
	}

	consume := c.ConsumeErrorHandler
	if consume == nil {
		consume = errorhandler.FailBeforeFirstDispatch(l)
	}

	serde := c.SerdeErrorHandler
	if serde == nil {
		serde = errorhandler.FromTolerance(c.ConsumeErrorTolerance, l)
	}

	opts := []errorhandler.RouterOption{
		errorhandler.WithConsumeHandler(consume),
		errorhandler.WithSerdeHandler(serde),
	}
	if c.ProcessingErrorHandler != nil {
		opts = append(opts, errorhandler.WithProcessingHandler(c.ProcessingErrorHandler))
	}
	if c.ProductionErrorHandler != nil {
		opts = append(opts, errorhandler.WithProductionHandler(c.ProductionErrorHandler))
	}

	return errorhandler.NewPhaseRouter(fallback, opts...)
}
