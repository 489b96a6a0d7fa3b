package runner

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-transformer/committer"
	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/logger"
)

type AsyncOption interface {
	applyAsync(*AsyncConfig)
}

type asyncOptionFunc func(*AsyncConfig)

func (f asyncOptionFunc) applyAsync(c *AsyncConfig) {
	f(c)
}

type loggerOption struct {
	logger logger.Logger
}

func (o loggerOption) applyAsync(c *AsyncConfig) {
	if o.logger != nil {
		c.Logger = o.logger
	}
}

func WithLogger(l logger.Logger) loggerOption {
	return loggerOption{logger: l}
}

type maxOutstandingOption int

func (o maxOutstandingOption) applyAsync(c *AsyncConfig) {
	if o > 0 {
		c.MaxOutstanding = int(o)
	}
}

// WithMaxOutstanding sets the global bound on records in the pipeline
func WithMaxOutstanding(n int) maxOutstandingOption {
	return maxOutstandingOption(n)
}

type orderPolicyOption OrderPolicy

func (o orderPolicyOption) applyAsync(c *AsyncConfig) {
	c.OrderPolicy = OrderPolicy(o)
}

func WithOrderPolicy(p OrderPolicy) orderPolicyOption {
	return orderPolicyOption(p)
}

type toleranceOption errorhandler.Tolerance

func (o toleranceOption) applyAsync(c *AsyncConfig) {
	c.ConsumeErrorTolerance = errorhandler.Tolerance(o)
}

// WithConsumeErrorTolerance decides whether undecodable records are skipped
// (ToleranceAll) or stop the runner (ToleranceNone)
func WithConsumeErrorTolerance(t errorhandler.Tolerance) toleranceOption {
	return toleranceOption(t)
}

// WithErrorHandler sets the handler for phases without a dedicated handler
func WithErrorHandler(h errorhandler.Handler) AsyncOption {
	return asyncOptionFunc(func(c *AsyncConfig) { c.ErrorHandler = h })
}

// WithConsumeErrorHandler replaces the default FailBeforeFirstDispatch
// handling of poll errors
func WithConsumeErrorHandler(h errorhandler.Handler) AsyncOption {
	return asyncOptionFunc(func(c *AsyncConfig) { c.ConsumeErrorHandler = h })
}

// WithSerdeErrorHandler replaces the tolerance based handling of decode errors
func WithSerdeErrorHandler(h errorhandler.Handler) AsyncOption {
	return asyncOptionFunc(func(c *AsyncConfig) { c.SerdeErrorHandler = h })
}

func WithProcessingErrorHandler(h errorhandler.Handler) AsyncOption {
	return asyncOptionFunc(func(c *AsyncConfig) { c.ProcessingErrorHandler = h })
}

func WithProductionErrorHandler(h errorhandler.Handler) AsyncOption {
	return asyncOptionFunc(func(c *AsyncConfig) { c.ProductionErrorHandler = h })
}

type pollErrorBackoffOption struct {
	b backoff.Backoff
}

func (o pollErrorBackoffOption) applyAsync(c *AsyncConfig) {
	if o.b != nil {
		c.PollErrorBackoff = o.b
	}
}

func WithPollErrorBackoff(b backoff.Backoff) pollErrorBackoffOption {
	return pollErrorBackoffOption{b: b}
}

type backpressureBackoffOption struct {
	b backoff.Backoff
}

func (o backpressureBackoffOption) applyAsync(c *AsyncConfig) {
	if o.b != nil {
		c.BackpressureBackoff = o.b
	}
}

// WithBackpressureBackoff sets the wait between sends rejected with a full producer queue
func WithBackpressureBackoff(b backoff.Backoff) backpressureBackoffOption {
	return backpressureBackoffOption{b: b}
}

type retryBackoffOption struct {
	b backoff.Backoff
}

func (o retryBackoffOption) applyAsync(c *AsyncConfig) {
	if o.b != nil {
		c.RetryBackoff = o.b
	}
}

// WithRetryBackoff sets the wait before re-running a transform or send that the error handler retried
func WithRetryBackoff(b backoff.Backoff) retryBackoffOption {
	return retryBackoffOption{b: b}
}

type drainTimeoutOption time.Duration

func (o drainTimeoutOption) applyAsync(c *AsyncConfig) {
	if o > 0 {
		c.DrainTimeout = time.Duration(o)
	}
}

// WithDrainTimeout sets how long shutdown and revocation wait for in-flight transforms
func WithDrainTimeout(d time.Duration) drainTimeoutOption {
	return drainTimeoutOption(d)
}

type shutdownTimeoutOption time.Duration

func (o shutdownTimeoutOption) applyAsync(c *AsyncConfig) {
	if o > 0 {
		c.ShutdownTimeout = time.Duration(o)
	}
}

func WithShutdownTimeout(d time.Duration) shutdownTimeoutOption {
	return shutdownTimeoutOption(d)
}

type committerOption struct {
	c committer.Committer
}

func (o committerOption) applyAsync(c *AsyncConfig) {
	if o.c != nil {
		c.Committer = o.c
	}
}

// WithCommitter sets when marked resume offsets are committed
func WithCommitter(c committer.Committer) committerOption {
	return committerOption{c: c}
}
