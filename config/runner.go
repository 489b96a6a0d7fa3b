package config

import (
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-transformer/committer"
	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/logger"
	"github.com/hugolhafner/go-transformer/runner"
)

// RunnerOptions translates the engine section into AsyncRunner options.
func (e EngineConfig) RunnerOptions(l logger.Logger) ([]runner.AsyncOption, error) {
	policy, err := runner.ParseOrderPolicy(e.OrderPolicy)
	if err != nil {
		return nil, err
	}

	tolerance, err := errorhandler.ParseTolerance(e.ErrorTolerance)
	if err != nil {
		return nil, err
	}

	return []runner.AsyncOption{
		runner.WithLogger(l),
		runner.WithMaxOutstanding(e.MaxOutstanding),
		runner.WithOrderPolicy(policy),
		runner.WithConsumeErrorTolerance(tolerance),
		runner.WithBackpressureBackoff(backoff.NewFixed(e.BackpressureBackoff)),
		runner.WithPollErrorBackoff(backoff.NewFixed(e.PollErrorBackoff)),
		runner.WithRetryBackoff(
			backoff.NewExponential(
				backoff.WithInitialInterval(e.RetryBackoff),
				backoff.WithMaxInterval(5*time.Second),
			),
		),
		runner.WithDrainTimeout(e.DrainTimeout),
		runner.WithShutdownTimeout(e.ShutdownTimeout),
		runner.WithCommitter(
			committer.NewPeriodicCommitter(
				committer.WithMaxInterval(e.CommitInterval),
				committer.WithMaxCount(e.CommitCount),
			),
		),
	}, nil
}
