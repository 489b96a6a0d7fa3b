package runner

import (
	"context"

	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/hugolhafner/go-transformer/otel"
	"github.com/hugolhafner/go-transformer/pipeline"
)

type Runner interface {
	kafka.RebalanceCallback
	Run(ctx context.Context) error
	Stats() Stats
}

type Factory = func(
	p *pipeline.Pipeline, consumer kafka.Consumer, producer kafka.Producer, telemetry *otel.Telemetry,
) (Runner, error)
