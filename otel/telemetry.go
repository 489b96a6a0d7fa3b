package otel

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	traceNoop "go.opentelemetry.io/otel/trace/noop"
)

const scopeName = "github.com/hugolhafner/go-transformer"

// Telemetry holds the OpenTelemetry instruments of the engine.
// When no providers are configured, all instruments are noops with zero overhead
type Telemetry struct {
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator

	// Consumer metrics
	MessagesConsumed metric.Int64Counter
	PollDuration     metric.Float64Histogram

	// Transform metrics
	TransformDuration metric.Float64Histogram
	InFlight          metric.Int64UpDownCounter

	// Producer metrics
	MessagesProduced    metric.Int64Counter
	ProduceBackpressure metric.Int64Counter

	// Offset metrics
	ResumeMarks metric.Int64Counter

	// Error metrics
	Errors              metric.Int64Counter
	ErrorHandlerActions metric.Int64Counter

	// Runner state metrics
	PartitionsActive metric.Int64UpDownCounter
}

// NewTelemetry creates a Telemetry instance from the given providers.
// all providers are optional and defaulted to noops if nil
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator) (
	*Telemetry, error,
) {
	if tp == nil {
		tp = traceNoop.NewTracerProvider()
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if prop == nil {
		prop = propagation.TraceContext{}
	}

	meter := mp.Meter(scopeName)
	t := &Telemetry{
		Tracer:     tp.Tracer(scopeName),
		Propagator: prop,
	}

	var err error
	if t.MessagesConsumed, err = meter.Int64Counter(
		"messaging.consumer.messages",
		metric.WithDescription("Records consumed"),
	); err != nil {
		return nil, err
	}

	if t.PollDuration, err = meter.Float64Histogram(
		"transformer.poll.duration",
		metric.WithDescription("Time per Poll() call"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if t.TransformDuration, err = meter.Float64Histogram(
		"transformer.transform.duration",
		metric.WithDescription("Time spent in the transform per record"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if t.InFlight, err = meter.Int64UpDownCounter(
		"transformer.inflight",
		metric.WithDescription("Records holding a concurrency permit"),
	); err != nil {
		return nil, err
	}

	if t.MessagesProduced, err = meter.Int64Counter(
		"messaging.producer.messages",
		metric.WithDescription("Records produced"),
	); err != nil {
		return nil, err
	}

	if t.ProduceBackpressure, err = meter.Int64Counter(
		"transformer.produce.backpressure",
		metric.WithDescription("Send attempts rejected because the producer queue was full"),
	); err != nil {
		return nil, err
	}

	if t.ResumeMarks, err = meter.Int64Counter(
		"transformer.resume.marks",
		metric.WithDescription("Resume offsets recorded"),
	); err != nil {
		return nil, err
	}

	if t.Errors, err = meter.Int64Counter(
		"transformer.errors",
		metric.WithDescription("Errors encountered"),
	); err != nil {
		return nil, err
	}

	if t.ErrorHandlerActions, err = meter.Int64Counter(
		"transformer.error_handler.actions",
		metric.WithDescription("Error handler decisions"),
	); err != nil {
		return nil, err
	}

	if t.PartitionsActive, err = meter.Int64UpDownCounter(
		"transformer.partitions.active",
		metric.WithDescription("Partitions with engine state"),
	); err != nil {
		return nil, err
	}

	return t, nil
}

// Noop returns a Telemetry instance with all noop instruments
func Noop() *Telemetry {
	t, _ := NewTelemetry(nil, nil, nil)
	return t
}
