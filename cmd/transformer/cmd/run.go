package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	transformer "github.com/hugolhafner/go-transformer"
	"github.com/hugolhafner/go-transformer/metrics"
	transformerotel "github.com/hugolhafner/go-transformer/otel"
	"github.com/hugolhafner/go-transformer/runner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume the input topics, transform every record and produce the results",
	RunE:  runE,
}

type appStats struct {
	app *transformer.Application
}

func (a appStats) Stats() runner.Stats {
	s, _ := a.app.Stats()
	return s
}

func runE(cmd *cobra.Command, _ []string) error {
	cfg, zl, l, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	runnerOpts, err := cfg.Engine.RunnerOptions(l)
	if err != nil {
		return err
	}

	tel, err := transformerotel.NewTelemetry(
		otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator(),
	)
	if err != nil {
		return err
	}

	c, err := newClients(cfg, l)
	if err != nil {
		return err
	}
	defer c.Close()

	app, err := transformer.NewApplication(
		c.consumer, c.producer, p,
		transformer.WithLogger(l),
		transformer.WithTelemetry(tel),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)

	g.Go(
		func() error {
			defer stopMetrics()
			return app.RunWith(gctx, runner.NewAsyncRunner(runnerOpts...))
		},
	)

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			metrics.NewCollector(appStats{app: app}, p.Name()),
		)

		g.Go(
			func() error {
				return metrics.Serve(metricsCtx, cfg.Metrics.Addr, cfg.Metrics.Path, reg, l)
			},
		)
	}

	l.Info(
		"Starting transformer",
		"inputs", cfg.Kafka.InputTopics,
		"output", cfg.Kafka.OutputTopic,
		"transform", cfg.Transform.Name,
		"producer", cfg.Kafka.Producer,
	)

	if err := g.Wait(); err != nil {
		l.Error("Transformer stopped", "error", err)
		return err
	}

	l.Info("Transformer stopped")
	return nil
}
