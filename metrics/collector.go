package metrics

import (
	"strconv"

	"github.com/hugolhafner/go-transformer/runner"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "transformer"

// StatsSource is anything that can report a runner snapshot.
type StatsSource interface {
	Stats() runner.Stats
}

var _ prometheus.Collector = (*Collector)(nil)

// Collector exports runner snapshots as Prometheus metrics. Every scrape
// takes a fresh snapshot.
type Collector struct {
	source StatsSource

	state          *prometheus.Desc
	maxOutstanding *prometheus.Desc
	inFlight       *prometheus.Desc
	executing      *prometheus.Desc
	waiting        *prometheus.Desc
	resumeOffset   *prometheus.Desc
	records        *prometheus.Desc
	backpressure   *prometheus.Desc
	resumeMarks    *prometheus.Desc
}

func NewCollector(source StatsSource, pipeline string) *Collector {
	constLabels := prometheus.Labels{"pipeline": pipeline}
	partitionLabels := []string{"topic", "partition"}

	return &Collector{
		source: source,
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "state"),
			"Current runner state, 1 for the active state.",
			[]string{"state"}, constLabels,
		),
		maxOutstanding: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "max_outstanding"),
			"Configured maximum number of records executing or waiting.",
			nil, constLabels,
		),
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "inflight"),
			"Records currently holding a concurrency permit.",
			nil, constLabels,
		),
		executing: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "partition", "executing"),
			"Records whose transform has not completed.",
			partitionLabels, constLabels,
		),
		waiting: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "partition", "waiting"),
			"Completed records held back for ordering.",
			partitionLabels, constLabels,
		),
		resumeOffset: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "partition", "resume_offset"),
			"Last recorded resume offset.",
			partitionLabels, constLabels,
		),
		records: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "records_total"),
			"Records by outcome.",
			[]string{"outcome"}, constLabels,
		),
		backpressure: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "produce_backpressure_total"),
			"Sends rejected because the producer queue was full.",
			nil, constLabels,
		),
		resumeMarks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "resume_marks_total"),
			"Resume offsets recorded with the consumer.",
			nil, constLabels,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.maxOutstanding
	ch <- c.inFlight
	ch <- c.executing
	ch <- c.waiting
	ch <- c.resumeOffset
	ch <- c.records
	ch <- c.backpressure
	ch <- c.resumeMarks
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	for _, st := range []runner.State{runner.StateIdle, runner.StateRunning, runner.StateDraining, runner.StateStopped} {
		v := 0.0
		if s.State == st {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, st.String())
	}

	ch <- prometheus.MustNewConstMetric(c.maxOutstanding, prometheus.GaugeValue, float64(s.MaxOutstanding))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight))

	for tp, ps := range s.Partitions {
		partition := strconv.FormatInt(int64(tp.Partition), 10)
		ch <- prometheus.MustNewConstMetric(c.executing, prometheus.GaugeValue, float64(ps.Executing), tp.Topic, partition)
		ch <- prometheus.MustNewConstMetric(c.waiting, prometheus.GaugeValue, float64(ps.Waiting), tp.Topic, partition)
		ch <- prometheus.MustNewConstMetric(
			c.resumeOffset, prometheus.GaugeValue, float64(ps.ResumeOffset), tp.Topic, partition,
		)
	}

	ch <- prometheus.MustNewConstMetric(c.records, prometheus.CounterValue, float64(s.Dispatched), "dispatched")
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.CounterValue, float64(s.Emitted), "emitted")
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.CounterValue, float64(s.Filtered), "filtered")
	ch <- prometheus.MustNewConstMetric(c.records, prometheus.CounterValue, float64(s.Skipped), "skipped")
	ch <- prometheus.MustNewConstMetric(c.backpressure, prometheus.CounterValue, float64(s.Backpressure))
	ch <- prometheus.MustNewConstMetric(c.resumeMarks, prometheus.CounterValue, float64(s.ResumeMarks))
}
