package runner

import (
	"sync/atomic"

	"github.com/hugolhafner/go-transformer/kafka"
)

// State is the lifecycle state of a runner.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PartitionStats is a point in time view of one partition.
type PartitionStats struct {
	Executing int
	Waiting   int
	// LastSeen is the highest offset dispatched or skipped, -1 before any.
	LastSeen int64
	// ResumeOffset is the last recorded resume offset, -1 before any.
	ResumeOffset int64
}

// Stats is a point in time view of a runner.
type Stats struct {
	State          State
	MaxOutstanding int
	InFlight       int
	Partitions     map[kafka.TopicPartition]PartitionStats

	Dispatched   int64
	Emitted      int64
	Filtered     int64
	Skipped      int64
	DeadLettered int64
	Backpressure int64
	ResumeMarks  int64
}

type counters struct {
	dispatched   atomic.Int64
	emitted      atomic.Int64
	filtered     atomic.Int64
	skipped      atomic.Int64
	deadLettered atomic.Int64
	backpressure atomic.Int64
	marks        atomic.Int64
}

func (c *counters) fill(s *Stats) {
	s.Dispatched = c.dispatched.Load()
	s.Emitted = c.emitted.Load()
	s.Filtered = c.filtered.Load()
	s.Skipped = c.skipped.Load()
	s.DeadLettered = c.deadLettered.Load()
	s.Backpressure = c.backpressure.Load()
	s.ResumeMarks = c.marks.Load()
}
