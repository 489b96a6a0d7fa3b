package committer

import (
	"sync"
	"time"
)

var _ Committer = (*PeriodicCommitter)(nil)

type PeriodicCommitterConfig struct {
	MaxInterval time.Duration
	MaxCount    int
}

type PeriodicCommitterOption func(*PeriodicCommitterConfig)

func WithMaxInterval(d time.Duration) PeriodicCommitterOption {
	return func(cfg *PeriodicCommitterConfig) {
		if d > 0 {
			cfg.MaxInterval = d
		}
	}
}

func WithMaxCount(c int) PeriodicCommitterOption {
	return func(cfg *PeriodicCommitterConfig) {
		if c > 0 {
			cfg.MaxCount = c
		}
	}
}

// PeriodicCommitter asks for a commit once MaxCount marks accumulated or
// MaxInterval passed since the last successful commit, whichever comes first.
// Nothing is committed while no marks are pending.
type PeriodicCommitter struct {
	c          PeriodicCommitterConfig
	pending    int
	lastCommit time.Time
	now        func() time.Time

	mu sync.Mutex
}

func NewPeriodicCommitter(opts ...PeriodicCommitterOption) *PeriodicCommitter {
	cfg := PeriodicCommitterConfig{
		MaxInterval: 5 * time.Second,
		MaxCount:    100,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &PeriodicCommitter{
		c:          cfg,
		lastCommit: time.Now(),
		now:        time.Now,
	}
}

func (p *PeriodicCommitter) RecordMarked(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending += n
}

func (p *PeriodicCommitter) TryCommit() bool {
	p.mu.Lock()

	if p.pending == 0 {
		p.mu.Unlock()
		return false
	}

	if p.pending < p.c.MaxCount && p.now().Sub(p.lastCommit) < p.c.MaxInterval {
		p.mu.Unlock()
		return false
	}

	return true
}

// UnlockCommit ends a commit started by TryCommit. A failed commit keeps the
// pending count so the next TryCommit asks again.
func (p *PeriodicCommitter) UnlockCommit(ok bool) {
	defer p.mu.Unlock()

	if ok {
		p.pending = 0
		p.lastCommit = p.now()
	}
}

// Pending returns the number of marks not yet committed.
func (p *PeriodicCommitter) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pending
}
