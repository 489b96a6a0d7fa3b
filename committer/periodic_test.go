//go:build unit

package committer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodicCommitter_NothingPending(t *testing.T) {
	t.Parallel()
	p := NewPeriodicCommitter(WithMaxInterval(time.Nanosecond), WithMaxCount(1))

	time.Sleep(time.Millisecond)
	require.False(t, p.TryCommit())
}

func TestPeriodicCommitter_MaxCount(t *testing.T) {
	t.Parallel()
	p := NewPeriodicCommitter(WithMaxInterval(time.Hour), WithMaxCount(3))

	p.RecordMarked(2)
	require.False(t, p.TryCommit())

	p.RecordMarked(1)
	require.True(t, p.TryCommit())
	p.UnlockCommit(true)

	require.Equal(t, 0, p.Pending())
	require.False(t, p.TryCommit())
}

func TestPeriodicCommitter_MaxInterval(t *testing.T) {
	t.Parallel()
	now := time.Now()
	p := NewPeriodicCommitter(WithMaxInterval(time.Minute), WithMaxCount(100))
	p.now = func() time.Time { return now }
	p.lastCommit = now

	p.RecordMarked(1)
	require.False(t, p.TryCommit())

	now = now.Add(time.Minute)
	require.True(t, p.TryCommit())
	p.UnlockCommit(true)
	require.Equal(t, now, p.lastCommit)
}

func TestPeriodicCommitter_FailedCommitKeepsPending(t *testing.T) {
	t.Parallel()
	p := NewPeriodicCommitter(WithMaxCount(1))

	p.RecordMarked(4)
	require.True(t, p.TryCommit())
	p.UnlockCommit(false)

	require.Equal(t, 4, p.Pending())
	require.True(t, p.TryCommit())
	p.UnlockCommit(true)
}
