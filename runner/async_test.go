//go:build unit

package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/kafka"
	mockkafka "github.com/hugolhafner/go-transformer/kafka/mock"
	mocklogger "github.com/hugolhafner/go-transformer/logger/mock"
	"github.com/hugolhafner/go-transformer/pipeline"
	"github.com/hugolhafner/go-transformer/record"
	"github.com/hugolhafner/go-transformer/serde"
	"github.com/hugolhafner/go-transformer/transform/builtins"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tp0 = kafka.TopicPartition{Topic: "input", Partition: 0}

func newRunner(t *testing.T, client *mockkafka.Client, fn stringFunc, opts ...AsyncOption) *AsyncRunner {
	t.Helper()

	opts = append(
		[]AsyncOption{
			WithPollErrorBackoff(backoff.NewFixed(10 * time.Millisecond)),
			WithBackpressureBackoff(backoff.NewFixed(time.Millisecond)),
			WithRetryBackoff(backoff.NewFixed(time.Millisecond)),
			WithDrainTimeout(2 * time.Second),
		}, opts...,
	)

	r, err := NewAsyncRunner(opts...)(newTestPipeline(t, fn), client, client, nil)
	require.NoError(t, err)

	return r.(*AsyncRunner)
}

// sleepForValue sleeps for the number of milliseconds in the record value.
func sleepForValue() stringFunc {
	return func(ctx context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		ms, err := strconv.Atoi(in.Value)
		if err != nil {
			return nil, err
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return in, nil
	}
}

func TestAsyncRunner_InputOrderEmitsInOffsetOrder(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("300", "100", "50")...)

	r := newRunner(t, client, sleepForValue(), WithMaxOutstanding(2), WithOrderPolicy(InputOrder))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 3
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())

	client.AssertProducedValues(t, "output", "300", "100", "50")
	client.AssertMarksMonotonic(t, tp0)
	client.AssertCommittedOffset(t, tp0, 3)
}

func TestAsyncRunner_CompletionOrderEmitsAsTransformsFinish(t *testing.T) {
	tests := []struct {
		name           string
		maxOutstanding int
		expected       []string
	}{
		// the third record only starts once the 100ms one released its permit
		{"two permits", 2, []string{"100", "50", "300"}},
		{"three permits", 3, []string{"50", "100", "300"}},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				client := mockkafka.NewClient()
				client.AddRecords("input", 0, mockkafka.ValueRecords("300", "100", "50")...)

				r := newRunner(
					t, client, sleepForValue(),
					WithMaxOutstanding(tt.maxOutstanding), WithOrderPolicy(CompletionOrder),
				)
				stop, _ := startRunner(t, r)

				require.Eventually(
					t, func() bool {
						return len(client.ProducedRecords()) == 3
					}, 3*time.Second, 10*time.Millisecond,
				)
				require.NoError(t, stop())

				client.AssertProducedValues(t, "output", tt.expected...)
				client.AssertMarksMonotonic(t, tp0)
			},
		)
	}
}

func TestAsyncRunner_TransformFailureIsFatal(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("ok", "bad", "later")...)

	boom := errors.New("boom")
	fn := func(_ context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		if in.Value == "bad" {
			time.Sleep(50 * time.Millisecond)
			return nil, boom
		}
		return in, nil
	}

	r := newRunner(t, client, fn, WithMaxOutstanding(1))
	_, done := startRunner(t, r)

	err := waitForExit(t, done)
	require.Error(t, err)

	fe, ok := AsFatalError(err)
	require.True(t, ok)
	require.ErrorIs(t, fe, boom)

	te, ok := pipeline.AsTransformError(err)
	require.True(t, ok)
	require.Equal(t, int64(1), te.Offset)
	require.Equal(t, tp0, te.Partition)

	require.Equal(t, StateStopped, r.Stats().State)
	client.AssertProducedValues(t, "output", "ok")

	last, ok := client.LastMark(tp0)
	require.True(t, ok)
	require.LessOrEqual(t, last, int64(1), "resume offset must not pass the failed record")
}

func TestAsyncRunner_RetriesFullProducerQueue(t *testing.T) {
	client := mockkafka.NewClient(mockkafka.WithQueueFull(3))
	client.AddRecords("input", 0, mockkafka.ValueRecords("v")...)

	r := newRunner(t, client, passthrough())
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 1
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())

	client.AssertProducedValues(t, "output", "v")
	require.Equal(t, 4, client.SendAttempts())
	require.Equal(t, int64(3), r.Stats().Backpressure)
}

func TestAsyncRunner_ResumeMarkFailureIsFatal(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("v")...)

	markErr := errors.New("coordinator unavailable")
	var failed atomic.Bool
	client.SetMarkErrorFunc(
		func(kafka.TopicPartition, kafka.Offset) error {
			if failed.CompareAndSwap(false, true) {
				return markErr
			}
			return nil
		},
	)

	r := newRunner(t, client, passthrough())
	_, done := startRunner(t, r)

	err := waitForExit(t, done)
	require.ErrorIs(t, err, markErr)

	re, ok := AsResumeError(err)
	require.True(t, ok)
	require.Equal(t, int64(1), re.Offset)

	client.AssertProducedValues(t, "output", "v")
}

func TestAsyncRunner_OutstandingNeverExceedsBound(t *testing.T) {
	const maxOutstanding = 3
	client := mockkafka.NewClient()
	for p := int32(0); p < 2; p++ {
		values := make([]string, 20)
		for i := range values {
			values[i] = strconv.Itoa((i*7)%15 + 1)
		}
		client.AddRecords("input", p, mockkafka.ValueRecords(values...)...)
	}

	var running, peak atomic.Int64
	fn := func(ctx context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		defer running.Add(-1)
		return sleepForValue()(ctx, in)
	}

	r := newRunner(t, client, fn, WithMaxOutstanding(maxOutstanding), WithOrderPolicy(InputOrder))
	stop, _ := startRunner(t, r)

	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for len(client.ProducedRecords()) < 40 {
			s := r.Stats()
			assert.LessOrEqual(t, s.InFlight, maxOutstanding)
			for _, ps := range s.Partitions {
				assert.LessOrEqual(t, ps.Executing+ps.Waiting, maxOutstanding)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 40
		}, 5*time.Second, 10*time.Millisecond,
	)
	<-sampled
	require.NoError(t, stop())

	require.LessOrEqual(t, peak.Load(), int64(maxOutstanding))
	for p := int32(0); p < 2; p++ {
		tp := kafka.TopicPartition{Topic: "input", Partition: p}
		client.AssertMarksMonotonic(t, tp)
		last, _ := client.LastMark(tp)
		require.Equal(t, int64(20), last)
	}
}

func TestAsyncRunner_SinglePermitSerialisesTransforms(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("5", "1", "3", "1")...)

	var mu sync.Mutex
	var events []string
	fn := func(ctx context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		mu.Lock()
		events = append(events, "start "+strconv.FormatInt(in.Offset, 10))
		mu.Unlock()

		out, err := sleepForValue()(ctx, in)

		mu.Lock()
		events = append(events, "end "+strconv.FormatInt(in.Offset, 10))
		mu.Unlock()
		return out, err
	}

	r := newRunner(t, client, fn, WithMaxOutstanding(1))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 4
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(
		t, []string{"start 0", "end 0", "start 1", "end 1", "start 2", "end 2", "start 3", "end 3"}, events,
	)
}

func TestAsyncRunner_FilteredRecordsAreNotSent(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("keep-1", "drop", "keep-2", "drop")...)

	fn := builtins.Filter[string, string](
		func(_ context.Context, _ string, v string) (bool, error) {
			return v != "drop", nil
		},
	)

	r := newRunner(t, client, fn, WithOrderPolicy(InputOrder))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			last, _ := client.LastMark(tp0)
			return last == 4
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())

	client.AssertProducedValues(t, "output", "keep-1", "keep-2")

	s := r.Stats()
	require.Equal(t, int64(4), s.Dispatched)
	require.Equal(t, int64(2), s.Emitted)
	require.Equal(t, int64(2), s.Filtered)
}

func newJSONRunner(t *testing.T, client *mockkafka.Client, opts ...AsyncOption) *AsyncRunner {
	t.Helper()

	p, err := pipeline.NewBuilder[string, int, string, int]("json").
		From("input").
		To("output").
		WithInputSerdes(serde.String(), serde.JSON[int]()).
		WithOutputSerdes(serde.String(), serde.JSON[int]()).
		Transform(builtins.Passthrough[string, int]()).
		Build()
	require.NoError(t, err)

	opts = append([]AsyncOption{WithPollErrorBackoff(backoff.NewFixed(10 * time.Millisecond))}, opts...)
	r, err := NewAsyncRunner(opts...)(p, client, client, nil)
	require.NoError(t, err)

	return r.(*AsyncRunner)
}

func TestAsyncRunner_ToleranceAllSkipsUndecodableRecords(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("1", "not-json", "3")...)

	r := newJSONRunner(t, client, WithConsumeErrorTolerance(errorhandler.ToleranceAll))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			last, _ := client.LastMark(tp0)
			return last == 3
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())

	client.AssertProducedValues(t, "output", "1", "3")
	require.Equal(t, int64(1), r.Stats().Skipped)
}

func TestAsyncRunner_ToleranceNoneFailsOnUndecodableRecord(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("not-json")...)

	r := newJSONRunner(t, client, WithConsumeErrorTolerance(errorhandler.ToleranceNone))
	_, done := startRunner(t, r)

	err := waitForExit(t, done)
	_, ok := AsFatalError(err)
	require.True(t, ok)

	_, ok = pipeline.AsSerdeError(err)
	require.True(t, ok)
	client.AssertNoProducedRecords(t)
}

func TestAsyncRunner_ConnectivityErrorBeforeFirstDispatchIsFatal(t *testing.T) {
	connErr := kafka.NewConsumeError(kafka.ErrorKindConnectivity, errors.New("all brokers down"))
	client := mockkafka.NewClient(mockkafka.WithPollError(connErr))

	r := newRunner(t, client, passthrough())
	_, done := startRunner(t, r)

	err := waitForExit(t, done)
	require.ErrorIs(t, err, connErr)
	require.Equal(t, StateStopped, r.Stats().State)
}

func TestAsyncRunner_ConnectivityErrorAfterDispatchIsRetried(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("a")...)

	r := newRunner(t, client, passthrough())
	stop, done := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 1
		}, 3*time.Second, 10*time.Millisecond,
	)

	var polls atomic.Int32
	client.SetPollErrorFunc(
		func() error {
			if polls.Add(1) <= 3 {
				return kafka.NewConsumeError(kafka.ErrorKindConnectivity, errors.New("broker restarting"))
			}
			return nil
		},
	)
	client.AddRecords("input", 0, mockkafka.ValueRecords("b")...)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 2
		}, 3*time.Second, 10*time.Millisecond,
	)

	select {
	case err := <-done:
		t.Fatalf("runner exited unexpectedly: %v", err)
	default:
	}

	require.NoError(t, stop())
	client.AssertProducedValues(t, "output", "a", "b")
}

func TestAsyncRunner_ProcessingHandlerRetries(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("v")...)

	var calls atomic.Int32
	fn := func(_ context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("flaky")
		}
		return in, nil
	}

	r := newRunner(
		t, client, fn,
		WithProcessingErrorHandler(
			errorhandler.WithMaxAttempts(5, backoff.NewFixed(time.Millisecond), errorhandler.SilentFail()),
		),
	)
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 1
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())
	require.Equal(t, int32(3), calls.Load())
}

func TestAsyncRunner_ProcessingRetryWaitsBetweenAttempts(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("v")...)

	var mu sync.Mutex
	var calls []time.Time
	fn := func(_ context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		mu.Lock()
		defer mu.Unlock()

		calls = append(calls, time.Now())
		if len(calls) < 3 {
			return nil, errors.New("flaky")
		}
		return in, nil
	}

	r := newRunner(
		t, client, fn,
		WithRetryBackoff(backoff.NewFixed(40*time.Millisecond)),
		WithProcessingErrorHandler(
			errorhandler.HandlerFunc(
				func(context.Context, errorhandler.ErrorContext) errorhandler.Action {
					return errorhandler.ActionRetry{}
				},
			),
		),
	)
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 1
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		require.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), 40*time.Millisecond)
	}
}

func TestAsyncRunner_TransformPanicIsFatal(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("v")...)

	fn := func(context.Context, *record.Record[string, string]) (*record.Record[string, string], error) {
		panic("nil map")
	}

	r := newRunner(t, client, fn)
	_, done := startRunner(t, r)

	err := waitForExit(t, done)
	_, ok := pipeline.AsTransformError(err)
	require.True(t, ok)
	require.Contains(t, err.Error(), "nil map")
}

func TestAsyncRunner_CancelDrainsAndCommits(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("200", "200")...)

	l := mocklogger.New()
	r := newRunner(t, client, sleepForValue(), WithLogger(l))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return r.Stats().Dispatched == 2
		}, 3*time.Second, 5*time.Millisecond,
	)

	require.NoError(t, stop(), "cancelling the context is not an error")

	client.AssertProducedValues(t, "output", "200", "200")
	client.AssertCommittedOffset(t, tp0, 2)
	require.Equal(t, StateStopped, r.Stats().State)
	require.Equal(t, 0, r.Stats().InFlight)
	l.AssertCalledWithMessage(t, "Draining in-flight transforms")
}

func TestAsyncRunner_DrainTimeoutCancelsTransforms(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("v")...)

	fn := func(ctx context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	r := newRunner(t, client, fn, WithDrainTimeout(50*time.Millisecond))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return r.Stats().Dispatched == 1
		}, 3*time.Second, 5*time.Millisecond,
	)

	err := stop()
	require.ErrorIs(t, err, context.Canceled, "abandoned work is reported")
	client.AssertNoProducedRecords(t)

	last, _ := client.LastMark(tp0)
	require.Equal(t, int64(0), last)
}

func TestAsyncRunner_RevokeDrainsPartition(t *testing.T) {
	client := mockkafka.NewClient()
	client.AddRecords("input", 0, mockkafka.ValueRecords("100", "100", "100")...)

	r := newRunner(t, client, sleepForValue())
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return r.Stats().Dispatched == 3
		}, 3*time.Second, 5*time.Millisecond,
	)

	client.TriggerRevoke([]kafka.TopicPartition{tp0})

	// revocation returns only after the partition drained
	client.AssertProducedCount(t, 3)
	last, _ := client.LastMark(tp0)
	require.Equal(t, int64(3), last)
	require.Empty(t, r.Stats().Partitions)

	client.TriggerAssign([]kafka.TopicPartition{tp0})
	client.AddRecords("input", 0, mockkafka.ValueRecords("1")...)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 4
		}, 3*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())
}

func TestAsyncRunner_ReassignMidBatchDropsStaleRecords(t *testing.T) {
	client := mockkafka.NewClient()
	r := newRunner(t, client, passthrough())
	r.workCtx = context.Background()
	ctx := context.Background()

	rec := func(offset int64, value string) kafka.ConsumerRecord {
		cr := mockkafka.Record("k", value, mockkafka.AtOffset(offset))
		cr.Topic, cr.Partition = tp0.Topic, tp0.Partition
		return cr
	}

	r.OnAssigned(ctx, []kafka.TopicPartition{tp0})
	stale := r.assignmentGeneration()

	require.NoError(t, r.process(ctx, rec(0, "a"), stale))
	r.OnRevoked(ctx, []kafka.TopicPartition{tp0})
	require.Equal(t, []int64{1}, client.MarkHistory(tp0))

	// the rest of the batch polled before the revocation
	require.NoError(t, r.process(ctx, rec(1, "b"), stale))
	r.OnAssigned(ctx, []kafka.TopicPartition{tp0})
	require.NoError(t, r.process(ctx, rec(2, "c"), stale))

	require.Empty(t, r.Stats().Partitions, "stale records must not create a ledger")
	require.Equal(t, []int64{1}, client.MarkHistory(tp0))

	// the next poll resumes from the committed offset
	require.NoError(t, r.process(ctx, rec(1, "b"), r.assignmentGeneration()))
	require.Eventually(
		t, func() bool {
			last, _ := client.LastMark(tp0)
			return last == 2
		}, 3*time.Second, 5*time.Millisecond,
	)

	client.AssertMarksMonotonic(t, tp0)
	client.AssertProducedValues(t, "output", "a", "b")
	require.Equal(t, []int64{1, 2}, client.MarkHistory(tp0))
}

func TestAsyncRunner_RunTwice(t *testing.T) {
	client := mockkafka.NewClient()
	r := newRunner(t, client, passthrough())
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return r.Stats().State == StateRunning
		}, time.Second, 5*time.Millisecond,
	)
	require.ErrorIs(t, r.Run(context.Background()), ErrAlreadyStarted)
	require.NoError(t, stop())
}

func TestAsyncRunner_FactoryValidation(t *testing.T) {
	factory := NewAsyncRunner()
	client := mockkafka.NewClient()

	_, err := factory(nil, client, client, nil)
	require.Error(t, err)

	_, err = factory(newTestPipeline(t, passthrough()), nil, client, nil)
	require.Error(t, err)
}

func TestAsyncRunner_MultiplePartitionsKeepPerPartitionOrder(t *testing.T) {
	client := mockkafka.NewClient(mockkafka.WithMaxPollRecords(4))
	for p := int32(0); p < 3; p++ {
		values := make([]string, 10)
		for i := range values {
			values[i] = fmt.Sprintf("p%d-%02d", p, i)
		}
		client.AddRecords("input", p, mockkafka.ValueRecords(values...)...)
	}

	fn := func(_ context.Context, in *record.Record[string, string]) (*record.Record[string, string], error) {
		// later offsets finish sooner
		time.Sleep(time.Duration(10-in.Offset) * time.Millisecond)
		return in, nil
	}

	r := newRunner(t, client, fn, WithMaxOutstanding(6), WithOrderPolicy(InputOrder))
	stop, _ := startRunner(t, r)

	require.Eventually(
		t, func() bool {
			return len(client.ProducedRecords()) == 30
		}, 5*time.Second, 10*time.Millisecond,
	)
	require.NoError(t, stop())

	perPartition := map[byte][]string{}
	for _, v := range client.ProducedValues("output") {
		perPartition[v[1]] = append(perPartition[v[1]], v)
	}
	for p, values := range perPartition {
		require.IsIncreasing(t, values, "partition %c", p)
	}
}
