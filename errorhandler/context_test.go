//go:build unit

package errorhandler_test

import (
	"errors"
	"testing"
	"time"

	"github.com/hugolhafner/go-transformer/errorhandler"
	"github.com/hugolhafner/go-transformer/kafka"
	"github.com/stretchr/testify/require"
)

func testRecord() kafka.ConsumerRecord {
	return kafka.ConsumerRecord{
		Key:   []byte("key-123"),
		Value: []byte("value-123"),
		Headers: []kafka.Header{
			{Key: "header-1", Value: []byte("value-1")},
		},
		Topic:       "test-topic",
		Partition:   1,
		Offset:      10,
		LeaderEpoch: 2,
		Timestamp:   time.Now(),
	}
}

func TestNewErrorContext(t *testing.T) {
	record := testRecord()

	ec := errorhandler.NewErrorContext(record, nil)

	require.Equal(t, record, ec.Record)
	require.Nil(t, ec.Error)
	require.Equal(t, 1, ec.Attempt)
	require.Equal(t, errorhandler.PhaseUnknown, ec.Phase)
	require.False(t, ec.Dispatched)
}

func TestNewErrorContext_Copy(t *testing.T) {
	record := testRecord()

	ec := errorhandler.NewErrorContext(record, nil)

	record.Key[0] = 'X'
	record.Headers[0].Value[0] = 'X'

	require.Equal(t, []byte("key-123"), ec.Record.Key)
	require.Equal(t, []byte("value-1"), ec.Record.Headers[0].Value)
}

func TestErrorContext_With(t *testing.T) {
	testErr := errors.New("boom")
	ec := errorhandler.NewErrorContext(testRecord(), nil)

	updated := ec.
		WithError(testErr).
		WithAttempt(3).
		WithPhase(errorhandler.PhaseProcessing).
		WithDispatched(true).
		IncrementAttempt()

	require.Equal(t, testErr, updated.Error)
	require.Equal(t, 4, updated.Attempt)
	require.Equal(t, errorhandler.PhaseProcessing, updated.Phase)
	require.True(t, updated.Dispatched)

	// value receiver: the original is untouched
	require.Nil(t, ec.Error)
	require.Equal(t, 1, ec.Attempt)
}
