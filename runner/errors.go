package runner

import (
	"errors"
	"fmt"

	"github.com/hugolhafner/go-transformer/kafka"
)

var (
	// ErrCapacityExceeded is returned when a partition set is already full.
	// The concurrency gate makes this unreachable, so it is always fatal.
	ErrCapacityExceeded = errors.New("runner: partition set capacity exceeded")

	ErrAlreadyStarted = errors.New("runner: already started")

	errPartitionRevoked = errors.New("runner: partition revoked")
)

// ResumeError is returned when a resume offset could not be recorded.
type ResumeError struct {
	Cause     error
	Partition kafka.TopicPartition
	Offset    int64
}

func (e *ResumeError) Error() string {
	return fmt.Sprintf("record resume offset %d for %s: %v", e.Offset, e.Partition, e.Cause)
}

func (e *ResumeError) Unwrap() error {
	return e.Cause
}

func NewResumeError(cause error, tp kafka.TopicPartition, offset int64) error {
	return &ResumeError{Cause: cause, Partition: tp, Offset: offset}
}

func AsResumeError(err error) (*ResumeError, bool) {
	var re *ResumeError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// FatalError is returned by Run when the runner stopped because of an
// unrecoverable error rather than a cancelled context.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return "runner stopped: " + e.Cause.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

func AsFatalError(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
