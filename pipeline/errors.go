package pipeline

import (
	"errors"
	"fmt"

	"github.com/hugolhafner/go-transformer/kafka"
)

// TransformError wraps an error returned by the transform for one record.
type TransformError struct {
	Cause     error
	Partition kafka.TopicPartition
	Offset    int64
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s@%d: %v", e.Partition, e.Offset, e.Cause)
}

func (e *TransformError) Unwrap() error {
	return e.Cause
}

func NewTransformError(cause error, tp kafka.TopicPartition, offset int64) error {
	return &TransformError{
		Cause:     cause,
		Partition: tp,
		Offset:    offset,
	}
}

func AsTransformError(err error) (*TransformError, bool) {
	var te *TransformError
	if errors.As(err, &te) {
		return te, true
	}

	return nil, false
}

// SerdeError wraps errors that occur during key/value serialisation or deserialisation.
type SerdeError struct {
	Cause error
}

func (e *SerdeError) Error() string {
	return e.Cause.Error()
}

func (e *SerdeError) Unwrap() error {
	return e.Cause
}

func NewSerdeError(cause error) error {
	return &SerdeError{Cause: cause}
}

func AsSerdeError(err error) (*SerdeError, bool) {
	var de *SerdeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ProductionError wraps a non-retriable failure to emit a result.
type ProductionError struct {
	Cause  error
	Topic  string
	Offset int64
}

func (e *ProductionError) Error() string {
	return fmt.Sprintf("produce result of offset %d to %s: %v", e.Offset, e.Topic, e.Cause)
}

func (e *ProductionError) Unwrap() error {
	return e.Cause
}

func NewProductionError(cause error, topic string, offset int64) error {
	return &ProductionError{Cause: cause, Topic: topic, Offset: offset}
}

func AsProductionError(err error) (*ProductionError, bool) {
	var pe *ProductionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
