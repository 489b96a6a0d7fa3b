package kafka

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull signals transient backpressure from a producer.
	ErrQueueFull = errors.New("kafka: producer queue full")
	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("kafka: client closed")
)

type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindConnectivity covers brokers being unreachable.
	ErrorKindConnectivity
	// ErrorKindAuthorization covers authentication and ACL failures.
	ErrorKindAuthorization
	// ErrorKindDeserialization covers payloads the client itself could not decode.
	ErrorKindDeserialization
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindConnectivity:
		return "connectivity"
	case ErrorKindAuthorization:
		return "authorization"
	case ErrorKindDeserialization:
		return "deserialization"
	default:
		return "unknown"
	}
}

// ConsumeError is returned by Consumer.Poll when the fetch failed.
type ConsumeError struct {
	Kind      ErrorKind
	Topic     string
	Partition int32
	Err       error
}

func NewConsumeError(kind ErrorKind, err error) *ConsumeError {
	return &ConsumeError{Kind: kind, Partition: -1, Err: err}
}

func (e *ConsumeError) Error() string {
	if e.Topic != "" {
		return fmt.Sprintf("consume %s error on %s[%d]: %v", e.Kind, e.Topic, e.Partition, e.Err)
	}
	return fmt.Sprintf("consume %s error: %v", e.Kind, e.Err)
}

func (e *ConsumeError) Unwrap() error {
	return e.Err
}

func AsConsumeError(err error) (*ConsumeError, bool) {
	var ce *ConsumeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsConnectivityOrAuth reports whether err is a consume error that suggests
// the client never had a working connection to the cluster.
func IsConnectivityOrAuth(err error) bool {
	ce, ok := AsConsumeError(err)
	if !ok {
		return false
	}
	return ce.Kind == ErrorKindConnectivity || ce.Kind == ErrorKindAuthorization
}
