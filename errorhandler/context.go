package errorhandler

import (
	"github.com/hugolhafner/go-transformer/kafka"
)

// ErrorContext carries what a handler needs to decide how to react to an error.
type ErrorContext struct {
	// Record is the input record involved, zero for errors not tied to a record
	// such as a failed poll.
	Record kafka.ConsumerRecord

	Error error

	// Attempt is the current attempt number, 1 indexed.
	Attempt int

	Phase ErrorPhase

	// Dispatched reports whether the engine had dispatched at least one
	// record to the transform before this error.
	Dispatched bool
}

func NewErrorContext(record kafka.ConsumerRecord, err error) ErrorContext {
	return ErrorContext{
		Record:  record.Copy(),
		Error:   err,
		Attempt: 1,
	}
}

func (ec ErrorContext) WithError(err error) ErrorContext {
	ec.Error = err
	return ec
}

func (ec ErrorContext) WithAttempt(attempt int) ErrorContext {
	ec.Attempt = attempt
	return ec
}

func (ec ErrorContext) WithPhase(phase ErrorPhase) ErrorContext {
	ec.Phase = phase
	return ec
}

func (ec ErrorContext) WithDispatched(dispatched bool) ErrorContext {
	ec.Dispatched = dispatched
	return ec
}

func (ec ErrorContext) IncrementAttempt() ErrorContext {
	ec.Attempt++
	return ec
}
