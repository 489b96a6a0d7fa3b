package mockkafka

import (
	"github.com/hugolhafner/go-transformer/kafka"
)

// script holds the scripted failures of a Client. Fields are guarded by the
// client's mutex.
type script struct {
	queueFullLeft int

	sendErr   func(topic string, key, value []byte) error
	pollErr   func() error
	markErr   func(tp kafka.TopicPartition, offset kafka.Offset) error
	commitErr func() error
	flushErr  error
	pingErr   error
}

func (s *script) pollFailure() error {
	if s.pollErr == nil {
		return nil
	}
	return s.pollErr()
}

func (s *script) commitFailure() error {
	if s.commitErr == nil {
		return nil
	}
	return s.commitErr()
}

// always turns a fixed error into a hook, or clears the hook for nil.
func always(err error) func() error {
	if err == nil {
		return nil
	}
	return func() error { return err }
}

// SetQueueFull makes the next n sends fail with kafka.ErrQueueFull.
func (c *Client) SetQueueFull(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueFullLeft = n
}

// SetSendError fails every send with err. Nil clears it.
func (c *Client) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendErr = nil
	if err != nil {
		c.sendErr = func(string, []byte, []byte) error { return err }
	}
}

// SetSendErrorFunc decides the result of each send with fn.
func (c *Client) SetSendErrorFunc(fn func(topic string, key, value []byte) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = fn
}

// SetPollError fails every poll with err. Nil clears it.
func (c *Client) SetPollError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollErr = always(err)
}

func (c *Client) SetPollErrorFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollErr = fn
}

func (c *Client) SetMarkErrorFunc(fn func(tp kafka.TopicPartition, offset kafka.Offset) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markErr = fn
}

// SetCommitError fails every commit with err. Nil clears it.
func (c *Client) SetCommitError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitErr = always(err)
}

func (c *Client) SetFlushError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushErr = err
}
