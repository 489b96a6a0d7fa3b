package mockkafka

import (
	"time"
)

// Option configures a Client at construction. Failures can also be scripted
// later through the Set* methods.
type Option func(*Client)

// WithMaxPollRecords caps the records returned by one Poll (default 10).
func WithMaxPollRecords(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxPollRecords = n
		}
	}
}

// WithIdleDelay sets how long an empty Poll waits (default 5ms).
func WithIdleDelay(d time.Duration) Option {
	return func(c *Client) { c.idleDelay = d }
}

// WithQueueFull makes the first n sends fail with kafka.ErrQueueFull.
func WithQueueFull(n int) Option {
	return func(c *Client) { c.queueFullLeft = n }
}

func WithPollError(err error) Option {
	return func(c *Client) { c.pollErr = always(err) }
}

func WithCommitError(err error) Option {
	return func(c *Client) { c.commitErr = always(err) }
}

func WithPingError(err error) Option {
	return func(c *Client) { c.pingErr = err }
}
