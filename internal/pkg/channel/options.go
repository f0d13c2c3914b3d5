package channel

import (
	"time"

	"go.uber.org/zap"
)

func WithLogger(l *zap.Logger) func(*Channel) {
	return func(c *Channel) {
		c.logger = l
	}
}

func WithClock(now func() time.Time) func(*Channel) {
	return func(c *Channel) {
		c.now = now
	}
}

// WithHeartbeatInterval sets the period used by the heartbeat started on every connect.
func WithHeartbeatInterval(d time.Duration) func(*Channel) {
	return func(c *Channel) {
		c.heartbeatInterval = d
	}
}

// WithPendingLimit bounds the publishes deferred while disconnected; the oldest are dropped first.
// Zero means unbounded.
func WithPendingLimit(n int) func(*Channel) {
	return func(c *Channel) {
		c.pendingLimit = n
	}
}

// WithTokenTimeout bounds how long a background watcher waits on a broker acknowledgement.
func WithTokenTimeout(d time.Duration) func(*Channel) {
	return func(c *Channel) {
		c.tokenTimeout = d
	}
}

type publishOptions struct {
	qos    byte
	retain bool
}

type PublishOption func(*publishOptions)

func WithQoS(qos byte) PublishOption {
	return func(o *publishOptions) {
		o.qos = qos
	}
}

func WithRetain() PublishOption {
	return func(o *publishOptions) {
		o.retain = true
	}
}

type subscribeOptions struct {
	qos byte
}

type SubscribeOption func(*subscribeOptions)

func WithSubscribeQoS(qos byte) SubscribeOption {
	return func(o *subscribeOptions) {
		o.qos = qos
	}
}
