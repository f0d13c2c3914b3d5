package channel

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.Ticker.C
}

func newTimeTicker(d time.Duration) ticker {
	return timeTicker{time.NewTicker(d)}
}

type heartbeat struct {
	ticker ticker
	done   chan struct{}
	once   sync.Once
}

func (h *heartbeat) stop() {
	h.once.Do(func() {
		h.ticker.Stop()
		close(h.done)
	})
}

// StartHeartbeat pings the controller on the command topic every interval, replacing
// any heartbeat already running. The returned func stops this heartbeat.
func (c *Channel) StartHeartbeat(interval time.Duration) func() {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	hb := &heartbeat{
		ticker: c.newTicker(interval),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	old := c.hb
	c.hb = hb
	c.mu.Unlock()
	if old != nil {
		old.stop()
	}

	c.logger.Debug("heartbeat started", zap.Duration("interval", interval))
	go c.runHeartbeat(hb)

	return func() {
		c.mu.Lock()
		if c.hb == hb {
			c.hb = nil
		}
		c.mu.Unlock()
		hb.stop()
	}
}

// StopHeartbeat stops the running heartbeat, if there is one.
func (c *Channel) StopHeartbeat() {
	c.mu.Lock()
	hb := c.hb
	c.hb = nil
	c.mu.Unlock()
	if hb != nil {
		hb.stop()
		c.logger.Debug("heartbeat stopped")
	}
}

func (c *Channel) runHeartbeat(hb *heartbeat) {
	for {
		select {
		case <-hb.done:
			return
		case <-hb.ticker.C():
			c.ping()
		}
	}
}

// ping asks the controller to acknowledge. Pings only go out on a live connection,
// the next connect sends a fresh one anyway.
func (c *Channel) ping() {
	if !c.Connected() {
		return
	}
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return
	}

	body, err := json.Marshal(model.NewPing(c.now()))
	if err != nil {
		c.logger.Error("failed to encode ping", zap.Error(err))
		return
	}
	c.send(client, outbound{topic: c.ns.CommandTopic(), payload: body})
}
