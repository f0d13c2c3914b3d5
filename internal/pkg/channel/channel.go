// Package channel owns the single broker connection used to command the model controller.
//
// A Channel creates its MQTT client lazily on first use and keeps it for the life of the
// process. Publishes made while the broker is unreachable are held on a pending list and
// sent exactly once on the next successful connect; subscriptions are replayed on every
// connect. Each connect also sends a ping and (re)starts the heartbeat.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
	"github.com/anicoll/scalemodel-panel/internal/pkg/mqtt"
)

const (
	DefaultHeartbeatInterval = 5 * time.Second
	defaultTokenTimeout      = 10 * time.Second
	disconnectQuiesceMs      = 250
)

var ErrClosed = errors.New("channel closed")

// MessageHandler receives every message on every subscribed topic.
type MessageHandler func(topic string, payload []byte)

// StateHandler is told about every connection state transition.
type StateHandler func(state model.ConnectionState)

type outbound struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

type Channel struct {
	factory           mqtt.Factory
	ns                model.Namespace
	logger            *zap.Logger
	now               func() time.Time
	newTicker         func(time.Duration) ticker
	heartbeatInterval time.Duration
	pendingLimit      int
	tokenTimeout      time.Duration

	creating singleflight.Group
	handlers listeners[MessageHandler]
	watchers listeners[StateHandler]

	mu      sync.Mutex
	client  mqtt.Client
	state   model.ConnectionState
	closed  bool
	pending []outbound
	topics  map[string]byte
	hb      *heartbeat
}

func New(factory mqtt.Factory, ns model.Namespace, opts ...func(*Channel)) *Channel {
	c := &Channel{
		factory:           factory,
		ns:                ns,
		logger:            zap.L(),
		now:               time.Now,
		newTicker:         newTimeTicker,
		heartbeatInterval: DefaultHeartbeatInterval,
		tokenTimeout:      defaultTokenTimeout,
		state:             model.StateUncreated,
		topics:            map[string]byte{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Channel) Namespace() model.Namespace {
	return c.ns
}

func (c *Channel) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Connected() bool {
	return c.State() == model.StateConnected
}

// Client returns the broker client, creating and connecting it on first use.
// Concurrent first callers share one creation; a failed creation is not remembered,
// so the next caller tries again.
func (c *Channel) Client(ctx context.Context) (mqtt.Client, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.client != nil {
		client := c.client
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	res := c.creating.DoChan("client", func() (any, error) {
		return c.create()
	})
	select {
	case r := <-res:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(mqtt.Client), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Channel) create() (mqtt.Client, error) {
	c.mu.Lock()
	if c.client != nil {
		client := c.client
		c.mu.Unlock()
		return client, nil
	}
	c.mu.Unlock()

	client, err := c.factory(mqtt.Handlers{
		OnConnect:        c.onConnect,
		OnConnectionLost: c.onConnectionLost,
		OnReconnecting:   c.onReconnecting,
		OnMessage:        c.dispatch,
	})
	if err != nil {
		c.logger.Error("failed to create broker client", zap.Error(err))
		return nil, fmt.Errorf("create broker client: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.client = client
	c.mu.Unlock()

	c.setState(model.StateConnecting)
	c.logger.Info("connecting to broker", zap.String("namespace", string(c.ns)))
	go c.watch(client.Connect(), "connect", "")
	return client, nil
}

// Publish sends payload on topic. Strings and byte slices go out untouched, anything
// else is JSON encoded. While the broker is not connected the message waits for the
// next connect and is sent exactly once then; if no connect ever happens it is never
// sent. Broker-side failures are logged, not returned.
func (c *Channel) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) error {
	body, err := encode(payload)
	if err != nil {
		return err
	}
	po := publishOptions{}
	for _, o := range opts {
		o(&po)
	}
	client, err := c.Client(ctx)
	if err != nil {
		return err
	}

	msg := outbound{topic: topic, payload: body, qos: po.qos, retain: po.retain}
	c.mu.Lock()
	if c.state != model.StateConnected {
		c.enqueue(msg)
		c.mu.Unlock()
		c.logger.Debug("deferred publish until connected", zap.String("topic", topic))
		return nil
	}
	c.mu.Unlock()

	c.send(client, msg)
	return nil
}

// enqueue must be called with c.mu held.
func (c *Channel) enqueue(msg outbound) {
	c.pending = append(c.pending, msg)
	if c.pendingLimit > 0 && len(c.pending) > c.pendingLimit {
		dropped := c.pending[0]
		c.pending = c.pending[1:]
		c.logger.Warn("dropped deferred publish", zap.String("topic", dropped.topic), zap.Int("limit", c.pendingLimit))
	}
}

// Subscribe registers interest in topic. The subscription is made now when connected
// and again after every reconnect.
func (c *Channel) Subscribe(ctx context.Context, topic string, opts ...SubscribeOption) error {
	so := subscribeOptions{}
	for _, o := range opts {
		o(&so)
	}
	client, err := c.Client(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.topics[topic] = so.qos
	connected := c.state == model.StateConnected
	c.mu.Unlock()

	if connected {
		c.subscribe(client, topic, so.qos)
	} else {
		c.logger.Debug("deferred subscribe until connected", zap.String("topic", topic))
	}
	return nil
}

// OnMessage adds handler to the dispatch list. Handlers accumulate: registering twice
// delivers every message twice. Call the returned func to unregister.
func (c *Channel) OnMessage(handler MessageHandler) func() {
	return c.handlers.Add(handler)
}

// OnStateChange adds a connection state listener. Call the returned func to unregister.
func (c *Channel) OnStateChange(handler StateHandler) func() {
	return c.watchers.Add(handler)
}

// Close stops the heartbeat and disconnects. The channel cannot be reused.
func (c *Channel) Close() {
	c.StopHeartbeat()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	client := c.client
	c.pending = nil
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesceMs)
		c.setState(model.StateDisconnected)
	}
	c.logger.Info("broker channel closed")
}

func (c *Channel) onConnect() {
	c.mu.Lock()
	if c.client == nil || c.closed {
		c.mu.Unlock()
		return
	}
	client := c.client
	// flip state and drain together so no publish can slip onto the list after the drain
	changed := c.state != model.StateConnected
	c.state = model.StateConnected
	pending := c.pending
	c.pending = nil
	topics := maps.Clone(c.topics)
	c.mu.Unlock()

	c.logger.Info("connected to broker", zap.Int("pending", len(pending)), zap.Int("topics", len(topics)))
	for topic, qos := range topics {
		c.subscribe(client, topic, qos)
	}
	for _, msg := range pending {
		c.send(client, msg)
	}
	c.ping()
	c.StartHeartbeat(c.heartbeatInterval)

	if changed {
		c.notify(model.StateConnected)
	}
}

func (c *Channel) onConnectionLost(err error) {
	c.logger.Warn("lost broker connection", zap.Error(err))
	c.StopHeartbeat()
	c.setState(model.StateDisconnected)
}

func (c *Channel) onReconnecting() {
	c.logger.Debug("reconnecting to broker")
	c.setState(model.StateConnecting)
}

func (c *Channel) setState(state model.ConnectionState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.notify(state)
}

func (c *Channel) notify(state model.ConnectionState) {
	for _, h := range c.watchers.Snapshot() {
		h(state)
	}
}

func (c *Channel) dispatch(topic string, payload []byte) {
	for _, h := range c.handlers.Snapshot() {
		h(topic, payload)
	}
}

func (c *Channel) send(client mqtt.Client, msg outbound) {
	go c.watch(client.Publish(msg.topic, msg.qos, msg.retain, msg.payload), "publish", msg.topic)
}

func (c *Channel) subscribe(client mqtt.Client, topic string, qos byte) {
	go c.watch(client.Subscribe(topic, qos, mqtt.MessageHandler(c.dispatch)), "subscribe", topic)
}

func (c *Channel) watch(token paho_mqtt.Token, op, topic string) {
	done, err := mqtt.WaitToken(token, c.tokenTimeout)
	if !done {
		c.logger.Debug("broker did not confirm in time", zap.String("op", op), zap.String("topic", topic))
		return
	}
	if err != nil {
		c.logger.Warn("broker operation failed", zap.String("op", op), zap.String("topic", topic), zap.Error(err))
	}
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return body, nil
}
