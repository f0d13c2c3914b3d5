package presence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/anicoll/scalemodel-panel/internal/pkg/channel"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
	"github.com/anicoll/scalemodel-panel/internal/pkg/schedule"
)

const DefaultAgingInterval = 2 * time.Second

type channelService interface {
	Namespace() model.Namespace
	State() model.ConnectionState
	Subscribe(ctx context.Context, topic string, opts ...channel.SubscribeOption) error
	OnMessage(handler channel.MessageHandler) func()
	OnStateChange(handler channel.StateHandler) func()
}

// AckHook sees every message on the ack topic after liveness has been recorded.
// ack is the zero value when the body was not JSON.
type AckHook func(ack model.Ack, raw []byte)

// Monitor wires a Tracker to the channel: it routes ack and status messages, forgets
// the device when the broker goes away, and periodically re-evaluates liveness so
// subscribers see the device age out.
type Monitor struct {
	ch            channelService
	tracker       *Tracker
	window        time.Duration
	agingInterval time.Duration
	logger        *zap.Logger
	ackHook       AckHook

	mu       sync.Mutex
	started  bool
	cron     *cron.Cron
	removers []func()
	last     model.Status
	subs     map[int]chan model.Status
	nextSub  int
}

func WithWindow(d time.Duration) func(*Monitor) {
	return func(m *Monitor) {
		m.window = d
	}
}

func WithAgingInterval(d time.Duration) func(*Monitor) {
	return func(m *Monitor) {
		m.agingInterval = d
	}
}

func WithMonitorLogger(l *zap.Logger) func(*Monitor) {
	return func(m *Monitor) {
		m.logger = l
	}
}

func WithAckHook(h AckHook) func(*Monitor) {
	return func(m *Monitor) {
		m.ackHook = h
	}
}

func NewMonitor(ch channelService, tracker *Tracker, opts ...func(*Monitor)) *Monitor {
	m := &Monitor{
		ch:            ch,
		tracker:       tracker,
		window:        DefaultWindow,
		agingInterval: DefaultAgingInterval,
		logger:        zap.L(),
		subs:          map[int]chan model.Status{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start registers the handlers, subscribes to the ack and status topics and starts
// the aging job. Subscribing creates the broker client if needed, so a client
// creation failure is returned here.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.removers = append(m.removers,
		m.ch.OnMessage(m.handleMessage),
		m.ch.OnStateChange(m.handleState),
	)
	m.cron = schedule.New(m.logger)
	m.cron.Schedule(cron.Every(m.agingInterval), cron.FuncJob(m.Refresh))
	m.cron.Start()
	m.mu.Unlock()

	ns := m.ch.Namespace()
	for _, topic := range []string{ns.AckTopic(), ns.StatusTopic()} {
		if err := m.ch.Subscribe(ctx, topic); err != nil {
			m.Stop()
			return err
		}
	}
	m.logger.Info("presence monitor started", zap.Duration("window", m.window), zap.Duration("aging_interval", m.agingInterval))
	m.Refresh()
	return nil
}

// Stop unregisters the handlers, stops the aging job and closes every subscription.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	removers := m.removers
	m.removers = nil
	c := m.cron
	m.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	// the aging job takes m.mu, so wait for it unlocked
	<-c.Stop().Done()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		close(sub)
		delete(m.subs, id)
	}
}

// RecordAck marks the device as heard from now and notifies subscribers.
func (m *Monitor) RecordAck() {
	m.tracker.RecordAck()
	m.Refresh()
}

// IsDeviceAlive reports whether an ack arrived within window. It is always false while
// the broker is not connected.
func (m *Monitor) IsDeviceAlive(window time.Duration) bool {
	return m.ch.State() == model.StateConnected && m.tracker.IsDeviceAlive(window)
}

// Status computes the current snapshot. The device is never reported alive while the
// broker is down.
func (m *Monitor) Status() model.Status {
	state := m.ch.State()
	connected := state == model.StateConnected
	status := model.Status{
		State:           state,
		BrokerConnected: connected,
		DeviceAlive:     connected && m.tracker.IsDeviceAlive(m.window),
	}
	if last, ok := m.tracker.LastAck(); ok {
		status.LastAck = &last
	}
	return status
}

// Subscribe returns a channel carrying status snapshots whenever they change, starting
// with the current one. Slow readers only ever see the newest snapshot.
func (m *Monitor) Subscribe() (<-chan model.Status, func()) {
	sub := make(chan model.Status, 1)

	// snapshot and register together so no change slips between them
	m.mu.Lock()
	sub <- m.Status()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = sub
	m.mu.Unlock()

	return sub, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if s, ok := m.subs[id]; ok {
			close(s)
			delete(m.subs, id)
		}
	}
}

// Refresh re-evaluates liveness and notifies subscribers if anything changed.
func (m *Monitor) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := m.Status()
	if status.Equal(m.last) {
		return
	}
	if status.DeviceAlive != m.last.DeviceAlive {
		m.logger.Info("device liveness changed", zap.Bool("alive", status.DeviceAlive), zap.Stringer("broker", status.State))
	}
	m.last = status
	for _, sub := range m.subs {
		offer(sub, status)
	}
}

func offer(sub chan model.Status, status model.Status) {
	select {
	case sub <- status:
		return
	default:
	}
	select {
	case <-sub:
	default:
	}
	select {
	case sub <- status:
	default:
	}
}

func (m *Monitor) handleMessage(topic string, payload []byte) {
	ns := m.ch.Namespace()
	// a message handled after the broker dropped must not revive the device
	connected := m.ch.State() == model.StateConnected
	switch topic {
	case ns.AckTopic():
		if connected {
			m.tracker.RecordAck()
		} else {
			m.logger.Debug("ignoring ack while broker is not connected")
		}
		ack, err := model.ParseAck(payload)
		if err != nil {
			m.logger.Debug("ignoring malformed ack body", zap.ByteString("payload", payload), zap.Error(err))
			ack = model.Ack{}
		}
		if m.ackHook != nil {
			m.ackHook(ack, payload)
		}
	case ns.StatusTopic():
		switch model.DeviceStatus(strings.TrimSpace(string(payload))) {
		case model.DeviceOnline:
			if !connected {
				m.logger.Debug("ignoring online status while broker is not connected")
				return
			}
			m.tracker.RecordAck()
		case model.DeviceOffline:
			m.tracker.Forget()
		default:
			m.logger.Debug("ignoring unknown device status", zap.ByteString("payload", payload))
			return
		}
	default:
		return
	}
	m.Refresh()
}

func (m *Monitor) handleState(state model.ConnectionState) {
	if state == model.StateDisconnected {
		// broker down means the device cannot be vouched for
		m.tracker.Forget()
	}
	m.Refresh()
}
