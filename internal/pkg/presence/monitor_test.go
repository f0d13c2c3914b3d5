package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anicoll/scalemodel-panel/internal/pkg/channel"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

const ns = model.Namespace("rsandesh")

type fakeChannel struct {
	mu            sync.Mutex
	state         model.ConnectionState
	subscribed    []string
	subscribeErr  error
	msgHandlers   map[int]channel.MessageHandler
	stateHandlers map[int]channel.StateHandler
	next          int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		state:         model.StateConnected,
		msgHandlers:   map[int]channel.MessageHandler{},
		stateHandlers: map[int]channel.StateHandler{},
	}
}

func (f *fakeChannel) Namespace() model.Namespace { return ns }

func (f *fakeChannel) State() model.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) Subscribe(_ context.Context, topic string, _ ...channel.SubscribeOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeChannel) OnMessage(h channel.MessageHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.msgHandlers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.msgHandlers, id)
	}
}

func (f *fakeChannel) OnStateChange(h channel.StateHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := f.next
	f.stateHandlers[id] = h
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.stateHandlers, id)
	}
}

func (f *fakeChannel) Emit(topic, payload string) {
	f.mu.Lock()
	handlers := make([]channel.MessageHandler, 0, len(f.msgHandlers))
	for _, h := range f.msgHandlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(topic, []byte(payload))
	}
}

func (f *fakeChannel) SetState(state model.ConnectionState) {
	f.mu.Lock()
	f.state = state
	handlers := make([]channel.StateHandler, 0, len(f.stateHandlers))
	for _, h := range f.stateHandlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

func (f *fakeChannel) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgHandlers) + len(f.stateHandlers)
}

// cron logs from its own goroutine, which can outlive a test-bound logger.
func startMonitor(t *testing.T, ch *fakeChannel, clock *fakeClock, opts ...func(*Monitor)) *Monitor {
	t.Helper()
	opts = append([]func(*Monitor){WithMonitorLogger(zap.NewNop())}, opts...)
	m := NewMonitor(ch, NewTracker(clock.Now), opts...)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

func TestMonitor_StartSubscribesAndStopCleansUp(t *testing.T) {
	ch := newFakeChannel()
	m := NewMonitor(ch, NewTracker(nil), WithMonitorLogger(zap.NewNop()))

	require.NoError(t, m.Start(context.Background()))
	assert.ElementsMatch(t, []string{ns.AckTopic(), ns.StatusTopic()}, ch.subscribed)
	assert.Equal(t, 2, ch.handlerCount())

	// starting twice is a no-op
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 2, ch.handlerCount())

	sub, _ := m.Subscribe()
	m.Stop()
	m.Stop()
	assert.Equal(t, 0, ch.handlerCount())

	<-sub // initial snapshot
	_, open := <-sub
	assert.False(t, open)
}

func TestMonitor_StartSubscribeError(t *testing.T) {
	ch := newFakeChannel()
	ch.subscribeErr = errors.New("create broker client: bad url")
	m := NewMonitor(ch, NewTracker(nil), WithMonitorLogger(zap.NewNop()))

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, ch.subscribeErr)
	assert.Equal(t, 0, ch.handlerCount())
}

func TestMonitor_AckMakesDeviceAlive(t *testing.T) {
	tests := map[string]struct {
		payload string
		wantAck model.Ack
	}{
		"json pong":     {payload: `{"type":"pong"}`, wantAck: model.Ack{Type: "pong"}},
		"malformed":     {payload: `{"type":`, wantAck: model.Ack{}},
		"plain text":    {payload: "ok", wantAck: model.Ack{}},
		"empty payload": {payload: "", wantAck: model.Ack{}},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ch := newFakeChannel()
			var got []model.Ack
			m := startMonitor(t, ch, newFakeClock(), WithAckHook(func(ack model.Ack, raw []byte) {
				got = append(got, ack)
				assert.Equal(t, tt.payload, string(raw))
			}))
			assert.False(t, m.Status().DeviceAlive)

			ch.Emit(ns.AckTopic(), tt.payload)
			assert.True(t, m.Status().DeviceAlive)
			assert.True(t, m.IsDeviceAlive(DefaultWindow))
			assert.Equal(t, []model.Ack{tt.wantAck}, got)
		})
	}
}

func TestMonitor_IgnoresOtherTopics(t *testing.T) {
	ch := newFakeChannel()
	m := startMonitor(t, ch, newFakeClock())

	ch.Emit(ns.CommandTopic(), `{"type":"ping"}`)
	ch.Emit("other/ui/ack", "pong")
	assert.False(t, m.Status().DeviceAlive)
}

func TestMonitor_BrokerLossOverridesRecentAck(t *testing.T) {
	ch := newFakeChannel()
	clock := newFakeClock()
	m := startMonitor(t, ch, clock)

	ch.Emit(ns.AckTopic(), "pong")
	clock.Advance(time.Millisecond)
	require.True(t, m.Status().DeviceAlive)

	ch.SetState(model.StateDisconnected)
	status := m.Status()
	assert.False(t, status.BrokerConnected)
	assert.False(t, status.DeviceAlive)
	assert.False(t, m.IsDeviceAlive(DefaultWindow))

	// reconnecting alone does not bring the device back
	ch.SetState(model.StateConnected)
	assert.False(t, m.Status().DeviceAlive)
	ch.Emit(ns.AckTopic(), "pong")
	assert.True(t, m.Status().DeviceAlive)
}

func TestMonitor_StatusTopic(t *testing.T) {
	ch := newFakeChannel()
	m := startMonitor(t, ch, newFakeClock())

	ch.Emit(ns.AckTopic(), "pong")
	require.True(t, m.Status().DeviceAlive)

	ch.Emit(ns.StatusTopic(), "offline")
	assert.False(t, m.Status().DeviceAlive)

	ch.Emit(ns.StatusTopic(), "online")
	assert.True(t, m.Status().DeviceAlive)

	ch.Emit(ns.StatusTopic(), "rebooting")
	assert.True(t, m.Status().DeviceAlive)
}

func TestMonitor_AckTimeline(t *testing.T) {
	ch := newFakeChannel()
	clock := newFakeClock()
	m := startMonitor(t, ch, clock)

	ch.Emit(ns.AckTopic(), `{"type":"pong"}`)
	clock.Advance(5000 * time.Millisecond)
	assert.True(t, m.Status().DeviceAlive, "t=5000ms")

	clock.Advance(8000 * time.Millisecond)
	assert.False(t, m.Status().DeviceAlive, "t=13000ms")

	clock.Advance(500 * time.Millisecond)
	ch.Emit(ns.AckTopic(), `{"type":"pong"}`)
	assert.True(t, m.Status().DeviceAlive, "t=13500ms")
}

func TestMonitor_SubscribeSeesChanges(t *testing.T) {
	ch := newFakeChannel()
	clock := newFakeClock()
	m := startMonitor(t, ch, clock)

	sub, unsubscribe := m.Subscribe()
	initial := <-sub
	assert.False(t, initial.DeviceAlive)
	assert.True(t, initial.BrokerConnected)

	ch.Emit(ns.AckTopic(), "pong")
	next := <-sub
	assert.True(t, next.DeviceAlive)
	require.NotNil(t, next.LastAck)
	assert.Equal(t, clock.Now(), *next.LastAck)

	// nothing changed, nothing sent
	m.Refresh()
	select {
	case s := <-sub:
		t.Fatalf("unexpected snapshot %+v", s)
	default:
	}

	clock.Advance(DefaultWindow + time.Second)
	m.Refresh()
	aged := <-sub
	assert.False(t, aged.DeviceAlive)

	unsubscribe()
	unsubscribe()
	_, open := <-sub
	assert.False(t, open)
}

func TestMonitor_SlowSubscriberGetsNewest(t *testing.T) {
	ch := newFakeChannel()
	m := startMonitor(t, ch, newFakeClock())

	sub, _ := m.Subscribe()
	ch.Emit(ns.AckTopic(), "pong")
	ch.SetState(model.StateDisconnected)

	latest := <-sub
	assert.Equal(t, model.StateDisconnected, latest.State)
	assert.False(t, latest.DeviceAlive)
}

func TestMonitor_AgingJobExpiresDevice(t *testing.T) {
	ch := newFakeChannel()
	clock := newFakeClock()
	m := startMonitor(t, ch, clock, WithAgingInterval(time.Second))

	sub, _ := m.Subscribe()
	<-sub
	ch.Emit(ns.AckTopic(), "pong")
	require.True(t, (<-sub).DeviceAlive)

	clock.Advance(DefaultWindow + time.Millisecond)
	select {
	case s := <-sub:
		assert.False(t, s.DeviceAlive)
	case <-time.After(3 * time.Second):
		t.Fatal("aging job did not expire the device")
	}
}

func TestMonitor_CustomWindow(t *testing.T) {
	ch := newFakeChannel()
	clock := newFakeClock()
	m := startMonitor(t, ch, clock, WithWindow(30*time.Second))

	ch.Emit(ns.AckTopic(), "pong")
	clock.Advance(20 * time.Second)
	assert.True(t, m.Status().DeviceAlive)
	assert.False(t, m.IsDeviceAlive(DefaultWindow))
}

func TestMonitor_LateMessagesDoNotReviveDevice(t *testing.T) {
	ch := newFakeChannel()
	m := startMonitor(t, ch, newFakeClock())

	ch.Emit(ns.AckTopic(), "pong")
	require.True(t, m.IsDeviceAlive(DefaultWindow))

	ch.SetState(model.StateDisconnected)
	// handlers still running from before the drop
	ch.Emit(ns.AckTopic(), "pong")
	ch.Emit(ns.StatusTopic(), "online")
	assert.False(t, m.IsDeviceAlive(DefaultWindow))
	assert.False(t, m.Status().DeviceAlive)

	ch.SetState(model.StateConnected)
	assert.False(t, m.IsDeviceAlive(DefaultWindow))

	ch.Emit(ns.AckTopic(), "pong")
	assert.True(t, m.IsDeviceAlive(DefaultWindow))
}

func TestMonitor_IsDeviceAliveNeedsBroker(t *testing.T) {
	ch := newFakeChannel()
	m := startMonitor(t, ch, newFakeClock())
	m.RecordAck()

	// state flips without the handler having run yet
	ch.mu.Lock()
	ch.state = model.StateConnecting
	ch.mu.Unlock()
	assert.False(t, m.IsDeviceAlive(DefaultWindow))
}

func TestMonitor_RecordAckNotifies(t *testing.T) {
	ch := newFakeChannel()
	m := startMonitor(t, ch, newFakeClock())

	sub, _ := m.Subscribe()
	require.False(t, (<-sub).DeviceAlive)

	m.RecordAck()
	select {
	case s := <-sub:
		assert.True(t, s.DeviceAlive)
	case <-time.After(time.Second):
		t.Fatal("subscriber not told about the ack")
	}
}

func TestMonitor_SubscribeDuringChanges(t *testing.T) {
	ch := newFakeChannel()
	m := startMonitor(t, ch, newFakeClock())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				ch.SetState(model.StateDisconnected)
			} else {
				ch.SetState(model.StateConnected)
				ch.Emit(ns.AckTopic(), "pong")
			}
		}
	}()

	subs := make([]<-chan model.Status, 0, 50)
	for i := 0; i < 50; i++ {
		sub, _ := m.Subscribe()
		subs = append(subs, sub)
	}
	wg.Wait()
	m.Refresh()

	want := m.Status()
	for i, sub := range subs {
		var latest model.Status
	drain:
		for {
			select {
			case s := <-sub:
				latest = s
			default:
				break drain
			}
		}
		assert.True(t, want.Equal(latest), "subscriber %d holds %+v, want %+v", i, latest, want)
	}
}
