package channel

import (
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is an already completed broker token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

type fakeClient struct {
	mu           sync.Mutex
	connects     int
	disconnected bool
	published    []published
	subscribed   []string
	publishErr   error
}

func (f *fakeClient) Connect() paho_mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return newFakeToken(nil)
}

func (f *fakeClient) Disconnect(_ uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, payload: payload.([]byte), qos: qos, retain: retained})
	return newFakeToken(f.publishErr)
}

func (f *fakeClient) Subscribe(topic string, _ byte, _ paho_mqtt.MessageHandler) paho_mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	return newFakeToken(nil)
}

func (f *fakeClient) PublishedOn(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []published{}
	for _, p := range f.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeClient) Subscriptions(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subscribed {
		if s == topic {
			n++
		}
	}
	return n
}

type fakeTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeTickers struct {
	mu      sync.Mutex
	created []*fakeTicker
	periods []time.Duration
}

func (f *fakeTickers) New(d time.Duration) ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	f.created = append(f.created, t)
	f.periods = append(f.periods, d)
	return t
}

func (f *fakeTickers) Active() []*fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*fakeTicker{}
	for _, t := range f.created {
		if !t.Stopped() {
			out = append(out, t)
		}
	}
	return out
}
