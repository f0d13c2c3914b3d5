package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/anicoll/scalemodel-panel/internal/pkg/channel"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

// MockChannel is a mock implementation of the Channel interface. Handlers registered
// through OnMessage and OnStateChange can be driven with Emit and SetState.
type MockChannel struct {
	PublishFunc   func(ctx context.Context, topic string, payload any) error
	SubscribeFunc func(ctx context.Context, topic string) error

	mu            sync.Mutex
	state         model.ConnectionState
	closed        bool
	published     []string
	msgHandlers   map[int]channel.MessageHandler
	stateHandlers map[int]channel.StateHandler
	next          int
}

func NewMockChannel(state model.ConnectionState) *MockChannel {
	return &MockChannel{
		state:         state,
		msgHandlers:   map[int]channel.MessageHandler{},
		stateHandlers: map[int]channel.StateHandler{},
	}
}

func (m *MockChannel) Namespace() model.Namespace { return "rsandesh" }

func (m *MockChannel) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockChannel) Publish(ctx context.Context, topic string, payload any, _ ...channel.PublishOption) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, payload); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch p := payload.(type) {
	case []byte:
		m.published = append(m.published, string(p))
	case string:
		m.published = append(m.published, p)
	}
	return nil
}

func (m *MockChannel) Subscribe(ctx context.Context, topic string, _ ...channel.SubscribeOption) error {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, topic)
	}
	return nil
}

func (m *MockChannel) OnMessage(handler channel.MessageHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.msgHandlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.msgHandlers, id)
	}
}

func (m *MockChannel) OnStateChange(handler channel.StateHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := m.next
	m.stateHandlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.stateHandlers, id)
	}
}

func (m *MockChannel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockChannel) Emit(topic, payload string) {
	m.mu.Lock()
	handlers := make([]channel.MessageHandler, 0, len(m.msgHandlers))
	for _, h := range m.msgHandlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(topic, []byte(payload))
	}
}

func (m *MockChannel) SetState(state model.ConnectionState) {
	m.mu.Lock()
	m.state = state
	handlers := make([]channel.StateHandler, 0, len(m.stateHandlers))
	for _, h := range m.stateHandlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

func (m *MockChannel) Published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.published...)
}

func (m *MockChannel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockJournal is a mock implementation of the Journal interface.
type MockJournal struct {
	CleanupFunc func(ctx context.Context, olderThan time.Time) (int64, error)

	mu      sync.Mutex
	entries []model.JournalEntry
	cleaned []time.Time
	closed  bool
}

func (m *MockJournal) Record(_ context.Context, entry model.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockJournal) Recent(_ context.Context, limit int) ([]model.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.JournalEntry{}
	for i := len(m.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *MockJournal) Cleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	m.cleaned = append(m.cleaned, olderThan)
	m.mu.Unlock()
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx, olderThan)
	}
	return 0, nil
}

func (m *MockJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockJournal) Entries() []model.JournalEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.JournalEntry(nil), m.entries...)
}

func (m *MockJournal) Cleaned() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.cleaned...)
}
