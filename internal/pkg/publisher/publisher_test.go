package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/scalemodel-panel/internal/pkg/channel"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

// MockChannel is a mock implementation of channelService.
type MockChannel struct {
	PublishFunc func(ctx context.Context, topic string, payload any) error
}

func (m *MockChannel) Namespace() model.Namespace { return "rsandesh" }

func (m *MockChannel) Publish(ctx context.Context, topic string, payload any, _ ...channel.PublishOption) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, payload)
	}
	return nil
}

// MockRecorder is a mock implementation of recorder.
type MockRecorder struct {
	RecordFunc func(ctx context.Context, entry model.JournalEntry) error
	entries    []model.JournalEntry
}

func (m *MockRecorder) Record(ctx context.Context, entry model.JournalEntry) error {
	m.entries = append(m.entries, entry)
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, entry)
	}
	return nil
}

func newDispatcher(t *testing.T, ch channelService) *Dispatcher {
	d := New(ch)
	d.logger = zaptest.NewLogger(t)
	d.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return d
}

func TestDispatcher_Send(t *testing.T) {
	tests := map[string]struct {
		cmd     model.Command
		want    string
		wantErr error
	}{
		"all off":      {cmd: model.Command{Type: model.AllOff}, want: `{"type":"all_off"}`},
		"podium":       {cmd: model.NewItemCommand(model.Podium, "Parking"), want: `{"type":"podium","item":"Parking"}`},
		"wing click":   {cmd: model.NewWingCommand(model.WingClick, "b-wing"), want: `{"type":"wing_click","wing":"b-wing"}`},
		"ping stamped": {cmd: model.Command{Type: model.Ping}, want: `{"type":"ping","ts":1700000000000}`},
		"invalid":      {cmd: model.Command{Type: model.BHK}, wantErr: model.ErrInvalidCommand},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var gotTopic string
			var gotBody []byte
			d := newDispatcher(t, &MockChannel{PublishFunc: func(_ context.Context, topic string, payload any) error {
				gotTopic = topic
				gotBody = payload.([]byte)
				return nil
			}})
			rec := &MockRecorder{}
			require.NoError(t, d.RegisterRecorder("memory", rec))

			err := d.Send(context.Background(), tt.cmd)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Empty(t, rec.entries)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "rsandesh/ui/cmd", gotTopic)
			assert.JSONEq(t, tt.want, string(gotBody))

			require.Len(t, rec.entries, 1)
			entry := rec.entries[0]
			assert.Equal(t, model.Outbound, entry.Direction)
			assert.Equal(t, tt.cmd.Type, entry.Type)
			assert.JSONEq(t, tt.want, entry.Payload)
			assert.NotEmpty(t, entry.ID)
			assert.Equal(t, time.UnixMilli(1700000000000).UTC(), entry.CreatedAt)
		})
	}
}

func TestDispatcher_SendPublishError(t *testing.T) {
	errClosed := errors.New("channel closed")
	d := newDispatcher(t, &MockChannel{PublishFunc: func(context.Context, string, any) error {
		return errClosed
	}})
	rec := &MockRecorder{}
	require.NoError(t, d.RegisterRecorder("memory", rec))

	err := d.Send(context.Background(), model.Command{Type: model.AllOn})
	assert.ErrorIs(t, err, errClosed)
	assert.Empty(t, rec.entries)
}

func TestDispatcher_RecorderFailureIsNotFatal(t *testing.T) {
	d := newDispatcher(t, &MockChannel{})
	failing := &MockRecorder{RecordFunc: func(context.Context, model.JournalEntry) error {
		return errors.New("db down")
	}}
	ok := &MockRecorder{}
	require.NoError(t, d.RegisterRecorder("failing", failing))
	require.NoError(t, d.RegisterRecorder("ok", ok))

	require.NoError(t, d.Send(context.Background(), model.Command{Type: model.Pattern}))
	assert.Len(t, failing.entries, 1)
	assert.Len(t, ok.entries, 1)
}

func TestDispatcher_RegisterTwice(t *testing.T) {
	d := newDispatcher(t, &MockChannel{})
	require.NoError(t, d.RegisterRecorder("postgres", &MockRecorder{}))
	assert.ErrorIs(t, d.RegisterRecorder("postgres", &MockRecorder{}), errAlreadyRegistered)
}

func TestDispatcher_RecordInbound(t *testing.T) {
	d := newDispatcher(t, &MockChannel{})
	rec := &MockRecorder{}
	require.NoError(t, d.RegisterRecorder("memory", rec))

	d.RecordInbound(model.Ack{Type: "pong"}, []byte(`{"type":"pong"}`))
	d.RecordInbound(model.Ack{}, []byte("garbage"))

	require.Len(t, rec.entries, 2)
	assert.Equal(t, model.Inbound, rec.entries[0].Direction)
	assert.Equal(t, "rsandesh/ui/ack", rec.entries[0].Topic)
	assert.Equal(t, model.CommandType("pong"), rec.entries[0].Type)
	assert.Equal(t, "garbage", rec.entries[1].Payload)
	assert.NotEqual(t, rec.entries[0].ID, rec.entries[1].ID)
}

func TestDispatcher_NoRecorders(t *testing.T) {
	d := newDispatcher(t, &MockChannel{})
	assert.NoError(t, d.Send(context.Background(), model.Command{Type: model.Surround}))
	d.RecordInbound(model.Ack{}, nil)
}
