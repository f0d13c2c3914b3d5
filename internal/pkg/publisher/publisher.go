package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anicoll/scalemodel-panel/internal/pkg/channel"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

const recordTimeout = 5 * time.Second

var errAlreadyRegistered = errors.New("recorder already registered")

type recorder interface {
	// Record stores one journal entry.
	Record(ctx context.Context, entry model.JournalEntry) error
}

type channelService interface {
	Namespace() model.Namespace
	Publish(ctx context.Context, topic string, payload any, opts ...channel.PublishOption) error
}

// Dispatcher publishes commands to the controller and fans every command and
// acknowledgement out to the registered recorders.
type Dispatcher struct {
	ch     channelService
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	recorders map[string]recorder
}

func New(ch channelService) *Dispatcher {
	return &Dispatcher{
		ch:        ch,
		logger:    zap.L(),
		now:       time.Now,
		recorders: map[string]recorder{},
	}
}

func (d *Dispatcher) RegisterRecorder(name string, r recorder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.recorders[name]; ok {
		return errAlreadyRegistered
	}
	d.recorders[name] = r
	return nil
}

// Send validates cmd and publishes it on the command topic. Like the channel itself it
// does not wait for the broker; a nil error means the command was sent or queued.
func (d *Dispatcher) Send(ctx context.Context, cmd model.Command) error {
	if cmd.Type == model.Ping && cmd.TS == 0 {
		cmd.TS = d.now().UnixMilli()
	}
	if err := cmd.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	topic := d.ch.Namespace().CommandTopic()
	if err := d.ch.Publish(ctx, topic, body); err != nil {
		return err
	}
	d.logger.Info("sent command", zap.String("type", cmd.Type.String()), zap.String("item", cmd.Item), zap.String("wing", cmd.Wing))

	d.record(ctx, model.JournalEntry{
		Direction: model.Outbound,
		Topic:     topic,
		Type:      cmd.Type,
		Payload:   string(body),
	})
	return nil
}

// RecordInbound journals an acknowledgement. Its signature matches presence.AckHook.
func (d *Dispatcher) RecordInbound(ack model.Ack, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	d.record(ctx, model.JournalEntry{
		Direction: model.Inbound,
		Topic:     d.ch.Namespace().AckTopic(),
		Type:      ack.Type,
		Payload:   string(raw),
	})
}

func (d *Dispatcher) record(ctx context.Context, entry model.JournalEntry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.recorders) == 0 {
		return
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = d.now().UTC()
	for name, r := range d.recorders {
		if err := r.Record(ctx, entry); err != nil {
			d.logger.Error("failed to record journal entry", zap.Error(err), zap.String("recorder", name))
			continue
		}
		d.logger.Debug("recorded journal entry", zap.String("recorder", name), zap.String("direction", string(entry.Direction)))
	}
}
