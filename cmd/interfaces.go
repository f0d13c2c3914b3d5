package cmd

import (
	"context"
	"time"

	"github.com/anicoll/scalemodel-panel/internal/pkg/channel"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

// Channel defines what the commands expect from the broker channel.
type Channel interface {
	Namespace() model.Namespace
	State() model.ConnectionState
	Publish(ctx context.Context, topic string, payload any, opts ...channel.PublishOption) error
	Subscribe(ctx context.Context, topic string, opts ...channel.SubscribeOption) error
	OnMessage(handler channel.MessageHandler) func()
	OnStateChange(handler channel.StateHandler) func()
	Close()
}

// Journal defines the command journal used by serve.
type Journal interface {
	Record(ctx context.Context, entry model.JournalEntry) error
	Recent(ctx context.Context, limit int) ([]model.JournalEntry, error)
	Cleanup(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
