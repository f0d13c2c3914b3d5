package schedule

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// zapLogger satisfies cron.Logger on top of zap.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// New returns a cron runner that logs through logger and survives panicking jobs.
func New(logger *zap.Logger, opts ...cron.Option) *cron.Cron {
	l := zapLogger{sugar: logger.Sugar()}
	opts = append([]cron.Option{
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l)),
	}, opts...)
	return cron.New(opts...)
}
