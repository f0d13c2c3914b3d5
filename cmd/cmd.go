package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/scalemodel-panel/internal/pkg/channel"
	"github.com/anicoll/scalemodel-panel/internal/pkg/config"
	"github.com/anicoll/scalemodel-panel/internal/pkg/controls"
	"github.com/anicoll/scalemodel-panel/internal/pkg/database"
	"github.com/anicoll/scalemodel-panel/internal/pkg/database/migration"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
	"github.com/anicoll/scalemodel-panel/internal/pkg/mqtt"
	"github.com/anicoll/scalemodel-panel/internal/pkg/presence"
	"github.com/anicoll/scalemodel-panel/internal/pkg/publisher"
	"github.com/anicoll/scalemodel-panel/internal/pkg/schedule"
	"github.com/anicoll/scalemodel-panel/internal/pkg/server"
	"github.com/anicoll/scalemodel-panel/pkg/hasher"
	"github.com/anicoll/scalemodel-panel/pkg/sockets"
)

const journalCleanupSpec = "0 3 * * *"

var errNotConnected = errors.New("broker not connected in time")

// PanelCommand runs the panel service: broker channel, presence, HTTP API and the
// optional journal.
func PanelCommand(c *cli.Context) error {
	cfg, err := configFromCli(c)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()

	var journal Journal
	if cfg.JournalCfg.Enabled() {
		if err := migration.Migrate(cfg.JournalCfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
		db, err := database.NewDatabase(c.Context, cfg.JournalCfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		journal = db
	}

	return run(c.Context, cfg, newChannel(cfg, logger), journal)
}

// SendCommand publishes one command and exits once it has been handed to the broker.
func SendCommand(c *cli.Context) error {
	cfg, err := configFromCli(c)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	cmd := model.Command{
		Type: model.CommandType(c.String("type")),
		Item: c.String("item"),
		Wing: c.String("wing"),
	}
	ch := newChannel(cfg, logger)
	defer ch.Close()
	return sendOne(c.Context, ch, cmd, c.Duration("timeout"))
}

// WatchCommand prints status snapshots until interrupted, either from a running
// panel's websocket stream or straight from the broker.
func WatchCommand(c *cli.Context) error {
	cfg, err := configFromCli(c)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if url := c.String("server"); url != "" {
		opts := []func(*sockets.Conn){
			sockets.WithPingInterval(c.Duration("ping-interval")),
			sockets.OnConnected(func(sockets.Connection) {
				logger.Info("watching status stream", zap.String("url", url))
			}),
		}
		if c.Bool("insecure") {
			opts = append(opts, sockets.InsecureSkipVerify())
		}
		return watchRemote(c.Context, url, c.App.Writer, opts...)
	}
	ch := newChannel(cfg, logger)
	defer ch.Close()
	return watch(c.Context, cfg, ch, c.App.Writer)
}

// HashPasswordCommand prints the bcrypt hash to use as ADMIN_PASSWORD_HASH.
func HashPasswordCommand(c *cli.Context) error {
	hash, err := hasher.HashPassword([]byte(c.String("password")))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, hash)
	return err
}

func configFromCli(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if c.IsSet("mqtt-url") {
		cfg.MqttCfg.URL = c.String("mqtt-url")
	}
	if c.IsSet("mqtt-user") {
		cfg.MqttCfg.Username = c.String("mqtt-user")
	}
	if c.IsSet("mqtt-pass") {
		cfg.MqttCfg.Password = c.String("mqtt-pass")
	}
	if c.IsSet("mqtt-project") {
		cfg.MqttCfg.Project = c.String("mqtt-project")
	}
	if c.IsSet("heartbeat-interval") {
		cfg.PresenceCfg.HeartbeatInterval = c.Duration("heartbeat-interval")
	}
	if c.IsSet("liveness-window") {
		cfg.PresenceCfg.LivenessWindow = c.Duration("liveness-window")
	}
	if c.IsSet("http-addr") {
		cfg.HttpCfg.Addr = c.String("http-addr")
	}
	if c.IsSet("database-url") {
		cfg.JournalCfg.DatabaseURL = c.String("database-url")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	return cfg, nil
}

func setupLogger(level string) (*zap.Logger, error) {
	var err error
	logCfg := zap.NewProductionConfig()

	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newChannel(cfg *config.Config, logger *zap.Logger) *channel.Channel {
	return channel.New(
		mqtt.NewFactory(cfg.MqttCfg),
		model.Namespace(cfg.MqttCfg.Project),
		channel.WithLogger(logger),
		channel.WithHeartbeatInterval(cfg.PresenceCfg.HeartbeatInterval),
		channel.WithPendingLimit(cfg.MqttCfg.PendingLimit),
	)
}

func run(ctx context.Context, cfg *config.Config, ch Channel, journal Journal) error {
	logger := zap.L()
	defer ch.Close()

	dispatcher := publisher.New(ch)
	if journal != nil {
		if err := dispatcher.RegisterRecorder("postgres", journal); err != nil {
			return err
		}
	}

	monitor := presence.NewMonitor(ch, presence.NewTracker(nil),
		presence.WithWindow(cfg.PresenceCfg.LivenessWindow),
		presence.WithAgingInterval(cfg.PresenceCfg.AgingInterval),
		presence.WithAckHook(dispatcher.RecordInbound),
	)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	catalogue, err := controls.Default()
	if err != nil {
		return err
	}

	srvOpts, err := serverOptions(cfg, journal)
	if err != nil {
		return err
	}
	api, err := server.New(ctx, monitor, dispatcher, catalogue, srvOpts...)
	if err != nil {
		return err
	}
	defer api.Close()
	handler, err := api.Handler()
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{
		Handler:      handler,
		Addr:         cfg.HttpCfg.Addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	eg.Go(func() error {
		logger.Info("serving http", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("context done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		api.Close()
		return httpSrv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		return api.StreamStatus(ctx)
	})

	if journal != nil {
		eg.Go(func() error {
			return cronJournalCleanup(ctx, journal, cfg.JournalCfg.Retention)
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serverOptions(cfg *config.Config, journal Journal) ([]server.Option, error) {
	opts := []server.Option{}
	if journal != nil {
		opts = append(opts, server.WithJournal(journal))
	}
	if cfg.HttpCfg.AuthEnabled() {
		secret := cfg.HttpCfg.JwtSecret
		if secret == "" {
			generated, err := hasher.GenerateToken(32)
			if err != nil {
				return nil, err
			}
			secret = generated
			zap.L().Warn("JWT_SECRET not set, tokens will not survive a restart")
		}
		opts = append(opts, server.WithAuth(cfg.HttpCfg.AdminPasswordHash, []byte(secret), cfg.HttpCfg.TokenTTL))
	}
	return opts, nil
}

func cronJournalCleanup(ctx context.Context, journal Journal, retention time.Duration) error {
	logger := zap.L()
	cleanup := func() {
		removed, err := journal.Cleanup(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Error("error cleaning up journal", zap.Error(err))
			return
		}
		logger.Info("journal cleaned up", zap.Int64("removed", removed), zap.Duration("retention", retention))
	}
	cleanup()

	c := schedule.New(logger)
	if _, err := c.AddFunc(journalCleanupSpec, cleanup); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// sendOne publishes cmd and waits until the broker connection is up, so the deferred
// publish has been handed over before the caller disconnects.
func sendOne(ctx context.Context, ch Channel, cmd model.Command, timeout time.Duration) error {
	connected := make(chan struct{}, 1)
	remove := ch.OnStateChange(func(state model.ConnectionState) {
		if state != model.StateConnected {
			return
		}
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	defer remove()

	if err := publisher.New(ch).Send(ctx, cmd); err != nil {
		return err
	}
	if ch.State() == model.StateConnected {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-connected:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w after %s", errNotConnected, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// watch prints one JSON status line per change until ctx ends.
func watch(ctx context.Context, cfg *config.Config, ch Channel, out io.Writer) error {
	monitor := presence.NewMonitor(ch, presence.NewTracker(nil),
		presence.WithWindow(cfg.PresenceCfg.LivenessWindow),
		presence.WithAgingInterval(cfg.PresenceCfg.AgingInterval),
	)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	updates, unsubscribe := monitor.Subscribe()
	defer unsubscribe()
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case status, ok := <-updates:
			if !ok {
				return nil
			}
			if err := enc.Encode(status); err != nil {
				return err
			}
		}
	}
}

// watchRemote copies a running panel's status stream to out until ctx ends or the
// server goes away. A keepalive ping is sent when the options set an interval.
func watchRemote(ctx context.Context, url string, out io.Writer, opts ...func(*sockets.Conn)) error {
	lines := make(chan []byte, 16)
	failed := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	conn := sockets.New(append([]func(*sockets.Conn){
		sockets.WithPingMsg([]byte("ping")),
		sockets.OnMessage(func(msg []byte, _ sockets.Connection) {
			select {
			case lines <- msg:
			case <-done:
			}
		}),
		sockets.OnError(func(err error) {
			select {
			case failed <- err:
			default:
			}
		}),
	}, opts...)...)
	if err := conn.Dial(ctx, url); err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return fmt.Errorf("status stream closed: %w", err)
		case line := <-lines:
			if _, err := fmt.Fprintf(out, "%s\n", line); err != nil {
				return err
			}
		}
	}
}

var _ Channel = (*channel.Channel)(nil)
var _ Journal = (*database.Database)(nil)
