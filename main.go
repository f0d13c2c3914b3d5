package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/anicoll/scalemodel-panel/cmd"
	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commandTypes := lo.Map(model.CommandTypes, func(ct model.CommandType, _ int) string {
		return ct.String()
	})

	app := &cli.App{
		Name:   "scalemodel-panel",
		Usage:  "control panel for the scale model lighting controller",
		Action: cmd.PanelCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mqtt-url",
				EnvVars: []string{"MQTT_URL"},
				Value:   "wss://mqtt.modelsofbrainwing.com:8083/mqtt",
			},
			&cli.StringFlag{
				Name:    "mqtt-user",
				EnvVars: []string{"MQTT_USER"},
				Value:   "reactuser",
			},
			&cli.StringFlag{
				Name:    "mqtt-pass",
				EnvVars: []string{"MQTT_PASS"},
				Value:   "scaleModel",
			},
			&cli.StringFlag{
				Name:    "mqtt-project",
				EnvVars: []string{"MQTT_PROJECT"},
				Value:   "rsandesh",
			},
			&cli.DurationFlag{
				Name:    "heartbeat-interval",
				EnvVars: []string{"HEARTBEAT_INTERVAL"},
				Value:   5 * time.Second,
			},
			&cli.DurationFlag{
				Name:    "liveness-window",
				EnvVars: []string{"LIVENESS_WINDOW"},
				Value:   12 * time.Second,
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the panel service",
				Action: cmd.PanelCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "http-addr",
						EnvVars: []string{"HTTP_ADDR"},
						Value:   "0.0.0.0:8000",
					},
					&cli.StringFlag{
						Name:    "database-url",
						EnvVars: []string{"DATABASE_URL"},
						Value:   "",
					},
				},
			},
			{
				Name:   "send",
				Usage:  "publish one command to the controller",
				Action: cmd.SendCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "type",
						Usage:    "one of " + strings.Join(commandTypes, ", "),
						Required: true,
					},
					&cli.StringFlag{
						Name:  "item",
						Usage: "submenu item for podium and bhk",
					},
					&cli.StringFlag{
						Name:  "wing",
						Usage: "wing id for wing_select and wing_click",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Value: 10 * time.Second,
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "print broker and device status changes",
				Action: cmd.WatchCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "server",
						Usage: "status stream of a running panel, e.g. ws://localhost:8000/ws/status",
					},
					&cli.BoolFlag{
						Name:  "insecure",
						Usage: "skip TLS certificate verification for wss:// panels",
					},
					&cli.DurationFlag{
						Name:  "ping-interval",
						Usage: "keepalive ping sent to the panel, 0 disables it",
						Value: 30 * time.Second,
					},
				},
			},
			{
				Name:   "hash-password",
				Usage:  "print a bcrypt hash for ADMIN_PASSWORD_HASH",
				Action: cmd.HashPasswordCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "password",
						Required: true,
					},
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
