package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/anicoll/scalemodel-panel/internal/pkg/config"
)

// protocolVersion 4 is MQTT 3.1.1.
const protocolVersion = 4

var ErrUnsupportedScheme = errors.New("unsupported broker scheme")

// Client is the part of paho_mqtt.Client the channel drives.
type Client interface {
	Connect() paho_mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token
	Subscribe(topic string, qos byte, callback paho_mqtt.MessageHandler) paho_mqtt.Token
}

// Handlers receive the connection lifecycle and every inbound message.
type Handlers struct {
	OnConnect        func()
	OnConnectionLost func(err error)
	OnReconnecting   func()
	OnMessage        func(topic string, payload []byte)
}

// MessageHandler adapts a plain (topic, payload) func to paho's callback.
func MessageHandler(f func(topic string, payload []byte)) paho_mqtt.MessageHandler {
	return func(_ paho_mqtt.Client, msg paho_mqtt.Message) {
		f(msg.Topic(), msg.Payload())
	}
}

// Factory builds a client that is not yet connected.
type Factory func(h Handlers) (Client, error)

func NewFactory(cfg *config.MqttConfig) Factory {
	return func(h Handlers) (Client, error) {
		opts, err := NewClientOptions(cfg, h)
		if err != nil {
			return nil, err
		}
		return paho_mqtt.NewClient(opts), nil
	}
}

func NewClientOptions(cfg *config.MqttConfig, h Handlers) (*paho_mqtt.ClientOptions, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse broker url %q: missing host", cfg.URL)
	}

	opts := paho_mqtt.NewClientOptions().
		AddBroker(u.String()).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetProtocolVersion(protocolVersion).
		SetCleanSession(true).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		// capping the backoff at the reconnect interval keeps retries on a fixed period.
		SetMaxReconnectInterval(cfg.ReconnectInterval).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ReconnectInterval).
		SetOrderMatters(false)

	switch u.Scheme {
	case "wss", "ssl", "tls", "mqtts":
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	case "ws", "tcp", "mqtt":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	logger := zap.L()
	opts.SetOnConnectHandler(func(paho_mqtt.Client) {
		logger.Debug("broker connection up", zap.String("broker", u.Host))
		if h.OnConnect != nil {
			h.OnConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ paho_mqtt.Client, err error) {
		logger.Debug("broker connection lost", zap.String("broker", u.Host), zap.Error(err))
		if h.OnConnectionLost != nil {
			h.OnConnectionLost(err)
		}
	})
	opts.SetReconnectingHandler(func(paho_mqtt.Client, *paho_mqtt.ClientOptions) {
		if h.OnReconnecting != nil {
			h.OnReconnecting()
		}
	})
	if h.OnMessage != nil {
		opts.SetDefaultPublishHandler(MessageHandler(h.OnMessage))
	}
	return opts, nil
}

// WaitToken waits for a broker round trip, reporting whether it finished in time.
func WaitToken(token paho_mqtt.Token, timeout time.Duration) (bool, error) {
	if !token.WaitTimeout(timeout) {
		return false, nil
	}
	return true, token.Error()
}
