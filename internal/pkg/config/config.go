package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

type Config struct {
	MqttCfg     *MqttConfig
	PresenceCfg *PresenceConfig
	HttpCfg     *HttpConfig
	JournalCfg  *JournalConfig
	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
}

type MqttConfig struct {
	URL               string        `env:"MQTT_URL" envDefault:"wss://mqtt.modelsofbrainwing.com:8083/mqtt"`
	Username          string        `env:"MQTT_USER" envDefault:"reactuser"`
	Password          string        `env:"MQTT_PASS" envDefault:"scaleModel"`
	Project           string        `env:"MQTT_PROJECT" envDefault:"rsandesh"`
	ClientID          string        `env:"MQTT_CLIENT_ID"`
	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" envDefault:"1500ms"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	KeepAlive         time.Duration `env:"KEEPALIVE" envDefault:"25s"`
	// 0 keeps every deferred publish until the next connect.
	PendingLimit int `env:"MQTT_PENDING_LIMIT" envDefault:"0"`
}

type PresenceConfig struct {
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	LivenessWindow    time.Duration `env:"LIVENESS_WINDOW" envDefault:"12s"`
	AgingInterval     time.Duration `env:"AGING_INTERVAL" envDefault:"2s"`
}

type HttpConfig struct {
	Addr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8000"`
	// bcrypt hash; empty leaves the command routes open.
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	JwtSecret         string        `env:"JWT_SECRET"`
	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"12h"`
}

type JournalConfig struct {
	DatabaseURL string        `env:"DATABASE_URL"`
	Retention   time.Duration `env:"JOURNAL_RETENTION" envDefault:"168h"`
}

// Load reads the environment, falling back to the built-in defaults.
func Load() (*Config, error) {
	cfg := &Config{
		MqttCfg:     &MqttConfig{},
		PresenceCfg: &PresenceConfig{},
		HttpCfg:     &HttpConfig{},
		JournalCfg:  &JournalConfig{},
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.MqttCfg.ClientID == "" {
		cfg.MqttCfg.ClientID = "panel-" + uuid.NewString()
	}
	return cfg, nil
}

func (j *JournalConfig) Enabled() bool {
	return j != nil && j.DatabaseURL != ""
}

func (h *HttpConfig) AuthEnabled() bool {
	return h != nil && h.AdminPasswordHash != ""
}
