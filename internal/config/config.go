package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Exchange holds the connection settings for one upstream venue.
type Exchange struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// Feed holds reconnect tuning for upstream websocket sessions.
type Feed struct {
	ReconnectBase time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax  time.Duration `mapstructure:"reconnect_max"`
	TickBuffer    int           `mapstructure:"tick_buffer"`
}

// Snapshot holds state persistence settings.
type Snapshot struct {
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

// Hub holds per-client broadcast settings.
type Hub struct {
	ClientQueue int     `mapstructure:"client_queue"`
	ClientRate  float64 `mapstructure:"client_rate"`
	ClientBurst int     `mapstructure:"client_burst"`
}

// Config holds all runtime configuration for the paper-trading server.
type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	Symbols []string `mapstructure:"symbols"`

	Binance  Exchange `mapstructure:"binance"`
	OKX      Exchange `mapstructure:"okx"`
	Feed     Feed     `mapstructure:"feed"`
	Snapshot Snapshot `mapstructure:"snapshot"`
	Hub      Hub      `mapstructure:"hub"`
}

const envPrefix = "PAPERTRADE"

// Load reads configuration from an optional config.yaml in the working
// directory, overlays PAPERTRADE_* environment variables, applies
// defaults, and validates values. It returns an error for any invalid
// value.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8000)
	v.SetDefault("log_level", "info")

	v.SetDefault("read_timeout", 5*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("idle_timeout", 60*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("jwt_secret", "CHANGE_ME_DEV_SECRET")
	v.SetDefault("token_ttl", 24*time.Hour)

	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ADAUSDT", "XRPUSDT"})

	v.SetDefault("binance.enabled", true)
	v.SetDefault("binance.url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("okx.enabled", true)
	v.SetDefault("okx.url", "wss://ws.okx.com:8443/ws/v5/public")

	v.SetDefault("feed.reconnect_base", 1*time.Second)
	v.SetDefault("feed.reconnect_max", 30*time.Second)
	v.SetDefault("feed.tick_buffer", 1024)

	v.SetDefault("snapshot.path", "data/state.json")
	v.SetDefault("snapshot.interval", 30*time.Second)

	v.SetDefault("hub.client_queue", 256)
	v.SetDefault("hub.client_rate", 20)
	v.SetDefault("hub.client_burst", 40)
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d, must be in 1..65535", c.Port)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level: %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	if c.JWTSecret == "" {
		return errors.New("jwt_secret must not be empty")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("invalid token_ttl: %v, must be > 0", c.TokenTTL)
	}
	if len(c.Symbols) == 0 {
		return errors.New("symbols must not be empty")
	}
	if c.Feed.ReconnectBase <= 0 {
		return fmt.Errorf("invalid feed.reconnect_base: %v, must be > 0", c.Feed.ReconnectBase)
	}
	if c.Feed.ReconnectMax < c.Feed.ReconnectBase {
		return fmt.Errorf("invalid feed.reconnect_max: %v, must be >= feed.reconnect_base", c.Feed.ReconnectMax)
	}
	if c.Feed.TickBuffer <= 0 {
		return fmt.Errorf("invalid feed.tick_buffer: %d, must be > 0", c.Feed.TickBuffer)
	}
	if c.Snapshot.Path == "" {
		return errors.New("snapshot.path must not be empty")
	}
	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("invalid snapshot.interval: %v, must be > 0", c.Snapshot.Interval)
	}
	if c.Hub.ClientQueue <= 0 {
		return fmt.Errorf("invalid hub.client_queue: %d, must be > 0", c.Hub.ClientQueue)
	}
	if c.Hub.ClientRate <= 0 {
		return fmt.Errorf("invalid hub.client_rate: %v, must be > 0", c.Hub.ClientRate)
	}
	if c.Hub.ClientBurst <= 0 {
		return fmt.Errorf("invalid hub.client_burst: %d, must be > 0", c.Hub.ClientBurst)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
