package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Errorf("TokenTTL = %v, want 24h", cfg.TokenTTL)
	}
	if len(cfg.Symbols) != 5 {
		t.Errorf("len(Symbols) = %d, want 5", len(cfg.Symbols))
	}
	if !cfg.Binance.Enabled || !cfg.OKX.Enabled {
		t.Error("both exchanges should be enabled by default")
	}
	if cfg.Snapshot.Path != "data/state.json" {
		t.Errorf("Snapshot.Path = %q, want data/state.json", cfg.Snapshot.Path)
	}
	if cfg.Feed.ReconnectBase != 1*time.Second || cfg.Feed.ReconnectMax != 30*time.Second {
		t.Errorf("Feed reconnect = %v/%v, want 1s/30s", cfg.Feed.ReconnectBase, cfg.Feed.ReconnectMax)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAPERTRADE_PORT", "9100")
	t.Setenv("PAPERTRADE_LOG_LEVEL", "debug")
	t.Setenv("PAPERTRADE_SYMBOLS", "BTCUSDT,ETHUSDT")
	t.Setenv("PAPERTRADE_BINANCE_URL", "ws://localhost:9001/stream")
	t.Setenv("PAPERTRADE_OKX_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != 9100 {
		t.Errorf("Port = %d, want 9100", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "BTCUSDT" || cfg.Symbols[1] != "ETHUSDT" {
		t.Errorf("Symbols = %v, want [BTCUSDT ETHUSDT]", cfg.Symbols)
	}
	if cfg.Binance.URL != "ws://localhost:9001/stream" {
		t.Errorf("Binance.URL = %q, want override", cfg.Binance.URL)
	}
	if cfg.OKX.Enabled {
		t.Error("OKX.Enabled = true, want false")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	t.Setenv("PAPERTRADE_LOG_LEVEL", "verbose")
	if _, err := Load(); err == nil {
		t.Error("Load() should reject unknown log level")
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("PAPERTRADE_PORT", "0")
	if _, err := Load(); err == nil {
		t.Error("Load() should reject port 0")
	}
}

func TestLoad_ReconnectMaxBelowBase(t *testing.T) {
	t.Setenv("PAPERTRADE_FEED_RECONNECT_BASE", "10s")
	t.Setenv("PAPERTRADE_FEED_RECONNECT_MAX", "2s")
	if _, err := Load(); err == nil {
		t.Error("Load() should reject reconnect_max < reconnect_base")
	}
}

func TestLoad_EmptyJWTSecret(t *testing.T) {
	t.Setenv("PAPERTRADE_JWT_SECRET", "")
	// An empty env value falls back to the default secret rather than
	// clearing it, so Load must still succeed.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.JWTSecret == "" {
		t.Error("JWTSecret is empty, want default")
	}
}
