package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"WINDOWCAP_HOST", "WINDOWCAP_PORT", "WINDOWCAP_LOG_LEVEL", "WINDOWCAP_WORKERS", "WINDOWCAP_REDIS_ADDR", "WINDOWCAP_SESSION_TTL", "WINDOWCAP_HEARTBEAT", "WINDOWCAP_METRICS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 8080 || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SessionTTL != time.Hour || cfg.Heartbeat != 15*time.Second || cfg.Metrics {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Transport() != TransportStdio {
		t.Fatalf("expected stdio by default, got %s", cfg.Transport())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WINDOWCAP_HOST", "0.0.0.0")
	t.Setenv("WINDOWCAP_PORT", "9000")
	t.Setenv("WINDOWCAP_SESSION_TTL", "5m")
	t.Setenv("WINDOWCAP_METRICS", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 9000 || cfg.SessionTTL != 5*time.Minute || !cfg.Metrics {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("WINDOWCAP_PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for out of range port")
	}
}

func TestTransportPrecedence(t *testing.T) {
	cases := []struct {
		sse, http bool
		want      Transport
	}{
		{false, false, TransportStdio},
		{true, false, TransportSSE},
		{false, true, TransportStreamableHTTP},
		{true, true, TransportSSE},
	}
	for _, c := range cases {
		cfg := Config{SSE: c.sse, HTTP: c.http}
		if got := cfg.Transport(); got != c.want {
			t.Fatalf("sse=%v http=%v: expected %s, got %s", c.sse, c.http, c.want, got)
		}
	}
}

func TestAddr(t *testing.T) {
	cfg := Config{Host: "127.0.0.1", Port: 8080}
	addr, err := cfg.Addr()
	if err != nil || addr != "127.0.0.1:8080" {
		t.Fatalf("expected 127.0.0.1:8080, got %q (%v)", addr, err)
	}
	cfg = Config{Host: "::1", Port: 1}
	if addr, err := cfg.Addr(); err != nil || addr != "[::1]:1" {
		t.Fatalf("expected [::1]:1, got %q (%v)", addr, err)
	}
	cfg = Config{Host: "not a host", Port: 1}
	if _, err := cfg.Addr(); err == nil {
		t.Fatalf("expected error for invalid host")
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{LogLevel: "debug"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if lvl, _ := cfg.Level(); lvl != slog.LevelDebug {
		t.Fatalf("expected debug, got %s", lvl)
	}
	for _, bad := range []Config{{LogLevel: "loud"}, {LogLevel: "info", Workers: -1}, {LogLevel: "info", SessionTTL: -time.Second}} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", bad)
		}
	}
}
