package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != defaultPort {
		t.Errorf("expected default port %s, got %s", defaultPort, cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != defaultShutdownTimeout {
		t.Errorf("unexpected shutdown timeout %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Postgres.Port != defaultPostgresPort {
		t.Errorf("unexpected postgres port %d", cfg.Postgres.Port)
	}
	if cfg.Notifications.QueueSize != defaultNotifyQueueSize {
		t.Errorf("unexpected queue size %d", cfg.Notifications.QueueSize)
	}
	if cfg.Webhooks.DedupTTL != defaultWebhookDedupTTL {
		t.Errorf("unexpected dedup ttl %v", cfg.Webhooks.DedupTTL)
	}
	if cfg.Carrier.SignatureHeader != defaultCarrierSigHeader {
		t.Errorf("unexpected signature header %s", cfg.Carrier.SignatureHeader)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PASSWORD", "hunter2")
	t.Setenv("CARRIER_TIMEOUT", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("expected postgres host override, got %s", cfg.Postgres.Host)
	}
	if cfg.Carrier.Timeout != 5*time.Second {
		t.Errorf("expected carrier timeout 5s, got %v", cfg.Carrier.Timeout)
	}

	dsn := cfg.Postgres.DSN()
	want := "host=db.internal port=5432 user=orders password=hunter2 dbname=orders sslmode=disable"
	if dsn != want {
		t.Errorf("unexpected dsn:\n got %s\nwant %s", dsn, want)
	}
}
