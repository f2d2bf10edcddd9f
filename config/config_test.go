package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creditd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
database:
  sqlite_path: "/tmp/credit.db"
gateways:
  arweave:
    endpoint: "https://arweave.net"
  ethereum:
    endpoint: "https://rpc.example"
    chain_id: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen: %s", cfg.ListenAddress)
	}
	if cfg.Polling.WaitTime.Duration != 500*time.Millisecond || cfg.Polling.MaxAttempts != 5 {
		t.Fatalf("polling defaults not applied: %+v", cfg.Polling)
	}
	if cfg.Gateways["arweave"].MinConfirmations != 18 {
		t.Fatalf("arweave default confirmations: %d", cfg.Gateways["arweave"].MinConfirmations)
	}
	if cfg.Gateways["ethereum"].MinConfirmations != 5 {
		t.Fatalf("ethereum default confirmations: %d", cfg.Gateways["ethereum"].MinConfirmations)
	}
	if cfg.SweeperInterval.Duration != time.Minute {
		t.Fatalf("sweeper default: %v", cfg.SweeperInterval.Duration)
	}
	if cfg.ARIO.LeaseNameDustAmount != 1 || cfg.ARIO.PermaBuyNameDustAmount != 5 {
		t.Fatalf("ario dust defaults: %+v", cfg.ARIO)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_PASSWORD", "s3cret")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("CU_URL", "https://cu.example")
	path := writeConfig(t, `
database:
  host: "db.internal"
  port: 5433
  name: "payments"
  user: "svc"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "jwt-secret" || cfg.ARIO.CUURL != "https://cu.example" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	dsn := cfg.WriterDSN()
	want := "host=db.internal port=5433 dbname=payments user=svc password=s3cret"
	if dsn != want {
		t.Fatalf("unexpected dsn:\n got %s\nwant %s", dsn, want)
	}
}

func TestLoadRejectsMissingDatabase(t *testing.T) {
	path := writeConfig(t, `listen: ":8080"`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation failure")
	}
}

func TestDurationParsing(t *testing.T) {
	path := writeConfig(t, `
database:
  sqlite_path: "x.db"
polling:
  wait_time: "250ms"
  max_attempts: 3
sweeper_interval: "30s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Polling.WaitTime.Duration != 250*time.Millisecond {
		t.Fatalf("wait time: %v", cfg.Polling.WaitTime.Duration)
	}
	if cfg.SweeperInterval.Duration != 30*time.Second {
		t.Fatalf("sweeper: %v", cfg.SweeperInterval.Duration)
	}
}
