package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pot-ledger/pkg/awards"
)

// clearEnv unsets every variable the package reads for the duration of t.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"POT_BACKEND", "POT_LEDGER_ID", "POT_PLAYERS", "POT_AWARD_TABLE", "POT_KV_DRIVER",
		"POT_REDIS_ADDR", "POT_REDIS_PASSWORD", "POT_REDIS_PREFIX", "POT_LEVELDB_PATH",
		"POT_POSTGRES_DSN", "POT_RETRY_ATTEMPTS", "POT_RETRY_BASE_DELAY", "POT_TIMEOUT",
		"POT_AUTO_PROVISION", "POT_ACTIVITY", "POT_API_ADDR", "POT_RECONCILE_INTERVAL",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_DEV",
	} {
		if prev, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { os.Setenv(key, prev) })
		} else {
			t.Cleanup(func() { os.Unsetenv(key) })
		}
		os.Unsetenv(key)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if c.Backend != BackendMemory || c.LedgerID != "default" || c.Activity != ActivityLog {
		t.Errorf("unexpected defaults %+v", c)
	}
	if strings.Join(c.Players, ",") != "Alice,Bob,Charlie,Dana" {
		t.Errorf("Players = %v", c.Players)
	}
	if c.RetryAttempts != 5 || c.RetryBaseDelay != 10*time.Millisecond || c.Timeout != 5*time.Second {
		t.Errorf("unexpected retry/timeout defaults %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	table, err := c.Awards()
	if err != nil || table.Name() != awards.DemoName {
		t.Errorf("memory backend should default to the demo table, got %q, %v", table.Name(), err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("POT_BACKEND", "kv")
	t.Setenv("POT_KV_DRIVER", "leveldb")
	t.Setenv("POT_PLAYERS", " Zed, Yan ,,")
	t.Setenv("POT_RETRY_ATTEMPTS", "9")
	t.Setenv("POT_RECONCILE_INTERVAL", "1m")
	t.Setenv("POT_AUTO_PROVISION", "false")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if c.Backend != BackendKV || c.KVDriver != DriverLevelDB {
		t.Errorf("unexpected backend %q/%q", c.Backend, c.KVDriver)
	}
	if strings.Join(c.Players, ",") != "Zed,Yan" {
		t.Errorf("Players = %v", c.Players)
	}
	if c.RetryAttempts != 9 || c.ReconcileInterval != time.Minute || c.AutoProvision {
		t.Errorf("unexpected overrides %+v", c)
	}

	table, err := c.Awards()
	if err != nil || table.Name() != awards.CanonicalName {
		t.Errorf("kv backend should default to the canonical table, got %q, %v", table.Name(), err)
	}
}

func TestFromEnv_ParseErrorsAccumulate(t *testing.T) {
	clearEnv(t)
	t.Setenv("POT_RETRY_ATTEMPTS", "many")
	t.Setenv("POT_TIMEOUT", "soon")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected parse errors")
	}
	for _, key := range []string{"POT_RETRY_ATTEMPTS", "POT_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q should mention %s", err, key)
		}
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("POT_LEDGER_ID=league\nPOT_ACTIVITY=memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POT_ACTIVITY", "none")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.LedgerID != "league" {
		t.Errorf("LedgerID = %q, want league", c.LedgerID)
	}
	if c.Activity != ActivityNone {
		t.Errorf("environment should win over .env, got %q", c.Activity)
	}
}

func TestLoad_MissingFileIsSkipped(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing .env should be skipped, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "sheets" }, "POT_BACKEND"},
		{"unknown driver", func(c *Config) { c.Backend = BackendKV; c.KVDriver = "etcd" }, "POT_KV_DRIVER"},
		{"redis without addr", func(c *Config) { c.Backend = BackendKV; c.RedisAddr = "" }, "POT_REDIS_ADDR"},
		{"rows without dsn", func(c *Config) { c.Backend = BackendRows; c.PostgresDSN = "" }, "POT_POSTGRES_DSN"},
		{"no attempts", func(c *Config) { c.RetryAttempts = 0 }, "POT_RETRY_ATTEMPTS"},
		{"unknown activity", func(c *Config) { c.Activity = "kafka" }, "POT_ACTIVITY"},
		{"bad level", func(c *Config) { c.Logging.Level = "chatty" }, "chatty"},
		{"missing table", func(c *Config) { c.AwardTable = "/nonexistent/table.yaml" }, "table.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}
