package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jkarhu/floe/pkg/api"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Strategy != api.StrategyCoordinated {
		t.Fatalf("default strategy = %v, want COORDINATED", cfg.Strategy)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floe.yaml")
	content := []byte(`
strategy: UNCOORDINATED
snapshot_frequency: 2s
compaction_interval: 15s
heartbeat_timeout: 3s
heartbeat_check_interval: 500ms
blob_store:
  host: minio.internal
  port: 9001
  bucket: prod-snapshots
broker_addr: kafka.internal:9092
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Strategy != api.StrategyUncoordinated {
		t.Fatalf("strategy = %v, want UNCOORDINATED", cfg.Strategy)
	}
	if cfg.SnapshotFrequency != 2*time.Second {
		t.Fatalf("snapshot frequency = %v, want 2s", cfg.SnapshotFrequency)
	}
	if cfg.BlobStore.Endpoint() != "minio.internal:9001" {
		t.Fatalf("endpoint = %q, want minio.internal:9001", cfg.BlobStore.Endpoint())
	}
	if cfg.BlobStore.Bucket != "prod-snapshots" {
		t.Fatalf("bucket = %q, want prod-snapshots", cfg.BlobStore.Bucket)
	}
	if cfg.BrokerAddr != "kafka.internal:9092" {
		t.Fatalf("broker = %q, want kafka.internal:9092", cfg.BrokerAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of missing file succeeded, want error")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CHECKPOINTING_STRATEGY", "UNCOORDINATED")
	t.Setenv("SNAPSHOT_FREQUENCY_SEC", "2.5")
	t.Setenv("COMPACTION_INTERVAL_SEC", "60")
	t.Setenv("HEARTBEAT_TIMEOUT_MS", "8000")
	t.Setenv("HEARTBEAT_CHECK_INTERVAL_MS", "250")
	t.Setenv("MINIO_HOST", "blob.internal")
	t.Setenv("MINIO_PORT", "9900")
	t.Setenv("MINIO_ROOT_USER", "floe")
	t.Setenv("MINIO_ROOT_PASSWORD", "secret")
	t.Setenv("SNAPSHOT_BUCKET_NAME", "env-bucket")
	t.Setenv("KAFKA_URL", "broker.internal:9092")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Strategy != api.StrategyUncoordinated {
		t.Fatalf("strategy = %v, want UNCOORDINATED", cfg.Strategy)
	}
	if cfg.SnapshotFrequency != 2500*time.Millisecond {
		t.Fatalf("snapshot frequency = %v, want 2.5s", cfg.SnapshotFrequency)
	}
	if cfg.CompactionInterval != time.Minute {
		t.Fatalf("compaction interval = %v, want 1m", cfg.CompactionInterval)
	}
	if cfg.HeartbeatTimeout != 8*time.Second {
		t.Fatalf("heartbeat timeout = %v, want 8s", cfg.HeartbeatTimeout)
	}
	if cfg.HeartbeatCheckInterval != 250*time.Millisecond {
		t.Fatalf("heartbeat check interval = %v, want 250ms", cfg.HeartbeatCheckInterval)
	}
	if cfg.BlobStore.Endpoint() != "blob.internal:9900" {
		t.Fatalf("endpoint = %q, want blob.internal:9900", cfg.BlobStore.Endpoint())
	}
	if cfg.BlobStore.AccessKey != "floe" || cfg.BlobStore.SecretKey != "secret" {
		t.Fatal("blob store credentials not applied from environment")
	}
	if cfg.BlobStore.Bucket != "env-bucket" {
		t.Fatalf("bucket = %q, want env-bucket", cfg.BlobStore.Bucket)
	}
	if cfg.BrokerAddr != "broker.internal:9092" {
		t.Fatalf("broker = %q, want broker.internal:9092", cfg.BrokerAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floe.yaml")
	if err := os.WriteFile(path, []byte("strategy: COORDINATED\n"), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CHECKPOINTING_STRATEGY", "UNCOORDINATED")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Strategy != api.StrategyUncoordinated {
		t.Fatalf("strategy = %v, want environment to win over file", cfg.Strategy)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown strategy", func(c *Config) { c.Strategy = "EVENTUAL" }},
		{"zero snapshot frequency", func(c *Config) { c.SnapshotFrequency = 0 }},
		{"negative compaction interval", func(c *Config) { c.CompactionInterval = -time.Second }},
		{"zero heartbeat timeout", func(c *Config) { c.HeartbeatTimeout = 0 }},
		{"zero check interval", func(c *Config) { c.HeartbeatCheckInterval = 0 }},
		{"empty bucket", func(c *Config) { c.BlobStore.Bucket = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate accepted invalid config")
			}
		})
	}
}
