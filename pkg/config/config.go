// Package config loads and validates process-level configuration for the
// checkpointing subsystem. Values come from an optional YAML file with
// environment variables taking precedence, matching how the surrounding
// dataflow deployment is configured.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jkarhu/floe/pkg/api"
)

// BlobStoreConfig holds connection parameters for the durable blob store.
type BlobStoreConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseTLS    bool   `yaml:"use_tls"`
}

// Endpoint returns the host:port address of the blob store.
func (b BlobStoreConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Duration embeds time.Duration with YAML support for the usual "2s",
// "500ms" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the recognized process-level configuration.
type Config struct {
	// Strategy selects coordinated or uncoordinated checkpointing. It is
	// read once at startup; the strategies are never mixed at runtime.
	Strategy api.Strategy `yaml:"strategy"`

	// SnapshotFrequency is how often snapshots are triggered: the epoch
	// period in coordinated mode, the local timer in uncoordinated mode.
	SnapshotFrequency time.Duration `yaml:"-"`

	// CompactionInterval is how often the compactor scans for superseded
	// generations.
	CompactionInterval time.Duration `yaml:"-"`

	// HeartbeatTimeout is how long a worker may stay silent before it is
	// declared DEAD.
	HeartbeatTimeout time.Duration `yaml:"-"`

	// HeartbeatCheckInterval is how often the liveness table is scanned.
	HeartbeatCheckInterval time.Duration `yaml:"-"`

	BlobStore BlobStoreConfig `yaml:"blob_store"`

	// BrokerAddr is the address of the append-only event log broker.
	BrokerAddr string `yaml:"broker_addr"`
}

// yamlDurations mirrors the duration fields in "2s"-style notation.
type yamlDurations struct {
	SnapshotFrequency      *Duration `yaml:"snapshot_frequency"`
	CompactionInterval     *Duration `yaml:"compaction_interval"`
	HeartbeatTimeout       *Duration `yaml:"heartbeat_timeout"`
	HeartbeatCheckInterval *Duration `yaml:"heartbeat_check_interval"`
}

// Default returns a Config with the defaults used when neither file nor
// environment provides a value.
func Default() Config {
	return Config{
		Strategy:               api.StrategyCoordinated,
		SnapshotFrequency:      10 * time.Second,
		CompactionInterval:     30 * time.Second,
		HeartbeatTimeout:       5000 * time.Millisecond,
		HeartbeatCheckInterval: 1000 * time.Millisecond,
		BlobStore: BlobStoreConfig{
			Host:   "localhost",
			Port:   9000,
			Bucket: "floe-snapshots",
		},
		BrokerAddr: "localhost:9092",
	}
}

// Load reads the YAML file at path (if path is non-empty), applies
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		var durations yamlDurations
		if err := yaml.Unmarshal(data, &durations); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if durations.SnapshotFrequency != nil {
			cfg.SnapshotFrequency = time.Duration(*durations.SnapshotFrequency)
		}
		if durations.CompactionInterval != nil {
			cfg.CompactionInterval = time.Duration(*durations.CompactionInterval)
		}
		if durations.HeartbeatTimeout != nil {
			cfg.HeartbeatTimeout = time.Duration(*durations.HeartbeatTimeout)
		}
		if durations.HeartbeatCheckInterval != nil {
			cfg.HeartbeatCheckInterval = time.Duration(*durations.HeartbeatCheckInterval)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv returns the default configuration with environment overrides
// applied and validated. It is the common path for containerized
// deployments, which configure everything through the environment.
func FromEnv() (Config, error) {
	return Load("")
}

// Environment variable names follow the deployment's existing convention.
const (
	envStrategy          = "CHECKPOINTING_STRATEGY"
	envSnapshotFrequency = "SNAPSHOT_FREQUENCY_SEC"
	envCompactionInt     = "COMPACTION_INTERVAL_SEC"
	envHeartbeatTimeout  = "HEARTBEAT_TIMEOUT_MS"
	envHeartbeatCheck    = "HEARTBEAT_CHECK_INTERVAL_MS"
	envBlobHost          = "MINIO_HOST"
	envBlobPort          = "MINIO_PORT"
	envBlobAccessKey     = "MINIO_ROOT_USER"
	envBlobSecretKey     = "MINIO_ROOT_PASSWORD"
	envBlobBucket        = "SNAPSHOT_BUCKET_NAME"
	envBrokerAddr        = "KAFKA_URL"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(envStrategy); v != "" {
		c.Strategy = api.Strategy(v)
	}
	if d, ok := envSeconds(envSnapshotFrequency); ok {
		c.SnapshotFrequency = d
	}
	if d, ok := envSeconds(envCompactionInt); ok {
		c.CompactionInterval = d
	}
	if d, ok := envMillis(envHeartbeatTimeout); ok {
		c.HeartbeatTimeout = d
	}
	if d, ok := envMillis(envHeartbeatCheck); ok {
		c.HeartbeatCheckInterval = d
	}
	if v := os.Getenv(envBlobHost); v != "" {
		c.BlobStore.Host = v
	}
	if v := os.Getenv(envBlobPort); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.BlobStore.Port = p
		}
	}
	if v := os.Getenv(envBlobAccessKey); v != "" {
		c.BlobStore.AccessKey = v
	}
	if v := os.Getenv(envBlobSecretKey); v != "" {
		c.BlobStore.SecretKey = v
	}
	if v := os.Getenv(envBlobBucket); v != "" {
		c.BlobStore.Bucket = v
	}
	if v := os.Getenv(envBrokerAddr); v != "" {
		c.BrokerAddr = v
	}
}

func envSeconds(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(n * float64(time.Second)), true
}

func envMillis(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

// Validate rejects unknown strategies and non-positive intervals.
func (c Config) Validate() error {
	switch c.Strategy {
	case api.StrategyCoordinated, api.StrategyUncoordinated:
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy)
	}
	if c.SnapshotFrequency <= 0 {
		return fmt.Errorf("config: snapshot frequency must be positive, got %v", c.SnapshotFrequency)
	}
	if c.CompactionInterval <= 0 {
		return fmt.Errorf("config: compaction interval must be positive, got %v", c.CompactionInterval)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("config: heartbeat timeout must be positive, got %v", c.HeartbeatTimeout)
	}
	if c.HeartbeatCheckInterval <= 0 {
		return fmt.Errorf("config: heartbeat check interval must be positive, got %v", c.HeartbeatCheckInterval)
	}
	if c.BlobStore.Bucket == "" {
		return fmt.Errorf("config: blob store bucket must be set")
	}
	return nil
}
