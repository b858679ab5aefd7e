package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Nats     NatsConfig     `yaml:"nats"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Typing   TypingConfig   `yaml:"typing"`
	Receipts ReceiptsConfig `yaml:"receipts"`
	Offline  OfflineConfig  `yaml:"offline"`
	Notify   NotifyConfig   `yaml:"notify"`
	Sync     SyncConfig     `yaml:"sync"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`            // listen address for /ws and /healthz
	GatewayID     string `yaml:"gateway_id"`      // node id, participates in event source tagging
	SnowflakeNode int64  `yaml:"snowflake_node"`  // 0~1023
	SendQueueSize int    `yaml:"send_queue_size"` // per-session outbound buffer
	FanoutWorkers int    `yaml:"fanout_workers"`
	FanoutQueue   int    `yaml:"fanout_queue"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type NatsConfig struct {
	URL string `yaml:"url"`
}

type AuthConfig struct {
	Secret string `yaml:"secret"`
	Alg    string `yaml:"alg"`
}

type PresenceConfig struct {
	OnlineTTL  time.Duration `yaml:"online_ttl"`  // default 30m
	OfflineTTL time.Duration `yaml:"offline_ttl"` // default 168h, keeps last-seen queryable
}

type TypingConfig struct {
	TTL time.Duration `yaml:"ttl"` // default 5s
}

type ReceiptsConfig struct {
	TTL time.Duration `yaml:"ttl"` // default 720h; projection only, durable record lives in the store
}

type OfflineConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SweepBatch      int           `yaml:"sweep_batch"`
	FreshnessWindow time.Duration `yaml:"freshness_window"` // tunable heuristic, see queueForOfflineDevices
}

type NotifyConfig struct {
	CredentialsFile string        `yaml:"credentials_file"` // FCM service account
	BatchSize       int           `yaml:"batch_size"`
	BatchDelay      time.Duration `yaml:"batch_delay"`
}

type SyncConfig struct {
	PageSize      int           `yaml:"page_size"`
	FirstSyncSpan time.Duration `yaml:"first_sync_span"` // bounded snapshot for first-time sync
	RetentionDays int           `yaml:"retention_days"`  // device session staleness cleanup
}

// Load reads a yaml file (path may be empty) and applies defaults.
// CHATSYNC_* env vars override the connection endpoints.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	c.norm()
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHATSYNC_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CHATSYNC_PG_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("CHATSYNC_NATS_URL"); v != "" {
		c.Nats.URL = v
	}
	if v := os.Getenv("CHATSYNC_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
}

func (c *Config) norm() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.GatewayID == "" {
		c.Server.GatewayID = "gateway_01"
	}
	if c.Server.SendQueueSize <= 0 {
		c.Server.SendQueueSize = 256
	}
	if c.Server.FanoutWorkers <= 0 {
		c.Server.FanoutWorkers = 8
	}
	if c.Server.FanoutQueue <= 0 {
		c.Server.FanoutQueue = 1024
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.PoolSize <= 0 {
		c.Redis.PoolSize = 16
	}
	if c.Nats.URL == "" {
		c.Nats.URL = "nats://127.0.0.1:4222"
	}
	if c.Presence.OnlineTTL <= 0 {
		c.Presence.OnlineTTL = 30 * time.Minute
	}
	if c.Presence.OfflineTTL <= 0 {
		c.Presence.OfflineTTL = 7 * 24 * time.Hour
	}
	if c.Typing.TTL <= 0 {
		c.Typing.TTL = 5 * time.Second
	}
	if c.Receipts.TTL <= 0 {
		c.Receipts.TTL = 30 * 24 * time.Hour
	}
	if c.Offline.MaxAttempts <= 0 {
		c.Offline.MaxAttempts = 3
	}
	if c.Offline.SweepInterval <= 0 {
		c.Offline.SweepInterval = 30 * time.Second
	}
	if c.Offline.SweepBatch <= 0 {
		c.Offline.SweepBatch = 200
	}
	if c.Offline.FreshnessWindow <= 0 {
		c.Offline.FreshnessWindow = 5 * time.Minute
	}
	if c.Notify.BatchSize <= 0 {
		c.Notify.BatchSize = 10
	}
	if c.Notify.BatchDelay <= 0 {
		c.Notify.BatchDelay = 5 * time.Second
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 100
	}
	if c.Sync.FirstSyncSpan <= 0 {
		c.Sync.FirstSyncSpan = 30 * 24 * time.Hour
	}
	if c.Sync.RetentionDays <= 0 {
		c.Sync.RetentionDays = 90
	}
}
