package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"

	"github.com/cosc121od/pycode/internal/common/cache"
	"github.com/cosc121od/pycode/internal/common/db"
	"github.com/cosc121od/pycode/internal/common/mq"
	"github.com/cosc121od/pycode/internal/common/storage"
	"github.com/cosc121od/pycode/internal/grading/model"
	"github.com/cosc121od/pycode/internal/grading/sandbox/engine"
	"github.com/cosc121od/pycode/internal/grading/sandbox/runner"
	"github.com/cosc121od/pycode/internal/grading/sandbox/spec"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultGRPCAddr        = "0.0.0.0:9090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultWorkRoot        = "/tmp/pycode-grader"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GRPCConfig holds the health server settings.
type GRPCConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	ClientID      string        `yaml:"clientID"`
	MinBytes      int           `yaml:"minBytes"`
	MaxBytes      int           `yaml:"maxBytes"`
	MaxWait       time.Duration `yaml:"maxWait"`
	BatchSize     int           `yaml:"batchSize"`
	BatchTimeout  time.Duration `yaml:"batchTimeout"`
	DialTimeout   time.Duration `yaml:"dialTimeout"`
	RequiredAcks  int           `yaml:"requiredAcks"`
	Compression   string        `yaml:"compression"`
	SubmitTopic   string        `yaml:"submitTopic"`
	ResultTopic   string        `yaml:"resultTopic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	RetryTopic    string        `yaml:"retryTopic"`
	PoolRetryMax  int           `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration `yaml:"poolRetryMaxDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
	MaxAge        time.Duration `yaml:"maxAge"`
	Enabled       bool          `yaml:"enabled"`
}

// WorkerConfig holds grading pool settings.
type WorkerConfig struct {
	PoolSize int           `yaml:"poolSize"`
	SlotWait time.Duration `yaml:"slotWait"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	Engine   engine.Config      `yaml:"engine"`
	WorkRoot string             `yaml:"workRoot"`
	Limits   spec.ResourceLimit `yaml:"limits"`
}

// LanguageConfig holds language definitions; empty means the built-in set.
type LanguageConfig struct {
	Languages []runner.LanguageSpec `yaml:"languages"`
}

// GradingConfig holds grading and reuse settings.
type GradingConfig struct {
	model.Config       `yaml:",inline"`
	MaxCodeBytes       int           `yaml:"maxCodeBytes"`
	TestCaseCacheTTL   time.Duration `yaml:"testCaseCacheTTL"`
	TestCaseEmptyTTL   time.Duration `yaml:"testCaseEmptyTTL"`
	BundleCacheTTL     time.Duration `yaml:"bundleCacheTTL"`
	BundleEmptyTTL     time.Duration `yaml:"bundleEmptyTTL"`
	LockTTL            time.Duration `yaml:"lockTTL"`
	LockWait           time.Duration `yaml:"lockWait"`
	BackupBucket       string        `yaml:"backupBucket"`
	BackupPrefix       string        `yaml:"backupPrefix"`
	EnsureBackupBucket bool          `yaml:"ensureBackupBucket"`
}

// AuthConfig holds host token settings.
type AuthConfig struct {
	Secret      string   `yaml:"secret"`
	Issuer      string   `yaml:"issuer"`
	AuthorRoles []string `yaml:"authorRoles"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds grader-service config.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	GRPC      GRPCConfig          `yaml:"grpc"`
	Logger    logger.Config       `yaml:"logger"`
	Database  db.MySQLConfig      `yaml:"database"`
	Redis     cache.RedisConfig   `yaml:"redis"`
	MinIO     storage.MinIOConfig `yaml:"minio"`
	Kafka     KafkaConfig         `yaml:"kafka"`
	Worker    WorkerConfig        `yaml:"worker"`
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Languages LanguageConfig      `yaml:"languages"`
	Grading   GradingConfig       `yaml:"grading"`
	Auth      AuthConfig          `yaml:"auth"`
	Metrics   MetricsConfig       `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	cfg.Redis = cfg.Redis.WithDefaults()
	cfg.Database = cfg.Database.WithDefaults()
	applyServerDefaults(&cfg.Server)
	applyKafkaDefaults(&cfg.Kafka)
	applyGradingDefaults(&cfg)
	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = defaultGRPCAddr
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Sandbox.WorkRoot == "" {
		cfg.Sandbox.WorkRoot = defaultWorkRoot
	}
	if len(cfg.Languages.Languages) == 0 {
		cfg.Languages.Languages = runner.DefaultLanguages()
	}
	return &cfg, nil
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
}

func applyKafkaDefaults(cfg *KafkaConfig) {
	if cfg.SubmitTopic == "" {
		cfg.SubmitTopic = "grading.submit"
	}
	if cfg.ResultTopic == "" {
		cfg.ResultTopic = "grading.result"
	}
	if cfg.RetryTopic == "" {
		cfg.RetryTopic = cfg.SubmitTopic
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "pycode-grader"
	}
	if cfg.PoolRetryMax <= 0 {
		cfg.PoolRetryMax = 5
	}
	if cfg.PoolRetryBase == 0 {
		cfg.PoolRetryBase = time.Second
	}
	if cfg.PoolRetryMaxD == 0 {
		cfg.PoolRetryMaxD = 30 * time.Second
	}
}

func applyGradingDefaults(cfg *AppConfig) {
	cfg.Grading.Config = cfg.Grading.Config.WithDefaults()
	if cfg.Grading.BackupBucket == "" {
		cfg.Grading.BackupBucket = cfg.MinIO.Bucket
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		Compression:  parseCompression(k.Compression),
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		DialTimeout:  k.DialTimeout,
	}
}

func (k KafkaConfig) toConsumeOptions() mq.ConsumeOptions {
	return mq.ConsumeOptions{
		Group:           k.ConsumerGroup,
		Workers:         k.Concurrency,
		MaxAttempts:     k.MaxAttempts,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
		MaxAge:          k.MaxAge,
	}
}

func parseCompression(name string) kafka.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}
