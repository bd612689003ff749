package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	judgecache "codejudge/internal/judge/cache"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 90 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	testcaseSourceMySQL    = "mysql"
	testcaseSourceDataPack = "datapack"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// KafkaConfig holds Kafka settings. An empty broker list disables queue intake
// and final status events.
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
	Topic         string        `yaml:"topic"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	RetryTopic    string        `yaml:"retryTopic"`
	PoolRetryMax  int           `yaml:"poolRetryMax"`
	PoolRetryBase time.Duration `yaml:"poolRetryBaseDelay"`
	PoolRetryMaxD time.Duration `yaml:"poolRetryMaxDelay"`
	DeadLetter    string        `yaml:"deadLetterTopic"`
	MessageTTL    time.Duration `yaml:"messageTTL"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	PoolSize       int           `yaml:"poolSize"`
	Timeout        time.Duration `yaml:"timeout"`
	SlotWait       time.Duration `yaml:"slotWait"`
	MaxSourceBytes int           `yaml:"maxSourceBytes"`
	LockTTL        time.Duration `yaml:"lockTTL"`
}

// SourceConfig holds source download settings.
type SourceConfig struct {
	Bucket  string        `yaml:"bucket"`
	Timeout time.Duration `yaml:"timeout"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	FinalTopic string        `yaml:"finalTopic"`
}

// TestcaseConfig selects where testcases are read from.
type TestcaseConfig struct {
	// Source is "mysql" or "datapack".
	Source   string              `yaml:"source"`
	CacheTTL time.Duration       `yaml:"cacheTTL"`
	EmptyTTL time.Duration       `yaml:"emptyTTL"`
	DataPack DataPackCacheConfig `yaml:"dataPack"`
}

// DataPackCacheConfig holds local data pack cache settings.
type DataPackCacheConfig struct {
	RootDir    string        `yaml:"rootDir"`
	Bucket     string        `yaml:"bucket"`
	Prefix     string        `yaml:"prefix"`
	TTL        time.Duration `yaml:"ttl"`
	LockWait   time.Duration `yaml:"lockWait"`
	MaxEntries int           `yaml:"maxEntries"`
	MaxBytes   int64         `yaml:"maxBytes"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	DockerCommand    string        `yaml:"dockerCommand"`
	ExtraArgs        string        `yaml:"extraArgs"`
	OutputLimitBytes int64         `yaml:"outputLimitBytes"`
	PidsLimit        int           `yaml:"pidsLimit"`
	NofileLimit      int           `yaml:"nofileLimit"`
	KillTimeout      time.Duration `yaml:"killTimeout"`
	MaxStdinBytes    int           `yaml:"maxStdinBytes"`
	MaxMemoryMB      int           `yaml:"maxMemoryMB"`
	MaxCPUs          float64       `yaml:"maxCPUs"`
	MaxTimeout       time.Duration `yaml:"maxTimeout"`
	PruneArgs        string        `yaml:"pruneArgs"`
	PruneInterval    time.Duration `yaml:"pruneInterval"`
	PruneTimeout     time.Duration `yaml:"pruneTimeout"`
}

// LimitsConfig holds stage resource limits.
type LimitsConfig struct {
	Compile runner.Limits `yaml:"compile"`
	Run     runner.Limits `yaml:"run"`
}

// LanguageConfig overrides sandbox images per language id.
type LanguageConfig struct {
	Images map[string]string `yaml:"images"`
}

// RateLimitConfig holds submit endpoint limits.
type RateLimitConfig struct {
	GlobalRPS   float64 `yaml:"globalRPS"`
	GlobalBurst int     `yaml:"globalBurst"`
	IPRPS       float64 `yaml:"ipRPS"`
	IPBurst     int     `yaml:"ipBurst"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig        `yaml:"server"`
	Logger    logger.Config       `yaml:"logger"`
	Database  db.MySQLConfig      `yaml:"database"`
	Redis     cache.RedisConfig   `yaml:"redis"`
	Kafka     KafkaConfig         `yaml:"kafka"`
	MinIO     storage.MinIOConfig `yaml:"minio"`
	Worker    WorkerConfig        `yaml:"worker"`
	Source    SourceConfig        `yaml:"source"`
	Status    StatusConfig        `yaml:"status"`
	Testcases TestcaseConfig      `yaml:"testcases"`
	Sandbox   SandboxConfig       `yaml:"sandbox"`
	Limits    LimitsConfig        `yaml:"limits"`
	Language  LanguageConfig      `yaml:"language"`
	RateLimit RateLimitConfig     `yaml:"rateLimit"`
}

func loadYAML(path string, out any) error {
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
	applyRedisDefaults(&cfg.Redis)
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 1
	}
	if cfg.Source.Bucket == "" {
		cfg.Source.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Testcases.DataPack.Bucket == "" {
		cfg.Testcases.DataPack.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Status.FinalTopic == "" {
		cfg.Status.FinalTopic = "judge.status.final"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "judge.submissions"
	}
	if cfg.Kafka.RetryTopic == "" {
		cfg.Kafka.RetryTopic = "judge.retry"
	}
	if cfg.Kafka.PoolRetryMax <= 0 {
		cfg.Kafka.PoolRetryMax = 5
	}
	if cfg.Kafka.PoolRetryBase == 0 {
		cfg.Kafka.PoolRetryBase = time.Second
	}
	if cfg.Kafka.PoolRetryMaxD == 0 {
		cfg.Kafka.PoolRetryMaxD = 30 * time.Second
	}
	if cfg.Kafka.Concurrency <= 0 {
		cfg.Kafka.Concurrency = cfg.Worker.PoolSize
	}

	cfg.Testcases.Source = strings.ToLower(strings.TrimSpace(cfg.Testcases.Source))
	switch cfg.Testcases.Source {
	case "":
		cfg.Testcases.Source = testcaseSourceMySQL
	case testcaseSourceMySQL:
	case testcaseSourceDataPack:
		if cfg.MinIO.Endpoint == "" {
			return fmt.Errorf("testcases source %q requires minio", testcaseSourceDataPack)
		}
		if cfg.Testcases.DataPack.RootDir == "" {
			return fmt.Errorf("testcases.dataPack.rootDir is required")
		}
	default:
		return fmt.Errorf("unknown testcases source %q", cfg.Testcases.Source)
	}
	return nil
}

// requiredBuckets lists the distinct buckets the service reads from.
func (c *AppConfig) requiredBuckets() []string {
	var buckets []string
	add := func(bucket string) {
		if bucket == "" || slices.Contains(buckets, bucket) {
			return
		}
		buckets = append(buckets, bucket)
	}
	add(c.Source.Bucket)
	if c.Testcases.Source == testcaseSourceDataPack {
		add(c.Testcases.DataPack.Bucket)
	}
	return buckets
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
}

func (k KafkaConfig) enabled() bool {
	return len(k.Brokers) > 0
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func (k KafkaConfig) subscribeOptions() *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
		MessageTTL:      k.MessageTTL,
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (s SandboxConfig) toEngineConfig() engine.Config {
	bounds := engine.DefaultBounds()
	if s.MaxStdinBytes > 0 {
		bounds.MaxStdinBytes = s.MaxStdinBytes
	}
	if s.MaxMemoryMB > 0 {
		bounds.MaxMemoryMB = s.MaxMemoryMB
	}
	if s.MaxCPUs > 0 {
		bounds.MaxCPUs = s.MaxCPUs
	}
	if s.MaxTimeout > 0 {
		bounds.MaxTimeout = s.MaxTimeout
	}
	return engine.Config{
		DockerCommand:    s.DockerCommand,
		ExtraArgs:        s.ExtraArgs,
		OutputLimitBytes: s.OutputLimitBytes,
		PidsLimit:        s.PidsLimit,
		NofileLimit:      s.NofileLimit,
		KillTimeout:      s.KillTimeout,
		Bounds:           bounds,
	}
}

func (s SandboxConfig) toPrunerConfig() engine.PrunerConfig {
	return engine.PrunerConfig{
		DockerCommand: s.DockerCommand,
		PruneArgs:     s.PruneArgs,
		Interval:      s.PruneInterval,
		Timeout:       s.PruneTimeout,
	}
}

func (l LimitsConfig) toRunnerConfig() runner.Config {
	return runner.Config{
		Compile: runner.DefaultCompileLimits().Merge(l.Compile),
		Run:     runner.DefaultRunLimits().Merge(l.Run),
	}
}

func (d DataPackCacheConfig) toCacheConfig() judgecache.DataPackConfig {
	return judgecache.DataPackConfig{
		RootDir:    d.RootDir,
		Bucket:     d.Bucket,
		Prefix:     d.Prefix,
		TTL:        d.TTL,
		LockWait:   d.LockWait,
		MaxEntries: d.MaxEntries,
		MaxBytes:   d.MaxBytes,
	}
}

func (r RateLimitConfig) toPolicy() middleware.RateLimitPolicy {
	return middleware.RateLimitPolicy{
		GlobalRPS:   r.GlobalRPS,
		GlobalBurst: r.GlobalBurst,
		IPRPS:       r.IPRPS,
		IPBurst:     r.IPBurst,
	}
}

func (r RateLimitConfig) enabled() bool {
	return r.GlobalRPS > 0 || r.IPRPS > 0
}
