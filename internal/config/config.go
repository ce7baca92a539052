package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile    = "config.yaml"
	DefaultBaseURL       = "https://graph.threads.net/v1.0"
	DefaultTokenEnv      = "THREADS_ACCESS_TOKEN"
	DefaultTokenFile     = ".threadstat/token.json"
	DefaultStoragePath   = ".threadstat/threadstat.db"
	DefaultTimeout       = 30 * time.Second
	DefaultPageDelay     = 500 * time.Millisecond
	DefaultInsightDelay  = 500 * time.Millisecond
	DefaultBatchSize     = 10
	DefaultSheetName     = "ThreadsData"
	DefaultWatermark     = "store"
	DefaultRedisKey      = "threadstat:last_run"
	DefaultRedisPassEnv  = "REDIS_PASSWD"
	DefaultServerAddr    = ":8080"
	DefaultServerKeyEnv  = "THREADSTAT_API_KEY"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultSheetsCredEnv = "GOOGLE_APPLICATION_CREDENTIALS"
)

// Environment variables that override config.yaml, matching the names the
// scheduled job has always been deployed with.
const (
	EnvSinceDate     = "SINCE_DATE"
	EnvUntilDate     = "UNTIL_DATE"
	EnvSpreadsheetID = "SPREADSHEET_ID"
	EnvSheetName     = "SHEET_NAME"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Threads   ThreadsConfig   `yaml:"threads"`
	Sync      SyncConfig      `yaml:"sync"`
	Watermark WatermarkConfig `yaml:"watermark"`
	Storage   StorageConfig   `yaml:"storage"`
	Sinks     SinksConfig     `yaml:"sinks"`
	Privacy   PrivacyConfig   `yaml:"privacy"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

type ThreadsConfig struct {
	BaseURL      string   `yaml:"base_url"`
	TokenEnv     string   `yaml:"token_env"`
	TokenFile    string   `yaml:"token_file"`
	Timeout      Duration `yaml:"timeout"`
	PageDelay    Duration `yaml:"page_delay"`
	InsightDelay Duration `yaml:"insight_delay"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

type SyncConfig struct {
	Since     string `yaml:"since"`
	Until     string `yaml:"until"`
	BatchSize int    `yaml:"batch_size"`
}

type WatermarkConfig struct {
	Source string      `yaml:"source"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Key         string `yaml:"key"`

	// Resolved from env var at load time.
	Password string `yaml:"-"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type SinksConfig struct {
	Sheets   SheetsConfig   `yaml:"sheets"`
	JSON     FileSinkConfig `yaml:"json"`
	CSV      FileSinkConfig `yaml:"csv"`
	Markdown FileSinkConfig `yaml:"markdown"`
	Store    *bool          `yaml:"store"`
}

type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
	CredentialsFile string `yaml:"credentials_file"`
}

// FileSinkConfig writes to Path on disk, or to the object Path in S3Bucket
// when a bucket is set.
type FileSinkConfig struct {
	Path     string `yaml:"path"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	APIKeyEnv string `yaml:"api_key_env"`

	// Resolved from env var at load time.
	APIKey string `yaml:"-"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Enabled reports whether the sink has somewhere to write.
func (c FileSinkConfig) Enabled() bool {
	return strings.TrimSpace(c.Path) != ""
}

// Enabled reports whether a target spreadsheet is configured.
func (c SheetsConfig) Enabled() bool {
	return strings.TrimSpace(c.SpreadsheetID) != ""
}

// StoreEnabled reports whether insights are persisted to the local database.
// Defaults to true when the key is absent.
func (c SinksConfig) StoreEnabled() bool {
	return c.Store == nil || *c.Store
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
// A missing config.yaml is not an error: env-only deployments run on defaults.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	var cfg Config

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Threads.BaseURL == "" {
		cfg.Threads.BaseURL = DefaultBaseURL
	}
	if cfg.Threads.TokenEnv == "" {
		cfg.Threads.TokenEnv = DefaultTokenEnv
	}
	if cfg.Threads.TokenFile == "" {
		cfg.Threads.TokenFile = DefaultTokenFile
	}
	if cfg.Threads.Timeout.Duration == 0 {
		cfg.Threads.Timeout.Duration = DefaultTimeout
	}
	if cfg.Threads.PageDelay.Duration == 0 {
		cfg.Threads.PageDelay.Duration = DefaultPageDelay
	}
	if cfg.Threads.InsightDelay.Duration == 0 {
		cfg.Threads.InsightDelay.Duration = DefaultInsightDelay
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = DefaultBatchSize
	}
	if cfg.Watermark.Source == "" {
		cfg.Watermark.Source = DefaultWatermark
	}
	if cfg.Watermark.Redis.Key == "" {
		cfg.Watermark.Redis.Key = DefaultRedisKey
	}
	if cfg.Watermark.Redis.PasswordEnv == "" {
		cfg.Watermark.Redis.PasswordEnv = DefaultRedisPassEnv
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Sinks.Sheets.SheetName == "" {
		cfg.Sinks.Sheets.SheetName = DefaultSheetName
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	if cfg.Server.APIKeyEnv == "" {
		cfg.Server.APIKeyEnv = DefaultServerKeyEnv
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) {
	cfg.Threads.Token = os.Getenv(cfg.Threads.TokenEnv)
	cfg.Watermark.Redis.Password = os.Getenv(cfg.Watermark.Redis.PasswordEnv)
	cfg.Server.APIKey = os.Getenv(cfg.Server.APIKeyEnv)

	if v := os.Getenv(EnvSinceDate); v != "" {
		cfg.Sync.Since = v
	}
	if v := os.Getenv(EnvUntilDate); v != "" {
		cfg.Sync.Until = v
	}
	if v := os.Getenv(EnvSpreadsheetID); v != "" {
		cfg.Sinks.Sheets.SpreadsheetID = v
	}
	if v := os.Getenv(EnvSheetName); v != "" {
		cfg.Sinks.Sheets.SheetName = v
	}
	if cfg.Sinks.Sheets.CredentialsFile == "" {
		cfg.Sinks.Sheets.CredentialsFile = os.Getenv(DefaultSheetsCredEnv)
	}

	if cfg.Watermark.Redis.Addr == "" {
		host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")
		if host != "" {
			if port == "" {
				port = "6379"
			}
			cfg.Watermark.Redis.Addr = host + ":" + port
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Sync.BatchSize < 0 {
		return fmt.Errorf("sync.batch_size: must be positive, got %d", cfg.Sync.BatchSize)
	}
	if err := validateDate("sync.since", cfg.Sync.Since); err != nil {
		return err
	}
	if err := validateDate("sync.until", cfg.Sync.Until); err != nil {
		return err
	}

	switch cfg.Watermark.Source {
	case "store", "none":
		// valid
	case "redis":
		if strings.TrimSpace(cfg.Watermark.Redis.Addr) == "" {
			return errors.New("watermark.redis.addr: required when watermark.source is redis")
		}
	default:
		return fmt.Errorf("watermark.source: unknown source %q (want store, redis or none)", cfg.Watermark.Source)
	}

	for name, fc := range map[string]FileSinkConfig{
		"json":     cfg.Sinks.JSON,
		"csv":      cfg.Sinks.CSV,
		"markdown": cfg.Sinks.Markdown,
	} {
		if fc.S3Bucket != "" && !fc.Enabled() {
			return fmt.Errorf("sinks.%s.path: required when s3_bucket is set", name)
		}
	}

	switch cfg.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", cfg.Log.Format)
	}

	return nil
}

func validateDate(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if _, err := dateparse.ParseStrict(value); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}
