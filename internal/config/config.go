package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile   = "config.yaml"
	DefaultAccountsFile = "accounts.yaml"
	DefaultStoragePath  = "relaypan.db"
	DefaultRetainDays   = 30
	DefaultBatchSize    = 5
	DefaultCooldown     = 16 * time.Minute
	DefaultCallTimeout  = 30 * time.Second
	DefaultLockPath     = "run.lock"
	DefaultLockTTL      = 10 * time.Minute
	DefaultLockKey      = "relaypan:lock"
	DefaultSheetsRange  = "Sheet1!A:A"
	DefaultWebhookWait  = 10 * time.Second
	DefaultMetricsJob   = "relaypan"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "console"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "16m".
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

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

type Config struct {
	Target   TargetConfig   `yaml:"target"`
	Accounts AccountsConfig `yaml:"accounts"`
	Rotation RotationConfig `yaml:"rotation"`
	Storage  StorageConfig  `yaml:"storage"`
	Publish  PublishConfig  `yaml:"publish"`
	Lock     LockConfig     `yaml:"lock"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`

	// Directory the file was loaded from; relative paths resolve against it.
	Dir string `yaml:"-"`
}

type TargetConfig struct {
	Username  string `yaml:"username"`
	BatchSize int    `yaml:"batch_size"`
}

type AccountsConfig struct {
	File string `yaml:"file"`
}

type RotationConfig struct {
	Cooldown    Duration `yaml:"cooldown"`
	CallTimeout Duration `yaml:"call_timeout"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type PublishConfig struct {
	Redact  RedactConfig  `yaml:"redact"`
	Sheets  SheetsConfig  `yaml:"sheets"`
	Drive   DriveConfig   `yaml:"drive"`
	Dir     DirConfig     `yaml:"dir"`
	Webhook WebhookConfig `yaml:"webhook"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

// GoogleAuth names the credential for a Google sink. A credentials file
// (service account or authorized user JSON) refreshes its own tokens; a
// token from token_env is a fixed access token and expires with it.
type GoogleAuth struct {
	CredentialsFile    string `yaml:"credentials_file"`
	CredentialsFileEnv string `yaml:"credentials_file_env"`
	TokenEnv           string `yaml:"token_env"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

func (a GoogleAuth) configured() bool { return a.CredentialsFile != "" || a.Token != "" }

type SheetsConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id"`
	Range         string `yaml:"range"`
	GoogleAuth    `yaml:",inline"`
}

func (c SheetsConfig) Enabled() bool { return c.SpreadsheetID != "" }

type DriveConfig struct {
	FolderID   string `yaml:"folder_id"`
	GoogleAuth `yaml:",inline"`
}

func (c DriveConfig) Enabled() bool { return c.FolderID != "" }

type DirConfig struct {
	Path string `yaml:"path"`
}

func (c DirConfig) Enabled() bool { return c.Path != "" }

type WebhookConfig struct {
	URL      string   `yaml:"url"`
	URLEnv   string   `yaml:"url_env"`
	TokenEnv string   `yaml:"token_env"`
	Timeout  Duration `yaml:"timeout"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

func (c WebhookConfig) Enabled() bool { return c.URL != "" }

type LockConfig struct {
	Path        string   `yaml:"path"`
	TTL         Duration `yaml:"ttl"`
	RedisURLEnv string   `yaml:"redis_url_env"`
	Key         string   `yaml:"key"`

	// Resolved from env var at load time.
	RedisURL string `yaml:"-"`
}

type MetricsConfig struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Dir = dir

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Resolve returns p relative to the config directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

func applyDefaults(cfg *Config) {
	if cfg.Target.BatchSize == 0 {
		cfg.Target.BatchSize = DefaultBatchSize
	}
	if cfg.Accounts.File == "" {
		cfg.Accounts.File = DefaultAccountsFile
	}
	if cfg.Rotation.Cooldown.Duration == 0 {
		cfg.Rotation.Cooldown.Duration = DefaultCooldown
	}
	if cfg.Rotation.CallTimeout.Duration == 0 {
		cfg.Rotation.CallTimeout.Duration = DefaultCallTimeout
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Publish.Sheets.Range == "" {
		cfg.Publish.Sheets.Range = DefaultSheetsRange
	}
	if cfg.Publish.Webhook.Timeout.Duration == 0 {
		cfg.Publish.Webhook.Timeout.Duration = DefaultWebhookWait
	}
	if cfg.Lock.Path == "" {
		cfg.Lock.Path = DefaultLockPath
	}
	if cfg.Lock.TTL.Duration == 0 {
		cfg.Lock.TTL.Duration = DefaultLockTTL
	}
	if cfg.Lock.Key == "" {
		cfg.Lock.Key = DefaultLockKey
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = DefaultMetricsJob
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) {
	resolveGoogleAuth(&cfg.Publish.Sheets.GoogleAuth)
	resolveGoogleAuth(&cfg.Publish.Drive.GoogleAuth)
	if cfg.Publish.Webhook.URLEnv != "" && cfg.Publish.Webhook.URL == "" {
		cfg.Publish.Webhook.URL = os.Getenv(cfg.Publish.Webhook.URLEnv)
	}
	if cfg.Publish.Webhook.TokenEnv != "" {
		cfg.Publish.Webhook.Token = os.Getenv(cfg.Publish.Webhook.TokenEnv)
	}
	if cfg.Lock.RedisURLEnv != "" {
		cfg.Lock.RedisURL = os.Getenv(cfg.Lock.RedisURLEnv)
	}
}

func resolveGoogleAuth(a *GoogleAuth) {
	if a.CredentialsFileEnv != "" && a.CredentialsFile == "" {
		a.CredentialsFile = os.Getenv(a.CredentialsFileEnv)
	}
	if a.TokenEnv != "" {
		a.Token = os.Getenv(a.TokenEnv)
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Target.Username) == "" {
		return errors.New("target.username is required")
	}
	if cfg.Target.BatchSize < 1 {
		return fmt.Errorf("target.batch_size: must be positive, got %d", cfg.Target.BatchSize)
	}
	if cfg.Rotation.Cooldown.Duration < 0 {
		return errors.New("rotation.cooldown: must not be negative")
	}
	if cfg.Rotation.CallTimeout.Duration < 0 {
		return errors.New("rotation.call_timeout: must not be negative")
	}

	p := cfg.Publish
	if !p.Sheets.Enabled() && !p.Drive.Enabled() && !p.Dir.Enabled() {
		return errors.New("publish: at least one of sheets, drive or dir must be configured")
	}
	if p.Sheets.Enabled() && !p.Sheets.configured() {
		return errors.New("publish.sheets: credentials_file or a non-empty token_env is required")
	}
	if p.Drive.Enabled() && !p.Drive.configured() {
		return errors.New("publish.drive: credentials_file or a non-empty token_env is required")
	}
	if p.Webhook.Enabled() {
		if _, err := url.ParseRequestURI(p.Webhook.URL); err != nil {
			return fmt.Errorf("publish.webhook.url: %w", err)
		}
	}
	if p.Redact.Enabled && len(p.Redact.Patterns) == 0 {
		return errors.New("publish.redact: enabled without patterns")
	}

	if cfg.Metrics.Pushgateway != "" {
		if _, err := url.ParseRequestURI(cfg.Metrics.Pushgateway); err != nil {
			return fmt.Errorf("metrics.pushgateway: %w", err)
		}
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "console", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want console or json)", cfg.Log.Format)
	}

	return nil
}
