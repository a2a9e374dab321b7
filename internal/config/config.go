package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"offlinesync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Storage      StorageConfig      `yaml:"storage"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Remote       RemoteConfig       `yaml:"remote"`
	Google       GoogleConfig       `yaml:"google"`
	Telegram     TelegramConfig     `yaml:"telegram"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	API          APIConfig          `yaml:"api"`
	Exports      ExportConfig       `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// Storage backends for the queue and history entries.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type StorageConfig struct {
	Backend string `yaml:"backend"`
}

type SyncConfig struct {
	SettleDelay    time.Duration     `yaml:"settle_delay"`
	HandlerTimeout time.Duration     `yaml:"handler_timeout"`
	MaxRetries     int               `yaml:"max_retries"`
	HistoryLimit   int               `yaml:"history_limit"`
	DrainOnEnqueue bool              `yaml:"drain_on_enqueue"`
	Retry          RetryPolicyConfig `yaml:"retry"`
}

type RetryPolicyConfig struct {
	Enabled       bool          `yaml:"enabled"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        float64       `yaml:"jitter"`
}

type ConnectivityConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	AssumeOnline  bool          `yaml:"assume_online"`
}

type RemoteConfig struct {
	BaseURL   string             `yaml:"base_url"`
	Timeout   time.Duration      `yaml:"timeout"`
	OAuth2    OAuth2Config       `yaml:"oauth2"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	Modules   []ModuleConfig     `yaml:"modules"`
}

type OAuth2Config struct {
	Enabled      bool     `yaml:"enabled"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// Handler kinds a module can be bound to.
const (
	HandlerREST   = "rest"
	HandlerSheets = "sheets"
)

type ModuleConfig struct {
	Name    string `yaml:"name"`
	Handler string `yaml:"handler"`
	Path    string `yaml:"path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	AuditSpreadsheetID    string `yaml:"audit_spreadsheet_id"`
	AuditSheetName        string `yaml:"audit_sheet_name"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

// APIGRPCConfig serves grpc.health.v1 for the daemon.
type APIGRPCConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	Reflection     bool          `yaml:"reflection"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; values already in the environment win
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite storage")
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis storage")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Sync.MaxRetries < 0 {
		return errors.New("sync.max_retries must not be negative")
	}
	if c.Sync.HistoryLimit > models.HistoryLimit {
		return fmt.Errorf("sync.history_limit must not exceed %d", models.HistoryLimit)
	}

	return ValidateModules(c.Remote, c.Google)
}

// ValidateModules checks module bindings for duplicates and missing handler settings.
func ValidateModules(remote RemoteConfig, google GoogleConfig) error {
	seen := make(map[string]bool)
	for _, m := range remote.Modules {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return errors.New("module with empty name")
		}
		if seen[name] {
			return fmt.Errorf("duplicate module found: %s", name)
		}
		seen[name] = true

		switch m.Handler {
		case HandlerREST:
			if remote.BaseURL == "" {
				return fmt.Errorf("module %s: remote.base_url is required for rest handlers", name)
			}
		case HandlerSheets:
			if google.GoogleCredentialsFile == "" || google.AuditSpreadsheetID == "" {
				return fmt.Errorf("module %s: google credentials and audit spreadsheet are required", name)
			}
		default:
			return fmt.Errorf("module %s: unknown handler %q", name, m.Handler)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "offlinesync"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendSQLite
	}
	if c.Sync.SettleDelay == 0 {
		c.Sync.SettleDelay = models.DefaultSettleDelay
	}
	if c.Sync.HandlerTimeout == 0 {
		c.Sync.HandlerTimeout = models.DefaultHandlerTimeout
	}
	if c.Sync.HistoryLimit <= 0 {
		c.Sync.HistoryLimit = models.HistoryLimit
	}
	if c.Sync.Retry.InitialDelay == 0 {
		c.Sync.Retry.InitialDelay = 5 * time.Second
	}
	if c.Sync.Retry.MaxDelay == 0 {
		c.Sync.Retry.MaxDelay = 5 * time.Minute
	}
	if c.Sync.Retry.BackoffFactor == 0 {
		c.Sync.Retry.BackoffFactor = 2
	}
	if c.Connectivity.ProbeInterval == 0 {
		c.Connectivity.ProbeInterval = models.DefaultProbeInterval
	}
	if c.Connectivity.ProbeTimeout == 0 {
		c.Connectivity.ProbeTimeout = models.DefaultProbeTimeout
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 15 * time.Second
	}
	for i := range c.Remote.Modules {
		m := &c.Remote.Modules[i]
		if m.Handler == "" {
			m.Handler = HandlerREST
		}
		if m.Path == "" {
			m.Path = m.Name
		}
	}
	if c.Google.AuditSheetName == "" {
		c.Google.AuditSheetName = "Mutations"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.GRPC.HealthInterval <= 0 {
		c.API.GRPC.HealthInterval = 10 * time.Second
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
