package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Portal   PortalConfig   `yaml:"portal" envconfig:"PORTAL"`
	Ingest   IngestConfig   `yaml:"ingest" envconfig:"INGEST"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"10"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/tollsync.log"`
}

// DatabaseConfig contains the relational store connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"HOST" default:"localhost"`
	Port     int    `yaml:"port" envconfig:"PORT" default:"5432"`
	User     string `yaml:"user" envconfig:"USER" default:"postgres"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	Name     string `yaml:"name" envconfig:"NAME" default:"tollsync"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"SSL_MODE" default:"disable"`
	MaxConns int32  `yaml:"max_conns" envconfig:"MAX_CONNS" default:"5"`
}

// DSN builds the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// PortalConfig contains the billing-portal automation settings
type PortalConfig struct {
	BaseURL         string        `yaml:"base_url" envconfig:"BASE_URL" default:"https://portal.conectcar.example/login"`
	Headless        bool          `yaml:"headless" envconfig:"HEADLESS" default:"true"`
	StepTimeout     time.Duration `yaml:"step_timeout" envconfig:"STEP_TIMEOUT" default:"30s"`
	DownloadTimeout time.Duration `yaml:"download_timeout" envconfig:"DOWNLOAD_TIMEOUT" default:"120s"`
}

// IngestConfig contains ingestion orchestration settings
type IngestConfig struct {
	// File-stability guard: bounded retries while the download stream
	// may still hold the export file.
	LockRetries    int           `yaml:"lock_retries" envconfig:"LOCK_RETRIES" default:"5"`
	LockRetryDelay time.Duration `yaml:"lock_retry_delay" envconfig:"LOCK_RETRY_DELAY" default:"2s"`
	// Grace period before deleting the source file after a success run.
	DeleteGrace time.Duration `yaml:"delete_grace" envconfig:"DELETE_GRACE" default:"5s"`
	// Upper bound for one whole invocation.
	RunTimeout time.Duration `yaml:"run_timeout" envconfig:"RUN_TIMEOUT" default:"15m"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DownloadsDir   string `yaml:"downloads_dir" envconfig:"DOWNLOADS_DIR" default:"data/downloads"`
	ScreenshotsDir string `yaml:"screenshots_dir" envconfig:"SCREENSHOTS_DIR" default:"data/screenshots"`
	LogsDir        string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
}

// EnsureDirectories creates the configured directories if missing.
func (p PathsConfig) EnsureDirectories() error {
	for _, dir := range []string{p.DownloadsDir, p.ScreenshotsDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ScreenshotPath returns the path for a diagnostic screenshot file.
func (p PathsConfig) ScreenshotPath(name string) string {
	return filepath.Join(p.ScreenshotsDir, name)
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("TOLLSYNC", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Database.Host == "" {
		envConfig.Database.Host = fileConfig.Database.Host
	}
	if envConfig.Database.Password == "" {
		envConfig.Database.Password = fileConfig.Database.Password
	}
	if envConfig.Portal.BaseURL == "" {
		envConfig.Portal.BaseURL = fileConfig.Portal.BaseURL
	}
	if envConfig.Logging.FilePath == "" {
		envConfig.Logging.FilePath = fileConfig.Logging.FilePath
	}
	return envConfig
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Portal.StepTimeout <= 0 {
		return fmt.Errorf("portal step timeout must be positive")
	}

	if c.Portal.DownloadTimeout <= 0 {
		return fmt.Errorf("portal download timeout must be positive")
	}

	if c.Ingest.LockRetries <= 0 {
		return fmt.Errorf("ingest lock retries must be positive")
	}

	if c.Ingest.RunTimeout <= 0 {
		return fmt.Errorf("ingest run timeout must be positive")
	}

	if c.Logging.Format != "json" {
		// Structured output only; text handlers are not supported.
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/tollsync.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  10,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/tollsync.log",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "tollsync",
			SSLMode:  "disable",
			MaxConns: 5,
		},
		Portal: PortalConfig{
			Headless:        true,
			StepTimeout:     30 * time.Second,
			DownloadTimeout: 120 * time.Second,
		},
		Ingest: IngestConfig{
			LockRetries:    5,
			LockRetryDelay: 2 * time.Second,
			DeleteGrace:    5 * time.Second,
			RunTimeout:     15 * time.Minute,
		},
		Paths: PathsConfig{
			DownloadsDir:   "data/downloads",
			ScreenshotsDir: "data/screenshots",
			LogsDir:        "logs",
		},
	}
}
