package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// DatabaseConfig holds the database connection information.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// AdminConfig holds configuration for the admin panel.
type AdminConfig struct {
	Password string `yaml:"password"`
}

// CredentialsConfig controls credential rotation and health tracking.
type CredentialsConfig struct {
	// RotationWindow is the age after which an admin-pool credential is no longer selectable.
	RotationWindow time.Duration `yaml:"rotation_window"`
	// WarningWindow is the age after which an admin-pool credential is reported as expiring.
	WarningWindow time.Duration `yaml:"warning_window"`
	// FailureThreshold is the number of consecutive rate-limit failures that mark a user
	// credential as quota_exceeded.
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	RequestsPerMin   int           `yaml:"requests_per_minute"`
	ReloadInterval   time.Duration `yaml:"reload_interval"`
}

// GeneratorConfig holds settings for the generative API client.
type GeneratorConfig struct {
	Model       string        `yaml:"model"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// RunnerConfig holds settings for the batch runner and uploads.
type RunnerConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	MaxQueueItems  int   `yaml:"max_queue_items"`
}

// SchedulerConfig holds cron specs for background jobs.
type SchedulerConfig struct {
	AutoScrapeCheck string `yaml:"auto_scrape_check"`
	KeyMaintenance  string `yaml:"key_maintenance"`
	// PurgeExpired deletes expired rotation keys during key maintenance.
	PurgeExpired bool `yaml:"purge_expired"`
}

// TelemetryConfig selects the trace exporter.
type TelemetryConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout or otlp
	Endpoint string `yaml:"endpoint"`
}

// Config holds the configuration for the service.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Admin       AdminConfig       `yaml:"admin"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Runner      RunnerConfig      `yaml:"runner"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Port        int               `yaml:"port"`
	Debug       bool              `yaml:"debug"`
}

// LoadConfig reads and parses the configuration file, applies defaults and environment
// overrides. It returns the config and any warnings produced while applying defaults.
var LoadConfig = func(path string) (*Config, []string, error) {
	var config Config
	var warnings []string

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	// A missing file is fine: defaults and environment variables fill the gaps.

	// .env is optional
	_ = godotenv.Load()

	if err := applyEnv(&config); err != nil {
		return nil, nil, err
	}
	warnings = applyDefaults(&config)

	if config.Database.Type == "" || config.Database.DSN == "" {
		return nil, nil, fmt.Errorf("database type and dsn must be configured in the config file or via environment variables")
	}
	if config.Credentials.WarningWindow >= config.Credentials.RotationWindow {
		return nil, nil, fmt.Errorf("credentials.warning_window (%s) must be shorter than credentials.rotation_window (%s)",
			config.Credentials.WarningWindow, config.Credentials.RotationWindow)
	}

	return &config, warnings, nil
}

func applyDefaults(config *Config) []string {
	var warnings []string

	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Database.Type == "" && config.Database.DSN == "" {
		config.Database.Type = "sqlite"
		config.Database.DSN = "stockmeta.db"
		warnings = append(warnings, "database not configured, using sqlite file stockmeta.db")
	}
	if config.Admin.Password == "" {
		warnings = append(warnings, "admin.password not set, admin routes will reject every request")
	}
	if config.Credentials.RotationWindow == 0 {
		config.Credentials.RotationWindow = 7 * 24 * time.Hour
	}
	if config.Credentials.WarningWindow == 0 {
		config.Credentials.WarningWindow = 6 * 24 * time.Hour
	}
	if config.Credentials.FailureThreshold == 0 {
		config.Credentials.FailureThreshold = 3
		warnings = append(warnings, "credentials.failure_threshold not set, using default value of 3")
	}
	if config.Credentials.Cooldown == 0 {
		config.Credentials.Cooldown = 5 * time.Minute
	}
	if config.Credentials.RequestsPerMin == 0 {
		config.Credentials.RequestsPerMin = 15
	}
	if config.Credentials.ReloadInterval == 0 {
		config.Credentials.ReloadInterval = time.Minute
	}
	if config.Generator.Model == "" {
		config.Generator.Model = "gemini-2.5-flash"
	}
	if config.Generator.CallTimeout == 0 {
		config.Generator.CallTimeout = 90 * time.Second
	}
	if config.Runner.MaxUploadBytes == 0 {
		config.Runner.MaxUploadBytes = 20 << 20
	}
	if config.Runner.MaxQueueItems == 0 {
		config.Runner.MaxQueueItems = 500
	}
	if config.Scheduler.AutoScrapeCheck == "" {
		config.Scheduler.AutoScrapeCheck = "@every 1m"
	}
	if config.Scheduler.KeyMaintenance == "" {
		config.Scheduler.KeyMaintenance = "@every 5m"
	}
	if config.Telemetry.Exporter == "" {
		config.Telemetry.Exporter = "none"
	}
	if config.Telemetry.Endpoint == "" {
		config.Telemetry.Endpoint = "localhost:4317"
	}
	return warnings
}

func applyEnv(config *Config) error {
	if dsn := os.Getenv("STOCKMETA_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if dbType := os.Getenv("STOCKMETA_DATABASE_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if port := os.Getenv("STOCKMETA_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid STOCKMETA_PORT: %w", err)
		}
		config.Port = p
	}
	if password := os.Getenv("STOCKMETA_ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if model := os.Getenv("STOCKMETA_GENERATOR_MODEL"); model != "" {
		config.Generator.Model = model
	}
	if exporter := os.Getenv("STOCKMETA_TELEMETRY_EXPORTER"); exporter != "" {
		config.Telemetry.Exporter = exporter
	}
	if debug := os.Getenv("STOCKMETA_DEBUG"); debug != "" {
		config.Debug = debug == "true"
	}
	return nil
}
