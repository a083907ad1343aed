package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"formsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Google     GoogleConfig     `yaml:"google"`
	Queues     QueuesConfig     `yaml:"queues"`
	Migration  MigrationConfig  `yaml:"migration"`
	Notify     NotifyConfig     `yaml:"notify"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
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

type GoogleConfig struct {
	// ClientSecretsFile is the OAuth client downloaded from the cloud
	// console; the token itself comes from the bootstrap step and lives
	// in the credential store under CredentialName.
	ClientSecretsFile string  `yaml:"client_secrets_file"`
	CredentialName    string  `yaml:"credential_name"`
	SpreadsheetID     string  `yaml:"spreadsheet_id"`
	CalendarID        string  `yaml:"calendar_id"`
	SheetsRPS         float64 `yaml:"sheets_rps"`
	CalendarRPS       float64 `yaml:"calendar_rps"`
	RateBurst         int     `yaml:"rate_burst"`
}

type QueuesConfig struct {
	SoftTimeLimitSeconds int            `yaml:"soft_time_limit_seconds"`
	HardTimeLimitSeconds int            `yaml:"hard_time_limit_seconds"`
	RetryDelaySeconds    int            `yaml:"retry_delay_seconds"`
	MaxRetries           int            `yaml:"max_retries"`
	MaxJobsPerWorker     int            `yaml:"max_jobs_per_worker"`
	PollIntervalSeconds  int            `yaml:"poll_interval_seconds"`
	Workers              map[string]int `yaml:"workers"`

	// Derived from the *_seconds fields in applyDefaults.
	SoftTimeLimit time.Duration `yaml:"-"`
	HardTimeLimit time.Duration `yaml:"-"`
	RetryDelay    time.Duration `yaml:"-"`
	PollInterval  time.Duration `yaml:"-"`
}

type MigrationConfig struct {
	// Source selects where worksheets come from: "sheets" reads the live
	// spreadsheet, "xlsx" reads a local workbook snapshot.
	Source   string `yaml:"source"`
	XLSXPath string `yaml:"xlsx_path"`
	Timezone string `yaml:"timezone"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	OperatorChatID int64  `yaml:"operator_chat_id"`
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

func Load(configPath string) (*Config, error) {
	// .env is optional; variables already in the environment win.
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${VAR} references before unmarshalling.
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Queues.SoftTimeLimit >= c.Queues.HardTimeLimit {
		return fmt.Errorf("soft_time_limit_seconds (%s) must be below hard_time_limit_seconds (%s)",
			c.Queues.SoftTimeLimit, c.Queues.HardTimeLimit)
	}
	switch c.Migration.Source {
	case "sheets":
		if c.Google.SpreadsheetID == "" {
			return errors.New("google.spreadsheet_id is required for the sheets source")
		}
	case "xlsx":
		if c.Migration.XLSXPath == "" {
			return errors.New("migration.xlsx_path is required for the xlsx source")
		}
	default:
		return fmt.Errorf("unknown migration source: %q", c.Migration.Source)
	}
	if _, err := time.LoadLocation(c.Migration.Timezone); err != nil {
		return fmt.Errorf("invalid migration timezone: %w", err)
	}
	return nil
}

// Location returns the fixed timezone all migrated timestamps are parsed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Migration.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) applyDefaults() {
	c.Queues.SoftTimeLimit = time.Duration(c.Queues.SoftTimeLimitSeconds) * time.Second
	c.Queues.HardTimeLimit = time.Duration(c.Queues.HardTimeLimitSeconds) * time.Second
	c.Queues.RetryDelay = time.Duration(c.Queues.RetryDelaySeconds) * time.Second
	c.Queues.PollInterval = time.Duration(c.Queues.PollIntervalSeconds) * time.Second
	if c.Queues.SoftTimeLimit == 0 {
		c.Queues.SoftTimeLimit = 600 * time.Second
	}
	if c.Queues.HardTimeLimit == 0 {
		c.Queues.HardTimeLimit = 900 * time.Second
	}
	if c.Queues.RetryDelay == 0 {
		c.Queues.RetryDelay = 60 * time.Second
	}
	if c.Queues.MaxRetries == 0 {
		c.Queues.MaxRetries = 3
	}
	if c.Queues.MaxJobsPerWorker == 0 {
		c.Queues.MaxJobsPerWorker = 1000
	}
	if c.Queues.PollInterval == 0 {
		c.Queues.PollInterval = 2 * time.Second
	}
	if c.Queues.Workers == nil {
		c.Queues.Workers = map[string]int{
			models.QueueMigration:      2,
			models.QueueMigrationHeavy: 1,
			models.QueueGoogleSync:     2,
			models.QueueValidation:     1,
		}
	}
	if c.Google.CredentialName == "" {
		c.Google.CredentialName = "google"
	}
	if c.Google.SheetsRPS == 0 {
		c.Google.SheetsRPS = 2.0
	}
	if c.Google.CalendarRPS == 0 {
		c.Google.CalendarRPS = 5.0
	}
	if c.Google.RateBurst == 0 {
		c.Google.RateBurst = 5
	}
	if c.Migration.Source == "" {
		c.Migration.Source = "sheets"
	}
	if c.Migration.Timezone == "" {
		c.Migration.Timezone = "America/Sao_Paulo"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
