package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	AI       AIConfig       `mapstructure:"ai"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Intake   IntakeConfig   `mapstructure:"intake"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// AIConfig selects the extraction provider
type AIConfig struct {
	Provider    string        `mapstructure:"provider"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PromptsPath string        `mapstructure:"prompts_path"`
}

// GeminiConfig holds Gemini API configuration
type GeminiConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	PollDelay time.Duration `mapstructure:"poll_delay"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	MaxPages int    `mapstructure:"max_pages"`
}

// StorageConfig holds file locations
type StorageConfig struct {
	UploadDir      string      `mapstructure:"upload_dir"`
	SplitDir       string      `mapstructure:"split_dir"`
	ReadyDir       string      `mapstructure:"ready_dir"`
	ArchiveBackend string      `mapstructure:"archive_backend"`
	ArchiveDir     string      `mapstructure:"archive_dir"`
	Minio          MinioConfig `mapstructure:"minio"`
}

// MinioConfig holds MinIO archive configuration
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// IntakeConfig holds pipeline switches
type IntakeConfig struct {
	OverlapPolicy string `mapstructure:"overlap_policy"`
	Compress      bool   `mapstructure:"compress"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Concurrency  int           `mapstructure:"concurrency"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
// A .env file next to the config file, if present, is loaded first;
// variables already set in the environment win.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(configPath), ".env")); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	err := gotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.max_upload_bytes", 64<<20)

	// Database defaults
	v.SetDefault("database.path", "data/intake.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// AI defaults
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.timeout", 2*time.Minute)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.poll_delay", time.Second)
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.max_pages", 2)

	// Storage defaults
	v.SetDefault("storage.upload_dir", "data/uploads")
	v.SetDefault("storage.split_dir", "data/split")
	v.SetDefault("storage.ready_dir", "data/ready")
	v.SetDefault("storage.archive_backend", "local")
	v.SetDefault("storage.archive_dir", "data/archive")
	v.SetDefault("storage.minio.use_ssl", true)

	// Intake defaults
	v.SetDefault("intake.overlap_policy", "reject")
	v.SetDefault("intake.compress", true)

	// Worker defaults
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.concurrency", 3)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"gemini.api_key":           "GEMINI_API_KEY",
		"openai.api_key":           "OPENAI_API_KEY",
		"storage.minio.access_key": "MINIO_ACCESS_KEY",
		"storage.minio.secret_key": "MINIO_SECRET_KEY",
		"database.path":            "INTAKE_DB_PATH",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.AI.Provider {
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini.api_key is required (or set GEMINI_API_KEY)")
		}
	case "openai":
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required (or set OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("ai.provider must be gemini or openai, got %q", c.AI.Provider)
	}

	switch c.Intake.OverlapPolicy {
	case "reject", "allow":
	default:
		return fmt.Errorf("intake.overlap_policy must be reject or allow, got %q", c.Intake.OverlapPolicy)
	}

	if c.Storage.UploadDir == "" || c.Storage.SplitDir == "" || c.Storage.ReadyDir == "" {
		return fmt.Errorf("storage.upload_dir, storage.split_dir and storage.ready_dir are required")
	}

	return nil
}
