// Package container wires the intake pipeline together and owns the
// lifecycle of its long-lived components.
package container

import (
	"fmt"
	"time"
)

// Extraction providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Archive backends.
const (
	ArchiveLocal = "local"
	ArchiveMinio = "minio"
)

// Config holds all configuration for the Container.
type Config struct {
	Database DatabaseConfig
	AI       AIConfig
	Gemini   GeminiConfig
	OpenAI   OpenAIConfig
	Storage  StorageConfig
	Intake   IntakeConfig
	Server   ServerConfig
	Worker   WorkerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// MigrationsDir overrides the embedded schema when set.
	MigrationsDir string
}

// AIConfig selects the document-understanding provider.
type AIConfig struct {
	// Provider is "gemini" or "openai"
	Provider string

	// Timeout bounds every extractor call
	Timeout time.Duration

	// PromptsPath is an optional YAML file overriding the built-in prompts
	PromptsPath string
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	APIKey    string
	Model     string
	PollDelay time.Duration
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// MaxPages is the number of rendered pages sent for identity and allocation calls
	MaxPages int
}

// StorageConfig holds file locations and the archive backend.
type StorageConfig struct {
	// UploadDir receives uploaded batches
	UploadDir string

	// SplitDir receives per-invoice outputs of multi-invoice documents
	SplitDir string

	// ReadyDir receives validated, renamed invoices
	ReadyDir string

	// ArchiveBackend is "local" or "minio"
	ArchiveBackend string

	// ArchiveDir is the root of the local archive
	ArchiveDir string

	Minio MinioConfig
}

// MinioConfig holds MinIO archive settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// IntakeConfig holds pipeline behaviour switches.
type IntakeConfig struct {
	// OverlapPolicy is "reject" or "allow"
	OverlapPolicy string

	// Compress optimizes validated PDFs
	Compress bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// Enabled starts the prepare worker with the container
	Enabled bool

	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/intake.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		AI: AIConfig{
			Provider: ProviderGemini,
			Timeout:  2 * time.Minute,
		},
		Gemini: GeminiConfig{
			Model:     "gemini-2.5-flash",
			PollDelay: time.Second,
		},
		OpenAI: OpenAIConfig{
			Model:    "gpt-4o",
			MaxPages: 2,
		},
		Storage: StorageConfig{
			UploadDir:      "data/uploads",
			SplitDir:       "data/split",
			ReadyDir:       "data/ready",
			ArchiveBackend: ArchiveLocal,
			ArchiveDir:     "data/archive",
		},
		Intake: IntakeConfig{
			OverlapPolicy: "reject",
			Compress:      true,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Minute,
			MaxUploadBytes: 64 << 20,
		},
		Worker: WorkerConfig{
			Enabled:      true,
			PollInterval: 5 * time.Second,
			BatchSize:    10,
			Concurrency:  3,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.AI.Provider {
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("gemini.api_key is required")
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("openai.api_key is required")
		}
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}

	if c.Storage.UploadDir == "" || c.Storage.SplitDir == "" || c.Storage.ReadyDir == "" {
		return fmt.Errorf("storage.upload_dir, storage.split_dir and storage.ready_dir are required")
	}

	switch c.Storage.ArchiveBackend {
	case ArchiveLocal:
		if c.Storage.ArchiveDir == "" {
			return fmt.Errorf("storage.archive_dir is required")
		}
	case ArchiveMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage.minio.endpoint and storage.minio.bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage.archive_backend %q", c.Storage.ArchiveBackend)
	}

	return nil
}
