package config

import (
	"github.com/garyjia/ai-invoice-intake/internal/container"
)

// ToContainerConfig converts the file-based Config into the container's
// configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		AI: container.AIConfig{
			Provider:    c.AI.Provider,
			Timeout:     c.AI.Timeout,
			PromptsPath: c.AI.PromptsPath,
		},
		Gemini: container.GeminiConfig{
			APIKey:    c.Gemini.APIKey,
			Model:     c.Gemini.Model,
			PollDelay: c.Gemini.PollDelay,
		},
		OpenAI: container.OpenAIConfig{
			APIKey:   c.OpenAI.APIKey,
			BaseURL:  c.OpenAI.BaseURL,
			Model:    c.OpenAI.Model,
			MaxPages: c.OpenAI.MaxPages,
		},
		Storage: container.StorageConfig{
			UploadDir:      c.Storage.UploadDir,
			SplitDir:       c.Storage.SplitDir,
			ReadyDir:       c.Storage.ReadyDir,
			ArchiveBackend: c.Storage.ArchiveBackend,
			ArchiveDir:     c.Storage.ArchiveDir,
			Minio: container.MinioConfig{
				Endpoint:  c.Storage.Minio.Endpoint,
				AccessKey: c.Storage.Minio.AccessKey,
				SecretKey: c.Storage.Minio.SecretKey,
				Bucket:    c.Storage.Minio.Bucket,
				Prefix:    c.Storage.Minio.Prefix,
				UseSSL:    c.Storage.Minio.UseSSL,
			},
		},
		Intake: container.IntakeConfig{
			OverlapPolicy: c.Intake.OverlapPolicy,
			Compress:      c.Intake.Compress,
		},
		Server: container.ServerConfig{
			Host:           c.Server.Host,
			Port:           c.Server.Port,
			ReadTimeout:    c.Server.ReadTimeout,
			WriteTimeout:   c.Server.WriteTimeout,
			MaxUploadBytes: c.Server.MaxUploadBytes,
		},
		Worker: container.WorkerConfig{
			Enabled:      c.Worker.Enabled,
			PollInterval: c.Worker.PollInterval,
			BatchSize:    c.Worker.BatchSize,
			Concurrency:  c.Worker.Concurrency,
		},
	}
}
