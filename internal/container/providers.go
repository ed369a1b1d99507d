package container

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/allocation"
	"github.com/garyjia/ai-invoice-intake/internal/annotation"
	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/application/service"
	"github.com/garyjia/ai-invoice-intake/internal/export"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/external/extraction"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/external/gemini"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/external/openai"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/persistence/repository"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/storage"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/worker"
	"github.com/garyjia/ai-invoice-intake/internal/invoice"
	"github.com/garyjia/ai-invoice-intake/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ExtractorBundle holds the selected extractor and what releases it.
type ExtractorBundle struct {
	Extractor port.Extractor
	Closer    io.Closer
}

// StorageBundle holds storage-related components.
type StorageBundle struct {
	FileStorage port.FileStorage
	Archiver    port.Archiver
}

// ServiceDeps groups what the application services need.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Extractor port.Extractor
	Storage   *StorageBundle
	Config    *Config
	Logger    *zap.Logger
}

// ProvideDatabase opens the SQLite store and applies pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(db, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrations(cfg.MigrationsDir)
	} else {
		err = migrator.Run()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, txManager port.TransactionManager, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Supplier:  repository.NewSupplierRepository(sqlDB, txManager, logger),
		Ledger:    repository.NewLedgerRepository(sqlDB, logger),
		BatchItem: repository.NewBatchItemRepository(sqlDB, logger),
	}, nil
}

// ProvideExtractor creates the extractor of the configured provider.
func ProvideExtractor(ctx context.Context, cfg *Config, logger *zap.Logger) (*ExtractorBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	prompts, err := extraction.LoadPrompts(cfg.AI.PromptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}

	switch cfg.AI.Provider {
	case ProviderGemini:
		ex, err := gemini.NewExtractor(ctx, gemini.Config{
			APIKey:    cfg.Gemini.APIKey,
			Model:     cfg.Gemini.Model,
			PollDelay: cfg.Gemini.PollDelay,
		}, prompts, logger)
		if err != nil {
			return nil, err
		}
		return &ExtractorBundle{Extractor: ex, Closer: ex}, nil

	case ProviderOpenAI:
		ex, err := openai.NewExtractor(openai.Config{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.Model,
			MaxPages: cfg.OpenAI.MaxPages,
		}, prompts, logger)
		if err != nil {
			return nil, err
		}
		return &ExtractorBundle{Extractor: ex}, nil
	}

	return nil, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
}

// ProvideStorage creates upload storage and the configured archive.
func ProvideStorage(ctx context.Context, cfg *StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	bundle := &StorageBundle{
		FileStorage: storage.NewLocalFileStorage(cfg.UploadDir, logger),
	}

	switch cfg.ArchiveBackend {
	case ArchiveMinio:
		archiver, err := storage.NewMinioArchiver(ctx, storage.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		bundle.Archiver = archiver
	default:
		bundle.Archiver = storage.NewLocalArchiver(cfg.ArchiveDir, logger)
	}

	return bundle, nil
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil || deps.Repos == nil || deps.Storage == nil || deps.Config == nil {
		return nil, fmt.Errorf("service dependencies are incomplete")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	cfg := deps.Config
	svcLogger := &zapLoggerAdapter{logger: deps.Logger}

	intake := service.NewIntakeService(
		deps.Repos.BatchItem,
		deps.Storage.FileStorage,
		deps.Extractor,
		invoice.NewSplitter(deps.Logger),
		invoice.PageCount,
		deps.TxManager,
		service.IntakeConfig{
			SplitDir:       cfg.Storage.SplitDir,
			OverlapPolicy:  invoice.ParseOverlapPolicy(cfg.Intake.OverlapPolicy),
			ExtractTimeout: cfg.AI.Timeout,
		},
		svcLogger,
	)

	invoices := service.NewInvoiceService(
		deps.Repos.BatchItem,
		deps.Repos.Supplier,
		deps.Repos.Ledger,
		allocation.NewResolver(deps.Extractor, cfg.AI.Timeout, deps.Logger),
		annotation.NewStamper(deps.Logger),
		invoice.NewCompressor(cfg.Intake.Compress, deps.Logger),
		deps.Storage.Archiver,
		deps.TxManager,
		service.InvoiceConfig{ReadyDir: cfg.Storage.ReadyDir},
		svcLogger,
	)

	return &ServiceBundle{
		Intake:    intake,
		Invoices:  invoices,
		Suppliers: service.NewSupplierService(deps.Repos.Supplier, svcLogger),
		Ledger:    service.NewLedgerService(deps.Repos.Ledger, export.NewLedgerExporter(deps.Logger), svcLogger),
	}, nil
}

// ProvideWorkers creates the worker manager. The prepare worker is
// registered only when enabled.
func ProvideWorkers(cfg *WorkerConfig, intake service.IntakeService, logger *zap.Logger) (*worker.Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}

	manager := worker.NewManager(logger)
	if cfg.Enabled {
		manager.Register(worker.NewPrepareWorker(worker.PrepareWorkerConfig{
			PollInterval: cfg.PollInterval,
			BatchSize:    cfg.BatchSize,
			Concurrency:  cfg.Concurrency,
		}, intake, logger))
	}
	return manager, nil
}
