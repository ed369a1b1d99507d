package container

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/port"
	"github.com/garyjia/ai-invoice-intake/internal/application/service"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/ai-invoice-intake/internal/infrastructure/worker"
)

// Container owns every long-lived component. Components are initialized in
// dependency order and released in reverse order.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	sqlDB        *sql.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	extractor *ExtractorBundle

	// Infrastructure - Storage
	storage *StorageBundle

	// Application
	services *ServiceBundle

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu      sync.Mutex
	cancel  context.CancelFunc
	closers []closer
	ready   atomic.Bool
	closed  atomic.Bool
}

type closer struct {
	name  string
	close func() error
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Supplier  port.SupplierRepository
	Ledger    port.LedgerRepository
	BatchItem port.BatchItemRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Intake    service.IntakeService
	Invoices  service.InvoiceService
	Suppliers service.SupplierService
	Ledger    service.LedgerService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

type initStep struct {
	name string
	run  func(ctx context.Context) error
}

// Start initializes all components in dependency order: database and
// repositories, extractor, storage, services, then workers. A failed step
// leaves the earlier ones for Close to release.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	var runCtx context.Context
	runCtx, c.cancel = context.WithCancel(ctx)

	steps := []initStep{
		{"database", c.initDatabase},
		{"extractor", c.initExtractor},
		{"storage", c.initStorage},
		{"services", c.initServices},
		{"workers", c.initWorkers},
	}
	for _, step := range steps {
		if err := step.run(runCtx); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Component initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started",
		zap.String("provider", c.config.AI.Provider),
		zap.String("archive", c.config.Storage.ArchiveBackend),
		zap.Int("workers", c.workers.Count()))
	return nil
}

// Close releases components in reverse initialization order. It is safe
// after a failed Start.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}
	c.closed.Store(true)
	c.ready.Store(false)

	if c.cancel != nil {
		c.cancel()
	}

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.close(); err != nil {
			c.logger.Error("Shutdown step failed", zap.String("component", cl.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", cl.name, err))
		}
	}
	c.closers = nil

	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.logger.Info("Container closed")
	return nil
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, close: fn})
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health pings the database and reports extractor and worker state.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{Overall: true, Components: make(map[string]ComponentHealth)}
	report := func(name string, err error, msg string) {
		h := ComponentHealth{Healthy: err == nil, Message: msg}
		if err != nil {
			h.Message = err.Error()
			status.Overall = false
		}
		status.Components[name] = h
	}

	errNotInitialized := errors.New("not initialized")

	switch {
	case c.sqlDB == nil:
		report("database", errNotInitialized, "")
	default:
		report("database", c.sqlDB.Ping(), "")
	}

	if c.extractor == nil {
		report("extractor", errNotInitialized, "")
	} else {
		report("extractor", nil, c.config.AI.Provider)
	}

	switch {
	case c.workers == nil:
		report("workers", errNotInitialized, "")
	case !c.workers.IsRunning():
		report("workers", errors.New("stopped"), "")
	default:
		report("workers", nil, fmt.Sprintf("%d running", c.workers.Count()))
	}

	return status
}

func (c *Container) initDatabase(context.Context) error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.sqlDB = dbBundle.SqlDB
	c.db = dbBundle.TransactionMgr
	c.onClose("database", c.sqlDB.Close)

	c.repositories, err = ProvideRepositories(c.sqlDB, c.db, c.logger)
	return err
}

func (c *Container) initExtractor(ctx context.Context) error {
	bundle, err := ProvideExtractor(ctx, c.config, c.logger)
	if err != nil {
		return err
	}
	c.extractor = bundle
	if bundle.Closer != nil {
		c.onClose("extractor", bundle.Closer.Close)
	}
	return nil
}

func (c *Container) initStorage(ctx context.Context) (err error) {
	c.storage, err = ProvideStorage(ctx, &c.config.Storage, c.logger)
	return err
}

func (c *Container) initServices(context.Context) (err error) {
	c.services, err = ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Extractor: c.extractor.Extractor,
		Storage:   c.storage,
		Config:    c.config,
		Logger:    c.logger,
	})
	return err
}

func (c *Container) initWorkers(ctx context.Context) error {
	workers, err := ProvideWorkers(&c.config.Worker, c.services.Intake, c.logger)
	if err != nil {
		return err
	}
	c.workers = workers
	c.onClose("workers", c.workers.StopAll)

	return c.workers.StartAll(ctx)
}

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Extractor returns the configured extractor.
func (c *Container) Extractor() port.Extractor {
	if c.extractor == nil {
		return nil
	}
	return c.extractor.Extractor
}

// Storage returns upload storage and the archive.
func (c *Container) Storage() *StorageBundle {
	return c.storage
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// ServiceLogger returns the logger handed to services and HTTP handlers.
func (c *Container) ServiceLogger() service.Logger {
	return &zapLoggerAdapter{logger: c.logger}
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the service.Logger interface.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
// error values are logged with zap.Error.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
