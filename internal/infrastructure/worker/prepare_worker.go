package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/garyjia/ai-invoice-intake/internal/application/service"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// Preparer is the part of the intake service the worker drives.
type Preparer interface {
	ListUploaded(ctx context.Context, limit int) ([]*entity.BatchItem, error)
	Prepare(ctx context.Context, itemID int64) ([]*entity.BatchItem, error)
}

// PrepareWorkerConfig holds configuration for the prepare worker
type PrepareWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
}

// DefaultPrepareWorkerConfig returns default configuration
func DefaultPrepareWorkerConfig() PrepareWorkerConfig {
	return PrepareWorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    10,
		Concurrency:  3,
	}
}

// PrepareWorker splits and identifies uploaded items in the background.
type PrepareWorker struct {
	config   PrepareWorkerConfig
	preparer Preparer
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	prepared  int
	failed    int
}

// NewPrepareWorker creates a new prepare worker
func NewPrepareWorker(config PrepareWorkerConfig, preparer Preparer, logger *zap.Logger) *PrepareWorker {
	def := DefaultPrepareWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	return &PrepareWorker{
		config:   config,
		preparer: preparer,
		logger:   logger,
	}
}

// Name returns the worker name for identification
func (w *PrepareWorker) Name() string {
	return "PrepareWorker"
}

// Start begins the polling loop
func (w *PrepareWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("prepare worker already running")
	}

	var loopCtx context.Context
	loopCtx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("PrepareWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("concurrency", w.config.Concurrency))

	go w.pollLoop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for in-flight items to finish
func (w *PrepareWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.Lock()
	defer w.mu.Unlock()
	w.logger.Info("PrepareWorker stopped",
		zap.Int("prepared", w.prepared),
		zap.Int("failed", w.failed))
	return nil
}

func (w *PrepareWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Failed to process uploaded items", zap.Error(err))
			}
		}
	}
}

// ProcessOnce prepares up to BatchSize uploaded items, Concurrency at a time.
// A failing item does not stop the others.
func (w *PrepareWorker) ProcessOnce(ctx context.Context) error {
	items, err := w.preparer.ListUploaded(ctx, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("list uploaded items: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(w.config.Concurrency)
	for _, item := range items {
		id := item.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, err := w.preparer.Prepare(ctx, id)
			w.record(id, err)
			return nil
		})
	}
	return g.Wait()
}

func (w *PrepareWorker) record(id int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case err == nil:
		w.prepared++
	case errors.Is(err, service.ErrInvalidState):
		// Already taken by a request-driven prepare.
		w.logger.Debug("Item no longer uploaded", zap.Int64("item_id", id))
	default:
		w.failed++
		w.logger.Error("Failed to prepare item", zap.Int64("item_id", id), zap.Error(err))
	}
}
