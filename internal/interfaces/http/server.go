// Package http exposes the intake pipeline over a JSON API.
// Handlers translate requests into application service calls and nothing more.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/ai-invoice-intake/internal/application/service"
)

const shutdownTimeout = 10 * time.Second

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute,
		MaxUploadBytes: 64 << 20,
	}
}

// Services groups the use cases served over HTTP.
type Services struct {
	Intake    service.IntakeService
	Invoices  service.InvoiceService
	Suppliers service.SupplierService
	Ledger    service.LedgerService
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     Logger
}

// NewServer builds the router. Gin's mode is left to the caller.
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	router := gin.New()
	if config.MaxUploadBytes > 0 {
		router.MaxMultipartMemory = config.MaxUploadBytes
	}
	router.Use(gin.Recovery(), requestLogger(logger), bodyLimit(config.MaxUploadBytes))

	s := &Server{
		config:   config,
		router:   router,
		services: services,
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

func requestLogger(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("HTTP request", kv...)
			return
		}
		logger.Info("HTTP request", kv...)
	}
}

// bodyLimit caps request bodies; uploads larger than limit fail while being read.
func bodyLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.logger)

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")
	{
		api.POST("/batches", h.CreateBatch)
		api.GET("/batches/:batch_id", h.GetBatch)
		api.POST("/batches/:batch_id/prepare", h.PrepareBatch)
		api.GET("/batches/:batch_id/archive", h.DownloadBatchArchive)

		api.GET("/items/:id", h.GetItem)
		api.POST("/items/:id/prepare", h.PrepareItem)
		api.POST("/items/:id/allocations", h.ResolveAllocations)
		api.PUT("/items/:id/allocations", h.EnterAllocations)
		api.POST("/items/:id/stamp", h.StampItem)
		api.POST("/items/:id/validate", h.ValidateItem)

		api.GET("/suppliers", h.ListSuppliers)
		api.POST("/suppliers", h.CreateSupplier)
		api.GET("/suppliers/:name", h.GetSupplier)
		api.PUT("/suppliers/:name", h.ReplaceSupplier)
		api.GET("/suppliers/:name/rules", h.GetRules)
		api.PUT("/suppliers/:name/rules", h.ReplaceRules)

		api.GET("/ledger", h.ListLedger)
		api.GET("/ledger/export", h.ExportLedger)
		api.GET("/ledger/:id", h.GetLedgerEntry)
		api.PUT("/ledger/:id", h.UpdateLedgerEntry)
		api.DELETE("/ledger/:id", h.DeleteLedgerEntry)
	}
}

// Start binds the listener and serves until ctx is cancelled or serving fails.
// A bind error is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Address(), err)
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("HTTP server listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server failed", "error", err)
		return err
	}
}

// Stop drains in-flight requests for up to shutdownTimeout.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
