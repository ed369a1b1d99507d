// Command intake runs a folder of invoice PDFs through the whole pipeline
// without the HTTP server: upload, split, identify, allocate, stamp and validate.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/application/service"
	"github.com/garyjia/ai-invoice-intake/internal/config"
	"github.com/garyjia/ai-invoice-intake/internal/container"
	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
	"github.com/garyjia/ai-invoice-intake/internal/domain/workflow"
	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	payment := flag.String("payment", "CB", "payment method stamped on every invoice")
	detail := flag.String("detail", "", "optional payment detail (cheque number, transfer reference)")
	archive := flag.String("zip", "", "write the validated files of the batch to this zip file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file.pdf...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	method, err := entity.ParsePaymentMethod(*payment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: "stderr",
		Format:     "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Items are prepared inline; the background worker would race the CLI.
	containerCfg := cfg.ToContainerConfig()
	containerCfg.Worker.Enabled = false

	c, err := container.NewContainer(containerCfg, logger)
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return 1
	}
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		logger.Error("Failed to start", zap.Error(err))
		return 1
	}

	p := &pipeline{
		services: c.Services(),
		stamp:    service.StampRequest{PaymentMethod: method, Detail: *detail},
		logger:   logger,
	}
	batch, err := p.run(ctx, flag.Args())
	if err != nil {
		logger.Error("Batch failed", zap.Error(err))
		return 1
	}

	if *archive != "" {
		if err := p.writeArchive(ctx, batch.ID, *archive); err != nil {
			logger.Error("Failed to write archive", zap.Error(err))
			return 1
		}
	}

	if report(os.Stdout, batch) > 0 {
		return 3
	}
	return 0
}

type pipeline struct {
	services *container.ServiceBundle
	stamp    service.StampRequest
	logger   *zap.Logger
}

func (p *pipeline) run(ctx context.Context, paths []string) (*service.Batch, error) {
	files := make([]service.UploadedFile, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		files = append(files, service.UploadedFile{Name: filepath.Base(path), Content: f})
	}

	batch, err := p.services.Intake.CreateBatch(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	p.logger.Info("Batch created", zap.String("batch_id", batch.ID), zap.Int("items", len(batch.Items)))

	batch, err = p.services.Intake.PrepareBatch(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("prepare batch: %w", err)
	}

	for _, item := range batch.Items {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if item.State != workflow.StateIdentityResolved {
			continue
		}
		p.process(ctx, item.ID)
	}

	return p.services.Intake.GetBatch(ctx, batch.ID)
}

// process stops at the first step that needs a human; the item keeps its state.
func (p *pipeline) process(ctx context.Context, id int64) {
	log := p.logger.With(zap.Int64("item_id", id))

	if _, err := p.services.Invoices.ResolveAllocations(ctx, id); err != nil {
		if errors.Is(err, service.ErrManualEntryRequired) || errors.Is(err, service.ErrUnknownSupplier) {
			log.Info("Allocation needs manual entry", zap.Error(err))
		} else {
			log.Error("Allocation failed", zap.Error(err))
		}
		return
	}
	if _, err := p.services.Invoices.Stamp(ctx, id, p.stamp); err != nil {
		log.Error("Stamp failed", zap.Error(err))
		return
	}
	item, err := p.services.Invoices.Validate(ctx, id)
	if err != nil {
		log.Error("Validation failed", zap.Error(err))
		return
	}
	log.Info("Invoice validated", zap.String("final_path", item.FinalPath))
}

func (p *pipeline) writeArchive(ctx context.Context, batchID, path string) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		return p.services.Invoices.WriteBatchArchive(ctx, batchID, w)
	})
}

// report prints one line per item and returns how many need attention.
func report(out io.Writer, batch *service.Batch) int {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATE\tSUPPLIER\tRESULT")

	pending := 0
	for _, item := range batch.Items {
		result := item.FinalPath
		switch item.State {
		case workflow.StateArchived, workflow.StateSplit:
		case workflow.StateFailed, workflow.StateAllocationFailed:
			result = item.ErrorMessage
			pending++
		default:
			result = "needs attention"
			if item.ErrorMessage != "" {
				result = item.ErrorMessage
			}
			pending++
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", item.ID, item.FileName, item.State, strings.TrimSpace(item.SupplierName), result)
	}
	tw.Flush()

	fmt.Fprintf(out, "\n%d item(s), %d need attention\n", len(batch.Items), pending)
	return pending
}
