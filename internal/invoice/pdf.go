package invoice

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// ErrUnreadablePDF is returned when a source document cannot be opened or parsed.
var ErrUnreadablePDF = errors.New("unreadable PDF")

// NewConfiguration returns the pdfcpu configuration used across the pipeline.
// Invoices from scanners and accounting exports are often slightly off-spec,
// so validation is relaxed.
func NewConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount returns the number of pages of the PDF at path.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}
	defer f.Close()

	n, err := api.PageCount(f, NewConfiguration())
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnreadablePDF, path, err)
	}
	return n, nil
}

// readContext parses and validates the PDF at path.
func readContext(path string, conf *model.Configuration) (*model.Context, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}
	defer f.Close()

	pdfCtx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadablePDF, path, err)
	}
	return pdfCtx, nil
}

// Compressor rewrites validated invoices in a compacted form before they
// leave the ready area.
type Compressor struct {
	enabled bool
	logger  *zap.Logger
}

// NewCompressor creates a compressor. A disabled compressor copies the file as is.
func NewCompressor(enabled bool, logger *zap.Logger) *Compressor {
	return &Compressor{enabled: enabled, logger: logger}
}

// Compress writes an optimized copy of src to dst.
func (c *Compressor) Compress(src, dst string) error {
	if !c.enabled {
		return utils.CopyFile(src, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadablePDF, err)
	}
	defer in.Close()

	err = utils.WriteFileAtomic(dst, func(w io.Writer) error {
		return api.Optimize(in, w, NewConfiguration())
	})
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}

	if before, after := fileSize(src), fileSize(dst); before > 0 {
		c.logger.Debug("PDF compressed",
			zap.String("src", src),
			zap.Int64("before", before),
			zap.Int64("after", after))
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
