package invoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/internal/domain/entity"
)

// Splitter partitions a multi-invoice PDF into one file per descriptor.
type Splitter struct {
	logger *zap.Logger
}

// NewSplitter creates a splitter.
func NewSplitter(logger *zap.Logger) *Splitter {
	return &Splitter{logger: logger}
}

// Split writes one PDF per descriptor into outputDir and returns their paths
// in descriptor order. Descriptors are expected to come from ResolvePageRanges.
//
// Every output is staged to a temporary file first and renamed into place
// only after all descriptors succeeded, so a failed call leaves outputDir as
// it was. Names colliding within one call get a numeric suffix; a file left
// by an earlier call with the same name is overwritten.
func (s *Splitter) Split(ctx context.Context, sourcePath string, descriptors []entity.InvoiceDescriptor, outputDir string) ([]string, error) {
	conf := NewConfiguration()
	pdfCtx, err := readContext(sourcePath, conf)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	staged := make([]stagedOutput, 0, len(descriptors))
	discard := func(outputs []stagedOutput) {
		for _, o := range outputs {
			os.Remove(o.tmp)
		}
	}
	names := make(nameSet, len(descriptors))

	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			discard(staged)
			return nil, err
		}
		if d.StartPage < 1 || d.EndPage > pdfCtx.PageCount || d.StartPage > d.EndPage {
			discard(staged)
			return nil, fmt.Errorf("invoice %q: pages %d-%d outside document of %d pages",
				d.InvoiceNumber, d.StartPage, d.EndPage, pdfCtx.PageCount)
		}

		pages := make([]int, 0, d.PageCount())
		for p := d.StartPage; p <= d.EndPage; p++ {
			pages = append(pages, p)
		}

		part, err := pdfcpu.ExtractPages(pdfCtx, pages, false)
		if err != nil {
			discard(staged)
			return nil, fmt.Errorf("failed to extract pages %d-%d: %w", d.StartPage, d.EndPage, err)
		}

		tmp, err := writeTemp(outputDir, part)
		if err != nil {
			discard(staged)
			return nil, err
		}
		staged = append(staged, stagedOutput{
			tmp:        tmp,
			path:       filepath.Join(outputDir, names.claim(SplitFileName(d))),
			descriptor: d,
		})
	}

	paths := make([]string, 0, len(staged))
	for i, o := range staged {
		if err := os.Rename(o.tmp, o.path); err != nil {
			discard(staged[i:])
			return nil, fmt.Errorf("failed to move %s into place: %w", o.path, err)
		}
		s.logger.Info("Invoice split",
			zap.String("source", sourcePath),
			zap.String("output", o.path),
			zap.Int("start_page", o.descriptor.StartPage),
			zap.Int("end_page", o.descriptor.EndPage))
		paths = append(paths, o.path)
	}

	return paths, nil
}

type stagedOutput struct {
	tmp        string
	path       string
	descriptor entity.InvoiceDescriptor
}

func writeTemp(dir string, part *model.Context) (name string, err error) {
	f, err := os.CreateTemp(dir, ".split-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err = api.WriteContext(part, f); err != nil {
		return "", fmt.Errorf("failed to write split output: %w", err)
	}
	if err = f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync %s: %w", f.Name(), err)
	}
	if err = f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", f.Name(), err)
	}
	return f.Name(), nil
}

// nameSet hands out file names unique within one Split call. Keys are case
// folded so outputs stay distinct on case-insensitive filesystems.
type nameSet map[string]struct{}

func (n nameSet) claim(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 2; ; i++ {
		key := strings.ToLower(candidate)
		if _, taken := n[key]; !taken {
			n[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d%s", base, i, ext)
	}
}
