package annotation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"

	"github.com/garyjia/ai-invoice-intake/pkg/utils"
)

// ErrStampFailed wraps every stamping failure.
var ErrStampFailed = errors.New("stamp failed")

// The overlay page is exactly the size of the background, placed at the top-left
// corner of page 1 at its natural size.
const overlayDescription = "pos:tl, off:0 0, scalefactor:1 abs, rot:0, op:1"

// Stamper overlays an annotation block on page 1 of a PDF in place.
type Stamper struct {
	logger *zap.Logger
}

// NewStamper creates a stamper.
func NewStamper(logger *zap.Logger) *Stamper {
	return &Stamper{logger: logger}
}

// Stamp renders redText then blackText at the top-left corner of page 1 of
// pdfPath and returns the background footprint. Other pages are copied through.
func (s *Stamper) Stamp(ctx context.Context, pdfPath, redText, blackText string) (Rect, error) {
	return s.Restamp(ctx, pdfPath, redText, blackText, Rect{})
}

// Restamp is Stamp for a document that already carries a stamp whose
// footprint is previous. The new background also covers previous, so nothing
// of the earlier stamp shows through.
func (s *Stamper) Restamp(ctx context.Context, pdfPath, redText, blackText string, previous Rect) (Rect, error) {
	if err := ctx.Err(); err != nil {
		return Rect{}, err
	}

	block := NewBlock(redText, blackText)
	if block.LineCount() == 0 {
		return Rect{}, fmt.Errorf("%w: nothing to render", ErrStampFailed)
	}
	layout := ComputeLayout(block).Cover(previous)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	// Fail before touching anything if the source is unreadable.
	if _, err := api.PageCountFile(pdfPath); err != nil {
		return Rect{}, fmt.Errorf("%w: read %s: %v", ErrStampFailed, pdfPath, err)
	}

	overlay, err := os.CreateTemp(filepath.Dir(pdfPath), ".stamp-*.pdf")
	if err != nil {
		return Rect{}, fmt.Errorf("%w: %v", ErrStampFailed, err)
	}
	overlayPath := overlay.Name()
	defer os.Remove(overlayPath)

	err = renderOverlay(overlay, layout)
	if closeErr := overlay.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Rect{}, fmt.Errorf("%w: render overlay: %v", ErrStampFailed, err)
	}

	wm, err := api.PDFWatermark(overlayPath+":1", overlayDescription, true, false, types.POINTS)
	if err != nil {
		return Rect{}, fmt.Errorf("%w: prepare overlay: %v", ErrStampFailed, err)
	}

	src, err := os.Open(pdfPath)
	if err != nil {
		return Rect{}, fmt.Errorf("%w: %v", ErrStampFailed, err)
	}
	defer src.Close()

	err = utils.WriteFileAtomic(pdfPath, func(w io.Writer) error {
		return api.AddWatermarks(src, w, []string{"1"}, wm, conf)
	})
	if err != nil {
		return Rect{}, fmt.Errorf("%w: %v", ErrStampFailed, err)
	}

	s.logger.Info("PDF stamped",
		zap.String("path", pdfPath),
		zap.Int("lines", len(layout.Lines)),
		zap.Float64("width", layout.Background.Width),
		zap.Float64("height", layout.Background.Height))

	return layout.Background, nil
}

// renderOverlay draws the layout on a single page the size of its background.
func renderOverlay(w io.Writer, l Layout) error {
	bg := l.Background
	doc := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: bg.X + bg.Width, Ht: bg.Y + bg.Height},
	})
	doc.SetMargins(0, 0, 0)
	doc.SetAutoPageBreak(false, 0)
	doc.AddPage()

	doc.SetFillColor(255, 255, 255)
	doc.Rect(bg.X, bg.Y, bg.Width, bg.Height, "F")

	// Core fonts are cp1252; accents in payment lines need translating.
	tr := doc.UnicodeTranslatorFromDescriptor("")
	doc.SetFont(FontFamily, "", FontSize)
	for _, line := range l.Lines {
		doc.SetTextColor(line.Color.R, line.Color.G, line.Color.B)
		doc.Text(line.X, line.Y, tr(line.Text))
	}

	return doc.Output(w)
}
