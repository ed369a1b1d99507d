package openai

import (
	"bytes"
	"fmt"
	"image/png"
	"os"

	"github.com/gen2brain/go-fitz"
)

// pageRenderer turns the first pages of a PDF into PNG images.
type pageRenderer func(pdfPath string, maxPages int) ([][]byte, error)

// renderPages rasterises up to maxPages pages with MuPDF. maxPages <= 0 renders every page.
func renderPages(pdfPath string, maxPages int) ([][]byte, error) {
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, fmt.Errorf("PDF file not found: %w", err)
	}

	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if maxPages > 0 && pageCount > maxPages {
		pageCount = maxPages
	}

	images := make([][]byte, 0, pageCount)
	for n := 0; n < pageCount; n++ {
		img, err := doc.Image(n)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", n+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", n+1, err)
		}
		images = append(images, buf.Bytes())
	}

	if len(images) == 0 {
		return nil, fmt.Errorf("no pages rendered from %s", pdfPath)
	}
	return images, nil
}
