// Package testutil builds PDF fixtures for package tests.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/require"
)

// WritePDF creates an A4 document at dir/name with one labelled page per entry.
func WritePDF(t *testing.T, dir, name string, pages int) string {
	t.Helper()

	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetCompression(false)
	doc.SetFont("Helvetica", "", 14)
	for i := 1; i <= pages; i++ {
		doc.AddPage()
		doc.Text(72, 300, fmt.Sprintf("Page %d of %s", i, name))
	}

	path := filepath.Join(dir, name)
	require.NoError(t, doc.OutputFileAndClose(path))
	return path
}

// PageContents returns the decoded content stream of every page of the PDF at path.
func PageContents(t *testing.T, path string) [][]byte {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	require.NoError(t, err)

	contents := make([][]byte, 0, ctx.PageCount)
	for p := 1; p <= ctx.PageCount; p++ {
		r, err := pdfcpu.ExtractPageContent(ctx, p)
		require.NoError(t, err)
		var buf bytes.Buffer
		if r != nil {
			_, err = io.Copy(&buf, r)
			require.NoError(t, err)
		}
		contents = append(contents, buf.Bytes())
	}
	return contents
}

// PageCount returns the page count of the PDF at path.
func PageCount(t *testing.T, path string) int {
	t.Helper()
	n, err := api.PageCountFile(path)
	require.NoError(t, err)
	return n
}
