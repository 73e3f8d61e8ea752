// Package pdftest builds small image-only PDF fixtures for tests.
package pdftest

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/require"
)

// PageImage returns a small JPEG whose shade encodes the page number, so
// pages of different fixtures stay distinguishable.
func PageImage(t testing.TB, page int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	shade := color.Gray{Y: uint8(page * 7 % 256)}
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, shade)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}))
	return buf.Bytes()
}

// WritePDF writes a PDF with the given number of pages to path and returns
// path. Parent directories are created.
func WritePDF(t testing.TB, path string, pages int) string {
	t.Helper()
	require.Positive(t, pages, "fixture needs at least one page")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	readers := make([]io.Reader, pages)
	for i := range readers {
		readers[i] = bytes.NewReader(PageImage(t, i+1))
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, api.ImportImages(nil, f, readers, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()))
	return path
}

// PageCount returns the page count of the PDF at path, failing the test on error.
func PageCount(t testing.TB, path string) int {
	t.Helper()
	n, err := api.PageCountFile(path)
	require.NoError(t, err)
	return n
}
