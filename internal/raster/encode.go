package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Encoder compresses a page bitmap.
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

// ContainerWriter concatenates encoded page images into a single PDF.
type ContainerWriter interface {
	Write(w io.Writer, pages [][]byte) error
}

// JPEGEncoder encodes pages as baseline JPEG.
type JPEGEncoder struct{}

func (JPEGEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return nil
}

// PDFWriter builds an image-only PDF with pdfcpu, one page per image sized
// to the image.
type PDFWriter struct{}

func (PDFWriter) Write(w io.Writer, pages [][]byte) error {
	if len(pages) == 0 {
		return fmt.Errorf("no page images to write")
	}
	readers := make([]io.Reader, len(pages))
	for i, p := range pages {
		readers[i] = bytes.NewReader(p)
	}
	conf := model.NewDefaultConfiguration()
	if err := api.ImportImages(nil, w, readers, pdfcpu.DefaultImportConfig(), conf); err != nil {
		return fmt.Errorf("failed to write image PDF: %w", err)
	}
	return nil
}
