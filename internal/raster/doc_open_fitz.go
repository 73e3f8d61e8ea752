//go:build !nofitz

package raster

import (
	"image"

	fitz "github.com/gen2brain/go-fitz"
)

// fitzOpener implements Opener using github.com/gen2brain/go-fitz (MuPDF).
type fitzOpener struct{}

func (fitzOpener) Open(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return fitzDoc{doc}, nil
}

func init() {
	setDefaultOpener(fitzOpener{})
}

type fitzDoc struct{ *fitz.Document }

func (d fitzDoc) Render(i int, dpi float64) (image.Image, error) {
	return d.Document.ImageDPI(i, dpi)
}
