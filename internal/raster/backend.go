package raster

import (
	"image"
)

// Document abstracts an open PDF for page rendering.
type Document interface {
	NumPage() int
	// Render rasterizes the 0-based page i at the given resolution.
	Render(i int, dpi float64) (image.Image, error)
	Close() error
}

// Opener abstracts opening a PDF path into a Document.
type Opener interface {
	Open(path string) (Document, error)
}

// defaultOpener is provided in doc_open_fitz.go unless built with nofitz.
var defaultOpener Opener

func setDefaultOpener(o Opener) { defaultOpener = o }

// DefaultOpener returns the compiled-in rendering backend, or nil.
func DefaultOpener() Opener { return defaultOpener }

// Available reports whether a rendering backend is compiled in.
func Available() bool { return defaultOpener != nil }
