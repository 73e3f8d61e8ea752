package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/metrics"
)

// Options controls rendering resolution and JPEG quality.
type Options struct {
	DPI     int
	Quality int
	// Progress, when set, is called after each page is encoded.
	Progress func(page, total int)
}

// Dependencies are the collaborators of a Rasterizer. Nil fields take the
// compiled-in defaults.
type Dependencies struct {
	Opener  Opener
	Encoder Encoder
	Writer  ContainerWriter
}

// Rasterizer turns a PDF into an image-only PDF.
type Rasterizer struct {
	opts   Options
	opener Opener
	enc    Encoder
	writer ContainerWriter
}

// New builds a Rasterizer. It fails with a MissingDependency error when no
// rendering backend is available.
func New(opts Options, deps Dependencies) (*Rasterizer, error) {
	if deps.Opener == nil {
		deps.Opener = defaultOpener
	}
	if deps.Opener == nil {
		return nil, apperr.MissingDependency("convert", "no PDF rendering backend compiled in (built with nofitz)")
	}
	if deps.Encoder == nil {
		deps.Encoder = JPEGEncoder{}
	}
	if deps.Writer == nil {
		deps.Writer = PDFWriter{}
	}
	return &Rasterizer{opts: opts, opener: deps.Opener, enc: deps.Encoder, writer: deps.Writer}, nil
}

// DefaultOutputPath returns <dir>/<stem>_image.pdf for in.
func DefaultOutputPath(in string) string {
	stem := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
	return filepath.Join(filepath.Dir(in), stem+"_image.pdf")
}

// Convert renders every page of in and writes the image PDF to out (or the
// default output path when out is empty). On failure no output file is left
// behind.
func (r *Rasterizer) Convert(ctx context.Context, in, out string) (string, error) {
	if out == "" {
		out = DefaultOutputPath(in)
	}
	inInfo, err := os.Stat(in)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", apperr.NotFound("convert", in)
		}
		return "", apperr.Conversion("convert", in, err)
	}
	if r.opts.DPI <= 0 {
		return "", apperr.Conversion("convert", in, fmt.Errorf("invalid resolution %d dpi", r.opts.DPI))
	}
	if r.opts.Quality < 1 || r.opts.Quality > 100 {
		return "", apperr.Conversion("convert", in, fmt.Errorf("quality %d outside 1-100", r.opts.Quality))
	}

	l := log.With().Str("input", filepath.Base(in)).Str("output", filepath.Base(out)).Logger()
	l.Info().Int("dpi", r.opts.DPI).Int("quality", r.opts.Quality).Msg("converting PDF to image PDF")

	pages, err := r.render(ctx, in)
	if err != nil {
		return "", r.fail(out, err)
	}
	l.Info().Int("pages", len(pages)).Msg("creating image-based PDF")

	if err := r.write(out, pages); err != nil {
		return "", r.fail(out, err)
	}

	outInfo, err := os.Stat(out)
	if err == nil {
		l.Info().
			Str("input_size", megabytes(inInfo.Size())).
			Str("output_size", megabytes(outInfo.Size())).
			Msg("conversion complete")
	}
	return out, nil
}

func (r *Rasterizer) render(ctx context.Context, in string) ([][]byte, error) {
	doc, err := r.opener.Open(in)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total <= 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	pages := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.Render(i, float64(r.opts.DPI))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		mode := ColorModeOf(img)
		img, coerced := Normalize(img)

		var buf bytes.Buffer
		if err := r.enc.Encode(&buf, img, r.opts.Quality); err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		pages = append(pages, buf.Bytes())
		metrics.IncPagesRendered()

		log.Debug().
			Int("page", i+1).
			Int("total", total).
			Str("mode", string(mode)).
			Bool("coerced", coerced).
			Int("jpeg_size", buf.Len()).
			Msg("processed page")
		if r.opts.Progress != nil {
			r.opts.Progress(i+1, total)
		}
	}
	return pages, nil
}

func (r *Rasterizer) write(out string, pages [][]byte) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := r.writer.Write(f, pages); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// fail removes any partial output and wraps cause as a conversion failure.
func (r *Rasterizer) fail(out string, cause error) error {
	if _, err := os.Stat(out); err == nil {
		if rmErr := os.Remove(out); rmErr != nil {
			log.Error().Err(rmErr).Str("output", out).Msg("failed to remove partial output")
		} else {
			log.Warn().Str("output", out).Msg("cleaned up partial output")
		}
	}
	return apperr.Conversion("convert", out, cause)
}

func megabytes(n int64) string {
	return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
}
