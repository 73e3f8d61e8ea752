// Package pipeline runs chunked recognition of one PDF: optional
// rasterization, splitting, per-chunk recognition, concatenation and cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/drive"
	"github.com/local/pdftoolkit/internal/filetype"
	"github.com/local/pdftoolkit/internal/pdfpages"
)

// Converter produces an image-only copy of a PDF.
type Converter interface {
	Convert(ctx context.Context, in, out string) (string, error)
}

// Splitter writes page chunks of a PDF into a folder.
type Splitter interface {
	Split(ctx context.Context, src, destDir string, size int) ([]pdfpages.Chunk, error)
}

// Recognizer extracts the text of one file into out.
type Recognizer interface {
	Recognize(ctx context.Context, sess *drive.Session, in, out, fileType string) error
}

// Publisher copies a finished text file somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, runID, localPath string) (string, error)
}

// Processor wires the pipeline stages. Converter and Publisher are optional.
type Processor struct {
	Converter  Converter
	Splitter   Splitter
	Recognizer Recognizer
	Publisher  Publisher
	ChunkSize  int
	RunID      string
}

// Options control a single Process call.
type Options struct {
	// Output is the final text path; empty means <processing>/<stem>_ocr_text.txt.
	Output         string
	KeepChunks     bool
	DeleteOriginal bool
	AutoConvert    bool
	// Concurrency bounds simultaneous chunk recognitions; <= 1 is sequential.
	Concurrency int
}

// Result describes what Process produced.
type Result struct {
	Output        string
	ProcessingDir string
	// ImagePDF is set when the rasterized copy was used for recognition.
	ImagePDF  string
	Chunks    int
	Published string
}

// ChunkSeparator is written between consecutive chunk texts.
func ChunkSeparator(index int) string {
	bar := strings.Repeat("=", 32)
	return fmt.Sprintf("\n\n%s Chunk %d End %s\n\n", bar, index, bar)
}

func stem(p string) string {
	return strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
}

// ProcessingDir returns <dir>/<stem>_processing for pdf.
func ProcessingDir(pdf string) string {
	return filepath.Join(filepath.Dir(pdf), stem(pdf)+"_processing")
}

// DefaultOutputPath returns <dir>/<stem>_ocr_text.txt for in.
func DefaultOutputPath(dir, in string) string {
	return filepath.Join(dir, stem(in)+"_ocr_text.txt")
}

// EnsureProcessingFolder creates the processing folder for pdf, reusing it
// when it already exists.
func EnsureProcessingFolder(pdf string) (string, error) {
	dir := ProcessingDir(pdf)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create processing folder: %w", err)
	}
	return dir, nil
}

// conversion is the outcome of the optional rasterization step.
type conversion struct {
	path string
	err  error
}

// source returns the converted document, or fallback when conversion did
// not happen or failed.
func (c conversion) source(fallback string) string {
	if c.err != nil || c.path == "" {
		return fallback
	}
	return c.path
}

func (p *Processor) convert(ctx context.Context, l zerolog.Logger, pdf, dir string, enabled bool) conversion {
	if !enabled {
		return conversion{}
	}
	if p.Converter == nil {
		l.Info().Msg("rasterizer unavailable, recognizing original PDF")
		return conversion{}
	}
	out := filepath.Join(dir, stem(pdf)+"_image.pdf")
	l.Info().Str("output", filepath.Base(out)).Msg("converting to image PDF before recognition")
	path, err := p.Converter.Convert(ctx, pdf, out)
	if err != nil {
		l.Warn().Err(err).Msg("could not convert to image PDF, proceeding with original")
	}
	return conversion{path: path, err: err}
}

// Process recognizes pdf chunk by chunk and writes the combined text.
func (p *Processor) Process(ctx context.Context, sess *drive.Session, pdf string, opts Options) (Result, error) {
	l := log.With().Str("file", filepath.Base(pdf)).Logger()
	if p.RunID != "" {
		l = l.With().Str("run_id", p.RunID).Logger()
	}

	if _, err := os.Stat(pdf); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Result{}, apperr.NotFound("recognize", pdf)
		}
		return Result{}, err
	}

	dir, err := EnsureProcessingFolder(pdf)
	if err != nil {
		return Result{}, err
	}
	res := Result{ProcessingDir: dir, Output: opts.Output}
	if res.Output == "" {
		res.Output = DefaultOutputPath(dir, pdf)
	}
	l.Info().Str("processing_dir", dir).Msg("processing PDF")

	conv := p.convert(ctx, l, pdf, dir, opts.AutoConvert)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	src := conv.source(pdf)
	if src != pdf {
		res.ImagePDF = src
	}

	chunks, err := p.Splitter.Split(ctx, src, dir, p.ChunkSize)
	if err != nil {
		return res, err
	}
	res.Chunks = len(chunks)

	texts, err := p.recognize(ctx, l, sess, chunks, opts.Concurrency)
	if err != nil {
		if !opts.KeepChunks {
			cleanup(l, chunks, texts)
		}
		return res, err
	}

	if err := concatenate(res.Output, texts); err != nil {
		return res, err
	}
	l.Info().Int("chunks", len(chunks)).Str("output", res.Output).Msg("combined chunk texts")

	if !opts.KeepChunks {
		cleanup(l, chunks, texts)
	}

	if p.Publisher != nil {
		url, err := p.Publisher.Publish(ctx, p.RunID, res.Output)
		if err != nil {
			return res, err
		}
		res.Published = url
	}

	if opts.DeleteOriginal {
		if err := os.Remove(pdf); err != nil {
			return res, fmt.Errorf("delete original: %w", err)
		}
		l.Info().Msg("deleted original")
	}
	return res, nil
}

// recognize runs the recognizer over chunks with at most limit in flight.
// The returned text paths are indexed like chunks; the first error cancels
// the remaining work.
func (p *Processor) recognize(ctx context.Context, l zerolog.Logger, sess *drive.Session, chunks []pdfpages.Chunk, limit int) ([]string, error) {
	if limit < 1 {
		limit = 1
	}
	texts := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out := strings.TrimSuffix(c.Path, filepath.Ext(c.Path)) + ".txt"
			l.Info().Int("chunk", c.Index).Int("of", len(chunks)).Msg("recognizing chunk")
			if err := p.Recognizer.Recognize(gctx, sess, c.Path, out, filetype.PDF); err != nil {
				return fmt.Errorf("chunk %d: %w", c.Index, err)
			}
			texts[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return texts, err
	}
	return texts, ctx.Err()
}

func concatenate(out string, texts []string) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	for i, t := range texts {
		if err := appendFile(f, t); err != nil {
			f.Close()
			return err
		}
		if i < len(texts)-1 {
			if _, err := io.WriteString(f, ChunkSeparator(i+1)); err != nil {
				f.Close()
				return err
			}
		}
	}
	return f.Close()
}

func appendFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func cleanup(l zerolog.Logger, chunks []pdfpages.Chunk, texts []string) {
	for _, t := range texts {
		if t == "" {
			continue
		}
		if err := os.Remove(t); err != nil && !os.IsNotExist(err) {
			l.Warn().Err(err).Str("path", t).Msg("failed to remove chunk text")
		}
	}
	for _, c := range chunks {
		if err := os.Remove(c.Path); err != nil && !os.IsNotExist(err) {
			l.Warn().Err(err).Str("path", c.Path).Msg("failed to remove chunk")
			continue
		}
		l.Debug().Str("path", filepath.Base(c.Path)).Msg("deleted chunk")
	}
}
