// Package batch recognizes every supported file of a directory into a
// timestamped batch folder, one isolated subfolder per input.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/drive"
	"github.com/local/pdftoolkit/internal/filetype"
	"github.com/local/pdftoolkit/internal/metrics"
	"github.com/local/pdftoolkit/internal/pipeline"
)

// FolderPrefix starts the name of every batch folder.
const FolderPrefix = "batch_processing_"

const timestampLayout = "20060102_150405"

// PDFProcessor runs the chunked pipeline for one PDF.
type PDFProcessor interface {
	Process(ctx context.Context, sess *drive.Session, pdf string, opts pipeline.Options) (pipeline.Result, error)
}

// Runner processes a directory. Detector is optional.
type Runner struct {
	PDF        PDFProcessor
	Recognizer pipeline.Recognizer
	Detector   *filetype.Detector
}

// Options control a batch run.
type Options struct {
	// Types restricts the extensions processed; empty means all supported.
	Types       []string
	AutoConvert bool
	Concurrency int
	// Now defaults to time.Now; it names the batch folder.
	Now func() time.Time
}

// FileResult records one successfully processed input.
type FileResult struct {
	Input  string
	Type   string
	Dir    string
	Output string
}

// Failure records one input that could not be processed.
type Failure struct {
	Input string
	Err   error
}

// Report summarizes a batch run.
type Report struct {
	Folder    string
	Found     map[string]int
	Processed []FileResult
	Failures  []Failure
}

// Total is the number of inputs attempted.
func (r *Report) Total() int { return len(r.Processed) + len(r.Failures) }

// Run processes every matching file in dir. A failing file is recorded in the
// report and the run continues; the returned error summarizes all failures.
func (r *Runner) Run(ctx context.Context, sess *drive.Session, dir string, opts Options) (*Report, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound("batch", dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, &apperr.Error{Kind: apperr.KindNotFound, Op: "batch", Path: dir, Msg: "not a directory"}
	}
	types, err := normalizeTypes(opts.Types)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, apperr.NotAuthenticated("batch")
	}

	byType, err := scan(dir, types)
	if err != nil {
		return nil, err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	folder := filepath.Join(dir, FolderPrefix+now().Format(timestampLayout))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("create batch folder: %w", err)
	}
	rep := &Report{Folder: folder, Found: map[string]int{}}
	for _, t := range types {
		if n := len(byType[t]); n > 0 {
			rep.Found[t] = n
			log.Info().Str("type", strings.ToUpper(t)).Int("files", n).Msg("files found")
		}
	}
	log.Info().Str("folder", filepath.Base(folder)).Msg("created batch folder")

	for _, t := range types {
		for _, in := range byType[t] {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			res, err := r.processFile(ctx, sess, folder, in, t, opts)
			metrics.IncFile(t, err)
			if err != nil {
				log.Error().Err(err).Str("file", filepath.Base(in)).Msg("failed to process file, continuing")
				rep.Failures = append(rep.Failures, Failure{Input: in, Err: err})
				continue
			}
			rep.Processed = append(rep.Processed, res)
		}
	}

	log.Info().
		Str("folder", folder).
		Int("processed", len(rep.Processed)).
		Int("failed", len(rep.Failures)).
		Msg("batch complete")
	return rep, rep.err()
}

func (r *Report) err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = fmt.Errorf("%s: %w", filepath.Base(f.Input), f.Err)
	}
	return fmt.Errorf("%d of %d files failed: %w", len(r.Failures), r.Total(), errors.Join(errs...))
}

// normalizeTypes validates types against the allowlist, PDFs first.
func normalizeTypes(types []string) ([]string, error) {
	if len(types) == 0 {
		types = filetype.Supported()
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range types {
		n := filetype.Normalize(t)
		if !filetype.IsSupported(n) {
			return nil, apperr.UnsupportedType("batch", t)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i] == filetype.PDF && out[j] != filetype.PDF })
	return out, nil
}

// scan groups the regular files of dir by extension, sorted by name.
func scan(dir string, types []string) (map[string][]string, error) {
	want := map[string]bool{}
	for _, t := range types {
		want[t] = true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	byType := map[string][]string{}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ext := filetype.ExtOf(e.Name())
		if want[ext] {
			byType[ext] = append(byType[ext], filepath.Join(dir, e.Name()))
		}
	}
	return byType, nil
}

func stem(p string) string {
	return strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
}

func (r *Runner) processFile(ctx context.Context, sess *drive.Session, folder, in, ext string, opts Options) (FileResult, error) {
	sub := filepath.Join(folder, stem(in))
	if ext != filetype.PDF {
		sub = filepath.Join(folder, ext+"_files", stem(in))
	}
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return FileResult{}, err
	}
	cp := filepath.Join(sub, filepath.Base(in))
	if err := copyFile(in, cp); err != nil {
		return FileResult{}, fmt.Errorf("copy original: %w", err)
	}
	r.verify(cp, ext)

	out := pipeline.DefaultOutputPath(sub, in)
	res := FileResult{Input: in, Type: ext, Dir: sub, Output: out}
	log.Info().Str("file", filepath.Base(in)).Str("type", ext).Msg("processing")

	if ext == filetype.PDF {
		_, err := r.PDF.Process(ctx, sess, cp, pipeline.Options{
			Output:      out,
			AutoConvert: opts.AutoConvert,
			Concurrency: opts.Concurrency,
		})
		return res, err
	}
	return res, r.Recognizer.Recognize(ctx, sess, cp, out, ext)
}

func (r *Runner) verify(path, ext string) {
	if r.Detector == nil {
		return
	}
	v, err := r.Detector.Verify(path, ext)
	if err != nil {
		log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("could not sniff content type")
		return
	}
	if !v.Match {
		log.Warn().Str("file", filepath.Base(path)).Str("declared", v.Declared).Str("detected", v.Detected).Msg("content does not match extension")
	}
}

// copyFile copies src to dst keeping mode and modification time.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
