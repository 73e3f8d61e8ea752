package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/batch"
	"github.com/local/pdftoolkit/internal/capability"
	cfgpkg "github.com/local/pdftoolkit/internal/config"
	"github.com/local/pdftoolkit/internal/drive"
	"github.com/local/pdftoolkit/internal/filetype"
	"github.com/local/pdftoolkit/internal/pdfpages"
	"github.com/local/pdftoolkit/internal/pipeline"
	"github.com/local/pdftoolkit/internal/raster"
	"github.com/local/pdftoolkit/internal/storage"
)

var errHelp = errors.New("help requested")

type command interface {
	run(ctx context.Context, a *app) error
}

// rasterFlags are shared by every command that may rasterize.
type rasterFlags struct {
	dpi     int
	quality int
}

func (r *rasterFlags) register(fs *flag.FlagSet, cfg cfgpkg.Config) {
	fs.IntVar(&r.dpi, "dpi", cfg.Raster.DPI, "Rendering resolution in dots per inch")
	fs.IntVar(&r.quality, "quality", cfg.Raster.Quality, "JPEG quality (1-100)")
}

// driveFlags are shared by the recognition commands.
type driveFlags struct {
	credentials string
	token       string
	chunkSize   int
	noConvert   bool
	concurrency int
}

func (d *driveFlags) register(fs *flag.FlagSet, cfg cfgpkg.Config) {
	fs.StringVar(&d.credentials, "credentials", cfg.Drive.CredentialsPath, "OAuth client credentials file")
	fs.StringVar(&d.token, "token", cfg.Drive.TokenPath, "OAuth token file")
	fs.IntVar(&d.chunkSize, "chunk-size", cfg.Drive.ChunkSize, "Pages per chunk for PDFs")
	fs.BoolVar(&d.noConvert, "no-convert", !cfg.Drive.AutoConvert, "Skip conversion to image PDF before recognition")
	fs.IntVar(&d.concurrency, "concurrency", cfg.Drive.Concurrency, "Chunks recognized in parallel")
}

func (d *driveFlags) validate() error {
	if d.chunkSize <= 0 {
		return fmt.Errorf("--chunk-size must be positive, got %d", d.chunkSize)
	}
	if d.concurrency <= 0 {
		return fmt.Errorf("--concurrency must be positive, got %d", d.concurrency)
	}
	return nil
}

func newFlagSet(name, synopsis string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pdftoolkit %s\n", synopsis)
		fs.PrintDefaults()
	}
	return fs
}

// parseInterspersed lets flags follow positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, errHelp
			}
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func stringVarAlias(fs *flag.FlagSet, p *string, names []string, value, usage string) {
	for _, n := range names {
		fs.StringVar(p, n, value, usage)
	}
}

// ---- convert

type convertCmd struct {
	input  string
	output string
	raster rasterFlags
}

func parseConvert(args []string, cfg cfgpkg.Config, stderr io.Writer) (command, error) {
	c := &convertCmd{}
	fs := newFlagSet("convert", "convert <input.pdf> [-o output.pdf] [--dpi N] [--quality N]", stderr)
	stringVarAlias(fs, &c.output, []string{"o", "output"}, "", "Output PDF (default <input>_image.pdf)")
	c.raster.register(fs, cfg)
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) != 1 {
		fs.Usage()
		return nil, fmt.Errorf("convert needs exactly one input file")
	}
	c.input = pos[0]
	return c, nil
}

func (c *convertCmd) run(ctx context.Context, a *app) error {
	if err := a.caps.Require(capability.Rasterize); err != nil {
		return err
	}
	r, err := raster.New(raster.Options{DPI: c.raster.dpi, Quality: c.raster.quality}, raster.Dependencies{})
	if err != nil {
		return err
	}
	out, err := r.Convert(ctx, c.input, c.output)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Image PDF saved to: %s\n", out)
	return nil
}

// ---- recognize

type recognizeCmd struct {
	input          string
	output         string
	keepChunks     bool
	deleteOriginal bool
	drive          driveFlags
	raster         rasterFlags
}

func parseRecognize(args []string, cfg cfgpkg.Config, stderr io.Writer) (command, error) {
	c := &recognizeCmd{}
	fs := newFlagSet("recognize", "recognize <input> [-o output.txt] [flags]", stderr)
	stringVarAlias(fs, &c.output, []string{"o", "output"}, "", "Output text file")
	fs.BoolVar(&c.keepChunks, "keep-chunks", false, "Keep intermediate chunk files")
	fs.BoolVar(&c.deleteOriginal, "delete-original", false, "Delete the original file after processing")
	c.drive.register(fs, cfg)
	c.raster.register(fs, cfg)
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) != 1 {
		fs.Usage()
		return nil, fmt.Errorf("recognize needs exactly one input file")
	}
	c.input = pos[0]
	return c, nil
}

func (c *recognizeCmd) run(ctx context.Context, a *app) error {
	if err := c.drive.validate(); err != nil {
		return err
	}
	if err := a.caps.Require(capability.RemoteOCR); err != nil {
		return err
	}
	ext := filetype.ExtOf(c.input)
	if !filetype.IsSupported(ext) {
		return apperr.UnsupportedType("recognize", ext)
	}

	resolver := &storage.Resolver{S3: a.cfg.Results.S3}
	in, cleanup, err := resolver.Resolve(ctx, c.input)
	if err != nil {
		return err
	}
	defer cleanup()
	if _, err := os.Stat(in); err != nil {
		return apperr.NotFound("recognize", c.input)
	}

	output := c.output
	if output == "" && storage.IsRemote(c.input) {
		// downloads live in a temp dir removed on exit
		output = pipeline.DefaultOutputPath(".", in)
	}

	sess, err := a.authenticate(ctx, c.drive)
	if err != nil {
		return err
	}
	rec := a.recognizer()

	if ext != filetype.PDF {
		if output == "" {
			output = pipeline.DefaultOutputPath(filepath.Dir(in), in)
		}
		if err := rec.Recognize(ctx, sess, in, output, ext); err != nil {
			return err
		}
		if c.deleteOriginal && !storage.IsRemote(c.input) {
			if err := os.Remove(in); err != nil {
				return fmt.Errorf("delete original: %w", err)
			}
		}
		fmt.Fprintf(a.stdout, "OCR text saved to: %s\n", output)
		return nil
	}

	proc := a.processor(rec, c.drive, c.raster)
	res, err := proc.Process(ctx, sess, in, pipeline.Options{
		Output:         output,
		KeepChunks:     c.keepChunks,
		DeleteOriginal: c.deleteOriginal && !storage.IsRemote(c.input),
		AutoConvert:    !c.drive.noConvert,
		Concurrency:    c.drive.concurrency,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Final OCR output saved to: %s\n", res.Output)
	fmt.Fprintf(a.stdout, "All files organized in: %s\n", res.ProcessingDir)
	if res.Published != "" {
		fmt.Fprintf(a.stdout, "Published to: %s\n", res.Published)
	}
	return nil
}

// ---- recognize-batch

type batchCmd struct {
	dir    string
	types  string
	drive  driveFlags
	raster rasterFlags
}

func parseBatch(args []string, cfg cfgpkg.Config, stderr io.Writer) (command, error) {
	c := &batchCmd{}
	fs := newFlagSet("recognize-batch", "recognize-batch [--dir DIR] [--types pdf,jpg] [flags]", stderr)
	fs.StringVar(&c.dir, "dir", ".", "Directory to scan")
	fs.StringVar(&c.types, "types", "", "Comma-separated file types to process (default: "+strings.Join(filetype.Supported(), ",")+")")
	c.drive.register(fs, cfg)
	c.raster.register(fs, cfg)
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(pos, " "))
	}
	return c, nil
}

func splitTypes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func (c *batchCmd) run(ctx context.Context, a *app) error {
	if err := c.drive.validate(); err != nil {
		return err
	}
	if err := a.caps.Require(capability.RemoteOCR); err != nil {
		return err
	}
	info, err := os.Stat(c.dir)
	if err != nil || !info.IsDir() {
		return &apperr.Error{Kind: apperr.KindNotFound, Op: "recognize-batch", Path: c.dir, Msg: "not a directory"}
	}
	types := splitTypes(c.types)
	for _, t := range types {
		if !filetype.IsSupported(t) {
			return apperr.UnsupportedType("recognize-batch", t)
		}
	}

	sess, err := a.authenticate(ctx, c.drive)
	if err != nil {
		return err
	}
	rec := a.recognizer()
	runner := &batch.Runner{
		PDF:        a.processor(rec, c.drive, c.raster),
		Recognizer: rec,
		Detector:   filetype.New(),
	}
	rep, err := runner.Run(ctx, sess, c.dir, batch.Options{
		Types:       types,
		AutoConvert: !c.drive.noConvert,
		Concurrency: c.drive.concurrency,
	})
	if rep != nil {
		fmt.Fprintf(a.stdout, "Results organized in: %s\n", rep.Folder)
		fmt.Fprintf(a.stdout, "Processed %d of %d files\n", len(rep.Processed), rep.Total())
		for _, f := range rep.Failures {
			fmt.Fprintf(a.stdout, "  failed: %s: %v\n", filepath.Base(f.Input), f.Err)
		}
	}
	return err
}

// ---- check

type checkCmd struct{}

func parseCheck(args []string, _ cfgpkg.Config, stderr io.Writer) (command, error) {
	fs := newFlagSet("check", "check", stderr)
	pos, err := parseInterspersed(fs, args)
	if err != nil {
		return nil, err
	}
	if len(pos) > 0 {
		return nil, fmt.Errorf("check takes no arguments")
	}
	return checkCmd{}, nil
}

func (checkCmd) run(_ context.Context, a *app) error {
	for _, line := range a.caps.Lines() {
		fmt.Fprintln(a.stdout, line)
	}
	return nil
}

// ---- shared wiring

func (a *app) authenticate(ctx context.Context, d driveFlags) (*drive.Session, error) {
	return drive.Authenticate(ctx, drive.AuthOptions{
		CredentialsPath: d.credentials,
		TokenPath:       d.token,
		CallbackPorts:   a.cfg.Drive.CallbackPorts,
	})
}

func (a *app) recognizer() *drive.Recognizer {
	rec := &drive.Recognizer{Timeout: a.cfg.Drive.RequestTimeout}
	if a.cache != nil {
		rec.Cache = a.cache
	}
	return rec
}

// processor builds the chunked pipeline; the rasterizer is left out when no
// rendering backend is compiled in.
func (a *app) processor(rec pipeline.Recognizer, d driveFlags, r rasterFlags) *pipeline.Processor {
	p := &pipeline.Processor{
		Splitter:   pdfpages.Splitter{},
		Recognizer: rec,
		ChunkSize:  d.chunkSize,
		RunID:      a.runID,
	}
	if a.pub != nil {
		p.Publisher = a.pub
	}
	if a.caps.Rasterize.OK {
		if rz, err := raster.New(raster.Options{DPI: r.dpi, Quality: r.quality}, raster.Dependencies{}); err == nil {
			p.Converter = rz
		}
	}
	return p
}
