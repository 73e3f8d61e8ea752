package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/capability"
	cfgpkg "github.com/local/pdftoolkit/internal/config"
	logpkg "github.com/local/pdftoolkit/internal/logger"
	"github.com/local/pdftoolkit/internal/metrics"
	"github.com/local/pdftoolkit/internal/storage"
	"github.com/local/pdftoolkit/internal/store"
)

const usage = `Usage: pdftoolkit <command> [flags]

Commands:
  convert <input.pdf>        Convert a PDF to an image-only PDF
  recognize <input>          Recognize text of a file (alias: ocr)
  recognize-batch            Recognize every supported file in a directory (alias: ocr-batch)
  check                      Report which optional backends are available

Run 'pdftoolkit <command> -h' for command flags.
`

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env file: %v\n", err)
	}
	cfg := cfgpkg.FromEnv()

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomTimeout: cfg.Axiom.Timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], cfg, os.Stdout, os.Stderr)
	stop()
	logpkg.Close()
	os.Exit(code)
}

// app carries what every command shares for one invocation.
type app struct {
	cfg    cfgpkg.Config
	runID  string
	caps   capability.Capabilities
	cache  *store.TextCache
	pub    *storage.Publisher
	stdout io.Writer
}

// run dispatches args and returns the process exit status.
func run(ctx context.Context, args []string, cfg cfgpkg.Config, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return 1
		}
		return 0
	}

	cmd, rest := args[0], args[1:]
	var parse func([]string, cfgpkg.Config, io.Writer) (command, error)
	switch cmd {
	case "convert":
		parse = parseConvert
	case "recognize", "ocr":
		parse = parseRecognize
	case "recognize-batch", "ocr-batch":
		parse = parseBatch
	case "check":
		parse = parseCheck
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n%s", cmd, usage)
		return 1
	}

	c, err := parse(rest, cfg, stderr)
	if err != nil {
		if err == errHelp {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	a := newApp(ctx, cfg, stdout)
	defer a.close()

	prev := log.Logger
	log.Logger = logpkg.ForRun(a.runID)
	defer func() { log.Logger = prev }()
	log.Info().Str("command", cmd).Msg("starting")

	err = c.run(ctx, a)
	if cfg.Metrics.TextfilePath != "" {
		if werr := metrics.WriteTextfile(cfg.Metrics.TextfilePath); werr != nil {
			log.Warn().Err(werr).Msg("failed to write metrics textfile")
		}
	}
	if err != nil {
		log.Error().Err(err).Str("kind", string(apperr.KindOf(err))).Int("status", apperr.StatusCode(err)).Msg("command failed")
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return apperr.ExitCode(err)
	}
	fmt.Fprintln(stdout, "Operation completed successfully!")
	return 0
}

func newApp(ctx context.Context, cfg cfgpkg.Config, stdout io.Writer) *app {
	metrics.Init()
	a := &app{cfg: cfg, runID: uuid.NewString(), stdout: stdout}

	opts := capability.Options{CredentialsPath: cfg.Drive.CredentialsPath, S3Bucket: cfg.Results.S3Bucket}
	if cfg.Cache.RedisURL != "" {
		c, err := store.NewTextCache(cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			log.Warn().Err(err).Msg("text cache disabled")
			opts.CacheError = err
		} else {
			a.cache = c
			opts.Cache = c
		}
	}
	if cfg.Results.S3Bucket != "" {
		if cli, err := storage.NewS3Client(ctx, cfg.Results.S3); err == nil {
			opts.S3 = cli
		}
	}
	a.caps = capability.Detect(ctx, opts)

	if a.caps.Results.OK {
		pub, err := storage.NewPublisher(ctx, cfg.Results)
		if err != nil {
			log.Warn().Err(err).Msg("result publishing disabled")
		} else {
			a.pub = pub
		}
	}
	return a
}

func (a *app) close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
}
