package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/axiomhq/axiom-go/axiom"
	"github.com/axiomhq/axiom-go/axiom/ingest"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const service = "pdftoolkit"

// Options defines logger initialization parameters.
type Options struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// Axiom
	SendToAxiom  bool
	AxiomAPIKey  string
	AxiomOrgID   string
	AxiomDataset string
	// AxiomTimeout bounds each ingest request made at Close.
	AxiomTimeout time.Duration

	// Console overrides the console sink (stderr by default).
	Console io.Writer
}

var ax *axiomSink

// Init sets up the global logger: console on stderr, optional rotating file,
// optional Axiom forwarding. Stdout is left to command output.
func Init(opts Options) error {
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("create logs dir: %w", err)
		}
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	var writers []io.Writer
	if opts.Pretty {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: time.Kitchen})
	} else {
		writers = append(writers, console)
	}

	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}

	if opts.SendToAxiom && opts.AxiomAPIKey != "" {
		sink, err := newAxiomSink(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomTimeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
		} else {
			ax = sink
			writers = append(writers, sink)
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	log.Logger = zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().Timestamp().Str("service", service).Logger()
	return nil
}

// Close ships buffered Axiom events, if any.
func Close() {
	if ax != nil {
		if err := ax.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Axiom flush failed: %v\n", err)
		}
		ax = nil
	}
}

// ForRun returns a child of the global logger tagged with a run id.
func ForRun(runID string) zerolog.Logger {
	return log.Logger.With().Str("run_id", runID).Logger()
}

// ingester is the part of the Axiom client used to ship events.
type ingester interface {
	IngestEvents(ctx context.Context, id string, events []axiom.Event, options ...ingest.Option) (*ingest.Status, error)
}

const (
	axiomBatch      = 500
	axiomMaxPending = 10000
)

// axiomSink keeps info+ events of one run in memory and ships them when the
// run ends. Events past axiomMaxPending are counted and dropped.
type axiomSink struct {
	ing     ingester
	dataset string
	timeout time.Duration

	mu      sync.Mutex
	pending []axiom.Event
	dropped int
}

func newAxiomSink(token, orgID, dataset string, timeout time.Duration) (*axiomSink, error) {
	if dataset == "" {
		dataset = "dev_" + service
	}
	opts := []axiom.Option{axiom.SetToken(token)}
	if orgID != "" {
		opts = append(opts, axiom.SetOrganizationID(orgID))
	}
	c, err := axiom.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return &axiomSink{ing: c, dataset: dataset, timeout: timeout}, nil
}

func (s *axiomSink) Write(p []byte) (int, error) {
	var ev map[string]any
	if err := json.Unmarshal(p, &ev); err != nil {
		ev = map[string]any{"message": string(p), "level": "info"}
	}
	if lvl, ok := ev["level"].(string); ok && (lvl == "debug" || lvl == "trace") {
		return len(p), nil
	}
	if _, ok := ev[ingest.TimestampField]; !ok {
		ev[ingest.TimestampField] = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= axiomMaxPending {
		s.dropped++
		return len(p), nil
	}
	s.pending = append(s.pending, axiom.Event(ev))
	return len(p), nil
}

// Close ships everything buffered in batches of axiomBatch. Each batch gets
// its own timeout; the first failure is returned after all batches are tried.
func (s *axiomSink) Close() error {
	s.mu.Lock()
	events := s.pending
	s.pending = nil
	if s.dropped > 0 {
		events = append(events, axiom.Event{
			ingest.TimestampField: time.Now(),
			"level":               "warn",
			"service":             service,
			"message":             fmt.Sprintf("dropped %d log events over buffer limit", s.dropped),
		})
		s.dropped = 0
	}
	s.mu.Unlock()

	timeout := s.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var first error
	for start := 0; start < len(events); start += axiomBatch {
		end := min(start+axiomBatch, len(events))
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		_, err := s.ing.IngestEvents(ctx, s.dataset, events[start:end])
		cancel()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
