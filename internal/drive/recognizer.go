package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/filetype"
	"github.com/local/pdftoolkit/internal/metrics"
)

// DefaultTimeout bounds a single remote call when none is configured.
const DefaultTimeout = 120 * time.Second

// TextCache remembers recognized text by file content.
type TextCache interface {
	Lookup(ctx context.Context, content []byte) (string, bool)
	Store(ctx context.Context, content []byte, text string)
}

// Recognizer runs upload, export and delete for one file at a time.
// Remote errors are returned as-is to the caller; nothing is retried.
type Recognizer struct {
	Timeout time.Duration
	Cache   TextCache
}

func (r *Recognizer) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return DefaultTimeout
}

// Recognize extracts the text of in and writes it to out. fileType is the
// declared extension (with or without the dot).
func (r *Recognizer) Recognize(ctx context.Context, sess *Session, in, out, fileType string) error {
	if sess == nil || sess.files == nil {
		return apperr.NotAuthenticated("recognize")
	}
	mime, ok := filetype.MIMEType(fileType)
	if !ok {
		return apperr.UnsupportedType("recognize", fileType)
	}
	content, err := os.ReadFile(in)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.NotFound("recognize", in)
		}
		return fmt.Errorf("read %s: %w", in, err)
	}

	l := log.With().Str("file", filepath.Base(in)).Str("mime", mime).Logger()

	if r.Cache != nil {
		if text, hit := r.Cache.Lookup(ctx, content); hit {
			l.Info().Msg("recognized text served from cache")
			metrics.IncChunk("cached")
			return os.WriteFile(out, []byte(text), 0o644)
		}
	}

	files := sess.files
	l.Info().Int("bytes", len(content)).Msg("uploading for recognition")
	id, err := r.upload(ctx, files, filepath.Base(in), mime, content)
	if err != nil {
		metrics.IncChunk("error")
		return apperr.Remote("upload", err)
	}
	l = l.With().Str("remote_id", id).Logger()

	text, exportErr := r.export(ctx, files, id, out)
	deleteErr := r.delete(ctx, files, id)
	if exportErr != nil {
		metrics.IncChunk("error")
		if deleteErr != nil {
			l.Warn().Err(deleteErr).Msg("failed to delete remote document after export failure")
		}
		return apperr.Remote("export", exportErr)
	}
	if deleteErr != nil {
		metrics.IncChunk("error")
		if err := os.Remove(out); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.Warn().Err(err).Str("output", out).Msg("failed to remove exported text")
		}
		return apperr.Remote("delete", deleteErr)
	}

	if r.Cache != nil {
		r.Cache.Store(ctx, content, text)
	}
	metrics.IncChunk("success")
	l.Info().Int("chars", len(text)).Str("output", filepath.Base(out)).Msg("text extracted")
	return nil
}

func (r *Recognizer) upload(ctx context.Context, files Files, name, mime string, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	start := time.Now()
	id, err := files.Upload(ctx, name, mime, bytes.NewReader(content))
	metrics.ObserveRemote("upload", err, time.Since(start))
	return id, err
}

// export downloads the text of id into out. On failure out is removed.
func (r *Recognizer) export(ctx context.Context, files Files, id, out string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	start := time.Now()
	text, err := func() (string, error) {
		rc, err := files.Export(ctx, id, TextMIME)
		if err != nil {
			return "", err
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, rc); err != nil {
			return "", err
		}
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			os.Remove(out)
			return "", err
		}
		return buf.String(), nil
	}()
	metrics.ObserveRemote("export", err, time.Since(start))
	return text, err
}

// delete runs even when ctx is already cancelled.
func (r *Recognizer) delete(ctx context.Context, files Files, id string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout())
	defer cancel()
	start := time.Now()
	err := files.Delete(ctx, id)
	metrics.ObserveRemote("delete", err, time.Since(start))
	return err
}
