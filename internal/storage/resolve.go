// Package storage fetches remote inputs to local files and publishes
// results to S3.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolkit/internal/config"
)

// Resolver turns input references into local paths. Supported forms:
//   - file://path or plain filesystem paths (used in place)
//   - http(s):// URLs
//   - s3://bucket/key
type Resolver struct {
	S3         config.S3Config
	HTTPClient *http.Client

	dl downloader
}

// IsRemote reports whether ref needs downloading.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "s3://") || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Resolve returns a local path for ref and a cleanup func that removes any
// temporary download. The downloaded file keeps the remote base name so
// derived output names stay meaningful.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}
	if !IsRemote(ref) {
		return strings.TrimPrefix(ref, "file://"), noop, nil
	}

	dir, err := os.MkdirTemp("", "pdftoolkit-*")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove download dir")
		}
	}

	var local string
	if strings.HasPrefix(ref, "s3://") {
		if r.dl == nil {
			cli, cerr := NewS3Client(ctx, r.S3)
			if cerr != nil {
				cleanup()
				return "", noop, cerr
			}
			r.dl = manager.NewDownloader(cli)
		}
		local, err = downloadS3(ctx, r.dl, ref, dir)
	} else {
		local, err = r.downloadHTTP(ctx, ref, dir)
	}
	if err != nil {
		cleanup()
		return "", noop, err
	}
	return local, cleanup, nil
}

func (r *Resolver) downloadHTTP(ctx context.Context, ref, dir string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", ref, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download.pdf"
	}

	client := r.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: http %d", ref, resp.StatusCode)
	}

	local := filepath.Join(dir, name)
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return "", err
	}
	log.Info().Str("url", ref).Int64("bytes", n).Str("file", name).Msg("downloaded input")
	return local, nil
}
