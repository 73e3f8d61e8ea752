// Package capability reports, once at startup, which optional backends
// this build and environment can use.
package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/local/pdftoolkit/internal/apperr"
	"github.com/local/pdftoolkit/internal/raster"
)

// Pinger models the minimal Redis capability we need for status checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketHeader is the S3 call used to confirm the results bucket.
type BucketHeader interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Options configures Detect. Unset optional backends are reported as
// not configured.
type Options struct {
	CredentialsPath string
	Cache           Pinger
	CacheError      error
	S3Bucket        string
	S3              BucketHeader
	// RasterAvailable overrides the compiled-in check when set.
	RasterAvailable *bool
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Capabilities bundles all subsystem statuses.
type Capabilities struct {
	Rasterize Status `json:"rasterize"`
	RemoteOCR Status `json:"remote_ocr"`
	Cache     Status `json:"cache"`
	Results   Status `json:"results"`
}

// Names accepted by Require.
const (
	Rasterize = "rasterize"
	RemoteOCR = "remote-ocr"
	Cache     = "cache"
	Results   = "results"
)

// Detect probes every backend once.
func Detect(ctx context.Context, opts Options) Capabilities {
	return Capabilities{
		Rasterize: checkRaster(opts.RasterAvailable),
		RemoteOCR: checkRemote(opts.CredentialsPath),
		Cache:     checkCache(ctx, opts.Cache, opts.CacheError),
		Results:   checkResults(ctx, opts.S3Bucket, opts.S3),
	}
}

// Require returns a MissingDependency error when the named backend is absent.
func (c Capabilities) Require(name string) error {
	var s Status
	switch name {
	case Rasterize:
		s = c.Rasterize
	case RemoteOCR:
		s = c.RemoteOCR
	case Cache:
		s = c.Cache
	case Results:
		s = c.Results
	default:
		return fmt.Errorf("unknown capability %q", name)
	}
	if s.OK {
		return nil
	}
	return apperr.MissingDependency("capability", fmt.Sprintf("%s unavailable: %s", name, s.Message))
}

// Lines renders the capabilities for the check command.
func (c Capabilities) Lines() []string {
	row := func(name string, s Status) string {
		mark := "missing"
		if s.OK {
			mark = "ok"
		}
		return fmt.Sprintf("%-11s %-8s %s", name, mark, s.Message)
	}
	return []string{
		row(Rasterize, c.Rasterize),
		row(RemoteOCR, c.RemoteOCR),
		row(Cache, c.Cache),
		row(Results, c.Results),
	}
}

func checkRaster(override *bool) Status {
	ok := raster.Available()
	if override != nil {
		ok = *override
	}
	if !ok {
		return Status{OK: false, Message: "built without a PDF rendering backend (nofitz)"}
	}
	return Status{OK: true, Message: "MuPDF via go-fitz"}
}

func checkRemote(credentials string) Status {
	msg := "Google Drive"
	if credentials != "" {
		if _, err := os.Stat(credentials); err != nil {
			msg += ", credentials file not found: " + credentials
		}
	}
	return Status{OK: true, Message: msg}
}

func checkCache(ctx context.Context, p Pinger, connectErr error) Status {
	if connectErr != nil {
		return Status{OK: false, Message: trimError(connectErr)}
	}
	if p == nil {
		return Status{OK: false, Message: "not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func checkResults(ctx context.Context, bucket string, cli BucketHeader) Status {
	if bucket == "" {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	if cli == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket}); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
