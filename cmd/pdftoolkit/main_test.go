package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/local/pdftoolkit/internal/config"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.FromEnv()
	cfg.Cache.RedisURL = ""
	cfg.Results.S3Bucket = ""
	cfg.Metrics.TextfilePath = filepath.Join(t.TempDir(), "pdftoolkit.prom")
	cfg.Drive.CredentialsPath = filepath.Join(t.TempDir(), "credentials.json")
	cfg.Drive.TokenPath = filepath.Join(t.TempDir(), "token.json")
	return cfg
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, testConfig(t), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, _, stderr := runCLI(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: pdftoolkit")

	code, _, _ = runCLI(t, "--help")
	assert.Equal(t, 0, code)

	code, _, stderr = runCLI(t, "shred", "a.pdf")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `unknown command "shred"`)
}

func TestRunFlagErrors(t *testing.T) {
	code, _, stderr := runCLI(t, "convert", "a.pdf", "--bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Error:")

	code, _, _ = runCLI(t, "convert")
	assert.Equal(t, 2, code)

	code, _, _ = runCLI(t, "recognize", "a.pdf", "--chunk-size", "x")
	assert.Equal(t, 2, code)

	code, _, _ = runCLI(t, "recognize", "-h")
	assert.Equal(t, 0, code)
}

func TestParseAcceptsFlagsAfterInput(t *testing.T) {
	var stderr bytes.Buffer
	c, err := parseRecognize([]string{"in.pdf", "-o", "out.txt", "--keep-chunks", "--concurrency", "3"}, testConfig(t), &stderr)
	require.NoError(t, err)
	rc := c.(*recognizeCmd)
	assert.Equal(t, "in.pdf", rc.input)
	assert.Equal(t, "out.txt", rc.output)
	assert.True(t, rc.keepChunks)
	assert.Equal(t, 3, rc.drive.concurrency)

	c, err = parseConvert([]string{"--output", "img.pdf", "in.pdf", "--dpi", "150"}, testConfig(t), &stderr)
	require.NoError(t, err)
	cc := c.(*convertCmd)
	assert.Equal(t, "img.pdf", cc.output)
	assert.Equal(t, 150, cc.raster.dpi)

	c, err = parseBatch([]string{"--types", "pdf, jpg", "--no-convert"}, testConfig(t), &stderr)
	require.NoError(t, err)
	bc := c.(*batchCmd)
	assert.Equal(t, []string{"pdf", "jpg"}, splitTypes(bc.types))
	assert.True(t, bc.drive.noConvert)
	assert.Equal(t, ".", bc.dir)
}

func TestRunCheck(t *testing.T) {
	code, stdout, _ := runCLI(t, "check")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "rasterize")
	assert.Contains(t, stdout, "remote-ocr")
	assert.Contains(t, stdout, "Bucket not configured")
}

func TestRunConvertMissingInput(t *testing.T) {
	code, _, stderr := runCLI(t, "convert", filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func TestRunRecognizeRejectsBeforeAuthenticating(t *testing.T) {
	dir := t.TempDir()
	tiff := filepath.Join(dir, "scan.tiff")
	require.NoError(t, os.WriteFile(tiff, []byte("II*\x00"), 0o644))

	code, _, stderr := runCLI(t, "ocr", tiff)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, `unsupported file type "tiff"`)
	assert.NotContains(t, stderr, "credentials")

	code, _, stderr = runCLI(t, "recognize", filepath.Join(dir, "missing.pdf"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "missing.pdf")
	assert.NotContains(t, stderr, "credentials")
}

func TestRunValidationErrorsExitOne(t *testing.T) {
	pdf := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(pdf, nil, 0o644))

	code, _, stderr := runCLI(t, "recognize", pdf, "--chunk-size", "0")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--chunk-size must be positive")

	code, _, stderr = runCLI(t, "recognize-batch", "--dir", t.TempDir(), "--concurrency", "0")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--concurrency must be positive")
}

func TestRunBatchRejectsBadDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	code, _, stderr := runCLI(t, "ocr-batch", "--dir", file)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not a directory")

	code, _, stderr = runCLI(t, "recognize-batch", "--dir", t.TempDir(), "--types", "tiff")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "tiff")
}

func TestRunWritesMetricsTextfile(t *testing.T) {
	cfg := testConfig(t)
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"check"}, cfg, &stdout, &stderr)
	require.Equal(t, 0, code)
	assert.FileExists(t, cfg.Metrics.TextfilePath)
}
