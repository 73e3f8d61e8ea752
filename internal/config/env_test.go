package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"RASTER_DPI", "RASTER_QUALITY", "CHUNK_SIZE", "DRIVE_CREDENTIALS", "DRIVE_TOKEN", "REDIS_URL", "UPLOAD_CONCURRENCY", "AUTO_CONVERT"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	assert.Equal(t, 200, cfg.Raster.DPI)
	assert.Equal(t, 95, cfg.Raster.Quality)
	assert.Equal(t, 10, cfg.Drive.ChunkSize)
	assert.Equal(t, 1, cfg.Drive.Concurrency)
	assert.Equal(t, "credentials.json", cfg.Drive.CredentialsPath)
	assert.Equal(t, "token.json", cfg.Drive.TokenPath)
	assert.Equal(t, []int{8080, 8090}, cfg.Drive.CallbackPorts)
	assert.True(t, cfg.Drive.AutoConvert)
	assert.Empty(t, cfg.Cache.RedisURL)
}

func TestFromEnvOverridesAndFallbacks(t *testing.T) {
	t.Setenv("RASTER_DPI", "300")
	t.Setenv("CHUNK_SIZE", "not-a-number")
	t.Setenv("DRIVE_REQUEST_TIMEOUT", "45s")
	t.Setenv("OAUTH_CALLBACK_PORTS", "9000, x, 9001")
	t.Setenv("UPLOAD_CONCURRENCY", "-3")
	t.Setenv("RESULT_S3_PREFIX", "/runs/")

	cfg := FromEnv()

	assert.Equal(t, 300, cfg.Raster.DPI)
	assert.Equal(t, 10, cfg.Drive.ChunkSize)
	assert.Equal(t, 45*time.Second, cfg.Drive.RequestTimeout)
	assert.Equal(t, []int{9000, 9001}, cfg.Drive.CallbackPorts)
	assert.Equal(t, 1, cfg.Drive.Concurrency)
	assert.Equal(t, "runs", cfg.Results.S3Prefix)
}
