package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send    bool
	APIKey  string
	OrgID   string
	Dataset string
	Timeout time.Duration
}

// RasterConfig controls page rendering for image PDFs.
type RasterConfig struct {
	DPI     int
	Quality int
}

// DriveConfig configures the remote recognition service.
type DriveConfig struct {
	CredentialsPath string
	TokenPath       string
	ChunkSize       int
	Concurrency     int
	RequestTimeout  time.Duration
	CallbackPorts   []int
	AutoConvert     bool
}

// CacheConfig configures the optional recognized-text cache.
type CacheConfig struct {
	RedisURL string
	TTL      time.Duration
}

// ResultsConfig configures optional publishing of final text files.
type ResultsConfig struct {
	S3Bucket string
	S3Prefix string
	S3       S3Config
}

// S3Config overrides the default AWS credential chain. Empty fields keep
// the SDK defaults.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// MetricsConfig configures the Prometheus textfile written at exit.
type MetricsConfig struct {
	TextfilePath string
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Raster  RasterConfig
	Drive   DriveConfig
	Cache   CacheConfig
	Results ResultsConfig
	Metrics MetricsConfig
}

const (
	DefaultDPI       = 200
	DefaultQuality   = 95
	DefaultChunkSize = 10
)

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", "true")),
		File:       getEnv("LOG_FILE", ""),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "50"), 50),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "5"), 5),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	cfg.Axiom = AxiomConfig{
		Send:    parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:  getEnv("AXIOM_API_KEY", ""),
		OrgID:   getEnv("AXIOM_ORG_ID", ""),
		Dataset: getEnv("AXIOM_DATASET", "dev") + "_pdftoolkit",
		Timeout: parseDuration(getEnv("AXIOM_TIMEOUT", "10s"), 10*time.Second),
	}

	cfg.Raster = RasterConfig{
		DPI:     parseInt(getEnv("RASTER_DPI", ""), DefaultDPI),
		Quality: parseInt(getEnv("RASTER_QUALITY", ""), DefaultQuality),
	}

	cfg.Drive = DriveConfig{
		CredentialsPath: getEnv("DRIVE_CREDENTIALS", "credentials.json"),
		TokenPath:       getEnv("DRIVE_TOKEN", "token.json"),
		ChunkSize:       parseInt(getEnv("CHUNK_SIZE", ""), DefaultChunkSize),
		Concurrency:     parseInt(getEnv("UPLOAD_CONCURRENCY", "1"), 1),
		RequestTimeout:  parseDuration(getEnv("DRIVE_REQUEST_TIMEOUT", "120s"), 120*time.Second),
		CallbackPorts:   parseInts(getEnv("OAUTH_CALLBACK_PORTS", "8080,8090"), []int{8080, 8090}),
		AutoConvert:     parseBool(getEnv("AUTO_CONVERT", "true")),
	}
	if cfg.Drive.ChunkSize <= 0 {
		cfg.Drive.ChunkSize = DefaultChunkSize
	}
	if cfg.Drive.Concurrency <= 0 {
		cfg.Drive.Concurrency = 1
	}

	cfg.Cache = CacheConfig{
		RedisURL: getEnv("REDIS_URL", ""),
		TTL:      parseDuration(getEnv("CACHE_TTL", "168h"), 168*time.Hour),
	}

	cfg.Results = ResultsConfig{
		S3Bucket: getEnv("RESULT_S3_BUCKET", ""),
		S3Prefix: strings.Trim(getEnv("RESULT_S3_PREFIX", "ocr-results"), "/"),
		S3: S3Config{
			Region:          getEnv("AWS_REGION", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
	}

	cfg.Metrics = MetricsConfig{
		TextfilePath: getEnv("METRICS_TEXTFILE", ""),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n
	}
	return def
}

func parseInts(s string, def []int) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 || n > 65535 {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}
