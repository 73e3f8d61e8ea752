package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolkit/internal/config"
)

// NewS3Client loads AWS configuration from the default chain, applying any
// region, endpoint or static credentials set in c.
func NewS3Client(ctx context.Context, c config.S3Config) (*s3.Client, error) {
	var opts []func(*awscfg.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awscfg.WithRegion(c.Region))
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(ref string) (bucket, key string, err error) {
	p := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 || slash == len(p)-1 {
		return "", "", fmt.Errorf("invalid s3 url: %s", ref)
	}
	return p[:slash], p[slash+1:], nil
}

type downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, opts ...func(*manager.Downloader)) (int64, error)
}

func downloadS3(ctx context.Context, dl downloader, ref, dir string) (string, error) {
	bucket, key, err := ParseS3URL(ref)
	if err != nil {
		return "", err
	}
	local := filepath.Join(dir, path.Base(key))
	f, err := os.Create(local)
	if err != nil {
		return "", err
	}
	defer f.Close()
	n, err := dl.Download(ctx, f, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref, err)
	}
	log.Info().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Str("file", filepath.Base(local)).Msg("downloaded s3 object")
	return local, nil
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Publisher copies final text files to s3://<bucket>/<prefix>/<run id>/<name>.
type Publisher struct {
	up     uploader
	bucket string
	prefix string
}

// NewPublisher returns nil when no bucket is configured.
func NewPublisher(ctx context.Context, rc config.ResultsConfig) (*Publisher, error) {
	if rc.S3Bucket == "" {
		return nil, nil
	}
	cli, err := NewS3Client(ctx, rc.S3)
	if err != nil {
		return nil, err
	}
	return &Publisher{up: manager.NewUploader(cli), bucket: rc.S3Bucket, prefix: strings.Trim(rc.S3Prefix, "/")}, nil
}

// Key returns the object key a file published under runID is stored at.
func (p *Publisher) Key(runID, localPath string) string {
	return path.Join(p.prefix, runID, filepath.Base(localPath))
}

// Publish uploads localPath and returns its s3:// URL.
func (p *Publisher) Publish(ctx context.Context, runID, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	key := p.Key(runID, localPath)
	_, err = p.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/plain; charset=utf-8"),
		Metadata:    map[string]string{"run-id": runID, "name": filepath.Base(localPath)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	url := fmt.Sprintf("s3://%s/%s", p.bucket, key)
	log.Info().Str("url", url).Msg("published result")
	return url, nil
}
