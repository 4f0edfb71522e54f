// Package archive uploads registry database snapshots to S3-compatible
// object storage. Archival is best-effort: a failed upload is logged by the
// caller and never aborts a run.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/quantlab/alphaevolve/internal/config"
)

// Snapshotter uploads database snapshots to a bucket.
type Snapshotter struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// New creates a snapshotter from the archive configuration.
func New(ctx context.Context, cfg *config.ArchiveConfig, log zerolog.Logger) (*Snapshotter, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Snapshotter{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		log:      log.With().Str("component", "archive").Logger(),
	}, nil
}

// Snapshot uploads one database file under a timestamped key and returns
// the key. The caller should checkpoint the WAL first so the file is
// self-contained.
func (s *Snapshotter) Snapshot(ctx context.Context, dbPath string) (string, error) {
	file, err := os.Open(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open database for snapshot: %w", err)
	}
	defer file.Close()

	key := path.Join(s.prefix, fmt.Sprintf("registry_%s.db", time.Now().UTC().Format("20060102_150405")))

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	s.log.Info().Str("bucket", s.bucket).Str("key", key).Msg("registry snapshot archived")
	return key, nil
}
