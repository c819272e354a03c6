package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Fetcher downloads a checkpoint snapshot from S3 into a local directory.
// Used on cold volumes before the first model load; the worker never writes
// to a checkpoint directory that already exists.
type S3Fetcher struct {
	client     *s3.Client
	downloader *manager.Downloader
	log        *zap.SugaredLogger
}

// NewS3Fetcher creates a new S3 fetcher for the given region.
func NewS3Fetcher(ctx context.Context, region string, log *zap.SugaredLogger) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg)
	return &S3Fetcher{
		client:     client,
		downloader: manager.NewDownloader(client),
		log:        log,
	}, nil
}

// FetchSnapshot mirrors every object under the s3://bucket/prefix URI into
// destDir, preserving relative keys. Partially fetched snapshots are left in
// place for the caller's Resolve step to reject.
func (f *S3Fetcher) FetchSnapshot(ctx context.Context, s3URI, destDir string) error {
	bucket, prefix, err := parseS3URI(s3URI)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory %s: %w", destDir, err)
	}

	f.log.Infow("Fetching checkpoint snapshot", "uri", s3URI, "dest", destDir)

	count := 0
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", s3URI, err)
		}
		for _, obj := range page.Contents {
			key := *obj.Key
			rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
			if rel == "" || strings.HasSuffix(key, "/") {
				continue
			}
			if err := f.fetchObject(ctx, bucket, key, filepath.Join(destDir, filepath.FromSlash(rel))); err != nil {
				return err
			}
			count++
		}
	}

	if count == 0 {
		return fmt.Errorf("no objects found under %s", s3URI)
	}

	f.log.Infow("Checkpoint snapshot fetched", "objects", count)
	return nil
}

func (f *S3Fetcher) fetchObject(ctx context.Context, bucket, key, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	file, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = f.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid S3 URI %q: expected s3://bucket/prefix", uri)
	}

	parts := strings.SplitN(trimmed, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: missing bucket", uri)
	}
	if len(parts) == 2 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	return bucket, prefix, nil
}
