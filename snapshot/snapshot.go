// Package snapshot archives raw fetched HTML to S3-compatible object
// storage so extraction failures can be debugged offline. Archival is
// best-effort: a failure here never fails the article it's backing up.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/brinkhollow/ingestor/config"
)

// Archiver stores raw HTML snapshots and returns the object key used.
type Archiver interface {
	Store(ctx context.Context, sourceID, url string, html []byte) (string, error)
}

// S3Archiver implements Archiver against any S3-compatible endpoint
// (AWS S3, MinIO, R2, etc.) via an optional base-endpoint override with
// path-style addressing.
type S3Archiver struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewS3Archiver builds an Archiver from SnapshotConfig. It returns
// (nil, nil) when archiving is disabled so callers can treat a nil
// Archiver as a no-op without an extra config check at every call site.
func NewS3Archiver(ctx context.Context, cfg config.SnapshotConfig, logger *slog.Logger) (*S3Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Archiver{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Store uploads html under a key derived from sourceID and the current
// time, returning the key so the caller can record it on the article.
func (a *S3Archiver) Store(ctx context.Context, sourceID, url string, html []byte) (string, error) {
	key := objectKey(sourceID, url)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(html),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("snapshot: put object: %w", err)
	}
	return key, nil
}

// StoreBestEffort wraps Store, logging and swallowing any error so a
// snapshot failure never blocks the ingestion pipeline it supports.
// archiver may be nil, in which case this is a no-op.
func StoreBestEffort(ctx context.Context, archiver Archiver, sourceID, url string, html []byte, logger *slog.Logger) *string {
	if archiver == nil {
		return nil
	}
	key, err := archiver.Store(ctx, sourceID, url, html)
	if err != nil {
		logger.Warn("snapshot archive failed", "url", url, "error", err)
		return nil
	}
	return &key
}

func objectKey(sourceID, url string) string {
	stamp := time.Now().UTC().Format("2006/01/02/15040500000")
	return fmt.Sprintf("%s/%s/%s.html", sourceID, stamp, hashURL(url))
}

func hashURL(url string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(url); i++ {
		h ^= uint32(url[i])
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)
}
