// Package blob stores exported fixtures in S3-compatible object storage and
// hands out short-lived download links.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service uploads fixture payloads and issues presigned download URLs.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// PutFixture uploads a fixture payload and returns its object name. Objects
// are keyed per user and timestamped so uploads never collide.
func (s *Service) PutFixture(ctx context.Context, userID, kind string, payload []byte) (string, error) {
	objectName := fmt.Sprintf("fixtures/%s/%s-%s.json", userID, kind, time.Now().UTC().Format("20060102T150405Z"))

	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload fixture %s: %w", objectName, err)
	}
	return objectName, nil
}

// PresignedURL returns a time-limited download link for a stored fixture.
func (s *Service) PresignedURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectName, err)
	}
	return u.String(), nil
}
