// Package media stores report photos in S3-compatible object storage.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Store uploads and serves report photos via a MinIO-compatible endpoint.
type Store struct {
	client *minio.Client
	bucket string
}

// New creates a media store and ensures the bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// Upload stores a photo under the given object name after sniffing its content type.
// Returns the detected content type and the stored size.
func (s *Store) Upload(ctx context.Context, objectName string, r io.Reader) (string, int64, error) {
	data, err := io.ReadAll(io.LimitReader(r, 10<<20+1))
	if err != nil {
		return "", 0, fmt.Errorf("read photo: %w", err)
	}
	if len(data) > 10<<20 {
		return "", 0, fmt.Errorf("photo exceeds 10MB limit")
	}

	contentType := http.DetectContentType(data)
	if !allowedContentTypes[contentType] {
		return "", 0, fmt.Errorf("unsupported photo type: %s", contentType)
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", 0, fmt.Errorf("upload photo: %w", err)
	}

	return contentType, int64(len(data)), nil
}

// PresignedURL returns a time-limited download URL for a stored photo.
func (s *Store) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign photo url: %w", err)
	}
	return u.String(), nil
}

// Delete removes a stored photo. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("delete photo: %w", err)
	}
	return nil
}
