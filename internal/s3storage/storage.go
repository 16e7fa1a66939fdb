package s3storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/dharsanguruparan/vidconvert/internal/config"
)

// ObjectInfo is the subset of object metadata the pipeline reads.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Storage wraps MinIO/S3 interactions for uploaded inputs and converted
// outputs.
type Storage struct {
	client  *minio.Client
	buckets []string
	region  string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	var buckets []string
	seen := map[string]bool{}
	for _, b := range []string{cfg.UploadBucket, cfg.InputBucket, cfg.OutputBucket} {
		if b != "" && !seen[b] {
			seen[b] = true
			buckets = append(buckets, b)
		}
	}
	return &Storage{client: client, buckets: buckets, region: cfg.S3Region}, nil
}

// EnsureBuckets makes sure the configured buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range s.buckets {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// Stat returns the stored size and content type of an object.
func (s *Storage) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	return ObjectInfo{Size: info.Size, ContentType: info.ContentType}, nil
}

// Download writes an object to a local file.
func (s *Storage) Download(ctx context.Context, bucket, key, dest string) error {
	if err := s.client.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Upload stores a local file under key with the given content type.
func (s *Storage) Upload(ctx context.Context, bucket, key, src, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.FPutObject(ctx, bucket, key, src, opts); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PresignUpload returns a PUT URL. The content type is part of the signature,
// so the client must send a matching Content-Type header.
func (s *Storage) PresignUpload(ctx context.Context, bucket, key string, ttl time.Duration, contentType string) (string, error) {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	u, err := s.client.PresignHeader(ctx, http.MethodPut, bucket, key, ttl, url.Values{}, headers)
	if err != nil {
		return "", fmt.Errorf("presign upload %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// PresignDownload returns a signed GET URL.
func (s *Storage) PresignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// Created is one object-created notification.
type Created struct {
	Bucket string
	Key    string
	Size   int64
}

// ListenCreated streams object-created events for keys under prefix until ctx
// is cancelled. Notification errors are sent to errs when it is non-nil.
func (s *Storage) ListenCreated(ctx context.Context, bucket, prefix string, errs func(error)) <-chan Created {
	out := make(chan Created)
	go func() {
		defer close(out)
		infos := s.client.ListenBucketNotification(ctx, bucket, prefix, "", []string{"s3:ObjectCreated:*"})
		for info := range infos {
			if info.Err != nil {
				if errs != nil {
					errs(info.Err)
				}
				continue
			}
			for _, rec := range info.Records {
				ev, err := createdFromRecord(rec)
				if err != nil {
					if errs != nil {
						errs(err)
					}
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func createdFromRecord(rec notification.Event) (Created, error) {
	// keys arrive URL-encoded in notification records
	key, err := url.QueryUnescape(rec.S3.Object.Key)
	if err != nil {
		return Created{}, fmt.Errorf("decode key %q: %w", rec.S3.Object.Key, err)
	}
	return Created{Bucket: rec.S3.Bucket.Name, Key: key, Size: rec.S3.Object.Size}, nil
}
