// Package s3bucket stores each page bucket as a JSON object in an S3
// compatible bucket.
package s3bucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nasermirzaei89/murmur/discuss"
)

const (
	objectPrefix  = "buckets/"
	objectSuffix  = ".json"
	codeNoSuchKey = "NoSuchKey"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Region skips the bucket location lookup when set.
	Region string
}

type BucketRepository struct {
	client *minio.Client
	bucket string
}

var _ discuss.BucketRepository = (*BucketRepository)(nil)

func NewBucketRepository(client *minio.Client, bucket string) *BucketRepository {
	return &BucketRepository{client: client, bucket: bucket}
}

// NewClient connects to the object store and creates the bucket when it is
// missing.
func NewClient(ctx context.Context, cfg Config) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
		if err != nil {
			return nil, fmt.Errorf("failed to make bucket: %w", err)
		}

		slog.InfoContext(ctx, "created object bucket", "bucket", cfg.Bucket)
	}

	return client, nil
}

// ObjectName maps a page key to its object name. Slashes are escaped so
// every page lives directly under the prefix.
func ObjectName(pageKey string) string {
	return objectPrefix + url.PathEscape(pageKey) + objectSuffix
}

func (repo *BucketRepository) Load(ctx context.Context, pageKey string) (*discuss.Bucket, error) {
	obj, err := repo.client.GetObject(ctx, repo.bucket, ObjectName(pageKey), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	defer func() {
		err := obj.Close()
		if err != nil {
			slog.ErrorContext(ctx, "failed to close object", "error", err)
		}
	}()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == codeNoSuchKey {
			return discuss.NewBucket(), nil
		}

		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	bucket := discuss.NewBucket()

	err = json.Unmarshal(data, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal bucket: %w", err)
	}

	return bucket, nil
}

func (repo *BucketRepository) Save(ctx context.Context, pageKey string, bucket *discuss.Bucket) error {
	data, err := json.Marshal(bucket)
	if err != nil {
		return fmt.Errorf("failed to marshal bucket: %w", err)
	}

	_, err = repo.client.PutObject(
		ctx,
		repo.bucket,
		ObjectName(pageKey),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	return nil
}
