// Package rediskv stores each page bucket as one JSON string value.
package rediskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nasermirzaei89/murmur/discuss"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "murmur"

type BucketRepository struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ discuss.BucketRepository = (*BucketRepository)(nil)

func NewBucketRepository(client redis.UniversalClient, keyPrefix string) *BucketRepository {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	return &BucketRepository{client: client, keyPrefix: keyPrefix}
}

// NewClient parses a redis:// URL and checks the connection.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

func (repo *BucketRepository) Key(pageKey string) string {
	return repo.keyPrefix + ":bucket:" + pageKey
}

func (repo *BucketRepository) Load(ctx context.Context, pageKey string) (*discuss.Bucket, error) {
	data, err := repo.client.Get(ctx, repo.Key(pageKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return discuss.NewBucket(), nil
		}

		return nil, fmt.Errorf("failed to get bucket: %w", err)
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

	err = repo.client.Set(ctx, repo.Key(pageKey), data, 0).Err()
	if err != nil {
		return fmt.Errorf("failed to set bucket: %w", err)
	}

	return nil
}
