// Package natskv stores each page bucket in a NATS JetStream key/value
// bucket.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nasermirzaei89/murmur/discuss"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const DefaultBucket = "MURMUR_BUCKETS"

type BucketRepository struct {
	kv jetstream.KeyValue
}

var _ discuss.BucketRepository = (*BucketRepository)(nil)

func NewBucketRepository(kv jetstream.KeyValue) *BucketRepository {
	return &BucketRepository{kv: kv}
}

// Open connects to the server and returns the key/value bucket, creating it
// when it does not exist yet. The returned close func drains the connection.
func Open(ctx context.Context, url, bucket string) (jetstream.KeyValue, func(), error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()

		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Comments and likes per page",
		History:     5,
	})
	if err != nil {
		nc.Close()

		return nil, nil, fmt.Errorf("failed to create key value bucket: %w", err)
	}

	return kv, func() { _ = nc.Drain() }, nil
}

// Key encodes a page key into the key alphabet allowed by the KV store.
func Key(pageKey string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(pageKey))
}

func (repo *BucketRepository) Load(ctx context.Context, pageKey string) (*discuss.Bucket, error) {
	entry, err := repo.kv.Get(ctx, Key(pageKey))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return discuss.NewBucket(), nil
		}

		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	bucket := discuss.NewBucket()

	err = json.Unmarshal(entry.Value(), bucket)
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

	_, err = repo.kv.Put(ctx, Key(pageKey), data)
	if err != nil {
		return fmt.Errorf("failed to put bucket: %w", err)
	}

	return nil
}
