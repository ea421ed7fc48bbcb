// Package memory keeps buckets in process memory. Nothing survives a
// restart.
package memory

import (
	"context"
	"sync"

	"github.com/nasermirzaei89/murmur/discuss"
)

type BucketRepository struct {
	mu      sync.RWMutex
	buckets map[string]*discuss.Bucket
}

var _ discuss.BucketRepository = (*BucketRepository)(nil)

func NewBucketRepository() *BucketRepository {
	return &BucketRepository{buckets: make(map[string]*discuss.Bucket)}
}

func (repo *BucketRepository) Load(_ context.Context, pageKey string) (*discuss.Bucket, error) {
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	bucket, ok := repo.buckets[pageKey]
	if !ok {
		return discuss.NewBucket(), nil
	}

	return bucket.Clone(), nil
}

func (repo *BucketRepository) Save(_ context.Context, pageKey string, bucket *discuss.Bucket) error {
	repo.mu.Lock()
	defer repo.mu.Unlock()

	repo.buckets[pageKey] = bucket.Clone()

	return nil
}
