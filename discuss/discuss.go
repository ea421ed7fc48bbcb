package discuss

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

const maxPageKeyLength = 512

// ValidatePageKey accepts route paths such as "/blog/hello-world".
func ValidatePageKey(pageKey string) error {
	if pageKey == "" || len(pageKey) > maxPageKeyLength || !strings.HasPrefix(pageKey, "/") {
		return &InvalidPageKeyError{PageKey: pageKey}
	}

	if strings.IndexFunc(pageKey, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return &InvalidPageKeyError{PageKey: pageKey}
	}

	return nil
}

// Service hands out page stores backed by one bucket repository. Mutations
// of the same page within this process are serialised; writers in other
// processes still race with last write wins.
type Service struct {
	bucketRepo BucketRepository
	storeOpts  []StoreOption
	locks      *pageLocks
}

func NewService(bucketRepo BucketRepository, storeOpts ...StoreOption) *Service {
	return &Service{
		bucketRepo: bucketRepo,
		storeOpts:  storeOpts,
		locks:      &pageLocks{locks: make(map[string]*pageLock)},
	}
}

// WithPage opens the store of pageKey and runs fn while holding the page
// lock. Errors returned by fn are passed through unchanged.
func (svc *Service) WithPage(
	ctx context.Context,
	pageKey string,
	identities IdentityRepository,
	fn func(store *Store) error,
) error {
	err := ValidatePageKey(pageKey)
	if err != nil {
		return err
	}

	unlock := svc.locks.lock(pageKey)
	defer unlock()

	store, err := OpenStore(ctx, pageKey, svc.bucketRepo, identities, svc.storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	return fn(store)
}

func (svc *Service) Bucket(ctx context.Context, pageKey string) (*Bucket, error) {
	err := ValidatePageKey(pageKey)
	if err != nil {
		return nil, err
	}

	bucket, err := svc.bucketRepo.Load(ctx, pageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket: %w", err)
	}

	if bucket == nil {
		return NewBucket(), nil
	}

	return bucket, nil
}

type pageLocks struct {
	mu    sync.Mutex
	locks map[string]*pageLock
}

type pageLock struct {
	mu   sync.Mutex
	refs int
}

func (pl *pageLocks) lock(pageKey string) func() {
	pl.mu.Lock()

	l, ok := pl.locks[pageKey]
	if !ok {
		l = &pageLock{}
		pl.locks[pageKey] = l
	}

	l.refs++
	pl.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		pl.mu.Lock()
		defer pl.mu.Unlock()

		l.refs--
		if l.refs == 0 {
			delete(pl.locks, pageKey)
		}
	}
}
