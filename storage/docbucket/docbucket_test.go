package docbucket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasermirzaei89/murmur/discuss"
	"github.com/nasermirzaei89/murmur/storage/docbucket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret"

type fakeDocumentStore struct {
	mu       sync.Mutex
	document []byte
	puts     int
}

func (f *fakeDocumentStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/b/bucket-1" {
		http.NotFound(w, r)

		return
	}

	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		if f.document == nil {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(f.document)
	case http.MethodPut:
		var doc json.RawMessage

		err := json.NewDecoder(r.Body).Decode(&doc)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		f.document = doc
		f.puts++

		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeDocumentStore) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.puts
}

func newTestRepository(t *testing.T, handler http.Handler, token string) *docbucket.BucketRepository {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	repo, err := docbucket.NewBucketRepository(docbucket.Config{
		BaseURL:  srv.URL,
		BucketID: "bucket-1",
		Token:    token,
		Timeout:  time.Second,
	})
	require.NoError(t, err)

	return repo
}

func TestBucketRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("missing document loads empty", func(t *testing.T) {
		t.Parallel()

		repo := newTestRepository(t, &fakeDocumentStore{}, testToken)

		bucket, err := repo.Load(ctx, "/blog/hello")
		require.NoError(t, err)
		assert.Empty(t, bucket.Comments)
		assert.Empty(t, bucket.Likers)
	})

	t.Run("save merges pages", func(t *testing.T) {
		t.Parallel()

		store := &fakeDocumentStore{}
		repo := newTestRepository(t, store, testToken)

		first := &discuss.Bucket{
			Comments: []*discuss.Comment{
				{
					ID:          "c1",
					AuthorEmail: "a@x.com",
					AuthorName:  "A",
					Text:        "hello",
					CreatedAt:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
					Replies:     []*discuss.Reply{},
				},
			},
			Likers: []string{"a@x.com"},
		}

		require.NoError(t, repo.Save(ctx, "/one", first))
		require.NoError(t, repo.Save(ctx, "/two", &discuss.Bucket{Comments: []*discuss.Comment{}, Likers: []string{"b@x.com"}}))

		loaded, err := repo.Load(ctx, "/one")
		require.NoError(t, err)

		if diff := cmp.Diff(first, loaded); diff != "" {
			t.Errorf("bucket mismatch (-saved +loaded):\n%s", diff)
		}

		loaded, err = repo.Load(ctx, "/two")
		require.NoError(t, err)
		assert.Equal(t, []string{"b@x.com"}, loaded.Likers)

		assert.Equal(t, 2, store.putCount())
	})

	t.Run("unauthorized", func(t *testing.T) {
		t.Parallel()

		repo := newTestRepository(t, &fakeDocumentStore{}, "wrong")

		_, err := repo.Load(ctx, "/one")

		statusErr := &docbucket.UnexpectedStatusError{}
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

		err = repo.Save(ctx, "/one", discuss.NewBucket())
		require.ErrorAs(t, err, &statusErr)
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()

		repo := newTestRepository(t, &fakeDocumentStore{}, testToken)

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := repo.Load(canceled, "/one")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewBucketRepository_RequiresBucket(t *testing.T) {
	t.Parallel()

	_, err := docbucket.NewBucketRepository(docbucket.Config{BaseURL: "http://localhost"})
	require.Error(t, err)
}
