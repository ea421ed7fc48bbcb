package rediskv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/nasermirzaei89/murmur/discuss"
	"github.com/nasermirzaei89/murmur/storage/rediskv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketRepository_Key(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})

	t.Cleanup(func() {
		_ = client.Close()
	})

	tests := []struct {
		name     string
		prefix   string
		pageKey  string
		expected string
	}{
		{name: "default prefix", prefix: "", pageKey: "/blog/hello", expected: "murmur:bucket:/blog/hello"},
		{name: "custom prefix", prefix: "site", pageKey: "/", expected: "site:bucket:/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := rediskv.NewBucketRepository(client, tt.prefix)
			assert.Equal(t, tt.expected, repo.Key(tt.pageKey))
		})
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	t.Parallel()

	_, err := rediskv.NewClient(context.Background(), "not a url")
	require.Error(t, err)
}

func newTestRepository(t *testing.T) (*rediskv.BucketRepository, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)

	client, err := rediskv.NewClient(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return rediskv.NewBucketRepository(client, ""), server
}

func TestBucketRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, server := newTestRepository(t)

	createdAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	t.Run("missing key loads empty", func(t *testing.T) {
		bucket, err := repo.Load(ctx, "/nothing-here")
		require.NoError(t, err)
		assert.Empty(t, bucket.Comments)
		assert.Empty(t, bucket.Likers)
	})

	t.Run("round trip", func(t *testing.T) {
		bucket := &discuss.Bucket{
			Comments: []*discuss.Comment{
				{
					ID:          "c1",
					AuthorEmail: "a@x.com",
					AuthorName:  "A",
					Text:        "first",
					CreatedAt:   createdAt,
					Replies: []*discuss.Reply{
						{ID: "r1", AuthorEmail: "b@x.com", AuthorName: "B", Text: "reply", CreatedAt: createdAt.Add(time.Minute)},
					},
				},
			},
			Likers: []string{"b@x.com", "a@x.com"},
		}

		err := repo.Save(ctx, "/blog/hello", bucket)
		require.NoError(t, err)
		assert.True(t, server.Exists("murmur:bucket:/blog/hello"))

		loaded, err := repo.Load(ctx, "/blog/hello")
		require.NoError(t, err)

		if diff := cmp.Diff(bucket, loaded); diff != "" {
			t.Errorf("bucket mismatch (-saved +loaded):\n%s", diff)
		}
	})

	t.Run("save replaces previous state", func(t *testing.T) {
		err := repo.Save(ctx, "/replace", &discuss.Bucket{Comments: []*discuss.Comment{}, Likers: []string{"a@x.com"}})
		require.NoError(t, err)

		err = repo.Save(ctx, "/replace", discuss.NewBucket())
		require.NoError(t, err)

		loaded, err := repo.Load(ctx, "/replace")
		require.NoError(t, err)
		assert.Empty(t, loaded.Likers)
	})

	t.Run("corrupt value", func(t *testing.T) {
		require.NoError(t, server.Set("murmur:bucket:/corrupt", "{not json"))

		_, err := repo.Load(ctx, "/corrupt")
		require.Error(t, err)
	})
}

func TestBucketRepository_ServerDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo, server := newTestRepository(t)

	server.Close()

	_, err := repo.Load(ctx, "/blog/hello")
	require.Error(t, err)

	err = repo.Save(ctx, "/blog/hello", discuss.NewBucket())
	require.Error(t, err)
}
