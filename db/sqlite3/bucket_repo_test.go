package sqlite3_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nasermirzaei89/murmur/db/sqlite3"
	"github.com/nasermirzaei89/murmur/discuss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *sqlite3.BucketRepository {
	t.Helper()

	ctx := context.Background()

	db, err := sqlite3.NewDB(ctx, filepath.Join(t.TempDir(), "murmur.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	err = sqlite3.MigrateUp(ctx, db)
	require.NoError(t, err)

	return sqlite3.NewBucketRepository(db)
}

func TestBucketRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := newTestRepository(t)

	createdAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	t.Run("unknown page loads empty", func(t *testing.T) {
		bucket, err := repo.Load(ctx, "/nothing-here")
		require.NoError(t, err)
		assert.Empty(t, bucket.Comments)
		assert.Empty(t, bucket.Likers)
	})

	t.Run("round trip keeps order", func(t *testing.T) {
		bucket := &discuss.Bucket{
			Comments: []*discuss.Comment{
				{
					ID:          "c2",
					AuthorEmail: "b@x.com",
					AuthorName:  "B",
					Text:        "second",
					CreatedAt:   createdAt.Add(time.Minute),
					Replies:     []*discuss.Reply{},
				},
				{
					ID:          "c1",
					AuthorEmail: "a@x.com",
					AuthorName:  "A",
					Text:        "first",
					CreatedAt:   createdAt,
					Replies: []*discuss.Reply{
						{ID: "r2", AuthorEmail: "b@x.com", AuthorName: "B", Text: "later", CreatedAt: createdAt.Add(2 * time.Minute)},
						{ID: "r1", AuthorEmail: "c@x.com", AuthorName: "C", Text: "earlier", CreatedAt: createdAt.Add(time.Minute)},
					},
				},
			},
			Likers: []string{"z@x.com", "a@x.com"},
		}

		err := repo.Save(ctx, "/blog/hello", bucket)
		require.NoError(t, err)

		loaded, err := repo.Load(ctx, "/blog/hello")
		require.NoError(t, err)

		if diff := cmp.Diff(bucket, loaded); diff != "" {
			t.Errorf("bucket mismatch (-saved +loaded):\n%s", diff)
		}
	})

	t.Run("save replaces previous state", func(t *testing.T) {
		err := repo.Save(ctx, "/replace", &discuss.Bucket{
			Comments: []*discuss.Comment{
				{ID: "c1", AuthorEmail: "a@x.com", AuthorName: "A", Text: "hi", CreatedAt: createdAt, Replies: []*discuss.Reply{}},
			},
			Likers: []string{"a@x.com"},
		})
		require.NoError(t, err)

		err = repo.Save(ctx, "/replace", discuss.NewBucket())
		require.NoError(t, err)

		loaded, err := repo.Load(ctx, "/replace")
		require.NoError(t, err)
		assert.Empty(t, loaded.Comments)
		assert.Empty(t, loaded.Likers)
	})

	t.Run("pages do not leak into each other", func(t *testing.T) {
		err := repo.Save(ctx, "/one", &discuss.Bucket{
			Comments: []*discuss.Comment{},
			Likers:   []string{"a@x.com"},
		})
		require.NoError(t, err)

		loaded, err := repo.Load(ctx, "/two")
		require.NoError(t, err)
		assert.Empty(t, loaded.Likers)
	})
}

func TestMigrateDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, err := sqlite3.NewDB(ctx, filepath.Join(t.TempDir(), "murmur.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, sqlite3.MigrateUp(ctx, db))
	require.NoError(t, sqlite3.MigrateDown(db))

	_, err = sqlite3.NewBucketRepository(db).Load(ctx, "/gone")
	require.Error(t, err)
}
