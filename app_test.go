package murmur_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nasermirzaei89/murmur"
	"github.com/nasermirzaei89/murmur/discuss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testBucket() *discuss.Bucket {
	return &discuss.Bucket{
		Comments: []*discuss.Comment{
			{
				ID:          "c1",
				AuthorEmail: "a@x.com",
				AuthorName:  "A",
				Text:        "Nice post",
				CreatedAt:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
				Replies: []*discuss.Reply{
					{ID: "r1", AuthorEmail: "b@x.com", AuthorName: "B", Text: "Thanks", CreatedAt: time.Date(2026, 10, 19, 12, 5, 0, 0, time.UTC)},
				},
			},
		},
		Likers: []string{"a@x.com"},
	}
}

func TestWriteBucket(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer

		require.NoError(t, murmur.WriteBucket(&buf, testBucket(), murmur.ExportFormatJSON))

		var decoded discuss.Bucket

		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "Thanks", decoded.Comments[0].Replies[0].Text)
		assert.Contains(t, buf.String(), `"authorEmail": "a@x.com"`)
	})

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer

		require.NoError(t, murmur.WriteBucket(&buf, testBucket(), murmur.ExportFormatYAML))

		var decoded map[string]any

		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, []any{"a@x.com"}, decoded["likers"])
		assert.Contains(t, buf.String(), "authorName: A")
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		err := murmur.WriteBucket(&bytes.Buffer{}, testBucket(), "xml")

		unknownFormatErr := &murmur.UnknownExportFormatError{}
		require.ErrorAs(t, err, &unknownFormatErr)
	})
}

func TestOpenStorage(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", murmur.StorageDriverMemory)

		storage, err := murmur.OpenStorage(context.Background())
		require.NoError(t, err)

		defer storage.Close(context.Background())

		assert.Equal(t, murmur.StorageDriverMemory, storage.Driver)
	})

	t.Run("sqlite", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", murmur.StorageDriverSQLite)
		t.Setenv("DB_DSN", t.TempDir()+"/murmur.db")

		storage, err := murmur.OpenStorage(context.Background())
		require.NoError(t, err)

		defer storage.Close(context.Background())

		bucket, err := storage.Buckets.Load(context.Background(), "/")
		require.NoError(t, err)
		assert.Empty(t, bucket.Comments)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "floppy")

		_, err := murmur.OpenStorage(context.Background())

		unknownDriverErr := &murmur.UnknownStorageDriverError{}
		require.ErrorAs(t, err, &unknownDriverErr)
		assert.Equal(t, "floppy", unknownDriverErr.Driver)
	})

	t.Run("docbucket requires an id", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", murmur.StorageDriverDocBucket)
		t.Setenv("DOCBUCKET_URL", "http://localhost")
		t.Setenv("DOCBUCKET_ID", "")

		_, err := murmur.OpenStorage(context.Background())
		require.Error(t, err)
	})
}
