package discuss

import (
	"context"
	"slices"
	"time"
)

type Comment struct {
	ID          string    `json:"id"          yaml:"id"`
	AuthorEmail string    `json:"authorEmail" yaml:"authorEmail"`
	AuthorName  string    `json:"authorName"  yaml:"authorName"`
	Text        string    `json:"text"        yaml:"text"`
	CreatedAt   time.Time `json:"createdAt"   yaml:"createdAt"`
	Replies     []*Reply  `json:"replies"     yaml:"replies"`
}

// Reply is a leaf record. Replies never have replies of their own.
type Reply struct {
	ID          string    `json:"id"          yaml:"id"`
	AuthorEmail string    `json:"authorEmail" yaml:"authorEmail"`
	AuthorName  string    `json:"authorName"  yaml:"authorName"`
	Text        string    `json:"text"        yaml:"text"`
	CreatedAt   time.Time `json:"createdAt"   yaml:"createdAt"`
}

// Bucket is everything persisted for one page key: the comments, newest
// first, and the identities that liked the page.
type Bucket struct {
	Comments []*Comment `json:"comments" yaml:"comments"`
	Likers   []string   `json:"likers"   yaml:"likers"`
}

func NewBucket() *Bucket {
	return &Bucket{
		Comments: make([]*Comment, 0),
		Likers:   make([]string, 0),
	}
}

// Clone returns a deep copy of the bucket.
func (b *Bucket) Clone() *Bucket {
	if b == nil {
		return NewBucket()
	}

	clone := &Bucket{
		Comments: make([]*Comment, 0, len(b.Comments)),
		Likers:   slices.Clone(b.Likers),
	}

	if clone.Likers == nil {
		clone.Likers = make([]string, 0)
	}

	for _, comment := range b.Comments {
		clone.Comments = append(clone.Comments, comment.clone())
	}

	return clone
}

func (c *Comment) clone() *Comment {
	clone := *c
	clone.Replies = make([]*Reply, 0, len(c.Replies))

	for _, reply := range c.Replies {
		replyCopy := *reply
		clone.Replies = append(clone.Replies, &replyCopy)
	}

	return &clone
}

func (b *Bucket) findComment(commentID string) (int, *Comment) {
	for i, comment := range b.Comments {
		if comment.ID == commentID {
			return i, comment
		}
	}

	return -1, nil
}

func (b *Bucket) hasCommentFrom(email string) bool {
	return slices.ContainsFunc(b.Comments, func(comment *Comment) bool {
		return sameIdentity(comment.AuthorEmail, email)
	})
}

func (b *Bucket) likerIndex(email string) int {
	return slices.IndexFunc(b.Likers, func(liker string) bool {
		return sameIdentity(liker, email)
	})
}

// BucketRepository persists whole buckets. Load of an unknown page key
// returns an empty bucket, not an error.
type BucketRepository interface {
	Load(ctx context.Context, pageKey string) (bucket *Bucket, err error)
	Save(ctx context.Context, pageKey string, bucket *Bucket) (err error)
}

// IdentityRepository remembers the participant's email between visits.
// An empty identity means none has been set.
type IdentityRepository interface {
	Identity(ctx context.Context) (email string, err error)
	SetIdentity(ctx context.Context, email string) (err error)
}
