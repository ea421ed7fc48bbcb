package discuss

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nasermirzaei89/murmur/metrics"
)

// Store owns the comments and likes of one page for the lifetime of a page
// view. The bucket is loaded when the store is opened and written back in
// full after every successful mutation.
type Store struct {
	pageKey    string
	bucketRepo BucketRepository
	identities IdentityRepository
	identity   string
	bucket     *Bucket
	now        func() time.Time
	newID      func() string
}

type StoreOption func(store *Store)

func WithClock(now func() time.Time) StoreOption {
	return func(store *Store) {
		store.now = now
	}
}

func WithIDGenerator(newID func() string) StoreOption {
	return func(store *Store) {
		store.newID = newID
	}
}

func OpenStore(
	ctx context.Context,
	pageKey string,
	bucketRepo BucketRepository,
	identities IdentityRepository,
	opts ...StoreOption,
) (*Store, error) {
	err := ValidatePageKey(pageKey)
	if err != nil {
		return nil, err
	}

	store := &Store{
		pageKey:    pageKey,
		bucketRepo: bucketRepo,
		identities: identities,
		now:        time.Now,
		newID:      uuid.NewString,
	}

	for _, opt := range opts {
		opt(store)
	}

	bucket, err := bucketRepo.Load(ctx, pageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket: %w", err)
	}

	if bucket == nil {
		bucket = NewBucket()
	}

	store.bucket = bucket

	if identities != nil {
		email, err := identities.Identity(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to read identity", "error", err)
		} else if normalized, ok := NormalizeEmail(email); ok {
			store.identity = normalized
		}
	}

	return store, nil
}

func (s *Store) PageKey() string {
	return s.pageKey
}

// Identity returns the remembered identity, or "" when none is set.
func (s *Store) Identity() string {
	return s.identity
}

func (s *Store) SetIdentity(ctx context.Context, email string) error {
	normalized, ok := NormalizeEmail(email)
	if !ok {
		return &InvalidEmailError{Email: email}
	}

	s.identity = normalized

	if s.identities != nil {
		err := s.identities.SetIdentity(ctx, normalized)
		if err != nil {
			slog.ErrorContext(ctx, "failed to persist identity", "error", err)
		}
	}

	return nil
}

func (s *Store) SubmitComment(ctx context.Context, email, text string) (*Comment, error) {
	email, ok := NormalizeEmail(email)
	if !ok {
		return nil, s.reject(ReasonIdentityRequired)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, s.reject(ReasonEmptyText)
	}

	if s.bucket.hasCommentFrom(email) {
		return nil, s.reject(ReasonDuplicateComment)
	}

	comment := &Comment{
		ID:          s.newID(),
		AuthorEmail: email,
		AuthorName:  DisplayName(email),
		Text:        text,
		CreatedAt:   s.now().UTC(),
		Replies:     make([]*Reply, 0),
	}

	s.bucket.Comments = slices.Insert(s.bucket.Comments, 0, comment)

	s.persist(ctx, "submitComment")
	metrics.CommentsSubmitted.Inc()

	return comment.clone(), nil
}

func (s *Store) SubmitReply(ctx context.Context, email, commentID, text string) (*Reply, error) {
	email, ok := NormalizeEmail(email)
	if !ok {
		return nil, s.reject(ReasonIdentityRequired)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, s.reject(ReasonEmptyText)
	}

	_, comment := s.bucket.findComment(commentID)
	if comment == nil {
		return nil, &CommentNotFoundError{ID: commentID}
	}

	reply := &Reply{
		ID:          s.newID(),
		AuthorEmail: email,
		AuthorName:  DisplayName(email),
		Text:        text,
		CreatedAt:   s.now().UTC(),
	}

	comment.Replies = slices.Insert(comment.Replies, 0, reply)

	s.persist(ctx, "submitReply")
	metrics.RepliesSubmitted.Inc()

	replyCopy := *reply

	return &replyCopy, nil
}

func (s *Store) DeleteComment(ctx context.Context, email, commentID string) error {
	i, comment := s.bucket.findComment(commentID)
	if comment == nil {
		return &CommentNotFoundError{ID: commentID}
	}

	if !sameIdentity(comment.AuthorEmail, email) {
		return &ForbiddenError{CommentID: commentID, Email: email}
	}

	s.bucket.Comments = slices.Delete(s.bucket.Comments, i, i+1)

	s.persist(ctx, "deleteComment")
	metrics.CommentsDeleted.Inc()

	return nil
}

// ToggleLike flips the like state of email and reports whether the page is
// now liked by it.
func (s *Store) ToggleLike(ctx context.Context, email string) (bool, error) {
	email, ok := NormalizeEmail(email)
	if !ok {
		return false, &IdentityRequiredError{Action: "like"}
	}

	liked := true

	if i := s.bucket.likerIndex(email); i >= 0 {
		s.bucket.Likers = slices.Delete(s.bucket.Likers, i, i+1)
		liked = false
	} else {
		s.bucket.Likers = append(s.bucket.Likers, email)
	}

	s.persist(ctx, "toggleLike")

	if liked {
		metrics.LikeToggles.WithLabelValues(metrics.LikeStateLiked).Inc()
	} else {
		metrics.LikeToggles.WithLabelValues(metrics.LikeStateUnliked).Inc()
	}

	return liked, nil
}

func (s *Store) HasLiked(email string) bool {
	if email == "" {
		return false
	}

	return s.bucket.likerIndex(email) >= 0
}

func (s *Store) Comments() []*Comment {
	return s.bucket.Clone().Comments
}

func (s *Store) Likers() []string {
	return slices.Clone(s.bucket.Likers)
}

func (s *Store) Snapshot() *Bucket {
	return s.bucket.Clone()
}

func (s *Store) reject(reason RejectReason) error {
	metrics.Rejections.WithLabelValues(string(reason)).Inc()

	return &RejectedError{Reason: reason}
}

// persist writes the whole bucket back. Memory has already advanced, so a
// failure is only logged; the next successful write repairs storage.
func (s *Store) persist(ctx context.Context, operation string) {
	err := s.bucketRepo.Save(ctx, s.pageKey, s.bucket.Clone())
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues(operation).Inc()
		slog.ErrorContext(
			ctx,
			"failed to persist bucket",
			"pageKey",
			s.pageKey,
			"operation",
			operation,
			"error",
			err,
		)
	}
}
