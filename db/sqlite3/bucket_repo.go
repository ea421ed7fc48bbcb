package sqlite3

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/nasermirzaei89/murmur/discuss"
)

const (
	tableComments = "comments"
	tableReplies  = "replies"
	tableLikes    = "likes"
)

const (
	fieldPageKey     = "page_key"
	fieldID          = "id"
	fieldPosition    = "position"
	fieldAuthorEmail = "author_email"
	fieldAuthorName  = "author_name"
	fieldText        = "text"
	fieldCreatedAt   = "created_at"
	fieldCommentID   = "comment_id"
	fieldEmail       = "email"
)

type BucketRepository struct {
	db *sql.DB
}

var _ discuss.BucketRepository = (*BucketRepository)(nil)

func NewBucketRepository(db *sql.DB) *BucketRepository {
	return &BucketRepository{db: db}
}

func commentColumns() []string {
	return []string{
		fieldID,
		fieldAuthorEmail,
		fieldAuthorName,
		fieldText,
		fieldCreatedAt,
	}
}

func replyColumns() []string {
	return []string{
		fieldCommentID,
		fieldID,
		fieldAuthorEmail,
		fieldAuthorName,
		fieldText,
		fieldCreatedAt,
	}
}

func scanComment(row sq.RowScanner) (*discuss.Comment, error) {
	comment := discuss.Comment{Replies: make([]*discuss.Reply, 0)}

	err := row.Scan(
		&comment.ID,
		&comment.AuthorEmail,
		&comment.AuthorName,
		&comment.Text,
		&comment.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan comment row: %w", err)
	}

	return &comment, nil
}

func scanReply(row sq.RowScanner) (string, *discuss.Reply, error) {
	var (
		commentID string
		reply     discuss.Reply
	)

	err := row.Scan(
		&commentID,
		&reply.ID,
		&reply.AuthorEmail,
		&reply.AuthorName,
		&reply.Text,
		&reply.CreatedAt,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to scan reply row: %w", err)
	}

	return commentID, &reply, nil
}

func (repo *BucketRepository) Load(ctx context.Context, pageKey string) (*discuss.Bucket, error) {
	bucket := discuss.NewBucket()

	comments, err := repo.listComments(ctx, pageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	bucket.Comments = comments

	err = repo.attachReplies(ctx, pageKey, comments)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}

	likers, err := repo.listLikers(ctx, pageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list likers: %w", err)
	}

	bucket.Likers = likers

	return bucket, nil
}

func (repo *BucketRepository) listComments(ctx context.Context, pageKey string) ([]*discuss.Comment, error) {
	q := sq.Select(commentColumns()...).
		From(tableComments).
		Where(sq.Eq{fieldPageKey: pageKey}).
		OrderBy(fieldPosition + " ASC")

	q = q.RunWith(repo.db)

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	defer closeRows(ctx, rows)

	comments := make([]*discuss.Comment, 0)

	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment failed: %w", err)
		}

		comments = append(comments, comment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return comments, nil
}

func (repo *BucketRepository) attachReplies(ctx context.Context, pageKey string, comments []*discuss.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	byID := make(map[string]*discuss.Comment, len(comments))
	for _, comment := range comments {
		byID[comment.ID] = comment
	}

	q := sq.Select(replyColumns()...).
		From(tableReplies).
		Where(sq.Eq{fieldPageKey: pageKey}).
		OrderBy(fieldCommentID+" ASC", fieldPosition+" ASC")

	q = q.RunWith(repo.db)

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	defer closeRows(ctx, rows)

	for rows.Next() {
		commentID, reply, err := scanReply(rows)
		if err != nil {
			return fmt.Errorf("scan reply failed: %w", err)
		}

		comment, ok := byID[commentID]
		if !ok {
			slog.WarnContext(ctx, "orphan reply", "pageKey", pageKey, "commentId", commentID, "replyId", reply.ID)

			continue
		}

		comment.Replies = append(comment.Replies, reply)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("rows iteration failed: %w", err)
	}

	return nil
}

func (repo *BucketRepository) listLikers(ctx context.Context, pageKey string) ([]string, error) {
	q := sq.Select(fieldEmail).
		From(tableLikes).
		Where(sq.Eq{fieldPageKey: pageKey}).
		OrderBy(fieldPosition + " ASC")

	q = q.RunWith(repo.db)

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	defer closeRows(ctx, rows)

	likers := make([]string, 0)

	for rows.Next() {
		var email string

		err := rows.Scan(&email)
		if err != nil {
			return nil, fmt.Errorf("failed to scan like row: %w", err)
		}

		likers = append(likers, email)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return likers, nil
}

// Save replaces every row of the page in one transaction.
func (repo *BucketRepository) Save(ctx context.Context, pageKey string, bucket *discuss.Bucket) error {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = replaceBucket(ctx, tx, pageKey, bucket)
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			slog.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}

		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func replaceBucket(ctx context.Context, tx *sql.Tx, pageKey string, bucket *discuss.Bucket) error {
	for _, table := range []string{tableReplies, tableComments, tableLikes} {
		_, err := sq.Delete(table).
			Where(sq.Eq{fieldPageKey: pageKey}).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to exec delete from %s: %w", table, err)
		}
	}

	for i, comment := range bucket.Comments {
		_, err := sq.Insert(tableComments).
			Columns(fieldPageKey, fieldID, fieldPosition, fieldAuthorEmail, fieldAuthorName, fieldText, fieldCreatedAt).
			Values(pageKey, comment.ID, i, comment.AuthorEmail, comment.AuthorName, comment.Text, comment.CreatedAt).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to exec insert comment: %w", err)
		}

		for j, reply := range comment.Replies {
			_, err := sq.Insert(tableReplies).
				Columns(
					fieldPageKey,
					fieldCommentID,
					fieldID,
					fieldPosition,
					fieldAuthorEmail,
					fieldAuthorName,
					fieldText,
					fieldCreatedAt,
				).
				Values(pageKey, comment.ID, reply.ID, j, reply.AuthorEmail, reply.AuthorName, reply.Text, reply.CreatedAt).
				RunWith(tx).
				ExecContext(ctx)
			if err != nil {
				return fmt.Errorf("failed to exec insert reply: %w", err)
			}
		}
	}

	for i, email := range bucket.Likers {
		_, err := sq.Insert(tableLikes).
			Columns(fieldPageKey, fieldEmail, fieldPosition).
			Values(pageKey, email, i).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to exec insert like: %w", err)
		}
	}

	return nil
}

func closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		slog.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
