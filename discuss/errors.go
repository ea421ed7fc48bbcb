package discuss

import (
	"errors"
	"fmt"
)

type InvalidEmailError struct {
	Email string
}

func (err InvalidEmailError) Error() string {
	return fmt.Sprintf("invalid email address %q", err.Email)
}

type RejectReason string

const (
	ReasonIdentityRequired RejectReason = "identity required"
	ReasonEmptyText        RejectReason = "empty text"
	ReasonDuplicateComment RejectReason = "duplicate comment"
)

type RejectedError struct {
	Reason RejectReason
}

func (err RejectedError) Error() string {
	return fmt.Sprintf("submission rejected: %s", err.Reason)
}

// Unwrap lets errors.Is(err, ErrIdentityRequired) match a rejection caused
// by a missing identity.
func (err RejectedError) Unwrap() error {
	if err.Reason == ReasonIdentityRequired {
		return ErrIdentityRequired
	}

	return nil
}

type ForbiddenError struct {
	CommentID string
	Email     string
}

func (err ForbiddenError) Error() string {
	return fmt.Sprintf("%q is not allowed to delete comment %q", err.Email, err.CommentID)
}

type CommentNotFoundError struct {
	ID string
}

func (err CommentNotFoundError) Error() string {
	return fmt.Sprintf("comment with id %q not found", err.ID)
}

type IdentityRequiredError struct {
	Action string
}

func (err IdentityRequiredError) Error() string {
	return fmt.Sprintf("identity required to %s", err.Action)
}

func (err IdentityRequiredError) Unwrap() error {
	return ErrIdentityRequired
}

type InvalidPageKeyError struct {
	PageKey string
}

func (err InvalidPageKeyError) Error() string {
	return fmt.Sprintf("invalid page key %q", err.PageKey)
}

var ErrIdentityRequired = errors.New("identity required")
