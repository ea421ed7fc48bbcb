package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nasermirzaei89/murmur/discuss"
)

const identityKey = "email"

type identityContextKey struct{}

// identityMiddleware loads the remembered email from the session cookie
// into the request context. A cookie that no longer decodes, e.g. after the
// session key changed, is expired and the visitor continues without an
// identity.
func (h *Handler) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionValueNotFoundError *SessionValueNotFoundError

		ctx := r.Context()

		email, err := h.getSessionValue(r, identityKey)
		if err != nil && !errors.As(err, &sessionValueNotFoundError) {
			slog.WarnContext(
				ctx,
				"discarding unreadable session cookie",
				"key",
				identityKey,
				"error",
				err,
			)

			r = h.dropSessionCookie(ctx, w, r)
		}

		if email, ok := email.(string); ok && email != "" {
			r = r.WithContext(context.WithValue(r.Context(), identityContextKey{}, email))
		}

		next.ServeHTTP(w, r)
	})
}

func identityFromContext(ctx context.Context) string {
	email, _ := ctx.Value(identityContextKey{}).(string)

	return email
}

// sessionIdentity remembers the identity of one visitor in their session
// cookie.
type sessionIdentity struct {
	h *Handler
	w http.ResponseWriter
	r *http.Request
}

var _ discuss.IdentityRepository = (*sessionIdentity)(nil)

func (h *Handler) identities(w http.ResponseWriter, r *http.Request) *sessionIdentity {
	return &sessionIdentity{h: h, w: w, r: r}
}

func (si *sessionIdentity) Identity(ctx context.Context) (string, error) {
	return identityFromContext(ctx), nil
}

func (si *sessionIdentity) SetIdentity(_ context.Context, email string) error {
	return si.h.setSessionValue(si.w, si.r, identityKey, email)
}
