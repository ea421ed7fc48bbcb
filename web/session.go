package web

import (
	"context"
	"fmt"
	"net/http"
)

type SessionValueNotFoundError struct {
	Key string
}

func (err SessionValueNotFoundError) Error() string {
	return fmt.Sprintf("session value for key '%s' not found", err.Key)
}

func (h *Handler) getSessionValue(r *http.Request, key string) (any, error) {
	session, err := h.cookieStore.Get(r, h.sessionName)
	if err != nil {
		return nil, fmt.Errorf("error getting session: %w", err)
	}

	value, ok := session.Values[key]
	if !ok {
		return nil, &SessionValueNotFoundError{Key: key}
	}

	return value, nil
}

func (h *Handler) setSessionValue(
	w http.ResponseWriter,
	r *http.Request,
	key string,
	value any,
) error {
	session, err := h.cookieStore.Get(r, h.sessionName)
	if err != nil {
		return fmt.Errorf("error getting session: %w", err)
	}

	session.Values[key] = value

	err = session.Save(r, w)
	if err != nil {
		return fmt.Errorf("error saving session: %w", err)
	}

	return nil
}

func (h *Handler) deleteSessionValue(w http.ResponseWriter, r *http.Request, key string) error {
	session, err := h.cookieStore.Get(r, h.sessionName)
	if err != nil {
		return fmt.Errorf("error getting session: %w", err)
	}

	delete(session.Values, key)

	err = session.Save(r, w)
	if err != nil {
		return fmt.Errorf("error saving session: %w", err)
	}

	return nil
}

// dropSessionCookie expires the session cookie in the response and returns a
// copy of r without it. ctx must not carry the session registry of r, so later
// reads on the copy start from an empty session.
func (h *Handler) dropSessionCookie(ctx context.Context, w http.ResponseWriter, r *http.Request) *http.Request {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionName,
		Value:    "",
		Path:     h.cookieStore.Options.Path,
		Domain:   h.cookieStore.Options.Domain,
		MaxAge:   -1,
		Secure:   h.cookieStore.Options.Secure,
		HttpOnly: h.cookieStore.Options.HttpOnly,
		SameSite: h.cookieStore.Options.SameSite,
	})

	clean := r.Clone(ctx)
	clean.Header.Del("Cookie")

	for _, cookie := range r.Cookies() {
		if cookie.Name != h.sessionName {
			clean.AddCookie(cookie)
		}
	}

	return clean
}
