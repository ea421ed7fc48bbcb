package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gorilla/csrf"
	"github.com/gorilla/sessions"
	"github.com/nasermirzaei89/murmur/discuss"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	//go:embed templates/*
	templatesFS embed.FS

	//go:embed static/*
	staticFS embed.FS
)

const (
	defaultSiteTitle = "Murmur"
	hxRequestTrue    = "true"
)

type Handler struct {
	mux         *http.ServeMux
	handler     http.Handler
	tpl         *template.Template
	static      fs.FS
	discussSvc  *discuss.Service
	cookieStore *sessions.CookieStore
	sessionName string
	markdown    goldmark.Markdown
}

var _ http.Handler = (*Handler)(nil)

func NewHandler(
	discussSvc *discuss.Service,
	cookieStore *sessions.CookieStore,
	sessionName string,
	csrfAuthKey []byte,
	csrfTrustedOrigins []string,
	plaintextHTTP bool,
) (*Handler, error) {
	h := &Handler{
		mux:         nil,
		handler:     nil,
		tpl:         nil,
		discussSvc:  discussSvc,
		cookieStore: cookieStore,
		sessionName: sessionName,
		markdown:    nil,
	}

	// Raw HTML in comment text is omitted from the output.
	h.markdown = goldmark.New(
		goldmark.WithExtensions(
			extension.Strikethrough,
			extension.Linkify,
		),
	)

	{
		tpl, err := template.New("").Funcs(h.funcs()).ParseFS(templatesFS, "templates/*.gohtml")
		if err != nil {
			return nil, fmt.Errorf("failed to parse templates: %w", err)
		}

		h.tpl = tpl
	}

	{
		static, err := fs.Sub(staticFS, "static")
		if err != nil {
			return nil, fmt.Errorf("failed to sub static fs: %w", err)
		}

		h.static = static
	}

	{
		h.mux = &http.ServeMux{}
		h.handler = h.mux

		h.registerRoutes()
	}

	{
		h.handler = h.identityMiddleware(h.handler)

		{
			csrfOptions := []csrf.Option{
				csrf.TrustedOrigins(csrfTrustedOrigins),
				csrf.Path("/"),
			}

			if plaintextHTTP {
				csrfOptions = append(csrfOptions, csrf.Secure(false))
			}

			csrfMiddleware := csrf.Protect(csrfAuthKey, csrfOptions...)

			h.handler = csrfMiddleware(h.handler)
		}

		if plaintextHTTP {
			h.handler = plaintextMiddleware(h.handler)
		}

		// Probes and scrapes never touch cookies.
		root := &http.ServeMux{}
		root.HandleFunc("GET /healthz", handleHealthz)
		root.Handle("GET /metrics", promhttp.Handler())
		root.Handle("/", h.handler)

		h.handler = recoverMiddleware(root)
	}

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.static))))

	h.mux.Handle("GET /widget", h.HandleWidgetPage())
	h.mux.Handle("POST /identity", h.HandleSetIdentity())
	h.mux.Handle("POST /identity/clear", h.HandleClearIdentity())
	h.mux.Handle("POST /comments", h.HandleSubmitComment())
	h.mux.Handle("POST /comments/{commentId}/replies", h.HandleSubmitReply())
	h.mux.Handle("POST /comments/{commentId}/delete", h.HandleDeleteComment())
	h.mux.Handle("GET /comments/{commentId}/reply-form", h.HandleReplyForm())
	h.mux.Handle("POST /likes/toggle", h.HandleToggleLike())

	h.mux.Handle("GET /api/buckets", h.HandleGetBucket())
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// plaintextMiddleware marks requests as served over plain HTTP so the CSRF
// check compares origins against http:// instead of https://.
func plaintextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func(ctx context.Context) {
			if err := recover(); err != nil {
				slog.ErrorContext(
					ctx,
					"recovered from panic",
					"error",
					err,
					"stack",
					string(debug.Stack()),
				)

				http.Error(w, "internal error occurred", http.StatusInternalServerError)
			}
		}(r.Context())

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) funcs() template.FuncMap {
	return template.FuncMap{
		"markdown": h.renderMarkdown,
		"formatTime": func(t time.Time) string {
			return t.UTC().Format("Jan 2, 2006 15:04")
		},
		"isoTime": func(t time.Time) string {
			return t.UTC().Format(time.RFC3339)
		},
		"sameEmail": func(a, b string) bool {
			return b != "" && strings.EqualFold(a, b)
		},
		"widgetURL": widgetURL,
	}
}

func (h *Handler) renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer

	err := h.markdown.Convert([]byte(text), &buf)
	if err != nil {
		slog.Error("failed to render markdown", "error", err)

		return template.HTML(template.HTMLEscapeString(text)) //nolint:gosec
	}

	return template.HTML(buf.String()) //nolint:gosec
}

func (h *Handler) renderTemplate(
	w http.ResponseWriter,
	r *http.Request,
	status int,
	name string,
	extraData map[string]any,
) {
	data := map[string]any{
		"CurrentPath": r.URL.Path,
		"Lang":        "en",
		"Dir":         "ltr",
	}

	maps.Copy(data, extraData)

	data["SiteTitle"] = defaultSiteTitle

	if extraData["SiteTitle"] != nil {
		data["SiteTitle"] = fmt.Sprintf("%s | %s", extraData["SiteTitle"], data["SiteTitle"])
	}

	h.executeTemplate(w, r, status, name, data)
}

func (h *Handler) executeTemplate(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer

	err := h.tpl.ExecuteTemplate(&buf, name, data)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to render template", "name", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	_, err = buf.WriteTo(w)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "name", name, "error", err)
	}
}

func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") == hxRequestTrue
}

func widgetURL(pageKey string) string {
	return "/widget?" + url.Values{"page": {pageKey}}.Encode()
}

// sanitizeReturnToPath keeps redirects on this host: only paths starting
// with a single slash are accepted.
func sanitizeReturnToPath(returnTo string) string {
	if !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") {
		return "/"
	}

	if strings.HasPrefix(returnTo, "/\\") {
		return "/"
	}

	return returnTo
}

func (h *Handler) returnTo(r *http.Request, pageKey string) string {
	if returnTo := r.FormValue("return_to"); returnTo != "" {
		return sanitizeReturnToPath(returnTo)
	}

	return widgetURL(pageKey)
}

type LikeButtonData struct {
	PageKey     string
	Count       int
	Liked       bool
	HasIdentity bool
	ReturnTo    string
	CSRFField   template.HTML
}

func (h *Handler) likeButtonData(r *http.Request, store *discuss.Store) *LikeButtonData {
	return &LikeButtonData{
		PageKey:     store.PageKey(),
		Count:       len(store.Likers()),
		Liked:       store.HasLiked(store.Identity()),
		HasIdentity: store.Identity() != "",
		ReturnTo:    widgetURL(store.PageKey()),
		CSRFField:   csrf.TemplateField(r),
	}
}

func (h *Handler) widgetData(r *http.Request, store *discuss.Store) map[string]any {
	comments := store.Comments()

	data := map[string]any{
		"PageKey":        store.PageKey(),
		"Identity":       store.Identity(),
		"IdentityName":   "",
		"Comments":       comments,
		"CommentsCount":  len(comments),
		"LikeButton":     h.likeButtonData(r, store),
		"ReturnTo":       widgetURL(store.PageKey()),
		"IdentityError":  "",
		"EmailValue":     "",
		"CommentError":   "",
		"TextValue":      "",
		csrf.TemplateTag: csrf.TemplateField(r),
	}

	if store.Identity() != "" {
		data["IdentityName"] = discuss.DisplayName(store.Identity())
	}

	return data
}

// renderWidget writes the full widget page, or only the widget fragment for
// htmx requests.
func (h *Handler) renderWidget(w http.ResponseWriter, r *http.Request, status int, data map[string]any) {
	if isHTMXRequest(r) {
		h.renderTemplate(w, r, status, "widget", data)

		return
	}

	h.renderTemplate(w, r, status, "widget-page.gohtml", data)
}

// handleStoreError maps store errors to responses. It reports false when
// err is nil.
func (h *Handler) handleStoreError(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return false
	}

	var (
		invalidPageKeyErr *discuss.InvalidPageKeyError
		notFoundErr       *discuss.CommentNotFoundError
		forbiddenErr      *discuss.ForbiddenError
		rejectedErr       *discuss.RejectedError
	)

	switch {
	case errors.As(err, &invalidPageKeyErr):
		http.Error(w, "Invalid page", http.StatusBadRequest)
	case errors.As(err, &notFoundErr):
		http.Error(w, "Comment not found", http.StatusNotFound)
	case errors.As(err, &forbiddenErr):
		http.Error(w, "You can only delete your own comments", http.StatusForbidden)
	case errors.Is(err, discuss.ErrIdentityRequired):
		http.Error(w, "Enter your email first", http.StatusUnauthorized)
	case errors.As(err, &rejectedErr):
		http.Error(w, "Comment rejected", http.StatusUnprocessableEntity)
	default:
		slog.ErrorContext(r.Context(), "failed to handle comment store operation", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}

	return true
}

func (h *Handler) HandleWidgetPage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageKey := r.URL.Query().Get("page")

		var data map[string]any

		err := h.discussSvc.WithPage(r.Context(), pageKey, h.identities(w, r), func(store *discuss.Store) error {
			data = h.widgetData(r, store)

			return nil
		})
		if h.handleStoreError(w, r, err) {
			return
		}

		data["SiteTitle"] = "Comments"

		h.renderWidget(w, r, http.StatusOK, data)
	})
}

func (h *Handler) HandleSetIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to parse form", "error", err)
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		pageKey := r.FormValue("page")
		email := r.FormValue("email")

		var (
			data   map[string]any
			status = http.StatusOK
		)

		err = h.discussSvc.WithPage(r.Context(), pageKey, h.identities(w, r), func(store *discuss.Store) error {
			err := store.SetIdentity(r.Context(), email)

			data = h.widgetData(r, store)

			return err
		})

		var invalidEmailErr *discuss.InvalidEmailError
		if errors.As(err, &invalidEmailErr) {
			status = http.StatusUnprocessableEntity
			data["IdentityError"] = "Please enter a valid email address."
			data["EmailValue"] = email
		} else if h.handleStoreError(w, r, err) {
			return
		}

		if status == http.StatusOK && !isHTMXRequest(r) {
			http.Redirect(w, r, h.returnTo(r, pageKey), http.StatusSeeOther)

			return
		}

		h.renderWidget(w, r, status, data)
	})
}

func (h *Handler) HandleClearIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to parse form", "error", err)
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		err = h.deleteSessionValue(w, r, identityKey)
		if err != nil {
			slog.ErrorContext(
				r.Context(),
				"error on deleting session value",
				"key",
				identityKey,
				"error",
				err,
			)
			http.Error(w, "error on deleting session value", http.StatusInternalServerError)

			return
		}

		http.Redirect(w, r, h.returnTo(r, r.FormValue("page")), http.StatusSeeOther)
	})
}

func (h *Handler) HandleSubmitComment() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to parse form", "error", err)
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		pageKey := r.FormValue("page")
		text := r.FormValue("text")

		var data map[string]any

		err = h.discussSvc.WithPage(r.Context(), pageKey, h.identities(w, r), func(store *discuss.Store) error {
			_, err := store.SubmitComment(r.Context(), store.Identity(), text)

			data = h.widgetData(r, store)

			return err
		})

		var rejectedErr *discuss.RejectedError
		if errors.As(err, &rejectedErr) {
			switch rejectedErr.Reason {
			case discuss.ReasonEmptyText:
				err = nil
			case discuss.ReasonDuplicateComment:
				data["CommentError"] = "You have already commented on this page. Reply to a comment instead."
				data["TextValue"] = text

				h.renderWidget(w, r, http.StatusConflict, data)

				return
			case discuss.ReasonIdentityRequired:
			}
		}

		if h.handleStoreError(w, r, err) {
			return
		}

		h.redirectOrRender(w, r, pageKey, data)
	})
}

func (h *Handler) HandleSubmitReply() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		commentID := r.PathValue("commentId")

		err := r.ParseForm()
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to parse form", "error", err)
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		pageKey := r.FormValue("page")
		text := r.FormValue("text")

		var data map[string]any

		err = h.discussSvc.WithPage(r.Context(), pageKey, h.identities(w, r), func(store *discuss.Store) error {
			_, err := store.SubmitReply(r.Context(), store.Identity(), commentID, text)

			data = h.widgetData(r, store)

			return err
		})

		var rejectedErr *discuss.RejectedError
		if errors.As(err, &rejectedErr) && rejectedErr.Reason == discuss.ReasonEmptyText {
			err = nil
		}

		if h.handleStoreError(w, r, err) {
			return
		}

		h.redirectOrRender(w, r, pageKey, data)
	})
}

func (h *Handler) HandleDeleteComment() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		commentID := r.PathValue("commentId")

		err := r.ParseForm()
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to parse form", "error", err)
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		pageKey := r.FormValue("page")

		var data map[string]any

		err = h.discussSvc.WithPage(r.Context(), pageKey, h.identities(w, r), func(store *discuss.Store) error {
			err := store.DeleteComment(r.Context(), store.Identity(), commentID)

			data = h.widgetData(r, store)

			return err
		})
		if h.handleStoreError(w, r, err) {
			return
		}

		h.redirectOrRender(w, r, pageKey, data)
	})
}

func (h *Handler) HandleReplyForm() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isHTMXRequest(r) {
			http.Error(w, "Direct access is forbidden", http.StatusForbidden)

			return
		}

		data := map[string]any{
			csrf.TemplateTag: csrf.TemplateField(r),
			"PageKey":        r.URL.Query().Get("page"),
			"CommentID":      r.PathValue("commentId"),
		}

		h.executeTemplate(w, r, http.StatusOK, "reply-form", data)
	})
}

func (h *Handler) HandleToggleLike() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to parse like form", "error", err)
			http.Error(w, "Bad Request", http.StatusBadRequest)

			return
		}

		pageKey := r.FormValue("page")

		var likeButton *LikeButtonData

		err = h.discussSvc.WithPage(r.Context(), pageKey, h.identities(w, r), func(store *discuss.Store) error {
			_, err := store.ToggleLike(r.Context(), store.Identity())

			likeButton = h.likeButtonData(r, store)

			return err
		})
		if h.handleStoreError(w, r, err) {
			return
		}

		if !isHTMXRequest(r) {
			http.Redirect(w, r, h.returnTo(r, pageKey), http.StatusSeeOther)

			return
		}

		h.executeTemplate(w, r, http.StatusOK, "like-button", likeButton)
	})
}

// PublicBucket is the anonymous read view of a page. Emails are left out
// because identity is self-asserted: knowing an author's email is enough to
// act as them.
type PublicBucket struct {
	Comments  []*PublicComment `json:"comments"`
	LikeCount int              `json:"likeCount"`
}

type PublicComment struct {
	ID         string         `json:"id"`
	AuthorName string         `json:"authorName"`
	Text       string         `json:"text"`
	CreatedAt  time.Time      `json:"createdAt"`
	Replies    []*PublicReply `json:"replies"`
}

type PublicReply struct {
	ID         string    `json:"id"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

func newPublicBucket(bucket *discuss.Bucket) *PublicBucket {
	public := &PublicBucket{
		Comments:  make([]*PublicComment, 0, len(bucket.Comments)),
		LikeCount: len(bucket.Likers),
	}

	for _, comment := range bucket.Comments {
		replies := make([]*PublicReply, 0, len(comment.Replies))

		for _, reply := range comment.Replies {
			replies = append(replies, &PublicReply{
				ID:         reply.ID,
				AuthorName: reply.AuthorName,
				Text:       reply.Text,
				CreatedAt:  reply.CreatedAt,
			})
		}

		public.Comments = append(public.Comments, &PublicComment{
			ID:         comment.ID,
			AuthorName: comment.AuthorName,
			Text:       comment.Text,
			CreatedAt:  comment.CreatedAt,
			Replies:    replies,
		})
	}

	return public
}

func (h *Handler) HandleGetBucket() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pageKey := r.URL.Query().Get("page")

		bucket, err := h.discussSvc.Bucket(r.Context(), pageKey)
		if h.handleStoreError(w, r, err) {
			return
		}

		w.Header().Set("Content-Type", "application/json")

		err = json.NewEncoder(w).Encode(newPublicBucket(bucket))
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to encode bucket", "pageKey", pageKey, "error", err)
		}
	})
}

func (h *Handler) redirectOrRender(w http.ResponseWriter, r *http.Request, pageKey string, data map[string]any) {
	if !isHTMXRequest(r) {
		http.Redirect(w, r, h.returnTo(r, pageKey), http.StatusSeeOther)

		return
	}

	h.renderWidget(w, r, http.StatusOK, data)
}
