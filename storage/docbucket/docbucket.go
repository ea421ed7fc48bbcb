// Package docbucket keeps every page bucket inside one JSON document hosted
// by a remote document store. The document is addressed by a bucket ID and
// guarded by a static bearer token.
package docbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nasermirzaei89/murmur/discuss"
)

const DefaultTimeout = 10 * time.Second

// Document is the remote payload. Pages are keyed by page key.
type Document struct {
	Pages map[string]*discuss.Bucket `json:"pages"`
}

type UnexpectedStatusError struct {
	Method     string
	StatusCode int
}

func (err UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s", err.StatusCode, err.Method)
}

type Config struct {
	BaseURL  string
	BucketID string
	Token    string
	Timeout  time.Duration
}

type BucketRepository struct {
	client      *http.Client
	documentURL string
	token       string
}

var _ discuss.BucketRepository = (*BucketRepository)(nil)

func NewBucketRepository(cfg Config) (*BucketRepository, error) {
	if cfg.BaseURL == "" || cfg.BucketID == "" {
		return nil, errors.New("base url and bucket id are required")
	}

	documentURL, err := url.JoinPath(cfg.BaseURL, "b", cfg.BucketID)
	if err != nil {
		return nil, fmt.Errorf("failed to build document url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &BucketRepository{
		client:      &http.Client{Timeout: timeout},
		documentURL: documentURL,
		token:       cfg.Token,
	}, nil
}

func (repo *BucketRepository) Load(ctx context.Context, pageKey string) (*discuss.Bucket, error) {
	doc, err := repo.fetch(ctx)
	if err != nil {
		return nil, err
	}

	bucket, ok := doc.Pages[pageKey]
	if !ok || bucket == nil {
		return discuss.NewBucket(), nil
	}

	return bucket, nil
}

// Save reads the current document, replaces the page and writes the document
// back. There is no compare-and-swap: concurrent writers of other pages in
// between the two requests are lost.
func (repo *BucketRepository) Save(ctx context.Context, pageKey string, bucket *discuss.Bucket) error {
	doc, err := repo.fetch(ctx)
	if err != nil {
		return err
	}

	doc.Pages[pageKey] = bucket

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req, err := repo.newRequest(ctx, http.MethodPut, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	res, err := repo.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}

	defer closeBody(ctx, res.Body)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &UnexpectedStatusError{Method: http.MethodPut, StatusCode: res.StatusCode}
	}

	return nil
}

func (repo *BucketRepository) fetch(ctx context.Context) (*Document, error) {
	req, err := repo.newRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}

	res, err := repo.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	defer closeBody(ctx, res.Body)

	doc := &Document{}

	switch {
	case res.StatusCode == http.StatusNotFound:
	case res.StatusCode >= 200 && res.StatusCode <= 299:
		err = json.NewDecoder(res.Body).Decode(doc)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
	default:
		return nil, &UnexpectedStatusError{Method: http.MethodGet, StatusCode: res.StatusCode}
	}

	if doc.Pages == nil {
		doc.Pages = make(map[string]*discuss.Bucket)
	}

	return doc, nil
}

func (repo *BucketRepository) newRequest(ctx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, repo.documentURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if repo.token != "" {
		req.Header.Set("Authorization", "Bearer "+repo.token)
	}

	return req, nil
}

func closeBody(ctx context.Context, body io.ReadCloser) {
	err := body.Close()
	if err != nil {
		slog.ErrorContext(ctx, "failed to close response body", "error", err)
	}
}
