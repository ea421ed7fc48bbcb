package s3bucket_test

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeS3 is an in-memory object store speaking the subset of the S3 REST API
// the repository uses: bucket HEAD/PUT, object GET/PUT, path style only.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	fail    bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: make(map[string]map[string][]byte)}
}

func (f *fakeS3) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fail = fail
}

func (f *fakeS3) object(bucket, name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.buckets[bucket][name]

	return data, ok
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		writeS3Error(w, http.StatusForbidden, "AccessDenied", r.URL.Path)

		return
	}

	bucket, name, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	if name == "" {
		f.serveBucket(w, r, bucket)

		return
	}

	objects, ok := f.buckets[bucket]
	if !ok {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket", r.URL.Path)

		return
	}

	switch r.Method {
	case http.MethodGet:
		data, ok := objects[name]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey", r.URL.Path)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", `"fake"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case http.MethodPut:
		data, err := readPayload(r)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody", r.URL.Path)

			return
		}

		objects[name] = data

		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)
	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed", r.URL.Path)
	}
}

func (f *fakeS3) serveBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	_, exists := f.buckets[bucket]

	switch {
	case r.Method == http.MethodGet && r.URL.Query().Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`)
	case r.Method == http.MethodHead && exists:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut:
		if !exists {
			f.buckets[bucket] = make(map[string][]byte)
		}

		w.WriteHeader(http.StatusOK)
	default:
		writeS3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed", r.URL.Path)
	}
}

// readPayload returns the object body, decoding aws-chunked uploads.
func readPayload(r *http.Request) ([]byte, error) {
	chunked := strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked")
	if !chunked {
		return io.ReadAll(r.Body)
	}

	var (
		out    bytes.Buffer
		reader = bufio.NewReader(r.Body)
	)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")

		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse chunk size: %w", err)
		}

		if size == 0 {
			return out.Bytes(), nil
		}

		_, err = io.CopyN(&out, reader, size)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk: %w", err)
		}

		_, err = reader.Discard(2)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk trailer: %w", err)
		}
	}
}

func writeS3Error(w http.ResponseWriter, status int, code, resource string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(
		w,
		`<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message>`+
			`<Resource>%s</Resource><RequestId>fake</RequestId><HostId>fake</HostId></Error>`,
		code,
		code,
		resource,
	)
}
