package drive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeToken is an in-memory TokenSource. Renew swaps in the next token.
type fakeToken struct {
	current atomic.Value // string
	renews  atomic.Int64
	renewTo string
}

func newFakeToken(current, renewTo string) *fakeToken {
	f := &fakeToken{renewTo: renewTo}
	f.current.Store(current)

	return f
}

func (f *fakeToken) Token(_ context.Context) (string, error) {
	return f.current.Load().(string), nil
}

func (f *fakeToken) Renew(_ context.Context) error {
	f.renews.Add(1)
	f.current.Store(f.renewTo)

	return nil
}

func newTestClient(t *testing.T, token TokenSource, handler http.Handler) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(server.URL, server.Client(), token, logger)
	c.retryBase = time.Millisecond

	return c
}

func TestClient_RenewsCredentialsTransparently(t *testing.T) {
	t.Parallel()

	token := newFakeToken("stale", "fresh")

	var requests atomic.Int64

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Write([]byte(`{"value": [{"id": "D1", "driveType": "personal"}]}`))
	})

	c := newTestClient(t, token, handler)

	drives, err := c.ListDrives(context.Background())
	require.NoError(t, err)
	require.Len(t, drives, 1)
	assert.Equal(t, "d1", drives[0].ID)

	// Exactly one renewal, one re-issued request. The caller saw neither.
	assert.Equal(t, int64(1), token.renews.Load())
	assert.Equal(t, int64(2), requests.Load())
}

func TestClient_RenewalBudgetIsBounded(t *testing.T) {
	t.Parallel()

	token := newFakeToken("rejected", "rejected")

	var requests atomic.Int64

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := newTestClient(t, token, handler)

	_, err := c.ListDrives(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCredentialsExpired)
	assert.Equal(t, int64(maxTokenRenewals), token.renews.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Write([]byte(`{"value": [{"id": "i1", "name": "a.txt", "size": 3, "file": {}}]}`))
	})

	c := newTestClient(t, newFakeToken("tok", "tok"), handler)

	items, err := c.ListChildren(context.Background(), "d1", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a.txt", items[0].Name)
	assert.False(t, items[0].IsDir)
	assert.Equal(t, int64(3), requests.Load())
}

func TestClient_PermanentErrorDoesNotRetry(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Header().Set("request-id", "req-123")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": {"code": "accessDenied"}}`))
	})

	c := newTestClient(t, newFakeToken("tok", "tok"), handler)

	_, err := c.ListDrives(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int64(1), requests.Load())

	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusForbidden, remoteErr.StatusCode)
	assert.Equal(t, "req-123", remoteErr.RequestID)
}

func TestListChildren_FollowsPagination(t *testing.T) {
	t.Parallel()

	var server *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/drives/d1/root/children", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"value": [{"id": "i1", "name": "a.txt", "file": {}}],
			"@odata.nextLink": "` + server.URL + `/page2"
		}`))
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"value": [{"id": "i2", "name": "sub", "folder": {"childCount": 0}}]}`))
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(server.URL, server.Client(), newFakeToken("tok", "tok"), logger)
	c.retryBase = time.Millisecond

	items, err := c.ListChildren(context.Background(), "d1", "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.txt", items[0].Name)
	assert.Equal(t, "sub", items[1].Name)
	assert.True(t, items[1].IsDir)
}

func TestDownload_WritesThroughTempFile(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("file content"))
	})

	c := newTestClient(t, newFakeToken("tok", "tok"), handler)

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.txt")

	require.NoError(t, c.Download(context.Background(), "d1", "i1", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "file content", string(data))

	// No temp file debris left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMove_PatchesNameAndParent(t *testing.T) {
	t.Parallel()

	var (
		method   atomic.Value // string
		path     atomic.Value // string
		lastBody atomic.Value // string
	)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		path.Store(r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))

		w.Write([]byte(`{"id": "i1", "name": "renamed.txt", "size": 5, "eTag": "\"v2\"", "file": {}}`))
	})

	c := newTestClient(t, newFakeToken("tok", "tok"), handler)

	meta, err := c.Move(context.Background(), "d1", "i1", "parent2", "renamed.txt")
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", meta.Name)
	assert.Equal(t, `"v2"`, meta.ETag)

	assert.Equal(t, http.MethodPatch, method.Load())
	assert.Equal(t, "/drives/d1/items/i1", path.Load())
	assert.JSONEq(t, `{"name": "renamed.txt", "parentReference": {"id": "parent2"}}`, lastBody.Load().(string))

	// A bare rename omits the parent reference.
	_, err = c.Move(context.Background(), "d1", "i1", "", "renamed.txt")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name": "renamed.txt"}`, lastBody.Load().(string))
}

func TestUpload_ReopensBodyOnRetry(t *testing.T) {
	t.Parallel()

	var (
		requests atomic.Int64
		lastBody atomic.Value // string
	)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(string(body))

		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.Write([]byte(`{"id": "i9", "name": "up.txt", "size": 7, "file": {}}`))
	})

	c := newTestClient(t, newFakeToken("tok", "tok"), handler)

	src := filepath.Join(t.TempDir(), "up.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	meta, err := c.Upload(context.Background(), "d1", "", "up.txt", src)
	require.NoError(t, err)
	assert.Equal(t, "i9", meta.ID)

	// The retried attempt carried the full body again.
	assert.Equal(t, int64(2), requests.Load())
	assert.Equal(t, "payload", lastBody.Load().(string))
}
