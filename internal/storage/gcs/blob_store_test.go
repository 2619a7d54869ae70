package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, prefix string, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "archive", Prefix: prefix})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		name string
		body string
	)
	store := newTestStore(t, "/raw/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		name = r.URL.Query().Get("name")
		body = string(raw)
		mu.Unlock()
		require.Contains(t, r.URL.Path, "/upload/storage/v1/b/archive/o")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"bucket":"archive","name":"raw/tasks/t1/1.json"}`)
	}))

	uri, err := store.PutObject(context.Background(), "tasks/t1/1.json", "application/json",
		strings.NewReader(`{"code":200}`))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/raw/tasks/t1/1.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "raw/tasks/t1/1.json", name)
	require.Contains(t, body, `{"code":200}`)
}

func TestPutObjectReportsUploadFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, "", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "tasks/t1/1.json", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "b"})
	require.NoError(t, err)
	require.Equal(t, "tasks/t1/1.html", store.ObjectName("/tasks/t1/1.html"))
	_, err = store.PutObject(context.Background(), " ", "", strings.NewReader(""))
	require.Error(t, err)
}
