package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/entrolution/causalmem/internal/config"
	"github.com/stretchr/testify/require"
)

// flakyTransport fails the first failCount requests with a retryable-looking
// error, then delegates to the real transport.
type flakyTransport struct {
	failCount int
	calls     int
	inner     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failCount {
		return nil, errors.New("connection reset by peer")
	}
	return f.inner.RoundTrip(req)
}

func writeEmbedding(w http.ResponseWriter, dims ...float32) {
	resp := map[string]any{"data": []map[string]any{{"embedding": dims}}}
	b, _ := json.Marshal(resp)
	w.Write(b)
}

func TestEmbedBatchLegacyAuthorizationHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeEmbedding(w, 0.1, 0.2)
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", APIHeader: "Authorization", APIKey: "secret"})
	out, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.1, 0.2}}, out)
}

func TestEmbedBatchCustomHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abc", r.Header.Get("x-api-key"))
		writeEmbedding(w, 0.1)
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", APIHeader: "x-api-key", APIKey: "abc"})
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
}

func TestEmbedBatchRejectsEmptyInput(t *testing.T) {
	c := New(config.EmbeddingConfig{BaseURL: "http://unused"})
	_, err := c.EmbedBatch(context.Background(), nil)
	require.Error(t, err)
}

func TestEmbedBatchRejectsMismatchedCount(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEmbedding(w, 0.1)
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m"})
	_, err := c.EmbedBatch(context.Background(), []string{"x", "y"})
	require.Error(t, err)
}

func TestEmbedBatchPropagatesServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m"})
	_, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestEmbedBatchRetriesTransientFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEmbedding(w, 0.5)
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m"})
	c.httpClient = &http.Client{Transport: &flakyTransport{failCount: 2, inner: http.DefaultTransport}}

	out, err := c.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0.5}}, out)
}

func TestEmbedReturnsSingleVector(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEmbedding(w, 1, 2, 3)
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m"})
	out, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, out)
}
