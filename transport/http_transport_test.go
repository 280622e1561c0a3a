package transport

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderIsCaseInsensitive(t *testing.T) {
	h := Header{}
	h.Set("x-kogase-api-key", "abc")

	assert.Equal(t, "abc", h.Get("X-Kogase-Api-Key"))
	assert.True(t, h.Has("X-KOGASE-API-KEY"))

	h.Del("X-Kogase-API-Key")
	assert.False(t, h.Has("x-kogase-api-key"))
}

func TestRequestBuilder(t *testing.T) {
	req, err := NewRequest(http.MethodPost, "/events/{id}").
		WithPathParam("id", "42").
		WithQueryParam("dry_run", "true").
		WithAuth(AuthAPIKey).
		Accepts(MediaTypeJSON).
		WithJSONBody(map[string]int{"n": 1})
	require.NoError(t, err)

	assert.Equal(t, DefaultPriority, req.Priority)
	assert.Equal(t, "42", req.PathParams["id"])
	assert.Equal(t, "true", req.QueryParams["dry_run"])
	assert.Equal(t, AuthAPIKey, req.Auth)
	assert.Equal(t, MediaTypeJSON, req.Headers.Get("accept"))
	assert.Equal(t, MediaTypeJSON, req.Headers.Get("content-type"))
	assert.JSONEq(t, `{"n":1}`, string(req.Body))
}

func TestHTTPTransportDo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Kogase-API-Key"))
		assert.Equal(t, MediaTypeJSON, r.Header.Get("Content-Type"))
		assert.Equal(t, `{"a":1}`, string(body))

		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer server.Close()

	tr, err := NewHTTPTransport(HTTPTransportConfig{})
	require.NoError(t, err)

	req := NewRequest(http.MethodPost, server.URL+"/events").WithHeader("x-kogase-api-key", "secret")
	req.Body = []byte(`{"a":1}`)

	resp, err := tr.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "3", resp.Header("Retry-After"))
	assert.Equal(t, `{"error":"slow down"}`, string(resp.Body))
	assert.False(t, resp.IsSuccess())
	assert.GreaterOrEqual(t, resp.Duration().Nanoseconds(), int64(0))
}

func TestHTTPTransportConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	tr := NewHTTPTransportWithClient(nil)
	_, err := tr.Do(context.Background(), NewRequest(http.MethodGet, url))
	assert.Error(t, err)
}

func TestLoadPKCS12CertificateMissingFile(t *testing.T) {
	_, err := LoadPKCS12Certificate("/nonexistent/client.p12", "")
	assert.Error(t, err)

	_, err = NewHTTPTransport(HTTPTransportConfig{ClientCertPath: "/nonexistent/client.p12"})
	assert.Error(t, err)
}

func TestHTTPTransportDecodesBrotli(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "br, gzip", r.Header.Get("Accept-Encoding"))

		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = bw.Write([]byte(`{"status":"ok"}`))
		_ = bw.Close()
	}))
	defer server.Close()

	tr, err := NewHTTPTransport(HTTPTransportConfig{Compression: true})
	require.NoError(t, err)

	resp, err := tr.Do(context.Background(), NewRequest(http.MethodGet, server.URL))
	require.NoError(t, err)
	assert.Equal(t, `{"status":"ok"}`, string(resp.Body))
	assert.Empty(t, resp.Header("Content-Encoding"))
}

func TestHTTPTransportDecodesGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"count":3}`))
		_ = gz.Close()
	}))
	defer server.Close()

	tr, err := NewHTTPTransport(HTTPTransportConfig{Compression: true})
	require.NoError(t, err)

	resp, err := tr.Do(context.Background(), NewRequest(http.MethodGet, server.URL))
	require.NoError(t, err)
	assert.Equal(t, `{"count":3}`, string(resp.Body))
}
