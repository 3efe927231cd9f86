package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volantir/volantir/internal/codec"
)

func TestPipelineFetch(t *testing.T) {
	var seen *http.Request
	var seenBody string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(context.Background())
		body, _ := io.ReadAll(r.Body)
		seenBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"hello":"world"}`))
	}))
	defer origin.Close()
	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	p := newPipeline(5*time.Second, testLogger(), nil)

	req := httptest.NewRequest("POST", "http://app.example.com/rest/v1/rpc/thing",
		strings.NewReader(`{"uid":"u1"}`))
	req.Header.Set("Proxy-Authorization", "Basic c2VjcmV0")
	req.Header.Set("Proxy-Connection", "keep-alive")
	req.Header.Set("X-Custom", "survives")

	resp, raw, err := p.fetch(context.Background(), req, "http", originURL.Host)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"hello":"world"}`, string(raw))

	require.NotNil(t, seen)
	assert.Equal(t, "POST", seen.Method)
	assert.Equal(t, "/rest/v1/rpc/thing", seen.URL.Path)
	assert.Equal(t, `{"uid":"u1"}`, seenBody)
	assert.Equal(t, "survives", seen.Header.Get("X-Custom"))
	// Proxy hop headers never reach the origin.
	assert.Empty(t, seen.Header.Get("Proxy-Authorization"))
	assert.Empty(t, seen.Header.Get("Proxy-Connection"))
}

// A compressed origin body must arrive at the pipeline caller still
// compressed; decoding is the interceptor's decision, not the transport's.
func TestPipelineFetchKeepsBodyCompressed(t *testing.T) {
	plaintext := []byte(`{"compressed":true}`)
	gzipped, err := codec.Encode(plaintext, codec.EncodingGzip)
	require.NoError(t, err)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(gzipped)
	}))
	defer origin.Close()
	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	p := newPipeline(5*time.Second, testLogger(), nil)
	req := httptest.NewRequest("GET", "http://app.example.com/data", nil)

	resp, raw, err := p.fetch(context.Background(), req, "http", originURL.Host)
	require.NoError(t, err)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
	assert.Equal(t, gzipped, raw)

	decoded, err := codec.Decode(raw, resp.Header.Get("Content-Encoding"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, decoded)
}

func TestPipelineFetchUnreachable(t *testing.T) {
	p := newPipeline(500*time.Millisecond, testLogger(), nil)
	req := httptest.NewRequest("GET", "http://app.example.com/", nil)

	_, _, err := p.fetch(context.Background(), req, "http", "127.0.0.1:1")
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
}
