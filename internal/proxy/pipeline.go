package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// pipeline owns the outbound origin leg for both passthrough forwarding and
// intercepted exchanges. Responses are fully buffered; bodies are returned
// raw so the caller decides whether to decode.
type pipeline struct {
	client  *http.Client
	log     *slog.Logger
	metrics *relayMetrics
}

func newPipeline(timeout time.Duration, log *slog.Logger, metrics *relayMetrics) *pipeline {
	transport := &http.Transport{
		// The relay inspects Content-Encoding itself; the client's own
		// Accept-Encoding must travel to the origin untouched.
		DisableCompression:  true,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &pipeline{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects belong to the client, not the relay.
				return http.ErrUseLastResponse
			},
		},
		log:     log,
		metrics: metrics,
	}
}

// fetch replicates the client request towards the origin host and buffers
// the complete response body. The request body, when present, is forwarded
// verbatim before the response is awaited.
func (p *pipeline) fetch(ctx context.Context, req *http.Request, scheme, hostport string) (*http.Response, []byte, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.URL.Scheme = scheme
	out.URL.Host = hostport
	out.Host = hostOnly(hostport)

	// Hop-by-hop proxy headers must not leak to the origin.
	out.Header.Del("Proxy-Authorization")
	out.Header.Del("Proxy-Connection")

	resp, err := p.client.Do(out)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s %s: %v", ErrUpstreamUnreachable, req.Method, hostport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read body from %s: %v", ErrUpstreamUnreachable, hostport, err)
	}
	return resp, raw, nil
}
