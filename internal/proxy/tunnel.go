package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/volantir/volantir/internal/codec"
)

// tunnel is one authenticated relay path between a client connection and an
// origin host. The external interception layer hands us plaintext HTTP on
// this connection; re-encryption towards the origin happens per request.
type tunnel struct {
	identity   string
	targetHost string
	conn       net.Conn
	bufrw      *bufio.ReadWriter
}

// scheme picks the outbound protocol for the origin leg. Port 443 targets
// get re-encrypted; localhost and everything else stay plain.
func (t *tunnel) scheme() string {
	host, port, err := net.SplitHostPort(t.targetHost)
	if err != nil {
		host, port = t.targetHost, ""
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "http"
	}
	if port == "" || port == "443" {
		return "https"
	}
	return "http"
}

func (s *server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.handlePlain(w, r)
}

// handleConnect is the connection gatekeeper: it authenticates the tunnel
// establishment request and, on success, serves the relayed requests inside.
func (s *server) handleConnect(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticate(r)
	if err != nil {
		s.rejectTunnel(w, r, err)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "tunneling unsupported", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		s.logger.Error("hijack failed", "error", err)
		return
	}

	if _, err := bufrw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		conn.Close()
		return
	}
	if err := bufrw.Flush(); err != nil {
		conn.Close()
		return
	}

	// The secret must never appear in logs.
	s.logger.Info("tunnel established", "identity", identity, "target", r.Host)
	s.metrics.tunnelsActive.Inc()
	s.tunnels.Add(1)
	defer func() {
		s.metrics.tunnelsActive.Dec()
		s.tunnels.Add(-1)
		conn.Close()
	}()

	t := &tunnel{
		identity:   identity,
		targetHost: r.Host,
		conn:       conn,
		bufrw:      bufrw,
	}
	s.serveTunnel(s.ctx, t)
}

func (s *server) rejectTunnel(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAuthMissing):
		s.metrics.authFailures.Inc()
		s.stats.authFailures.Add(1)
		s.logger.Warn("tunnel rejected: no credential", "remote", r.RemoteAddr)
		w.Header().Set("Proxy-Authenticate", `Basic realm="Volantir"`)
		w.Header().Set("Connection", "close")
		http.Error(w, "proxy auth required", http.StatusProxyAuthRequired)
	case errors.Is(err, ErrAuthInvalid):
		s.metrics.authFailures.Inc()
		s.stats.authFailures.Add(1)
		s.logger.Warn("tunnel rejected: invalid credential", "remote", r.RemoteAddr)
		w.Header().Set("Connection", "close")
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		s.logger.Error("tunnel rejected: internal error", "error", err)
		w.Header().Set("Connection", "close")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// serveTunnel reads plaintext requests off the tunnel until the client hangs
// up, dispatching each through the router.
func (s *server) serveTunnel(ctx context.Context, t *tunnel) {
	for {
		req, err := http.ReadRequest(t.bufrw.Reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("tunnel read ended", "identity", t.identity, "error", err)
			}
			return
		}
		if !s.dispatch(ctx, t, req) {
			return
		}
	}
}

// handlePlain serves proxy-form requests that arrive outside a CONNECT
// tunnel. A request without credentials targeting a bare IP literal is a
// relay loop and is terminated; other unauthenticated requests are forwarded
// without interception.
func (s *server) handlePlain(w http.ResponseWriter, r *http.Request) {
	identity := ""
	if id, err := s.authenticate(r); err == nil {
		identity = id
	} else if !errors.Is(err, ErrAuthMissing) {
		s.metrics.authFailures.Inc()
		s.stats.authFailures.Add(1)
		w.Header().Set("Connection", "close")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxying unsupported", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		s.logger.Error("hijack failed", "error", err)
		return
	}
	defer conn.Close()

	t := &tunnel{
		identity:   identity,
		targetHost: r.Host,
		conn:       conn,
		bufrw:      bufrw,
	}
	s.dispatch(s.ctx, t, r)
}

// dispatch routes one request inside a tunnel. The boolean reports whether
// the tunnel may continue serving requests.
func (s *server) dispatch(ctx context.Context, t *tunnel, req *http.Request) bool {
	host := req.Host
	if host == "" {
		host = t.targetHost
	}

	if !s.hostApproved(host) {
		s.metrics.hostsBlocked.Inc()
		s.stats.hostsBlocked.Add(1)
		s.logger.Warn("host not approved", "host", host, "identity", t.identity)
		return false // closed, no body
	}

	if t.identity == "" {
		if isIPLiteral(host) {
			s.logger.Warn("stopping circular request", "host", host)
			return false
		}
		return s.forward(ctx, t, req)
	}

	s.logger.Info("request", "method", req.Method, "identity", t.identity, "host", host, "path", truncatePath(req.URL.Path))

	if rt := s.matchRoute(req.URL.Path); rt != nil {
		return s.intercept(ctx, t, req, rt)
	}
	return s.forward(ctx, t, req)
}

// forward relays a request verbatim, preserving the origin's headers and
// content encoding.
func (s *server) forward(ctx context.Context, t *tunnel, req *http.Request) bool {
	resp, raw, err := s.pipeline.fetch(ctx, req, t.scheme(), originHost(t, req))
	if err != nil {
		s.metrics.originErrors.Inc()
		writeProxyError(t.bufrw, "origin fetch failed")
		return false
	}
	s.metrics.requestsForwarded.Inc()
	s.stats.forwarded.Add(1)
	return s.writeResponse(t, resp, raw, false)
}

// intercept runs one matched exchange through the rewrite pipeline: origin
// fetch, decode, handler transform, fast-path write, then the detached
// continuation.
func (s *server) intercept(ctx context.Context, t *tunnel, req *http.Request, rt *route) bool {
	exID := s.nextExchangeID()
	ctx, span := s.tracer.Start(ctx, "proxy.intercept",
		trace.WithAttributes(
			attribute.String("route", rt.name),
			attribute.String("exchange.id", exID),
		))
	defer span.End()

	log := s.logger.With("route", rt.name, "exchange", exID)

	s.metrics.requestsIntercepted.WithLabelValues(rt.name).Inc()
	s.stats.intercepted.Add(1)

	resp, raw, err := s.pipeline.fetch(ctx, req, t.scheme(), originHost(t, req))
	if err != nil {
		s.metrics.originErrors.Inc()
		log.Error("origin fetch failed", "error", err)
		writeProxyError(t.bufrw, "origin fetch failed")
		return false
	}

	decoded, decErr := codec.Decode(raw, resp.Header.Get("Content-Encoding"))
	if decErr != nil {
		// Fail open: relay the best available bytes unmodified.
		s.metrics.rewriteFallbacks.Inc()
		s.stats.rewriteFallbacks.Add(1)
		log.Error("body decode failed", "error", decErr)
		return s.writeResponse(t, resp, raw, false)
	}

	ex := &exchange{
		ID:       exID,
		Identity: t.identity,
		Request:  req,
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     decoded,
	}

	rw, err := rt.handler.rewrite(ctx, ex)
	if err != nil {
		s.metrics.rewriteFallbacks.Inc()
		s.stats.rewriteFallbacks.Add(1)
		log.Error("rewrite failed", "error", err)
		rw = nil
	}

	body := decoded
	if rw != nil && rw.Fast != nil {
		body = rw.Fast
	}
	ok := s.writeResponse(t, resp, body, true)

	// The client has its response; only now may the continuation run.
	if rw != nil && rw.Continue != nil {
		s.spawn(rt.name, exID, rw.Continue)
	}
	return ok
}

// writeResponse relays status and headers to the client. When stripEncoding
// is set the body is sent uncompressed and the encoding headers are dropped.
func (s *server) writeResponse(t *tunnel, resp *http.Response, body []byte, stripEncoding bool) bool {
	header := resp.Header.Clone()
	header.Del("Content-Length")
	header.Del("Transfer-Encoding")
	if stripEncoding {
		header.Del("Content-Encoding")
	}

	out := &http.Response{
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	if err := out.Write(t.bufrw); err != nil {
		s.logger.Debug("client write failed", "error", err)
		return false
	}
	if err := t.bufrw.Flush(); err != nil {
		return false
	}
	return true
}

func originHost(t *tunnel, req *http.Request) string {
	if req.Host != "" {
		return req.Host
	}
	return t.targetHost
}

// writeProxyError sends a synthetic bad-gateway response so a failed origin
// leg never hangs the client.
func writeProxyError(buf *bufio.ReadWriter, msg string) {
	_, _ = buf.WriteString("HTTP/1.1 502 Bad Gateway\r\nContent-Type: text/plain\r\nConnection: close\r\n\r\n")
	_, _ = buf.WriteString(msg)
	_ = buf.Flush()
}

func truncatePath(path string) string {
	if len(path) > 50 {
		return path[:50]
	}
	return path
}
