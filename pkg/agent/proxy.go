package agent

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/interceptd/interceptd/pkg/control"
	"github.com/interceptd/interceptd/pkg/snapshot"
)

// connectDialTimeout bounds the upstream dial for CONNECT tunnels.
const connectDialTimeout = 10 * time.Second

// Proxy intercepts at the wire level: point a client's HTTP proxy setting at
// it and every plain-HTTP transaction is captured, submitted, and answered
// with the decision. CONNECT requests are tunneled opaquely; terminating TLS
// requires a trusted certificate on the client, which the certificate
// collaborator handles separately.
type Proxy struct {
	client  *control.Client
	forward *http.Client
	log     *slog.Logger
	maxBody int64

	mu        sync.RWMutex
	filter    *Filter
	mockFirst bool
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithProxyFilter scopes which transactions are submitted. Out-of-scope
// traffic is still forwarded, just not captured.
func WithProxyFilter(f *Filter) ProxyOption {
	return func(p *Proxy) { p.filter = f }
}

// WithProxyLogger sets the logger.
func WithProxyLogger(log *slog.Logger) ProxyOption {
	return func(p *Proxy) {
		if log != nil {
			p.log = log
		}
	}
}

// WithProxyMaxBodySize caps the captured body size.
func WithProxyMaxBodySize(n int64) ProxyOption {
	return func(p *Proxy) {
		if n > 0 {
			p.maxBody = n
		}
	}
}

// WithProxyMockLookahead answers matching requests from the rule engine
// without contacting the upstream. Enable when the session runs in mock
// mode.
func WithProxyMockLookahead(enabled bool) ProxyOption {
	return func(p *Proxy) { p.mockFirst = enabled }
}

// NewProxy creates a forward proxy that reports to the given control client.
func NewProxy(client *control.Client, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		client: client,
		forward: &http.Client{
			// The proxy relays redirects to its client instead of chasing
			// them itself.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log:     slog.Default(),
		maxBody: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetFilter swaps the interception scope at runtime.
func (p *Proxy) SetFilter(f *Filter) {
	p.mu.Lock()
	p.filter = f
	p.mu.Unlock()
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.handleHTTP(w, r)
}

// handleHTTP captures a plain-HTTP transaction, forwards it, submits the
// pair, and writes whatever the decision says. Each connection runs in the
// server's per-request goroutine, so one paused flow never stalls another.
func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	p.mu.RLock()
	filter, mockFirst := p.filter, p.mockFirst
	p.mu.RUnlock()

	reqSnap, err := captureRequest(r, p.maxBody)
	if err != nil {
		p.log.Warn("request capture failed", "error", err)
		http.Error(w, "error reading request", http.StatusBadGateway)
		return
	}

	inScope := filter.ShouldIntercept(reqSnap.Host, reqSnap.Path)
	p.log.Debug("proxying", "method", r.Method, "host", reqSnap.Host, "path", reqSnap.Path, "intercept", inScope)

	if inScope && mockFirst {
		if md := p.client.QueryMock(r.Context(), reqSnap.Method, reqSnap.Host, reqSnap.Path, queryMap(r)); md != nil {
			dec := p.client.Submit(r.Context(), control.FlowSubmission{
				Request:   reqSnap,
				Timestamp: epochSeconds(start),
			})
			rs := &snapshot.ResponseSnapshot{
				StatusCode: md.StatusCode,
				Reason:     snapshot.StatusReason(md.StatusCode),
				Headers:    md.Headers,
				Content:    md.Content,
			}
			if dec.Response != nil {
				rs = dec.Response
			}
			writeSnapshot(w, rs)
			return
		}
	}

	resp, err := p.forwardRequest(r)
	if err != nil {
		p.log.Warn("forward failed", "host", reqSnap.Host, "error", err)
		http.Error(w, "error forwarding request: "+err.Error(), http.StatusBadGateway)
		return
	}

	respSnap, respBody, err := captureResponse(resp, p.maxBody)
	if err != nil {
		p.log.Warn("response capture failed", "error", err)
		http.Error(w, "error reading response", http.StatusBadGateway)
		return
	}

	if !inScope {
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(respBody)
		return
	}

	dec := p.client.Submit(r.Context(), control.FlowSubmission{
		Request:   reqSnap,
		Response:  &respSnap,
		Timestamp: epochSeconds(start),
		Duration:  time.Since(start).Seconds(),
	})

	if dec.Response != nil {
		writeSnapshot(w, dec.Response)
		return
	}

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

// forwardRequest relays the request to its true destination.
func (p *Proxy) forwardRequest(r *http.Request) (*http.Response, error) {
	targetURL := r.URL.String()
	if r.URL.Host == "" {
		targetURL = "http://" + r.Host + r.URL.RequestURI()
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, r.Body)
	if err != nil {
		return nil, err
	}
	copyHeaders(out.Header, r.Header)
	removeHopByHopHeaders(out.Header)
	out.Header.Set("X-Forwarded-For", r.RemoteAddr)
	out.Header.Set("X-Forwarded-Host", r.Host)

	return p.forward.Do(out)
}

// handleConnect tunnels a CONNECT request byte-for-byte. The payload is
// opaque TLS; the flow is not captured.
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if !strings.Contains(host, ":") {
		host += ":443"
	}

	upstream, err := net.DialTimeout("tcp", host, connectDialTimeout)
	if err != nil {
		p.log.Warn("connect dial failed", "host", host, "error", err)
		http.Error(w, "cannot reach "+host, http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = upstream.Close()
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		_ = upstream.Close()
		p.log.Warn("hijack failed", "error", err)
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = clientConn.Close()
		_ = upstream.Close()
		return
	}

	p.log.Debug("tunneling", "host", host)
	go transfer(upstream, clientConn)
	go transfer(clientConn, upstream)
}

func transfer(dst io.WriteCloser, src io.ReadCloser) {
	defer func() { _ = dst.Close() }()
	defer func() { _ = src.Close() }()
	_, _ = io.Copy(dst, src)
}

// writeSnapshot renders a decided response onto the proxy's client.
func writeSnapshot(w http.ResponseWriter, rs *snapshot.ResponseSnapshot) {
	for k, v := range rs.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Del("Content-Length")
	w.WriteHeader(rs.StatusCode)
	_, _ = w.Write([]byte(rs.Content))
}

// copyHeaders copies headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// removeHopByHopHeaders strips headers that must not cross the proxy.
func removeHopByHopHeaders(h http.Header) {
	for _, header := range []string{
		"Connection",
		"Keep-Alive",
		"Proxy-Authenticate",
		"Proxy-Authorization",
		"Proxy-Connection",
		"TE",
		"Trailers",
		"Transfer-Encoding",
		"Upgrade",
	} {
		h.Del(header)
	}
}
