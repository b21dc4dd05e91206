// Package upstream forwards allowed requests to the downstream Workly
// application.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds a downstream round-trip.
const DefaultTimeout = 30 * time.Second

// hopByHopHeaders are connection-scoped and never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ReverseProxy forwards requests to a single downstream base URL.
type ReverseProxy struct {
	target *url.URL
	client *http.Client
	logger *slog.Logger
}

// Option configures a ReverseProxy.
type Option func(*ReverseProxy)

// WithTimeout sets the downstream round-trip timeout.
func WithTimeout(d time.Duration) Option {
	return func(rp *ReverseProxy) {
		if d > 0 {
			rp.client.Timeout = d
		}
	}
}

// WithTransport replaces the HTTP transport, for tests.
func WithTransport(t http.RoundTripper) Option {
	return func(rp *ReverseProxy) { rp.client.Transport = t }
}

// NewReverseProxy creates a proxy to rawURL.
func NewReverseProxy(rawURL string, logger *slog.Logger, opts ...Option) (*ReverseProxy, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be an absolute http(s) url", rawURL)
	}
	rp := &ReverseProxy{
		target: u,
		client: &http.Client{
			Timeout: DefaultTimeout,
			// Redirects belong to the browser.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(rp)
	}
	return rp, nil
}

// Target returns the downstream base URL.
func (rp *ReverseProxy) Target() string {
	return rp.target.String()
}

// ServeHTTP forwards r and copies the downstream response back to w.
// Headers already set on w (such as refreshed session cookies) are kept.
func (rp *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upstreamURL := rp.buildURL(r.URL)

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, r.Body)
	if err != nil {
		rp.logger.Error("failed to create upstream request", "error", err, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "failed to create upstream request")
		return
	}
	outReq.ContentLength = r.ContentLength
	outReq.Header = r.Header.Clone()
	removeHopByHop(outReq.Header)
	setForwardedHeaders(outReq.Header, r)

	resp, err := rp.client.Do(outReq)
	if err != nil {
		if errors.Is(r.Context().Err(), context.Canceled) {
			rp.logger.Debug("client went away before upstream responded", "url", upstreamURL)
			return
		}
		rp.logger.Error("upstream error", "error", err, "url", upstreamURL)
		writeJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	removeHopByHop(resp.Header)
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if err := copyBody(w, resp); err != nil {
		rp.logger.Debug("error copying upstream response body", "error", err)
	}
}

func (rp *ReverseProxy) buildURL(in *url.URL) string {
	path := strings.TrimRight(rp.target.Path, "/") + in.EscapedPath()
	if path == "" {
		path = "/"
	}
	out := rp.target.Scheme + "://" + rp.target.Host + path
	if in.RawQuery != "" {
		out += "?" + in.RawQuery
	}
	return out
}

func removeHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func setForwardedHeaders(h http.Header, r *http.Request) {
	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientIP = r.RemoteAddr
	}
	if prior := h.Get("X-Forwarded-For"); prior != "" {
		h.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		h.Set("X-Forwarded-For", clientIP)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	h.Set("X-Forwarded-Proto", scheme)
	h.Set("X-Forwarded-Host", r.Host)
}

// copyBody streams the body, flushing after each read for responses of
// unknown length so streamed pages render progressively.
func copyBody(w http.ResponseWriter, resp *http.Response) error {
	if resp.ContentLength >= 0 && !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		_, err := io.Copy(w, resp.Body)
		return err
	}
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			_ = rc.Flush()
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "gateway_error",
		"message": message,
	})
}
