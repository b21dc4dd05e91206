package http

import (
	"net/http"
	"strings"

	"github.com/workly/workly-gate/internal/domain/session"
)

// ResponseBuilder is the single mutation point for cookies during one gate
// pass. It implements session.CookieStore over the inbound request's cookies:
// Set and Remove update the request-side view (so later Get calls and the
// forwarded request see the new value) and replace the pending Set-Cookie
// for that name (so the response carries the latest state).
//
// A ResponseBuilder is used by one request goroutine and is not safe for
// concurrent use.
type ResponseBuilder struct {
	values  map[string]string
	order   []string
	pending map[string]*http.Cookie
	// pendingOrder keeps Set-Cookie headers in first-write order.
	pendingOrder []string
}

// NewResponseBuilder snapshots the cookies of r. The first occurrence of a
// duplicated name wins, matching browser path-specificity ordering.
func NewResponseBuilder(r *http.Request) *ResponseBuilder {
	b := &ResponseBuilder{
		values:  make(map[string]string),
		pending: make(map[string]*http.Cookie),
	}
	for _, c := range r.Cookies() {
		if _, dup := b.values[c.Name]; dup {
			continue
		}
		b.values[c.Name] = c.Value
		b.order = append(b.order, c.Name)
	}
	return b
}

// Get implements session.CookieStore.
func (b *ResponseBuilder) Get(name string) (string, bool) {
	v, ok := b.values[name]
	return v, ok
}

// Set implements session.CookieStore.
func (b *ResponseBuilder) Set(name, value string, opts session.CookieOptions) {
	if _, ok := b.values[name]; !ok {
		b.order = append(b.order, name)
	}
	b.values[name] = value
	b.queue(newCookie(name, value, opts))
}

// Remove implements session.CookieStore. The pending cookie expires the
// browser copy with the same path and domain.
func (b *ResponseBuilder) Remove(name string, opts session.CookieOptions) {
	delete(b.values, name)
	c := newCookie(name, "", opts)
	c.MaxAge = -1
	b.queue(c)
}

func (b *ResponseBuilder) queue(c *http.Cookie) {
	if _, ok := b.pending[c.Name]; !ok {
		b.pendingOrder = append(b.pendingOrder, c.Name)
	}
	b.pending[c.Name] = c
}

// Mutated reports whether any cookie was set or removed.
func (b *ResponseBuilder) Mutated() bool {
	return len(b.pending) > 0
}

// Cookies returns the pending response cookies, latest value per name.
func (b *ResponseBuilder) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(b.pendingOrder))
	for _, name := range b.pendingOrder {
		out = append(out, b.pending[name])
	}
	return out
}

// Apply adds one Set-Cookie header per pending cookie to h.
func (b *ResponseBuilder) Apply(h http.Header) {
	for _, c := range b.Cookies() {
		if v := c.String(); v != "" {
			h.Add("Set-Cookie", v)
		}
	}
}

// RequestCookieHeader renders the current request-side view as a Cookie
// header value, original order first.
func (b *ResponseBuilder) RequestCookieHeader() string {
	parts := make([]string, 0, len(b.order))
	for _, name := range b.order {
		v, ok := b.values[name]
		if !ok {
			continue
		}
		parts = append(parts, name+"="+v)
	}
	return strings.Join(parts, "; ")
}

func newCookie(name, value string, opts session.CookieOptions) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		MaxAge:   opts.MaxAge,
		Secure:   opts.Secure,
		HttpOnly: opts.HTTPOnly,
		SameSite: opts.SameSite,
	}
}

// Compile-time interface verification.
var _ session.CookieStore = (*ResponseBuilder)(nil)
