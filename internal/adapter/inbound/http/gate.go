package http

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/workly/workly-gate/internal/ctxkey"
	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/route"
	"github.com/workly/workly-gate/internal/service"
)

// Identity headers set on requests forwarded downstream. Client-supplied
// copies are always removed first.
const (
	HeaderUserID    = "X-Workly-User-Id"
	HeaderUserEmail = "X-Workly-User-Email"
)

// Gate is the route-protection middleware. For every request outside the
// bypass list it resolves the session, decides, and either forwards the
// request or redirects. Cookies rotated by the session provider are written
// to the response in both cases.
type Gate struct {
	access *service.AccessService
	filter *route.PathFilter
}

// NewGate creates a Gate. A nil filter bypasses nothing.
func NewGate(access *service.AccessService, filter *route.PathFilter) *Gate {
	if filter == nil {
		filter = route.NewPathFilter([]string{})
	}
	return &Gate{access: access, filter: filter}
}

// Handler wraps next with the gate. Paths with dot segments or repeated
// slashes are redirected to their canonical form before anything else, so
// classification always sees the path the application will route on.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderUserEmail)

		if canonical := cleanPath(r.URL.Path); canonical != r.URL.Path {
			u := url.URL{Path: canonical, RawQuery: r.URL.RawQuery}
			w.Header().Set("Location", u.String())
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusPermanentRedirect)
			return
		}

		if g.filter.Bypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		builder := NewResponseBuilder(r)
		out := g.access.Evaluate(ctx, service.AccessRequest{
			RequestID: RequestIDFromContext(ctx),
			Method:    r.Method,
			Path:      r.URL.Path,
			SourceIP:  ClientIPFromContext(ctx),
			UserAgent: r.UserAgent(),
			Received:  time.Now(),
		}, builder)

		builder.Apply(w.Header())

		if !out.Decision.Allowed() {
			w.Header().Set("Location", out.Location)
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusFound)
			return
		}

		if out.User != nil {
			ctx = context.WithValue(ctx, ctxkey.UserKey{}, out.User)
		}
		fwd := r.WithContext(ctx)
		if builder.Mutated() {
			fwd = fwd.Clone(ctx)
			if h := builder.RequestCookieHeader(); h != "" {
				fwd.Header.Set("Cookie", h)
			} else {
				fwd.Header.Del("Cookie")
			}
		}
		if out.User != nil {
			fwd.Header.Set(HeaderUserID, out.User.ID)
			if out.User.Email != "" {
				fwd.Header.Set(HeaderUserEmail, out.User.Email)
			}
		}
		next.ServeHTTP(w, fwd)
	})
}

// cleanPath returns the canonical form of p, keeping a trailing slash.
// It matches the cleaning net/http.ServeMux applies before routing.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	np := path.Clean(p)
	if p[len(p)-1] == '/' && np != "/" {
		np += "/"
	}
	return np
}

// UserFromContext returns the user resolved by the gate, if any.
func UserFromContext(ctx context.Context) (*auth.User, bool) {
	u, ok := ctx.Value(ctxkey.UserKey{}).(*auth.User)
	return u, ok && u != nil
}
