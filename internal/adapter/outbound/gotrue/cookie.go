package gotrue

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/workly/workly-gate/internal/domain/session"
)

const (
	// maxChunkSize is the largest cookie value written before the session
	// is split across numbered chunks.
	maxChunkSize = 3180
	// base64Prefix marks a base64url-encoded session cookie.
	base64Prefix = "base64-"
	// defaultCookieMaxAge is 400 days, the browser cap for cookie lifetime.
	defaultCookieMaxAge = 400 * 24 * 60 * 60
)

var errEmptyCookie = errors.New("empty session cookie")

// CookieNameFor derives the provider's session cookie name from its URL:
// sb-<first host label>-auth-token.
func CookieNameFor(providerURL string) (string, error) {
	u, err := url.Parse(providerURL)
	if err != nil {
		return "", fmt.Errorf("parse provider url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("provider url %q has no host", providerURL)
	}
	ref, _, _ := strings.Cut(host, ".")
	return "sb-" + ref + "-auth-token", nil
}

// DefaultCookieOptions returns the attributes the provider's browser client
// uses for session cookies.
func DefaultCookieOptions(secure bool) session.CookieOptions {
	return session.CookieOptions{
		Path:     "/",
		MaxAge:   defaultCookieMaxAge,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
		HTTPOnly: false,
	}
}

func chunkName(name string, i int) string {
	return name + "." + strconv.Itoa(i)
}

// readChunked returns the cookie value stored under name, reassembling
// name.0, name.1, ... when the unsplit cookie is absent.
func readChunked(store session.CookieStore, name string) (string, bool) {
	if v, ok := store.Get(name); ok && v != "" {
		return v, true
	}
	var b strings.Builder
	for i := 0; ; i++ {
		v, ok := store.Get(chunkName(name, i))
		if !ok {
			break
		}
		b.WriteString(v)
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// writeChunked stores value under name, splitting it when it exceeds
// maxChunkSize, and removes any cookies left over from a previous layout.
func writeChunked(store session.CookieStore, name, value string, opts session.CookieOptions) {
	chunks := splitChunks(value)
	if len(chunks) == 1 {
		store.Set(name, value, opts)
		removeChunksFrom(store, name, 0, opts)
		return
	}
	for i, c := range chunks {
		store.Set(chunkName(name, i), c, opts)
	}
	if _, ok := store.Get(name); ok {
		store.Remove(name, opts)
	}
	removeChunksFrom(store, name, len(chunks), opts)
}

// removeChunked removes the session cookie in every layout.
func removeChunked(store session.CookieStore, name string, opts session.CookieOptions) {
	if _, ok := store.Get(name); ok {
		store.Remove(name, opts)
	}
	removeChunksFrom(store, name, 0, opts)
}

func removeChunksFrom(store session.CookieStore, name string, start int, opts session.CookieOptions) {
	for i := start; ; i++ {
		n := chunkName(name, i)
		if _, ok := store.Get(n); !ok {
			return
		}
		store.Remove(n, opts)
	}
}

func splitChunks(value string) []string {
	if len(value) <= maxChunkSize {
		return []string{value}
	}
	chunks := make([]string, 0, len(value)/maxChunkSize+1)
	for len(value) > maxChunkSize {
		chunks = append(chunks, value[:maxChunkSize])
		value = value[maxChunkSize:]
	}
	if value != "" {
		chunks = append(chunks, value)
	}
	return chunks
}

// encodeSession serializes p as base64- + base64url(JSON).
func encodeSession(p *sessionPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal session: %w", err)
	}
	return base64Prefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeSession parses a session cookie value in either the base64- form or
// the legacy raw JSON form.
func decodeSession(value string) (*sessionPayload, error) {
	if value == "" {
		return nil, errEmptyCookie
	}
	raw := []byte(value)
	if enc, ok := strings.CutPrefix(value, base64Prefix); ok {
		enc = strings.TrimRight(enc, "=")
		decoded, err := base64.RawURLEncoding.DecodeString(enc)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(enc)
			if err != nil {
				return nil, fmt.Errorf("decode session cookie: %w", err)
			}
		}
		raw = decoded
	} else if unescaped, err := url.PathUnescape(value); err == nil {
		raw = []byte(unescaped)
	}

	var p sessionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse session cookie: %w", err)
	}
	return &p, nil
}
