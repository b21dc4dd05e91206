package session

import "net/http"

// CookieOptions are the attributes written with a cookie.
type CookieOptions struct {
	Path     string
	Domain   string
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// CookieStore reads and writes cookies for the current request/response
// pair. Set and Remove must be visible to later Get calls.
// A missing cookie is ok=false, never an error.
type CookieStore interface {
	Get(name string) (value string, ok bool)
	Set(name, value string, opts CookieOptions)
	Remove(name string, opts CookieOptions)
}
