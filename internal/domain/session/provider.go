package session

import (
	"context"
	"errors"

	"github.com/workly/workly-gate/internal/domain/auth"
)

var (
	// ErrNoSession is returned when the request carries no session cookie.
	ErrNoSession = errors.New("no session")
	// ErrInvalidSession is returned when the session cookie cannot be
	// decoded or the provider rejects its tokens.
	ErrInvalidSession = errors.New("invalid session")
	// ErrProviderUnavailable is returned on network failures, provider 5xx
	// responses, and when the circuit breaker is open.
	ErrProviderUnavailable = errors.New("session provider unavailable")
)

// Provider validates the session carried by a cookie store and returns the
// current user. It may rotate tokens by writing through cookies.
type Provider interface {
	GetCurrentUser(ctx context.Context, cookies CookieStore) (*auth.User, error)
}
