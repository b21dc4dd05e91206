// Package session defines the provider-owned session and the cookie
// contract the gate uses to relay it between request and response.
package session

import "time"

// DefaultExpiryMargin is how close to expiry an access token may get before
// the provider refreshes it.
const DefaultExpiryMargin = 90 * time.Second

// Session is the token pair issued by the Session Provider.
// The gate never persists it; it only travels in cookies.
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// ExpiresIn is the access token lifetime in seconds at issue time.
	ExpiresIn int64
	// ExpiresAt is the access token expiry in unix seconds. Zero means unknown.
	ExpiresAt int64
}

// Expiry returns ExpiresAt as a time. The zero time means unknown.
func (s *Session) Expiry() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// NeedsRefresh reports whether the access token expires within margin of
// now. A session without a known expiry never needs a refresh.
func (s *Session) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(margin).Before(s.Expiry())
}
