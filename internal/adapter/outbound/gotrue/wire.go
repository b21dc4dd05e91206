package gotrue

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/session"
)

// sessionPayload is the JSON session stored in the cookie and returned by
// the token endpoint.
type sessionPayload struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type,omitempty"`
	ExpiresIn    int64        `json:"expires_in,omitempty"`
	ExpiresAt    int64        `json:"expires_at,omitempty"`
	RefreshToken string       `json:"refresh_token"`
	User         *userPayload `json:"user,omitempty"`
}

func (p *sessionPayload) toSession() *session.Session {
	return &session.Session{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
		ExpiresAt:    p.ExpiresAt,
	}
}

type userPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
}

func (u *userPayload) toUser() *auth.User {
	return &auth.User{
		ID:           u.ID,
		Email:        u.Email,
		Role:         u.Role,
		RoleMetadata: u.UserMetadata,
		AppMetadata:  u.AppMetadata,
	}
}

// errorPayload covers both GoTrue error shapes.
type errorPayload struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e *errorPayload) String() string {
	parts := make([]string, 0, 2)
	for _, s := range []string{e.Error, e.ErrorDescription, e.Msg, e.Message} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ": ")
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

var errNoExpiry = errors.New("access token has no exp claim")

// tokenClaims parses the access token without verifying its signature.
// The provider verifies it on every /user call.
func tokenClaims(token string) (jwt.MapClaims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}
	return claims, nil
}

// tokenExpiry returns the exp claim of token in unix seconds.
func tokenExpiry(token string) (int64, error) {
	claims, err := tokenClaims(token)
	if err != nil {
		return 0, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return 0, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return 0, errNoExpiry
	}
	return exp.Unix(), nil
}

// tokenSessionID returns the session_id claim, or "" when absent.
func tokenSessionID(token string) string {
	claims, err := tokenClaims(token)
	if err != nil {
		return ""
	}
	id, _ := claims["session_id"].(string)
	return id
}
