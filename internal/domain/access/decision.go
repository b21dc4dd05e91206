// Package access implements the gate's access decision rules.
//
// Decide is a pure function of (category, user, path): it holds no state
// between calls and performs no I/O.
package access

import (
	"net/url"
	"strings"

	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/route"
)

// Kind is the outcome of an access decision.
type Kind int

const (
	// KindAllow forwards the request downstream.
	KindAllow Kind = iota
	// KindRedirectLogin sends the client to the login page.
	KindRedirectLogin
	// KindRedirectHome sends the client to the home page.
	KindRedirectHome
)

// String returns the name used in logs, metrics and audit records.
func (k Kind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindRedirectLogin:
		return "redirect_login"
	case KindRedirectHome:
		return "redirect_home"
	default:
		return "unknown"
	}
}

// Reason is the message code attached to a redirect.
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonLoginRequired           Reason = "login_required"
	ReasonInsufficientPermissions Reason = "insufficient_permissions"
)

// Default page paths.
const (
	DefaultLoginPath = "/auth/login"
	DefaultHomePath  = "/"
)

// Decision is the result of Engine.Decide.
type Decision struct {
	Kind Kind
	// ReturnPath is set for KindRedirectLogin.
	ReturnPath string
	Reason     Reason
}

// Allowed reports whether the request may proceed downstream.
func (d Decision) Allowed() bool {
	return d.Kind == KindAllow
}

// Config configures an Engine.
type Config struct {
	// LoginPath is the login page; also the prefix of rule 3.
	LoginPath string
	// HomePath is the target of home redirects.
	HomePath string
	// AdminPolicy decides admin capability. Nil means auth.DefaultAdminPolicy.
	AdminPolicy auth.AdminPolicy
}

// Engine evaluates the ordered decision rules.
type Engine struct {
	loginPath string
	homePath  string
	admin     auth.AdminPolicy
}

// NewEngine creates an Engine, filling unset fields with defaults.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		loginPath: cfg.LoginPath,
		homePath:  cfg.HomePath,
		admin:     cfg.AdminPolicy,
	}
	if e.loginPath == "" {
		e.loginPath = DefaultLoginPath
	}
	if e.homePath == "" {
		e.homePath = DefaultHomePath
	}
	if e.admin == nil {
		e.admin = auth.DefaultAdminPolicy{}
	}
	return e
}

// Decide applies the rules in order, first match wins:
//  1. protected or admin route without a user: redirect to login
//  2. admin route, user without admin capability: redirect home
//  3. user on the login page: redirect home
//  4. allow
func (e *Engine) Decide(category route.Category, user *auth.User, path string) Decision {
	needsUser := category == route.CategoryProtected || category == route.CategoryAdmin
	if needsUser && user == nil {
		return Decision{Kind: KindRedirectLogin, ReturnPath: path, Reason: ReasonLoginRequired}
	}
	if category == route.CategoryAdmin && !auth.HasAdminCapability(user, e.admin) {
		return Decision{Kind: KindRedirectHome, Reason: ReasonInsufficientPermissions}
	}
	if user != nil && strings.HasPrefix(path, e.loginPath) {
		return Decision{Kind: KindRedirectHome}
	}
	return Decision{Kind: KindAllow}
}

// Location builds the redirect target for d. It returns "" for KindAllow.
// Query parameters are written in a fixed order (returnUrl, then message),
// so the string is assembled by hand rather than with url.Values.
func (e *Engine) Location(d Decision) string {
	switch d.Kind {
	case KindRedirectLogin:
		reason := d.Reason
		if reason == ReasonNone {
			reason = ReasonLoginRequired
		}
		return e.loginPath + querySep(e.loginPath) +
			"returnUrl=" + url.QueryEscape(d.ReturnPath) +
			"&message=" + url.QueryEscape(string(reason))
	case KindRedirectHome:
		if d.Reason == ReasonNone {
			return e.homePath
		}
		return e.homePath + querySep(e.homePath) + "message=" + url.QueryEscape(string(d.Reason))
	default:
		return ""
	}
}

// LoginPath returns the configured login page path.
func (e *Engine) LoginPath() string {
	return e.loginPath
}

func querySep(base string) string {
	if strings.Contains(base, "?") {
		return "&"
	}
	return "?"
}
