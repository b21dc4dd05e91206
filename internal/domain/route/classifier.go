// Package route classifies request paths into access categories.
package route

import "strings"

// Category is the access class of a request path.
type Category int

const (
	// CategoryPublic needs no session.
	CategoryPublic Category = iota
	// CategoryProtected needs an authenticated user.
	CategoryProtected
	// CategoryAdmin needs a user with admin capability.
	CategoryAdmin
)

// String returns the lowercase category name used in logs, metrics and audit.
func (c Category) String() string {
	switch c {
	case CategoryPublic:
		return "public"
	case CategoryProtected:
		return "protected"
	case CategoryAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Default prefix tables of the Workly application.
var (
	DefaultProtectedPrefixes = []string{
		"/dashboard",
		"/profile",
		"/settings",
		"/tasks",
		"/projects",
		"/inbox",
		"/goals",
		"/board",
		"/admin",
		"/works",
	}
	DefaultAdminPrefixes = []string{"/admin"}
)

// Classifier maps paths to categories using two static prefix lists.
// Matching is a plain string prefix test, so "/adminx" is admin.
type Classifier struct {
	protected []string
	admin     []string
}

// NewClassifier creates a Classifier. Empty lists fall back to the defaults.
func NewClassifier(protected, admin []string) *Classifier {
	if len(protected) == 0 {
		protected = DefaultProtectedPrefixes
	}
	if len(admin) == 0 {
		admin = DefaultAdminPrefixes
	}
	return &Classifier{
		protected: append([]string(nil), protected...),
		admin:     append([]string(nil), admin...),
	}
}

// Classify returns CategoryAdmin if any admin prefix matches, else
// CategoryProtected if any protected prefix matches, else CategoryPublic.
func (c *Classifier) Classify(path string) Category {
	if hasAnyPrefix(path, c.admin) {
		return CategoryAdmin
	}
	if hasAnyPrefix(path, c.protected) {
		return CategoryProtected
	}
	return CategoryPublic
}

// ProtectedPrefixes returns a copy of the protected prefix list.
func (c *Classifier) ProtectedPrefixes() []string {
	return append([]string(nil), c.protected...)
}

// AdminPrefixes returns a copy of the admin prefix list.
func (c *Classifier) AdminPrefixes() []string {
	return append([]string(nil), c.admin...)
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
