// Package auth contains the domain types for authenticated users and the
// admin capability check.
package auth

// Role values recognized by the admin capability check.
const (
	// RoleAdmin is the value that grants admin capability in the top-level
	// role field and in user metadata.
	RoleAdmin = "admin"
	// AppRoleSuperAdmin is the value that grants admin capability in
	// app metadata.
	AppRoleSuperAdmin = "super_admin"
)

// Metadata keys read by ExtractAdminSignals.
const (
	metadataRoleKey = "role"
	appRoleKey      = "admin_role"
)

// User is the identity reconstructed from a validated provider session.
// It lives for a single request and is never cached.
type User struct {
	// ID is the provider's user identifier.
	ID string
	// Email is the user's primary email address (may be empty).
	Email string
	// Role is the top-level role claim.
	Role string
	// RoleMetadata is the user-editable metadata object (user_metadata).
	RoleMetadata map[string]any
	// AppMetadata is the server-controlled metadata object (app_metadata).
	AppMetadata map[string]any
	// SessionID is the provider's session identifier, when the access
	// token carries one.
	SessionID string
}

// AdminSignals are the three independent claims that may assert admin status.
type AdminSignals struct {
	// Role is User.Role.
	Role string
	// MetadataRole is user_metadata.role.
	MetadataRole string
	// AppRole is app_metadata.admin_role.
	AppRole string
}

// ExtractAdminSignals normalizes the role claims of u.
// A nil user yields empty signals.
func ExtractAdminSignals(u *User) AdminSignals {
	if u == nil {
		return AdminSignals{}
	}
	return AdminSignals{
		Role:         u.Role,
		MetadataRole: stringField(u.RoleMetadata, metadataRoleKey),
		AppRole:      stringField(u.AppMetadata, appRoleKey),
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
