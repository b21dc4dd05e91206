package auth

// AdminPolicy decides whether a set of admin signals grants admin capability.
type AdminPolicy interface {
	IsAdmin(signals AdminSignals) bool
}

// DefaultAdminPolicy grants admin capability when any of the three signals
// asserts it.
type DefaultAdminPolicy struct{}

// IsAdmin implements AdminPolicy.
func (DefaultAdminPolicy) IsAdmin(s AdminSignals) bool {
	return s.Role == RoleAdmin ||
		s.MetadataRole == RoleAdmin ||
		s.AppRole == AppRoleSuperAdmin
}

// HasAdminCapability reports whether u is an admin under policy.
// A nil policy means DefaultAdminPolicy. A nil user is never an admin.
func HasAdminCapability(u *User, policy AdminPolicy) bool {
	if u == nil {
		return false
	}
	if policy == nil {
		policy = DefaultAdminPolicy{}
	}
	return policy.IsAdmin(ExtractAdminSignals(u))
}

// Compile-time interface verification.
var _ AdminPolicy = DefaultAdminPolicy{}
