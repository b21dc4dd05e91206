package auth

import "testing"

func TestExtractAdminSignals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user *User
		want AdminSignals
	}{
		{"nil user", nil, AdminSignals{}},
		{"empty user", &User{ID: "u1"}, AdminSignals{}},
		{
			"all fields",
			&User{
				Role:         "admin",
				RoleMetadata: map[string]any{"role": "editor"},
				AppMetadata:  map[string]any{"admin_role": "super_admin"},
			},
			AdminSignals{Role: "admin", MetadataRole: "editor", AppRole: "super_admin"},
		},
		{
			"non-string metadata ignored",
			&User{
				RoleMetadata: map[string]any{"role": 42},
				AppMetadata:  map[string]any{"admin_role": true},
			},
			AdminSignals{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAdminSignals(tt.user)
			if got != tt.want {
				t.Errorf("ExtractAdminSignals() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHasAdminCapability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user *User
		want bool
	}{
		{"nil user", nil, false},
		{"top-level admin role", &User{ID: "u", Role: "admin"}, true},
		{"metadata admin role", &User{ID: "u", RoleMetadata: map[string]any{"role": "admin"}}, true},
		{"app super_admin only", &User{ID: "u", AppMetadata: map[string]any{"admin_role": "super_admin"}}, true},
		{"plain user", &User{ID: "u", Role: "user"}, false},
		{"authenticated role", &User{ID: "u", Role: "authenticated"}, false},
		{"app admin_role admin is not enough", &User{ID: "u", AppMetadata: map[string]any{"admin_role": "admin"}}, false},
		{"metadata super_admin is not enough", &User{ID: "u", RoleMetadata: map[string]any{"role": "super_admin"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasAdminCapability(tt.user, nil); got != tt.want {
				t.Errorf("HasAdminCapability() = %v, want %v", got, tt.want)
			}
		})
	}
}

type denyAll struct{}

func (denyAll) IsAdmin(AdminSignals) bool { return false }

func TestHasAdminCapability_CustomPolicy(t *testing.T) {
	t.Parallel()

	u := &User{ID: "u", Role: "admin"}
	if HasAdminCapability(u, denyAll{}) {
		t.Error("custom policy should override the default disjunction")
	}
}
