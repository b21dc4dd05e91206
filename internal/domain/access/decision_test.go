package access

import (
	"net/url"
	"testing"

	"github.com/workly/workly-gate/internal/domain/auth"
	"github.com/workly/workly-gate/internal/domain/route"
)

var (
	plainUser    = &auth.User{ID: "u1", Email: "u1@example.com", Role: "authenticated"}
	roleAdmin    = &auth.User{ID: "a1", Role: "admin"}
	metaAdmin    = &auth.User{ID: "a2", RoleMetadata: map[string]any{"role": "admin"}}
	appSuperUser = &auth.User{ID: "a3", AppMetadata: map[string]any{"admin_role": "super_admin"}}
)

func TestEngine_Decide(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{})

	tests := []struct {
		name     string
		category route.Category
		user     *auth.User
		path     string
		want     Decision
	}{
		{"public anonymous", route.CategoryPublic, nil, "/", Decision{Kind: KindAllow}},
		{"public user", route.CategoryPublic, plainUser, "/about", Decision{Kind: KindAllow}},
		{"protected anonymous", route.CategoryProtected, nil, "/profile",
			Decision{Kind: KindRedirectLogin, ReturnPath: "/profile", Reason: ReasonLoginRequired}},
		{"protected user", route.CategoryProtected, plainUser, "/dashboard", Decision{Kind: KindAllow}},
		{"admin anonymous", route.CategoryAdmin, nil, "/admin",
			Decision{Kind: KindRedirectLogin, ReturnPath: "/admin", Reason: ReasonLoginRequired}},
		{"admin plain user", route.CategoryAdmin, plainUser, "/admin/users",
			Decision{Kind: KindRedirectHome, Reason: ReasonInsufficientPermissions}},
		{"admin via role", route.CategoryAdmin, roleAdmin, "/admin", Decision{Kind: KindAllow}},
		{"admin via metadata", route.CategoryAdmin, metaAdmin, "/admin", Decision{Kind: KindAllow}},
		{"admin via app super_admin", route.CategoryAdmin, appSuperUser, "/admin", Decision{Kind: KindAllow}},
		{"login page with user", route.CategoryPublic, plainUser, "/auth/login", Decision{Kind: KindRedirectHome}},
		{"login subpath with user", route.CategoryPublic, plainUser, "/auth/login/magic", Decision{Kind: KindRedirectHome}},
		{"login page anonymous", route.CategoryPublic, nil, "/auth/login", Decision{Kind: KindAllow}},
		{"signup page with user", route.CategoryPublic, plainUser, "/auth/signup", Decision{Kind: KindAllow}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Decide(tt.category, tt.user, tt.path)
			if got != tt.want {
				t.Errorf("Decide() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// Every protected or admin path without a user redirects to login, and the
// returnUrl round-trips to the original path.
func TestEngine_AnonymousProtectedRedirectsToLogin(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{})
	c := route.NewClassifier(nil, nil)
	paths := []string{"/dashboard", "/profile", "/settings/a b", "/tasks/1?x", "/admin/ü", "/works/%2F"}

	for _, p := range paths {
		d := e.Decide(c.Classify(p), nil, p)
		if d.Kind != KindRedirectLogin {
			t.Fatalf("Decide(%q).Kind = %v, want redirect_login", p, d.Kind)
		}
		loc, err := url.Parse(e.Location(d))
		if err != nil {
			t.Fatalf("Location(%q) does not parse: %v", p, err)
		}
		if loc.Path != DefaultLoginPath {
			t.Errorf("Location path = %q, want %q", loc.Path, DefaultLoginPath)
		}
		if got := loc.Query().Get("returnUrl"); got != p {
			t.Errorf("returnUrl = %q, want %q", got, p)
		}
		if got := loc.Query().Get("message"); got != "login_required" {
			t.Errorf("message = %q, want login_required", got)
		}
	}
}

// No authenticated user is ever sent to login.
func TestEngine_UserNeverRedirectedToLogin(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{})
	users := []*auth.User{plainUser, roleAdmin, metaAdmin, appSuperUser}
	categories := []route.Category{route.CategoryPublic, route.CategoryProtected, route.CategoryAdmin}
	paths := []string{"/", "/dashboard", "/admin", "/auth/login"}

	for _, u := range users {
		for _, c := range categories {
			for _, p := range paths {
				if d := e.Decide(c, u, p); d.Kind == KindRedirectLogin {
					t.Errorf("Decide(%v, %s, %q) redirected to login", c, u.ID, p)
				}
			}
		}
	}
}

// Public paths other than the login page are always allowed.
func TestEngine_PublicAlwaysAllowed(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{})
	for _, u := range []*auth.User{nil, plainUser, roleAdmin} {
		for _, p := range []string{"/", "/pricing", "/auth/signup", "/blog/x"} {
			if d := e.Decide(route.CategoryPublic, u, p); !d.Allowed() {
				t.Errorf("Decide(public, %v, %q) = %v, want allow", u, p, d.Kind)
			}
		}
	}
}

func TestEngine_Location(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{})

	tests := []struct {
		name string
		d    Decision
		want string
	}{
		{"login", Decision{Kind: KindRedirectLogin, ReturnPath: "/profile", Reason: ReasonLoginRequired},
			"/auth/login?returnUrl=%2Fprofile&message=login_required"},
		{"login nested path", Decision{Kind: KindRedirectLogin, ReturnPath: "/tasks/12", Reason: ReasonLoginRequired},
			"/auth/login?returnUrl=%2Ftasks%2F12&message=login_required"},
		{"login default reason", Decision{Kind: KindRedirectLogin, ReturnPath: "/admin"},
			"/auth/login?returnUrl=%2Fadmin&message=login_required"},
		{"insufficient permissions", Decision{Kind: KindRedirectHome, Reason: ReasonInsufficientPermissions},
			"/?message=insufficient_permissions"},
		{"home", Decision{Kind: KindRedirectHome}, "/"},
		{"allow", Decision{Kind: KindAllow}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Location(tt.d); got != tt.want {
				t.Errorf("Location() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngine_CustomPaths(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{LoginPath: "/signin", HomePath: "/app?tab=home"})
	if got := e.Location(Decision{Kind: KindRedirectLogin, ReturnPath: "/x"}); got != "/signin?returnUrl=%2Fx&message=login_required" {
		t.Errorf("login Location() = %q", got)
	}
	if got := e.Location(Decision{Kind: KindRedirectHome, Reason: ReasonInsufficientPermissions}); got != "/app?tab=home&message=insufficient_permissions" {
		t.Errorf("home Location() = %q", got)
	}
	if d := e.Decide(route.CategoryPublic, plainUser, "/signin"); d.Kind != KindRedirectHome {
		t.Errorf("custom login path should redirect users home, got %v", d.Kind)
	}
}

type noAdmins struct{}

func (noAdmins) IsAdmin(auth.AdminSignals) bool { return false }

func TestEngine_AdminPolicyOverride(t *testing.T) {
	t.Parallel()

	e := NewEngine(Config{AdminPolicy: noAdmins{}})
	d := e.Decide(route.CategoryAdmin, roleAdmin, "/admin")
	if d.Kind != KindRedirectHome || d.Reason != ReasonInsufficientPermissions {
		t.Errorf("Decide() = %+v, want insufficient_permissions", d)
	}
}

// Repeated calls with the same inputs give the same decision and redirect
// target, with both the default admin rule and an overriding policy.
func TestEngine_DecideIsIdempotent(t *testing.T) {
	t.Parallel()

	engines := map[string]*Engine{
		"default":  NewEngine(Config{}),
		"override": NewEngine(Config{AdminPolicy: noAdmins{}}),
		"custom":   NewEngine(Config{LoginPath: "/signin", HomePath: "/home?tab=1"}),
	}
	inputs := []struct {
		category route.Category
		user     *auth.User
		path     string
	}{
		{route.CategoryPublic, nil, "/"},
		{route.CategoryPublic, plainUser, "/auth/login"},
		{route.CategoryPublic, plainUser, "/signin"},
		{route.CategoryProtected, nil, "/profile?tab=a&b=c"},
		{route.CategoryProtected, plainUser, "/dashboard"},
		{route.CategoryAdmin, nil, "/admin"},
		{route.CategoryAdmin, plainUser, "/admin/users"},
		{route.CategoryAdmin, roleAdmin, "/admin"},
		{route.CategoryAdmin, metaAdmin, "/admin"},
		{route.CategoryAdmin, appSuperUser, "/admin/settings"},
	}

	for name, e := range engines {
		for _, in := range inputs {
			first := e.Decide(in.category, in.user, in.path)
			second := e.Decide(in.category, in.user, in.path)
			if first != second {
				t.Errorf("%s: Decide(%v, %v, %q) = %+v then %+v", name, in.category, in.user, in.path, first, second)
			}
			if l1, l2 := e.Location(first), e.Location(second); l1 != l2 {
				t.Errorf("%s: Location for %q = %q then %q", name, in.path, l1, l2)
			}
		}
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	for k, want := range map[Kind]string{
		KindAllow:         "allow",
		KindRedirectLogin: "redirect_login",
		KindRedirectHome:  "redirect_home",
		Kind(9):           "unknown",
	} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
