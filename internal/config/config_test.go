package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGateConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg GateConfig
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.ShutdownTimeout != "10s" {
		t.Errorf("ShutdownTimeout = %q, want 10s", cfg.Server.ShutdownTimeout)
	}
	if !cfg.Provider.CookieSecure {
		t.Error("Provider.CookieSecure should default to true")
	}
	if cfg.Provider.ExpiryMargin != "90s" {
		t.Errorf("ExpiryMargin = %q, want 90s", cfg.Provider.ExpiryMargin)
	}
	if cfg.Provider.Breaker.MinRequests != 10 || cfg.Provider.Breaker.FailureRatio != 0.6 {
		t.Errorf("Breaker defaults = %+v", cfg.Provider.Breaker)
	}
	if cfg.Routes.LoginPath != "/auth/login" || cfg.Routes.HomePath != "/" {
		t.Errorf("Routes = %+v", cfg.Routes)
	}
	if cfg.Routes.BypassPrefixes != nil {
		t.Error("BypassPrefixes should stay nil so the path filter uses its defaults")
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("Audit.Output = %q, want %q", cfg.Audit.Output, "stdout")
	}
	if cfg.Audit.RetentionDays != 7 || cfg.Audit.MaxFileSizeMB != 100 {
		t.Errorf("Audit file defaults = %d days, %d MB", cfg.Audit.RetentionDays, cfg.Audit.MaxFileSizeMB)
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if cfg.RateLimit.Backend != "memory" {
		t.Errorf("RateLimit.Backend = %q, want memory", cfg.RateLimit.Backend)
	}
	if cfg.RateLimit.IPRate != 600 {
		t.Errorf("IPRate default = %d, want 600", cfg.RateLimit.IPRate)
	}
	if cfg.Tracing.ServiceName != "workly-gate" || cfg.Tracing.SampleRatio != 1 {
		t.Errorf("Tracing = %+v", cfg.Tracing)
	}
}

func TestGateConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := GateConfig{
		Server: ServerConfig{
			HTTPAddr: ":9090",
		},
		Provider: ProviderConfig{
			ExpiryMargin: "2m",
			Breaker:      BreakerConfig{MaxRequests: 1, FailureRatio: 0.9},
		},
		Routes: RoutesConfig{
			LoginPath: "/signin",
		},
		Audit: AuditConfig{
			Output: "file:///var/log/workly-gate",
		},
		RateLimit: RateLimitConfig{
			Backend: "redis",
			IPRate:  50,
		},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.Server.HTTPAddr)
	}
	if cfg.Provider.ExpiryMargin != "2m" {
		t.Errorf("ExpiryMargin = %q, want 2m", cfg.Provider.ExpiryMargin)
	}
	if cfg.Provider.Breaker.MaxRequests != 1 || cfg.Provider.Breaker.FailureRatio != 0.9 {
		t.Errorf("Breaker = %+v", cfg.Provider.Breaker)
	}
	if cfg.Routes.LoginPath != "/signin" {
		t.Errorf("LoginPath = %q, want /signin", cfg.Routes.LoginPath)
	}
	if cfg.Audit.Output != "file:///var/log/workly-gate" {
		t.Errorf("Audit.Output = %q", cfg.Audit.Output)
	}
	if cfg.RateLimit.Backend != "redis" || cfg.RateLimit.IPRate != 50 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestGateConfig_SetDefaults_RateLimitDurations(t *testing.T) {
	t.Parallel()

	cfg := GateConfig{}
	cfg.SetDefaults()
	if cfg.RateLimit.CleanupInterval != "5m" {
		t.Errorf("CleanupInterval default: got %q, want %q", cfg.RateLimit.CleanupInterval, "5m")
	}
	if cfg.RateLimit.MaxTTL != "1h" {
		t.Errorf("MaxTTL default: got %q, want %q", cfg.RateLimit.MaxTTL, "1h")
	}

	cfg2 := GateConfig{
		RateLimit: RateLimitConfig{
			CleanupInterval: "10m",
			MaxTTL:          "2h",
		},
	}
	cfg2.SetDefaults()
	if cfg2.RateLimit.CleanupInterval != "10m" || cfg2.RateLimit.MaxTTL != "2h" {
		t.Errorf("custom durations not preserved: %+v", cfg2.RateLimit)
	}
}

func TestGateConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := GateConfig{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Provider.URL != devProviderURL {
		t.Errorf("Provider.URL = %q, want %q", cfg.Provider.URL, devProviderURL)
	}
	if cfg.Provider.AnonKey == "" {
		t.Error("Provider.AnonKey should get the local demo key")
	}
	if cfg.Upstream.URL != devUpstream {
		t.Errorf("Upstream.URL = %q, want %q", cfg.Upstream.URL, devUpstream)
	}
	if cfg.Provider.CookieSecure {
		t.Error("dev mode should not mark cookies Secure over plain HTTP")
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("dev config should validate: %v", err)
	}
}

func TestGateConfig_SetDevDefaults_NoopWithoutDevMode(t *testing.T) {
	t.Parallel()

	var cfg GateConfig
	cfg.SetDevDefaults()
	if cfg.Provider.URL != "" || cfg.Upstream.URL != "" {
		t.Errorf("SetDevDefaults changed a non-dev config: %+v", cfg)
	}
}

func TestGateConfig_SetDevDefaults_KeepsExplicitProvider(t *testing.T) {
	t.Parallel()

	cfg := GateConfig{DevMode: true, Provider: ProviderConfig{URL: "https://abc.supabase.co", AnonKey: "k"}}
	cfg.SetDevDefaults()
	if cfg.Provider.URL != "https://abc.supabase.co" || cfg.Provider.AnonKey != "k" {
		t.Errorf("explicit provider overwritten: %+v", cfg.Provider)
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "workly-gate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "workly-gate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "workly-gate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_SearchOrder(t *testing.T) {
	t.Parallel()
	first := t.TempDir()
	second := t.TempDir()
	ymlPath := filepath.Join(first, "workly-gate.yml")
	_ = os.WriteFile(ymlPath, []byte("dev_mode: true\n"), 0644)
	_ = os.WriteFile(filepath.Join(second, "workly-gate.yaml"), []byte("dev_mode: true\n"), 0644)

	got := findConfigFileInPaths([]string{first, second})
	if got != ymlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (first directory wins)", got, ymlPath)
	}
}
