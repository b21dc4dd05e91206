package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for workly-gate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension to avoid matching the binary itself,
// which Viper's built-in SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("workly-gate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: WORKLY_GATE_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("WORKLY_GATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Bind nested keys for env var support
	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a workly-gate config file
// with an explicit YAML extension (.yaml or .yml). This prevents Viper from
// matching the binary "workly-gate" (no extension) in the current directory.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".workly-gate"),
	}
	if runtime.GOOS == "windows" {
		// %ProgramData%\workly-gate (typically C:\ProgramData\workly-gate)
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "workly-gate"))
		}
	} else {
		paths = append(paths, "/etc/workly-gate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for workly-gate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "workly-gate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds all config keys for environment variable support.
// Example: WORKLY_GATE_SERVER_HTTP_ADDR overrides server.http_addr
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.shutdown_timeout")

	// Provider config. The Supabase names used by the web app are accepted
	// as fallbacks so both can share one environment.
	_ = viper.BindEnv("provider.url", "WORKLY_GATE_PROVIDER_URL", "SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL")
	_ = viper.BindEnv("provider.anon_key", "WORKLY_GATE_PROVIDER_ANON_KEY", "SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY")
	_ = viper.BindEnv("provider.cookie_name")
	_ = viper.BindEnv("provider.cookie_secure")
	_ = viper.BindEnv("provider.expiry_margin")
	_ = viper.BindEnv("provider.timeout")
	_ = viper.BindEnv("provider.breaker.interval")
	_ = viper.BindEnv("provider.breaker.timeout")

	// Routes config
	// Note: prefix lists are arrays, complex to override via env
	// Users should use config file for these
	_ = viper.BindEnv("routes.login_path")
	_ = viper.BindEnv("routes.home_path")

	// Upstream config
	_ = viper.BindEnv("upstream.url")
	_ = viper.BindEnv("upstream.timeout")

	// Audit config
	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.retention_days")
	_ = viper.BindEnv("audit.max_file_size_mb")

	// Rate limit config
	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.backend")
	_ = viper.BindEnv("rate_limit.redis_addr")
	_ = viper.BindEnv("rate_limit.ip_rate")
	_ = viper.BindEnv("rate_limit.cleanup_interval")
	_ = viper.BindEnv("rate_limit.max_ttl")

	// Tracing config
	_ = viper.BindEnv("tracing.enabled")
	_ = viper.BindEnv("tracing.service_name")
	_ = viper.BindEnv("tracing.sample_ratio")

	// Admin policy
	_ = viper.BindEnv("admin_policy.expression")

	// Operator keys, comma separated: WORKLY_GATE_OPERATOR_KEY_HASHES="sha256:..,sha256:.."
	_ = viper.BindEnv("operator.key_hashes")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the GateConfig.
// Note: Caller should apply any CLI flag overrides (e.g. --dev), then call
// cfg.SetDevDefaults() and cfg.Validate() to complete initialization.
func LoadConfig() (*GateConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - continue with env vars only
		// This allows running with pure environment variable configuration
	}

	var cfg GateConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply default values for optional fields
	cfg.SetDefaults()

	// In dev mode, apply permissive defaults before validation
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*GateConfig, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg GateConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
