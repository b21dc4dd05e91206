package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/workly/workly-gate/internal/domain/auth"
)

// RegisterCustomValidators registers gate-specific validation rules.
// Must be called before validating GateConfig.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		// audit_output: "stdout", "file://<absolute-path>" or "sqlite://<absolute-path>"
		"audit_output": validateAuditOutput,
		// path_prefix: an absolute URL path such as "/dashboard"
		"path_prefix": validatePathPrefix,
		// duration: a time.ParseDuration string such as "30s"
		"duration": validateDuration,
		// key_hash: "sha256:<hex>" or an argon2id PHC string
		"key_hash": validateKeyHash,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAuditOutput validates the audit output field.
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	if output == "stdout" {
		return true
	}

	for _, scheme := range []string{"file://", "sqlite://"} {
		if path, ok := strings.CutPrefix(output, scheme); ok {
			return path != "" && filepath.IsAbs(path)
		}
	}

	return false
}

func validatePathPrefix(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") &&
		!strings.ContainsAny(p, "?# \t\r\n")
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateKeyHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != auth.HashTypeUnknown
}

// Validate validates the GateConfig using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *GateConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateRateLimitBackend(); err != nil {
		return err
	}

	if err := c.validateAdminPrefixes(); err != nil {
		return err
	}

	return nil
}

// validateRateLimitBackend ensures the redis backend has an address.
func (c *GateConfig) validateRateLimitBackend() error {
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.RateLimit.RedisAddr == "" {
		return errors.New("rate_limit: redis_addr is required when backend is redis")
	}
	return nil
}

// validateAdminPrefixes ensures every admin prefix is also protected, so an
// anonymous request to an admin route goes to login rather than home.
// Both lists empty means the built-in table, which already satisfies this.
func (c *GateConfig) validateAdminPrefixes() error {
	if len(c.Routes.AdminPrefixes) == 0 || len(c.Routes.ProtectedPrefixes) == 0 {
		return nil
	}
	for i, admin := range c.Routes.AdminPrefixes {
		covered := false
		for _, p := range c.Routes.ProtectedPrefixes {
			if strings.HasPrefix(admin, p) {
				covered = true
				break
			}
		}
		if !covered {
			return fmt.Errorf("routes.admin_prefixes[%d]: %s is not covered by any protected prefix", i, admin)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s is out of range (%s %s)", field, tag, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'file://<absolute-dir>' or 'sqlite://<absolute-path>'", field)
	case "path_prefix":
		return fmt.Sprintf("%s must be an absolute path starting with '/' and without query or fragment", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as '30s' or '5m'", field)
	case "key_hash":
		return fmt.Sprintf("%s must be 'sha256:<hex>' or an argon2id hash (see workly-gate hash-key)", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
