// Package cel lets operators replace the default admin capability check
// with a CEL expression over the user's admin signals.
package cel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/workly/workly-gate/internal/domain/auth"
)

const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50
	maxCostBudget       = 10_000
	evalTimeout         = 100 * time.Millisecond
	interruptCheckFreq  = 100
)

// Variables available to admin policy expressions.
const (
	VarRole         = "role"
	VarMetadataRole = "metadata_role"
	VarAppRole      = "app_role"
)

// AdminPolicy is an auth.AdminPolicy backed by a compiled CEL program.
// Evaluation errors deny admin capability.
type AdminPolicy struct {
	expression string
	program    cel.Program
	logger     *slog.Logger
}

// NewEnvironment returns the CEL environment for admin policy expressions.
func NewEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(VarRole, cel.StringType),
		cel.Variable(VarMetadataRole, cel.StringType),
		cel.Variable(VarAppRole, cel.StringType),
	)
}

// NewAdminPolicy validates and compiles expression.
func NewAdminPolicy(expression string, logger *slog.Logger) (*AdminPolicy, error) {
	if err := validateShape(expression); err != nil {
		return nil, err
	}
	env, err := NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create admin policy environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid admin policy expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("admin policy expression must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build admin policy program: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminPolicy{expression: expression, program: prg, logger: logger}, nil
}

// Expression returns the source expression.
func (p *AdminPolicy) Expression() string {
	return p.expression
}

// IsAdmin implements auth.AdminPolicy.
func (p *AdminPolicy) IsAdmin(s auth.AdminSignals) bool {
	ok, err := p.Evaluate(s)
	if err != nil {
		p.logger.Warn("admin policy evaluation failed", "error", err)
		return false
	}
	return ok
}

// Evaluate runs the program against s.
func (p *AdminPolicy) Evaluate(s auth.AdminSignals) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	out, _, err := p.program.ContextEval(ctx, map[string]any{
		VarRole:         s.Role,
		VarMetadataRole: s.MetadataRole,
		VarAppRole:      s.AppRole,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate admin policy: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("admin policy returned %T, want bool", out.Value())
	}
	return b, nil
}

func validateShape(expr string) error {
	if expr == "" {
		return errors.New("admin policy expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("admin policy expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			maxDepth = max(maxDepth, depth)
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("admin policy expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// Compile-time interface verification.
var _ auth.AdminPolicy = (*AdminPolicy)(nil)
