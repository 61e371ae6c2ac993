package field

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Predicates compiles and caches the CEL expressions used as custom field
// rules. An expression sees `value` (the field's value) and `values` (the
// whole form) and must yield a bool or a string.
type Predicates struct {
	env      *cel.Env
	programs sync.Map // expr -> cel.Program
}

// NewPredicates creates a predicate compiler with the form variables declared.
func NewPredicates() (*Predicates, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("values", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("field: predicate env: %w", err)
	}
	return &Predicates{env: env}, nil
}

// Compile checks that expr parses and yields bool or string, caching the
// resulting program.
func (p *Predicates) Compile(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := p.programs.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.StringType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must yield bool or string, got %s", out)
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, err
	}
	p.programs.Store(expr, prg)
	return prg, nil
}

// Eval runs expr and reports the failure message it produced, if any. A bool
// false result yields fallback; a string result is the message itself.
func (p *Predicates) Eval(expr string, value any, values map[string]any, fallback string) (string, error) {
	prg, err := p.Compile(expr)
	if err != nil {
		return "", err
	}
	if values == nil {
		values = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{"value": value, "values": values})
	if err != nil {
		return "", err
	}
	switch v := out.Value().(type) {
	case bool:
		if v {
			return "", nil
		}
		return fallback, nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("expression yielded %T, want bool or string", v)
	}
}
