package verification

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Policy is a compiled boolean predicate over an aggregated declaration.
// Expressions see two variables: `declaration`, a map of field path to
// value, and `event`, a map with `type` and `trackingId`.
//
//	"mother.nid" in declaration && declaration["child.placeOfBirth"] == "HEALTH_FACILITY"
type Policy struct {
	expr string
	prg  cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("declaration", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// CompilePolicy compiles expr. An empty expression never holds.
func CompilePolicy(expr string) (*Policy, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = "false"
	}
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("expression %q must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	return &Policy{expr: expr, prg: prg}, nil
}

// Expression returns the source text.
func (p *Policy) Expression() string {
	return p.expr
}

// Holds evaluates the predicate.
func (p *Policy) Holds(eventType, trackingID string, declaration map[string]any) (bool, error) {
	if declaration == nil {
		declaration = map[string]any{}
	}
	out, _, err := p.prg.Eval(map[string]any{
		"declaration": declaration,
		"event": map[string]any{
			"type":       eventType,
			"trackingId": trackingID,
		},
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is not boolean", p.expr)
	}
	return b, nil
}
