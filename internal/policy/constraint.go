package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// constraintEnv is shared across every mutation's compiled program: the
// admission variables a constraint_cel expression may reference.
var constraintEnv = func() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("identity", cel.StringType),
		cel.Variable("mutation", cel.StringType),
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("policy: constraint env: %v", err))
	}
	return env
}()

// compileConstraints compiles each mutation's optional constraint_cel
// expression once at snapshot load, so admission-time evaluation never
// pays parse/type-check cost.
func compileConstraints(doc Document) (map[string]cel.Program, error) {
	programs := make(map[string]cel.Program)
	for _, m := range doc.Mutations {
		if m.ConstraintCEL == "" {
			continue
		}
		ast, issues := constraintEnv.Compile(m.ConstraintCEL)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("policy: mutation %q constraint_cel: %w", m.Name, issues.Err())
		}
		prg, err := constraintEnv.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policy: mutation %q constraint_cel program: %w", m.Name, err)
		}
		programs[m.Name] = prg
	}
	return programs, nil
}

// EvalConstraint evaluates mutation's constraint_cel expression, if any,
// against the admission request. A mutation with no expression always
// passes.
func (s *Snapshot) EvalConstraint(identity, mutation string, payload map[string]any) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("policy: nil snapshot")
	}
	prg, ok := s.constraints[mutation]
	if !ok {
		return true, nil
	}
	out, _, err := prg.Eval(map[string]any{
		"identity": identity,
		"mutation": mutation,
		"payload":  payload,
	})
	if err != nil {
		return false, fmt.Errorf("policy: evaluate constraint for %q: %w", mutation, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: constraint for %q did not evaluate to bool", mutation)
	}
	return allowed, nil
}
