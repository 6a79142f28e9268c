package themis

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/tartarus-sandbox/elysium/pkg/domain"
)

// Rule is Themis: an operator supplied CEL expression deciding whether a
// snapshot may become a boot entry.
//
// Variables available to the expression (type is a CEL builtin, so the
// snapshot type is exposed as snapshot_type):
//
//	num, pre_num, uid  int
//	snapshot_type      string (SINGLE, PRE, POST)
//	description        string
//	cleanup            string
//	userdata           map(string, string)
//	timestamp          google.protobuf.Timestamp
type Rule struct {
	expr string
	prg  cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("num", cel.IntType),
		cel.Variable("pre_num", cel.IntType),
		cel.Variable("uid", cel.IntType),
		cel.Variable("snapshot_type", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("cleanup", cel.StringType),
		cel.Variable("userdata", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("timestamp", cel.TimestampType),
	)
}

// Compile parses and type-checks expr. The expression must yield a bool.
func Compile(expr string) (*Rule, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression %q yields %s, want bool", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for %q: %w", expr, err)
	}
	return &Rule{expr: expr, prg: prg}, nil
}

func (r *Rule) String() string {
	return r.expr
}

// Allows evaluates the rule against one snapshot.
func (r *Rule) Allows(s domain.Snapshot) (bool, error) {
	userdata := s.Userdata
	if userdata == nil {
		userdata = map[string]string{}
	}

	vars := map[string]any{
		"num":           int64(s.Num),
		"pre_num":       int64(s.PreNum),
		"uid":           int64(s.UID),
		"snapshot_type": s.Type.String(),
		"description":   s.Description,
		"cleanup":       s.Cleanup,
		"userdata":      userdata,
		"timestamp":     s.Timestamp,
	}

	out, _, err := r.prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluating %q for snapshot %d: %w", r.expr, s.Num, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T", r.expr, out.Value())
	}
	return allowed, nil
}
