package application

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Policy 是预占前的业务规则，例如限购 `qty <= 5` 或者 `!sku.startsWith("PRESALE-")`。
// 表达式可以使用 order_id、sku、qty 三个变量，结果必须是 bool。
type Policy struct {
	expr    string
	program cel.Program
}

// NewPolicy 编译表达式。expr 为空时返回 nil，nil 的 Policy 放行所有请求
func NewPolicy(expr string) (*Policy, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("order_id", cel.StringType),
		cel.Variable("sku", cel.StringType),
		cel.Variable("qty", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid reservation policy %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("reservation policy %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build reservation policy: %w", err)
	}
	return &Policy{expr: expr, program: program}, nil
}

// Allow 判断一次预占是否被允许
func (p *Policy) Allow(orderID, sku string, qty int64) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.program.Eval(map[string]interface{}{
		"order_id": orderID,
		"sku":      sku,
		"qty":      qty,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate reservation policy %q: %w", p.expr, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("reservation policy %q returned %T", p.expr, out.Value())
	}
	return allowed, nil
}

func (p *Policy) String() string {
	if p == nil {
		return ""
	}
	return p.expr
}
