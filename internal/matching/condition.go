package matching

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// evalCondition runs a rule's condition expression against the request
// environment. The expression sees method, host, path and the query map,
// e.g. `method == "GET" && query.limit == "10"`.
func evalCondition(src string, req Request) (bool, error) {
	env := map[string]any{
		"method": req.Method,
		"host":   req.Host,
		"path":   req.Path,
		"query":  req.Query,
	}

	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compile condition: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition result is %T, not bool", out)
	}
	return matched, nil
}
