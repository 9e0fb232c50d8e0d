package predicate

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr/ast"
)

const compareFunc = "sqlCompare"

var comparisonOps = map[string]bool{
	"<": true, "<=": true, ">": true, ">=": true, "==": true, "!=": true,
}

// nullSafeComparisons rewrites every comparison into a sqlCompare call.
// Explicit nil comparisons (IS NULL, IS NOT NULL) are left alone.
type nullSafeComparisons struct{}

func (nullSafeComparisons) Visit(node *ast.Node) {
	bin, ok := (*node).(*ast.BinaryNode)
	if !ok || !comparisonOps[bin.Operator] {
		return
	}
	if isNilLiteral(bin.Left) || isNilLiteral(bin.Right) {
		return
	}
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: compareFunc},
		Arguments: []ast.Node{&ast.StringNode{Value: bin.Operator}, bin.Left, bin.Right},
	})
}

func isNilLiteral(n ast.Node) bool {
	_, ok := n.(*ast.NilNode)
	return ok
}

// sqlCompare(op, left, right) is false when either side is null.
func sqlCompare(params ...interface{}) (interface{}, error) {
	op, _ := params[0].(string)
	left, right := params[1], params[2]
	if left == nil || right == nil {
		return false, nil
	}

	if l, ok := toFloat(left); ok {
		if r, ok := toFloat(right); ok {
			return ordered(op, compareValues(l, r)), nil
		}
	}
	if l, ok := left.(string); ok {
		if r, ok := right.(string); ok {
			return ordered(op, compareValues(l, r)), nil
		}
	}
	if l, ok := left.(bool); ok {
		if r, ok := right.(bool); ok && (op == "==" || op == "!=") {
			return (l == r) == (op == "=="), nil
		}
	}

	switch op {
	case "==":
		return false, nil
	case "!=":
		return true, nil
	}
	return false, fmt.Errorf("cannot compare %T %s %T", left, op, right)
}

func compareValues[T float64 | string](l, r T) int {
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}

func ordered(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	case "==":
		return c == 0
	}
	return c != 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
