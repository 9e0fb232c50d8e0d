package predicate

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// ErrInvalidExpression is returned when a where clause cannot be compiled.
var ErrInvalidExpression = errors.New("invalid predicate expression")

// Program is a compiled attribute predicate.
type Program struct {
	expression string
	fields     []string
	program    *vm.Program
}

// Compile compiles a where clause for local evaluation.
func Compile(expression string) (*Program, error) {
	normalized, err := Normalize(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	fields, err := identifiers(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	program, err := expr.Compile(normalized,
		expr.AllowUndefinedVariables(),
		expr.Function(compareFunc, sqlCompare, new(func(string, interface{}, interface{}) bool)),
		expr.Patch(nullSafeComparisons{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	return &Program{expression: expression, fields: fields, program: program}, nil
}

// Expression returns the source where clause.
func (p *Program) Expression() string {
	return p.expression
}

// Fields returns the attribute names the predicate references.
func (p *Program) Fields() []string {
	out := make([]string, len(p.fields))
	copy(out, p.fields)
	return out
}

// Match evaluates the predicate against one feature's attributes.
// A comparison with a missing or null attribute is false, as in SQL; the rest
// of the clause is still evaluated.
func (p *Program) Match(attributes map[string]interface{}) (bool, error) {
	env := attributes
	if env == nil {
		env = map[string]interface{}{}
	}

	output, err := expr.Run(p.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.expression, err)
	}

	matched, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T, not bool", p.expression, output)
	}
	return matched, nil
}

// Fields lists the attribute names referenced by a where clause, in order of
// first appearance.
func Fields(expression string) ([]string, error) {
	normalized, err := Normalize(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	fields, err := identifiers(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return fields, nil
}

type identifierCollector struct {
	seen  map[string]bool
	names []string
}

func (c *identifierCollector) Visit(node *ast.Node) {
	if ident, ok := (*node).(*ast.IdentifierNode); ok && !c.seen[ident.Value] {
		c.seen[ident.Value] = true
		c.names = append(c.names, ident.Value)
	}
}

func identifiers(normalized string) ([]string, error) {
	tree, err := parser.Parse(normalized)
	if err != nil {
		return nil, err
	}
	collector := &identifierCollector{seen: map[string]bool{}}
	ast.Walk(&tree.Node, collector)
	return collector.names, nil
}
