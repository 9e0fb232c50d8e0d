// Package template renders popup text from feature attributes.
// Variables use {{Field}} syntax with optional pipe modifiers:
//
//	{{GlacierName | default: "Unnamed"}}
//	{{AlbedoMean | places: 3}}
//	{{AlbedoMean | places: 3 | default: "n/a"}}
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
)

// Template syntax constants
const (
	TemplatePrefix = "{{"
	TemplateSuffix = "}}"
	ModifierSep    = "|"
)

// Syntax errors
var (
	ErrInvalidSyntax    = errors.New("invalid template syntax")
	ErrEmptyVariable    = errors.New("empty variable path")
	ErrUnknownModifier  = errors.New("unknown template modifier")
	ErrInvalidModifier  = errors.New("invalid modifier argument")
	ErrUnbalancedBraces = errors.New("unmatched template delimiters")
)

// templateVarRegex matches {{ ... }} blocks; modifiers are parsed separately.
var templateVarRegex = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

var emptyBracesRegex = regexp.MustCompile(`\{\{\s*\}\}`)

// Variable is one parsed template variable.
type Variable struct {
	FullMatch    string
	Path         string
	DefaultValue string
	HasDefault   bool
	// Places is the number of decimals for numeric values; -1 leaves them as is.
	Places int
}

// Evaluator renders templates against attribute maps. Parsed templates are
// cached; an Evaluator is safe for concurrent use.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string][]Variable
}

// NewEvaluator creates a new template evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string][]Variable)}
}

// HasVariables checks if a string contains template variables.
func HasVariables(s string) bool {
	return strings.Contains(s, TemplatePrefix) && strings.Contains(s, TemplateSuffix)
}

// ParseVariables extracts the variables of a template. Malformed modifiers
// are dropped; use ValidateSyntax to report them.
func (e *Evaluator) ParseVariables(template string) []Variable {
	e.mu.RLock()
	cached, ok := e.cache[template]
	e.mu.RUnlock()
	if ok {
		return cached
	}

	matches := templateVarRegex.FindAllStringSubmatch(template, -1)
	variables := make([]Variable, 0, len(matches))
	for _, match := range matches {
		v, err := parseVariable(match[0], match[1])
		if err != nil && v.Path == "" {
			continue
		}
		variables = append(variables, v)
	}

	e.mu.Lock()
	e.cache[template] = variables
	e.mu.Unlock()
	return variables
}

func parseVariable(full, inner string) (Variable, error) {
	parts := strings.Split(inner, ModifierSep)
	v := Variable{FullMatch: full, Path: strings.TrimSpace(parts[0]), Places: -1}
	if v.Path == "" {
		return v, ErrEmptyVariable
	}

	for _, raw := range parts[1:] {
		name, arg, found := strings.Cut(strings.TrimSpace(raw), ":")
		if !found {
			return v, fmt.Errorf("%w: %q", ErrUnknownModifier, strings.TrimSpace(raw))
		}
		arg = strings.TrimSpace(arg)
		switch strings.TrimSpace(name) {
		case "default":
			unquoted, err := strconv.Unquote(arg)
			if err != nil {
				return v, fmt.Errorf("%w: default expects a quoted string, got %s", ErrInvalidModifier, arg)
			}
			v.DefaultValue = unquoted
			v.HasDefault = true
		case "places":
			n, err := strconv.Atoi(arg)
			if err != nil || n < 0 {
				return v, fmt.Errorf("%w: places expects a non-negative integer, got %s", ErrInvalidModifier, arg)
			}
			v.Places = n
		default:
			return v, fmt.Errorf("%w: %q", ErrUnknownModifier, strings.TrimSpace(name))
		}
	}
	return v, nil
}

// Evaluate replaces every variable with the attribute value. Missing or null
// attributes render as the default, or as "" when none is given.
func (e *Evaluator) Evaluate(template string, attributes map[string]interface{}) string {
	if !HasVariables(template) {
		return template
	}

	result := template
	for _, v := range e.ParseVariables(template) {
		result = strings.Replace(result, v.FullMatch, e.resolveVariable(v, attributes), 1)
	}
	return result
}

func (e *Evaluator) resolveVariable(v Variable, attributes map[string]interface{}) string {
	value, found := GetValue(attributes, v.Path)
	if !found || value == nil {
		if v.HasDefault {
			return v.DefaultValue
		}
		logger.Debug("template variable missing, using empty string", "field", v.Path)
		return ""
	}
	if v.Places >= 0 {
		if f, ok := toFloat(value); ok {
			return strconv.FormatFloat(f, 'f', v.Places, 64)
		}
	}
	return ValueToString(value)
}

// GetValue looks up a field. An exact attribute name wins; otherwise the path
// is followed through nested objects with dot notation.
func GetValue(obj map[string]interface{}, path string) (interface{}, bool) {
	if path == "" || obj == nil {
		return nil, false
	}
	if v, ok := obj[path]; ok {
		return v, true
	}

	current := interface{}(obj)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if current, ok = m[part]; !ok {
			return nil, false
		}
	}
	return current, true
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// ValueToString converts an attribute value to display text. Whole floats
// print without a decimal point.
func ValueToString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ValidateSyntax checks delimiters and modifiers of a template.
func ValidateSyntax(template string) error {
	if template == "" {
		return nil
	}

	openCount := strings.Count(template, TemplatePrefix)
	closeCount := strings.Count(template, TemplateSuffix)
	if openCount != closeCount {
		return fmt.Errorf("%w: %w (found %d '{{' and %d '}}')",
			ErrInvalidSyntax, ErrUnbalancedBraces, openCount, closeCount)
	}
	if openCount == 0 {
		return nil
	}

	if emptyBracesRegex.MatchString(template) {
		return fmt.Errorf("%w: %w", ErrInvalidSyntax, ErrEmptyVariable)
	}

	for _, match := range templateVarRegex.FindAllStringSubmatch(template, -1) {
		if _, err := parseVariable(match[0], match[1]); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSyntax, err)
		}
	}

	// "}}{{" balances but pairs nothing.
	remainder := templateVarRegex.ReplaceAllString(template, "")
	if strings.Contains(remainder, TemplatePrefix) || strings.Contains(remainder, TemplateSuffix) {
		return fmt.Errorf("%w: stray '{{' or '}}'", ErrInvalidSyntax)
	}
	return nil
}
