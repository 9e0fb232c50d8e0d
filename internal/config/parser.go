package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tofunori/glacier-albedo-west-canada/internal/pathutil"
)

// ParseFile decodes a configuration file without validating it.
// The format comes from the extension, falling back to content sniffing.
func ParseFile(filePath string) *ParseResult {
	result := &ParseResult{FilePath: filePath}

	if err := pathutil.ValidateFilePath(filePath); err != nil {
		result.Errors = append(result.Errors, ParseError{
			Path:    filePath,
			Message: err.Error(),
			Type:    ErrorTypeIO,
		})
		return result
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, ParseError{
			Path:    filePath,
			Message: fmt.Sprintf("failed to read file: %v", err),
			Type:    ErrorTypeIO,
		})
		return result
	}

	format := DetectFormat(filePath)
	if format == "" {
		format = sniffFormat(string(content))
	}

	parsed := ParseString(string(content), format)
	parsed.FilePath = filePath
	for i := range parsed.Errors {
		if parsed.Errors[i].Path == "" {
			parsed.Errors[i].Path = filePath
		}
	}
	return parsed
}

// ParseString decodes configuration content. An empty format is sniffed.
func ParseString(content, format string) *ParseResult {
	if format == "" {
		format = sniffFormat(content)
	}
	result := &ParseResult{Format: format}

	if strings.TrimSpace(content) == "" {
		result.Errors = append(result.Errors, ParseError{
			Message: "empty content: expected a configuration object",
			Type:    ErrorTypeSyntax,
		})
		return result
	}

	var (
		data interface{}
		perr *ParseError
	)
	switch format {
	case FormatJSON:
		data, perr = decodeJSON(content)
	case FormatYAML:
		data, perr = decodeYAML(content)
	case "":
		perr = &ParseError{
			Message: "unable to detect configuration format: not valid JSON or YAML",
			Type:    ErrorTypeFormat,
		}
	default:
		perr = &ParseError{
			Message: fmt.Sprintf("unsupported format: %s", format),
			Type:    ErrorTypeFormat,
		}
	}
	if perr != nil {
		result.Errors = append(result.Errors, *perr)
		return result
	}

	if data == nil {
		return result
	}
	m, ok := data.(map[string]interface{})
	if !ok {
		result.Errors = append(result.Errors, ParseError{
			Message: fmt.Sprintf("invalid configuration: expected an object, got %T", data),
			Type:    ErrorTypeFormat,
		})
		return result
	}
	result.Data = m
	return result
}

// ParseConfig parses and validates a configuration file.
func ParseConfig(filePath string) *Result {
	return validated(ParseFile(filePath))
}

// ParseConfigString parses and validates configuration content.
// If format is empty, it is detected from the content.
func ParseConfigString(content, format string) *Result {
	return validated(ParseString(content, format))
}

func validated(parsed *ParseResult) *Result {
	result := &Result{
		Data:        parsed.Data,
		ParseErrors: parsed.Errors,
		FilePath:    parsed.FilePath,
		Format:      parsed.Format,
	}
	if !parsed.IsValid() {
		return result
	}
	result.ValidationErrors = ValidateConfig(parsed.Data).Errors
	return result
}

// DetectFormat detects the configuration format from the file extension.
// Returns FormatJSON, FormatYAML, or "" when the extension is unknown.
func DetectFormat(filePath string) string {
	switch {
	case pathutil.HasExtension(filePath, ".json"):
		return FormatJSON
	case pathutil.HasExtension(filePath, ".yaml", ".yml"):
		return FormatYAML
	default:
		return ""
	}
}

// IsJSON reports whether content looks like a JSON document.
func IsJSON(content string) bool {
	content = strings.TrimSpace(content)
	return strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")
}

// IsYAML reports whether content decodes as a non-empty YAML document.
// JSON is also YAML, so this returns true for JSON content as well.
func IsYAML(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	var data interface{}
	return yaml.Unmarshal([]byte(content), &data) == nil && data != nil
}

func sniffFormat(content string) string {
	switch {
	case IsJSON(content):
		return FormatJSON
	case IsYAML(content):
		return FormatYAML
	default:
		return ""
	}
}

func decodeJSON(content string) (interface{}, *ParseError) {
	var data interface{}
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		perr := &ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxErr):
			perr.Offset = syntaxErr.Offset
			perr.Line, perr.Column = offsetToLineColumn(content, syntaxErr.Offset)
			perr.Message = fmt.Sprintf("JSON syntax error at offset %d: %s", syntaxErr.Offset, syntaxErr.Error())
		case errors.As(err, &typeErr):
			perr.Offset = typeErr.Offset
			perr.Line, perr.Column = offsetToLineColumn(content, typeErr.Offset)
		}
		return nil, perr
	}
	return data, nil
}

func decodeYAML(content string) (interface{}, *ParseError) {
	var data interface{}
	if err := yaml.Unmarshal([]byte(content), &data); err != nil {
		perr := &ParseError{Message: err.Error(), Type: ErrorTypeSyntax}

		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			perr.Message = "YAML type error: " + strings.Join(typeErr.Errors, "; ")
		}
		// yaml.v3 messages carry the position as "yaml: line N: ..."
		var line int
		if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr == nil {
			perr.Line = line
		}
		return nil, perr
	}
	return normalizeYAML(data), nil
}

// normalizeYAML makes a yaml.v3 tree look like an encoding/json tree:
// string-keyed maps and float64 numbers.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			t[k] = normalizeYAML(child)
		}
		return t
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, child := range t {
			m[fmt.Sprintf("%v", k)] = normalizeYAML(child)
		}
		return m
	case []interface{}:
		for i, child := range t {
			t[i] = normalizeYAML(child)
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return v
	}
}

// offsetToLineColumn converts a byte offset to 1-based line and column numbers.
func offsetToLineColumn(content string, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset && i < int64(len(content)); i++ {
		if content[i] == '\n' {
			line++
			column = 1
		} else {
			column++
		}
	}
	return line, column
}
