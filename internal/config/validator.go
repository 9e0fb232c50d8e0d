package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tofunori/glacier-albedo-west-canada/internal/scheduler"
	"github.com/tofunori/glacier-albedo-west-canada/internal/template"
)

//go:embed schema/viewer-schema.json
var embeddedSchema []byte

const schemaURL = "https://glacier-albedo.tofunori.dev/schemas/viewer/v1/viewer-schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// GetEmbeddedSchema returns the embedded viewer schema.
func GetEmbeddedSchema() []byte {
	return embeddedSchema
}

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var schemaDoc interface{}
		if err := json.Unmarshal(embeddedSchema, &schemaDoc); err != nil {
			schemaInitErr = fmt.Errorf("failed to parse embedded schema: %w", err)
			return
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, schemaDoc); err != nil {
			schemaInitErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}

		var err error
		compiledSchema, err = compiler.Compile(schemaURL)
		if err != nil {
			schemaInitErr = fmt.Errorf("failed to compile schema: %w", err)
		}
	})
	return compiledSchema, schemaInitErr
}

// ValidateConfig validates a decoded document against the viewer schema,
// then runs the cross-field checks the schema cannot express.
func ValidateConfig(data map[string]interface{}) *ValidationResult {
	result := &ValidationResult{Valid: true}

	if len(data) == 0 {
		result.add("/", "required", "configuration data is empty")
		return result
	}

	schema, err := getCompiledSchema()
	if err != nil {
		result.add("/", "schema", fmt.Sprintf("failed to load schema: %v", err))
		return result
	}

	if err := schema.Validate(data); err != nil {
		var detailed *jsonschema.ValidationError
		if errors.As(err, &detailed) {
			result.Valid = false
			result.Errors = append(result.Errors, convertValidationErrors(detailed)...)
		} else {
			result.add("/", "validation", err.Error())
		}
		// Semantic checks assume a schema-conformant document.
		return result
	}

	validateSemantics(data, result)
	return result
}

func convertValidationErrors(err *jsonschema.ValidationError) []ValidationError {
	var out []ValidationError
	// Leaf errors carry the useful messages; wrappers only repeat "doesn't validate".
	if len(err.Causes) == 0 {
		out = append(out, ValidationError{
			Path:    formatInstanceLocation(err.InstanceLocation),
			Type:    extractErrorType(err),
			Message: err.Error(),
		})
	}
	for _, cause := range err.Causes {
		out = append(out, convertValidationErrors(cause)...)
	}
	return out
}

func formatInstanceLocation(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}

func extractErrorType(err *jsonschema.ValidationError) string {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "missing propert"), strings.Contains(msg, "required"):
		return "required"
	case strings.Contains(msg, "additional propert"), strings.Contains(msg, "additionalproperties"):
		return "additionalProperties"
	case strings.Contains(msg, "got ") && strings.Contains(msg, "want "):
		return "type"
	case strings.Contains(msg, "pattern"):
		return "pattern"
	case strings.Contains(msg, "value must be one of"), strings.Contains(msg, "enum"):
		return "enum"
	case strings.Contains(msg, "minimum"), strings.Contains(msg, "maximum"):
		return "range"
	default:
		return "validation"
	}
}

func validateSemantics(data map[string]interface{}, result *ValidationResult) {
	names := make(map[string]bool)
	layers, _ := data["layers"].([]interface{})
	for i, raw := range layers {
		layer, _ := raw.(map[string]interface{})
		name, _ := layer["name"].(string)
		if names[name] {
			result.add(fmt.Sprintf("/layers/%d/name", i), "duplicate", fmt.Sprintf("duplicate layer name %q", name))
		}
		names[name] = true

		popup, ok := layer["popup"].(map[string]interface{})
		if !ok {
			continue
		}
		if title, _ := popup["title"].(string); title != "" {
			if err := template.ValidateSyntax(title); err != nil {
				result.add(fmt.Sprintf("/layers/%d/popup/title", i), "template", err.Error())
			}
		}
		rows, _ := popup["rows"].([]interface{})
		for j, r := range rows {
			row, _ := r.(map[string]interface{})
			tmpl, _ := row["template"].(string)
			if err := template.ValidateSyntax(tmpl); err != nil {
				result.add(fmt.Sprintf("/layers/%d/popup/rows/%d/template", i, j), "template", err.Error())
			}
		}
	}

	if filter, ok := data["filter"].(map[string]interface{}); ok {
		if target, ok := filter["target"].(string); ok && !names[target] {
			result.add("/filter/target", "reference", fmt.Sprintf("unknown layer %q", target))
		}
		deps, _ := filter["dependents"].([]interface{})
		for i, d := range deps {
			if dep, _ := d.(string); !names[dep] {
				result.add(fmt.Sprintf("/filter/dependents/%d", i), "reference", fmt.Sprintf("unknown layer %q", dep))
			}
		}
	}

	if m, ok := data["map"].(map[string]interface{}); ok {
		minZoom, hasMin := m["minZoom"].(float64)
		maxZoom, hasMax := m["maxZoom"].(float64)
		if hasMin && hasMax && minZoom > maxZoom {
			result.add("/map/minZoom", "range", fmt.Sprintf("minZoom %v exceeds maxZoom %v", minZoom, maxZoom))
		}

		basemaps, _ := m["basemaps"].([]interface{})
		if def, ok := m["defaultBasemap"].(string); ok && len(basemaps) > 0 {
			found := false
			for _, b := range basemaps {
				if bm, _ := b.(map[string]interface{}); bm["id"] == def {
					found = true
					break
				}
			}
			if !found {
				result.add("/map/defaultBasemap", "reference", fmt.Sprintf("unknown basemap %q", def))
			}
		}
	}

	if v, ok := data["validation"].(map[string]interface{}); ok {
		if expr, ok := v["schedule"].(string); ok && expr != "" {
			if err := scheduler.ValidateCronExpression(expr); err != nil {
				result.add("/validation/schedule", "cron", err.Error())
			}
			if _, both := v["interval"]; both {
				result.add("/validation/interval", "conflict", "interval and schedule are mutually exclusive")
			}
		}
	}
}
