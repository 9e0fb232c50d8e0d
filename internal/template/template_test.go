package template

import (
	"errors"
	"sync"
	"testing"
)

func glacierAttributes() map[string]interface{} {
	return map[string]interface{}{
		"GlacierName":  "Athabasca",
		"AlbedoMean":   0.41237,
		"AlbedoChange": -0.031,
		"Area":         float64(6),
		"Trend":        nil,
		"Year":         2020,
		"meta":         map[string]interface{}{"source": "MODIS"},
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"no variables", "Glacier information", "Glacier information"},
		{"string field", "{{GlacierName}}", "Athabasca"},
		{"spaces inside braces", "{{ GlacierName }} glacier", "Athabasca glacier"},
		{"float field", "Mean: {{AlbedoMean}}", "Mean: 0.41237"},
		{"whole float", "{{Area}} km²", "6 km²"},
		{"int field", "{{Year}}", "2020"},
		{"places", "{{AlbedoMean | places: 3}}", "0.412"},
		{"places on negative", "{{AlbedoChange | places: 2}}", "-0.03"},
		{"places ignored for strings", "{{GlacierName | places: 2}}", "Athabasca"},
		{"default for null", "{{Trend | default: \"Unknown\"}}", "Unknown"},
		{"default for missing", "{{Albedo2099 | default: \"n/a\"}}", "n/a"},
		{"places then default", "{{Albedo2099 | places: 3 | default: \"n/a\"}}", "n/a"},
		{"missing without default", "[{{Zmed}}]", "[]"},
		{"nested path", "{{meta.source}}", "MODIS"},
		{"repeated variable", "{{GlacierName}}/{{GlacierName}}", "Athabasca/Athabasca"},
	}

	e := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(tt.template, glacierAttributes()); got != tt.want {
				t.Errorf("Evaluate(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

func TestEvaluator_ConcurrentUse(t *testing.T) {
	e := NewEvaluator()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := e.Evaluate("{{GlacierName}}", glacierAttributes()); got != "Athabasca" {
				t.Errorf("Evaluate() = %q", got)
			}
		}()
	}
	wg.Wait()
}

func TestGetValue(t *testing.T) {
	attrs := map[string]interface{}{
		"a.b": "literal",
		"a":   map[string]interface{}{"b": "nested", "c": "deep"},
	}
	if v, _ := GetValue(attrs, "a.b"); v != "literal" {
		t.Errorf("GetValue(a.b) = %v, want literal attribute name to win", v)
	}
	if v, _ := GetValue(attrs, "a.c"); v != "deep" {
		t.Errorf("GetValue(a.c) = %v", v)
	}
	if _, ok := GetValue(attrs, "a.c.d"); ok {
		t.Error("GetValue(a.c.d) found")
	}
	if _, ok := GetValue(nil, "a"); ok {
		t.Error("GetValue(nil) found")
	}
}

func TestValueToString(t *testing.T) {
	tests := []struct {
		in   interface{}
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{float64(3), "3"},
		{0.35, "0.35"},
		{42, "42"},
		{int64(7), "7"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := ValueToString(tt.in); got != tt.want {
			t.Errorf("ValueToString(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateSyntax(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  error
	}{
		{"empty", "", nil},
		{"plain", "Glacier", nil},
		{"valid", "{{Name | default: \"Unnamed\"}} ({{Area | places: 1}} km²)", nil},
		{"unbalanced", "{{Name", ErrUnbalancedBraces},
		{"empty braces", "{{ }}", ErrEmptyVariable},
		{"stray pair", "}}Name{{", ErrInvalidSyntax},
		{"unknown modifier", "{{Name | upper: 1}}", ErrUnknownModifier},
		{"modifier without arg", "{{Name | upper}}", ErrUnknownModifier},
		{"unquoted default", "{{Name | default: Unnamed}}", ErrInvalidModifier},
		{"negative places", "{{Area | places: -1}}", ErrInvalidModifier},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSyntax(tt.template)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSyntax(%q) = %v, want %v", tt.template, err, tt.wantErr)
			}
		})
	}
}
