// Package config parses and validates viewer configuration documents
// (JSON/YAML) and converts them into albedo.Viewer values.
package config

import (
	"fmt"
	"strings"
)

// Error type constants for categorizing parse errors.
const (
	ErrorTypeIO     = "io"
	ErrorTypeSyntax = "syntax"
	ErrorTypeFormat = "format"
)

// Format names.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ParseResult holds a decoded document before schema validation.
type ParseResult struct {
	Data     map[string]interface{}
	Errors   []ParseError
	FilePath string
	Format   string
}

// IsValid returns true if no parsing errors occurred.
func (r *ParseResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ParseError is a decoding failure with optional location information.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Offset  int64
	Message string
	Type    string
}

// Error implements the error interface.
func (e ParseError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, "line %d", e.Line)
		if e.Column > 0 {
			fmt.Fprintf(&sb, ", column %d", e.Column)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

// ValidationResult is the outcome of schema and semantic validation.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

func (r *ValidationResult) add(path, typ, msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Path: path, Type: typ, Message: msg})
}

// ValidationError is a single validation failure.
type ValidationError struct {
	// Path is a JSON pointer into the document (e.g. "/layers/1/popup/title")
	Path    string
	Type    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Result contains the combined result of parsing and validation.
type Result struct {
	Data             map[string]interface{}
	ParseErrors      []ParseError
	ValidationErrors []ValidationError
	FilePath         string
	Format           string
}

// IsValid returns true if no errors occurred.
func (r *Result) IsValid() bool {
	return len(r.ParseErrors) == 0 && len(r.ValidationErrors) == 0
}

// AllErrors returns parsing and validation errors as a single slice.
func (r *Result) AllErrors() []error {
	errs := make([]error, 0, len(r.ParseErrors)+len(r.ValidationErrors))
	for _, e := range r.ParseErrors {
		errs = append(errs, e)
	}
	for _, e := range r.ValidationErrors {
		errs = append(errs, e)
	}
	return errs
}
