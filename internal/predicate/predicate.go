// Package predicate renders albedo threshold predicates and evaluates
// attribute predicates locally against feature attributes.
//
// Predicates use the SQL-like where-clause grammar understood by the remote
// feature service. Local evaluation translates that grammar to expr-lang
// syntax so in-memory collections filter the same way the service does.
package predicate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// YearPlaceholder is substituted with the year token in a year field template.
const YearPlaceholder = "{year}"

// ErrEmptyField is returned when a field name resolves to an empty string.
var ErrEmptyField = errors.New("predicate field name is empty")

// FormatNumber renders v as the shortest plain decimal that round-trips:
// no exponent, no thousands separators, no padded zeros (0.5, 0.35, 1).
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Render builds "<field> <= <threshold>".
func Render(field string, threshold float64) string {
	return field + " <= " + FormatNumber(threshold)
}

// FieldName resolves the attribute field a year token filters on.
// The "all" token maps to meanField; any other token is substituted into
// yearTemplate ("Albedo{year}" gives "Albedo2020").
func FieldName(meanField, yearTemplate, yearToken string) (string, error) {
	var field string
	if yearToken == albedo.YearAll {
		field = meanField
	} else {
		field = strings.ReplaceAll(yearTemplate, YearPlaceholder, yearToken)
	}
	if strings.TrimSpace(field) == "" {
		return "", fmt.Errorf("%w (year %q)", ErrEmptyField, yearToken)
	}
	return field, nil
}
