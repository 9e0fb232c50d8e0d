package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/tofunori/glacier-albedo-west-canada/internal/filter"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

type filterState struct {
	Filtered   bool                    `json:"filtered"`
	Expression *string                 `json:"expression"`
	Selection  *albedo.FilterSelection `json:"selection"`
	Defaults   albedo.FilterSelection  `json:"defaults"`
	Years      []string                `json:"supportedYears"`
}

func (s *Server) filterState(p albedo.ActivePredicate) filterState {
	return filterState{
		Filtered:   p.IsFiltered(),
		Expression: p.Expression,
		Selection:  p.Selection,
		Defaults:   s.controller.Defaults(),
		Years:      s.controller.Config().SupportedYears,
	}
}

// applyRequest accepts the slider value and year picker as JSON numbers or
// strings, the way form widgets post them.
type applyRequest struct {
	Threshold json.RawMessage `json:"threshold"`
	Year      json.RawMessage `json:"year"`
}

func (s *Server) handleGetFilter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.filterState(s.controller.Current()))
}

func (s *Server) handleApplyFilter(w http.ResponseWriter, r *http.Request) {
	var req applyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON object", map[string]any{"error": err.Error()})
		return
	}

	selection := albedo.FilterSelection{
		Threshold: parseThreshold(req.Threshold),
		YearToken: parseYear(req.Year),
	}

	active, err := s.controller.Apply(selection)
	if err != nil {
		writeError(w, applyStatus(err), filter.Kind(err), err.Error(), map[string]any{
			"threshold": thresholdDetail(selection.Threshold),
			"year":      selection.YearToken,
		})
		return
	}
	writeJSON(w, http.StatusOK, s.filterState(active))
}

func (s *Server) handleClearFilter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.filterState(s.controller.Clear()))
}

func applyStatus(err error) int {
	switch filter.Kind(err) {
	case "InvalidThreshold", "UnsupportedYear":
		return http.StatusBadRequest
	case "CollectionUnavailable":
		return http.StatusServiceUnavailable
	case "ApplyRejected":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseThreshold returns NaN for a missing or unparsable value so that the
// controller reports it as an invalid threshold.
func parseThreshold(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return math.NaN()
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return filter.ParseThreshold(text)
	}
	return math.NaN()
}

// parseYear defaults to "all"; numeric years are accepted.
func parseYear(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return albedo.YearAll
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

// thresholdDetail keeps NaN and infinities out of the JSON encoder.
func thresholdDetail(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return v
}
