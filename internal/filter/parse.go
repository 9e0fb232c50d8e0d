package filter

import (
	"math"
	"strconv"
	"strings"
)

// ParseThreshold converts UI text to a threshold. Unparsable text yields NaN,
// which Apply rejects with ErrInvalidThreshold.
func ParseThreshold(text string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
