package validation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MetadataResult is the outcome of fetching one layer description.
type MetadataResult struct {
	Available    bool   `json:"available"`
	URL          string `json:"url,omitempty"`
	Name         string `json:"name,omitempty"`
	GeometryType string `json:"geometryType,omitempty"`
	Fields       int    `json:"fields"`
	WKID         int    `json:"spatialReference,omitempty"`
	Error        string `json:"error,omitempty"`
}

// QueryResult is the outcome of one sample query.
type QueryResult struct {
	Name        string        `json:"name"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
	Count       int           `json:"count"`
	HasFeatures bool          `json:"hasFeatures"`
	Error       string        `json:"error,omitempty"`
}

// FieldPresence counts records with a non-null value for a field.
type FieldPresence struct {
	Present    int     `json:"present"`
	Percentage float64 `json:"percentage"`
}

// AlbedoStats summarizes the numeric mean-albedo values of a sample.
type AlbedoStats struct {
	Count      int     `json:"count"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Mean       float64 `json:"mean"`
	ValidRange int     `json:"validRange"`
}

// DataQuality is the result of the sample attribute analysis.
type DataQuality struct {
	SampleSize      int                      `json:"sampleSize"`
	FieldPresence   map[string]FieldPresence `json:"fieldPresence,omitempty"`
	Stats           *AlbedoStats             `json:"albedoStats,omitempty"`
	ValidPercentage float64                  `json:"validAlbedoPercentage"`
	Error           string                   `json:"error,omitempty"`
}

// Timing aggregates the durations of repeated runs of one query.
type Timing struct {
	Name  string        `json:"name"`
	Runs  int           `json:"runs"`
	Avg   time.Duration `json:"avgTime"`
	Min   time.Duration `json:"minTime"`
	Max   time.Duration `json:"maxTime"`
	Error string        `json:"error,omitempty"`
}

// Report is the full outcome of a validation run. Sections are nil when the
// corresponding check group is disabled.
type Report struct {
	StartedAt   time.Time       `json:"startedAt"`
	Duration    time.Duration   `json:"duration"`
	Glaciers    *MetadataResult `json:"glaciers,omitempty"`
	Albedo      *MetadataResult `json:"albedo,omitempty"`
	Queries     []QueryResult   `json:"queries,omitempty"`
	DataQuality *DataQuality    `json:"dataQuality,omitempty"`
	Performance []Timing        `json:"performance,omitempty"`
}

// Summary counts checks and failures across the report.
type Summary struct {
	Checks int `json:"checks"`
	Failed int `json:"failed"`
}

// Summary tallies every metadata fetch, query, quality analysis and timing.
func (r *Report) Summary() Summary {
	var s Summary
	tally := func(ok bool) {
		s.Checks++
		if !ok {
			s.Failed++
		}
	}
	for _, m := range []*MetadataResult{r.Glaciers, r.Albedo} {
		if m != nil {
			tally(m.Available)
		}
	}
	for _, q := range r.Queries {
		tally(q.Success)
	}
	if r.DataQuality != nil {
		tally(r.DataQuality.Error == "")
	}
	for _, p := range r.Performance {
		tally(p.Error == "")
	}
	return s
}

// Passed reports whether every check succeeded.
func (r *Report) Passed() bool {
	return r.Summary().Failed == 0
}

// Text renders the report for a terminal.
func (r *Report) Text() string {
	var sb strings.Builder
	sb.WriteString("VALIDATION REPORT\n")
	sb.WriteString("=================\n")

	writeMeta := func(title string, m *MetadataResult) {
		if m == nil {
			return
		}
		fmt.Fprintf(&sb, "\n%s:\n", title)
		if !m.Available {
			fmt.Fprintf(&sb, "  ✗ service unavailable: %s\n", m.Error)
			return
		}
		sb.WriteString("  ✓ service available\n")
		fmt.Fprintf(&sb, "  fields: %d\n", m.Fields)
		fmt.Fprintf(&sb, "  SRID: %d\n", m.WKID)
	}
	writeMeta("GLACIER SERVICE", r.Glaciers)
	writeMeta("ALBEDO SERVICE", r.Albedo)

	if len(r.Queries) > 0 {
		sb.WriteString("\nQUERIES:\n")
		for _, q := range r.Queries {
			if q.Success {
				fmt.Fprintf(&sb, "  ✓ %s: %d results (%dms)\n", q.Name, q.Count, q.Duration.Milliseconds())
			} else {
				fmt.Fprintf(&sb, "  ✗ %s: %s\n", q.Name, q.Error)
			}
		}
	}

	if dq := r.DataQuality; dq != nil {
		sb.WriteString("\nDATA QUALITY:\n")
		if dq.Error != "" {
			fmt.Fprintf(&sb, "  ✗ %s\n", dq.Error)
		} else {
			fmt.Fprintf(&sb, "  sample: %d features\n", dq.SampleSize)
			names := make([]string, 0, len(dq.FieldPresence))
			for name := range dq.FieldPresence {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fp := dq.FieldPresence[name]
				fmt.Fprintf(&sb, "  %s present: %d (%.1f%%)\n", name, fp.Present, fp.Percentage)
			}
			if dq.Stats != nil {
				fmt.Fprintf(&sb, "  albedo min: %.3f, max: %.3f, mean: %.3f\n", dq.Stats.Min, dq.Stats.Max, dq.Stats.Mean)
				fmt.Fprintf(&sb, "  valid values: %.1f%%\n", dq.ValidPercentage)
			}
		}
	}

	if len(r.Performance) > 0 {
		sb.WriteString("\nPERFORMANCE:\n")
		for _, p := range r.Performance {
			if p.Error != "" {
				fmt.Fprintf(&sb, "  ✗ %s: %s\n", p.Name, p.Error)
				continue
			}
			fmt.Fprintf(&sb, "  %s: %dms (min: %dms, max: %dms)\n",
				p.Name, p.Avg.Milliseconds(), p.Min.Milliseconds(), p.Max.Milliseconds())
		}
	}

	s := r.Summary()
	sb.WriteString("\n=================\n")
	fmt.Fprintf(&sb, "%d checks, %d failed (%dms)\n", s.Checks, s.Failed, r.Duration.Milliseconds())
	return sb.String()
}
