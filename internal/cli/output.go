package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/tofunori/glacier-albedo-west-canada/internal/filter"
	"github.com/tofunori/glacier-albedo-west-canada/internal/reportstore"
	"github.com/tofunori/glacier-albedo-west-canada/internal/validation"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
}

// PrintViewerSummary prints the viewer name, version and layers.
func PrintViewerSummary(w io.Writer, v *albedo.Viewer) {
	if v == nil {
		return
	}
	fmt.Fprintf(w, "  Viewer: %s\n", v.Name)
	if v.Version != "" {
		fmt.Fprintf(w, "  Version: %s\n", v.Version)
	}
	for _, l := range v.Layers {
		source := l.URL
		if source == "" {
			source = l.Path
		}
		fmt.Fprintf(w, "  Layer %s (%s): %s\n", l.Name, l.Type, source)
	}
}

// PrintFilterResult prints the outcome of a one-shot filter apply.
func PrintFilterResult(w io.Writer, active albedo.ActivePredicate, matched int, opts OutputOptions) {
	if opts.Quiet {
		fmt.Fprintln(w, active.ExpressionString())
		return
	}
	fmt.Fprintln(w, "✓ Filter applied")
	fmt.Fprintf(w, "  Expression: %s\n", active.ExpressionString())
	if opts.Verbose && active.Selection != nil {
		fmt.Fprintf(w, "  Threshold: %v\n", active.Selection.Threshold)
		fmt.Fprintf(w, "  Year: %s\n", active.Selection.YearToken)
	}
	fmt.Fprintf(w, "  Matching features: %d\n", matched)
}

// PrintFilterError prints a rejected selection with its error kind.
func PrintFilterError(w io.Writer, err error) {
	kind := filter.Kind(err)
	if kind == "" {
		fmt.Fprintf(w, "✗ Filter failed: %v\n", err)
		return
	}
	fmt.Fprintf(w, "✗ %s: %v\n", kind, err)
}

// PrintReport prints a validation report. Quiet mode prints the summary only.
func PrintReport(w io.Writer, r *validation.Report, opts OutputOptions) {
	if r == nil {
		fmt.Fprintln(w, "✗ No validation report available")
		return
	}
	s := r.Summary()
	if !opts.Quiet {
		fmt.Fprint(w, r.Text())
	}
	if r.Passed() {
		fmt.Fprintf(w, "✓ All %d checks passed\n", s.Checks)
		return
	}
	fmt.Fprintf(w, "✗ %d of %d checks failed\n", s.Failed, s.Checks)
}

// PrintHistory lists stored validation runs.
func PrintHistory(w io.Writer, runs []reportstore.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No validation runs recorded")
		return
	}
	for _, run := range runs {
		mark := "✓"
		if run.Summary.Failed > 0 {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s #%d %s  %d checks, %d failed (%s)\n",
			mark, run.ID, run.StartedAt.UTC().Format(time.RFC3339),
			run.Summary.Checks, run.Summary.Failed, run.Duration.Round(time.Millisecond))
	}
}
