// Package layer provides the feature collections the viewer filters and
// queries: remote FeatureServer layers and in-memory collections, each with
// an explicit readiness future.
package layer

import (
	"context"
	"errors"

	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Errors returned by collections
var (
	// ErrUnbound is returned when a collection is used before it is bound
	// to its feature source.
	ErrUnbound = errors.New("collection is not bound to a feature source")

	// ErrUnknownField is returned when a filter references a field the
	// collection does not declare.
	ErrUnknownField = errors.New("filter references unknown field")
)

// QueryOptions restrict a collection query. The collection's active filter
// is always combined with Where.
type QueryOptions struct {
	Where          string
	OutFields      []string
	Limit          int
	ReturnGeometry bool
	ObjectIDs      []int64

	// CountOnly asks for FeatureSet.Count only; no features are returned.
	CountOnly bool
}

// Collection is a named feature collection with an assignable attribute filter.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Ready reports whether the collection is bound and usable.
	Ready() bool

	// SetFilter replaces the active filter; nil clears it.
	SetFilter(expression *string) error

	// Filter returns the active filter, or nil.
	Filter() *string

	// Query returns the features matching the active filter and opts.
	Query(ctx context.Context, opts QueryOptions) (*albedo.FeatureSet, error)
}

// Describer is implemented by collections that expose their schema.
type Describer interface {
	Metadata() *albedo.LayerMetadata
}

// Waiter is implemented by collections with a readiness future.
type Waiter interface {
	Readiness() *Readiness
}

// combineWhere joins the active filter and a query clause with AND.
func combineWhere(filter *string, where string) string {
	switch {
	case filter == nil || *filter == "":
		return where
	case where == "":
		return *filter
	default:
		return "(" + *filter + ") AND (" + where + ")"
	}
}

func cloneExpression(expression *string) *string {
	if expression == nil {
		return nil
	}
	v := *expression
	return &v
}
