package layer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tofunori/glacier-albedo-west-canada/internal/predicate"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// DefaultObjectIDField is used when a memory collection has no declared OID field.
const DefaultObjectIDField = "OBJECTID"

// MemoryLayer is an in-memory collection. Filters are evaluated locally with
// the same where-clause grammar the remote service accepts.
type MemoryLayer struct {
	name      string
	readiness *Readiness

	mu       sync.RWMutex
	metadata *albedo.LayerMetadata
	features []albedo.Feature
	filter   *string
	program  *predicate.Program
}

// NewMemoryLayer creates an unbound memory collection. Call Load to bind it.
func NewMemoryLayer(name string) *MemoryLayer {
	return &MemoryLayer{name: name, readiness: NewReadiness()}
}

// Name returns the collection name.
func (l *MemoryLayer) Name() string { return l.name }

// Readiness returns the layer's binding future.
func (l *MemoryLayer) Readiness() *Readiness { return l.readiness }

// Ready reports whether features have been loaded.
func (l *MemoryLayer) Ready() bool { return l.readiness.Ready() }

// Load replaces the collection's features and binds it. When meta is nil the
// schema is inferred from the union of attribute names.
func (l *MemoryLayer) Load(features []albedo.Feature, meta *albedo.LayerMetadata) {
	if meta == nil {
		meta = InferMetadata(l.name, features)
	}
	if meta.ObjectIDField == "" {
		meta.ObjectIDField = DefaultObjectIDField
	}

	l.mu.Lock()
	l.features = features
	l.metadata = meta
	l.mu.Unlock()
	l.readiness.Resolve(nil)
}

// Fail resolves readiness with err; the collection stays unbound.
func (l *MemoryLayer) Fail(err error) {
	l.readiness.Resolve(err)
}

// Metadata returns the collection schema, or nil when unbound.
func (l *MemoryLayer) Metadata() *albedo.LayerMetadata {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.metadata
}

// SetFilter compiles and installs expression; nil clears the filter.
func (l *MemoryLayer) SetFilter(expression *string) error {
	if !l.Ready() {
		return ErrUnbound
	}

	var program *predicate.Program
	if expression != nil {
		var err error
		program, err = predicate.Compile(*expression)
		if err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if expression != nil {
		if err := checkFields(l.metadata, *expression); err != nil {
			return err
		}
	}
	l.filter = cloneExpression(expression)
	l.program = program
	return nil
}

// Filter returns the active filter.
func (l *MemoryLayer) Filter() *string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneExpression(l.filter)
}

// Query evaluates the active filter and opts against the loaded features.
func (l *MemoryLayer) Query(ctx context.Context, opts QueryOptions) (*albedo.FeatureSet, error) {
	if !l.Ready() {
		return nil, ErrUnbound
	}

	var extra *predicate.Program
	if opts.Where != "" {
		var err error
		if extra, err = predicate.Compile(opts.Where); err != nil {
			return nil, err
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make(map[int64]bool, len(opts.ObjectIDs))
	for _, id := range opts.ObjectIDs {
		ids[id] = true
	}

	result := &albedo.FeatureSet{GeometryType: l.metadata.GeometryType, Features: []albedo.Feature{}}
	for _, feature := range l.features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			id, ok := ObjectID(feature, l.metadata.ObjectIDField)
			if !ok || !ids[id] {
				continue
			}
		}
		matched, err := matchAll(feature.Attributes, l.program, extra)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}
		if opts.CountOnly {
			result.Count++
			continue
		}
		if opts.Limit > 0 && len(result.Features) == opts.Limit {
			result.ExceededLimit = true
			break
		}
		result.Features = append(result.Features, project(feature, opts))
	}
	if !opts.CountOnly {
		result.Count = len(result.Features)
	}
	return result, nil
}

func matchAll(attributes map[string]interface{}, programs ...*predicate.Program) (bool, error) {
	for _, p := range programs {
		if p == nil {
			continue
		}
		ok, err := p.Match(attributes)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// project keeps the requested fields and drops geometry unless asked for.
func project(feature albedo.Feature, opts QueryOptions) albedo.Feature {
	out := albedo.Feature{Attributes: feature.Attributes}
	if opts.ReturnGeometry {
		out.Geometry = feature.Geometry
	}
	if len(opts.OutFields) == 0 || (len(opts.OutFields) == 1 && opts.OutFields[0] == "*") {
		return out
	}
	out.Attributes = make(map[string]interface{}, len(opts.OutFields))
	for _, field := range opts.OutFields {
		if v, ok := feature.Attributes[field]; ok {
			out.Attributes[field] = v
		}
	}
	return out
}

// ObjectID reads a feature's numeric object id.
func ObjectID(feature albedo.Feature, field string) (int64, bool) {
	switch v := feature.Attributes[field].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case string:
		var id int64
		if _, err := fmt.Sscan(v, &id); err == nil {
			return id, true
		}
	}
	return 0, false
}

// InferMetadata builds a schema from the union of attribute names. A field's
// type comes from its last non-null value.
func InferMetadata(name string, features []albedo.Feature) *albedo.LayerMetadata {
	seen := map[string]string{}
	for _, f := range features {
		for k, v := range f.Attributes {
			if _, ok := seen[k]; ok && v == nil {
				continue
			}
			seen[k] = fieldType(v)
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)

	meta := &albedo.LayerMetadata{Name: name}
	for _, n := range names {
		meta.Fields = append(meta.Fields, albedo.Field{Name: n, Type: seen[n]})
	}
	return meta
}

func fieldType(v interface{}) string {
	switch v.(type) {
	case float64, float32:
		return "esriFieldTypeDouble"
	case int, int64, int32:
		return "esriFieldTypeInteger"
	case string:
		return "esriFieldTypeString"
	default:
		return ""
	}
}
