package layer

import (
	"context"
	"fmt"
	"sync"

	"github.com/tofunori/glacier-albedo-west-canada/internal/featureservice"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/internal/predicate"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Service is the subset of the feature service client a FeatureLayer needs.
type Service interface {
	Metadata(ctx context.Context, layerURL string) (*albedo.LayerMetadata, error)
	Query(ctx context.Context, layerURL string, params featureservice.QueryParams) (*albedo.FeatureSet, error)
}

// FeatureLayer is a remote FeatureServer layer. Its filter is held locally as
// the layer's definition expression and sent as part of every query.
type FeatureLayer struct {
	name      string
	url       string
	service   Service
	readiness *Readiness

	mu       sync.RWMutex
	metadata *albedo.LayerMetadata
	filter   *string
}

// NewFeatureLayer creates an unbound layer. Call Bind before use.
func NewFeatureLayer(name, url string, service Service) *FeatureLayer {
	return &FeatureLayer{
		name:      name,
		url:       url,
		service:   service,
		readiness: NewReadiness(),
	}
}

// Name returns the collection name.
func (l *FeatureLayer) Name() string { return l.name }

// URL returns the FeatureServer layer URL.
func (l *FeatureLayer) URL() string { return l.url }

// Readiness returns the layer's binding future.
func (l *FeatureLayer) Readiness() *Readiness { return l.readiness }

// Ready reports whether Bind has succeeded.
func (l *FeatureLayer) Ready() bool { return l.readiness.Ready() }

// Bind fetches the layer description and resolves readiness. A failed Bind
// leaves the layer unbound so it can be retried; a bound layer is not
// re-fetched.
func (l *FeatureLayer) Bind(ctx context.Context) error {
	if l.Ready() {
		return nil
	}

	meta, err := l.service.Metadata(ctx, l.url)
	if err != nil {
		return fmt.Errorf("binding layer %q: %w", l.name, err)
	}

	l.mu.Lock()
	l.metadata = meta
	l.mu.Unlock()
	l.readiness.Resolve(nil)

	logger.WithLayer(l.name).Info("layer ready",
		"endpoint", l.url,
		"geometry_type", meta.GeometryType,
		"field_count", len(meta.Fields),
	)
	return nil
}

// Metadata returns the bound layer description, or nil.
func (l *FeatureLayer) Metadata() *albedo.LayerMetadata {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.metadata
}

// SetFilter replaces the definition expression after checking that every
// referenced field exists in the layer schema.
func (l *FeatureLayer) SetFilter(expression *string) error {
	if !l.Ready() {
		return ErrUnbound
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if expression != nil {
		if err := checkFields(l.metadata, *expression); err != nil {
			return err
		}
	}
	l.filter = cloneExpression(expression)
	return nil
}

// Filter returns the active definition expression.
func (l *FeatureLayer) Filter() *string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneExpression(l.filter)
}

// Query runs a remote query combining the definition expression with opts.
func (l *FeatureLayer) Query(ctx context.Context, opts QueryOptions) (*albedo.FeatureSet, error) {
	if !l.Ready() {
		return nil, ErrUnbound
	}

	params := featureservice.QueryParams{
		Where:             combineWhere(l.Filter(), opts.Where),
		OutFields:         opts.OutFields,
		ResultRecordCount: opts.Limit,
		ReturnGeometry:    opts.ReturnGeometry,
		ObjectIDs:         opts.ObjectIDs,
		ReturnCountOnly:   opts.CountOnly,
	}
	if opts.ReturnGeometry {
		params.OutSR = 4326
	}
	return l.service.Query(ctx, l.url, params)
}

// checkFields rejects expressions that reference fields missing from meta.
func checkFields(meta *albedo.LayerMetadata, expression string) error {
	fields, err := predicate.Fields(expression)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	for _, field := range fields {
		if !meta.HasField(field) {
			return fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
	}
	return nil
}
