// Package factory builds the collections of a viewer session from its
// configuration, using the source registry.
//
// # Source Kinds
//
// The built-in kinds (featureService, geojson) are registered at startup.
// To add a kind, register a constructor in internal/registry; the factory
// does not need to change.
package factory

import (
	"errors"
	"fmt"

	"github.com/tofunori/glacier-albedo-west-canada/internal/featureservice"
	"github.com/tofunori/glacier-albedo-west-canada/internal/geojson"
	"github.com/tofunori/glacier-albedo-west-canada/internal/layer"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/internal/pathutil"
	"github.com/tofunori/glacier-albedo-west-canada/internal/registry"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Built-in source kinds.
const (
	SourceFeatureService = "featureService"
	SourceGeoJSON        = "geojson"
)

// ErrUnknownSource is returned for a layer kind with no registered constructor.
var ErrUnknownSource = errors.New("unknown layer source type")

func init() {
	registerBuiltinSources()
}

func registerBuiltinSources() {
	registry.RegisterSource(SourceFeatureService, newFeatureServiceLayer)
	registry.RegisterSource(SourceGeoJSON, newGeoJSONLayer)
}

func newFeatureServiceLayer(cfg albedo.LayerConfig, env registry.Env) (layer.Collection, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("layer %q: %w", cfg.Name, featureservice.ErrEmptyURL)
	}
	var opts []featureservice.Option
	if env.HTTPClient != nil {
		opts = append(opts, featureservice.WithHTTPClient(env.HTTPClient))
	}
	opts = append(opts, featureservice.FromErrorHandling(env.ErrorHandling)...)
	if cfg.Token != "" {
		opts = append(opts, featureservice.WithToken(cfg.Token))
	}
	return layer.NewFeatureLayer(cfg.Name, cfg.URL, featureservice.NewClient(opts...)), nil
}

// newGeoJSONLayer loads the file eagerly; the returned layer is already bound.
func newGeoJSONLayer(cfg albedo.LayerConfig, env registry.Env) (layer.Collection, error) {
	path, err := pathutil.Resolve(env.BaseDir, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", cfg.Name, err)
	}
	fc, err := geojson.Load(path)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", cfg.Name, err)
	}
	features, err := geojson.ToFeatures(fc, layer.DefaultObjectIDField)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", cfg.Name, err)
	}

	meta := layer.InferMetadata(cfg.Name, features)
	meta.ObjectIDField = layer.DefaultObjectIDField
	meta.GeometryType = geojson.GeometryType(fc)
	meta.Extent = geojson.Extent(fc)

	l := layer.NewMemoryLayer(cfg.Name)
	l.Load(features, meta)
	logger.WithLayer(cfg.Name).Debug("geojson layer loaded",
		"path", path, "feature_count", len(features))
	return l, nil
}

// CreateCollection builds one collection through the registry.
func CreateCollection(cfg albedo.LayerConfig, env registry.Env) (layer.Collection, error) {
	constructor := registry.GetSourceConstructor(cfg.Type)
	if constructor == nil {
		return nil, fmt.Errorf("%w %q for layer %q (registered: %v)",
			ErrUnknownSource, cfg.Type, cfg.Name, registry.ListSourceTypes())
	}
	return constructor(cfg, env)
}

// BuildSession creates a collection for every configured layer. A layer that
// cannot be built is still added to the session as a failed collection, so it
// reports as unavailable instead of disappearing; the build errors are joined
// and returned alongside the session.
func BuildSession(viewer *albedo.Viewer, env registry.Env) (*layer.Session, error) {
	if env.ErrorHandling == nil {
		env.ErrorHandling = viewer.ErrorHandling
	}

	session := layer.NewSession()
	var errs []error
	for _, cfg := range viewer.Layers {
		c, err := CreateCollection(cfg, env)
		if err != nil {
			logger.LogError("layer build failed", logger.ErrorContext{
				Operation: "build",
				Layer:     cfg.Name,
				Err:       err,
			})
			failed := layer.NewMemoryLayer(cfg.Name)
			failed.Fail(err)
			session.Add(failed)
			errs = append(errs, err)
			continue
		}
		session.Add(c)
	}
	return session, errors.Join(errs...)
}
