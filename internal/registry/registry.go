// Package registry maps layer source kinds to collection constructors.
//
// # Overview
//
// A viewer configuration names each layer's source kind ("featureService",
// "geojson"). Instead of a switch in the factory, each kind registers a
// constructor by type string, so new sources can be added without touching
// the factory.
//
// # Adding a Source Kind
//
//	func init() {
//	    registry.RegisterSource("csv", func(cfg albedo.LayerConfig, env registry.Env) (layer.Collection, error) {
//	        return newCSVLayer(cfg, env.BaseDir)
//	    })
//	}
//
// Built-in kinds are registered by the factory package.
package registry

import (
	"net/http"
	"sort"
	"sync"

	"github.com/tofunori/glacier-albedo-west-canada/internal/layer"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Env is the shared context passed to every source constructor.
type Env struct {
	// BaseDir resolves relative file paths, normally the config file's directory
	BaseDir string

	// ErrorHandling configures retries for remote sources
	ErrorHandling *albedo.ErrorHandling

	// HTTPClient overrides the client used by remote sources (tests)
	HTTPClient *http.Client
}

// SourceConstructor builds an unbound or loaded collection from a layer
// configuration. Remote collections are bound later by layer.Session.BindAll.
type SourceConstructor func(cfg albedo.LayerConfig, env Env) (layer.Collection, error)

var (
	sourceMu       sync.RWMutex
	sourceRegistry = make(map[string]SourceConstructor)
)

// RegisterSource registers a constructor by source kind, overwriting any
// previous registration. Safe for concurrent use.
func RegisterSource(kind string, constructor SourceConstructor) {
	sourceMu.Lock()
	defer sourceMu.Unlock()
	sourceRegistry[kind] = constructor
}

// GetSourceConstructor returns the constructor for kind, or nil.
func GetSourceConstructor(kind string) SourceConstructor {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	return sourceRegistry[kind]
}

// ListSourceTypes returns the registered kinds, sorted.
func ListSourceTypes() []string {
	sourceMu.RLock()
	defer sourceMu.RUnlock()
	types := make([]string, 0, len(sourceRegistry))
	for t := range sourceRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ClearRegistries removes all registered constructors. Tests only.
func ClearRegistries() {
	sourceMu.Lock()
	sourceRegistry = make(map[string]SourceConstructor)
	sourceMu.Unlock()
}
