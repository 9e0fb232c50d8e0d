// Package view tracks the map view state of a session: the selected
// basemap, per-layer visibility and opacity, and the home viewpoint.
package view

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// View errors
var (
	ErrUnknownBasemap = errors.New("unknown basemap")
	ErrUnknownLayer   = errors.New("unknown layer")
	ErrInvalidOpacity = errors.New("opacity must be within [0, 1]")
	ErrInvalidPoint   = errors.New("invalid location")
)

// Defaults for the western Canada viewer.
const (
	DefaultBasemap    = "satellite"
	DefaultMinZoom    = 4
	DefaultMaxZoom    = 16
	DefaultLocateZoom = 10

	// accuracySegments is the vertex count of an accuracy circle.
	accuracySegments = 64
)

// DefaultBasemaps returns the selectable basemap catalog.
func DefaultBasemaps() []albedo.Basemap {
	return []albedo.Basemap{
		{ID: "satellite", Name: "Satellite", Description: "Satellite imagery"},
		{ID: "hybrid", Name: "Hybrid", Description: "Imagery with labels"},
		{ID: "topo-vector", Name: "Topographic", Description: "Topographic map"},
		{ID: "gray-vector", Name: "Light gray", Description: "Light gray canvas"},
		{ID: "streets-vector", Name: "Streets", Description: "Street map"},
		{ID: "terrain", Name: "Terrain", Description: "Terrain with labels"},
	}
}

// DefaultExtent is the initial viewpoint over western Canada in WGS84.
func DefaultExtent() albedo.Extent {
	return albedo.Extent{
		XMin: -140, YMin: 48, XMax: -110, YMax: 70,
		SpatialReference: &albedo.SpatialReference{WKID: 4326},
	}
}

// LayerState is the display state of one layer.
type LayerState struct {
	Name    string  `json:"name"`
	Title   string  `json:"title"`
	Visible bool    `json:"visible"`
	Opacity float64 `json:"opacity"`
}

// Snapshot is a copy of the whole view state.
type Snapshot struct {
	Basemap       string           `json:"basemap"`
	Basemaps      []albedo.Basemap `json:"basemaps"`
	Layers        []LayerState     `json:"layers"`
	InitialExtent albedo.Extent    `json:"initialExtent"`
	MinZoom       int              `json:"minZoom"`
	MaxZoom       int              `json:"maxZoom"`
}

// State is the mutable view state. It is safe for concurrent use.
type State struct {
	cfg albedo.MapConfig

	mu      sync.RWMutex
	basemap string
	layers  []LayerState
}

// New creates the view state from map and layer configuration.
func New(cfg albedo.MapConfig, layers []albedo.LayerConfig) *State {
	if len(cfg.Basemaps) == 0 {
		cfg.Basemaps = DefaultBasemaps()
	}
	if cfg.DefaultBasemap == "" {
		cfg.DefaultBasemap = DefaultBasemap
	}
	if cfg.MinZoom == 0 && cfg.MaxZoom == 0 {
		cfg.MinZoom, cfg.MaxZoom = DefaultMinZoom, DefaultMaxZoom
	}

	s := &State{cfg: cfg, basemap: cfg.DefaultBasemap}
	for _, l := range layers {
		s.layers = append(s.layers, LayerState{Name: l.Name, Title: l.Title, Visible: l.Visible, Opacity: l.Opacity})
	}
	return s
}

// Basemap returns the selected basemap id.
func (s *State) Basemap() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basemap
}

// SetBasemap selects a basemap from the catalog.
func (s *State) SetBasemap(id string) error {
	if !s.hasBasemap(id) {
		return fmt.Errorf("%w: %q", ErrUnknownBasemap, id)
	}
	s.mu.Lock()
	s.basemap = id
	s.mu.Unlock()
	return nil
}

func (s *State) hasBasemap(id string) bool {
	for _, b := range s.cfg.Basemaps {
		if b.ID == id {
			return true
		}
	}
	return false
}

// SetVisibility shows or hides a layer.
func (s *State) SetVisibility(name string, visible bool) (LayerState, error) {
	return s.update(name, func(l *LayerState) error {
		l.Visible = visible
		return nil
	})
}

// SetOpacity changes a layer's opacity.
func (s *State) SetOpacity(name string, opacity float64) (LayerState, error) {
	return s.update(name, func(l *LayerState) error {
		if math.IsNaN(opacity) || opacity < 0 || opacity > 1 {
			return fmt.Errorf("%w: %v", ErrInvalidOpacity, opacity)
		}
		l.Opacity = opacity
		return nil
	})
}

func (s *State) update(name string, fn func(*LayerState) error) (LayerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.layers {
		if s.layers[i].Name != name {
			continue
		}
		next := s.layers[i]
		if err := fn(&next); err != nil {
			return s.layers[i], err
		}
		s.layers[i] = next
		return next, nil
	}
	return LayerState{}, fmt.Errorf("%w: %q", ErrUnknownLayer, name)
}

// Layer returns the display state of a layer.
func (s *State) Layer(name string) (LayerState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.layers {
		if l.Name == name {
			return l, true
		}
	}
	return LayerState{}, false
}

// Home returns the initial viewpoint.
func (s *State) Home() albedo.Extent {
	return s.cfg.InitialExtent
}

// ClampZoom limits a zoom level to the configured range.
func (s *State) ClampZoom(zoom int) int {
	switch {
	case zoom < s.cfg.MinZoom:
		return s.cfg.MinZoom
	case zoom > s.cfg.MaxZoom:
		return s.cfg.MaxZoom
	default:
		return zoom
	}
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	layers := make([]LayerState, len(s.layers))
	copy(layers, s.layers)
	basemaps := make([]albedo.Basemap, len(s.cfg.Basemaps))
	copy(basemaps, s.cfg.Basemaps)
	return Snapshot{
		Basemap:       s.basemap,
		Basemaps:      basemaps,
		Layers:        layers,
		InitialExtent: s.cfg.InitialExtent,
		MinZoom:       s.cfg.MinZoom,
		MaxZoom:       s.cfg.MaxZoom,
	}
}

// Viewpoint is a map center and zoom level.
type Viewpoint struct {
	Center orb.Point
	Zoom   int
}

// Location is a located position: the point, the area it lies within given
// the reported accuracy, and the viewpoint to go to.
type Location struct {
	Point     orb.Point
	Accuracy  float64
	Area      orb.Polygon
	Viewpoint Viewpoint
}

// Locate builds the location for a WGS84 position reported with an accuracy
// radius in meters. The area is a geodesic circle of that radius; it is nil
// when the accuracy is 0.
func (s *State) Locate(lon, lat, accuracy float64) (Location, error) {
	switch {
	case math.IsNaN(lon) || lon < -180 || lon > 180:
		return Location{}, fmt.Errorf("%w: longitude %v", ErrInvalidPoint, lon)
	case math.IsNaN(lat) || lat < -90 || lat > 90:
		return Location{}, fmt.Errorf("%w: latitude %v", ErrInvalidPoint, lat)
	case math.IsNaN(accuracy) || math.IsInf(accuracy, 0) || accuracy < 0:
		return Location{}, fmt.Errorf("%w: accuracy %v", ErrInvalidPoint, accuracy)
	}

	zoom := s.cfg.LocateZoomLevel
	if zoom == 0 {
		zoom = DefaultLocateZoom
	}
	p := orb.Point{lon, lat}
	loc := Location{
		Point:     p,
		Accuracy:  accuracy,
		Viewpoint: Viewpoint{Center: p, Zoom: s.ClampZoom(zoom)},
	}
	if accuracy > 0 {
		loc.Area = accuracyCircle(p, accuracy)
	}
	return loc, nil
}

// accuracyCircle approximates a geodesic circle with a counter-clockwise ring.
func accuracyCircle(center orb.Point, radius float64) orb.Polygon {
	ring := make(orb.Ring, accuracySegments+1)
	for i := 0; i < accuracySegments; i++ {
		bearing := 360 - 360*float64(i)/accuracySegments
		ring[i] = geo.PointAtBearingAndDistance(center, bearing, radius)
	}
	ring[accuracySegments] = ring[0]
	return orb.Polygon{ring}
}
