// Package albedo provides public types for the glacier albedo viewer runtime.
// This package is intended to be importable by external projects that need
// to drive the viewer's filter state or read its configuration.
package albedo

import (
	"strings"
	"time"
)

// YearAll is the year token selecting the multi-year mean field.
const YearAll = "all"

// Well-known layer names.
const (
	LayerGlaciers = "glaciers"
	LayerAlbedo   = "albedo"
)

// FilterSelection is the pair of UI inputs a filter is derived from.
type FilterSelection struct {
	// Threshold is an albedo fraction, expected in [0, 1] but not enforced.
	Threshold float64 `json:"threshold"`

	// YearToken is YearAll or a year from the configured supported set.
	YearToken string `json:"year"`
}

// ActivePredicate is the attribute predicate currently applied to the albedo
// collection. Expression and Selection are both nil when unfiltered.
type ActivePredicate struct {
	Expression *string          `json:"expression"`
	Selection  *FilterSelection `json:"selection"`
}

// IsFiltered reports whether a predicate is applied.
func (p ActivePredicate) IsFiltered() bool {
	return p.Expression != nil
}

// ExpressionString returns the expression or "" when unfiltered.
func (p ActivePredicate) ExpressionString() string {
	if p.Expression == nil {
		return ""
	}
	return *p.Expression
}

// Viewer represents a complete viewer configuration.
// It is produced by the config package from a JSON/YAML document.
type Viewer struct {
	// Name is the human-readable name of the viewer
	Name string `json:"name"`

	// Version is the configuration version
	Version string `json:"version"`

	// Description provides additional context
	Description string `json:"description,omitempty"`

	// Layers lists the feature collections, keyed by Layer.Name
	Layers []LayerConfig `json:"layers"`

	// Filter configures predicate construction
	Filter FilterConfig `json:"filter"`

	// Map configures basemaps and the initial viewpoint
	Map MapConfig `json:"map"`

	// Server configures the HTTP API
	Server ServerConfig `json:"server"`

	// Validation configures the service data checks
	Validation ValidationConfig `json:"validation"`

	// ErrorHandling configures retries against the feature service
	ErrorHandling *ErrorHandling `json:"errorHandling,omitempty"`
}

// Layer returns the layer configuration with the given name, or nil.
func (v *Viewer) Layer(name string) *LayerConfig {
	for i := range v.Layers {
		if v.Layers[i].Name == name {
			return &v.Layers[i]
		}
	}
	return nil
}

// LayerConfig describes one feature collection.
type LayerConfig struct {
	// Name identifies the layer (e.g. "glaciers", "albedo")
	Name string `json:"name"`

	// Type is the source kind ("featureService", "geojson")
	Type string `json:"type"`

	// Title is the display title
	Title string `json:"title,omitempty"`

	// URL is the FeatureServer layer URL (featureService)
	URL string `json:"url,omitempty"`

	// Path is a GeoJSON file path (geojson)
	Path string `json:"path,omitempty"`

	// Token is an optional pre-issued access token appended to requests
	Token string `json:"token,omitempty"`

	// Visible is the initial visibility
	Visible bool `json:"visible"`

	// Opacity is the initial opacity in [0, 1]
	Opacity float64 `json:"opacity"`

	// Popup configures the feature popup
	Popup *PopupConfig `json:"popup,omitempty"`

	// Info is the layer information card
	Info *LayerInfo `json:"info,omitempty"`
}

// PopupConfig is a declarative popup template.
type PopupConfig struct {
	Title string     `json:"title"`
	Rows  []PopupRow `json:"rows,omitempty"`
}

// PopupRow is one labelled line of a popup.
type PopupRow struct {
	Label    string `json:"label"`
	Template string `json:"template"`
}

// LayerInfo is the descriptive card shown for a layer.
type LayerInfo struct {
	Description string   `json:"description"`
	Source      string   `json:"source"`
	Fields      []string `json:"fields"`
}

// FilterConfig configures how selections become predicates.
type FilterConfig struct {
	// Target is the layer the predicate is applied to
	Target string `json:"target"`

	// Dependents are layers cleared together with the target
	Dependents []string `json:"dependents,omitempty"`

	// MeanField is the field compared when the year token is YearAll
	MeanField string `json:"meanField"`

	// YearFieldTemplate builds per-year field names; "{year}" is replaced
	YearFieldTemplate string `json:"yearFieldTemplate"`

	// SupportedYears is the set of accepted year tokens
	SupportedYears []string `json:"supportedYears"`

	// DefaultThreshold is the slider reset value
	DefaultThreshold float64 `json:"defaultThreshold"`
}

// MapConfig configures the map view.
type MapConfig struct {
	Basemaps        []Basemap `json:"basemaps"`
	DefaultBasemap  string    `json:"defaultBasemap"`
	InitialExtent   Extent    `json:"initialExtent"`
	MinZoom         int       `json:"minZoom"`
	MaxZoom         int       `json:"maxZoom"`
	LocateZoomLevel int       `json:"locateZoomLevel"`
}

// Basemap is a selectable background map.
type Basemap struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddress string        `json:"listenAddress"`
	ReadTimeout   time.Duration `json:"readTimeout"`
	WriteTimeout  time.Duration `json:"writeTimeout"`
}

// ValidationConfig selects which service checks run.
type ValidationConfig struct {
	ServiceMetadata bool `json:"serviceMetadata"`
	SampleQueries   bool `json:"sampleQueries"`
	DataQuality     bool `json:"dataQuality"`
	Performance     bool `json:"performance"`

	// Iterations is the number of performance runs per query
	Iterations int `json:"iterations"`

	// SampleSize is the record count fetched for data quality checks
	SampleSize int `json:"sampleSize"`

	// HistoryPath is the SQLite file validation reports are appended to
	HistoryPath string `json:"historyPath,omitempty"`

	// Interval schedules recurring checks while serving; 0 disables them
	Interval time.Duration `json:"interval,omitempty"`

	// Schedule is a CRON expression for recurring checks; it takes
	// precedence over Interval
	Schedule string `json:"schedule,omitempty"`
}

// CheckSchedule returns the CRON expression recurring checks run on, or ""
// when they are disabled.
func (v ValidationConfig) CheckSchedule() string {
	if v.Schedule != "" {
		return v.Schedule
	}
	if v.Interval > 0 {
		return "@every " + v.Interval.String()
	}
	return ""
}

// ErrorHandling defines retry behavior against the feature service.
type ErrorHandling struct {
	// RetryCount is the number of retry attempts
	RetryCount int `json:"retryCount"`

	// RetryDelay is the initial delay between retries in milliseconds
	RetryDelay int `json:"retryDelay"`

	// TimeoutMs is the per-request timeout in milliseconds
	TimeoutMs int `json:"timeoutMs"`
}

// SpatialReference identifies a coordinate system by well-known ID.
type SpatialReference struct {
	WKID       int `json:"wkid,omitempty"`
	LatestWKID int `json:"latestWkid,omitempty"`
}

// Extent is an axis-aligned bounding box.
type Extent struct {
	XMin             float64           `json:"xmin"`
	YMin             float64           `json:"ymin"`
	XMax             float64           `json:"xmax"`
	YMax             float64           `json:"ymax"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
}

// Field describes one attribute of a feature layer.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias,omitempty"`
}

// LayerMetadata is the subset of a FeatureServer layer document the runtime uses.
type LayerMetadata struct {
	Name          string  `json:"name"`
	GeometryType  string  `json:"geometryType"`
	Fields        []Field `json:"fields"`
	Extent        *Extent `json:"extent,omitempty"`
	ObjectIDField string  `json:"objectIdField,omitempty"`
	MaxRecords    int     `json:"maxRecordCount,omitempty"`
}

// HasField reports whether the layer declares a field (case-insensitive).
func (m *LayerMetadata) HasField(name string) bool {
	for _, f := range m.Fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Feature is a record with attributes and an Esri JSON geometry.
type Feature struct {
	Attributes map[string]interface{} `json:"attributes"`
	Geometry   map[string]interface{} `json:"geometry,omitempty"`
}

// FeatureSet is the result of a feature query.
type FeatureSet struct {
	GeometryType     string            `json:"geometryType,omitempty"`
	SpatialReference *SpatialReference `json:"spatialReference,omitempty"`
	Features         []Feature         `json:"features"`
	Count            int               `json:"count,omitempty"`
	ExceededLimit    bool              `json:"exceededTransferLimit,omitempty"`
}
