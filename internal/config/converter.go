package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tofunori/glacier-albedo-west-canada/internal/filter"
	"github.com/tofunori/glacier-albedo-west-canada/internal/view"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// ErrInvalidConfig is returned by Load when parsing or validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadError carries the parse/validation result of a rejected file.
type LoadError struct {
	Result *Result
}

func (e *LoadError) Error() string {
	errs := e.Result.AllErrors()
	if len(errs) == 0 {
		return ErrInvalidConfig.Error()
	}
	return fmt.Sprintf("%s: %v (%d error(s))", ErrInvalidConfig, errs[0], len(errs))
}

func (e *LoadError) Unwrap() error { return ErrInvalidConfig }

// Load parses, validates and converts a configuration file.
func Load(filePath string) (*albedo.Viewer, error) {
	result := ParseConfig(filePath)
	if !result.IsValid() {
		return nil, &LoadError{Result: result}
	}
	return ConvertToViewer(result.Data)
}

// ConvertToViewer converts a validated document into a Viewer, filling every
// omitted section with its default.
//
// Minimal document:
//
//	{
//	  "name": "West Canada albedo",
//	  "version": "1.0",
//	  "layers": [
//	    {"name": "glaciers", "type": "featureService", "url": "https://…/FeatureServer/0"},
//	    {"name": "albedo", "type": "featureService", "url": "https://…/FeatureServer/0"}
//	  ]
//	}
func ConvertToViewer(data map[string]interface{}) (*albedo.Viewer, error) {
	if data == nil {
		return nil, fmt.Errorf("configuration data is nil")
	}

	v := &albedo.Viewer{}
	var ok bool
	if v.Name, ok = data["name"].(string); !ok {
		return nil, fmt.Errorf("missing required field 'name'")
	}
	if v.Version, ok = data["version"].(string); !ok {
		return nil, fmt.Errorf("missing required field 'version'")
	}
	v.Description, _ = data["description"].(string)

	layersData, ok := data["layers"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid 'layers' section")
	}
	for i, raw := range layersData {
		layerMap, isMap := raw.(map[string]interface{})
		if !isMap {
			return nil, fmt.Errorf("invalid layer at index %d", i)
		}
		layer, err := convertLayer(layerMap)
		if err != nil {
			return nil, fmt.Errorf("invalid layer at index %d: %w", i, err)
		}
		v.Layers = append(v.Layers, layer)
	}

	filterMap, _ := data["filter"].(map[string]interface{})
	v.Filter = convertFilter(filterMap)

	mapMap, _ := data["map"].(map[string]interface{})
	v.Map = convertMap(mapMap)

	serverMap, _ := data["server"].(map[string]interface{})
	server, err := convertServer(serverMap)
	if err != nil {
		return nil, err
	}
	v.Server = server

	validationMap, _ := data["validation"].(map[string]interface{})
	validation, err := convertValidation(validationMap)
	if err != nil {
		return nil, err
	}
	v.Validation = validation

	v.ErrorHandling = DefaultErrorHandling()
	if eh, ok := data["errorHandling"].(map[string]interface{}); ok {
		convertErrorHandling(eh, v.ErrorHandling)
	}

	return v, nil
}

func convertLayer(data map[string]interface{}) (albedo.LayerConfig, error) {
	var layer albedo.LayerConfig
	var ok bool
	if layer.Name, ok = data["name"].(string); !ok {
		return layer, fmt.Errorf("missing required field 'name'")
	}
	if layer.Type, ok = data["type"].(string); !ok {
		return layer, fmt.Errorf("missing required field 'type'")
	}
	layer.Title, _ = data["title"].(string)
	layer.URL, _ = data["url"].(string)
	layer.Path, _ = data["path"].(string)
	layer.Token, _ = data["token"].(string)

	if layer.Title == "" {
		layer.Title = layer.Name
	}

	layer.Visible = true
	if visible, ok := data["visible"].(bool); ok {
		layer.Visible = visible
	}

	layer.Opacity = 1
	if layer.Name == albedo.LayerGlaciers {
		layer.Opacity = DefaultGlacierOpacity
	}
	if opacity, ok := toFloat(data["opacity"]); ok {
		layer.Opacity = opacity
	}

	if popupMap, ok := data["popup"].(map[string]interface{}); ok {
		popup := &albedo.PopupConfig{}
		popup.Title, _ = popupMap["title"].(string)
		rows, _ := popupMap["rows"].([]interface{})
		for _, r := range rows {
			rowMap, _ := r.(map[string]interface{})
			label, _ := rowMap["label"].(string)
			tmpl, _ := rowMap["template"].(string)
			popup.Rows = append(popup.Rows, albedo.PopupRow{Label: label, Template: tmpl})
		}
		layer.Popup = popup
	} else {
		layer.Popup = DefaultPopup(layer.Name)
	}

	if infoMap, ok := data["info"].(map[string]interface{}); ok {
		info := &albedo.LayerInfo{}
		info.Description, _ = infoMap["description"].(string)
		info.Source, _ = infoMap["source"].(string)
		info.Fields = toStrings(infoMap["fields"])
		layer.Info = info
	} else {
		layer.Info = DefaultInfo(layer.Name)
	}

	return layer, nil
}

func convertFilter(data map[string]interface{}) albedo.FilterConfig {
	cfg := filter.DefaultConfig()
	if data == nil {
		return cfg
	}
	if target, ok := data["target"].(string); ok {
		cfg.Target = target
	}
	if _, ok := data["dependents"]; ok {
		cfg.Dependents = toStrings(data["dependents"])
	}
	if field, ok := data["meanField"].(string); ok {
		cfg.MeanField = field
	}
	if tmpl, ok := data["yearFieldTemplate"].(string); ok {
		cfg.YearFieldTemplate = tmpl
	}
	if years := toStrings(data["supportedYears"]); len(years) > 0 {
		cfg.SupportedYears = years
	}
	if t, ok := toFloat(data["defaultThreshold"]); ok {
		cfg.DefaultThreshold = t
	}
	return cfg
}

func convertMap(data map[string]interface{}) albedo.MapConfig {
	cfg := albedo.MapConfig{
		Basemaps:        view.DefaultBasemaps(),
		DefaultBasemap:  view.DefaultBasemap,
		InitialExtent:   view.DefaultExtent(),
		MinZoom:         view.DefaultMinZoom,
		MaxZoom:         view.DefaultMaxZoom,
		LocateZoomLevel: view.DefaultLocateZoom,
	}
	if data == nil {
		return cfg
	}

	if basemaps, ok := data["basemaps"].([]interface{}); ok && len(basemaps) > 0 {
		cfg.Basemaps = nil
		for _, b := range basemaps {
			bm, _ := b.(map[string]interface{})
			id, _ := bm["id"].(string)
			name, _ := bm["name"].(string)
			desc, _ := bm["description"].(string)
			if name == "" {
				name = id
			}
			cfg.Basemaps = append(cfg.Basemaps, albedo.Basemap{ID: id, Name: name, Description: desc})
		}
	}
	if def, ok := data["defaultBasemap"].(string); ok {
		cfg.DefaultBasemap = def
	}
	if ext, ok := data["initialExtent"].(map[string]interface{}); ok {
		cfg.InitialExtent.XMin, _ = toFloat(ext["xmin"])
		cfg.InitialExtent.YMin, _ = toFloat(ext["ymin"])
		cfg.InitialExtent.XMax, _ = toFloat(ext["xmax"])
		cfg.InitialExtent.YMax, _ = toFloat(ext["ymax"])
		if wkid, ok := toFloat(ext["wkid"]); ok {
			cfg.InitialExtent.SpatialReference = &albedo.SpatialReference{WKID: int(wkid)}
		}
	}
	if z, ok := toFloat(data["minZoom"]); ok {
		cfg.MinZoom = int(z)
	}
	if z, ok := toFloat(data["maxZoom"]); ok {
		cfg.MaxZoom = int(z)
	}
	if z, ok := toFloat(data["locateZoomLevel"]); ok {
		cfg.LocateZoomLevel = int(z)
	}
	return cfg
}

func convertServer(data map[string]interface{}) (albedo.ServerConfig, error) {
	cfg := DefaultServer()
	if data == nil {
		return cfg, nil
	}
	if addr, ok := data["listenAddress"].(string); ok && addr != "" {
		cfg.ListenAddress = addr
	}
	for key, dst := range map[string]*time.Duration{
		"readTimeout":  &cfg.ReadTimeout,
		"writeTimeout": &cfg.WriteTimeout,
	} {
		raw, present := data[key]
		if !present {
			continue
		}
		d, err := toDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid server.%s: %w", key, err)
		}
		*dst = d
	}
	return cfg, nil
}

func convertValidation(data map[string]interface{}) (albedo.ValidationConfig, error) {
	cfg := DefaultValidation()
	if data == nil {
		return cfg, nil
	}
	for key, dst := range map[string]*bool{
		"serviceMetadata": &cfg.ServiceMetadata,
		"sampleQueries":   &cfg.SampleQueries,
		"dataQuality":     &cfg.DataQuality,
		"performance":     &cfg.Performance,
	} {
		if b, ok := data[key].(bool); ok {
			*dst = b
		}
	}
	if n, ok := toFloat(data["iterations"]); ok {
		cfg.Iterations = int(n)
	}
	if n, ok := toFloat(data["sampleSize"]); ok {
		cfg.SampleSize = int(n)
	}
	cfg.HistoryPath, _ = data["historyPath"].(string)
	cfg.Schedule, _ = data["schedule"].(string)
	if raw, ok := data["interval"]; ok {
		d, err := toDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid validation.interval: %w", err)
		}
		cfg.Interval = d
	}
	return cfg, nil
}

func convertErrorHandling(data map[string]interface{}, eh *albedo.ErrorHandling) {
	if n, ok := toFloat(data["retryCount"]); ok {
		eh.RetryCount = int(n)
	}
	if n, ok := toFloat(data["retryDelay"]); ok {
		eh.RetryDelay = int(n)
	}
	if n, ok := toFloat(data["timeoutMs"]); ok {
		eh.TimeoutMs = int(n)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// toStrings accepts string and numeric items so that unquoted YAML years work.
func toStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch s := item.(type) {
		case string:
			out = append(out, s)
		default:
			if f, ok := toFloat(s); ok {
				out = append(out, strconv.FormatFloat(f, 'f', -1, 64))
			}
		}
	}
	return out
}

// toDuration accepts Go duration strings ("15s") or integer milliseconds.
func toDuration(v interface{}) (time.Duration, error) {
	if s, ok := v.(string); ok {
		return time.ParseDuration(s)
	}
	if ms, ok := toFloat(v); ok {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, fmt.Errorf("expected duration string or milliseconds, got %T", v)
}
