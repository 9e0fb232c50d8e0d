package geojson

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/tofunori/glacier-albedo-west-canada/internal/pathutil"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// FromFeatureSet converts a feature set to a GeoJSON feature collection.
// Attributes become properties; idField, when present, becomes the feature id.
func FromFeatureSet(fs *albedo.FeatureSet, idField string) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	if fs == nil {
		return fc, nil
	}

	for i, f := range fs.Features {
		geom, err := ToGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		var feature *geojson.Feature
		if geom != nil {
			feature = geojson.NewFeature(geom)
		} else {
			feature = &geojson.Feature{Type: "Feature", Properties: geojson.Properties{}}
		}
		for k, v := range f.Attributes {
			feature.Properties[k] = v
		}
		if id, ok := f.Attributes[idField]; ok && idField != "" {
			feature.ID = id
		}
		fc.Append(feature)
	}
	return fc, nil
}

// ToFeatures converts a GeoJSON feature collection to features with Esri
// geometries. Features without an idField property get a 1-based sequence id.
func ToFeatures(fc *geojson.FeatureCollection, idField string) ([]albedo.Feature, error) {
	features := make([]albedo.Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		esri, err := FromGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		attrs := make(map[string]interface{}, len(f.Properties)+1)
		for k, v := range f.Properties {
			attrs[k] = v
		}
		if _, ok := attrs[idField]; !ok && idField != "" {
			attrs[idField] = float64(i + 1)
		}
		features = append(features, albedo.Feature{Attributes: attrs, Geometry: esri})
	}
	return features, nil
}

// Load reads a GeoJSON FeatureCollection file.
func Load(path string) (*geojson.FeatureCollection, error) {
	if err := pathutil.ValidateFilePath(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geojson file: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson file %s: %w", path, err)
	}
	return fc, nil
}

// Extent returns the bounding box of every feature in WGS84, or nil when the
// collection has no geometry.
func Extent(fc *geojson.FeatureCollection) *albedo.Extent {
	var bound orb.Bound
	found := false
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if !found {
			bound = f.Geometry.Bound()
			found = true
			continue
		}
		bound = bound.Union(f.Geometry.Bound())
	}
	if !found {
		return nil
	}
	return &albedo.Extent{
		XMin:             bound.Min.X(),
		YMin:             bound.Min.Y(),
		XMax:             bound.Max.X(),
		YMax:             bound.Max.Y(),
		SpatialReference: &albedo.SpatialReference{WKID: 4326},
	}
}

// GeometryType maps the first feature's GeoJSON type to the Esri geometry type.
func GeometryType(fc *geojson.FeatureCollection) string {
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		switch f.Geometry.GeoJSONType() {
		case "Point":
			return "esriGeometryPoint"
		case "MultiPoint":
			return "esriGeometryMultipoint"
		case "LineString", "MultiLineString":
			return "esriGeometryPolyline"
		case "Polygon", "MultiPolygon":
			return "esriGeometryPolygon"
		}
	}
	return ""
}
