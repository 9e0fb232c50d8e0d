// Package geojson converts Esri JSON geometries returned by feature services
// into orb geometries and GeoJSON, and loads GeoJSON files as features.
package geojson

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// ErrUnsupportedGeometry is returned for Esri geometries without x/y,
// points, paths or rings.
var ErrUnsupportedGeometry = errors.New("unsupported esri geometry")

// ToGeometry converts an Esri JSON geometry object to an orb geometry.
// Polygon rings follow the Esri convention: clockwise rings are exteriors,
// counter-clockwise rings are holes of the preceding exterior. Output
// polygons use the GeoJSON orientation (counter-clockwise exteriors).
func ToGeometry(esri map[string]interface{}) (orb.Geometry, error) {
	if esri == nil {
		return nil, nil
	}

	if x, ok := esri["x"]; ok {
		px, okx := toFloat(x)
		py, oky := toFloat(esri["y"])
		if !okx || !oky {
			return nil, fmt.Errorf("%w: point without numeric x/y", ErrUnsupportedGeometry)
		}
		return orb.Point{px, py}, nil
	}

	if raw, ok := esri["points"]; ok {
		points, err := toPoints(raw)
		if err != nil {
			return nil, err
		}
		return orb.MultiPoint(points), nil
	}

	if raw, ok := esri["paths"]; ok {
		paths, err := toPointLists(raw)
		if err != nil {
			return nil, err
		}
		if len(paths) == 1 {
			return orb.LineString(paths[0]), nil
		}
		mls := make(orb.MultiLineString, len(paths))
		for i, p := range paths {
			mls[i] = orb.LineString(p)
		}
		return mls, nil
	}

	if raw, ok := esri["rings"]; ok {
		rings, err := toPointLists(raw)
		if err != nil {
			return nil, err
		}
		return ringsToPolygons(rings), nil
	}

	return nil, ErrUnsupportedGeometry
}

func ringsToPolygons(lists [][]orb.Point) orb.Geometry {
	var polygons orb.MultiPolygon
	for _, pts := range lists {
		ring := closeRing(orb.Ring(pts))
		if len(ring) < 4 {
			continue
		}
		if ring.Orientation() == orb.CW || len(polygons) == 0 {
			outer := ring.Clone()
			if outer.Orientation() == orb.CW {
				outer.Reverse()
			}
			polygons = append(polygons, orb.Polygon{outer})
			continue
		}
		hole := ring.Clone()
		if hole.Orientation() == orb.CCW {
			hole.Reverse()
		}
		last := len(polygons) - 1
		polygons[last] = append(polygons[last], hole)
	}

	switch len(polygons) {
	case 0:
		return orb.Polygon{}
	case 1:
		return polygons[0]
	default:
		return polygons
	}
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) > 0 && !r.Closed() {
		r = append(r, r[0])
	}
	return r
}

// FromGeometry converts an orb geometry to an Esri JSON geometry object.
// Collections and bounds are not representable and return an error.
func FromGeometry(g orb.Geometry) (map[string]interface{}, error) {
	switch geom := g.(type) {
	case nil:
		return nil, nil
	case orb.Point:
		return map[string]interface{}{"x": geom[0], "y": geom[1]}, nil
	case orb.MultiPoint:
		return map[string]interface{}{"points": fromPoints(geom)}, nil
	case orb.LineString:
		return map[string]interface{}{"paths": []interface{}{fromPoints(geom)}}, nil
	case orb.MultiLineString:
		paths := make([]interface{}, len(geom))
		for i, ls := range geom {
			paths[i] = fromPoints(ls)
		}
		return map[string]interface{}{"paths": paths}, nil
	case orb.Polygon:
		return map[string]interface{}{"rings": polygonRings(geom)}, nil
	case orb.MultiPolygon:
		var rings []interface{}
		for _, p := range geom {
			rings = append(rings, polygonRings(p)...)
		}
		return map[string]interface{}{"rings": rings}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
}

// polygonRings emits the exterior clockwise and holes counter-clockwise.
func polygonRings(p orb.Polygon) []interface{} {
	rings := make([]interface{}, 0, len(p))
	for i, r := range p {
		ring := closeRing(r.Clone())
		want := orb.CCW
		if i == 0 {
			want = orb.CW
		}
		if ring.Orientation() != want {
			ring.Reverse()
		}
		rings = append(rings, fromPoints(ring))
	}
	return rings
}

func fromPoints[T ~[]orb.Point](pts T) []interface{} {
	out := make([]interface{}, len(pts))
	for i, p := range pts {
		out[i] = []interface{}{p[0], p[1]}
	}
	return out
}

func toPoints(raw interface{}) ([]orb.Point, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected coordinate array", ErrUnsupportedGeometry)
	}
	points := make([]orb.Point, 0, len(list))
	for _, item := range list {
		coord, ok := item.([]interface{})
		if !ok || len(coord) < 2 {
			return nil, fmt.Errorf("%w: malformed coordinate", ErrUnsupportedGeometry)
		}
		x, okx := toFloat(coord[0])
		y, oky := toFloat(coord[1])
		if !okx || !oky {
			return nil, fmt.Errorf("%w: non-numeric coordinate", ErrUnsupportedGeometry)
		}
		points = append(points, orb.Point{x, y})
	}
	return points, nil
}

func toPointLists(raw interface{}) ([][]orb.Point, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: expected array of paths", ErrUnsupportedGeometry)
	}
	out := make([][]orb.Point, 0, len(list))
	for _, item := range list {
		pts, err := toPoints(item)
		if err != nil {
			return nil, err
		}
		out = append(out, pts)
	}
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
