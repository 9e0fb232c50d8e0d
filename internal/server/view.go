package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb/geojson"

	"github.com/tofunori/glacier-albedo-west-canada/internal/view"
)

type basemapRequest struct {
	ID string `json:"id"`
}

type layerViewRequest struct {
	Visible *bool    `json:"visible"`
	Opacity *float64 `json:"opacity"`
}

type locateRequest struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
	Accuracy  float64  `json:"accuracy"`
}

type viewpointResponse struct {
	Center [2]float64 `json:"center"`
	Zoom   int        `json:"zoom"`
}

type locateResponse struct {
	Location  *geojson.FeatureCollection `json:"location"`
	Accuracy  float64                    `json:"accuracy"`
	Viewpoint viewpointResponse          `json:"viewpoint"`
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view.Snapshot())
}

func (s *Server) handleSetBasemap(w http.ResponseWriter, r *http.Request) {
	var req basemapRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON object", map[string]any{"error": err.Error()})
		return
	}
	if err := s.view.SetBasemap(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_basemap", err.Error(), map[string]any{"id": req.ID})
		return
	}
	writeJSON(w, http.StatusOK, s.view.Snapshot())
}

func (s *Server) handleSetLayerView(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "layer")
	var req layerViewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON object", map[string]any{"error": err.Error()})
		return
	}

	st, ok := s.view.Layer(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown layer", map[string]any{"layer": name})
		return
	}

	var err error
	if req.Opacity != nil {
		st, err = s.view.SetOpacity(name, *req.Opacity)
	}
	if err == nil && req.Visible != nil {
		st, err = s.view.SetVisibility(name, *req.Visible)
	}
	switch {
	case errors.Is(err, view.ErrInvalidOpacity):
		writeError(w, http.StatusBadRequest, "invalid_opacity", err.Error(), map[string]any{"layer": name})
	case errors.Is(err, view.ErrUnknownLayer):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), map[string]any{"layer": name})
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	var req locateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON object", map[string]any{"error": err.Error()})
		return
	}
	if req.Longitude == nil || req.Latitude == nil {
		writeError(w, http.StatusBadRequest, "invalid_location", "longitude and latitude are required", nil)
		return
	}

	loc, err := s.view.Locate(*req.Longitude, *req.Latitude, req.Accuracy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_location", err.Error(), nil)
		return
	}

	fc := geojson.NewFeatureCollection()
	if loc.Area != nil {
		area := geojson.NewFeature(loc.Area)
		area.Properties["kind"] = "accuracy"
		area.Properties["radius"] = loc.Accuracy
		fc.Append(area)
	}
	point := geojson.NewFeature(loc.Point)
	point.Properties["kind"] = "location"
	fc.Append(point)

	writeJSON(w, http.StatusOK, locateResponse{
		Location: fc,
		Accuracy: loc.Accuracy,
		Viewpoint: viewpointResponse{
			Center: [2]float64{loc.Viewpoint.Center.Lon(), loc.Viewpoint.Center.Lat()},
			Zoom:   loc.Viewpoint.Zoom,
		},
	})
}
