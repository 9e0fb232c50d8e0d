package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
	"github.com/tofunori/glacier-albedo-west-canada/internal/geojson"
	"github.com/tofunori/glacier-albedo-west-canada/internal/layer"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/internal/popup"
	"github.com/tofunori/glacier-albedo-west-canada/internal/predicate"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

type layerSummary struct {
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Type         string   `json:"type"`
	Ready        bool     `json:"ready"`
	Visible      bool     `json:"visible"`
	Opacity      float64  `json:"opacity"`
	Filter       *string  `json:"filter"`
	GeometryType string   `json:"geometryType,omitempty"`
	Fields       []string `json:"fields,omitempty"`
}

func (s *Server) handleListLayers(w http.ResponseWriter, r *http.Request) {
	out := make([]layerSummary, 0, len(s.viewer.Layers))
	for i := range s.viewer.Layers {
		cfg := &s.viewer.Layers[i]
		sum := layerSummary{Name: cfg.Name, Title: cfg.Title, Type: cfg.Type}
		if st, ok := s.view.Layer(cfg.Name); ok {
			sum.Visible, sum.Opacity = st.Visible, st.Opacity
		}
		if c, ok := s.session.Get(cfg.Name); ok {
			sum.Ready = c.Ready()
			sum.Filter = c.Filter()
			if d, ok := c.(layer.Describer); ok && d.Metadata() != nil {
				meta := d.Metadata()
				sum.GeometryType = meta.GeometryType
				for _, f := range meta.Fields {
					sum.Fields = append(sum.Fields, f.Name)
				}
			}
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) layerConfig(w http.ResponseWriter, r *http.Request) (*albedo.LayerConfig, bool) {
	name := chi.URLParam(r, "layer")
	cfg := s.viewer.Layer(name)
	if cfg == nil {
		writeError(w, http.StatusNotFound, "not_found", "unknown layer", map[string]any{"layer": name})
		return nil, false
	}
	return cfg, true
}

func (s *Server) readyCollection(w http.ResponseWriter, name string) (layer.Collection, bool) {
	c, ok := s.session.Get(name)
	if !ok || !c.Ready() {
		writeError(w, http.StatusServiceUnavailable, "CollectionUnavailable", "layer is not loaded", map[string]any{"layer": name})
		return nil, false
	}
	return c, true
}

func (s *Server) handleLayerInfo(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.layerConfig(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, popup.Info(cfg))
}

// handleFeatures returns the layer's features as GeoJSON. The layer's active
// filter always applies; ?where= narrows it further.
func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.layerConfig(w, r)
	if !ok {
		return
	}
	c, ok := s.readyCollection(w, cfg.Name)
	if !ok {
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid limit", map[string]any{"error": err.Error()})
		return
	}

	fs, err := c.Query(r.Context(), layer.QueryOptions{
		Where:          r.URL.Query().Get("where"),
		Limit:          limit,
		ReturnGeometry: true,
	})
	if err != nil {
		s.queryFailed(w, cfg.Name, err)
		return
	}

	fc, err := geojson.FromFeatureSet(fs, objectIDField(c))
	if err != nil {
		s.queryFailed(w, cfg.Name, err)
		return
	}
	if fs.ExceededLimit {
		w.Header().Set("X-Exceeded-Transfer-Limit", "true")
	}
	w.Header().Set("Content-Type", "application/geo+json")
	data, err := fc.MarshalJSON()
	if err != nil {
		s.queryFailed(w, cfg.Name, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handlePopup(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.layerConfig(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "feature id must be an integer", map[string]any{"id": chi.URLParam(r, "id")})
		return
	}
	c, ok := s.readyCollection(w, cfg.Name)
	if !ok {
		return
	}

	fs, err := c.Query(r.Context(), layer.QueryOptions{ObjectIDs: []int64{id}, Limit: 1})
	if err != nil {
		s.queryFailed(w, cfg.Name, err)
		return
	}
	if len(fs.Features) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "feature not found", map[string]any{"layer": cfg.Name, "id": id})
		return
	}

	p := s.popups.Render(cfg, fs.Features[0])
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(p.Text()))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) queryFailed(w http.ResponseWriter, layerName string, err error) {
	if errors.Is(err, layer.ErrUnbound) {
		writeError(w, http.StatusServiceUnavailable, "CollectionUnavailable", err.Error(), map[string]any{"layer": layerName})
		return
	}
	if errors.Is(err, predicate.ErrInvalidExpression) || errhandling.GetErrorCategory(err) == errhandling.CategoryValidation {
		writeError(w, http.StatusBadRequest, "invalid_where", err.Error(), map[string]any{"layer": layerName})
		return
	}
	logger.LogError("layer query failed", logger.ErrorContext{
		Operation: "query",
		Layer:     layerName,
		Err:       err,
	})
	writeError(w, http.StatusBadGateway, "query_failed", err.Error(), map[string]any{"layer": layerName})
}

func objectIDField(c layer.Collection) string {
	if d, ok := c.(layer.Describer); ok && d.Metadata() != nil && d.Metadata().ObjectIDField != "" {
		return d.Metadata().ObjectIDField
	}
	return layer.DefaultObjectIDField
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultFeatureLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("limit must be positive")
	}
	return min(n, MaxFeatureLimit), nil
}
