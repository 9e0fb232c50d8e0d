package albedo

import (
	"encoding/json"
	"testing"
)

func TestActivePredicate(t *testing.T) {
	var unfiltered ActivePredicate
	if unfiltered.IsFiltered() {
		t.Error("zero value should be unfiltered")
	}
	if got := unfiltered.ExpressionString(); got != "" {
		t.Errorf("ExpressionString() = %q, want empty", got)
	}

	expr := "AlbedoMean <= 0.5"
	filtered := ActivePredicate{
		Expression: &expr,
		Selection:  &FilterSelection{Threshold: 0.5, YearToken: YearAll},
	}
	if !filtered.IsFiltered() {
		t.Error("expected filtered")
	}
	if got := filtered.ExpressionString(); got != expr {
		t.Errorf("ExpressionString() = %q, want %q", got, expr)
	}
}

func TestActivePredicate_JSON(t *testing.T) {
	data, err := json.Marshal(ActivePredicate{})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"expression":null,"selection":null}` {
		t.Errorf("unfiltered JSON = %s", data)
	}
}

func TestViewer_Layer(t *testing.T) {
	v := &Viewer{Layers: []LayerConfig{{Name: LayerGlaciers}, {Name: LayerAlbedo}}}

	l := v.Layer(LayerAlbedo)
	if l == nil || l.Name != LayerAlbedo {
		t.Fatalf("Layer(albedo) = %+v", l)
	}
	l.Name = "renamed"
	if v.Layers[1].Name != "renamed" {
		t.Error("Layer() should return a pointer into the slice")
	}
	if v.Layer("missing") != nil {
		t.Error("Layer(missing) should be nil")
	}
}

func TestLayerMetadata_HasField(t *testing.T) {
	m := &LayerMetadata{Fields: []Field{{Name: "OBJECTID"}, {Name: "AlbedoMean"}}}

	tests := []struct {
		name string
		want bool
	}{
		{"AlbedoMean", true},
		{"albedomean", true},
		{"OBJECTID", true},
		{"Albedo2020", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := m.HasField(tt.name); got != tt.want {
			t.Errorf("HasField(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
