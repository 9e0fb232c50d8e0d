package popup

import (
	"strings"
	"testing"

	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

func albedoFeature() albedo.Feature {
	return albedo.Feature{Attributes: map[string]interface{}{
		"GlacierName":  "Athabasca",
		"AlbedoMean":   0.41237,
		"AlbedoChange": -3.1,
		"Trend":        "Decreasing",
		"Albedo2020":   nil,
	}}
}

func TestBuilder_RenderConfiguredRows(t *testing.T) {
	cfg := &albedo.LayerConfig{
		Name:  albedo.LayerAlbedo,
		Title: "Albedo measurement points",
		Popup: &albedo.PopupConfig{
			Title: "Albedo - Glacier {{GlacierName}}",
			Rows: []albedo.PopupRow{
				{Label: "Mean albedo (2014-2024)", Template: "{{AlbedoMean | places: 3}}"},
				{Label: "Total change", Template: "{{AlbedoChange}}%"},
				{Label: "2020", Template: "{{Albedo2020 | default: \"no data\"}}"},
			},
		},
	}

	got := NewBuilder().Render(cfg, albedoFeature())

	if got.Title != "Albedo - Glacier Athabasca" {
		t.Errorf("Title = %q", got.Title)
	}
	want := []Row{
		{"Mean albedo (2014-2024)", "0.412"},
		{"Total change", "-3.1%"},
		{"2020", "no data"},
	}
	if len(got.Rows) != len(want) {
		t.Fatalf("Rows = %+v", got.Rows)
	}
	for i := range want {
		if got.Rows[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got.Rows[i], want[i])
		}
	}
}

func TestBuilder_RenderAttributeDump(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *albedo.LayerConfig
		wantTitle string
	}{
		{"no popup config", &albedo.LayerConfig{Name: "albedo", Title: "Albedo points"}, "Albedo points"},
		{"title only", &albedo.LayerConfig{Name: "albedo", Popup: &albedo.PopupConfig{Title: "{{GlacierName}}"}}, "Athabasca"},
		{"no title", &albedo.LayerConfig{Name: "albedo"}, "albedo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewBuilder().Render(tt.cfg, albedoFeature())
			if got.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", got.Title, tt.wantTitle)
			}
			if len(got.Rows) != 5 {
				t.Fatalf("Rows = %d, want 5", len(got.Rows))
			}
			if got.Rows[0].Label != "Albedo2020" || got.Rows[0].Value != "" {
				t.Errorf("first row = %+v, want sorted Albedo2020 with empty value", got.Rows[0])
			}
			if got.Rows[4].Label != "Trend" {
				t.Errorf("last row = %+v, want Trend", got.Rows[4])
			}
		})
	}
}

func TestPopup_Text(t *testing.T) {
	p := Popup{Title: "Glacier: RGI60-02.01234", Rows: []Row{{"Name", "Athabasca"}, {"Area", "5.9"}}}
	text := p.Text()
	if !strings.HasPrefix(text, "Glacier: RGI60-02.01234\n") {
		t.Errorf("Text() = %q", text)
	}
	if !strings.Contains(text, "  Name:  Athabasca\n") || !strings.Contains(text, "  Area:  5.9\n") {
		t.Errorf("Text() = %q", text)
	}
}

func TestInfo(t *testing.T) {
	cfg := &albedo.LayerConfig{
		Name:  albedo.LayerGlaciers,
		Title: "Western Canada glaciers (RGI v7.0)",
		Info: &albedo.LayerInfo{
			Description: "Glacier outlines from the Randolph Glacier Inventory",
			Source:      "GLIMS/RGI Consortium",
			Fields:      []string{"RGIId", "Name", "Area"},
		},
	}
	card := Info(cfg)
	if card.Title != cfg.Title || card.Source != "GLIMS/RGI Consortium" || len(card.Fields) != 3 {
		t.Errorf("Info() = %+v", card)
	}
	if !strings.Contains(card.Text(), "  • RGIId\n") {
		t.Errorf("Text() = %q", card.Text())
	}

	fallback := Info(&albedo.LayerConfig{Name: "extra"})
	if fallback.Title != "extra" || fallback.Description != UnknownDescription || fallback.Source != UnknownSource {
		t.Errorf("fallback = %+v", fallback)
	}
	if fallback.Fields == nil || strings.Contains(fallback.Text(), "Main fields") {
		t.Errorf("fallback fields = %v", fallback.Fields)
	}
}
