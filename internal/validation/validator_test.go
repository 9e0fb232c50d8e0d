package validation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
	"github.com/tofunori/glacier-albedo-west-canada/internal/featureservice"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

type fakeArcGIS struct {
	albedoFeatures []map[string]interface{}
	failAlbedo     bool

	mu      sync.Mutex
	queries []string
}

func (f *fakeArcGIS) whereClauses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func (f *fakeArcGIS) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		isAlbedo := strings.HasPrefix(r.URL.Path, "/albedo")

		if isAlbedo && f.failAlbedo {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": 400, "message": "Invalid query"},
			})
			return
		}

		if !strings.HasSuffix(r.URL.Path, "/query") {
			name, geom := "Glaciers", "esriGeometryPolygon"
			if isAlbedo {
				name, geom = "Albedo_Points", "esriGeometryPoint"
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"name":         name,
				"geometryType": geom,
				"fields":       []map[string]string{{"name": "OBJECTID"}, {"name": "AlbedoMean"}},
				"extent":       map[string]interface{}{"spatialReference": map[string]int{"wkid": 4326}},
			})
			return
		}

		f.mu.Lock()
		f.queries = append(f.queries, q.Get("where"))
		f.mu.Unlock()
		if q.Get("returnCountOnly") == "true" {
			count := 1200
			if isAlbedo {
				count = len(f.albedoFeatures)
			}
			_ = json.NewEncoder(w).Encode(map[string]int{"count": count})
			return
		}

		features := []map[string]interface{}{}
		if isAlbedo {
			for _, attrs := range f.albedoFeatures {
				features = append(features, map[string]interface{}{"attributes": attrs})
			}
		} else {
			features = append(features, map[string]interface{}{
				"attributes": map[string]interface{}{"RGIId": "RGI60-02.00001", "Name": nil, "Area": 1.2},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"features": features})
	})
}

func newTestValidator(t *testing.T, fake *fakeArcGIS, cfg albedo.ValidationConfig) *Validator {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client := featureservice.NewClient(
		featureservice.WithHTTPClient(srv.Client()),
		featureservice.WithRetry(errhandling.NoRetry()),
	)
	return New(cfg, client, Targets{
		GlacierURL: srv.URL + "/glaciers/FeatureServer/0",
		AlbedoURL:  srv.URL + "/albedo/FeatureServer/0",
	})
}

func allGroups() albedo.ValidationConfig {
	return albedo.ValidationConfig{
		ServiceMetadata: true, SampleQueries: true, DataQuality: true, Performance: true,
		Iterations: 2, SampleSize: 10,
	}
}

func sampleAlbedo() []map[string]interface{} {
	return []map[string]interface{}{
		{"GlacierName": "Athabasca", "AlbedoMean": 0.42, "Trend": "decreasing"},
		{"GlacierName": "Victoria", "AlbedoMean": 0.61, "Trend": nil},
		{"GlacierName": nil, "AlbedoMean": 1.2, "Trend": "stable"},
		{"GlacierName": "Klinaklini", "AlbedoMean": nil, "Trend": "stable"},
	}
}

func TestValidator_AllGroups(t *testing.T) {
	fake := &fakeArcGIS{albedoFeatures: sampleAlbedo()}
	report, err := newTestValidator(t, fake, allGroups()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !report.Glaciers.Available || report.Glaciers.WKID != 4326 || report.Glaciers.Name != "Glaciers" {
		t.Errorf("glacier metadata = %+v", report.Glaciers)
	}
	if !report.Albedo.Available || report.Albedo.Fields != 2 {
		t.Errorf("albedo metadata = %+v", report.Albedo)
	}

	wantCounts := map[string]int{
		"Count glaciers":       1200,
		"Sample glaciers":      1,
		"Count albedo points":  4,
		"Sample albedo points": 4,
		"Low albedo query":     4,
	}
	if len(report.Queries) != len(wantCounts) {
		t.Fatalf("queries = %d, want %d", len(report.Queries), len(wantCounts))
	}
	for _, q := range report.Queries {
		if !q.Success || q.Count != wantCounts[q.Name] {
			t.Errorf("%s = %+v, want count %d", q.Name, q, wantCounts[q.Name])
		}
	}

	dq := report.DataQuality
	if dq.SampleSize != 4 {
		t.Errorf("sample size = %d", dq.SampleSize)
	}
	if got := dq.FieldPresence["AlbedoMean"]; got.Present != 3 || got.Percentage != 75 {
		t.Errorf("AlbedoMean presence = %+v", got)
	}
	if got := dq.FieldPresence["Trend"]; got.Present != 3 {
		t.Errorf("Trend presence = %+v", got)
	}
	if dq.Stats.Min != 0.42 || dq.Stats.Max != 1.2 || dq.Stats.ValidRange != 2 {
		t.Errorf("stats = %+v", dq.Stats)
	}
	if dq.ValidPercentage != 66.7 {
		t.Errorf("valid percentage = %v, want 66.7", dq.ValidPercentage)
	}

	if len(report.Performance) != 2 {
		t.Fatalf("performance = %+v", report.Performance)
	}
	for _, p := range report.Performance {
		if p.Runs != 2 || p.Error != "" || p.Min > p.Max {
			t.Errorf("timing = %+v", p)
		}
	}

	if !report.Passed() {
		t.Errorf("report should pass: %+v", report.Summary())
	}
	if s := report.Summary(); s.Checks != 2+5+1+2 {
		t.Errorf("checks = %d, want 10", s.Checks)
	}

	var sawLow, sawModerate bool
	for _, w := range fake.whereClauses() {
		sawLow = sawLow || w == "AlbedoMean < 0.5"
		sawModerate = sawModerate || w == "AlbedoMean > 0.3"
	}
	if !sawLow || !sawModerate {
		t.Errorf("where clauses sent = %v", fake.whereClauses())
	}
}

func TestValidator_ServiceErrorsRecorded(t *testing.T) {
	fake := &fakeArcGIS{failAlbedo: true}
	report, err := newTestValidator(t, fake, allGroups()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Albedo.Available || !strings.Contains(report.Albedo.Error, "Invalid query") {
		t.Errorf("albedo metadata = %+v", report.Albedo)
	}
	if !report.Glaciers.Available {
		t.Error("glacier service should still be available")
	}
	if report.DataQuality.Error == "" {
		t.Error("data quality should record the service error")
	}
	moderate := report.Performance[1]
	if moderate.Runs != 0 || moderate.Error == "" {
		t.Errorf("moderate query timing = %+v", moderate)
	}
	if report.Passed() {
		t.Error("report should fail")
	}
	if !strings.Contains(report.Text(), "service unavailable") {
		t.Errorf("text report missing failure:\n%s", report.Text())
	}
}

func TestValidator_DisabledGroupsAndMissingTargets(t *testing.T) {
	cfg := albedo.ValidationConfig{SampleQueries: true}
	v := New(cfg, nil, Targets{})
	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Glaciers != nil || report.DataQuality != nil || report.Performance != nil {
		t.Errorf("disabled groups should be nil: %+v", report)
	}
	for _, q := range report.Queries {
		if q.Success || q.Error != ErrNoService.Error() {
			t.Errorf("%s = %+v, want ErrNoService", q.Name, q)
		}
	}
}

func TestValidator_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := New(allGroups(), nil, Targets{}).Run(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if report == nil || report.Glaciers != nil {
		t.Errorf("no group should have run: %+v", report)
	}
}

func TestAnalyzeSample_Empty(t *testing.T) {
	dq := &DataQuality{}
	analyzeSample(dq, nil, DefaultMeanField)
	if dq.SampleSize != 0 || dq.Stats != nil || dq.FieldPresence != nil {
		t.Errorf("dq = %+v", dq)
	}
}

func TestTargetsFromViewer(t *testing.T) {
	v := &albedo.Viewer{
		Layers: []albedo.LayerConfig{
			{Name: albedo.LayerGlaciers, Type: "featureService", URL: "https://example.com/g/FeatureServer/0"},
			{Name: albedo.LayerAlbedo, Type: "geojson", Path: "a.geojson"},
		},
		Filter: albedo.FilterConfig{MeanField: "MeanAlb"},
	}
	got := TargetsFromViewer(v)
	want := Targets{GlacierURL: "https://example.com/g/FeatureServer/0", MeanField: "MeanAlb"}
	if got != want {
		t.Errorf("TargetsFromViewer() = %+v, want %+v", got, want)
	}
}

func TestReportText(t *testing.T) {
	fake := &fakeArcGIS{albedoFeatures: sampleAlbedo()}
	report, _ := newTestValidator(t, fake, allGroups()).Run(context.Background())
	text := report.Text()
	for _, want := range []string{
		"GLACIER SERVICE", "SRID: 4326", "✓ Count glaciers: 1200 results",
		"AlbedoMean present: 3 (75.0%)", "albedo min: 0.420, max: 1.200",
		"valid values: 66.7%", "Quick count:", "10 checks, 0 failed",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report text missing %q:\n%s", want, text)
		}
	}
}
