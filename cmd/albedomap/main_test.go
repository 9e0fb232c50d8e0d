package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tofunori/glacier-albedo-west-canada/internal/config"
	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
	"github.com/tofunori/glacier-albedo-west-canada/internal/layer"
	"github.com/tofunori/glacier-albedo-west-canada/internal/reportstore"
)

// testFixturePath returns the absolute path to a shared configuration
// fixture; relative paths with ".." segments are rejected by the loader.
func testFixturePath(filename string) string {
	path, err := filepath.Abs(filepath.Join("..", "..", "internal", "config", "testdata", filename))
	if err != nil {
		panic(err)
	}
	return path
}

// runCLI runs the CLI in-process and returns stdout, stderr, and exit code.
func runCLI(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	var out, errOut bytes.Buffer
	exitCode = execute(args, &out, &errOut)
	return out.String(), errOut.String(), exitCode
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

const glacierOutlines = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[-117.3, 52.1], [-117.2, 52.1], [-117.2, 52.2], [-117.3, 52.1]]]},
     "properties": {"RGIId": "RGI60-02.00001", "Name": "Athabasca", "Area": 3.6}}
  ]
}`

// offlineViewer writes a viewer backed by local GeoJSON files and returns
// the configuration path.
func offlineViewer(t *testing.T, albedoPath string) string {
	t.Helper()
	dir := t.TempDir()

	data, err := os.ReadFile(filepath.Join("..", "..", "internal", "factory", "testdata", "albedo.geojson"))
	if err != nil {
		t.Fatalf("reading albedo fixture: %v", err)
	}
	writeFile(t, dir, "albedo.geojson", string(data))
	writeFile(t, dir, "glaciers.geojson", glacierOutlines)

	return writeFile(t, dir, "viewer.yaml", `name: Offline viewer
version: "1.0"
layers:
  - name: glaciers
    type: geojson
    path: glaciers.geojson
  - name: albedo
    type: geojson
    path: `+albedoPath+`
`)
}

func TestCLI_Help(t *testing.T) {
	stdout, _, exitCode := runCLI(t, "--help")

	if exitCode != ExitSuccess {
		t.Errorf("expected exit code 0, got %d", exitCode)
	}
	for _, want := range []string{"albedomap", "validate", "serve", "filter", "check"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("expected help to contain %q", want)
		}
	}
}

func TestCLI_Version(t *testing.T) {
	stdout, _, exitCode := runCLI(t, "version")
	if exitCode != ExitSuccess || !strings.Contains(stdout, "Version: dev") {
		t.Errorf("version = %d %q", exitCode, stdout)
	}
}

func TestCLI_UnknownCommand(t *testing.T) {
	_, stderr, exitCode := runCLI(t, "render")
	if exitCode != ExitValidationError || !strings.Contains(stderr, "unknown command") {
		t.Errorf("exit = %d stderr = %q", exitCode, stderr)
	}
}

func TestCLI_UnknownLogFormat(t *testing.T) {
	_, _, exitCode := runCLI(t, "--log-format", "xml", "version")
	if exitCode != ExitValidationError {
		t.Errorf("exit = %d, want %d", exitCode, ExitValidationError)
	}
}

func TestCLI_Validate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name       string
		args       []string
		wantExit   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "valid yaml",
			args:       []string{"validate", testFixturePath("viewer.yaml")},
			wantExit:   ExitSuccess,
			wantStdout: "(format: yaml)",
		},
		{
			name:       "valid json verbose",
			args:       []string{"validate", "--verbose", testFixturePath("viewer.json")},
			wantExit:   ExitSuccess,
			wantStdout: "Layer albedo (geojson): albedo.geojson",
		},
		{
			name:       "invalid json syntax",
			args:       []string{"validate", writeFile(t, dir, "broken.json", `{"name": "x",`)},
			wantExit:   ExitParseError,
			wantStderr: "✗ Parse errors:",
		},
		{
			name:       "schema violation",
			args:       []string{"validate", writeFile(t, dir, "nolayers.yaml", "name: x\nversion: \"1.0\"\nlayers: []\n")},
			wantExit:   ExitValidationError,
			wantStderr: "✗ Validation errors:",
		},
		{
			name:       "missing file",
			args:       []string{"validate", filepath.Join(dir, "absent.yaml")},
			wantExit:   ExitParseError,
			wantStderr: "absent.yaml",
		},
		{
			name:     "missing argument",
			args:     []string{"validate"},
			wantExit: ExitValidationError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := runCLI(t, tt.args...)
			if exitCode != tt.wantExit {
				t.Fatalf("exit = %d, want %d\nstdout: %s\nstderr: %s", exitCode, tt.wantExit, stdout, stderr)
			}
			if !strings.Contains(stdout, tt.wantStdout) {
				t.Errorf("stdout missing %q:\n%s", tt.wantStdout, stdout)
			}
			if !strings.Contains(stderr, tt.wantStderr) {
				t.Errorf("stderr missing %q:\n%s", tt.wantStderr, stderr)
			}
		})
	}
}

func TestCLI_Filter(t *testing.T) {
	cfg := offlineViewer(t, "albedo.geojson")

	tests := []struct {
		name       string
		args       []string
		wantExit   int
		wantStdout []string
		wantStderr string
	}{
		{
			name:       "default threshold all years",
			args:       []string{"filter", cfg},
			wantExit:   ExitSuccess,
			wantStdout: []string{"Expression: AlbedoMean <= 0.5", "Matching features: 2"},
		},
		{
			name:       "year field",
			args:       []string{"filter", cfg, "--threshold", "0.4", "--year", "2020"},
			wantExit:   ExitSuccess,
			wantStdout: []string{"Expression: Albedo2020 <= 0.4", "Matching features: 1"},
		},
		{
			name:       "quiet prints the expression only",
			args:       []string{"filter", cfg, "-q", "--threshold", "1"},
			wantExit:   ExitSuccess,
			wantStdout: []string{"AlbedoMean <= 1\n"},
		},
		{
			name:       "unparsable threshold",
			args:       []string{"filter", cfg, "--threshold", "abc"},
			wantExit:   ExitValidationError,
			wantStderr: "✗ InvalidThreshold",
		},
		{
			name:       "unsupported year",
			args:       []string{"filter", cfg, "--year", "1999"},
			wantExit:   ExitValidationError,
			wantStderr: "✗ UnsupportedYear",
		},
		{
			name:       "albedo layer unavailable",
			args:       []string{"filter", offlineViewer(t, "missing.geojson")},
			wantExit:   ExitRuntimeError,
			wantStderr: "✗ CollectionUnavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, exitCode := runCLI(t, tt.args...)
			if exitCode != tt.wantExit {
				t.Fatalf("exit = %d, want %d\nstdout: %s\nstderr: %s", exitCode, tt.wantExit, stdout, stderr)
			}
			for _, want := range tt.wantStdout {
				if !strings.Contains(stdout, want) {
					t.Errorf("stdout missing %q:\n%s", want, stdout)
				}
			}
			if !strings.Contains(stderr, tt.wantStderr) {
				t.Errorf("stderr missing %q:\n%s", tt.wantStderr, stderr)
			}
		})
	}
}

// fakeFeatureServer answers metadata, count and sample queries for any layer.
func fakeFeatureServer(t *testing.T, fail bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		var body interface{}
		switch {
		case !strings.HasSuffix(r.URL.Path, "/query"):
			body = map[string]interface{}{
				"name":         "Layer",
				"geometryType": "esriGeometryPoint",
				"fields":       []map[string]string{{"name": "OBJECTID"}, {"name": "AlbedoMean"}},
				"extent":       map[string]interface{}{"spatialReference": map[string]int{"wkid": 4326}},
			}
		case r.URL.Query().Get("returnCountOnly") == "true":
			body = map[string]int{"count": 2}
		default:
			body = map[string]interface{}{"features": []map[string]interface{}{
				{"attributes": map[string]interface{}{"GlacierName": "Athabasca", "AlbedoMean": 0.42, "Trend": "decreasing"}},
				{"attributes": map[string]interface{}{"GlacierName": "Peyto", "AlbedoMean": 0.55, "Trend": "stable"}},
			}}
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func remoteViewer(t *testing.T, baseURL string) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "viewer.json", `{
  "name": "Remote viewer",
  "version": "1.0",
  "layers": [
    {"name": "glaciers", "type": "featureService", "url": "`+baseURL+`/glaciers/FeatureServer/0"},
    {"name": "albedo", "type": "featureService", "url": "`+baseURL+`/albedo/FeatureServer/0"}
  ],
  "validation": {"performance": false},
  "errorHandling": {"retryCount": 0}
}`)
}

func TestCLI_CheckAndHistory(t *testing.T) {
	srv := fakeFeatureServer(t, false)
	cfg := remoteViewer(t, srv.URL)
	history := filepath.Join(t.TempDir(), "history.db")

	stdout, stderr, exitCode := runCLI(t, "check", cfg, "--history", history)
	if exitCode != ExitSuccess {
		t.Fatalf("check exit = %d\nstdout: %s\nstderr: %s", exitCode, stdout, stderr)
	}
	for _, want := range []string{"VALIDATION REPORT", "GLACIER SERVICE", "AlbedoMean present: 2 (100.0%)", "✓ All", "Report saved to"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("stdout missing %q:\n%s", want, stdout)
		}
	}

	stdout, stderr, exitCode = runCLI(t, "history", cfg, "--history", history)
	if exitCode != ExitSuccess {
		t.Fatalf("history exit = %d\nstderr: %s", exitCode, stderr)
	}
	if !strings.Contains(stdout, "✓ #1 ") || !strings.Contains(stdout, "0 failed") {
		t.Errorf("history output:\n%s", stdout)
	}
}

func TestCLI_CheckFailures(t *testing.T) {
	srv := fakeFeatureServer(t, true)
	stdout, _, exitCode := runCLI(t, "check", remoteViewer(t, srv.URL))
	if exitCode != ExitValidationError {
		t.Fatalf("exit = %d, want %d", exitCode, ExitValidationError)
	}
	if !strings.Contains(stdout, "✗ service unavailable") || !strings.Contains(stdout, "checks failed") {
		t.Errorf("stdout:\n%s", stdout)
	}
}

func TestCLI_HistoryWithoutPath(t *testing.T) {
	_, stderr, exitCode := runCLI(t, "history", testFixturePath("viewer.json"))
	if exitCode != ExitValidationError || !strings.Contains(stderr, "no history file") {
		t.Errorf("exit = %d stderr = %q", exitCode, stderr)
	}
}

func TestServeScheduler_SavesHistory(t *testing.T) {
	srv := fakeFeatureServer(t, false)
	cfg := remoteViewer(t, srv.URL)
	viewer, err := config.Load(cfg)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	viewer.Validation.Schedule = "@daily"
	history := filepath.Join(t.TempDir(), "history.db")

	jobs, err := newServeScheduler(&options{history: history}, viewer, cfg, nil, nil)
	if err != nil {
		t.Fatalf("newServeScheduler() error = %v", err)
	}
	if got := jobs.Jobs(); len(got) != 1 || got[0] != "service-check" {
		t.Fatalf("Jobs() = %v, want [service-check]", got)
	}
	if err := jobs.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for st, _ := jobs.Stats("service-check"); st.Runs == 0 && time.Now().Before(deadline); st, _ = jobs.Stats("service-check") {
		time.Sleep(10 * time.Millisecond)
	}
	if err := jobs.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st, _ := jobs.Stats("service-check"); st.Runs != 1 || st.Failures != 0 {
		t.Fatalf("Stats() = %+v, want one successful run", st)
	}

	store, err := reportstore.Open(context.Background(), history)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runs, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Summary.Failed != 0 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestServeScheduler_Jobs(t *testing.T) {
	viewer, err := config.Load(testFixturePath("viewer.json"))
	if err != nil {
		t.Fatal(err)
	}
	viewer.Validation.Interval = 0
	viewer.Validation.Schedule = ""

	tests := []struct {
		name    string
		bindErr error
		want    []string
	}{
		{"all layers bound", nil, nil},
		{"layer missing", errhandling.ClassifyHTTPStatus(http.StatusNotFound, ""), nil},
		{"service unavailable", errhandling.ClassifyHTTPStatus(http.StatusServiceUnavailable, ""), []string{"layer-bind"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := newServeScheduler(&options{}, viewer, testFixturePath("viewer.json"), layer.NewSession(), tt.bindErr)
			if err != nil {
				t.Fatal(err)
			}
			if got := jobs.Jobs(); len(got) != len(tt.want) || (len(got) > 0 && got[0] != tt.want[0]) {
				t.Errorf("Jobs() = %v, want %v", got, tt.want)
			}
		})
	}
}
