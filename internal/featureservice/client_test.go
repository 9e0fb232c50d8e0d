package featureservice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
)

func fastRetry(maxAttempts int) errhandling.RetryConfig {
	cfg := errhandling.DefaultRetryConfig()
	cfg.MaxAttempts = maxAttempts
	cfg.DelayMs = 1
	cfg.MaxDelayMs = 5
	return cfg
}

const layerDocument = `{
	"name": "Albedo points",
	"geometryType": "esriGeometryPoint",
	"objectIdField": "OBJECTID",
	"maxRecordCount": 2000,
	"fields": [
		{"name": "OBJECTID", "type": "esriFieldTypeOID"},
		{"name": "GlacierName", "type": "esriFieldTypeString", "alias": "Glacier"},
		{"name": "AlbedoMean", "type": "esriFieldTypeDouble"}
	],
	"extent": {"xmin": -140, "ymin": 48, "xmax": -110, "ymax": 70, "spatialReference": {"wkid": 4326}}
}`

func TestClient_Metadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/FeatureServer/0" {
			t.Errorf("path = %s, want /FeatureServer/0", r.URL.Path)
		}
		if r.URL.Query().Get("f") != "json" {
			t.Errorf("f = %q, want json", r.URL.Query().Get("f"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(layerDocument))
	}))
	defer server.Close()

	client := NewClient(WithRetry(fastRetry(0)))
	meta, err := client.Metadata(context.Background(), server.URL+"/FeatureServer/0/")
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}
	if meta.Name != "Albedo points" {
		t.Errorf("Name = %q", meta.Name)
	}
	if meta.GeometryType != "esriGeometryPoint" {
		t.Errorf("GeometryType = %q", meta.GeometryType)
	}
	if len(meta.Fields) != 3 || !meta.HasField("albedomean") {
		t.Errorf("Fields = %+v", meta.Fields)
	}
	if meta.Extent == nil || meta.Extent.SpatialReference == nil || meta.Extent.SpatialReference.WKID != 4326 {
		t.Errorf("Extent = %+v, want wkid 4326", meta.Extent)
	}
	if meta.MaxRecords != 2000 || meta.ObjectIDField != "OBJECTID" {
		t.Errorf("MaxRecords/ObjectIDField = %d/%q", meta.MaxRecords, meta.ObjectIDField)
	}
}

func TestClient_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if !strings.HasSuffix(r.URL.Path, "/query") {
			t.Errorf("path = %s, want /query suffix", r.URL.Path)
		}
		if q.Get("where") != "AlbedoMean <= 0.5" {
			t.Errorf("where = %q", q.Get("where"))
		}
		if q.Get("outFields") != "GlacierName,AlbedoMean" {
			t.Errorf("outFields = %q", q.Get("outFields"))
		}
		if q.Get("resultRecordCount") != "5" {
			t.Errorf("resultRecordCount = %q", q.Get("resultRecordCount"))
		}
		if q.Get("returnGeometry") != "true" || q.Get("outSR") != "4326" {
			t.Errorf("returnGeometry/outSR = %q/%q", q.Get("returnGeometry"), q.Get("outSR"))
		}
		if q.Get("token") != "abc" {
			t.Errorf("token = %q, want abc", q.Get("token"))
		}
		_, _ = w.Write([]byte(`{
			"geometryType": "esriGeometryPoint",
			"features": [
				{"attributes": {"GlacierName": "Athabasca", "AlbedoMean": 0.41}, "geometry": {"x": -117.25, "y": 52.19}},
				{"attributes": {"GlacierName": "Peyto", "AlbedoMean": 0.38}, "geometry": {"x": -116.55, "y": 51.67}}
			],
			"exceededTransferLimit": true
		}`))
	}))
	defer server.Close()

	client := NewClient(WithToken("abc"), WithRetry(fastRetry(0)))
	fs, err := client.Query(context.Background(), server.URL, QueryParams{
		Where:             "AlbedoMean <= 0.5",
		OutFields:         []string{"GlacierName", "AlbedoMean"},
		ResultRecordCount: 5,
		ReturnGeometry:    true,
		OutSR:             4326,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if fs.Count != 2 || len(fs.Features) != 2 {
		t.Fatalf("Count = %d, features = %d, want 2", fs.Count, len(fs.Features))
	}
	if fs.Features[0].Attributes["GlacierName"] != "Athabasca" {
		t.Errorf("first feature = %+v", fs.Features[0].Attributes)
	}
	if !fs.ExceededLimit {
		t.Error("ExceededLimit = false, want true")
	}
}

func TestClient_Count(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("returnCountOnly") != "true" || q.Get("where") != "1=1" {
			t.Errorf("query = %v", q)
		}
		_, _ = w.Write([]byte(`{"count": 1312}`))
	}))
	defer server.Close()

	count, err := NewClient(WithRetry(fastRetry(0))).Count(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1312 {
		t.Errorf("Count() = %d, want 1312", count)
	}
}

func TestClient_ServiceErrorBody(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "Unable to complete operation.", "details": ["Invalid field: Albedo2099"]}}`))
	}))
	defer server.Close()

	_, err := NewClient(WithRetry(fastRetry(3))).Count(context.Background(), server.URL, "Albedo2099 <= 0.5")
	if err == nil {
		t.Fatal("Count() error = nil, want service error")
	}
	var classified *errhandling.ClassifiedError
	if !errors.As(err, &classified) {
		t.Fatalf("error = %T, want *ClassifiedError", err)
	}
	if classified.Category != errhandling.CategoryValidation {
		t.Errorf("Category = %v, want validation", classified.Category)
	}
	if !strings.Contains(err.Error(), "Albedo2099") {
		t.Errorf("error = %q, want details", err.Error())
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (service errors are decoded after the request)", calls)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"count": 7}`))
	}))
	defer server.Close()

	count, err := NewClient(WithRetry(fastRetry(3))).Count(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 7 || calls != 3 {
		t.Errorf("count = %d, calls = %d, want 7 and 3", count, calls)
	}
}

func TestClient_NoRetryOnNotFound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewClient(WithRetry(fastRetry(3))).Metadata(context.Background(), server.URL)
	if errhandling.GetErrorCategory(err) != errhandling.CategoryNotFound {
		t.Errorf("category = %v, want not_found", errhandling.GetErrorCategory(err))
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClient_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer server.Close()

	_, err := NewClient(WithRetry(fastRetry(0))).Metadata(context.Background(), server.URL)
	if !errors.Is(err, ErrJSONParse) {
		t.Errorf("error = %v, want ErrJSONParse", err)
	}
}

func TestClient_EmptyURL(t *testing.T) {
	if _, err := NewClient().Metadata(context.Background(), "  "); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("error = %v, want ErrEmptyURL", err)
	}
}

func TestQueryParams_Values(t *testing.T) {
	tests := []struct {
		name   string
		params QueryParams
		want   map[string]string
		absent []string
	}{
		{
			name:   "defaults",
			params: QueryParams{},
			want:   map[string]string{"where": "1=1", "outFields": "*", "returnGeometry": "false", "f": "json"},
			absent: []string{"resultRecordCount", "outSR", "objectIds"},
		},
		{
			name:   "count only",
			params: QueryParams{Where: "AlbedoMean < 0.5", ReturnCountOnly: true, OutFields: []string{"x"}},
			want:   map[string]string{"where": "AlbedoMean < 0.5", "returnCountOnly": "true"},
			absent: []string{"outFields", "returnGeometry"},
		},
		{
			name:   "object ids and paging",
			params: QueryParams{ObjectIDs: []int64{3, 17}, ResultOffset: 100},
			want:   map[string]string{"objectIds": "3,17", "resultOffset": "100"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.params.Values()
			for k, v := range tt.want {
				if got.Get(k) != v {
					t.Errorf("%s = %q, want %q", k, got.Get(k), v)
				}
			}
			for _, k := range tt.absent {
				if got.Has(k) {
					t.Errorf("%s present, want absent", k)
				}
			}
		})
	}
}

func TestRedact(t *testing.T) {
	tests := map[string]string{
		"https://x/query?f=json":               "https://x/query?f=json",
		"https://x/query?f=json&token=secret":  "https://x/query?f=json&token=REDACTED",
		"https://x/query?token=secret&f=json":  "https://x/query?token=REDACTED&f=json",
	}
	for in, want := range tests {
		if got := redact(in); got != want {
			t.Errorf("redact(%q) = %q, want %q", in, got, want)
		}
	}
}
