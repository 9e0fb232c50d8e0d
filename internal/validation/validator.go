// Package validation checks that the glacier and albedo feature services are
// reachable and that their data looks sane. It runs four check groups:
// service metadata, sample queries, data quality and performance.
package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tofunori/glacier-albedo-west-canada/internal/featureservice"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Field names the checks read.
const (
	FieldGlacierName = "GlacierName"
	FieldTrend       = "Trend"
	DefaultMeanField = "AlbedoMean"
)

// ErrNoService is recorded when a layer has no feature service URL.
var ErrNoService = errors.New("layer is not backed by a feature service")

// Service is the subset of the feature service client the checks use.
type Service interface {
	Metadata(ctx context.Context, layerURL string) (*albedo.LayerMetadata, error)
	Query(ctx context.Context, layerURL string, params featureservice.QueryParams) (*albedo.FeatureSet, error)
	Count(ctx context.Context, layerURL, where string) (int, error)
}

// Targets names the services under test.
type Targets struct {
	GlacierURL string
	AlbedoURL  string
	// MeanField is the multi-year mean albedo attribute
	MeanField string
}

// TargetsFromViewer picks the feature service URLs of the glacier and albedo
// layers. Layers of another kind leave their URL empty.
func TargetsFromViewer(v *albedo.Viewer) Targets {
	t := Targets{MeanField: v.Filter.MeanField}
	if l := v.Layer(albedo.LayerGlaciers); l != nil && l.URL != "" {
		t.GlacierURL = l.URL
	}
	if l := v.Layer(albedo.LayerAlbedo); l != nil && l.URL != "" {
		t.AlbedoURL = l.URL
	}
	return t
}

// Validator runs the enabled check groups against the targets.
type Validator struct {
	cfg     albedo.ValidationConfig
	svc     Service
	targets Targets
}

// New creates a validator. Zero iteration and sample counts fall back to 3
// and 100.
func New(cfg albedo.ValidationConfig, svc Service, targets Targets) *Validator {
	if cfg.Iterations <= 0 {
		cfg.Iterations = 3
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 100
	}
	if targets.MeanField == "" {
		targets.MeanField = DefaultMeanField
	}
	return &Validator{cfg: cfg, svc: svc, targets: targets}
}

// Run executes every enabled group. Check failures are recorded in the
// report; the returned error is non-nil only when ctx ends the run early.
func (v *Validator) Run(ctx context.Context) (*Report, error) {
	opCtx := logger.OperationContext{Operation: "validate"}
	logger.LogOperationStart(opCtx)

	report := &Report{StartedAt: time.Now()}
	groups := []struct {
		enabled bool
		run     func(context.Context, *Report)
	}{
		{v.cfg.ServiceMetadata, v.checkMetadata},
		{v.cfg.SampleQueries, v.checkQueries},
		{v.cfg.DataQuality, v.checkDataQuality},
		{v.cfg.Performance, v.checkPerformance},
	}
	for _, g := range groups {
		if !g.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(report.StartedAt)
			return report, err
		}
		g.run(ctx, report)
	}
	report.Duration = time.Since(report.StartedAt)

	s := report.Summary()
	status := "success"
	if s.Failed > 0 {
		status = "failed"
	}
	logger.LogOperationEnd(opCtx, status, s.Checks, report.Duration)
	return report, ctx.Err()
}

func (v *Validator) checkMetadata(ctx context.Context, r *Report) {
	r.Glaciers = v.metadata(ctx, albedo.LayerGlaciers, v.targets.GlacierURL)
	r.Albedo = v.metadata(ctx, albedo.LayerAlbedo, v.targets.AlbedoURL)
}

func (v *Validator) metadata(ctx context.Context, layerName, url string) *MetadataResult {
	res := &MetadataResult{URL: url}
	if url == "" {
		res.Error = ErrNoService.Error()
		return res
	}
	meta, err := v.svc.Metadata(ctx, url)
	if err != nil {
		res.Error = err.Error()
		logger.LogError("metadata check failed", logger.ErrorContext{
			Operation: "validate",
			Layer:     layerName,
			Endpoint:  url,
			Err:       err,
		})
		return res
	}
	res.Available = true
	res.Name = meta.Name
	res.GeometryType = meta.GeometryType
	res.Fields = len(meta.Fields)
	if meta.Extent != nil && meta.Extent.SpatialReference != nil {
		res.WKID = meta.Extent.SpatialReference.WKID
	}
	return res
}

type sampleQuery struct {
	name      string
	url       string
	countOnly bool
	params    featureservice.QueryParams
}

func (v *Validator) sampleQueries() []sampleQuery {
	mean := v.targets.MeanField
	return []sampleQuery{
		{name: "Count glaciers", url: v.targets.GlacierURL, countOnly: true},
		{name: "Sample glaciers", url: v.targets.GlacierURL, params: featureservice.QueryParams{
			OutFields: []string{"RGIId", "Name", "Area"}, ResultRecordCount: 5,
		}},
		{name: "Count albedo points", url: v.targets.AlbedoURL, countOnly: true},
		{name: "Sample albedo points", url: v.targets.AlbedoURL, params: featureservice.QueryParams{
			OutFields: []string{FieldGlacierName, mean, FieldTrend}, ResultRecordCount: 5,
		}},
		{name: "Low albedo query", url: v.targets.AlbedoURL, countOnly: true, params: featureservice.QueryParams{
			Where: mean + " < 0.5",
		}},
	}
}

func (v *Validator) checkQueries(ctx context.Context, r *Report) {
	for _, q := range v.sampleQueries() {
		res := QueryResult{Name: q.name}
		start := time.Now()
		count, hasFeatures, err := v.execute(ctx, q)
		res.Duration = time.Since(start)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Success = true
			res.Count = count
			res.HasFeatures = hasFeatures
		}
		r.Queries = append(r.Queries, res)
	}
}

func (v *Validator) execute(ctx context.Context, q sampleQuery) (count int, hasFeatures bool, err error) {
	if q.url == "" {
		return 0, false, ErrNoService
	}
	if q.countOnly {
		count, err = v.svc.Count(ctx, q.url, q.params.Where)
		return count, false, err
	}
	fs, err := v.svc.Query(ctx, q.url, q.params)
	if err != nil {
		return 0, false, err
	}
	return len(fs.Features), len(fs.Features) > 0, nil
}

func (v *Validator) checkDataQuality(ctx context.Context, r *Report) {
	dq := &DataQuality{}
	r.DataQuality = dq
	if v.targets.AlbedoURL == "" {
		dq.Error = ErrNoService.Error()
		return
	}

	fs, err := v.svc.Query(ctx, v.targets.AlbedoURL, featureservice.QueryParams{
		ResultRecordCount: v.cfg.SampleSize,
	})
	if err != nil {
		dq.Error = err.Error()
		return
	}
	analyzeSample(dq, fs.Features, v.targets.MeanField)
}

// analyzeSample fills field presence and albedo statistics. An empty sample
// leaves everything zero.
func analyzeSample(dq *DataQuality, features []albedo.Feature, meanField string) {
	dq.SampleSize = len(features)
	if len(features) == 0 {
		return
	}

	dq.FieldPresence = make(map[string]FieldPresence)
	for _, field := range []string{meanField, FieldGlacierName, FieldTrend} {
		present := 0
		for _, f := range features {
			if f.Attributes[field] != nil {
				present++
			}
		}
		dq.FieldPresence[field] = FieldPresence{
			Present:    present,
			Percentage: percent(present, len(features)),
		}
	}

	var values []float64
	for _, f := range features {
		if x, ok := f.Attributes[meanField].(float64); ok && !math.IsNaN(x) {
			values = append(values, x)
		}
	}
	if len(values) == 0 {
		return
	}

	stats := &AlbedoStats{Count: len(values), Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, x := range values {
		stats.Min = math.Min(stats.Min, x)
		stats.Max = math.Max(stats.Max, x)
		sum += x
		if x >= 0 && x <= 1 {
			stats.ValidRange++
		}
	}
	stats.Mean = sum / float64(len(values))
	dq.Stats = stats
	dq.ValidPercentage = percent(stats.ValidRange, stats.Count)
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

func (v *Validator) checkPerformance(ctx context.Context, r *Report) {
	tests := []sampleQuery{
		{name: "Quick count", url: v.targets.GlacierURL, countOnly: true},
		{name: "Moderate query", url: v.targets.AlbedoURL, params: featureservice.QueryParams{
			Where:             v.targets.MeanField + " > 0.3",
			OutFields:         []string{FieldGlacierName, v.targets.MeanField},
			ResultRecordCount: 100,
		}},
	}

	for _, test := range tests {
		timing := Timing{Name: test.name}
		var total time.Duration
		metrics := logger.QueryMetrics{}
		for i := 0; i < v.cfg.Iterations; i++ {
			start := time.Now()
			count, _, err := v.execute(ctx, test)
			elapsed := time.Since(start)
			metrics.Requests++
			if err != nil {
				// Stop on the first failure; earlier runs still count.
				metrics.RequestsFailed++
				timing.Error = err.Error()
				break
			}
			metrics.Features += count
			timing.Runs++
			total += elapsed
			if timing.Runs == 1 || elapsed < timing.Min {
				timing.Min = elapsed
			}
			if elapsed > timing.Max {
				timing.Max = elapsed
			}
		}
		if timing.Runs > 0 {
			timing.Avg = total / time.Duration(timing.Runs)
			metrics.AvgRequestTime = timing.Avg
		}
		metrics.TotalDuration = total
		logger.LogMetrics(logger.OperationContext{Operation: "validate", Endpoint: test.url}, metrics)
		r.Performance = append(r.Performance, timing)
	}
}

// String summarizes a timing on one line.
func (t Timing) String() string {
	if t.Error != "" {
		return fmt.Sprintf("%s: failed after %d run(s): %s", t.Name, t.Runs, t.Error)
	}
	return fmt.Sprintf("%s: avg %s over %d run(s)", t.Name, t.Avg, t.Runs)
}
