package config

import (
	"strconv"
	"time"

	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
	"github.com/tofunori/glacier-albedo-west-canada/internal/filter"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Server and validation defaults.
const (
	DefaultListenAddress  = ":8080"
	DefaultReadTimeout    = 15 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
	DefaultIterations     = 3
	DefaultSampleSize     = 100
	DefaultGlacierOpacity = 0.8
)

// DefaultPopup returns the built-in popup for a well-known layer, or nil.
func DefaultPopup(layerName string) *albedo.PopupConfig {
	switch layerName {
	case albedo.LayerGlaciers:
		return &albedo.PopupConfig{
			Title: "Glacier: {{RGIId}}",
			Rows: []albedo.PopupRow{
				{Label: "Name", Template: `{{Name | default: "Unnamed"}}`},
				{Label: "Area (km²)", Template: `{{Area | places: 2}}`},
				{Label: "Median elevation (m)", Template: "{{Zmed}}"},
				{Label: "Region", Template: "{{O1Region}}"},
				{Label: "Subregion", Template: "{{O2Region}}"},
			},
		}
	case albedo.LayerAlbedo:
		rows := []albedo.PopupRow{
			{Label: "Mean albedo", Template: "{{AlbedoMean | places: 3}}"},
			{Label: "Change (%)", Template: "{{AlbedoChange | places: 1}}"},
			{Label: "Trend", Template: `{{Trend | default: "n/a"}}`},
		}
		for y := filter.FirstSupportedYear; y <= filter.LastSupportedYear; y++ {
			year := strconv.Itoa(y)
			rows = append(rows, albedo.PopupRow{
				Label:    "Albedo " + year,
				Template: "{{Albedo" + year + ` | places: 3 | default: "n/a"}}`,
			})
		}
		return &albedo.PopupConfig{Title: "Albedo - Glacier {{GlacierName}}", Rows: rows}
	default:
		return nil
	}
}

// DefaultInfo returns the built-in information card for a well-known layer, or nil.
func DefaultInfo(layerName string) *albedo.LayerInfo {
	switch layerName {
	case albedo.LayerGlaciers:
		return &albedo.LayerInfo{
			Description: "Glacier outlines of Western Canada from the Randolph Glacier Inventory (RGI 6.0).",
			Source:      "GLIMS/RGI Consortium",
			Fields:      []string{"RGIId", "Name", "Area", "Zmed", "O1Region", "O2Region"},
		}
	case albedo.LayerAlbedo:
		fields := []string{"GlacierName", "AlbedoMean", "AlbedoChange", "Trend"}
		for y := filter.FirstSupportedYear; y <= filter.LastSupportedYear; y++ {
			fields = append(fields, "Albedo"+strconv.Itoa(y))
		}
		return &albedo.LayerInfo{
			Description: "Glacier surface albedo derived from MODIS MCD43A3, yearly means 2014-2024.",
			Source:      "NASA Earthdata - MODIS",
			Fields:      fields,
		}
	default:
		return nil
	}
}

// DefaultServer returns the HTTP API defaults.
func DefaultServer() albedo.ServerConfig {
	return albedo.ServerConfig{
		ListenAddress: DefaultListenAddress,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
	}
}

// DefaultValidation enables every check group.
func DefaultValidation() albedo.ValidationConfig {
	return albedo.ValidationConfig{
		ServiceMetadata: true,
		SampleQueries:   true,
		DataQuality:     true,
		Performance:     true,
		Iterations:      DefaultIterations,
		SampleSize:      DefaultSampleSize,
	}
}

// DefaultErrorHandling mirrors the retry executor defaults.
func DefaultErrorHandling() *albedo.ErrorHandling {
	return &albedo.ErrorHandling{
		RetryCount: errhandling.DefaultMaxAttempts,
		RetryDelay: errhandling.DefaultDelayMs,
		TimeoutMs:  errhandling.DefaultTimeoutMs,
	}
}
