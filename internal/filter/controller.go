// Package filter derives attribute predicates from filter selections and
// applies them to the albedo collection.
//
// A Controller moves between two states. It starts Unfiltered; Apply moves
// it to Filtered with the rendered expression and its selection, replacing
// any previous filter; Clear returns it to Unfiltered. Failed operations
// leave the state untouched. Calls are serialized and the last one wins.
package filter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/tofunori/glacier-albedo-west-canada/internal/layer"
	"github.com/tofunori/glacier-albedo-west-canada/internal/logger"
	"github.com/tofunori/glacier-albedo-west-canada/internal/predicate"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Defaults for an albedo viewer over MODIS summer albedo fields.
const (
	DefaultMeanField         = "AlbedoMean"
	DefaultYearFieldTemplate = "Albedo" + predicate.YearPlaceholder
	DefaultThreshold         = 0.5
	FirstSupportedYear       = 2014
	LastSupportedYear        = 2024
)

// DefaultConfig returns the filter configuration used when none is given:
// filter the albedo layer, clear the glacier layer with it, years 2014-2024.
func DefaultConfig() albedo.FilterConfig {
	years := make([]string, 0, LastSupportedYear-FirstSupportedYear+1)
	for y := FirstSupportedYear; y <= LastSupportedYear; y++ {
		years = append(years, strconv.Itoa(y))
	}
	return albedo.FilterConfig{
		Target:            albedo.LayerAlbedo,
		Dependents:        []string{albedo.LayerGlaciers},
		MeanField:         DefaultMeanField,
		YearFieldTemplate: DefaultYearFieldTemplate,
		SupportedYears:    years,
		DefaultThreshold:  DefaultThreshold,
	}
}

// Controller owns the active predicate of one session.
type Controller struct {
	cfg     albedo.FilterConfig
	years   map[string]bool
	session *layer.Session

	mu    sync.Mutex
	state albedo.ActivePredicate
}

// NewController creates an Unfiltered controller. Empty fields of cfg are
// filled from DefaultConfig.
func NewController(cfg albedo.FilterConfig, session *layer.Session) *Controller {
	def := DefaultConfig()
	if cfg.Target == "" {
		cfg.Target = def.Target
		if cfg.Dependents == nil {
			cfg.Dependents = def.Dependents
		}
	}
	if cfg.MeanField == "" {
		cfg.MeanField = def.MeanField
	}
	if cfg.YearFieldTemplate == "" {
		cfg.YearFieldTemplate = def.YearFieldTemplate
	}
	if len(cfg.SupportedYears) == 0 {
		cfg.SupportedYears = def.SupportedYears
	}

	years := make(map[string]bool, len(cfg.SupportedYears))
	for _, y := range cfg.SupportedYears {
		years[y] = true
	}

	return &Controller{cfg: cfg, years: years, session: session}
}

// Config returns the effective configuration.
func (c *Controller) Config() albedo.FilterConfig {
	return c.cfg
}

// Defaults returns the selection UI controls reset to: the configured
// default threshold over all years.
func (c *Controller) Defaults() albedo.FilterSelection {
	return albedo.FilterSelection{Threshold: c.cfg.DefaultThreshold, YearToken: albedo.YearAll}
}

// Render validates selection and returns the expression Apply would assign,
// without touching any collection.
func (c *Controller) Render(selection albedo.FilterSelection) (string, error) {
	if math.IsNaN(selection.Threshold) || math.IsInf(selection.Threshold, 0) {
		return "", fmt.Errorf("%w: %v", ErrInvalidThreshold, selection.Threshold)
	}
	if selection.YearToken != albedo.YearAll && !c.years[selection.YearToken] {
		return "", fmt.Errorf("%w: %q (supported: all, %s)", ErrUnsupportedYear, selection.YearToken, strings.Join(c.cfg.SupportedYears, ", "))
	}

	field, err := predicate.FieldName(c.cfg.MeanField, c.cfg.YearFieldTemplate, selection.YearToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedYear, err)
	}
	return predicate.Render(field, selection.Threshold), nil
}

// Apply renders selection, assigns it to the target collection and records
// it as the active predicate.
func (c *Controller) Apply(selection albedo.FilterSelection) (albedo.ActivePredicate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expression, err := c.Render(selection)
	if err != nil {
		logger.Warn("filter selection rejected",
			"layer", c.cfg.Target,
			"year", selection.YearToken,
			"threshold", selection.Threshold,
			"error", err.Error(),
		)
		return c.snapshot(), err
	}

	coll, ok := c.session.Get(c.cfg.Target)
	if !ok || !coll.Ready() {
		return c.snapshot(), fmt.Errorf("%w: layer %q is not ready", ErrCollectionUnavailable, c.cfg.Target)
	}

	if err := coll.SetFilter(&expression); err != nil {
		if errors.Is(err, layer.ErrUnbound) {
			return c.snapshot(), fmt.Errorf("%w: layer %q: %v", ErrCollectionUnavailable, c.cfg.Target, err)
		}
		rejected := &ApplyRejectedError{Layer: c.cfg.Target, Expression: expression, Err: err}
		logger.LogError("filter assignment rejected", logger.ErrorContext{
			Operation:  "apply_filter",
			Layer:      c.cfg.Target,
			Expression: expression,
			Err:        err,
		})
		return c.snapshot(), rejected
	}

	sel := selection
	c.state = albedo.ActivePredicate{Expression: &expression, Selection: &sel}

	logger.Info("filter applied",
		"layer", c.cfg.Target,
		"expression", expression,
		"year", selection.YearToken,
		"threshold", selection.Threshold,
	)
	return c.snapshot(), nil
}

// Clear removes the filter from the target and its dependents and returns
// the Unfiltered state. Missing or unbound collections are skipped; a
// collection refusing the reset is logged.
func (c *Controller) Clear() albedo.ActivePredicate {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range c.affected() {
		coll, ok := c.session.Get(name)
		if !ok || !coll.Ready() {
			logger.Debug("skipping filter reset on unavailable layer", "layer", name)
			continue
		}
		if err := coll.SetFilter(nil); err != nil {
			logger.LogError("filter reset failed", logger.ErrorContext{
				Operation: "clear_filter",
				Layer:     name,
				Err:       err,
			})
		}
	}

	wasFiltered := c.state.IsFiltered()
	c.state = albedo.ActivePredicate{}
	if wasFiltered {
		logger.Info("filter cleared", "layer", c.cfg.Target)
	}
	return c.snapshot()
}

// Current returns the active predicate.
func (c *Controller) Current() albedo.ActivePredicate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) affected() []string {
	names := []string{c.cfg.Target}
	for _, d := range c.cfg.Dependents {
		if d != c.cfg.Target {
			names = append(names, d)
		}
	}
	return names
}

// snapshot copies the state so callers cannot mutate it.
func (c *Controller) snapshot() albedo.ActivePredicate {
	if !c.state.IsFiltered() {
		return albedo.ActivePredicate{}
	}
	expression := *c.state.Expression
	selection := *c.state.Selection
	return albedo.ActivePredicate{Expression: &expression, Selection: &selection}
}
