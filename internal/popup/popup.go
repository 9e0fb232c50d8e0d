// Package popup builds the attribute popups and layer information cards
// shown for features.
package popup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tofunori/glacier-albedo-west-canada/internal/template"
	"github.com/tofunori/glacier-albedo-west-canada/pkg/albedo"
)

// Fallback texts for layers without an information card.
const (
	UnknownDescription = "Information unavailable"
	UnknownSource      = "Unknown source"
)

// Row is one labelled popup line.
type Row struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Popup is a rendered feature popup.
type Popup struct {
	Title string `json:"title"`
	Rows  []Row  `json:"rows"`
}

// Card is a layer information card.
type Card struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Source      string   `json:"source"`
	Fields      []string `json:"fields"`
}

// Builder renders popups. It is safe for concurrent use.
type Builder struct {
	eval *template.Evaluator
}

// NewBuilder creates a popup builder.
func NewBuilder() *Builder {
	return &Builder{eval: template.NewEvaluator()}
}

// Render builds the popup of feature for a layer. Without configured rows
// every attribute is listed, sorted by name. Without a configured title the
// layer title is used.
func (b *Builder) Render(cfg *albedo.LayerConfig, feature albedo.Feature) Popup {
	title := cfg.Title
	if title == "" {
		title = cfg.Name
	}

	if cfg.Popup == nil {
		return Popup{Title: title, Rows: AttributeRows(feature.Attributes)}
	}
	if cfg.Popup.Title != "" {
		title = b.eval.Evaluate(cfg.Popup.Title, feature.Attributes)
	}
	if len(cfg.Popup.Rows) == 0 {
		return Popup{Title: title, Rows: AttributeRows(feature.Attributes)}
	}

	rows := make([]Row, 0, len(cfg.Popup.Rows))
	for _, r := range cfg.Popup.Rows {
		rows = append(rows, Row{Label: r.Label, Value: b.eval.Evaluate(r.Template, feature.Attributes)})
	}
	return Popup{Title: title, Rows: rows}
}

// AttributeRows lists every attribute as a row, sorted by name.
func AttributeRows(attributes map[string]interface{}) []Row {
	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]Row, 0, len(names))
	for _, name := range names {
		rows = append(rows, Row{Label: name, Value: template.ValueToString(attributes[name])})
	}
	return rows
}

// Text renders the popup as plain text lines.
func (p Popup) Text() string {
	var sb strings.Builder
	sb.WriteString(p.Title)
	sb.WriteString("\n")
	width := 0
	for _, r := range p.Rows {
		if len(r.Label) > width {
			width = len(r.Label)
		}
	}
	for _, r := range p.Rows {
		fmt.Fprintf(&sb, "  %-*s  %s\n", width, r.Label+":", r.Value)
	}
	return sb.String()
}

// Info returns the information card of a layer.
func Info(cfg *albedo.LayerConfig) Card {
	title := cfg.Title
	if title == "" {
		title = cfg.Name
	}
	if cfg.Info == nil {
		return Card{Title: title, Description: UnknownDescription, Source: UnknownSource, Fields: []string{}}
	}
	fields := cfg.Info.Fields
	if fields == nil {
		fields = []string{}
	}
	return Card{Title: title, Description: cfg.Info.Description, Source: cfg.Info.Source, Fields: fields}
}

// Text renders the card as plain text.
func (c Card) Text() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\nDescription: %s\nSource: %s\n", c.Title, c.Description, c.Source)
	if len(c.Fields) > 0 {
		sb.WriteString("Main fields:\n")
		for _, f := range c.Fields {
			fmt.Fprintf(&sb, "  • %s\n", f)
		}
	}
	return sb.String()
}
