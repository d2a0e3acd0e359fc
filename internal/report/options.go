// Package report renders sensitivity summaries as charts.
package report

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wcharczuk/go-chart/v2/drawing"
)

var (
	ErrPaletteTooShort = errors.New("palette has fewer colors than conditions")
	ErrUnknownStyle    = errors.New("unknown analysis style")
	ErrInvalidColor    = errors.New("invalid hex color")
	ErrNothingToRender = errors.New("nothing to render")
)

type Style string

const (
	StyleBarplot Style = "barplot"
	StyleHeatmap Style = "heatmap"
	StyleNone    Style = "none"
)

func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case StyleBarplot:
		return StyleBarplot, nil
	case StyleHeatmap:
		return StyleHeatmap, nil
	case StyleNone, "":
		return StyleNone, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStyle, s)
	}
}

// tab10
var defaultPalette = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

// Options is the chart configuration of one model. Treat it as a value; the
// accessors hand out copies.
type Options struct {
	Width        float64  `yaml:"width" json:"width"`
	FigureWidth  int      `yaml:"figure_width" json:"figure_width"`
	FigureHeight int      `yaml:"figure_height" json:"figure_height"`
	BarWidth     int      `yaml:"bar_width" json:"bar_width"`
	Palette      []string `yaml:"palette" json:"palette"`
}

func DefaultOptions() Options {
	return Options{
		Width:        0.3,
		FigureWidth:  1200,
		FigureHeight: 500,
		BarWidth:     12,
		Palette:      append([]string(nil), defaultPalette...),
	}
}

// Visualization is the chart-configuration role of a model.
type Visualization interface {
	SensitivityOptions() Options
}

func (o Options) Clone() Options {
	o.Palette = append([]string(nil), o.Palette...)
	return o
}

// Merge returns o with every set field of override applied.
func (o Options) Merge(override Options) Options {
	out := o.Clone()
	if override.Width > 0 {
		out.Width = override.Width
	}
	if override.FigureWidth > 0 {
		out.FigureWidth = override.FigureWidth
	}
	if override.FigureHeight > 0 {
		out.FigureHeight = override.FigureHeight
	}
	if override.BarWidth > 0 {
		out.BarWidth = override.BarWidth
	}
	if len(override.Palette) > 0 {
		out.Palette = append([]string(nil), override.Palette...)
	}
	return out
}

// Validate checks the options against the number of conditions to be drawn.
func (o Options) Validate(conditions int) error {
	if o.FigureWidth <= 0 || o.FigureHeight <= 0 {
		return fmt.Errorf("figure size must be positive: %dx%d", o.FigureWidth, o.FigureHeight)
	}
	if o.BarWidth <= 0 {
		return fmt.Errorf("bar width must be positive: %d", o.BarWidth)
	}
	if len(o.Palette) < conditions {
		return fmt.Errorf("%w: palette=%d conditions=%d", ErrPaletteTooShort, len(o.Palette), conditions)
	}
	_, err := o.Colors()
	return err
}

func (o Options) Colors() ([]drawing.Color, error) {
	colors := make([]drawing.Color, 0, len(o.Palette))
	for _, hex := range o.Palette {
		c, err := parseHex(hex)
		if err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	return colors, nil
}

func parseHex(hex string) (drawing.Color, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(trimmed) != 6 {
		return drawing.Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
	}
	for _, r := range trimmed {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return drawing.Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, hex)
		}
	}
	return drawing.ColorFromHex(trimmed), nil
}
