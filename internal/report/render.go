package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Barplot is the per-reaction mean of one observable, one series per condition.
type Barplot struct {
	Title      string
	Reactions  []int
	Conditions []string
	Mean       [][]float64 // [reaction][condition]
}

// RenderBarplot draws one bar per (reaction, condition) pair, grouped by reaction
// and colored by condition.
func RenderBarplot(w io.Writer, opts Options, in Barplot) error {
	if err := opts.Validate(len(in.Conditions)); err != nil {
		return err
	}
	if len(in.Mean) != len(in.Reactions) {
		return fmt.Errorf("barplot has %d mean rows for %d reactions", len(in.Mean), len(in.Reactions))
	}
	colors, err := opts.Colors()
	if err != nil {
		return err
	}

	bars := make([]chart.Value, 0, len(in.Reactions)*len(in.Conditions))
	nonzero := false
	for r, means := range in.Mean {
		if len(means) != len(in.Conditions) {
			return fmt.Errorf("reaction %d has %d conditions, want %d", in.Reactions[r], len(means), len(in.Conditions))
		}
		for c, mean := range means {
			if math.IsNaN(mean) || math.IsInf(mean, 0) {
				return fmt.Errorf("reaction %d condition %s: non-finite mean", in.Reactions[r], in.Conditions[c])
			}
			if mean != 0 {
				nonzero = true
			}
			label := ""
			if c == 0 {
				label = strconv.Itoa(in.Reactions[r])
			}
			bars = append(bars, chart.Value{
				Label: label,
				Value: mean,
				Style: chart.Style{
					FillColor:   colors[c],
					StrokeColor: colors[c],
					StrokeWidth: 0,
				},
			})
		}
	}
	if len(bars) == 0 || !nonzero {
		return ErrNothingToRender
	}

	graph := chart.BarChart{
		Title:        in.Title,
		Width:        opts.FigureWidth,
		Height:       opts.FigureHeight,
		BarWidth:     opts.BarWidth,
		BarSpacing:   int(math.Round(float64(opts.BarWidth) * opts.Width)),
		UseBaseValue: true,
		BaseValue:    0,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		Bars: bars,
	}
	return graph.Render(chart.PNG, w)
}

// RenderHeatmap draws a diverging red/blue grid centered at zero, one row per
// parameter set and one column per reaction.
func RenderHeatmap(w io.Writer, opts Options, rows [][]float64) error {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return ErrNothingToRender
	}
	if opts.FigureWidth <= 0 || opts.FigureHeight <= 0 {
		return fmt.Errorf("figure size must be positive: %dx%d", opts.FigureWidth, opts.FigureHeight)
	}
	cols := len(rows[0])
	scale := 0.0
	for _, row := range rows {
		if len(row) != cols {
			return fmt.Errorf("heatmap rows must have %d columns", cols)
		}
		for _, v := range row {
			if a := math.Abs(v); a > scale && !math.IsInf(a, 0) {
				scale = a
			}
		}
	}
	if scale == 0 {
		return ErrNothingToRender
	}

	r, err := chart.PNG(opts.FigureWidth, opts.FigureHeight)
	if err != nil {
		return err
	}
	cellW := float64(opts.FigureWidth) / float64(cols)
	cellH := float64(opts.FigureHeight) / float64(len(rows))
	for i, row := range rows {
		for j, v := range row {
			x0 := int(math.Round(float64(j) * cellW))
			x1 := int(math.Round(float64(j+1) * cellW))
			y0 := int(math.Round(float64(i) * cellH))
			y1 := int(math.Round(float64(i+1) * cellH))
			r.SetFillColor(divergingColor(v / scale))
			r.MoveTo(x0, y0)
			r.LineTo(x1, y0)
			r.LineTo(x1, y1)
			r.LineTo(x0, y1)
			r.Close()
			r.Fill()
		}
	}
	return r.Save(w)
}

func divergingColor(t float64) drawing.Color {
	if math.IsNaN(t) {
		return drawing.ColorWhite
	}
	t = math.Max(-1, math.Min(1, t))
	fade := uint8(math.Round(255 * (1 - math.Abs(t))))
	if t >= 0 {
		return drawing.Color{R: 255, G: fade, B: fade, A: 255}
	}
	return drawing.Color{R: fade, G: fade, B: 255, A: 255}
}

// WritePNG renders into path, creating parent directories.
func WritePNG(path string, render func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}
