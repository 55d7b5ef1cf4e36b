package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/teslashibe/go-mlat/internal/harness"
)

// PlotSize is the edge length of the square scatter plot
const PlotSize = 6 * vg.Inch

var (
	truthColor    = color.RGBA{R: 40, G: 110, B: 200, A: 255}
	estimateColor = color.RGBA{R: 220, G: 80, B: 40, A: 255}
	observerColor = color.RGBA{A: 255}
	errorColor    = color.RGBA{R: 150, G: 150, B: 150, A: 255}
)

// Scatter plots true transmitter positions against their estimates, joined by an
// error segment, with the observers drawn as triangles. Failed trials are skipped.
func Scatter(title string, observers []harness.Observer, trials []harness.Trial) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	truth := make(plotter.XYs, 0, len(trials))
	estimates := make(plotter.XYs, 0, len(trials))
	for _, t := range trials {
		if !t.OK() {
			continue
		}
		exact, est := t.Outcome.Exact, t.Outcome.Estimate.Position
		truth = append(truth, plotter.XY{X: exact.X, Y: exact.Y})
		estimates = append(estimates, plotter.XY{X: est.X, Y: est.Y})

		seg, err := plotter.NewLine(plotter.XYs{{X: exact.X, Y: exact.Y}, {X: est.X, Y: est.Y}})
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", t.Index, err)
		}
		seg.Color = errorColor
		seg.Width = vg.Points(0.5)
		p.Add(seg)
	}

	if len(truth) > 0 {
		truthPts, err := plotter.NewScatter(truth)
		if err != nil {
			return nil, err
		}
		truthPts.GlyphStyle.Color = truthColor
		truthPts.GlyphStyle.Shape = draw.CircleGlyph{}
		truthPts.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(truthPts)
		p.Legend.Add("true", truthPts)

		estPts, err := plotter.NewScatter(estimates)
		if err != nil {
			return nil, err
		}
		estPts.GlyphStyle.Color = estimateColor
		estPts.GlyphStyle.Shape = draw.CrossGlyph{}
		estPts.GlyphStyle.Radius = vg.Points(2.5)
		p.Add(estPts)
		p.Legend.Add("estimated", estPts)
	}

	if len(observers) > 0 {
		ops := make(plotter.XYs, len(observers))
		for i, o := range observers {
			ops[i] = plotter.XY{X: o.Position.X, Y: o.Position.Y}
		}
		opPts, err := plotter.NewScatter(ops)
		if err != nil {
			return nil, err
		}
		opPts.GlyphStyle.Color = observerColor
		opPts.GlyphStyle.Shape = draw.PyramidGlyph{}
		opPts.GlyphStyle.Radius = vg.Points(4)
		p.Add(opPts)
		p.Legend.Add("observer", opPts)
	}

	// Configure legend
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// WritePlot renders p in the given format (png, svg, pdf, ...)
func WritePlot(w io.Writer, p *plot.Plot, format string) error {
	wt, err := p.WriterTo(PlotSize, PlotSize, format)
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	return nil
}

// SavePlot writes p to path, picking the format from the file extension
func SavePlot(p *plot.Plot, path string) error {
	if err := p.Save(PlotSize, PlotSize, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
