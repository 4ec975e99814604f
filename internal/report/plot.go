package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ahmedessabar/Sync/internal/merge"
	"github.com/ahmedessabar/Sync/internal/series"
	"github.com/ahmedessabar/Sync/internal/units"
)

// ErrNothingToPlot is returned when none of the requested columns exist.
var ErrNothingToPlot = errors.New("no plottable columns")

// PlotWidth and PlotHeight size every PNG.
const (
	PlotWidth  = 14 * vg.Inch
	PlotHeight = 6 * vg.Inch
)

var palette = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 148, G: 103, B: 189, A: 255},
}

// WriteSyncPlot overlays the motion acceleration and the encoder-derived
// acceleration over elapsed seconds, so alignment can be checked by eye.
func WriteSyncPlot(w io.Writer, m *merge.Merged, title string, columns ...string) error {
	p, err := linePlot(m, columns, 1)
	if err != nil {
		return err
	}
	p.Title.Text = fmt.Sprintf("%s - Sync Verification", title)
	p.Y.Label.Text = "Acceleration (m/s²)"
	return save(w, p)
}

// WriteSpeedPlot overlays speed columns converted from m/s to unit.
func WriteSpeedPlot(w io.Writer, m *merge.Merged, title, unit string, columns ...string) error {
	p, err := linePlot(m, columns, units.ConvertSpeed(1, unit))
	if err != nil {
		return err
	}
	p.Title.Text = fmt.Sprintf("%s - Speed", title)
	p.Y.Label.Text = fmt.Sprintf("Speed (%s)", units.Label(unit))
	return save(w, p)
}

func linePlot(m *merge.Merged, columns []string, scale float64) (*plot.Plot, error) {
	if m.Rows() == 0 {
		return nil, ErrNothingToPlot
	}
	x := series.Elapsed(m.Times, m.Times[0])

	p := plot.New()
	p.X.Label.Text = "Time (s)"

	added := 0
	for _, name := range columns {
		col := m.Column(name)
		if col == nil {
			continue
		}
		pts := make(plotter.XYs, len(col))
		for i, v := range col {
			pts[i].X = x[i]
			pts[i].Y = v * scale
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		line.Color = palette[added%len(palette)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
		added++
	}
	if added == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNothingToPlot, columns)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	p.Add(plotter.NewGrid())
	return p, nil
}

func save(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
