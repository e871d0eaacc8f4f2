package waveform

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Palette shared by the PNG and HTML renderings.
var (
	axisColors = [3]color.RGBA{
		{R: 0x00, G: 0x35, B: 0x7a, A: 0xff},
		{R: 0x1f, G: 0x80, B: 0xff, A: 0xff},
		{R: 0x8c, G: 0xb8, B: 0xf0, A: 0xff},
	}
	stateColors = map[SegmentState]color.RGBA{
		StateGreen:  {R: 0x00, G: 0xbf, B: 0x63, A: 0x30},
		StateRed:    {R: 0xff, G: 0x50, B: 0x50, A: 0x40},
		StateGrey:   {R: 0xb4, G: 0xb4, B: 0xb4, A: 0x40},
		StateYellow: {R: 0xff, G: 0xd2, B: 0x1f, A: 0x40},
	}
)

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// WritePNG renders the reconstruction as a line plot with non-green
// segments shaded by state.
func WritePNG(out io.Writer, tx *Transaction) error {
	w, err := tx.Reconstruct()
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Transaction %s - %s @ %d Hz", tx.Key, tx.AxisMask.Label(), w.SamplingRateHz)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Amplitude (raw)"

	lo, hi := amplitudeRange(w)
	for _, sp := range w.Spans {
		if sp.State == StateGreen || sp.End == sp.Start {
			continue
		}
		x0, x1 := w.Time(sp.Start), w.Time(sp.End)
		band, err := plotter.NewPolygon(plotter.XYs{{X: x0, Y: lo}, {X: x1, Y: lo}, {X: x1, Y: hi}, {X: x0, Y: hi}})
		if err != nil {
			return err
		}
		band.Color = stateColors[sp.State]
		band.LineStyle.Width = 0
		p.Add(band)
	}

	for axis := 0; axis < 3; axis++ {
		if !w.AxisMask.Has(axis) {
			continue
		}
		pts := make(plotter.XYs, w.TotalSamples)
		for i, v := range w.Axes[axis] {
			pts[i] = plotter.XY{X: w.Time(i), Y: float64(v)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = axisColors[axis]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("Axis %d", axis+1), line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(out)
	return err
}

func amplitudeRange(w *Waveform) (lo, hi float64) {
	for axis := 0; axis < 3; axis++ {
		for _, v := range w.Axes[axis] {
			lo = min(lo, float64(v))
			hi = max(hi, float64(v))
		}
	}
	if lo == hi {
		lo, hi = -1, 1
	}
	return lo, hi
}
