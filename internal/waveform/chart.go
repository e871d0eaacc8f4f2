package waveform

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const chartAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderChart writes an interactive HTML page with the per-axis samples and
// a bar per segment coloured by state.
func RenderChart(out io.Writer, tx *Transaction) error {
	w, err := tx.Reconstruct()
	if err != nil {
		return err
	}

	x := make([]string, w.TotalSamples)
	for i := range x {
		x[i] = strconv.FormatFloat(w.Time(i), 'f', 6, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "AirVibe Waveform", Width: "100%", Height: "520px", AssetsHost: chartAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Transaction %s", tx.Key),
			Subtitle: fmt.Sprintf("%s  %d Hz  segments=%d  samples/axis=%d  complete=%t", tx.AxisMask.Label(), w.SamplingRateHz, tx.Expected, tx.SamplesPerAxis, tx.Complete),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Amplitude", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x)
	for axis := 0; axis < 3; axis++ {
		if !w.AxisMask.Has(axis) {
			continue
		}
		data := make([]opts.LineData, w.TotalSamples)
		for i, v := range w.Axes[axis] {
			data[i] = opts.LineData{Value: v}
		}
		line.AddSeries(fmt.Sprintf("Axis %d", axis+1), data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(axisColors[axis])}),
		)
	}

	labels := make([]string, len(w.Spans))
	bars := make([]opts.BarData, len(w.Spans))
	for i, sp := range w.Spans {
		labels[i] = strconv.Itoa(sp.Index)
		bars[i] = opts.BarData{
			Name:      sp.State.String(),
			Value:     sp.End - sp.Start,
			ItemStyle: &opts.ItemStyle{Color: hexColor(stateColors[sp.State])},
		}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "240px", AssetsHost: chartAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Segments", Subtitle: "green received, red missing, yellow requested, grey pending"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("samples", bars)

	page := components.NewPage()
	page.SetAssetsHost(chartAssetsHost)
	page.AddCharts(line, bar)
	return page.Render(out)
}
