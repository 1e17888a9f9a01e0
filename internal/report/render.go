package report

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/drowsiness.report/internal/fatigue"
)

// ErrEmptyTimeline is returned when rendering a timeline with no points.
var ErrEmptyTimeline = errors.New("timeline has no calibrated points")

// series is one plotted metric.
type series struct {
	name string
	get  func(Point) float64
}

var timelineSeries = []series{
	{"score", func(p Point) float64 { return p.Score }},
	{"trend", func(p Point) float64 { return p.Trend }},
	{"acute", func(p Point) float64 { return p.Acute }},
	{"PERCLOS %", func(p Point) float64 { return p.Perclos }},
}

// WritePNG renders the timeline with level threshold guides to a PNG file.
func (tl *Timeline) WritePNG(path string, levels fatigue.LevelThresholds) error {
	points := tl.Points()
	if len(points) == 0 {
		return ErrEmptyTimeline
	}
	sum := tl.Summary()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Trip %s - fatigue timeline (peak %s)", shortID(sum.TripID), sum.PeakLevel)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Score / %"
	p.Y.Min = 0
	p.Y.Max = 100

	for i, s := range timelineSeries {
		xys := make(plotter.XYs, len(points))
		for j, pt := range points {
			xys[j] = plotter.XY{X: pt.Offset.Seconds(), Y: s.get(pt)}
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("plot %s: %w", s.name, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	end := points[len(points)-1].Offset.Seconds()
	for _, th := range []struct {
		name string
		v    float64
	}{
		{fatigue.LevelMild.String(), levels.Mild},
		{fatigue.LevelModerate.String(), levels.Moderate},
		{fatigue.LevelHigh.String(), levels.High},
		{fatigue.LevelCritical.String(), levels.Critical},
	} {
		guide, err := plotter.NewLine(plotter.XYs{{X: 0, Y: th.v}, {X: end, Y: th.v}})
		if err != nil {
			return fmt.Errorf("plot %s guide: %w", th.name, err)
		}
		guide.Width = vg.Points(0.5)
		guide.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(guide)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save timeline plot %s: %w", path, err)
	}
	return nil
}

// WriteHTML renders an interactive timeline and a time-at-level chart.
func (tl *Timeline) WriteHTML(w io.Writer) error {
	points := tl.Points()
	if len(points) == 0 {
		return ErrEmptyTimeline
	}
	sum := tl.Summary()

	x := make([]string, len(points))
	for i, p := range points {
		x[i] = fmt.Sprintf("%.1f", p.Offset.Seconds())
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fatigue Timeline", Width: "100%", Height: "540px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Fatigue timeline",
			Subtitle: fmt.Sprintf("trip=%s peak=%s (%.0f) alerts=%d", shortID(sum.TripID), sum.PeakLevel, sum.PeakScore, sum.Alerts),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 100}),
	)
	line.SetXAxis(x)
	for _, s := range timelineSeries {
		data := make([]opts.LineData, len(points))
		for i, p := range points {
			data[i] = opts.LineData{Value: s.get(p)}
		}
		line.AddSeries(s.name, data)
	}

	levels := []fatigue.Level{fatigue.LevelNormal, fatigue.LevelMild, fatigue.LevelModerate, fatigue.LevelHigh, fatigue.LevelCritical}
	names := make([]string, len(levels))
	secs := make([]opts.BarData, len(levels))
	for i, l := range levels {
		names[i] = l.String()
		secs[i] = opts.BarData{Value: sum.TimeAtLevel[l].Seconds()}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Time at level", Subtitle: fmt.Sprintf("duration %s", sum.Duration)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("seconds", secs,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(line, bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render timeline html: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
