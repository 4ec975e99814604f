package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ahmedessabar/Sync/internal/pipeline"
)

// statusOrder fixes the bar order of the status chart.
var statusOrder = []pipeline.Status{
	pipeline.StatusSuccess,
	pipeline.StatusMissingFile,
	pipeline.StatusLoadError,
	pipeline.StatusLengthMismatch,
	pipeline.StatusSyncFailed,
	pipeline.StatusMergeException,
	pipeline.StatusSkipped,
}

// WriteBatchHTML renders the batch summary page: a bar of status counts and
// the leading offset and drift of every pair that produced an estimate.
// assetsHost overrides where the echarts scripts load from; empty keeps the
// library default.
func WriteBatchHTML(w io.Writer, runID string, records []pipeline.Record, assetsHost string) error {
	counts := make(map[pipeline.Status]int)
	for _, r := range records {
		counts[r.Status]++
	}
	x := make([]string, len(statusOrder))
	y := make([]opts.BarData, len(statusOrder))
	for i, s := range statusOrder {
		x[i] = string(s)
		y[i] = opts.BarData{Value: counts[s]}
	}

	initOpts := opts.Initialization{PageTitle: "Batch Report", Width: "100%", Height: "480px"}
	if assetsHost != "" {
		initOpts.AssetsHost = assetsHost
	}

	status := charts.NewBar()
	status.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: "Pair Status", Subtitle: fmt.Sprintf("run=%s pairs=%d", runID, len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	status.SetXAxis(x).
		AddSeries("pairs", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	var names []string
	var offsets, drifts []opts.BarData
	for _, r := range records {
		if r.Estimate.Method == "" {
			continue
		}
		names = append(names, r.FileName)
		offsets = append(offsets, opts.BarData{Value: r.Estimate.LeadingOffset})
		drifts = append(drifts, opts.BarData{Value: r.Estimate.DriftPPM()})
	}

	offset := charts.NewBar()
	offset.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts),
		charts.WithTitleOpts(opts.Title{Title: "Clock Offsets", Subtitle: "leading offset (s) and drift (ppm) per pair"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 30}}),
	)
	offset.SetXAxis(names).
		AddSeries("offset_s", offsets).
		AddSeries("drift_ppm", drifts)

	page := components.NewPage()
	page.PageTitle = "Batch Report"
	if assetsHost != "" {
		page.SetAssetsHost(assetsHost)
	}
	page.AddCharts(status, offset)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}
