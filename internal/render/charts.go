package render

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/fsutil"
)

// maxBuildingBars caps the per-building yield chart.
const maxBuildingBars = 25

// monthlyTotals sums the monthly yield of usable roof planes and of panels.
func monthlyTotals(r *db.Results) (planes, panels [12]float64) {
	for _, rp := range r.RoofPlanes {
		if !rp.Usable {
			continue
		}
		for m, v := range rp.KWhMonthly {
			planes[m] += v
		}
	}
	for _, pn := range r.Panels {
		for m, v := range pn.KWhMonthly {
			panels[m] += v
		}
	}
	return planes, panels
}

type buildingYield struct {
	id     string
	kwh    float64
	panels int
}

// buildingYields totals panel yield per building, largest first.
func buildingYields(r *db.Results) []buildingYield {
	idx := make(map[string]int)
	var out []buildingYield
	for _, pn := range r.Panels {
		i, ok := idx[pn.BuildingID]
		if !ok {
			i = len(out)
			idx[pn.BuildingID] = i
			out = append(out, buildingYield{id: pn.BuildingID})
		}
		out[i].kwh += pn.KWhYear
		out[i].panels++
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].kwh != out[b].kwh {
			return out[a].kwh > out[b].kwh
		}
		return out[a].id < out[b].id
	})
	return out
}

func monthlyChart(r *db.Results, assetsHost string) *charts.Bar {
	planes, panels := monthlyTotals(r)
	months := make([]string, 12)
	planeData := make([]opts.BarData, 12)
	panelData := make([]opts.BarData, 12)
	for m := range months {
		months[m] = time.Month(m + 1).String()[:3]
		planeData[m] = opts.BarData{Value: round1(planes[m])}
		panelData[m] = opts.BarData{Value: round1(panels[m])}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Monthly yield", Subtitle: "kWh, usable roof planes and panels"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "kWh"}),
	)
	bar.SetXAxis(months).
		AddSeries("roof planes", planeData).
		AddSeries("panels", panelData)
	return bar
}

func buildingChart(r *db.Results, assetsHost string) *charts.Bar {
	yields := buildingYields(r)
	total := len(yields)
	if len(yields) > maxBuildingBars {
		yields = yields[:maxBuildingBars]
	}
	ids := make([]string, len(yields))
	data := make([]opts.BarData, len(yields))
	for i, y := range yields {
		ids[i] = y.id
		data[i] = opts.BarData{Name: fmt.Sprintf("%d panels", y.panels), Value: round1(y.kwh)}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Yield by building", Subtitle: fmt.Sprintf("top %d of %d buildings with panels", len(ids), total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "kWh/year"}),
	)
	bar.SetXAxis(ids).
		AddSeries("kWh/year", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func planeChart(r *db.Results, assetsHost string) *charts.Scatter {
	var usable, unusable []opts.ScatterData
	for _, rp := range r.RoofPlanes {
		pt := opts.ScatterData{Name: fmt.Sprintf("%s/%d", rp.BuildingID, rp.ID), Value: []interface{}{round1(rp.Aspect), round1(rp.Slope)}}
		if rp.Usable {
			usable = append(usable, pt)
		} else {
			unusable = append(unusable, pt)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Roof planes", Subtitle: fmt.Sprintf("%d planes, %d usable", len(r.RoofPlanes), len(usable))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: 360, Name: "Aspect (deg)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 90, Name: "Slope (deg)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("usable", usable, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	scatter.AddSeries("not usable", unusable, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// ReportPage builds the job summary page: monthly yield, yield per
// building and roof plane orientation. An empty assetsHost uses the
// go-echarts default.
func ReportPage(title, assetsHost string, r *db.Results) *components.Page {
	page := components.NewPage()
	page.PageTitle = title
	if assetsHost != "" {
		page.SetAssetsHost(assetsHost)
	}
	page.AddCharts(
		monthlyChart(r, assetsHost),
		buildingChart(r, assetsHost),
		planeChart(r, assetsHost),
	)
	return page
}

// WriteReport renders the summary page for r to path.
func WriteReport(fsys fsutil.FileSystem, path, title string, r *db.Results) error {
	page := ReportPage(title, "", r)
	if err := fsutil.WriteFile(fsys, path, page.Render); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
