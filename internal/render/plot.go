// Package render draws debug output for a job: a PNG per building showing
// its footprint, roof planes and panels, and an HTML summary page.
package render

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/fsutil"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/security"
	"github.com/banshee-data/solar.report/internal/solar"
)

// plotSize is the edge length of a building plot.
const plotSize = 6 * vg.Inch

var (
	footprintColour = color.RGBA{R: 60, G: 60, B: 60, A: 255}
	usableColour    = color.RGBA{R: 53, G: 183, B: 121, A: 120}
	unusableColour  = color.RGBA{R: 205, G: 92, B: 92, A: 120}
	panelColour     = color.RGBA{R: 49, G: 104, B: 142, A: 220}
)

func ringXYs(r orb.Ring) plotter.XYs {
	pts := make(plotter.XYs, len(r))
	for i, p := range r {
		pts[i] = plotter.XY{X: p[0], Y: p[1]}
	}
	return pts
}

// polygon converts p to a plotter polygon. A nil fill draws the outline
// only.
func polygon(p orb.Polygon, fill, edge color.Color, width vg.Length) (*plotter.Polygon, error) {
	rings := make([]plotter.XYer, len(p))
	for i, r := range p {
		rings[i] = ringXYs(r)
	}
	poly, err := plotter.NewPolygon(rings...)
	if err != nil {
		return nil, err
	}
	poly.Color = fill
	poly.LineStyle.Color = edge
	poly.LineStyle.Width = width
	return poly, nil
}

// squareAround widens b to a square with a margin so both axes share one
// scale.
func squareAround(b orb.Bound) orb.Bound {
	w, h := b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]
	half := math.Max(w, h)/2 + math.Max(1, 0.05*math.Max(w, h))
	c := b.Center()
	return orb.Bound{
		Min: orb.Point{c[0] - half, c[1] - half},
		Max: orb.Point{c[0] + half, c[1] + half},
	}
}

// BuildingPlot draws a building footprint with its roof planes, coloured by
// usability, and its panels.
func BuildingPlot(b solar.Building, planes []solar.RoofPlane, panels []solar.Panel) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Building %s", b.ID)
	if b.Exclusion != solar.ExclusionNone {
		p.Title.Text += fmt.Sprintf(" (%s)", b.Exclusion)
	}
	p.X.Label.Text = "Easting (m)"
	p.Y.Label.Text = "Northing (m)"

	if len(b.Footprint) == 0 {
		return nil, fmt.Errorf("building %s has no footprint", b.ID)
	}
	bound := b.Footprint.Bound()

	var usableShown, unusableShown bool
	for _, rp := range planes {
		if len(rp.Geom) == 0 {
			continue
		}
		fill := unusableColour
		if rp.Usable {
			fill = usableColour
		}
		poly, err := polygon(rp.Geom, fill, fill, vg.Points(0.5))
		if err != nil {
			return nil, fmt.Errorf("roof plane %d: %w", rp.ID, err)
		}
		p.Add(poly)
		bound = bound.Union(rp.Geom.Bound())
		switch {
		case rp.Usable && !usableShown:
			p.Legend.Add("usable plane", poly)
			usableShown = true
		case !rp.Usable && !unusableShown:
			p.Legend.Add("unusable plane", poly)
			unusableShown = true
		}
	}

	for i, pn := range panels {
		poly, err := polygon(pn.Geom, panelColour, color.White, vg.Points(0.3))
		if err != nil {
			return nil, fmt.Errorf("panel %d: %w", pn.ID, err)
		}
		p.Add(poly)
		if i == 0 {
			p.Legend.Add(fmt.Sprintf("panels (%d)", len(panels)), poly)
		}
	}

	outline, err := polygon(b.Footprint, nil, footprintColour, vg.Points(1.5))
	if err != nil {
		return nil, fmt.Errorf("footprint: %w", err)
	}
	p.Add(outline)
	p.Legend.Add("footprint", outline)

	sq := squareAround(bound)
	p.X.Min, p.X.Max = sq.Min[0], sq.Max[0]
	p.Y.Min, p.Y.Max = sq.Min[1], sq.Max[1]

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG encodes p as a square PNG.
func WritePNG(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(plotSize, plotSize, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteBuildingPlots writes <building id>.png to dir for every building in
// r and returns the paths written. Buildings that cannot be drawn are
// logged and skipped.
func WriteBuildingPlots(fsys fsutil.FileSystem, dir string, r *db.Results) ([]string, error) {
	planes := make(map[string][]solar.RoofPlane)
	for _, rp := range r.RoofPlanes {
		planes[rp.BuildingID] = append(planes[rp.BuildingID], rp)
	}
	panels := make(map[string][]solar.Panel)
	for _, pn := range r.Panels {
		panels[pn.BuildingID] = append(panels[pn.BuildingID], pn)
	}

	var paths []string
	for _, b := range r.Buildings {
		p, err := BuildingPlot(b, planes[b.ID], panels[b.ID])
		if err != nil {
			monitoring.Logf("render: skipping building %s: %v", b.ID, err)
			continue
		}
		path, err := security.JoinWithin(dir, b.ID+".png")
		if err != nil {
			return paths, err
		}
		if err := fsutil.WriteFile(fsys, path, func(w io.Writer) error { return WritePNG(w, p) }); err != nil {
			return paths, fmt.Errorf("plot building %s: %w", b.ID, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
