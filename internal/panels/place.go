package panels

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/solar.report/internal/geom"
)

// offsets shift the grid by fractions of a portrait panel to try to fit
// more panels on awkward roofs.
var offsets = [][2]float64{
	{0, 0},
	{0.5, 0},
	{0, 0.5},
	{0.5, 0.5},
	{0.33, 0},
	{0, 0.33},
	{0.33, 0.33},
	{0.66, 0},
	{0, 0.66},
	{0.66, 0.66},
}

// gridCells returns cell rectangles of w x h covering bound, starting at
// its lower left corner.
func gridCells(b orb.Bound, w, h, spacingX, spacingY float64) []orb.Polygon {
	var cells []orb.Polygon
	for x := b.Min[0]; x < b.Max[0]; x += w + spacingX {
		for y := b.Min[1]; y < b.Max[1]; y += h + spacingY {
			cells = append(cells, geom.Rect(x, y, x+w, y+h))
		}
	}
	return cells
}

// fits returns the cells, shifted by (dx, dy), that lie inside roof.
func fits(roof *geom.Prepared, cells []orb.Polygon, dx, dy float64) ([]orb.Polygon, error) {
	var out []orb.Polygon
	for _, c := range cells {
		moved := geom.Translate(c, dx, dy)
		ok, err := roof.Contains(moved)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, moved)
		}
	}
	return out, nil
}

func totalArea(polys []orb.Polygon) float64 {
	var a float64
	for _, p := range polys {
		a += geom.Area(p)
	}
	return a
}

// Place returns the panel footprints that fit on roof. Panels are drawn in
// plan, so their height along the slope is foreshortened by cos(slope).
// Sloped roofs try portrait and landscape rows; flat roofs use landscape
// rows spaced so that each row does not shade the next at the configured
// sun angle. A roof with no room returns no panels and no error.
func Place(roof orb.Polygon, slope, aspect float64, isFlat bool, d Dims) ([]orb.Polygon, error) {
	if geom.Area(roof) <= 0 {
		return nil, nil
	}
	slopeRad := slope * math.Pi / 180
	sunAngle := d.SunAngleDegrees
	if sunAngle <= 0 {
		sunAngle = DefaultSunAngleDegrees
	}

	portraitW := d.WidthM
	portraitH := d.HeightM * math.Cos(slopeRad)
	landscapeW := d.HeightM
	landscapeH := d.WidthM * math.Cos(slopeRad)

	spacingX, spacingY := d.SpacingM, d.SpacingM
	if isFlat {
		spacingY = math.Sin(slopeRad) * landscapeH / math.Tan(sunAngle*math.Pi/180)
	}

	centroid := geom.Centroid(roof)
	rotated, err := geom.MakeValid(geom.Rotate(roof, aspect, centroid))
	if errors.Is(err, geom.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rotate roof: %w", err)
	}
	prepared, err := geom.Prepare(rotated)
	if err != nil {
		return nil, fmt.Errorf("prepare roof: %w", err)
	}

	bound := rotated.Bound()
	portrait := gridCells(bound.Pad(portraitH), portraitW, portraitH, spacingX, spacingY)
	landscape := gridCells(bound.Pad(landscapeW), landscapeW, landscapeH, spacingX, spacingY)

	var best []orb.Polygon
	bestArea := 0.0
	consider := func(cand []orb.Polygon) {
		a := totalArea(cand)
		if len(cand) > len(best) || (len(cand) == len(best) && a > bestArea) {
			best, bestArea = cand, a
		}
	}
	for _, off := range offsets {
		dx, dy := -portraitW*off[0], -portraitH*off[1]
		if !isFlat {
			cand, err := fits(prepared, portrait, dx, dy)
			if err != nil {
				return nil, err
			}
			consider(cand)
		}
		cand, err := fits(prepared, landscape, dx, dy)
		if err != nil {
			return nil, err
		}
		consider(cand)
	}

	out := make([]orb.Polygon, len(best))
	for i, p := range best {
		out[i] = geom.Rotate(p, -aspect, centroid)
	}
	return out, nil
}
