package elevation

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/banshee-data/solar.report/internal/solar"
)

// Points returns a LiDAR point for every cell of dem whose centre lies in
// poly and has an elevation. Aspect is taken from the aspect raster in
// radians and is NaN where the cell has none; aspect may be nil.
func Points(dem, aspect *Raster, poly orb.Polygon, buildingID string) []solar.LidarPoint {
	if len(poly) == 0 {
		return nil
	}
	c0, r0, c1, r1 := dem.window(poly.Bound())
	var out []solar.LidarPoint
	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			z := dem.At(col, row)
			if dem.IsNoData(z) {
				continue
			}
			pt := dem.Centre(col, row)
			if !planar.PolygonContains(poly, pt) {
				continue
			}
			a := math.NaN()
			if aspect != nil {
				if v := aspect.At(col, row); !aspect.IsNoData(v) {
					a = v * math.Pi / 180
				}
			}
			out = append(out, solar.LidarPoint{X: pt[0], Y: pt[1], Z: z, Aspect: a, BuildingID: buildingID})
		}
	}
	return out
}

// Mask returns a copy of r with every cell whose centre is outside all of
// polys set to nodata.
func Mask(r *Raster, polys []orb.Polygon) *Raster {
	out := r.Like()
	for _, poly := range polys {
		if len(poly) == 0 {
			continue
		}
		c0, r0, c1, r1 := r.window(poly.Bound())
		for row := r0; row < r1; row++ {
			for col := c0; col < c1; col++ {
				if planar.PolygonContains(poly, r.Centre(col, row)) {
					out.Set(col, row, r.At(col, row))
				}
			}
		}
	}
	return out
}

// Covers reports whether any cell centre inside poly has an elevation.
func Covers(dem *Raster, poly orb.Polygon) bool {
	if len(poly) == 0 {
		return false
	}
	c0, r0, c1, r1 := dem.window(poly.Bound())
	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			if !dem.IsNoData(dem.At(col, row)) && planar.PolygonContains(poly, dem.Centre(col, row)) {
				return true
			}
		}
	}
	return false
}
