// Package irradiation maps per-pixel yield from an external irradiation
// engine onto panels and roof planes.
package irradiation

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
)

// DefaultSystemLoss is the fraction of output lost in cabling, inverters
// and the like.
const DefaultSystemLoss = 0.14

// daysInMonth ignores leap years, as the engine's daily means do.
var daysInMonth = [12]float64{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// Pixel is one engine output cell. KWhYear is the annual yield of a 1 kWp
// system on the cell, WhDay the mean daily yield per month, and Horizon
// the horizon height in degrees for equal slices clockwise from north.
// NaN marks missing values.
type Pixel struct {
	X, Y    float64
	KWhYear float64
	WhDay   [12]float64
	Horizon []float64
}

func (p Pixel) valid() bool { return !math.IsNaN(p.KWhYear) }

// Params scales pixel yield to installed capacity.
type Params struct {
	PeakPowerPerM2 float64
	SystemLoss     float64
}

// DefaultParams returns a typical crystalline silicon installation.
func DefaultParams() Params {
	return Params{PeakPowerPerM2: 0.2, SystemLoss: DefaultSystemLoss}
}

// Summary counts what aggregation touched.
type Summary struct {
	Pixels        int
	SkippedPixels int
	Panels        int
	// PanelsWithoutPixels counts panels that overlapped no valid pixel.
	PanelsWithoutPixels int
	Planes              int
}

// Aggregate fills in yield and horizon on panels and usable roof planes.
// Yield is the overlap-weighted mean of the per-kWp pixel yield under the
// polygon, scaled by the capacity installed on its real area: Area for
// panels and RawArea for planes, falling back to the polygon's horizontal
// area when unset. Panels take the horizon of the pixel nearest their
// centroid; planes average the horizons of every pixel they touch.
func Aggregate(pixels []Pixel, res float64, panels []solar.Panel, planes []solar.RoofPlane, p Params) Summary {
	sum := Summary{}
	valid := make([]Pixel, 0, len(pixels))
	for _, px := range pixels {
		if px.valid() {
			valid = append(valid, px)
		} else {
			sum.SkippedPixels++
		}
	}
	sum.Pixels = len(valid)

	centres := make([]orb.Point, len(valid))
	for i, px := range valid {
		centres[i] = orb.Point{px.X, px.Y}
	}
	a := &aggregator{
		pixels: valid,
		index:  geom.NewPointIndex(centres),
		res:    res,
		scale:  p.PeakPowerPerM2 * (1 - p.SystemLoss),
	}

	for i := range panels {
		pn := &panels[i]
		y, n := a.yield(pn.Geom, pn.Area)
		pn.KWhYear, pn.KWhMonthly = y.year, y.months
		if n == 0 {
			sum.PanelsWithoutPixels++
			monitoring.Logf("irradiation: building %s panel %d covers no pixels", pn.BuildingID, pn.ID)
		}
		if len(pn.Geom) > 0 {
			if j, ok := a.index.Nearest(geom.Centroid(pn.Geom)); ok {
				pn.Horizon = horizonCopy(valid[j].Horizon)
			}
		}
		sum.Panels++
	}

	for i := range planes {
		pl := &planes[i]
		if !pl.Usable || len(pl.Geom) == 0 {
			continue
		}
		y, _ := a.yield(pl.Geom, pl.RawArea)
		pl.KWhYear, pl.KWhMonthly = y.year, y.months
		pl.Horizon = a.meanHorizon(pl.Geom)
		sum.Planes++
	}
	return sum
}

// horizonCopy copies h with missing slices as zero.
func horizonCopy(h []float64) []float64 {
	out := make([]float64, len(h))
	for i, v := range h {
		if !math.IsNaN(v) {
			out[i] = v
		}
	}
	return out
}

type yield struct {
	year   float64
	months [12]float64
}

type aggregator struct {
	pixels []Pixel
	index  *geom.PointIndex
	res    float64
	scale  float64
}

// cell returns the square footprint of pixel i.
func (a *aggregator) cell(i int) orb.Polygon {
	px := a.pixels[i]
	return geom.Square(px.X-a.res/2, px.Y-a.res/2, a.res)
}

// touching returns the pixels whose cells overlap poly, with the overlap
// area of each.
func (a *aggregator) touching(poly orb.Polygon) ([]int, []float64) {
	if len(poly) == 0 {
		return nil, nil
	}
	var idx []int
	var overlap []float64
	for _, i := range a.index.Within(poly.Bound().Pad(a.res / 2)) {
		in, err := geom.Intersection(a.cell(i), poly)
		if err != nil {
			monitoring.Logf("irradiation: pixel overlap: %v", err)
			continue
		}
		if area := geom.MultiArea(in); area > 0 {
			idx = append(idx, i)
			overlap = append(overlap, area)
		}
	}
	return idx, overlap
}

// yield weights each touching pixel by its overlap with poly and scales
// the mean per-kWp yield by the peak power installed on area square
// metres.
func (a *aggregator) yield(poly orb.Polygon, area float64) (yield, int) {
	var y yield
	idx, overlap := a.touching(poly)
	if len(idx) == 0 {
		return y, 0
	}
	if area <= 0 {
		area = geom.Area(poly)
	}
	kwp := area * a.scale

	var weight float64
	var monthWeight [12]float64
	for k, i := range idx {
		px := a.pixels[i]
		w := overlap[k]
		weight += w
		y.year += px.KWhYear * w
		for m, wh := range px.WhDay {
			if math.IsNaN(wh) {
				continue
			}
			monthWeight[m] += w
			y.months[m] += wh * 0.001 * daysInMonth[m] * w
		}
	}
	y.year *= kwp / weight
	for m := range y.months {
		if monthWeight[m] > 0 {
			y.months[m] *= kwp / monthWeight[m]
		}
	}
	return y, len(idx)
}

// meanHorizon averages each horizon slice over the pixels touching poly,
// ignoring missing values. A slice with no values is zero.
func (a *aggregator) meanHorizon(poly orb.Polygon) []float64 {
	idx, _ := a.touching(poly)
	var sums []float64
	var counts []int
	for _, i := range idx {
		h := a.pixels[i].Horizon
		if len(h) > len(sums) {
			sums = append(sums, make([]float64, len(h)-len(sums))...)
			counts = append(counts, make([]int, len(h)-len(counts))...)
		}
		for s, v := range h {
			if math.IsNaN(v) {
				continue
			}
			sums[s] += v
			counts[s]++
		}
	}
	if len(sums) == 0 {
		return nil
	}
	for s := range sums {
		if counts[s] > 0 {
			sums[s] /= float64(counts[s])
		}
	}
	return sums
}
