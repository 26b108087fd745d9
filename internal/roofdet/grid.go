package roofdet

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/banshee-data/solar.report/internal/geom"
)

// cell is an integer pixel position at the LiDAR resolution.
type cell struct {
	I, J int
}

// cellOf snaps a point to its pixel relative to an origin. Points are pixel
// centres, so rounding absorbs floating point drift.
func cellOf(x, y, ox, oy, res float64) cell {
	return cell{
		I: int(math.Round((x - ox) / res)),
		J: int(math.Round((y - oy) / res)),
	}
}

// binaryGrid is a dense occupancy raster covering a set of cells.
type binaryGrid struct {
	minI, minJ int
	w, h       int
	on         []bool
}

func newBinaryGrid(cells []cell) *binaryGrid {
	if len(cells) == 0 {
		return &binaryGrid{}
	}
	minI, minJ := cells[0].I, cells[0].J
	maxI, maxJ := minI, minJ
	for _, c := range cells[1:] {
		minI = min(minI, c.I)
		minJ = min(minJ, c.J)
		maxI = max(maxI, c.I)
		maxJ = max(maxJ, c.J)
	}
	g := &binaryGrid{
		minI: minI,
		minJ: minJ,
		w:    maxI - minI + 1,
		h:    maxJ - minJ + 1,
	}
	g.on = make([]bool, g.w*g.h)
	for _, c := range cells {
		g.on[g.index(c.I-minI, c.J-minJ)] = true
	}
	return g
}

func (g *binaryGrid) index(i, j int) int { return j*g.w + i }

// at reports occupancy using local coordinates; out of range is empty.
func (g *binaryGrid) at(i, j int) bool {
	if i < 0 || j < 0 || i >= g.w || j >= g.h {
		return false
	}
	return g.on[g.index(i, j)]
}

func (g *binaryGrid) count() int {
	n := 0
	for _, v := range g.on {
		if v {
			n++
		}
	}
	return n
}

// label assigns 4-connected component labels starting at 1. areas[l] is the
// cell count of label l; areas[0] is unused.
func (g *binaryGrid) label() (labels []int, areas []int) {
	labels = make([]int, len(g.on))
	areas = []int{0}
	stack := make([]int, 0, 64)
	next := 1
	for start, on := range g.on {
		if !on || labels[start] != 0 {
			continue
		}
		labels[start] = next
		area := 0
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			k := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++
			i, j := k%g.w, k/g.w
			for _, d := range [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
				ni, nj := i+d[0], j+d[1]
				if !g.at(ni, nj) {
					continue
				}
				nk := g.index(ni, nj)
				if labels[nk] == 0 {
					labels[nk] = next
					stack = append(stack, nk)
				}
			}
		}
		areas = append(areas, area)
		next++
	}
	return labels, areas
}

// largestLabel returns the label with most cells, or 0 for an empty grid.
func largestLabel(areas []int) int {
	best, bestArea := 0, 0
	for l := 1; l < len(areas); l++ {
		if areas[l] > bestArea {
			best, bestArea = l, areas[l]
		}
	}
	return best
}

// only returns a copy of the grid holding just the cells of one label.
func (g *binaryGrid) only(labels []int, l int) *binaryGrid {
	out := &binaryGrid{minI: g.minI, minJ: g.minJ, w: g.w, h: g.h, on: make([]bool, len(g.on))}
	for k, lab := range labels {
		out.on[k] = lab == l
	}
	return out
}

// croftonCoefs is the 4-direction Crofton lookup table indexed by the 2x2
// neighbourhood code.
var croftonCoefs = [16]float64{
	0,
	math.Pi / 4 * (1 + 1/math.Sqrt2),
	math.Pi / (4 * math.Sqrt2),
	math.Pi / (2 * math.Sqrt2),
	0,
	math.Pi / 4 * (1 + 1/math.Sqrt2),
	0,
	math.Pi / (4 * math.Sqrt2),
	math.Pi / 4,
	math.Pi / 2,
	math.Pi / (4 * math.Sqrt2),
	math.Pi / (4 * math.Sqrt2),
	math.Pi / 4,
	math.Pi / 2,
	0,
	0,
}

// croftonPerimeter estimates the perimeter of the occupied cells in pixel
// units using the Crofton formula over 4 directions.
func (g *binaryGrid) croftonPerimeter() float64 {
	var hist [16]int
	for i := 0; i <= g.w; i++ {
		for j := 0; j <= g.h; j++ {
			code := 0
			if g.at(i, j) {
				code += 1
			}
			if g.at(i-1, j) {
				code += 2
			}
			if g.at(i, j-1) {
				code += 4
			}
			if g.at(i-1, j-1) {
				code += 8
			}
			hist[code]++
		}
	}
	var p float64
	for code, n := range hist {
		p += float64(n) * croftonCoefs[code]
	}
	return p
}

// convexHullCount returns the number of cells whose centres fall inside
// the convex hull of the occupied cells' corners.
func (g *binaryGrid) convexHullCount() (int, error) {
	corners := make(map[orb.Point]struct{})
	for j := 0; j < g.h; j++ {
		for i := 0; i < g.w; i++ {
			if !g.at(i, j) {
				continue
			}
			x, y := float64(i), float64(j)
			corners[orb.Point{x - 0.5, y - 0.5}] = struct{}{}
			corners[orb.Point{x + 0.5, y - 0.5}] = struct{}{}
			corners[orb.Point{x - 0.5, y + 0.5}] = struct{}{}
			corners[orb.Point{x + 0.5, y + 0.5}] = struct{}{}
		}
	}
	pts := make([]orb.Point, 0, len(corners))
	for p := range corners {
		pts = append(pts, p)
	}
	hull, err := geom.ConvexHull(pts)
	if err != nil {
		return 0, err
	}
	return cellsInConvexRing(hull[0]), nil
}

// cellsInConvexRing counts integer lattice points inside or on a convex ring.
func cellsInConvexRing(r orb.Ring) int {
	const eps = 1e-9
	b := r.Bound()
	total := 0
	for y := int(math.Ceil(b.Min[1] - eps)); float64(y) <= b.Max[1]+eps; y++ {
		fy := float64(y)
		lo, hi := math.Inf(1), math.Inf(-1)
		for k := 0; k+1 < len(r); k++ {
			p, q := r[k], r[k+1]
			if (p[1]-fy)*(q[1]-fy) > 0 {
				continue
			}
			if p[1] == q[1] {
				lo = math.Min(lo, math.Min(p[0], q[0]))
				hi = math.Max(hi, math.Max(p[0], q[0]))
				continue
			}
			x := p[0] + (fy-p[1])*(q[0]-p[0])/(q[1]-p[1])
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
		if lo > hi {
			continue
		}
		n := int(math.Floor(hi+eps)) - int(math.Ceil(lo-eps)) + 1
		if n > 0 {
			total += n
		}
	}
	return total
}
