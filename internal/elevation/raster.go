// Package elevation reads and prepares the LiDAR elevation raster: slope
// and aspect, masking to buildings and conversion to per-building points.
package elevation

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
)

// DefaultNoData is written for missing cells when a raster has no value of
// its own.
const DefaultNoData = -9999.0

// ErrOutOfBounds is returned for cell lookups outside the raster.
var ErrOutOfBounds = errors.New("elevation: cell out of bounds")

// Raster is a north-up grid of square cells. Row 0 is the northern edge;
// (XLL, YLL) is the lower left corner of the lower left cell.
type Raster struct {
	Cols, Rows int
	XLL, YLL   float64
	Res        float64
	NoData     float64
	Data       []float64
}

// NewRaster returns a raster of the given shape filled with nodata.
func NewRaster(cols, rows int, xll, yll, res float64) *Raster {
	r := &Raster{Cols: cols, Rows: rows, XLL: xll, YLL: yll, Res: res, NoData: DefaultNoData}
	r.Data = make([]float64, cols*rows)
	for i := range r.Data {
		r.Data[i] = r.NoData
	}
	return r
}

// Like returns an empty raster with the same shape and nodata value.
func (r *Raster) Like() *Raster {
	out := NewRaster(r.Cols, r.Rows, r.XLL, r.YLL, r.Res)
	out.NoData = r.NoData
	for i := range out.Data {
		out.Data[i] = r.NoData
	}
	return out
}

// At returns the value at (col, row).
func (r *Raster) At(col, row int) float64 {
	return r.Data[row*r.Cols+col]
}

// Set stores v at (col, row).
func (r *Raster) Set(col, row int, v float64) {
	r.Data[row*r.Cols+col] = v
}

// IsNoData reports whether v is the nodata value or NaN.
func (r *Raster) IsNoData(v float64) bool {
	return math.IsNaN(v) || v == r.NoData
}

// Centre returns the map coordinates of the centre of cell (col, row).
func (r *Raster) Centre(col, row int) orb.Point {
	return orb.Point{
		r.XLL + (float64(col)+0.5)*r.Res,
		r.YLL + (float64(r.Rows-row)-0.5)*r.Res,
	}
}

// Cell returns the cell containing the map point p.
func (r *Raster) Cell(p orb.Point) (col, row int, err error) {
	col = int(math.Floor((p[0] - r.XLL) / r.Res))
	row = r.Rows - 1 - int(math.Floor((p[1]-r.YLL)/r.Res))
	if col < 0 || col >= r.Cols || row < 0 || row >= r.Rows {
		return 0, 0, ErrOutOfBounds
	}
	return col, row, nil
}

// Bound returns the extent of the raster.
func (r *Raster) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.XLL, r.YLL},
		Max: orb.Point{r.XLL + float64(r.Cols)*r.Res, r.YLL + float64(r.Rows)*r.Res},
	}
}

// window returns the cell range that overlaps b, clamped to the raster.
func (r *Raster) window(b orb.Bound) (c0, r0, c1, r1 int) {
	c0 = int(math.Floor((b.Min[0] - r.XLL) / r.Res))
	c1 = int(math.Ceil((b.Max[0] - r.XLL) / r.Res))
	r0 = r.Rows - int(math.Ceil((b.Max[1]-r.YLL)/r.Res))
	r1 = r.Rows - int(math.Floor((b.Min[1]-r.YLL)/r.Res))
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	return clamp(c0, r.Cols), clamp(r0, r.Rows), clamp(c1, r.Cols), clamp(r1, r.Rows)
}

// Crop returns the cells of r overlapping b as a new raster. It returns
// nil when b misses r entirely.
func (r *Raster) Crop(b orb.Bound) *Raster {
	c0, r0, c1, r1 := r.window(b)
	if c1 <= c0 || r1 <= r0 {
		return nil
	}
	out := &Raster{
		Cols:   c1 - c0,
		Rows:   r1 - r0,
		XLL:    r.XLL + float64(c0)*r.Res,
		YLL:    r.YLL + float64(r.Rows-r1)*r.Res,
		Res:    r.Res,
		NoData: r.NoData,
		Data:   make([]float64, (c1-c0)*(r1-r0)),
	}
	for row := r0; row < r1; row++ {
		copy(out.Data[(row-r0)*out.Cols:(row-r0+1)*out.Cols], r.Data[row*r.Cols+c0:row*r.Cols+c1])
	}
	return out
}
