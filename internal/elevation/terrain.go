package elevation

import "math"

// SlopeAspect derives slope (degrees from horizontal) and aspect (compass
// degrees clockwise from north, the direction the surface faces) with
// Horn's 3x3 method. Edge cells, cells next to nodata and flat cells have
// no aspect.
func SlopeAspect(dem *Raster) (slope, aspect *Raster) {
	slope = dem.Like()
	aspect = dem.Like()

	var win [9]float64
	for row := 1; row < dem.Rows-1; row++ {
	cells:
		for col := 1; col < dem.Cols-1; col++ {
			for i := 0; i < 9; i++ {
				v := dem.At(col+i%3-1, row+i/3-1)
				if dem.IsNoData(v) {
					continue cells
				}
				win[i] = v
			}
			// Rows run north to south, so dy is positive when the
			// ground rises southwards.
			dx := (win[2] + 2*win[5] + win[8]) - (win[0] + 2*win[3] + win[6])
			dy := (win[6] + 2*win[7] + win[8]) - (win[0] + 2*win[1] + win[2])

			gx := dx / (8 * dem.Res)
			gy := dy / (8 * dem.Res)
			slope.Set(col, row, math.Atan(math.Hypot(gx, gy))*180/math.Pi)

			if dx == 0 && dy == 0 {
				continue
			}
			a := math.Atan2(dy, -dx) * 180 / math.Pi
			if a > 90 {
				a = 450 - a
			} else {
				a = 90 - a
			}
			if a == 360 {
				a = 0
			}
			aspect.Set(col, row, a)
		}
	}
	return slope, aspect
}
