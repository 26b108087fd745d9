package roofdet

import (
	"errors"
	"math/rand"

	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
)

// Result is the outcome of plane detection for one building.
type Result struct {
	Planes []solar.RoofPlane
	// PoolSizes holds the candidate pool size before each round, plus the
	// final size after the last round.
	PoolSizes  []int
	Rejections Rejections
}

// Detect extracts roof planes from a building's points until the pool is
// smaller than the minimum plane size or a round finds nothing. Planes are
// numbered from 1 in fitting order and their Inliers index into points.
func Detect(points []solar.LidarPoint, buildingArea float64, p Params, rng *rand.Rand) Result {
	res := Result{Rejections: Rejections{}}
	if len(points) == 0 {
		return res
	}
	buildingID := points[0].BuildingID

	pool := make([]int, len(points))
	for i := range pool {
		pool[i] = i
	}
	sub := make([]solar.LidarPoint, 0, len(points))

	for len(pool) >= p.MinPointsPerPlane {
		res.PoolSizes = append(res.PoolSizes, len(pool))

		sub = sub[:0]
		for _, i := range pool {
			sub = append(sub, points[i])
		}
		fit, err := FitPlane(sub, len(points), buildingArea, p, rng, res.Rejections)
		if errors.Is(err, ErrNoPlane) {
			break
		}

		taken := make(map[int]struct{}, len(fit.Inliers))
		inliers := make([]int, len(fit.Inliers))
		for k, i := range fit.Inliers {
			inliers[k] = pool[i]
			taken[i] = struct{}{}
		}
		remaining := pool[:0:0]
		for k, i := range pool {
			if _, ok := taken[k]; !ok {
				remaining = append(remaining, i)
			}
		}
		pool = remaining

		slope := Slope(fit.XCoef, fit.YCoef)
		aspect := Aspect(fit.XCoef, fit.YCoef)
		res.Planes = append(res.Planes, solar.RoofPlane{
			ID:             len(res.Planes) + 1,
			BuildingID:     buildingID,
			XCoef:          fit.XCoef,
			YCoef:          fit.YCoef,
			Intercept:      fit.Intercept,
			FittedSlope:    slope,
			Slope:          slope,
			Aspect:         aspect,
			LayoutAspect:   aspect,
			IsFlat:         slope <= p.FlatRoofThresholdDegrees,
			SD:             fit.SD,
			AspectCircMean: fit.AspectCircMean,
			AspectCircSD:   fit.AspectCircSD,
			Inliers:        inliers,
			Usable:         true,
		})
	}
	res.PoolSizes = append(res.PoolSizes, len(pool))

	monitoring.Logf("roofdet: building %s: %d planes from %d points, %d left",
		buildingID, len(res.Planes), len(points), len(pool))
	return res
}
