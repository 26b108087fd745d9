package pipeline

import (
	"math/rand"
	"time"

	"github.com/banshee-data/solar.report/internal/elevation"
	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/lidarcheck"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/panels"
	"github.com/banshee-data/solar.report/internal/roofdet"
	"github.com/banshee-data/solar.report/internal/roofpoly"
	"github.com/banshee-data/solar.report/internal/solar"
)

// outcomeModelled labels buildings that were not excluded.
const outcomeModelled = "modelled"

// surfaces are the rasters shared by every building of a job.
type surfaces struct {
	dem    *elevation.Raster
	slope  *elevation.Raster
	aspect *elevation.Raster
}

// buildingResult is everything modelled for one building.
type buildingResult struct {
	done       bool
	building   solar.Building
	planes     []solar.RoofPlane
	panels     []solar.Panel
	rejections roofdet.Rejections
	elapsed    time.Duration
}

func (r buildingResult) outcome() string {
	if r.building.Exclusion.Excluded() {
		return r.building.Exclusion.String()
	}
	return outcomeModelled
}

// buildingSeed derives a building's random stream from the job seed so
// results do not depend on scheduling order.
func buildingSeed(seed int64, seeded bool, index int) int64 {
	if !seeded {
		return rand.Int63()
	}
	return seed + int64(index)
}

// aboveGround drops points at or below the building's ground level, where
// the footprint overhangs open ground.
func aboveGround(pts []solar.LidarPoint, maxGround *float64) []solar.LidarPoint {
	if maxGround == nil {
		return pts
	}
	out := pts[:0:0]
	for _, pt := range pts {
		if pt.Z > *maxGround {
			out = append(out, pt)
		}
	}
	return out
}

// modelBuilding runs every per-building stage. Geometry faults are logged
// and leave the building's planes unusable; they never fail the job.
func modelBuilding(b solar.Building, s surfaces, p Params, recon *roofpoly.Reconstructor, rng *rand.Rand) buildingResult {
	res := buildingResult{done: true, building: b}
	bd := &res.building

	if buf, err := geom.Buffer(bd.Footprint, p.BufferM, geom.MitreSquare); err != nil {
		monitoring.Logf("pipeline: building %s: buffer footprint: %v", bd.ID, err)
	} else if poly, err := geom.Largest(buf); err == nil {
		bd.Buffered = poly
	}

	lidarcheck.Check(bd.Footprint, lidarcheck.PixelsFor(s.dem, *bd), p.LidarCheck).Apply(bd)
	if bd.Exclusion.Excluded() {
		return res
	}

	pts := aboveGround(elevation.Points(s.dem, s.aspect, bd.Footprint, bd.ID), bd.MaxGroundHeight)
	det := roofdet.Detect(pts, bd.Area(), p.RoofDet, rng)
	res.rejections = det.Rejections
	if len(det.Planes) == 0 {
		bd.Exclusion = solar.NoRoofPlanesDetected
		return res
	}

	planes, err := recon.Reconstruct(*bd, det.Planes, pts)
	if err != nil {
		monitoring.Logf("pipeline: building %s: roof polygons: %v", bd.ID, err)
		planes = det.Planes
		for i := range planes {
			planes[i].Geom = nil
			planes[i].MarkUnusable(solar.NotUsableEmptyGeometry)
		}
	}

	placed, err := panels.PlaceBuilding(bd, planes, p.Panels)
	if err != nil {
		monitoring.Logf("pipeline: building %s: panels: %v", bd.ID, err)
		for i := range planes {
			planes[i].MarkUnusable(solar.NotUsableNoPanels)
		}
		bd.Exclusion = solar.AllRoofPlanesUnusable
		placed = nil
	}
	res.planes, res.panels = planes, placed
	return res
}
