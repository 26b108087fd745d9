// Package roofdet detects roof planes in a building's LiDAR point cloud
// using a modified RANSAC.
//
// Differences from textbook RANSAC:
//   - samples are biased toward points with similar per-pixel aspect;
//   - candidate planes are scored by the spread of their inlier residuals,
//     not by inlier count, so tight individual facets beat a single plane
//     averaged across two facets;
//   - a candidate must pass slope, aspect-coherence and morphology tests
//     (contiguity, convex-hull ratio, thinness) before it can be kept.
//
// Planes are extracted one at a time; each accepted plane's inliers leave
// the pool before the next round.
package roofdet

// Default tuning values.
const (
	DefaultResidualThreshold           = 0.25
	DefaultMaxSlope                    = 75.0
	DefaultMinPointsPerPlane           = 8
	DefaultMinPointsPerPlanePerc       = 0.008
	DefaultMinConvexHullRatio          = 0.65
	DefaultMinThinnessRatio            = 0.55
	DefaultMaxAreaForThinnessTest      = 25
	DefaultMaxNumGroups                = 20
	DefaultMaxGroupAreaRatioToLargest  = 0.02
	DefaultFlatRoofThresholdDegrees    = 5.0
	DefaultMaxAspectCircularMeanDegree = 90.0
	DefaultMaxAspectCircularSD         = 1.5

	// LargeBuildingArea (m²) switches off the minor-group rejection: large
	// roofs often hold several separate sections on one plane.
	LargeBuildingArea = 1000.0
	// SmallBuildingArea (m²) below which more trials are run.
	SmallBuildingArea = 100.0

	LargeMaxTrials  = 2000
	MediumMaxTrials = 2000
	SmallMaxTrials  = 3000
)

// Params tunes plane detection for one building.
type Params struct {
	ResolutionMetres  float64
	ResidualThreshold float64
	// MaxTrials overrides the size-based trial count when positive.
	MaxTrials int
	MaxSlope  float64

	MinPointsPerPlane          int
	MinPointsPerPlanePerc      float64
	MinConvexHullRatio         float64
	MinThinnessRatio           float64
	MaxAreaForThinnessTest     int
	MaxNumGroups               int
	MaxGroupAreaRatioToLargest float64

	FlatRoofThresholdDegrees     float64
	MaxAspectCircularMeanDegrees float64
	MaxAspectCircularSD          float64

	LargeBuildingArea float64
	SmallBuildingArea float64
}

// DefaultParams returns the tuned defaults for the given LiDAR resolution.
func DefaultParams(resolution float64) Params {
	return Params{
		ResolutionMetres:             resolution,
		ResidualThreshold:            DefaultResidualThreshold,
		MaxSlope:                     DefaultMaxSlope,
		MinPointsPerPlane:            DefaultMinPointsPerPlane,
		MinPointsPerPlanePerc:        DefaultMinPointsPerPlanePerc,
		MinConvexHullRatio:           DefaultMinConvexHullRatio,
		MinThinnessRatio:             DefaultMinThinnessRatio,
		MaxAreaForThinnessTest:       DefaultMaxAreaForThinnessTest,
		MaxNumGroups:                 DefaultMaxNumGroups,
		MaxGroupAreaRatioToLargest:   DefaultMaxGroupAreaRatioToLargest,
		FlatRoofThresholdDegrees:     DefaultFlatRoofThresholdDegrees,
		MaxAspectCircularMeanDegrees: DefaultMaxAspectCircularMeanDegree,
		MaxAspectCircularSD:          DefaultMaxAspectCircularSD,
		LargeBuildingArea:            LargeBuildingArea,
		SmallBuildingArea:            SmallBuildingArea,
	}
}

// trialsFor picks the trial budget for a building of the given area.
func (p Params) trialsFor(buildingArea float64) int {
	if p.MaxTrials > 0 {
		return p.MaxTrials
	}
	switch {
	case buildingArea >= p.LargeBuildingArea:
		return LargeMaxTrials
	case buildingArea < p.SmallBuildingArea:
		return SmallMaxTrials
	default:
		return MediumMaxTrials
	}
}

// groupChecks reports whether minor connected groups cause rejection.
func (p Params) groupChecks(buildingArea float64) bool {
	return buildingArea < p.LargeBuildingArea
}
