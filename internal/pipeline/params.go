package pipeline

import (
	"time"

	"github.com/banshee-data/solar.report/internal/config"
	"github.com/banshee-data/solar.report/internal/irradiation"
	"github.com/banshee-data/solar.report/internal/lidarcheck"
	"github.com/banshee-data/solar.report/internal/panels"
	"github.com/banshee-data/solar.report/internal/roofdet"
	"github.com/banshee-data/solar.report/internal/roofpoly"
)

// Params is the per-stage tuning derived from a job's configuration.
type Params struct {
	// BufferM grows footprints for the outdated LiDAR moat.
	BufferM float64

	RoofDet     roofdet.Params
	RoofPoly    roofpoly.Params
	LidarCheck  lidarcheck.Params
	Panels      panels.Params
	Irradiation irradiation.Params

	HorizonRadius int
	HorizonSlices int
	TileSizeM     float64
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// ParamsFromConfig maps cfg onto the stage parameters for a raster of the
// given resolution. Anything cfg leaves unset keeps the stage default.
func ParamsFromConfig(cfg *config.JobConfig, resolution float64) Params {
	p := Params{
		BufferM:       cfg.GetLidarBufferM(),
		RoofDet:       roofdet.DefaultParams(resolution),
		RoofPoly:      roofpoly.DefaultParams(resolution),
		LidarCheck:    lidarcheck.DefaultParams(resolution),
		Panels:        panels.DefaultParams(),
		HorizonRadius: cfg.GetHorizonSearchRadius(),
		HorizonSlices: cfg.GetHorizonSlices(),
		TileSizeM:     cfg.GetTileSizeM(),
		Irradiation: irradiation.Params{
			PeakPowerPerM2: cfg.GetPeakPowerPerM2(),
			SystemLoss:     cfg.GetSystemLoss(),
		},
	}

	rd, rc := &p.RoofDet, cfg.RANSAC
	setFloat(&rd.ResidualThreshold, rc.ResidualThreshold)
	setInt(&rd.MaxTrials, rc.MaxTrials)
	setFloat(&rd.MaxSlope, rc.MaxSlope)
	setInt(&rd.MinPointsPerPlane, rc.MinPointsPerPlane)
	setFloat(&rd.MinPointsPerPlanePerc, rc.MinPointsPerPlanePerc)
	setFloat(&rd.MinConvexHullRatio, rc.MinConvexHullRatio)
	setFloat(&rd.MinThinnessRatio, rc.MinThinnessRatio)
	setInt(&rd.MaxAreaForThinnessTest, rc.MaxAreaForThinnessTest)
	setInt(&rd.MaxNumGroups, rc.MaxNumGroups)
	setFloat(&rd.MaxGroupAreaRatioToLargest, rc.MaxGroupAreaRatioToLargest)
	setFloat(&rd.FlatRoofThresholdDegrees, rc.FlatRoofThresholdDegrees)
	setFloat(&rd.MaxAspectCircularMeanDegrees, rc.MaxAspectCircularMeanDegrees)
	setFloat(&rd.MaxAspectCircularSD, rc.MaxAspectCircularSD)
	setFloat(&rd.LargeBuildingArea, rc.LargeBuildingArea)
	setFloat(&rd.SmallBuildingArea, rc.SmallBuildingArea)

	rp, pc := &p.RoofPoly, cfg.RoofPolygon
	rp.MaxRoofSlopeDegrees = cfg.GetMaxRoofSlopeDegrees()
	rp.MinRoofAreaM = cfg.GetMinRoofAreaM()
	rp.MinRoofDegreesFromNorth = cfg.GetMinRoofDegreesFromNorth()
	rp.FlatRoofDegrees = cfg.GetFlatRoofDegrees()
	rp.FlatThresholdDegrees = rd.FlatRoofThresholdDegrees
	rp.LargeBuildingThreshold = cfg.GetLargeBuildingThreshold()
	rp.MinDistToEdgeM = cfg.GetMinDistToEdgeM()
	rp.MinDistToEdgeLargeM = cfg.GetMinDistToEdgeLargeM()
	rp.PanelWidthM = cfg.GetPanelWidthM()
	rp.PanelHeightM = cfg.GetPanelHeightM()
	setFloat(&rp.AlignmentThreshold, pc.AlignmentThreshold)
	setFloat(&rp.FlatAlignmentThreshold, pc.FlatAlignmentThreshold)
	setFloat(&rp.FlatRoofAspect, pc.FlatRoofAspect)
	if pc.ArchetypesEnabled != nil {
		rp.Archetypes.Enabled = *pc.ArchetypesEnabled
	}
	setFloat(&rp.Archetypes.UncoveredWeight, pc.ArchetypeUncoveredWeight)
	setFloat(&rp.Archetypes.OverhangWeight, pc.ArchetypeOverhangWeight)
	setFloat(&rp.Archetypes.MaxScore, pc.ArchetypeMaxScore)
	setFloat(&rp.Archetypes.AreaSlack, pc.ArchetypeAreaSlackM2)

	lc, lcc := &p.LidarCheck, cfg.LidarCheck
	setFloat(&lc.SegmentLength, lcc.SegmentLengthM)
	setFloat(&lc.BisectorLength, lcc.BisectorLengthM)
	setFloat(&lc.GradientThreshold, lcc.GradientThreshold)
	setFloat(&lc.BadBisectorRatio, lcc.BadBisectorRatio)

	pp := &p.Panels
	pp.Dims.WidthM = cfg.GetPanelWidthM()
	pp.Dims.HeightM = cfg.GetPanelHeightM()
	pp.Dims.SpacingM = cfg.GetPanelSpacingM()
	pp.MinRoofAreaM = cfg.GetMinRoofAreaM()
	setInt(&pp.MinArchetypePanels, cfg.Panels.MinArchetypePanels)
	switch lat, lon, ok := cfg.GetSite(); {
	case cfg.Panels.SunAngleDegrees != nil:
		pp.Dims.SunAngleDegrees = *cfg.Panels.SunAngleDegrees
	case ok:
		pp.Dims.SunAngleDegrees = panels.SunAngle(lat, lon, time.Now().Year())
	}
	return p
}
