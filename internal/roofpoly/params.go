// Package roofpoly turns fitted roof planes into roof polygons: one
// edge-aligned, non-overlapping polygon per plane, clipped to the building
// footprint and marked usable or not for PV.
package roofpoly

import "github.com/banshee-data/solar.report/internal/solar"

// Default tuning values.
const (
	DefaultAlignmentThreshold     = 15.0
	DefaultFlatAlignmentThreshold = 46.0
	DefaultFlatRoofAspect         = 180.0

	DefaultArchetypeUncoveredWeight = 0.75
	DefaultArchetypeOverhangWeight  = 1.8
	DefaultArchetypeMaxScore        = 0.68
	DefaultArchetypeAreaSlack       = 1.0
)

// ArchetypeParams tunes the substitution of roof polygons by canonical
// panel layouts.
type ArchetypeParams struct {
	Enabled bool
	// UncoveredWeight scales roof area the archetype misses.
	UncoveredWeight float64
	// OverhangWeight scales archetype area outside the roof.
	OverhangWeight float64
	// MaxScore is the score an archetype must beat to be used.
	MaxScore float64
	// AreaSlack is how far (m²) an archetype may exceed the roof area.
	AreaSlack float64
}

// Params tunes polygon reconstruction for a job.
type Params struct {
	ResolutionMetres float64

	MaxRoofSlopeDegrees     float64
	MinRoofAreaM            float64
	MinRoofDegreesFromNorth float64
	FlatRoofDegrees         float64
	FlatRoofAspect          float64
	// FlatThresholdDegrees is the fitted slope at or below which a plane
	// is flat.
	FlatThresholdDegrees float64

	LargeBuildingThreshold float64
	MinDistToEdgeM         float64
	MinDistToEdgeLargeM    float64

	AlignmentThreshold     float64
	FlatAlignmentThreshold float64

	PanelWidthM  float64
	PanelHeightM float64

	Archetypes ArchetypeParams
}

// DefaultParams returns the defaults used when a job does not override them.
func DefaultParams(resolution float64) Params {
	return Params{
		ResolutionMetres:        resolution,
		MaxRoofSlopeDegrees:     80,
		MinRoofAreaM:            8,
		MinRoofDegreesFromNorth: 45,
		FlatRoofDegrees:         10,
		FlatRoofAspect:          DefaultFlatRoofAspect,
		FlatThresholdDegrees:    solar.FlatRoofDegreesThreshold,
		LargeBuildingThreshold:  200,
		MinDistToEdgeM:          0.3,
		MinDistToEdgeLargeM:     1,
		AlignmentThreshold:      DefaultAlignmentThreshold,
		FlatAlignmentThreshold:  DefaultFlatAlignmentThreshold,
		PanelWidthM:             0.99,
		PanelHeightM:            1.64,
		Archetypes: ArchetypeParams{
			Enabled:         true,
			UncoveredWeight: DefaultArchetypeUncoveredWeight,
			OverhangWeight:  DefaultArchetypeOverhangWeight,
			MaxScore:        DefaultArchetypeMaxScore,
			AreaSlack:       DefaultArchetypeAreaSlack,
		},
	}
}

func (p Params) edgeDistance(buildingArea float64) float64 {
	if buildingArea < p.LargeBuildingThreshold {
		return p.MinDistToEdgeM
	}
	return p.MinDistToEdgeLargeM
}
