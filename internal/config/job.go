// Package config holds the job configuration: every tunable the pipeline
// reads, with defaults for anything a job file leaves out.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/banshee-data/solar.report/internal/solar"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Engine names accepted in irradiation.engine.
const (
	EngineNone  = "none"
	EngineExec  = "exec"
	EnginePVGIS = "pvgis"
)

// JobConfig is the root configuration for one modelling job. Nil fields
// fall back to the defaults returned by the Get* methods, so partial files
// are safe.
type JobConfig struct {
	HorizonSearchRadius     *int     `json:"horizon_search_radius,omitempty" mapstructure:"horizon_search_radius"`
	HorizonSlices           *int     `json:"horizon_slices,omitempty" mapstructure:"horizon_slices"`
	MaxRoofSlopeDegrees     *float64 `json:"max_roof_slope_degrees,omitempty" mapstructure:"max_roof_slope_degrees"`
	MinRoofAreaM            *float64 `json:"min_roof_area_m,omitempty" mapstructure:"min_roof_area_m"`
	MinRoofDegreesFromNorth *float64 `json:"min_roof_degrees_from_north,omitempty" mapstructure:"min_roof_degrees_from_north"`
	FlatRoofDegrees         *float64 `json:"flat_roof_degrees,omitempty" mapstructure:"flat_roof_degrees"`
	PeakPowerPerM2          *float64 `json:"peak_power_per_m2,omitempty" mapstructure:"peak_power_per_m2"`
	PVTech                  *string  `json:"pv_tech,omitempty" mapstructure:"pv_tech"`
	PanelWidthM             *float64 `json:"panel_width_m,omitempty" mapstructure:"panel_width_m"`
	PanelHeightM            *float64 `json:"panel_height_m,omitempty" mapstructure:"panel_height_m"`
	PanelSpacingM           *float64 `json:"panel_spacing_m,omitempty" mapstructure:"panel_spacing_m"`
	LargeBuildingThreshold  *float64 `json:"large_building_threshold,omitempty" mapstructure:"large_building_threshold"`
	MinDistToEdgeM          *float64 `json:"min_dist_to_edge_m,omitempty" mapstructure:"min_dist_to_edge_m"`
	MinDistToEdgeLargeM     *float64 `json:"min_dist_to_edge_large_m,omitempty" mapstructure:"min_dist_to_edge_large_m"`
	DebugMode               *bool    `json:"debug_mode,omitempty" mapstructure:"debug_mode"`
	Workers                 *int     `json:"workers,omitempty" mapstructure:"workers"`

	RANSAC      RANSACConfig      `json:"ransac" mapstructure:"ransac"`
	RoofPolygon RoofPolygonConfig `json:"roof_polygons" mapstructure:"roof_polygons"`
	LidarCheck  LidarCheckConfig  `json:"lidar_check" mapstructure:"lidar_check"`
	Panels      PanelsConfig      `json:"panels" mapstructure:"panels"`
	Irradiation IrradiationConfig `json:"irradiation" mapstructure:"irradiation"`
	Site        SiteConfig        `json:"site" mapstructure:"site"`
}

// RANSACConfig tunes roof plane detection.
type RANSACConfig struct {
	ResidualThreshold            *float64 `json:"residual_threshold,omitempty" mapstructure:"residual_threshold"`
	MaxTrials                    *int     `json:"max_trials,omitempty" mapstructure:"max_trials"`
	MaxSlope                     *float64 `json:"max_slope,omitempty" mapstructure:"max_slope"`
	MinPointsPerPlane            *int     `json:"min_points_per_plane,omitempty" mapstructure:"min_points_per_plane"`
	MinPointsPerPlanePerc        *float64 `json:"min_points_per_plane_perc,omitempty" mapstructure:"min_points_per_plane_perc"`
	MinConvexHullRatio           *float64 `json:"min_convex_hull_ratio,omitempty" mapstructure:"min_convex_hull_ratio"`
	MinThinnessRatio             *float64 `json:"min_thinness_ratio,omitempty" mapstructure:"min_thinness_ratio"`
	MaxAreaForThinnessTest       *int     `json:"max_area_for_thinness_test,omitempty" mapstructure:"max_area_for_thinness_test"`
	MaxNumGroups                 *int     `json:"max_num_groups,omitempty" mapstructure:"max_num_groups"`
	MaxGroupAreaRatioToLargest   *float64 `json:"max_group_area_ratio_to_largest,omitempty" mapstructure:"max_group_area_ratio_to_largest"`
	FlatRoofThresholdDegrees     *float64 `json:"flat_roof_threshold_degrees,omitempty" mapstructure:"flat_roof_threshold_degrees"`
	MaxAspectCircularMeanDegrees *float64 `json:"max_aspect_circular_mean_degrees,omitempty" mapstructure:"max_aspect_circular_mean_degrees"`
	MaxAspectCircularSD          *float64 `json:"max_aspect_circular_sd,omitempty" mapstructure:"max_aspect_circular_sd"`
	LargeBuildingArea            *float64 `json:"large_building_area,omitempty" mapstructure:"large_building_area"`
	SmallBuildingArea            *float64 `json:"small_building_area,omitempty" mapstructure:"small_building_area"`
	// Seed fixes the random source; each building derives its own stream
	// from it.
	Seed *int64 `json:"seed,omitempty" mapstructure:"seed"`
}

// RoofPolygonConfig tunes roof polygon reconstruction.
type RoofPolygonConfig struct {
	AlignmentThreshold       *float64 `json:"alignment_threshold,omitempty" mapstructure:"alignment_threshold"`
	FlatAlignmentThreshold   *float64 `json:"flat_alignment_threshold,omitempty" mapstructure:"flat_alignment_threshold"`
	FlatRoofAspect           *float64 `json:"flat_roof_aspect,omitempty" mapstructure:"flat_roof_aspect"`
	ArchetypesEnabled        *bool    `json:"archetypes_enabled,omitempty" mapstructure:"archetypes_enabled"`
	ArchetypeUncoveredWeight *float64 `json:"archetype_uncovered_weight,omitempty" mapstructure:"archetype_uncovered_weight"`
	ArchetypeOverhangWeight  *float64 `json:"archetype_overhang_weight,omitempty" mapstructure:"archetype_overhang_weight"`
	ArchetypeMaxScore        *float64 `json:"archetype_max_score,omitempty" mapstructure:"archetype_max_score"`
	ArchetypeAreaSlackM2     *float64 `json:"archetype_area_slack_m2,omitempty" mapstructure:"archetype_area_slack_m2"`
}

// LidarCheckConfig tunes the outdated LiDAR check.
type LidarCheckConfig struct {
	BufferM           *float64 `json:"buffer_m,omitempty" mapstructure:"buffer_m"`
	SegmentLengthM    *float64 `json:"segment_length_m,omitempty" mapstructure:"segment_length_m"`
	BisectorLengthM   *float64 `json:"bisector_length_m,omitempty" mapstructure:"bisector_length_m"`
	GradientThreshold *float64 `json:"gradient_threshold,omitempty" mapstructure:"gradient_threshold"`
	BadBisectorRatio  *float64 `json:"bad_bisector_ratio,omitempty" mapstructure:"bad_bisector_ratio"`
}

// PanelsConfig tunes panel placement.
type PanelsConfig struct {
	MinArchetypePanels *int `json:"min_archetype_panels,omitempty" mapstructure:"min_archetype_panels"`
	// SunAngleDegrees fixes the flat roof row spacing angle. When unset it
	// is derived from the site, or the package default without one.
	SunAngleDegrees *float64 `json:"sun_angle_degrees,omitempty" mapstructure:"sun_angle_degrees"`
}

// IrradiationConfig selects and tunes the irradiation engine.
type IrradiationConfig struct {
	Engine     *string  `json:"engine,omitempty" mapstructure:"engine"`
	Command    *string  `json:"command,omitempty" mapstructure:"command"`
	Args       []string `json:"args,omitempty" mapstructure:"args"`
	Timeout    *string  `json:"timeout,omitempty" mapstructure:"timeout"` // duration string like "30m"
	TileSizeM  *float64 `json:"tile_size_m,omitempty" mapstructure:"tile_size_m"`
	SystemLoss *float64 `json:"system_loss,omitempty" mapstructure:"system_loss"`
	PVGISURL   *string  `json:"pvgis_url,omitempty" mapstructure:"pvgis_url"`
	PVGISRate  *int     `json:"pvgis_rate,omitempty" mapstructure:"pvgis_rate"`
	WorkDir    *string  `json:"work_dir,omitempty" mapstructure:"work_dir"`
}

// SiteConfig locates the job for sun position and PV-GIS requests.
type SiteConfig struct {
	Latitude  *float64 `json:"latitude,omitempty" mapstructure:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" mapstructure:"longitude"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyJobConfig returns a config with every field unset.
func EmptyJobConfig() *JobConfig {
	return &JobConfig{}
}

// Validate checks every set field. Errors wrap ErrInvalid.
func (c *JobConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
	}
	if v := c.HorizonSearchRadius; v != nil && (*v < 0 || *v > 10000) {
		return invalid("horizon_search_radius must be between 0 and 10000, was %d", *v)
	}
	if v := c.HorizonSlices; v != nil && (*v < 8 || *v > 64) {
		return invalid("horizon_slices must be between 8 and 64, was %d", *v)
	}
	if v := c.MaxRoofSlopeDegrees; v != nil && (*v < 0 || *v > 90) {
		return invalid("max_roof_slope_degrees must be between 0 and 90, was %g", *v)
	}
	if v := c.MinRoofAreaM; v != nil && *v < 0 {
		return invalid("min_roof_area_m must be greater than or equal to 0, was %g", *v)
	}
	if v := c.MinRoofDegreesFromNorth; v != nil && (*v < 0 || *v > 180) {
		return invalid("min_roof_degrees_from_north must be between 0 and 180, was %g", *v)
	}
	if v := c.FlatRoofDegrees; v != nil && (*v < 0 || *v > 90) {
		return invalid("flat_roof_degrees must be between 0 and 90, was %g", *v)
	}
	if v := c.PeakPowerPerM2; v != nil && *v < 0 {
		return invalid("peak_power_per_m2 must be greater than or equal to 0, was %g", *v)
	}
	if c.PVTech != nil {
		if _, err := solar.ParsePVTech(*c.PVTech); err != nil {
			return invalid("%v", err)
		}
	}
	if v := c.PanelWidthM; v != nil && *v <= 0 {
		return invalid("panel_width_m must be greater than 0, was %g", *v)
	}
	if v := c.PanelHeightM; v != nil && *v <= 0 {
		return invalid("panel_height_m must be greater than 0, was %g", *v)
	}
	if v := c.PanelSpacingM; v != nil && *v < 0 {
		return invalid("panel_spacing_m must be non-negative, was %g", *v)
	}
	if v := c.MinDistToEdgeM; v != nil && *v < 0 {
		return invalid("min_dist_to_edge_m must be non-negative, was %g", *v)
	}
	if v := c.MinDistToEdgeLargeM; v != nil && *v < 0 {
		return invalid("min_dist_to_edge_large_m must be non-negative, was %g", *v)
	}
	if v := c.Workers; v != nil && *v < 1 {
		return invalid("workers must be at least 1, was %d", *v)
	}

	r := c.RANSAC
	if v := r.ResidualThreshold; v != nil && *v <= 0 {
		return invalid("ransac.residual_threshold must be positive, was %g", *v)
	}
	if v := r.MaxTrials; v != nil && *v < 0 {
		return invalid("ransac.max_trials must be non-negative, was %d", *v)
	}
	if v := r.MaxSlope; v != nil && (*v <= 0 || *v > 90) {
		return invalid("ransac.max_slope must be in (0, 90], was %g", *v)
	}
	if v := r.MinPointsPerPlane; v != nil && *v < 3 {
		return invalid("ransac.min_points_per_plane must be at least 3, was %d", *v)
	}
	for name, v := range map[string]*float64{
		"ransac.min_points_per_plane_perc":       r.MinPointsPerPlanePerc,
		"ransac.min_convex_hull_ratio":           r.MinConvexHullRatio,
		"ransac.min_thinness_ratio":              r.MinThinnessRatio,
		"ransac.max_group_area_ratio_to_largest": r.MaxGroupAreaRatioToLargest,
		"lidar_check.bad_bisector_ratio":         c.LidarCheck.BadBisectorRatio,
		"irradiation.system_loss":                c.Irradiation.SystemLoss,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return invalid("%s must be between 0 and 1, was %g", name, *v)
		}
	}

	p := c.RoofPolygon
	if v := p.FlatRoofAspect; v != nil && (*v < 0 || *v >= 360) {
		return invalid("roof_polygons.flat_roof_aspect must be in [0, 360), was %g", *v)
	}
	if v := p.ArchetypeMaxScore; v != nil && *v <= 0 {
		return invalid("roof_polygons.archetype_max_score must be positive, was %g", *v)
	}

	l := c.LidarCheck
	for name, v := range map[string]*float64{
		"lidar_check.buffer_m":          l.BufferM,
		"lidar_check.segment_length_m":  l.SegmentLengthM,
		"lidar_check.bisector_length_m": l.BisectorLengthM,
	} {
		if v != nil && *v <= 0 {
			return invalid("%s must be positive, was %g", name, *v)
		}
	}

	if v := c.Panels.SunAngleDegrees; v != nil && (*v <= 0 || *v >= 90) {
		return invalid("panels.sun_angle_degrees must be in (0, 90), was %g", *v)
	}

	ir := c.Irradiation
	switch e := c.GetEngine(); e {
	case EngineNone, EnginePVGIS:
	case EngineExec:
		if ir.Command == nil || *ir.Command == "" {
			return invalid("irradiation.command is required for the exec engine")
		}
	default:
		return invalid("irradiation.engine must be none, exec or pvgis, was %q", e)
	}
	if ir.Timeout != nil && *ir.Timeout != "" {
		if d, err := time.ParseDuration(*ir.Timeout); err != nil || d <= 0 {
			return invalid("irradiation.timeout %q is not a positive duration", *ir.Timeout)
		}
	}
	if v := ir.TileSizeM; v != nil && *v <= 0 {
		return invalid("irradiation.tile_size_m must be positive, was %g", *v)
	}
	if v := ir.PVGISRate; v != nil && *v <= 0 {
		return invalid("irradiation.pvgis_rate must be positive, was %d", *v)
	}

	s := c.Site
	if (s.Latitude == nil) != (s.Longitude == nil) {
		return invalid("site.latitude and site.longitude must be set together")
	}
	if v := s.Latitude; v != nil && (*v < -90 || *v > 90) {
		return invalid("site.latitude must be between -90 and 90, was %g", *v)
	}
	if v := s.Longitude; v != nil && (*v < -180 || *v > 180) {
		return invalid("site.longitude must be between -180 and 180, was %g", *v)
	}
	if c.GetEngine() == EnginePVGIS && s.Latitude == nil {
		return invalid("site.latitude and site.longitude are required for the pvgis engine")
	}
	return nil
}

// Resolved returns a copy with every field set to its effective value,
// suitable for recording alongside a job's results.
func (c *JobConfig) Resolved() *JobConfig {
	out := &JobConfig{
		HorizonSearchRadius:     ptrInt(c.GetHorizonSearchRadius()),
		HorizonSlices:           ptrInt(c.GetHorizonSlices()),
		MaxRoofSlopeDegrees:     ptrFloat64(c.GetMaxRoofSlopeDegrees()),
		MinRoofAreaM:            ptrFloat64(c.GetMinRoofAreaM()),
		MinRoofDegreesFromNorth: ptrFloat64(c.GetMinRoofDegreesFromNorth()),
		FlatRoofDegrees:         ptrFloat64(c.GetFlatRoofDegrees()),
		PeakPowerPerM2:          ptrFloat64(c.GetPeakPowerPerM2()),
		PVTech:                  ptrString(string(c.GetPVTech())),
		PanelWidthM:             ptrFloat64(c.GetPanelWidthM()),
		PanelHeightM:            ptrFloat64(c.GetPanelHeightM()),
		PanelSpacingM:           ptrFloat64(c.GetPanelSpacingM()),
		LargeBuildingThreshold:  ptrFloat64(c.GetLargeBuildingThreshold()),
		MinDistToEdgeM:          ptrFloat64(c.GetMinDistToEdgeM()),
		MinDistToEdgeLargeM:     ptrFloat64(c.GetMinDistToEdgeLargeM()),
		DebugMode:               ptrBool(c.GetDebugMode()),
		Workers:                 ptrInt(c.GetWorkers()),
		RANSAC:                  c.RANSAC,
		RoofPolygon:             c.RoofPolygon,
		LidarCheck:              c.LidarCheck,
		Panels:                  c.Panels,
		Irradiation:             c.Irradiation,
		Site:                    c.Site,
	}
	out.Irradiation.Engine = ptrString(c.GetEngine())
	out.Irradiation.Timeout = ptrString(c.GetEngineTimeout().String())
	out.Irradiation.TileSizeM = ptrFloat64(c.GetTileSizeM())
	out.Irradiation.SystemLoss = ptrFloat64(c.GetSystemLoss())
	out.LidarCheck.BufferM = ptrFloat64(c.GetLidarBufferM())
	return out
}

// GetHorizonSearchRadius returns the horizon_search_radius value or the default.
func (c *JobConfig) GetHorizonSearchRadius() int {
	if c.HorizonSearchRadius == nil {
		return 1000
	}
	return *c.HorizonSearchRadius
}

// GetHorizonSlices returns the horizon_slices value or the default.
func (c *JobConfig) GetHorizonSlices() int {
	if c.HorizonSlices == nil {
		return 36
	}
	return *c.HorizonSlices
}

// GetMaxRoofSlopeDegrees returns the max_roof_slope_degrees value or the default.
func (c *JobConfig) GetMaxRoofSlopeDegrees() float64 {
	if c.MaxRoofSlopeDegrees == nil {
		return 80
	}
	return *c.MaxRoofSlopeDegrees
}

// GetMinRoofAreaM returns the min_roof_area_m value or the default.
func (c *JobConfig) GetMinRoofAreaM() float64 {
	if c.MinRoofAreaM == nil {
		return 8
	}
	return *c.MinRoofAreaM
}

// GetMinRoofDegreesFromNorth returns the min_roof_degrees_from_north value or the default.
func (c *JobConfig) GetMinRoofDegreesFromNorth() float64 {
	if c.MinRoofDegreesFromNorth == nil {
		return 45
	}
	return *c.MinRoofDegreesFromNorth
}

// GetFlatRoofDegrees returns the flat roof mounting angle or the default.
func (c *JobConfig) GetFlatRoofDegrees() float64 {
	if c.FlatRoofDegrees == nil {
		return 10
	}
	return *c.FlatRoofDegrees
}

// GetPeakPowerPerM2 returns the peak_power_per_m2 value (kWp/m²) or the default.
func (c *JobConfig) GetPeakPowerPerM2() float64 {
	if c.PeakPowerPerM2 == nil {
		return 0.2
	}
	return *c.PeakPowerPerM2
}

// GetPVTech returns the pv_tech value or crystalline silicon.
func (c *JobConfig) GetPVTech() solar.PVTech {
	if c.PVTech == nil {
		return solar.CrystSi
	}
	t, err := solar.ParsePVTech(*c.PVTech)
	if err != nil {
		return solar.CrystSi
	}
	return t
}

// GetPanelWidthM returns the panel_width_m value or the default.
func (c *JobConfig) GetPanelWidthM() float64 {
	if c.PanelWidthM == nil {
		return 0.99
	}
	return *c.PanelWidthM
}

// GetPanelHeightM returns the panel_height_m value or the default.
func (c *JobConfig) GetPanelHeightM() float64 {
	if c.PanelHeightM == nil {
		return 1.64
	}
	return *c.PanelHeightM
}

// GetPanelSpacingM returns the panel_spacing_m value or the default.
func (c *JobConfig) GetPanelSpacingM() float64 {
	if c.PanelSpacingM == nil {
		return 0.01
	}
	return *c.PanelSpacingM
}

// GetLargeBuildingThreshold returns the footprint area (m²) above which the
// large edge distance applies.
func (c *JobConfig) GetLargeBuildingThreshold() float64 {
	if c.LargeBuildingThreshold == nil {
		return 200
	}
	return *c.LargeBuildingThreshold
}

// GetMinDistToEdgeM returns the min_dist_to_edge_m value or the default.
func (c *JobConfig) GetMinDistToEdgeM() float64 {
	if c.MinDistToEdgeM == nil {
		return 0.3
	}
	return *c.MinDistToEdgeM
}

// GetMinDistToEdgeLargeM returns the min_dist_to_edge_large_m value or the default.
func (c *JobConfig) GetMinDistToEdgeLargeM() float64 {
	if c.MinDistToEdgeLargeM == nil {
		return 1
	}
	return *c.MinDistToEdgeLargeM
}

// GetDebugMode returns the debug_mode value or the default.
func (c *JobConfig) GetDebugMode() bool {
	if c.DebugMode == nil {
		return false
	}
	return *c.DebugMode
}

// GetWorkers returns the worker pool size, defaulting to the CPU count.
func (c *JobConfig) GetWorkers() int {
	if c.Workers == nil {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetLidarBufferM returns how far (m) footprints are grown for the
// outdated LiDAR moat.
func (c *JobConfig) GetLidarBufferM() float64 {
	if c.LidarCheck.BufferM == nil {
		return 5
	}
	return *c.LidarCheck.BufferM
}

// GetEngine returns the irradiation engine name, "none" by default.
func (c *JobConfig) GetEngine() string {
	if c.Irradiation.Engine == nil || *c.Irradiation.Engine == "" {
		return EngineNone
	}
	return *c.Irradiation.Engine
}

// GetEngineTimeout parses and returns the per-tile engine timeout.
func (c *JobConfig) GetEngineTimeout() time.Duration {
	if c.Irradiation.Timeout == nil || *c.Irradiation.Timeout == "" {
		return 30 * time.Minute
	}
	d, err := time.ParseDuration(*c.Irradiation.Timeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetTileSizeM returns the engine tile edge length in metres.
func (c *JobConfig) GetTileSizeM() float64 {
	if c.Irradiation.TileSizeM == nil {
		return 1000
	}
	return *c.Irradiation.TileSizeM
}

// GetSystemLoss returns the system_loss fraction or the default.
func (c *JobConfig) GetSystemLoss() float64 {
	if c.Irradiation.SystemLoss == nil {
		return 0.14
	}
	return *c.Irradiation.SystemLoss
}

// GetPVGISRate returns the PV-GIS request ceiling per second.
func (c *JobConfig) GetPVGISRate() int {
	if c.Irradiation.PVGISRate == nil {
		return 25
	}
	return *c.Irradiation.PVGISRate
}

// GetPVGISURL returns the configured PV-GIS endpoint, or "" for the
// client default.
func (c *JobConfig) GetPVGISURL() string {
	if c.Irradiation.PVGISURL == nil {
		return ""
	}
	return *c.Irradiation.PVGISURL
}

// GetCommand returns the exec engine command line.
func (c *JobConfig) GetCommand() (string, []string) {
	if c.Irradiation.Command == nil {
		return "", nil
	}
	return *c.Irradiation.Command, c.Irradiation.Args
}

// GetWorkDir returns the directory engine tiles are written under, or ""
// for a temporary directory.
func (c *JobConfig) GetWorkDir() string {
	if c.Irradiation.WorkDir == nil {
		return ""
	}
	return *c.Irradiation.WorkDir
}

// GetSite returns the site location and whether one is configured.
func (c *JobConfig) GetSite() (lat, lon float64, ok bool) {
	if c.Site.Latitude == nil || c.Site.Longitude == nil {
		return 0, 0, false
	}
	return *c.Site.Latitude, *c.Site.Longitude, true
}

// GetSeed returns the RANSAC seed, or 0 with ok false when unset.
func (c *JobConfig) GetSeed() (int64, bool) {
	if c.RANSAC.Seed == nil {
		return 0, false
	}
	return *c.RANSAC.Seed, true
}
