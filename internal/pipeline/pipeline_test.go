package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/solar.report/internal/config"
	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/elevation"
	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/httputil"
	"github.com/banshee-data/solar.report/internal/irradiation"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
)

func init() {
	monitoring.SetLogger(nil)
}

const (
	ground = 10.0
	eaves  = 3.0
)

// hippedScene returns a 60 x 60 m raster at 1 m holding a 20 x 16 m hipped
// roof pitched at 30 degrees, and three buildings: the hipped roof, a
// footprint over bare ground and one off the raster.
func hippedScene() (*elevation.Raster, []solar.Building) {
	dem := elevation.NewRaster(60, 60, 0, 0, 1)
	roof := geom.Rect(20, 20, 40, 36)
	pitch := math.Tan(30 * math.Pi / 180)
	for row := 0; row < dem.Rows; row++ {
		for col := 0; col < dem.Cols; col++ {
			c := dem.Centre(col, row)
			z := ground
			if c[0] > 20 && c[0] < 40 && c[1] > 20 && c[1] < 36 {
				d := math.Min(math.Min(c[0]-20, 40-c[0]), math.Min(c[1]-20, 36-c[1]))
				z += eaves + d*pitch
			}
			dem.Set(col, row, z)
		}
	}
	return dem, []solar.Building{
		{ID: "hipped", Footprint: roof},
		{ID: "demolished", Footprint: geom.Rect(4, 44, 14, 54)},
		{ID: "offgrid", Footprint: geom.Rect(100, 100, 110, 110)},
	}
}

func testConfig(t *testing.T, engine string) *config.JobConfig {
	t.Helper()
	workers, seed, radius := 2, int64(42), 10
	cmd := "fake-engine"
	cfg := config.EmptyJobConfig()
	cfg.Workers = &workers
	cfg.HorizonSearchRadius = &radius
	cfg.RANSAC.Seed = &seed
	cfg.Irradiation.Engine = &engine
	cfg.Irradiation.Command = &cmd
	return cfg
}

// maskEngine answers every tile with one pixel per mask cell.
type maskEngine struct {
	calls atomic.Int32
}

func (e *maskEngine) Run(_ context.Context, t irradiation.Tile) ([]irradiation.Pixel, error) {
	e.calls.Add(1)
	mask, err := elevation.ReadASCIIFile(filepath.Join(t.Dir, irradiation.MaskFile))
	if err != nil {
		return nil, err
	}
	var out []irradiation.Pixel
	for row := 0; row < mask.Rows; row++ {
		for col := 0; col < mask.Cols; col++ {
			if mask.IsNoData(mask.At(col, row)) {
				continue
			}
			c := mask.Centre(col, row)
			px := irradiation.Pixel{X: c[0], Y: c[1], KWhYear: 1000, Horizon: []float64{1, 2, 3, 4}}
			for m := range px.WhDay {
				px.WhDay[m] = 3000
			}
			out = append(out, px)
		}
	}
	return out, nil
}

type failingEngine struct{}

func (failingEngine) Run(_ context.Context, t irradiation.Tile) ([]irradiation.Pixel, error) {
	return nil, &irradiation.TileError{JobID: t.JobID, Bound: t.Bound, Err: errors.New("exit status 3")}
}

// cancellingEngine cancels the job from inside the irradiation stage.
type cancellingEngine struct{ cancel context.CancelFunc }

func (e cancellingEngine) Run(ctx context.Context, t irradiation.Tile) ([]irradiation.Pixel, error) {
	e.cancel()
	return nil, &irradiation.TileError{JobID: t.JobID, Bound: t.Bound, Err: ctx.Err()}
}

func openDB(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "solar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func buildingByID(t *testing.T, bs []solar.Building, id string) solar.Building {
	t.Helper()
	for _, b := range bs {
		if b.ID == id {
			return b
		}
	}
	t.Fatalf("building %s missing", id)
	return solar.Building{}
}

// assertPlaneGeometry checks that every roof polygon lies inside the
// footprint and that no two polygons share area.
func assertPlaneGeometry(t *testing.T, footprint orb.Polygon, planes []solar.RoofPlane) {
	t.Helper()
	for i, pl := range planes {
		if len(pl.Geom) == 0 {
			continue
		}
		outside, err := geom.Difference(pl.Geom, footprint)
		require.NoError(t, err)
		assert.InDelta(t, 0, geom.MultiArea(outside), 1e-6, "plane %d extends past the footprint", pl.ID)
		for _, other := range planes[i+1:] {
			if len(other.Geom) == 0 {
				continue
			}
			shared, err := geom.Intersection(pl.Geom, other.Geom)
			require.NoError(t, err)
			assert.InDelta(t, 0, geom.MultiArea(shared), 1e-6, "planes %d and %d overlap", pl.ID, other.ID)
		}
	}
}

func TestParamsFromConfig(t *testing.T) {
	cfg := config.EmptyJobConfig()
	p := ParamsFromConfig(cfg, 0.5)
	assert.Equal(t, 0.5, p.RoofDet.ResolutionMetres)
	assert.Equal(t, 0.5, p.RoofPoly.ResolutionMetres)
	assert.Equal(t, 0.5, p.LidarCheck.ResolutionMetres)
	assert.Equal(t, 5.0, p.BufferM)
	assert.Equal(t, 36, p.HorizonSlices)
	assert.Equal(t, 0.14, p.Irradiation.SystemLoss)
	assert.True(t, p.RoofPoly.Archetypes.Enabled)
	assert.Equal(t, 15.0, p.Panels.Dims.SunAngleDegrees)

	assert.Equal(t, solar.FlatRoofDegreesThreshold, p.RoofPoly.FlatThresholdDegrees)

	residual, slices, off, ratio, minPanels, flat := 0.3, 24, false, 0.6, 2, 8.0
	cfg.RANSAC.ResidualThreshold = &residual
	cfg.RANSAC.FlatRoofThresholdDegrees = &flat
	cfg.HorizonSlices = &slices
	cfg.RoofPolygon.ArchetypesEnabled = &off
	cfg.LidarCheck.BadBisectorRatio = &ratio
	cfg.Panels.MinArchetypePanels = &minPanels
	p = ParamsFromConfig(cfg, 1)
	assert.Equal(t, 0.3, p.RoofDet.ResidualThreshold)
	assert.Equal(t, 24, p.HorizonSlices)
	assert.False(t, p.RoofPoly.Archetypes.Enabled)
	assert.Equal(t, 0.6, p.LidarCheck.BadBisectorRatio)
	assert.Equal(t, 2, p.Panels.MinArchetypePanels)
	assert.Equal(t, 8.0, p.RoofDet.FlatRoofThresholdDegrees)
	assert.Equal(t, 8.0, p.RoofPoly.FlatThresholdDegrees, "detection and reconstruction agree on flatness")

	lat, lon := 51.454, -2.597
	cfg.Site = config.SiteConfig{Latitude: &lat, Longitude: &lon}
	p = ParamsFromConfig(cfg, 1)
	assert.InDelta(t, 90-lat-23.44, p.Panels.Dims.SunAngleDegrees, 0.5)

	fixed := 20.0
	cfg.Panels.SunAngleDegrees = &fixed
	assert.Equal(t, 20.0, ParamsFromConfig(cfg, 1).Panels.Dims.SunAngleDegrees)
}

func TestPlanTiles(t *testing.T) {
	planes := []solar.RoofPlane{
		{ID: 1, Usable: true, Geom: geom.Rect(10, 10, 20, 20)},
		{ID: 2, Usable: true, Geom: geom.Rect(95, 5, 105, 15)},
		{ID: 3, Usable: false, Geom: geom.Rect(300, 300, 310, 310)},
		{ID: 4, Usable: true},
	}
	got := planTiles(planes, orb.Point{0, 0}, 100)
	want := []orb.Bound{
		{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}},
		{Min: orb.Point{100, 0}, Max: orb.Point{200, 100}},
	}
	assert.Equal(t, want, got)
	assert.Empty(t, planTiles(planes[2:], orb.Point{0, 0}, 100))
}

func TestRun_HippedRoof(t *testing.T) {
	dem, buildings := hippedScene()
	eng := &maskEngine{}
	r := &Runner{Engine: eng, Metrics: monitoring.NewMetrics()}

	out, err := r.Run(context.Background(), &Job{
		Config:    testConfig(t, config.EngineExec),
		Elevation: dem,
		Buildings: buildings,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.JobID)

	res := out.Results
	require.Len(t, res.Buildings, 3)
	assert.Equal(t, solar.OutdatedLidarCoverage, buildingByID(t, res.Buildings, "demolished").Exclusion)
	assert.Equal(t, solar.NoLidarCoverage, buildingByID(t, res.Buildings, "offgrid").Exclusion)

	hipped := buildingByID(t, res.Buildings, "hipped")
	require.Equal(t, solar.ExclusionNone, hipped.Exclusion)
	require.NotNil(t, hipped.Height)
	assert.Greater(t, *hipped.Height, eaves)

	require.GreaterOrEqual(t, len(res.RoofPlanes), 2)
	usable := map[int]bool{}
	seen := map[int]bool{}
	for _, pl := range res.RoofPlanes {
		assert.Equal(t, "hipped", pl.BuildingID)
		assert.Equal(t, pl.FittedSlope <= solar.FlatRoofDegreesThreshold, pl.IsFlat)
		for _, i := range pl.Inliers {
			assert.False(t, seen[i], "inlier %d shared between planes", i)
			seen[i] = true
		}
		usable[pl.ID] = pl.Usable
		if pl.Usable {
			assert.Positive(t, pl.KWhYear, "plane %d", pl.ID)
			assert.NotEmpty(t, pl.Horizon)
			assert.Contains(t, []float64{90, 180, 270}, pl.Aspect, "plane %d", pl.ID)
		}
	}
	assertPlaneGeometry(t, hipped.Footprint, res.RoofPlanes)

	require.NotEmpty(t, res.Panels)
	for _, pn := range res.Panels {
		assert.True(t, usable[pn.RoofPlaneID], "panel %d on unusable plane %d", pn.ID, pn.RoofPlaneID)
		assert.Positive(t, pn.KWhYear)
		assert.Equal(t, []float64{1, 2, 3, 4}, pn.Horizon)
	}

	assert.Equal(t, int32(1), eng.calls.Load())
	assert.Equal(t, 1, out.Tiles)
	assert.Zero(t, out.TilesFailed)
	assert.Equal(t, len(res.Panels), out.Irradiation.Panels)
	assert.Equal(t, db.JobCounts{
		Buildings:  3,
		Excluded:   2,
		RoofPlanes: len(res.RoofPlanes),
		Panels:     len(res.Panels),
	}, out.Counts)
}

func TestAboveGround(t *testing.T) {
	pts := []solar.LidarPoint{{Z: 9.5}, {Z: 10}, {Z: 10.2}, {Z: 14}}
	assert.Equal(t, pts, aboveGround(pts, nil))

	ground := 10.0
	got := aboveGround(pts, &ground)
	assert.Equal(t, []solar.LidarPoint{{Z: 10.2}, {Z: 14}}, got)
	assert.Len(t, pts, 4)
}

func TestRun_FootprintOverhangingGround(t *testing.T) {
	dem, _ := hippedScene()
	// The footprint runs 4 m past the east wall over bare ground.
	wide := solar.Building{ID: "wide", Footprint: geom.Rect(20, 20, 44, 36)}

	out, err := (&Runner{}).Run(context.Background(), &Job{
		Config:    testConfig(t, config.EngineNone),
		Elevation: dem,
		Buildings: []solar.Building{wide},
	})
	require.NoError(t, err)

	b := buildingByID(t, out.Results.Buildings, "wide")
	require.Equal(t, solar.ExclusionNone, b.Exclusion)
	require.NotNil(t, b.MaxGroundHeight)
	assert.Equal(t, ground, *b.MaxGroundHeight)

	require.NotEmpty(t, out.Results.RoofPlanes)
	for _, pl := range out.Results.RoofPlanes {
		assert.False(t, pl.IsFlat, "plane %d fitted to ground", pl.ID)
		if len(pl.Geom) > 0 {
			assert.Less(t, pl.Geom.Bound().Min[0], 40.0, "plane %d lies over the ground strip", pl.ID)
		}
	}
	assertPlaneGeometry(t, wide.Footprint, out.Results.RoofPlanes)
}

func TestRun_DeterministicAcrossWorkers(t *testing.T) {
	dem, buildings := hippedScene()
	run := func(workers int) *Outcome {
		cfg := testConfig(t, config.EngineNone)
		cfg.Workers = &workers
		out, err := (&Runner{}).Run(context.Background(), &Job{Config: cfg, Elevation: dem, Buildings: buildings})
		require.NoError(t, err)
		return out
	}
	one, many := run(1), run(3)
	if diff := cmp.Diff(one.Results, many.Results); diff != "" {
		t.Errorf("results differ with more workers (-1 +3):\n%s", diff)
	}
}

func TestRun_Persists(t *testing.T) {
	store := openDB(t)
	dem, buildings := hippedScene()
	r := &Runner{DB: store, Engine: &maskEngine{}}
	ctx := context.Background()

	out, err := r.Run(ctx, &Job{Config: testConfig(t, config.EngineExec), Elevation: dem, Buildings: buildings})
	require.NoError(t, err)

	job, err := store.GetJob(ctx, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, db.JobDone, job.Status)
	assert.Equal(t, out.Counts, job.Counts)
	assert.NotNil(t, job.Finished)
	assert.Contains(t, job.ConfigJSON, `"horizon_search_radius":10`)

	saved, err := store.LoadResults(ctx, out.JobID)
	require.NoError(t, err)
	assert.Len(t, saved.Buildings, 3)
	assert.Len(t, saved.RoofPlanes, len(out.Results.RoofPlanes))
	assert.Len(t, saved.Panels, len(out.Results.Panels))
}

func TestRun_TileFailure(t *testing.T) {
	store := openDB(t)
	dem, buildings := hippedScene()
	m := monitoring.NewMetrics()
	r := &Runner{DB: store, Engine: failingEngine{}, Metrics: m}
	ctx := context.Background()

	out, err := r.Run(ctx, &Job{Config: testConfig(t, config.EngineExec), Elevation: dem, Buildings: buildings})
	require.Error(t, err)
	var te *irradiation.TileError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, out.JobID, te.JobID)
	assert.Equal(t, 1, out.TilesFailed)

	job, err := store.GetJob(ctx, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, db.JobFailed, job.Status)
	assert.Contains(t, job.Error, "exit status 3")

	saved, err := store.LoadResults(ctx, out.JobID)
	require.NoError(t, err)
	assert.Len(t, saved.Buildings, 3, "modelled results survive an engine failure")
}

func TestRun_CancelledDuringIrradiation(t *testing.T) {
	store := openDB(t)
	dem, buildings := hippedScene()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &Runner{DB: store, Engine: cancellingEngine{cancel: cancel}}

	out, err := r.Run(ctx, &Job{Config: testConfig(t, config.EngineExec), Elevation: dem, Buildings: buildings})
	require.ErrorIs(t, err, context.Canceled)

	bg := context.Background()
	job, err := store.GetJob(bg, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, db.JobCancelled, job.Status)

	saved, err := store.LoadResults(bg, out.JobID)
	require.NoError(t, err)
	assert.Empty(t, saved.Buildings)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	dem, buildings := hippedScene()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := (&Runner{}).Run(ctx, &Job{Config: testConfig(t, config.EngineNone), Elevation: dem, Buildings: buildings})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, out.Counts.Buildings)
}

func TestRun_PVGIS(t *testing.T) {
	dem, buildings := hippedScene()
	mock := httputil.NewMockHTTPClient()
	mock.DoFunc = func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body: io.NopCloser(strings.NewReader(
				`{"outputs": {"monthly": {"fixed": [{"month": 6, "E_m": 120}]}, "totals": {"fixed": {"E_y": 900}}}}`)),
		}, nil
	}
	client := irradiation.NewPVGISClient(mock, "http://pvgis.test/api/PVcalc", 1000)
	defer client.Close()

	cfg := testConfig(t, config.EnginePVGIS)
	lat, lon := 51.454, -2.597
	cfg.Site = config.SiteConfig{Latitude: &lat, Longitude: &lon}

	out, err := (&Runner{PVGIS: client}).Run(context.Background(), &Job{Config: cfg, Elevation: dem, Buildings: buildings})
	require.NoError(t, err)
	require.Positive(t, out.Irradiation.Planes)
	for _, pl := range out.Results.RoofPlanes {
		if pl.Usable {
			assert.Equal(t, 900.0, pl.KWhYear)
			assert.Equal(t, 120.0, pl.KWhMonthly[5])
		}
	}
}

func TestRun_Rejects(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), &Job{Config: config.EmptyJobConfig()})
	assert.ErrorIs(t, err, ErrNoElevation)

	bad := -1
	cfg := config.EmptyJobConfig()
	cfg.Workers = &bad
	_, err = (&Runner{}).Run(context.Background(), &Job{Config: cfg, Elevation: elevation.NewRaster(1, 1, 0, 0, 1)})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestRun_WorkDirKeepsTiles(t *testing.T) {
	dem, buildings := hippedScene()
	dir := t.TempDir()
	cfg := testConfig(t, config.EngineExec)
	cfg.Irradiation.WorkDir = &dir

	out, err := (&Runner{Engine: &maskEngine{}}).Run(context.Background(), &Job{Config: cfg, Elevation: dem, Buildings: buildings})
	require.NoError(t, err)

	tileDir := filepath.Join(dir, out.JobID, "tile_000")
	for _, name := range []string{irradiation.ElevationFile, irradiation.SlopeFile, irradiation.AspectFile, irradiation.MaskFile} {
		_, err := os.Stat(filepath.Join(tileDir, name))
		assert.NoError(t, err, name)
	}
	tileDEM, err := elevation.ReadASCIIFile(filepath.Join(tileDir, irradiation.ElevationFile))
	require.NoError(t, err)
	assert.Equal(t, dem.Bound(), tileDEM.Bound(), "horizon padding is clamped to the raster")
}
