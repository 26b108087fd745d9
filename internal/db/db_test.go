package db

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/solar.report/internal/geom"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/solar"
	"github.com/banshee-data/solar.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "solar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(v float64) *float64 { return &v }

func sampleResults() Results {
	var monthly [12]float64
	for i := range monthly {
		monthly[i] = float64(i + 1)
	}
	return Results{
		Buildings: []solar.Building{
			{ID: "b1", Footprint: geom.Rect(0, 0, 10, 6), Height: ptr(6.5), MinGroundHeight: ptr(20), MaxGroundHeight: ptr(20.4)},
			{ID: "b2", Footprint: geom.Rect(20, 0, 25, 5), Exclusion: solar.OutdatedLidarCoverage},
		},
		RoofPlanes: []solar.RoofPlane{
			{
				ID: 1, BuildingID: "b1", XCoef: 0.1, YCoef: -0.7, Intercept: 30,
				FittedSlope: 35, Slope: 35, Aspect: 172, LayoutAspect: 172, SD: 0.04,
				AspectCircMean: ptr(171), AspectCircSD: ptr(0.2), Inliers: []int{0, 1, 2},
				Usable: true, Archetype: true, Geom: geom.Rect(0.5, 0.5, 9.5, 3),
				RawFootprint: 22.5, RawArea: 27.4, Easting: 5, Northing: 1.75,
				KWhYear: 3100, KWhMonthly: monthly, Horizon: []float64{1, 2, 3, 4},
			},
			{
				ID: 2, BuildingID: "b1", FittedSlope: 2, Slope: 10, Aspect: 180, LayoutAspect: 90,
				IsFlat: true, NotUsableReason: solar.NotUsableEmptyGeometry,
			},
		},
		Panels: []solar.Panel{
			{ID: 1, RoofPlaneID: 1, BuildingID: "b1", Geom: geom.Rect(1, 1, 2, 2.6), Area: 1.62, Footprint: 1.6, KWhYear: 280, KWhMonthly: monthly, Horizon: []float64{1, 2, 3, 4}},
		},
	}
}

func TestMigrations(t *testing.T) {
	db := setupTestDB(t)

	latest, err := LatestMigrationVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(1), latest)

	v, dirty, err := db.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, latest, v)
	assert.False(t, dirty)
	assert.NoError(t, db.CheckMigrations(Migrations()))

	require.NoError(t, db.MigrateDown(Migrations()))
	assert.ErrorIs(t, db.CheckMigrations(Migrations()), ErrSchemaOutOfDate)
	require.NoError(t, db.MigrateUp(Migrations()))
	require.NoError(t, db.MigrateUp(Migrations()), "no change is not an error")

	_, err = LatestMigrationVersion(fs.FS(emptyFS{}))
	assert.Error(t, err)
}

type emptyFS struct{}

func (emptyFS) Open(string) (fs.File, error) { return nil, fs.ErrNotExist }

func TestPragmas(t *testing.T) {
	db := setupTestDB(t)

	var journal string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journal))
	assert.Equal(t, "wal", journal)

	var fk, busy int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 5000, busy)
}

func TestJobs(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	start := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	clock.SetStep(time.Minute)
	db.Clock = clock

	job, err := db.CreateJob(ctx, `{"workers":2}`)
	require.NoError(t, err)
	assert.Len(t, job.ID, 36)
	assert.Equal(t, JobRunning, job.Status)
	assert.Equal(t, start, job.Created)

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"workers":2}`, got.ConfigJSON)
	assert.Nil(t, got.Finished)

	counts := JobCounts{Buildings: 2, Excluded: 1, RoofPlanes: 2, Panels: 1}
	require.NoError(t, db.FinishJob(ctx, job.ID, JobFailed, counts, errors.New("engine exploded")))
	got, err = db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, counts, got.Counts)
	assert.Equal(t, "engine exploded", got.Error)
	require.NotNil(t, got.Finished)
	assert.WithinDuration(t, start.Add(time.Minute), *got.Finished, time.Millisecond)

	second, err := db.CreateJob(ctx, "")
	require.NoError(t, err)
	jobs, err := db.ListJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID, "newest first")
	jobs, err = db.ListJobs(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = db.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, db.FinishJob(ctx, "missing", JobDone, JobCounts{}, nil), ErrJobNotFound)
	assert.ErrorIs(t, db.DeleteJob(ctx, "missing"), ErrJobNotFound)
}

func TestSaveAndLoadResults(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	job, err := db.CreateJob(ctx, "")
	require.NoError(t, err)

	want := sampleResults()
	require.NoError(t, db.SaveResults(ctx, job.ID, want))

	got, err := db.LoadResults(ctx, job.ID)
	require.NoError(t, err)

	// Inlier indices are not stored, only their count.
	for i := range want.RoofPlanes {
		want.RoofPlanes[i].Inliers = nil
	}
	if diff := cmp.Diff(want, *got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("LoadResults mismatch (-want +got):\n%s", diff)
	}

	var inliers int
	require.NoError(t, db.QueryRow(`SELECT inlier_count FROM roof_planes WHERE roof_plane_id = 1`).Scan(&inliers))
	assert.Equal(t, 3, inliers)
}

func TestSaveResultsReplacesPreviousRun(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	job, err := db.CreateJob(ctx, "")
	require.NoError(t, err)
	other, err := db.CreateJob(ctx, "")
	require.NoError(t, err)

	require.NoError(t, db.SaveResults(ctx, job.ID, sampleResults()))
	require.NoError(t, db.SaveResults(ctx, other.ID, sampleResults()))

	rerun := sampleResults()
	rerun.Buildings = rerun.Buildings[1:]
	rerun.RoofPlanes, rerun.Panels = nil, nil
	require.NoError(t, db.SaveResults(ctx, job.ID, rerun))

	got, err := db.LoadResults(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Buildings, 1)
	assert.Equal(t, "b2", got.Buildings[0].ID)
	assert.Equal(t, solar.OutdatedLidarCoverage, got.Buildings[0].Exclusion)
	assert.Empty(t, got.RoofPlanes)
	assert.Empty(t, got.Panels)

	untouched, err := db.LoadResults(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, untouched.Panels, 1)
}

func TestSaveResultsRollsBack(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	job, err := db.CreateJob(ctx, "")
	require.NoError(t, err)
	require.NoError(t, db.SaveResults(ctx, job.ID, sampleResults()))

	bad := sampleResults()
	bad.Panels[0].RoofPlaneID = 99
	assert.Error(t, db.SaveResults(ctx, job.ID, bad), "panel on an unknown plane")

	got, err := db.LoadResults(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got.Panels, 1, "previous results survive a failed save")

	assert.ErrorIs(t, db.SaveResults(ctx, "missing", Results{}), ErrJobNotFound)
}

func TestDeleteJobCascades(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	job, err := db.CreateJob(ctx, "")
	require.NoError(t, err)
	require.NoError(t, db.SaveResults(ctx, job.ID, sampleResults()))

	require.NoError(t, db.DeleteJob(ctx, job.ID))
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM panels`).Scan(&n))
	assert.Zero(t, n)
	_, err = db.LoadResults(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	job, err := db.CreateJob(ctx, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, db.Backup(ctx, path))
	assert.ErrorIs(t, db.Backup(ctx, path), fs.ErrExist)

	copyDB, err := OpenDB(path)
	require.NoError(t, err)
	defer copyDB.Close()
	_, err = copyDB.GetJob(ctx, job.ID)
	assert.NoError(t, err)
}
