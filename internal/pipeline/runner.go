package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/solar.report/internal/config"
	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/elevation"
	"github.com/banshee-data/solar.report/internal/irradiation"
	"github.com/banshee-data/solar.report/internal/monitoring"
	"github.com/banshee-data/solar.report/internal/roofdet"
	"github.com/banshee-data/solar.report/internal/roofpoly"
)

// ErrNoElevation is returned for a job without an elevation raster.
var ErrNoElevation = errors.New("pipeline: job has no elevation raster")

// Runner executes jobs. Every field is optional: without a DB results are
// only returned, and the irradiation engine is built from the job config
// unless Engine or PVGIS is set.
type Runner struct {
	DB      *db.DB
	Engine  irradiation.Engine
	PVGIS   *irradiation.PVGISClient
	Metrics *monitoring.Metrics
}

// Run models every building of job, runs irradiation and stores the
// results in one transaction. Cancelling ctx stops new buildings from
// starting; Run then waits for those in flight and returns ctx.Err()
// without storing anything. Irradiation failures are returned after the
// modelled results have been stored and the job marked failed.
func (r *Runner) Run(ctx context.Context, job *Job) (*Outcome, error) {
	if job.Config == nil {
		job.Config = config.EmptyJobConfig()
	}
	if err := job.Config.Validate(); err != nil {
		return nil, err
	}
	if job.Elevation == nil {
		return nil, ErrNoElevation
	}
	p := ParamsFromConfig(job.Config, job.Elevation.Res)
	recon, err := roofpoly.New(p.RoofPoly)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if r.DB != nil {
		cfgJSON, err := job.Config.Resolved().JSON()
		if err != nil {
			return nil, err
		}
		row, err := r.DB.CreateJob(ctx, cfgJSON)
		if err != nil {
			return nil, err
		}
		job.ID = row.ID
	} else if job.ID == "" {
		job.ID = uuid.NewString()
	}

	start := time.Now()
	monitoring.Logf("pipeline: job %s started: %d buildings, %d workers, engine %s",
		job.ID, len(job.Buildings), job.Config.GetWorkers(), job.Config.GetEngine())

	out := &Outcome{JobID: job.ID, Rejections: roofdet.Rejections{}}
	slope, aspect := elevation.SlopeAspect(job.Elevation)
	s := surfaces{dem: job.Elevation, slope: slope, aspect: aspect}

	runErr := r.model(ctx, job, p, recon, s, out)
	if runErr == nil {
		runErr = r.irradiate(ctx, job, p, s, out)
	}
	out.count()
	out.Duration = time.Since(start)

	status := db.JobDone
	switch {
	case ctx.Err() != nil:
		status = db.JobCancelled
		runErr = ctx.Err()
	case runErr != nil:
		status = db.JobFailed
	}
	monitoring.Logf("pipeline: job %s %s in %v: %d buildings (%d excluded), %d roof planes, %d panels",
		job.ID, status, out.Duration.Round(time.Millisecond),
		out.Counts.Buildings, out.Counts.Excluded, out.Counts.RoofPlanes, out.Counts.Panels)

	if r.DB != nil {
		if err := r.store(context.WithoutCancel(ctx), job.ID, status, out, runErr); err != nil {
			return out, errors.Join(runErr, err)
		}
	}
	return out, runErr
}

// model runs the per-building stages on a bounded worker pool. The
// context is checked before each building is scheduled.
func (r *Runner) model(ctx context.Context, job *Job, p Params, recon *roofpoly.Reconstructor, s surfaces, out *Outcome) error {
	seed, seeded := job.Config.GetSeed()
	results := make([]buildingResult, len(job.Buildings))

	var g errgroup.Group
	g.SetLimit(job.Config.GetWorkers())
	for i := range job.Buildings {
		if ctx.Err() != nil {
			break
		}
		rng := rand.New(rand.NewSource(buildingSeed(seed, seeded, i)))
		g.Go(func() error {
			start := time.Now()
			res := modelBuilding(job.Buildings[i], s, p, recon, rng)
			res.elapsed = time.Since(start)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if !res.done {
			continue
		}
		out.Results.Buildings = append(out.Results.Buildings, res.building)
		out.Results.RoofPlanes = append(out.Results.RoofPlanes, res.planes...)
		out.Results.Panels = append(out.Results.Panels, res.panels...)
		out.Rejections.Add(res.rejections)

		r.Metrics.ObserveBuilding(res.outcome(), len(res.planes), len(res.panels), res.elapsed)
		counts := make(map[string]int, len(res.rejections))
		for reason, n := range res.rejections {
			counts[string(reason)] = n
		}
		r.Metrics.ObserveRejections(counts)
	}
	return ctx.Err()
}

// store is the single writer for a job: results in one transaction, then
// the job row. Cancelled jobs keep no results.
func (r *Runner) store(ctx context.Context, jobID string, status db.JobStatus, out *Outcome, runErr error) error {
	if status != db.JobCancelled {
		if err := r.DB.SaveResults(ctx, jobID, out.Results); err != nil {
			_ = r.DB.FinishJob(ctx, jobID, db.JobFailed, out.Counts, err)
			return err
		}
	}
	return r.DB.FinishJob(ctx, jobID, status, out.Counts, runErr)
}
