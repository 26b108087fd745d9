// Package pipeline runs a modelling job end to end: the outdated LiDAR
// check, plane detection, roof polygons and panels for every building on a
// bounded worker pool, then irradiation and a single write of the results.
package pipeline

import (
	"time"

	"github.com/banshee-data/solar.report/internal/config"
	"github.com/banshee-data/solar.report/internal/db"
	"github.com/banshee-data/solar.report/internal/elevation"
	"github.com/banshee-data/solar.report/internal/irradiation"
	"github.com/banshee-data/solar.report/internal/roofdet"
	"github.com/banshee-data/solar.report/internal/solar"
)

// Job is the input to one run. ID is assigned by Run when the runner has a
// store, and may be preset otherwise.
type Job struct {
	ID        string
	Config    *config.JobConfig
	Elevation *elevation.Raster
	Buildings []solar.Building
}

// Outcome is what a run produced.
type Outcome struct {
	JobID       string
	Results     db.Results
	Counts      db.JobCounts
	Rejections  roofdet.Rejections
	Irradiation irradiation.Summary
	Tiles       int
	TilesFailed int
	Duration    time.Duration
}

// count fills in the job counts from the results.
func (o *Outcome) count() {
	o.Counts = db.JobCounts{
		Buildings:  len(o.Results.Buildings),
		RoofPlanes: len(o.Results.RoofPlanes),
		Panels:     len(o.Results.Panels),
	}
	for _, b := range o.Results.Buildings {
		if b.Exclusion.Excluded() {
			o.Counts.Excluded++
		}
	}
}
