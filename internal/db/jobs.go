package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned when a job id has no row.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobCounts summarises a finished job.
type JobCounts struct {
	Buildings  int `json:"buildings"`
	Excluded   int `json:"excluded"`
	RoofPlanes int `json:"roof_planes"`
	Panels     int `json:"panels"`
}

// Job is one row of the jobs table.
type Job struct {
	ID         string     `json:"job_id"`
	Status     JobStatus  `json:"status"`
	ConfigJSON string     `json:"config"`
	Created    time.Time  `json:"created"`
	Finished   *time.Time `json:"finished,omitempty"`
	Counts     JobCounts  `json:"counts"`
	Error      string     `json:"error,omitempty"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

// CreateJob inserts a running job with a fresh id. configJSON is the
// resolved configuration the job runs with.
func (db *DB) CreateJob(ctx context.Context, configJSON string) (*Job, error) {
	if configJSON == "" {
		configJSON = "{}"
	}
	job := &Job{
		ID:         uuid.NewString(),
		Status:     JobRunning,
		ConfigJSON: configJSON,
		Created:    db.Clock.Now().UTC(),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, status, config_json, created_unix) VALUES (?, ?, ?, ?)`,
		job.ID, string(job.Status), job.ConfigJSON, unixSeconds(job.Created))
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// FinishJob records the final status, counts and error of a job.
func (db *DB) FinishJob(ctx context.Context, id string, status JobStatus, counts JobCounts, jobErr error) error {
	var msg sql.NullString
	if jobErr != nil {
		msg = sql.NullString{String: jobErr.Error(), Valid: true}
	}
	res, err := db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, finished_unix = ?, buildings = ?, excluded = ?,
			roof_planes = ?, panels = ?, error = ?
		WHERE job_id = ?`,
		string(status), unixSeconds(db.Clock.Now()), counts.Buildings, counts.Excluded,
		counts.RoofPlanes, counts.Panels, msg, id)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish job %s: %w", id, ErrJobNotFound)
	}
	return nil
}

const jobColumns = `job_id, status, config_json, created_unix, finished_unix,
	buildings, excluded, roof_planes, panels, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*Job, error) {
	var (
		j        Job
		status   string
		created  float64
		finished sql.NullFloat64
		msg      sql.NullString
	)
	if err := r.Scan(&j.ID, &status, &j.ConfigJSON, &created, &finished,
		&j.Counts.Buildings, &j.Counts.Excluded, &j.Counts.RoofPlanes, &j.Counts.Panels, &msg); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	j.Created = fromUnixSeconds(created)
	if finished.Valid {
		t := fromUnixSeconds(finished.Float64)
		j.Finished = &t
	}
	j.Error = msg.String
	return &j, nil
}

// GetJob loads a job by id.
func (db *DB) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// ListJobs returns the most recent jobs first. limit <= 0 means all.
func (db *DB) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_unix DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job and, by cascade, all of its results.
func (db *DB) DeleteJob(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete job %s: %w", id, ErrJobNotFound)
	}
	return nil
}
