package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/banshee-data/solar.report/internal/solar"
)

// Results is everything a job produces.
type Results struct {
	Buildings  []solar.Building
	RoofPlanes []solar.RoofPlane
	Panels     []solar.Panel
}

func encodePolygon(p orb.Polygon) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return wkb.Marshal(p)
}

func decodePolygon(b []byte) (orb.Polygon, error) {
	if len(b) == 0 {
		return nil, nil
	}
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	switch v := g.(type) {
	case orb.Polygon:
		return v, nil
	case orb.MultiPolygon:
		if len(v) == 1 {
			return v[0], nil
		}
	}
	return nil, fmt.Errorf("stored geometry is %s, want Polygon", g.GeoJSONType())
}

func encodeFloats(v []float64) string {
	if v == nil {
		v = []float64{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeFloats(s string) ([]float64, error) {
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v, nil
}

func decodeMonthly(s string) ([12]float64, error) {
	var out [12]float64
	v, err := decodeFloats(s)
	if err != nil {
		return out, err
	}
	copy(out[:], v)
	return out, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveResults replaces every stored result of the job in one transaction,
// so re-running a job is idempotent.
func (db *DB) SaveResults(ctx context.Context, jobID string, r Results) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE job_id = ?`, jobID).Scan(&exists); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("save results for %s: %w", jobID, ErrJobNotFound)
	}

	for _, table := range []string{"panels", "roof_planes", "buildings"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := insertBuildings(ctx, tx, jobID, r.Buildings); err != nil {
		return err
	}
	if err := insertRoofPlanes(ctx, tx, jobID, r.RoofPlanes); err != nil {
		return err
	}
	if err := insertPanels(ctx, tx, jobID, r.Panels); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	return nil
}

func insertBuildings(ctx context.Context, tx *sql.Tx, jobID string, buildings []solar.Building) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO buildings (
		job_id, building_id, footprint, exclusion_reason, height, min_ground_height, max_ground_height
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare buildings: %w", err)
	}
	defer stmt.Close()

	for _, b := range buildings {
		fp, err := encodePolygon(b.Footprint)
		if err != nil {
			return fmt.Errorf("building %s footprint: %w", b.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, jobID, b.ID, fp, b.Exclusion,
			nullFloat(b.Height), nullFloat(b.MinGroundHeight), nullFloat(b.MaxGroundHeight)); err != nil {
			return fmt.Errorf("insert building %s: %w", b.ID, err)
		}
	}
	return nil
}

func insertRoofPlanes(ctx context.Context, tx *sql.Tx, jobID string, planes []solar.RoofPlane) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO roof_planes (
		job_id, building_id, roof_plane_id, x_coef, y_coef, intercept,
		fitted_slope, slope, aspect, layout_aspect, is_flat, sd,
		aspect_circ_mean, aspect_circ_sd, inlier_count, usable, not_usable_reason,
		archetype, geom, raw_footprint, raw_area, easting, northing,
		kwh_year, kwh_monthly, horizon
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare roof_planes: %w", err)
	}
	defer stmt.Close()

	for _, p := range planes {
		g, err := encodePolygon(p.Geom)
		if err != nil {
			return fmt.Errorf("building %s plane %d geometry: %w", p.BuildingID, p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, jobID, p.BuildingID, p.ID, p.XCoef, p.YCoef, p.Intercept,
			p.FittedSlope, p.Slope, p.Aspect, p.LayoutAspect, p.IsFlat, p.SD,
			nullFloat(p.AspectCircMean), nullFloat(p.AspectCircSD), len(p.Inliers), p.Usable,
			nullString(string(p.NotUsableReason)), p.Archetype, g, p.RawFootprint, p.RawArea,
			p.Easting, p.Northing, p.KWhYear, encodeFloats(p.KWhMonthly[:]), encodeFloats(p.Horizon),
		); err != nil {
			return fmt.Errorf("insert building %s plane %d: %w", p.BuildingID, p.ID, err)
		}
	}
	return nil
}

func insertPanels(ctx context.Context, tx *sql.Tx, jobID string, panels []solar.Panel) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO panels (
		job_id, building_id, panel_id, roof_plane_id, geom, area, footprint,
		kwh_year, kwh_monthly, horizon
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare panels: %w", err)
	}
	defer stmt.Close()

	for _, p := range panels {
		g, err := encodePolygon(p.Geom)
		if err != nil {
			return fmt.Errorf("building %s panel %d geometry: %w", p.BuildingID, p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, jobID, p.BuildingID, p.ID, p.RoofPlaneID, g,
			p.Area, p.Footprint, p.KWhYear, encodeFloats(p.KWhMonthly[:]), encodeFloats(p.Horizon),
		); err != nil {
			return fmt.Errorf("insert building %s panel %d: %w", p.BuildingID, p.ID, err)
		}
	}
	return nil
}

// LoadResults reads back everything stored for a job, ordered by
// building and id.
func (db *DB) LoadResults(ctx context.Context, jobID string) (*Results, error) {
	if _, err := db.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	var (
		r   Results
		err error
	)
	if r.Buildings, err = db.loadBuildings(ctx, jobID); err != nil {
		return nil, err
	}
	if r.RoofPlanes, err = db.loadRoofPlanes(ctx, jobID); err != nil {
		return nil, err
	}
	if r.Panels, err = db.loadPanels(ctx, jobID); err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) loadBuildings(ctx context.Context, jobID string) ([]solar.Building, error) {
	rows, err := db.QueryContext(ctx, `SELECT building_id, footprint, exclusion_reason,
		height, min_ground_height, max_ground_height
		FROM buildings WHERE job_id = ? ORDER BY building_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load buildings: %w", err)
	}
	defer rows.Close()

	var out []solar.Building
	for rows.Next() {
		var (
			b             solar.Building
			fp            []byte
			h, minG, maxG sql.NullFloat64
		)
		if err := rows.Scan(&b.ID, &fp, &b.Exclusion, &h, &minG, &maxG); err != nil {
			return nil, fmt.Errorf("load buildings: %w", err)
		}
		if b.Footprint, err = decodePolygon(fp); err != nil {
			return nil, fmt.Errorf("building %s footprint: %w", b.ID, err)
		}
		b.Height, b.MinGroundHeight, b.MaxGroundHeight = floatPtr(h), floatPtr(minG), floatPtr(maxG)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (db *DB) loadRoofPlanes(ctx context.Context, jobID string) ([]solar.RoofPlane, error) {
	rows, err := db.QueryContext(ctx, `SELECT building_id, roof_plane_id, x_coef, y_coef, intercept,
		fitted_slope, slope, aspect, layout_aspect, is_flat, sd,
		aspect_circ_mean, aspect_circ_sd, usable, not_usable_reason,
		archetype, geom, raw_footprint, raw_area, easting, northing,
		kwh_year, kwh_monthly, horizon
		FROM roof_planes WHERE job_id = ? ORDER BY building_id, roof_plane_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load roof planes: %w", err)
	}
	defer rows.Close()

	var out []solar.RoofPlane
	for rows.Next() {
		var (
			p                solar.RoofPlane
			circMean, circSD sql.NullFloat64
			reason           sql.NullString
			g                []byte
			monthly, horizon string
		)
		if err := rows.Scan(&p.BuildingID, &p.ID, &p.XCoef, &p.YCoef, &p.Intercept,
			&p.FittedSlope, &p.Slope, &p.Aspect, &p.LayoutAspect, &p.IsFlat, &p.SD,
			&circMean, &circSD, &p.Usable, &reason,
			&p.Archetype, &g, &p.RawFootprint, &p.RawArea, &p.Easting, &p.Northing,
			&p.KWhYear, &monthly, &horizon); err != nil {
			return nil, fmt.Errorf("load roof planes: %w", err)
		}
		p.AspectCircMean, p.AspectCircSD = floatPtr(circMean), floatPtr(circSD)
		p.NotUsableReason = solar.NotUsableReason(reason.String)
		if p.Geom, err = decodePolygon(g); err != nil {
			return nil, fmt.Errorf("building %s plane %d geometry: %w", p.BuildingID, p.ID, err)
		}
		if p.KWhMonthly, err = decodeMonthly(monthly); err != nil {
			return nil, fmt.Errorf("building %s plane %d kwh_monthly: %w", p.BuildingID, p.ID, err)
		}
		if p.Horizon, err = decodeFloats(horizon); err != nil {
			return nil, fmt.Errorf("building %s plane %d horizon: %w", p.BuildingID, p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) loadPanels(ctx context.Context, jobID string) ([]solar.Panel, error) {
	rows, err := db.QueryContext(ctx, `SELECT building_id, panel_id, roof_plane_id, geom, area, footprint,
		kwh_year, kwh_monthly, horizon
		FROM panels WHERE job_id = ? ORDER BY building_id, panel_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load panels: %w", err)
	}
	defer rows.Close()

	var out []solar.Panel
	for rows.Next() {
		var (
			p                solar.Panel
			g                []byte
			monthly, horizon string
		)
		if err := rows.Scan(&p.BuildingID, &p.ID, &p.RoofPlaneID, &g, &p.Area, &p.Footprint,
			&p.KWhYear, &monthly, &horizon); err != nil {
			return nil, fmt.Errorf("load panels: %w", err)
		}
		if p.Geom, err = decodePolygon(g); err != nil {
			return nil, fmt.Errorf("building %s panel %d geometry: %w", p.BuildingID, p.ID, err)
		}
		if p.KWhMonthly, err = decodeMonthly(monthly); err != nil {
			return nil, fmt.Errorf("building %s panel %d kwh_monthly: %w", p.BuildingID, p.ID, err)
		}
		if p.Horizon, err = decodeFloats(horizon); err != nil {
			return nil, fmt.Errorf("building %s panel %d horizon: %w", p.BuildingID, p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
