// Package storage persists correlation runs and per-point frame results in
// SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"dicengine/internal/field"
)

// Store wraps SQLite-backed persistence for correlation runs.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            ref_image TEXT,
            num_points INTEGER,
            num_frames INTEGER,
            params_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS frame_results (
            run_id TEXT NOT NULL,
            frame INTEGER NOT NULL,
            point_id INTEGER NOT NULL,
            coord_x REAL,
            coord_y REAL,
            disp_x REAL,
            disp_y REAL,
            rotation_z REAL,
            strain_xx REAL,
            strain_yy REAL,
            strain_xy REAL,
            sigma REAL,
            gamma REAL,
            match_val REAL,
            iterations INTEGER,
            status_flag INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_frame_results_run ON frame_results(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_frame_results_run_frame ON frame_results(run_id, frame);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures persisted run info.
type RunRecord struct {
	ID          string
	Status      string
	RefImage    string
	NumPoints   int
	NumFrames   int
	Params      map[string]any
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// RecordRunStart inserts a running run.
func (s *Store) RecordRunStart(rec RunRecord) error {
	if s == nil {
		return nil
	}
	paramsJSON, _ := json.Marshal(rec.Params)
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO runs (id, status, ref_image, num_points, num_frames, params_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, "running", rec.RefImage, rec.NumPoints, rec.NumFrames, string(paramsJSON))
	return err
}

// RecordRunResult finalizes a run with a status and optional error message.
func (s *Store) RecordRunResult(id string, status string, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE runs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		status, errMsg, id)
	return err
}

// RecordFrame persists one record per point from the global field view.
// Must be called after gather, when the view is a consistent snapshot.
func (s *Store) RecordFrame(runID string, frame int, fields *field.Store) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO frame_results
        (run_id, frame, point_id, coord_x, coord_y, disp_x, disp_y, rotation_z,
         strain_xx, strain_yy, strain_xy, sigma, gamma, match_val, iterations, status_flag)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for id := 0; id < fields.NumPoints(); id++ {
		if _, err := stmt.Exec(
			runID, frame, id,
			fields.Value(id, field.CoordinateX),
			fields.Value(id, field.CoordinateY),
			fields.Value(id, field.DisplacementX),
			fields.Value(id, field.DisplacementY),
			fields.Value(id, field.RotationZ),
			fields.Value(id, field.NormalStrainX),
			fields.Value(id, field.NormalStrainY),
			fields.Value(id, field.ShearStrainXY),
			fields.Value(id, field.Sigma),
			fields.Value(id, field.Gamma),
			fields.Value(id, field.Match),
			int(fields.Value(id, field.Iterations)),
			int(fields.Value(id, field.StatusFlag)),
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, status, ref_image, num_points, num_frames, created_at, completed_at, error_message FROM runs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var created time.Time
		var completed sql.NullTime
		var errorMsg, refImage sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Status, &refImage, &rec.NumPoints, &rec.NumFrames, &created, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		rec.RefImage = refImage.String
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// FrameCount returns how many frames a run has persisted.
func (s *Store) FrameCount(runID string) (int, error) {
	if s == nil {
		return 0, errors.New("store not initialized")
	}
	var n int
	err := s.DB.QueryRow(`SELECT COUNT(DISTINCT frame) FROM frame_results WHERE run_id=?;`, runID).Scan(&n)
	return n, err
}
