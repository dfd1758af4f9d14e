// Package history archives finished experiment runs to SQLite. The JSON
// state file holds the live working set; this store is the append-only
// record that survives state-file cleanup.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ttm-labs/ttm-orchestrator/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL,
	template TEXT NOT NULL,
	mode TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	elapsed_secs REAL NOT NULL,
	return_code INTEGER,
	result_folder TEXT,
	result_files_count INTEGER NOT NULL DEFAULT 0,
	files_moved TEXT,
	error_message TEXT,
	archived_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Run is one archived experiment run
type Run struct {
	ID               string
	ExperimentID     string
	Template         string
	Mode             string
	Status           string
	StartedAt        time.Time
	ElapsedSecs      float64
	ReturnCode       *int
	ResultFolder     string
	ResultFilesCount int
	FilesMoved       []string
	ErrorMessage     string
	ArchivedAt       time.Time
}

// Store provides SQLite-backed run archival
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Archive inserts a terminal record into the archive
func (s *Store) Archive(id domain.ExperimentID, rec *domain.ExperimentRecord) error {
	if !rec.Status.IsTerminal() {
		return fmt.Errorf("cannot archive non-terminal run %s (status %s)", id, rec.Status)
	}
	movedJSON, err := json.Marshal(rec.FilesMoved)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, experiment_id, template, mode, status, started_at, elapsed_secs, return_code, result_folder, result_files_count, files_moved, error_message, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(),
		id.String(),
		rec.Template,
		string(rec.Mode),
		string(rec.Status),
		rec.StartTime,
		rec.ElapsedSeconds,
		rec.ReturnCode,
		rec.ResultFolder,
		rec.ResultFilesCount,
		string(movedJSON),
		rec.Error,
		time.Now(),
	)
	return err
}

// List returns the most recent archived runs, newest first
func (s *Store) List(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, experiment_id, template, mode, status, started_at, elapsed_secs, return_code, result_folder, result_files_count, files_moved, error_message, archived_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ByExperiment returns archived runs for one experiment ID
func (s *Store) ByExperiment(id domain.ExperimentID) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT id, experiment_id, template, mode, status, started_at, elapsed_secs, return_code, result_folder, result_files_count, files_moved, error_message, archived_at
		FROM runs WHERE experiment_id = ? ORDER BY started_at DESC
	`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var run Run
	var returnCode sql.NullInt64
	var movedJSON, resultFolder, errorMessage sql.NullString

	err := rows.Scan(&run.ID, &run.ExperimentID, &run.Template, &run.Mode, &run.Status,
		&run.StartedAt, &run.ElapsedSecs, &returnCode, &resultFolder,
		&run.ResultFilesCount, &movedJSON, &errorMessage, &run.ArchivedAt)
	if err != nil {
		return nil, err
	}

	if returnCode.Valid {
		rc := int(returnCode.Int64)
		run.ReturnCode = &rc
	}
	run.ResultFolder = resultFolder.String
	run.ErrorMessage = errorMessage.String
	if movedJSON.Valid && movedJSON.String != "" {
		if err := json.Unmarshal([]byte(movedJSON.String), &run.FilesMoved); err != nil {
			return nil, fmt.Errorf("decoding files_moved: %w", err)
		}
	}
	return &run, nil
}
