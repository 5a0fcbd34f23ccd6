package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"
)

// ImportRun audits one load of reference data into the store.
type ImportRun struct {
	ID            int64
	StartedAt     time.Time
	FinishedAt    sql.NullTime
	Kind          string // "gauges", "climate"
	Source        string // file path or archive URL
	PayloadSHA256 string
	RecordsRead   sql.NullInt64
	RecordsStored sql.NullInt64
	Success       bool
	ErrorMessage  sql.NullString
}

// PayloadHash is the hex sha256 recorded against an import.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// StartImportRun creates a new import run record and returns it.
func (s *Store) StartImportRun(kind, source string, payload []byte) (*ImportRun, error) {
	run := &ImportRun{
		StartedAt:     time.Now().UTC(),
		Kind:          kind,
		Source:        source,
		PayloadSHA256: PayloadHash(payload),
	}

	result, err := s.db.Exec(`
		INSERT INTO import_runs (started_at, kind, source, payload_sha256, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Kind, run.Source, run.PayloadSHA256)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteImportRun records the outcome of run. A non-nil err marks it
// failed.
func (s *Store) CompleteImportRun(run *ImportRun, err error) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	run.Success = err == nil
	if err != nil {
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	}

	_, dbErr := s.db.Exec(`
		UPDATE import_runs SET
			finished_at = ?,
			records_read = ?,
			records_stored = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.RecordsRead, run.RecordsStored, run.Success, run.ErrorMessage, run.ID)
	if dbErr != nil {
		return dbErr
	}
	s.log.Info("import finished", "kind", run.Kind, "source", run.Source,
		"stored", run.RecordsStored.Int64, "success", run.Success)
	return nil
}

// AlreadyImported reports whether a payload with this hash was loaded
// successfully before.
func (s *Store) AlreadyImported(kind, sha string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM import_runs
		WHERE kind = ? AND payload_sha256 = ? AND success = TRUE
	`, kind, sha).Scan(&n)
	return n > 0, err
}

// RecentImportRuns returns the latest import runs, newest first.
func (s *Store) RecentImportRuns(limit int) ([]ImportRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, kind, source, payload_sha256,
			   records_read, records_stored, success, error_message
		FROM import_runs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ImportRun
	for rows.Next() {
		var r ImportRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Kind, &r.Source, &r.PayloadSHA256,
			&r.RecordsRead, &r.RecordsStored, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
