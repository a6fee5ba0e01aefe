package sqlite

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"reviewclassifier/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id                 TEXT PRIMARY KEY,
		started_at         DATETIME NOT NULL,
		finished_at        DATETIME,
		strategy           TEXT NOT NULL,
		model              TEXT DEFAULT '',
		prompt_fingerprint TEXT DEFAULT '',
		input_path         TEXT DEFAULT '',
		records            INTEGER DEFAULT 0,
		chunks             INTEGER DEFAULT 0,
		chunks_failed      INTEGER DEFAULT 0,
		status             TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS jobs (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id         TEXT NOT NULL,
		chunk_index    INTEGER NOT NULL,
		records        INTEGER DEFAULT 0,
		job_id         TEXT DEFAULT '',
		input_file_id  TEXT DEFAULT '',
		output_file_id TEXT DEFAULT '',
		status         TEXT DEFAULT '',
		error          TEXT DEFAULT '',
		updated_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(run_id, chunk_index)
	);

	CREATE TABLE IF NOT EXISTS classifications (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL,
		record_id  INTEGER NOT NULL,
		food       TEXT NOT NULL,
		service    TEXT NOT NULL,
		atmosphere TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		error      TEXT DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_classifications_run ON classifications(run_id);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func InsertRun(db *sql.DB, run domain.Run) error {
	_, err := db.Exec(
		`INSERT INTO runs (id, started_at, strategy, model, prompt_fingerprint, input_path, records, chunks, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.Strategy, run.Model, run.PromptFingerprint,
		run.InputPath, run.Records, run.Chunks, string(run.Status),
	)
	return err
}

func FinishRun(db *sql.DB, run domain.Run) error {
	finished := run.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err := db.Exec(
		`UPDATE runs SET finished_at = ?, records = ?, chunks = ?, chunks_failed = ?, status = ? WHERE id = ?`,
		finished, run.Records, run.Chunks, run.ChunksFailed, string(run.Status), run.ID,
	)
	return err
}

func GetRun(db *sql.DB, id string) (domain.Run, error) {
	var run domain.Run
	var finished sql.NullTime
	var status string
	err := db.QueryRow(
		`SELECT id, started_at, finished_at, strategy, model, prompt_fingerprint, input_path, records, chunks, chunks_failed, status
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.StartedAt, &finished, &run.Strategy, &run.Model, &run.PromptFingerprint,
		&run.InputPath, &run.Records, &run.Chunks, &run.ChunksFailed, &status)
	if err != nil {
		return domain.Run{}, err
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	run.Status = domain.RunStatus(status)
	return run, nil
}

// UpsertJob stores the latest known state of a chunk's job.
func UpsertJob(db *sql.DB, runID string, rec domain.ChunkRecord) error {
	var jobID, inputFileID, outputFileID, status, errText string
	if rec.Job != nil {
		jobID = rec.Job.ID
		inputFileID = rec.Job.InputFileID
		outputFileID = rec.Job.OutputFileID
		status = string(rec.Job.Status)
	}
	if rec.Err != nil {
		errText = rec.Err.Error()
	}
	_, err := db.Exec(
		`INSERT INTO jobs (run_id, chunk_index, records, job_id, input_file_id, output_file_id, status, error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, chunk_index) DO UPDATE SET
			records = excluded.records,
			job_id = CASE WHEN excluded.job_id != '' THEN excluded.job_id ELSE jobs.job_id END,
			input_file_id = CASE WHEN excluded.input_file_id != '' THEN excluded.input_file_id ELSE jobs.input_file_id END,
			output_file_id = excluded.output_file_id,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		runID, rec.ChunkIndex, rec.Records, jobID, inputFileID, outputFileID, status, errText, time.Now(),
	)
	return err
}

// JobRow is a stored chunk job; Error is the last recorded failure text.
type JobRow struct {
	ChunkIndex   int
	Records      int
	JobID        string
	InputFileID  string
	OutputFileID string
	Status       domain.JobStatus
	Error        string
}

func GetJobsByRun(db *sql.DB, runID string) ([]JobRow, error) {
	rows, err := db.Query(
		`SELECT chunk_index, records, job_id, input_file_id, output_file_id, status, error
		 FROM jobs WHERE run_id = ? ORDER BY chunk_index`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRow
	for rows.Next() {
		var j JobRow
		var status string
		if err := rows.Scan(&j.ChunkIndex, &j.Records, &j.JobID, &j.InputFileID, &j.OutputFileID, &status, &j.Error); err != nil {
			return nil, err
		}
		j.Status = domain.JobStatus(status)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func InsertClassifications(db *sql.DB, runID string, annotated []domain.Annotated) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO classifications (run_id, record_id, food, service, atmosphere, outcome, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range annotated {
		c := a.Result.Classification
		var errText string
		if a.Result.Err != nil {
			errText = a.Result.Err.Error()
		}
		if _, err := stmt.Exec(runID, a.Record.ID, string(c.Food), string(c.Service), string(c.Atmosphere),
			string(a.Result.Outcome), errText); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// StoredClassification is one persisted record result.
type StoredClassification struct {
	RecordID       int
	Classification domain.Classification
	Outcome        domain.Outcome
	Error          string
}

func GetClassificationsByRun(db *sql.DB, runID string) ([]StoredClassification, error) {
	rows, err := db.Query(
		`SELECT record_id, food, service, atmosphere, outcome, error
		 FROM classifications WHERE run_id = ? ORDER BY record_id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredClassification
	for rows.Next() {
		var s StoredClassification
		var food, service, atmosphere, outcome string
		if err := rows.Scan(&s.RecordID, &food, &service, &atmosphere, &outcome, &s.Error); err != nil {
			return nil, err
		}
		s.Classification = domain.Classification{
			Food:       domain.Label(food),
			Service:    domain.Label(service),
			Atmosphere: domain.Label(atmosphere),
		}
		s.Outcome = domain.Outcome(outcome)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ledger adapts the package functions to the pipeline's run ledger.
type Ledger struct {
	DB *sql.DB
}

func (l *Ledger) StartRun(run domain.Run) error {
	return InsertRun(l.DB, run)
}

func (l *Ledger) RecordJob(runID string, rec domain.ChunkRecord) error {
	return UpsertJob(l.DB, runID, rec)
}

func (l *Ledger) FinishRun(run domain.Run, annotated []domain.Annotated) error {
	if err := FinishRun(l.DB, run); err != nil {
		return err
	}
	return InsertClassifications(l.DB, run.ID, annotated)
}
