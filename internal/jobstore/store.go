package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/reconflow/reconflow/internal/database"
	"github.com/reconflow/reconflow/internal/model"
)

// timeFormat is how timestamps are written to SQLite. Millisecond precision
// keeps per-module duration analysis meaningful for short jobs.
const timeFormat = "2006-01-02 15:04:05.999"

// Store persists pipeline runs and module jobs in SQLite.
type Store struct {
	db *sql.DB
}

// New creates a Store on the given connection and ensures its schema.
func New(conn *sql.DB) (*Store, error) {
	s := &Store{db: conn}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create job store schema: %w", err)
	}
	return s, nil
}

// createTables creates the job store schema if it doesn't exist.
func (s *Store) createTables() error {
	schema := `
	-- One row per pipeline run. The run has no status column of its own;
	-- the aggregate status is always derived from module_jobs.
	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		requested_modules TEXT NOT NULL,
		resolved_modules TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- One row per (run, resolved module).
	CREATE TABLE IF NOT EXISTS module_jobs (
		id TEXT PRIMARY KEY,
		pipeline_run_id TEXT NOT NULL,
		module_name TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		error TEXT NOT NULL DEFAULT '',
		UNIQUE(pipeline_run_id, module_name)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_run ON module_jobs(pipeline_run_id);

	-- Append-only audit of every status transition.
	CREATE TABLE IF NOT EXISTS job_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_job ON job_transitions(job_id);
	`

	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// CreateRun creates a pipeline run and one pending module job per resolved
// module in a single transaction. Either the run and all of its jobs exist
// afterwards, or none of them do; no partial state is ever visible.
func (s *Store) CreateRun(ctx context.Context, target string, requested, resolved []string) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:               uuid.NewString(),
		Target:           target,
		RequestedModules: requested,
		ResolvedModules:  resolved,
		CreatedAt:        time.Now().UTC(),
	}

	requestedJSON, err := json.Marshal(requested)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize requested modules: %w", err)
	}
	resolvedJSON, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize resolved modules: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, target, requested_modules, resolved_modules, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Target, string(requestedJSON), string(resolvedJSON), run.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pipeline run: %w", err)
	}

	for _, module := range resolved {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO module_jobs (id, pipeline_run_id, module_name, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.NewString(), run.ID, module, model.JobPending, run.CreatedAt.Format(timeFormat),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert job for module %q: %w", module, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run creation: %w", err)
	}
	return run, nil
}

// Create inserts a single pending job for a module in an existing run.
// CreateRun is the normal path; this exists for adding a late job to a run
// (e.g., a re-launched module) while preserving the uniqueness invariant.
func (s *Store) Create(ctx context.Context, runID, moduleName string) (*model.ModuleJob, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	job := &model.ModuleJob{
		ID:            uuid.NewString(),
		PipelineRunID: runID,
		ModuleName:    moduleName,
		Status:        model.JobPending,
		CreatedAt:     time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO module_jobs (id, pipeline_run_id, module_name, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.PipelineRunID, job.ModuleName, job.Status, job.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		// The UNIQUE(pipeline_run_id, module_name) constraint is the only
		// way this insert fails on a healthy database.
		if existing, getErr := s.FindJob(ctx, runID, moduleName); getErr == nil && existing != nil {
			return nil, fmt.Errorf("%w: run %s module %q", ErrDuplicateJob, runID, moduleName)
		}
		return nil, fmt.Errorf("failed to insert module job: %w", err)
	}
	return job, nil
}

// Transition moves a job to a new status, enforcing the state machine.
//
// The update is guarded on the expected current status, so two concurrent
// writers cannot both succeed: the loser's guarded update matches zero rows
// and it receives ErrInvalidTransition. The audit row is written in the
// same transaction as the status change.
func (s *Store) Transition(ctx context.Context, jobID string, next model.JobStatus, errMsg string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if !job.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, job.Status, next, jobID)
	}

	now := time.Now().UTC().Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	var result sql.Result
	switch {
	case next == model.JobRunning:
		result, err = tx.ExecContext(ctx,
			`UPDATE module_jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			next, now, jobID, job.Status,
		)
	case next.IsTerminal():
		result, err = tx.ExecContext(ctx,
			`UPDATE module_jobs SET status = ?, completed_at = ?, error = ? WHERE id = ? AND status = ?`,
			next, now, errMsg, jobID, job.Status,
		)
	default:
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, job.Status, next, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		// Lost a race: the status changed between read and update.
		return fmt.Errorf("%w: %s -> %s (job %s, concurrent update)", ErrInvalidTransition, job.Status, next, jobID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO job_transitions (job_id, from_status, to_status, error, at) VALUES (?, ?, ?, ?, ?)`,
		jobID, job.Status, next, errMsg, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

// Get retrieves a module job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*model.ModuleJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_run_id, module_name, status, created_at, started_at, completed_at, error
		 FROM module_jobs WHERE id = ?`, jobID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module job: %w", err)
	}
	return job, nil
}

// FindJob retrieves a job by its (run, module) pair.
func (s *Store) FindJob(ctx context.Context, runID, moduleName string) (*model.ModuleJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline_run_id, module_name, status, created_at, started_at, completed_at, error
		 FROM module_jobs WHERE pipeline_run_id = ? AND module_name = ?`, runID, moduleName)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: run %s module %q", ErrJobNotFound, runID, moduleName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find module job: %w", err)
	}
	return job, nil
}

// ListByRun returns all jobs of a run ordered by module name.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*model.ModuleJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline_run_id, module_name, status, created_at, started_at, completed_at, error
		 FROM module_jobs WHERE pipeline_run_id = ? ORDER BY module_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.ModuleJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetRun retrieves a pipeline run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*model.PipelineRun, error) {
	var (
		run           model.PipelineRun
		requestedJSON string
		resolvedJSON  string
		createdAt     string
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, target, requested_modules, resolved_modules, created_at FROM pipeline_runs WHERE id = ?`,
		runID,
	).Scan(&run.ID, &run.Target, &requestedJSON, &resolvedJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline run: %w", err)
	}

	if err := json.Unmarshal([]byte(requestedJSON), &run.RequestedModules); err != nil {
		return nil, fmt.Errorf("failed to parse requested modules: %w", err)
	}
	if err := json.Unmarshal([]byte(resolvedJSON), &run.ResolvedModules); err != nil {
		return nil, fmt.Errorf("failed to parse resolved modules: %w", err)
	}
	run.CreatedAt = database.ParseTimestamp(createdAt)
	return &run, nil
}

// TransitionRecord is one audit entry of a job's status history.
type TransitionRecord struct {
	// JobID identifies the job the transition belongs to.
	JobID string

	// From and To are the statuses before and after the transition.
	From model.JobStatus
	To   model.JobStatus

	// Error holds the failure detail carried with the transition, if any.
	Error string

	// At is when the transition was recorded.
	At time.Time
}

// Transitions returns the audit history of a job in chronological order.
func (s *Store) Transitions(ctx context.Context, jobID string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, from_status, to_status, error, at FROM job_transitions WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var (
			rec TransitionRecord
			at  string
		)
		if err := rows.Scan(&rec.JobID, &rec.From, &rec.To, &rec.Error, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		rec.At = database.ParseTimestamp(at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanJob.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob reads one module_jobs row into a ModuleJob.
func scanJob(row rowScanner) (*model.ModuleJob, error) {
	var (
		job         model.ModuleJob
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)

	err := row.Scan(&job.ID, &job.PipelineRunID, &job.ModuleName, &job.Status,
		&createdAt, &startedAt, &completedAt, &job.Error)
	if err != nil {
		return nil, err
	}

	job.CreatedAt = database.ParseTimestamp(createdAt)
	if startedAt.Valid && startedAt.String != "" {
		t := database.ParseTimestamp(startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid && completedAt.String != "" {
		t := database.ParseTimestamp(completedAt.String)
		job.CompletedAt = &t
	}
	return &job, nil
}
