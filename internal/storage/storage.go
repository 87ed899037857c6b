package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

const jobColumns = `
	job_id, client_id, status, nonce, action_configuration, input_artifacts,
	output_artifacts, continuation_token, attempt, max_attempts, parent_job_id,
	ack_deadline, execution_summary, external_execution_id, percent_complete,
	revision, change_identifier, failure_type, failure_message, created_at, updated_at`

// statuses as plain strings for query arguments
const (
	statusQueued     = string(domain.JobStatusQueued)
	statusDispatched = string(domain.JobStatusDispatched)
	statusInProgress = string(domain.JobStatusInProgress)
)

// Options tunes the job table semantics
type Options struct {
	// LeaseDuration is how long a polled job waits for its acknowledgement
	// before it can be handed out again
	LeaseDuration time.Duration
	// MaxAttempts is the default attempt budget of enqueued jobs
	MaxAttempts int
	// Now overrides the clock, for tests
	Now func() time.Time
}

// Storage is a job source backed by the worker_jobs table. It works on both
// PostgreSQL and SQLite.
type Storage struct {
	db          *sqlx.DB
	logger      *slog.Logger
	lease       time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger, opts Options) *Storage {
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Storage{
		db:          db,
		logger:      logger,
		lease:       opts.LeaseDuration,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
	}
}

// Enqueue inserts a Queued job
func (s *Storage) Enqueue(ctx context.Context, job NewJob) (*JobRecord, error) {
	if job.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.maxAttempts
	}

	config, err := json.Marshal(nonNilMap(job.ActionConfiguration))
	if err != nil {
		return nil, fmt.Errorf("failed to encode action configuration: %w", err)
	}
	inputs, err := json.Marshal(nonNilArtifacts(job.InputArtifacts))
	if err != nil {
		return nil, fmt.Errorf("failed to encode input artifacts: %w", err)
	}
	outputs, err := json.Marshal(nonNilArtifacts(job.OutputArtifacts))
	if err != nil {
		return nil, fmt.Errorf("failed to encode output artifacts: %w", err)
	}

	now := s.now().UnixMilli()
	record := &JobRecord{
		JobID:               uuid.NewString(),
		ClientID:            job.ClientID,
		Status:              statusQueued,
		ActionConfiguration: string(config),
		InputArtifacts:      string(inputs),
		OutputArtifacts:     string(outputs),
		ContinuationToken:   job.ContinuationToken,
		Attempt:             1,
		MaxAttempts:         job.MaxAttempts,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := insertJob(ctx, s.db, record); err != nil {
		return nil, err
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", record.JobID),
		slog.String("client_id", record.ClientID),
	)
	return record, nil
}

// Get returns a job by id
func (s *Storage) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	return getJob(ctx, s.db, jobID)
}

// List returns up to PageSize+1 jobs, newest first, so callers can tell
// whether another page exists
func (s *Storage) List(ctx context.Context, filter JobFilter) ([]JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM worker_jobs WHERE 1=1`
	args := []interface{}{}

	if filter.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, filter.ClientID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Cursor != nil {
		query += " AND (created_at < ? OR (created_at = ? AND job_id < ?))"
		createdAt := filter.Cursor.CreatedAt.UnixMilli()
		args = append(args, createdAt, createdAt, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, job_id DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	var jobs []JobRecord
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Poll claims up to maxBatchSize jobs that are queued or whose previous
// dispatch was never acknowledged. Each claimed job gets a fresh nonce.
func (s *Storage) Poll(ctx context.Context, maxBatchSize int) ([]*domain.Job, error) {
	if maxBatchSize <= 0 {
		return nil, nil
	}

	now := s.now().UnixMilli()
	var candidates []string
	query := s.db.Rebind(`
		SELECT job_id FROM worker_jobs
		WHERE status = ? OR (status = ? AND ack_deadline < ?)
		ORDER BY created_at, job_id
		LIMIT ?`)
	err := s.db.SelectContext(ctx, &candidates, query,
		statusQueued, statusDispatched, now, maxBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select jobs: %w", err)
	}

	claim := s.db.Rebind(`
		UPDATE worker_jobs
		SET status = ?, nonce = ?, ack_deadline = ?, updated_at = ?
		WHERE job_id = ?
		  AND (status = ? OR (status = ? AND ack_deadline < ?))`)

	jobs := make([]*domain.Job, 0, len(candidates))
	for _, jobID := range candidates {
		nonce := uuid.NewString()
		result, err := s.db.ExecContext(ctx, claim,
			statusDispatched, nonce, now+s.lease.Milliseconds(), now,
			jobID, statusQueued, statusDispatched, now)
		if err != nil {
			return jobs, fmt.Errorf("failed to claim job %s: %w", jobID, err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			// claimed by another poller between select and update
			continue
		}

		record, err := getJob(ctx, s.db, jobID)
		if err != nil {
			return jobs, err
		}
		job, err := record.ToJob()
		if err != nil {
			s.logger.Error("Skipping job with undecodable data",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Acknowledge grants a dispatched job to the caller holding its current nonce.
// Stale nonces and lapsed leases come back as TimedOut; finished jobs report
// their final status.
func (s *Storage) Acknowledge(ctx context.Context, jobID, clientID, nonce string) (domain.JobStatus, error) {
	now := s.now().UnixMilli()
	query := s.db.Rebind(`
		UPDATE worker_jobs
		SET status = ?, updated_at = ?
		WHERE job_id = ? AND client_id = ? AND nonce = ? AND status = ? AND ack_deadline >= ?`)

	result, err := s.db.ExecContext(ctx, query,
		statusInProgress, now, jobID, clientID, nonce, statusDispatched, now)
	if err != nil {
		return "", fmt.Errorf("failed to acknowledge job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return domain.JobStatusInProgress, nil
	}

	record, err := getJob(ctx, s.db, jobID)
	if err != nil {
		return "", err
	}

	status := domain.ParseJobStatus(record.Status)
	if status.IsTerminal() {
		return status, nil
	}
	return domain.JobStatusTimedOut, nil
}

// ReportSuccess completes an in-progress job. A continuation token enqueues a
// follow-up job that carries it.
func (s *Storage) ReportSuccess(ctx context.Context, jobID, clientID string, details *domain.ExecutionDetails,
	revision *domain.CurrentRevision, continuationToken string) error {
	var d domain.ExecutionDetails
	if details != nil {
		d = *details
	}
	var r domain.CurrentRevision
	if revision != nil {
		r = *revision
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		record, err := s.finish(ctx, tx, jobID, clientID, domain.JobStatusSucceeded,
			`execution_summary = ?, external_execution_id = ?, percent_complete = ?, revision = ?, change_identifier = ?`,
			d.Summary, d.ExternalExecutionID, d.PercentComplete, r.Revision, r.ChangeIdentifier)
		if err != nil {
			return err
		}

		if continuationToken == "" {
			return nil
		}
		next := s.followUp(record)
		next.ContinuationToken = continuationToken
		if err := insertJob(ctx, tx, next); err != nil {
			return err
		}

		s.logger.Info("Continuation job enqueued",
			slog.String("job_id", next.JobID),
			slog.String("parent_job_id", jobID),
		)
		return nil
	})
}

// ReportFailure fails an in-progress job. SystemUnavailable failures are
// retried as a new job while attempts remain.
func (s *Storage) ReportFailure(ctx context.Context, jobID, clientID string, failure domain.FailureDetails) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		record, err := s.finish(ctx, tx, jobID, clientID, domain.JobStatusFailed,
			`failure_type = ?, failure_message = ?`,
			string(failure.Type), failure.Message)
		if err != nil {
			return err
		}

		if failure.Type != domain.FailureTypeSystemUnavailable || record.Attempt >= record.MaxAttempts {
			return nil
		}
		next := s.followUp(record)
		next.Attempt = record.Attempt + 1
		next.ContinuationToken = record.ContinuationToken
		if err := insertJob(ctx, tx, next); err != nil {
			return err
		}

		s.logger.Info("Retry job enqueued",
			slog.String("job_id", next.JobID),
			slog.String("parent_job_id", jobID),
			slog.Int("attempt", next.Attempt),
			slog.Int("max_attempts", next.MaxAttempts),
		)
		return nil
	})
}

// finish moves an in-progress job to a terminal status and returns the row
// as it was before the update
func (s *Storage) finish(ctx context.Context, tx *sqlx.Tx, jobID, clientID string, status domain.JobStatus,
	setClause string, setArgs ...interface{}) (*JobRecord, error) {
	record, err := getJob(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if record.ClientID != clientID || record.Status != statusInProgress {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobNotInProgress, jobID, record.Status)
	}

	query := tx.Rebind(`UPDATE worker_jobs SET status = ?, updated_at = ?, ` + setClause +
		` WHERE job_id = ? AND status = ?`)
	args := append([]interface{}{string(status), s.now().UnixMilli()}, setArgs...)
	args = append(args, jobID, statusInProgress)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: job %s changed concurrently", domain.ErrJobNotInProgress, jobID)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)
	return record, nil
}

// followUp builds a queued job that inherits parent's data
func (s *Storage) followUp(parent *JobRecord) *JobRecord {
	now := s.now().UnixMilli()
	return &JobRecord{
		JobID:               uuid.NewString(),
		ClientID:            parent.ClientID,
		Status:              statusQueued,
		ActionConfiguration: parent.ActionConfiguration,
		InputArtifacts:      parent.InputArtifacts,
		OutputArtifacts:     parent.OutputArtifacts,
		Attempt:             1,
		MaxAttempts:         parent.MaxAttempts,
		ParentJobID:         parent.JobID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", slog.String("error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func getJob(ctx context.Context, q sqlx.ExtContext, jobID string) (*JobRecord, error) {
	var record JobRecord
	query := q.Rebind(`SELECT ` + jobColumns + ` FROM worker_jobs WHERE job_id = ?`)
	if err := sqlx.GetContext(ctx, q, &record, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &record, nil
}

func insertJob(ctx context.Context, q sqlx.ExtContext, record *JobRecord) error {
	query := `INSERT INTO worker_jobs (` + jobColumns + `) VALUES (
		:job_id, :client_id, :status, :nonce, :action_configuration, :input_artifacts,
		:output_artifacts, :continuation_token, :attempt, :max_attempts, :parent_job_id,
		:ack_deadline, :execution_summary, :external_execution_id, :percent_complete,
		:revision, :change_identifier, :failure_type, :failure_message, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, q, query, record); err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilArtifacts(a []domain.Artifact) []domain.Artifact {
	if a == nil {
		return []domain.Artifact{}
	}
	return a
}
