package storage

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS worker_jobs (
		job_id                TEXT PRIMARY KEY,
		client_id             TEXT NOT NULL,
		status                TEXT NOT NULL,
		nonce                 TEXT NOT NULL DEFAULT '',
		action_configuration  TEXT NOT NULL DEFAULT '{}',
		input_artifacts       TEXT NOT NULL DEFAULT '[]',
		output_artifacts      TEXT NOT NULL DEFAULT '[]',
		continuation_token    TEXT NOT NULL DEFAULT '',
		attempt               INTEGER NOT NULL DEFAULT 1,
		max_attempts          INTEGER NOT NULL DEFAULT 1,
		parent_job_id         TEXT NOT NULL DEFAULT '',
		ack_deadline          BIGINT NOT NULL DEFAULT 0,
		execution_summary     TEXT NOT NULL DEFAULT '',
		external_execution_id TEXT NOT NULL DEFAULT '',
		percent_complete      INTEGER NOT NULL DEFAULT 0,
		revision              TEXT NOT NULL DEFAULT '',
		change_identifier     TEXT NOT NULL DEFAULT '',
		failure_type          TEXT NOT NULL DEFAULT '',
		failure_message       TEXT NOT NULL DEFAULT '',
		created_at            BIGINT NOT NULL,
		updated_at            BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_worker_jobs_status_created ON worker_jobs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_worker_jobs_client_created ON worker_jobs (client_id, created_at)`,
}

// Migrate creates the worker_jobs table and its indexes if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}
