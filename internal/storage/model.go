package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

// JobRecord is a row of the worker_jobs table. Timestamps are unix milliseconds
// so the same queries run on PostgreSQL and SQLite.
type JobRecord struct {
	JobID               string `db:"job_id"`
	ClientID            string `db:"client_id"`
	Status              string `db:"status"`
	Nonce               string `db:"nonce"`
	ActionConfiguration string `db:"action_configuration"`
	InputArtifacts      string `db:"input_artifacts"`
	OutputArtifacts     string `db:"output_artifacts"`
	ContinuationToken   string `db:"continuation_token"`
	Attempt             int    `db:"attempt"`
	MaxAttempts         int    `db:"max_attempts"`
	ParentJobID         string `db:"parent_job_id"`
	AckDeadline         int64  `db:"ack_deadline"`
	ExecutionSummary    string `db:"execution_summary"`
	ExternalExecutionID string `db:"external_execution_id"`
	PercentComplete     int    `db:"percent_complete"`
	Revision            string `db:"revision"`
	ChangeIdentifier    string `db:"change_identifier"`
	FailureType         string `db:"failure_type"`
	FailureMessage      string `db:"failure_message"`
	CreatedAt           int64  `db:"created_at"`
	UpdatedAt           int64  `db:"updated_at"`
}

// NewJob describes a job to enqueue
type NewJob struct {
	ClientID            string
	ActionConfiguration map[string]string
	InputArtifacts      []domain.Artifact
	OutputArtifacts     []domain.Artifact
	ContinuationToken   string
	// MaxAttempts bounds retries after SystemUnavailable failures; zero uses the store default
	MaxAttempts int
}

// JobFilter selects jobs for List
type JobFilter struct {
	ClientID string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor points at the last job of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// Created returns the creation time
func (r *JobRecord) Created() time.Time {
	return time.UnixMilli(r.CreatedAt).UTC()
}

// Updated returns the time of the last change
func (r *JobRecord) Updated() time.Time {
	return time.UnixMilli(r.UpdatedAt).UTC()
}

// Config decodes the action configuration
func (r *JobRecord) Config() (map[string]string, error) {
	config := map[string]string{}
	if err := json.Unmarshal([]byte(r.ActionConfiguration), &config); err != nil {
		return nil, fmt.Errorf("failed to decode action configuration: %w", err)
	}
	return config, nil
}

// Artifacts decodes the input and output artifacts
func (r *JobRecord) Artifacts() (inputs, outputs []domain.Artifact, err error) {
	if err := json.Unmarshal([]byte(r.InputArtifacts), &inputs); err != nil {
		return nil, nil, fmt.Errorf("failed to decode input artifacts: %w", err)
	}
	if err := json.Unmarshal([]byte(r.OutputArtifacts), &outputs); err != nil {
		return nil, nil, fmt.Errorf("failed to decode output artifacts: %w", err)
	}
	return inputs, outputs, nil
}

// ToJob converts the record to the job handed to a processor
func (r *JobRecord) ToJob() (*domain.Job, error) {
	config, err := r.Config()
	if err != nil {
		return nil, err
	}
	inputs, outputs, err := r.Artifacts()
	if err != nil {
		return nil, err
	}

	return &domain.Job{
		ID:       r.JobID,
		Nonce:    r.Nonce,
		ClientID: r.ClientID,
		Data: domain.JobData{
			ActionConfiguration: config,
			InputArtifacts:      inputs,
			OutputArtifacts:     outputs,
			ContinuationToken:   r.ContinuationToken,
		},
	}, nil
}
