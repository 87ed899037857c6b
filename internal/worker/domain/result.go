package domain

import "fmt"

// FailureType classifies why a job failed
type FailureType string

const (
	FailureTypeJobFailed           FailureType = "JobFailed"
	FailureTypeConfigurationError  FailureType = "ConfigurationError"
	FailureTypePermissionError     FailureType = "PermissionError"
	FailureTypeRevisionOutOfSync   FailureType = "RevisionOutOfSync"
	FailureTypeRevisionUnavailable FailureType = "RevisionUnavailable"
	FailureTypeSystemUnavailable   FailureType = "SystemUnavailable"
)

// Valid reports whether t is one of the known failure types
func (t FailureType) Valid() bool {
	switch t {
	case FailureTypeJobFailed, FailureTypeConfigurationError, FailureTypePermissionError,
		FailureTypeRevisionOutOfSync, FailureTypeRevisionUnavailable, FailureTypeSystemUnavailable:
		return true
	}
	return false
}

// FailureDetails describes a failed job
type FailureDetails struct {
	Type    FailureType `json:"type"`
	Message string      `json:"message"`
}

// ExecutionDetails describes the progress of a job
type ExecutionDetails struct {
	Summary             string `json:"summary,omitempty"`
	ExternalExecutionID string `json:"external_execution_id,omitempty"`
	PercentComplete     int    `json:"percent_complete"`
}

// CurrentRevision is the revision a job produced
type CurrentRevision struct {
	Revision         string `json:"revision"`
	ChangeIdentifier string `json:"change_identifier"`
}

// SuccessPayload is what gets reported for a successful job. A non-empty
// ContinuationToken means the job is not done yet and will be handed out again.
type SuccessPayload struct {
	ExecutionDetails  *ExecutionDetails
	CurrentRevision   *CurrentRevision
	ContinuationToken string
}

// ResultStatus is the outcome carried by a WorkResult
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "Success"
	ResultStatusFailure ResultStatus = "Failure"
)

// WorkResult is the outcome of processing a job. It holds exactly one of a
// success or failure payload; use the constructors to build one.
type WorkResult struct {
	jobID   string
	success *SuccessPayload
	failure *FailureDetails
}

// NewWorkResult builds a result from exactly one payload.
func NewWorkResult(jobID string, success *SuccessPayload, failure *FailureDetails) (*WorkResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is empty", ErrInvalidWorkResult)
	}
	if (success == nil) == (failure == nil) {
		return nil, fmt.Errorf("%w: exactly one of success or failure must be set", ErrInvalidWorkResult)
	}
	if failure != nil && !failure.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown failure type %q", ErrInvalidWorkResult, failure.Type)
	}
	if success != nil {
		if d := success.ExecutionDetails; d != nil && (d.PercentComplete < 0 || d.PercentComplete > 100) {
			return nil, fmt.Errorf("%w: percent complete %d out of range", ErrInvalidWorkResult, d.PercentComplete)
		}
		if r := success.CurrentRevision; r != nil && (r.Revision == "" || r.ChangeIdentifier == "") {
			return nil, fmt.Errorf("%w: current revision needs revision and change identifier", ErrInvalidWorkResult)
		}
	}
	return &WorkResult{jobID: jobID, success: success, failure: failure}, nil
}

// SucceededResult builds a success result
func SucceededResult(jobID string, payload SuccessPayload) (*WorkResult, error) {
	return NewWorkResult(jobID, &payload, nil)
}

// FailedResult builds a failure result
func FailedResult(jobID string, failureType FailureType, message string) (*WorkResult, error) {
	return NewWorkResult(jobID, nil, &FailureDetails{Type: failureType, Message: message})
}

// JobID returns the id of the job the result belongs to
func (r *WorkResult) JobID() string { return r.jobID }

// Status returns whether the result is a success or a failure
func (r *WorkResult) Status() ResultStatus {
	if r.success != nil {
		return ResultStatusSuccess
	}
	return ResultStatusFailure
}

// Success returns the success payload, or nil for a failure result
func (r *WorkResult) Success() *SuccessPayload { return r.success }

// Failure returns the failure details, or nil for a success result
func (r *WorkResult) Failure() *FailureDetails { return r.failure }
