package dto

// ArtifactDTO locates an artifact in S3
type ArtifactDTO struct {
	Name         string `json:"name" binding:"required"`
	Revision     string `json:"revision,omitempty"`
	S3BucketName string `json:"s3_bucket_name,omitempty"`
	S3ObjectKey  string `json:"s3_object_key,omitempty"`
}

type CreateJobRequest struct {
	ClientID            string            `json:"client_id" binding:"required"`
	ActionConfiguration map[string]string `json:"action_configuration"`
	InputArtifacts      []ArtifactDTO     `json:"input_artifacts" binding:"omitempty,dive"`
	OutputArtifacts     []ArtifactDTO     `json:"output_artifacts" binding:"omitempty,dive"`
	ContinuationToken   string            `json:"continuation_token"`
	MaxAttempts         int               `json:"max_attempts" binding:"omitempty,gte=1,lte=10"`
}

type ListJobsRequest struct {
	ClientID string `form:"client_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID               string            `json:"job_id"`
	ClientID            string            `json:"client_id"`
	Status              string            `json:"status"`
	ActionConfiguration map[string]string `json:"action_configuration"`
	InputArtifacts      []ArtifactDTO     `json:"input_artifacts"`
	OutputArtifacts     []ArtifactDTO     `json:"output_artifacts"`
	ContinuationToken   string            `json:"continuation_token,omitempty"`
	Attempt             int               `json:"attempt"`
	MaxAttempts         int               `json:"max_attempts"`
	ParentJobID         string            `json:"parent_job_id,omitempty"`
	ExecutionSummary    string            `json:"execution_summary,omitempty"`
	ExternalExecutionID string            `json:"external_execution_id,omitempty"`
	PercentComplete     int               `json:"percent_complete"`
	Revision            string            `json:"revision,omitempty"`
	ChangeIdentifier    string            `json:"change_identifier,omitempty"`
	FailureType         string            `json:"failure_type,omitempty"`
	FailureMessage      string            `json:"failure_message,omitempty"`
	CreatedAt           string            `json:"created_at"`
	UpdatedAt           string            `json:"updated_at"`
}

// HealthResponse reports the outcome of every health check
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// StatusResponse describes the running worker
type StatusResponse struct {
	WorkerID    string `json:"worker_id"`
	Source      string `json:"source"`
	ActionType  string `json:"action_type,omitempty"`
	PoolSize    int    `json:"pool_size"`
	ActiveTasks int    `json:"active_tasks"`
	Uptime      string `json:"uptime"`
}
