package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/api/dto"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/storage"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Queues a job for the worker to poll
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	record, err := h.jobs.Enqueue(c.Request.Context(), storage.NewJob{
		ClientID:            req.ClientID,
		ActionConfiguration: req.ActionConfiguration,
		InputArtifacts:      fromArtifactDTOs(req.InputArtifacts),
		OutputArtifacts:     fromArtifactDTOs(req.OutputArtifacts),
		ContinuationToken:   req.ContinuationToken,
		MaxAttempts:         req.MaxAttempts,
	})
	if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	resp, err := toJobDTO(record)
	if err != nil {
		h.logger.Error("Failed to encode job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode job",
		})
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	record, err := h.jobs.Get(c.Request.Context(), jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	resp, err := toJobDTO(record)
	if err != nil {
		h.logger.Error("Failed to encode job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to encode job",
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		ClientID: req.ClientID,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}
	if req.Status != "" {
		filter.Status = string(domain.ParseJobStatus(req.Status))
	}

	jobs, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, 0, len(jobs))
	for i := range jobs {
		job, err := toJobDTO(&jobs[i])
		if err != nil {
			h.logger.Error("Failed to encode job", slog.String("job_id", jobs[i].JobID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode job",
			})
			return
		}
		jobResponse = append(jobResponse, job)
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.Created(),
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

func toJobDTO(r *storage.JobRecord) (dto.JobDTO, error) {
	config, err := r.Config()
	if err != nil {
		return dto.JobDTO{}, err
	}
	inputs, outputs, err := r.Artifacts()
	if err != nil {
		return dto.JobDTO{}, err
	}

	return dto.JobDTO{
		JobID:               r.JobID,
		ClientID:            r.ClientID,
		Status:              r.Status,
		ActionConfiguration: config,
		InputArtifacts:      toArtifactDTOs(inputs),
		OutputArtifacts:     toArtifactDTOs(outputs),
		ContinuationToken:   r.ContinuationToken,
		Attempt:             r.Attempt,
		MaxAttempts:         r.MaxAttempts,
		ParentJobID:         r.ParentJobID,
		ExecutionSummary:    r.ExecutionSummary,
		ExternalExecutionID: r.ExternalExecutionID,
		PercentComplete:     r.PercentComplete,
		Revision:            r.Revision,
		ChangeIdentifier:    r.ChangeIdentifier,
		FailureType:         r.FailureType,
		FailureMessage:      r.FailureMessage,
		CreatedAt:           r.Created().Format(time.RFC3339),
		UpdatedAt:           r.Updated().Format(time.RFC3339),
	}, nil
}

func fromArtifactDTOs(in []dto.ArtifactDTO) []domain.Artifact {
	out := make([]domain.Artifact, 0, len(in))
	for _, a := range in {
		out = append(out, domain.Artifact(a))
	}
	return out
}

func toArtifactDTOs(in []domain.Artifact) []dto.ArtifactDTO {
	out := make([]dto.ArtifactDTO, 0, len(in))
	for _, a := range in {
		out = append(out, dto.ArtifactDTO(a))
	}
	return out
}
