package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowledger/flowledger/internal/jobstate"
)

// JobHandler exposes the job execution lifecycle, checkpointing, health,
// and recovery. External workers drive their executions through these
// endpoints; the watchers and auto-recovery run inside the manager.
type JobHandler struct {
	manager *jobstate.Manager
}

// NewJobHandler creates a job handler
func NewJobHandler(manager *jobstate.Manager) *JobHandler {
	return &JobHandler{manager: manager}
}

// StartExecution opens a new execution record for the job
func (h *JobHandler) StartExecution(c *gin.Context) {
	exec, err := h.manager.StartExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	CreatedResponse(c, exec)
}

// UpdateProgressRequest carries absolute progress counters for the
// running execution
type UpdateProgressRequest struct {
	ItemsProcessed  int64   `json:"items_processed" binding:"min=0"`
	ItemsFailed     int64   `json:"items_failed" binding:"min=0"`
	AvgProcessingMS int64   `json:"avg_processing_ms" binding:"min=0"`
	IntegrityScore  float64 `json:"integrity_score" binding:"min=0,max=1"`
}

// UpdateProgress updates the running execution's counters
func (h *JobHandler) UpdateProgress(c *gin.Context) {
	var req UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	err := h.manager.UpdateProgress(c.Request.Context(), c.Param("id"),
		req.ItemsProcessed, req.ItemsFailed,
		time.Duration(req.AvgProcessingMS)*time.Millisecond,
		req.IntegrityScore)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{"job_id": c.Param("id")})
}

// FinishExecutionRequest closes an execution with a terminal status
type FinishExecutionRequest struct {
	Status string `json:"status" binding:"required,oneof=COMPLETED FAILED STOPPED"`
}

// FinishExecution closes the job's running execution
func (h *JobHandler) FinishExecution(c *gin.Context) {
	var req FinishExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	err := h.manager.FinishExecution(c.Request.Context(), c.Param("id"), jobstate.ExecutionStatus(req.Status))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{
		"job_id": c.Param("id"),
		"status": req.Status,
	})
}

// CreateCheckpointRequest marks progress at a step boundary
type CreateCheckpointRequest struct {
	ExecutionID   string `json:"execution_id"`
	StepName      string `json:"step_name" binding:"required"`
	StepNumber    int    `json:"step_number" binding:"min=0"`
	DataProcessed int64  `json:"data_processed" binding:"min=0"`
	TotalData     int64  `json:"total_data" binding:"min=0"`
	State         string `json:"state" binding:"omitempty,oneof=STARTED COMPLETED FAILED PARTIAL"`
}

// CreateCheckpoint writes an immutable checkpoint for the job
func (h *JobHandler) CreateCheckpoint(c *gin.Context) {
	var req CreateCheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	cp, err := h.manager.CreateCheckpoint(c.Request.Context(), jobstate.Checkpoint{
		JobID:         c.Param("id"),
		ExecutionID:   req.ExecutionID,
		StepName:      req.StepName,
		StepNumber:    req.StepNumber,
		DataProcessed: req.DataProcessed,
		TotalData:     req.TotalData,
		State:         jobstate.CheckpointState(req.State),
	})
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	CreatedResponse(c, cp)
}

// GetHealth recomputes and returns the job's health snapshot
func (h *JobHandler) GetHealth(c *gin.Context) {
	status, err := h.manager.CheckHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	SuccessResponse(c, status)
}

// GetPrediction returns a failure risk estimate for the job. Jobs whose
// risk sits below the reporting floor yield no prediction.
func (h *JobHandler) GetPrediction(c *gin.Context) {
	prediction, err := h.manager.PredictFailure(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	if prediction == nil {
		SuccessResponse(c, gin.H{
			"job_id":  c.Param("id"),
			"message": "risk below reporting floor",
		})
		return
	}
	SuccessResponse(c, prediction)
}

// GenerateRecovery builds a recovery strategy from current health and the
// latest checkpoint without executing it. Healthy jobs need none.
func (h *JobHandler) GenerateRecovery(c *gin.Context) {
	strategy, err := h.manager.GenerateRecoveryStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	if strategy == nil {
		SuccessResponse(c, gin.H{
			"job_id":  c.Param("id"),
			"message": "job is healthy; no recovery required",
		})
		return
	}
	SuccessResponse(c, strategy)
}

// ExecuteRecovery generates a strategy and executes it in one call. A
// strategy that ran but could not recover comes back success=false with a
// 200; only infrastructure faults error.
func (h *JobHandler) ExecuteRecovery(c *gin.Context) {
	ctx := c.Request.Context()

	strategy, err := h.manager.GenerateRecoveryStrategy(ctx, c.Param("id"))
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	if strategy == nil {
		SuccessResponse(c, gin.H{
			"job_id":  c.Param("id"),
			"message": "job is healthy; no recovery required",
		})
		return
	}

	result, err := h.manager.ExecuteRecoveryStrategy(ctx, strategy)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{
		"strategy": strategy,
		"result":   result,
	})
}

// WatchJob starts periodic health monitoring for the job
func (h *JobHandler) WatchJob(c *gin.Context) {
	h.manager.WatchJob(c.Param("id"))
	SuccessResponse(c, gin.H{
		"job_id":  c.Param("id"),
		"watched": true,
	})
}

// UnwatchJob stops monitoring the job
func (h *JobHandler) UnwatchJob(c *gin.Context) {
	h.manager.UnwatchJob(c.Param("id"))
	SuccessResponse(c, gin.H{
		"job_id":  c.Param("id"),
		"watched": false,
	})
}
