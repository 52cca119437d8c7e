package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowkit/stage-runner/internal/history"
	"github.com/flowkit/stage-runner/internal/runner/domain"
)

// CreateInvocation handles POST /api/v1/invocations
// Runs one invocation synchronously and returns the response envelope.
// The HTTP status is always 200 for a processed envelope; callers
// distinguish success from failure via the response status field.
func (h *InvocationHandler) CreateInvocation(c *gin.Context) {
	var inv domain.Invocation
	if err := c.ShouldBindJSON(&inv); err != nil {
		h.logger.Warn("Invalid invocation body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, domain.NewErrorResponse(
			"invalid request body: "+err.Error(),
			domain.ErrorTypeValidation,
			nil,
		))
		return
	}

	h.logger.Info("CreateInvocation called",
		slog.String("job_id", inv.JobID),
	)

	start := time.Now()
	resp := h.runner.Run(c.Request.Context(), &inv)
	elapsed := time.Since(start)

	if h.history != nil {
		if err := h.history.RecordRun(c.Request.Context(), &inv, resp, elapsed); err != nil {
			h.logger.Warn("Failed to record run",
				slog.String("job_id", inv.JobID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.JSON(http.StatusOK, resp)
}

// GetRun handles GET /api/v1/invocations/:job_id
// Retrieves the recorded outcome of a previous invocation.
func (h *InvocationHandler) GetRun(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "run history is not configured",
		})
		return
	}

	run, err := h.history.GetRun(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "run not found",
			})
			return
		}
		h.logger.Error("Failed to get run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get run",
		})
		return
	}

	c.JSON(http.StatusOK, run)
}
