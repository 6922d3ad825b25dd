package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flowledger/flowledger/internal/queue"
)

// DeadLetterHandler lets operators inspect and drain the dead letter queue
type DeadLetterHandler struct {
	deadLetters *queue.DeadLetterQueue
}

// NewDeadLetterHandler creates a dead letter handler
func NewDeadLetterHandler(deadLetters *queue.DeadLetterQueue) *DeadLetterHandler {
	return &DeadLetterHandler{deadLetters: deadLetters}
}

// ListDeadLetters returns the newest records without removing them
func (h *DeadLetterHandler) ListDeadLetters(c *gin.Context) {
	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 || parsed > 500 {
			BadRequestResponse(c, "limit must be an integer between 1 and 500")
			return
		}
		limit = parsed
	}

	ctx := c.Request.Context()

	depth, err := h.deadLetters.Len(ctx)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	records, err := h.deadLetters.Peek(ctx, limit)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, gin.H{
		"depth":   depth,
		"records": records,
	})
}

// PopDeadLetter removes and returns the oldest record, for requeueing
// after the underlying fault is fixed
func (h *DeadLetterHandler) PopDeadLetter(c *gin.Context) {
	record, err := h.deadLetters.PopOldest(c.Request.Context())
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	if record == nil {
		NotFoundResponse(c, "Dead letter queue is empty")
		return
	}

	SuccessResponse(c, record)
}
