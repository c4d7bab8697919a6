package controller

import (
	"context"
	"strconv"

	"judgeflow/internal/common/http/middleware"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/service"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

type Submitter interface {
	Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResponse, error)
}

type StatusReader interface {
	GetStatus(ctx context.Context, submissionID string) (model.SubmissionResult, error)
}

// SubmitController handles submission intake and status polls.
type SubmitController struct {
	submitter Submitter
	status    StatusReader
}

func NewSubmitController(submitter Submitter, status StatusReader) *SubmitController {
	return &SubmitController{submitter: submitter, status: status}
}

// SubmitRequest is the intake payload.
type SubmitRequest struct {
	Code          string `json:"code" binding:"required"`
	Language      string `json:"language" binding:"required"`
	ProblemID     int64  `json:"problem_id" binding:"required"`
	ContestID     *int64 `json:"contest_id"`
	ContestNameID string `json:"contest_name_id"`
	OrgID         *int64 `json:"org_id"`
}

// Create handles POST /submissions.
func (h *SubmitController) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "")
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}

	resp, err := h.submitter.Submit(c.Request.Context(), service.SubmitRequest{
		UserID:    userID,
		Code:      req.Code,
		Language:  req.Language,
		ProblemID: req.ProblemID,
		Contest: model.ContestRef{
			ContestID:     req.ContestID,
			ContestNameID: req.ContestNameID,
			OrgID:         req.OrgID,
		},
	})
	if err != nil {
		setRetryAfter(c, err)
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// GetStatus handles GET /submissions/:id.
func (h *SubmitController) GetStatus(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	view, err := h.status.GetStatus(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

func setRetryAfter(c *gin.Context, err error) {
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		return
	}
	if secs, ok := appErr.GetError(err).Details["retry_after"].(int); ok {
		c.Header("Retry-After", strconv.Itoa(secs))
	}
}
