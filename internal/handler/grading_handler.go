package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// GradingHandler handles teacher-side result review and manual evaluation.
type GradingHandler struct {
	gradingService *service.GradingService
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(gradingService *service.GradingService) *GradingHandler {
	return &GradingHandler{gradingService: gradingService}
}

// ListResults godoc
// GET /api/v1/teacher/exams/:exam_id/results
// Returns all submissions for an exam owned by the caller.
func (h *GradingHandler) ListResults(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	results, err := h.gradingService.Results(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		failGrading(c, err)
		return
	}

	if results == nil {
		results = []model.Submission{}
	}

	response.Success(c, http.StatusOK, gin.H{"results": results})
}

// GetSubmission godoc
// GET /api/v1/teacher/submissions/:submission_id
// Returns one submission with its answers and full warning log.
func (h *GradingHandler) GetSubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	detail, err := h.gradingService.SubmissionDetail(c.Request.Context(), claims.UserID, submissionID)
	if err != nil {
		failGrading(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": detail})
}

// EvaluateSubmission godoc
// PUT /api/v1/teacher/submissions/:submission_id/evaluation
// Replaces the heuristic short-answer scores with the teacher's and
// recomputes the total.
func (h *GradingHandler) EvaluateSubmission(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	submissionID, err := uuid.Parse(c.Param("submission_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.EvaluateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	sub, err := h.gradingService.Evaluate(c.Request.Context(), claims.UserID, submissionID, req.Scores)
	if err != nil {
		failGrading(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"submission": sub})
}

// failGrading maps grading errors onto response codes.
func failGrading(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotExamOwner):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotOwned)
	case errors.Is(err, service.ErrEvaluationInvalid), errors.Is(err, service.ErrNothingToEvaluate):
		response.Fail(c, http.StatusBadRequest, response.ErrEvaluationInvalid)
	default:
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	}
}
