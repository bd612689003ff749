package controller

import (
	"context"
	"strings"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/result"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// JudgeService is the part of the judge service used over HTTP.
type JudgeService interface {
	Judge(ctx context.Context, req model.SubmissionRequest) (result.JudgeResult, error)
	GetStatus(ctx context.Context, submissionKey string) (model.JudgeStatusResponse, error)
}

// LanguageCatalog resolves and lists supported languages.
type LanguageCatalog interface {
	Detect(filename string) (language.Descriptor, error)
	List() []language.Descriptor
}

// SubmitRequest is the body of a synchronous judge request. Language may be
// omitted when Filename carries a known extension.
type SubmitRequest struct {
	ProblemID int64  `json:"problem_id" binding:"required"`
	UserID    int64  `json:"user_id"`
	Language  string `json:"language"`
	Filename  string `json:"filename"`
	Source    string `json:"source" binding:"required"`
}

// SubmitResponse wraps the judge result with the submission key.
type SubmitResponse struct {
	SubmissionKey string `json:"submission_key"`
	result.JudgeResult
}

// JudgeController handles judge requests.
type JudgeController struct {
	svc       JudgeService
	languages LanguageCatalog
}

// NewJudgeController creates a new controller.
func NewJudgeController(svc JudgeService, languages LanguageCatalog) *JudgeController {
	return &JudgeController{svc: svc, languages: languages}
}

// Submit judges a submission synchronously and returns its verdict.
func (h *JudgeController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		if req.Filename == "" {
			response.Error(c, appErr.ValidationError("language", "required"))
			return
		}
		desc, err := h.languages.Detect(req.Filename)
		if err != nil {
			response.Error(c, err)
			return
		}
		lang = desc.ID
	}

	// Keys are minted here so no caller can reuse another submission's status key.
	key := uuid.NewString()
	res, err := h.svc.Judge(c.Request.Context(), model.SubmissionRequest{
		SubmissionKey: key,
		ProblemID:     req.ProblemID,
		UserID:        req.UserID,
		Language:      lang,
		Source:        req.Source,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, SubmitResponse{SubmissionKey: key, JudgeResult: res})
}

// GetStatus returns status for one submission.
func (h *JudgeController) GetStatus(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		response.BadRequest(c, "Invalid submission key")
		return
	}
	status, err := h.svc.GetStatus(c.Request.Context(), key)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}

// ListLanguages returns the supported languages.
func (h *JudgeController) ListLanguages(c *gin.Context) {
	response.Success(c, h.languages.List())
}
