package controller

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cosc121od/pycode/internal/grading/backup"
	"github.com/cosc121od/pycode/internal/grading/model"
	"github.com/cosc121od/pycode/internal/grading/service"
	"github.com/cosc121od/pycode/pkg/utils/response"
)

// GradingService is the service surface used by the HTTP handlers.
type GradingService interface {
	Grade(ctx context.Context, req service.GradeRequest) (*service.GradeResponse, error)
	Feedback(ctx context.Context, submissionID string) (*service.GradeResponse, error)
	Examples(ctx context.Context, questionID int64) (model.Examples, error)
	Export(ctx context.Context, questionID int64) ([]backup.Record, error)
	ExportArchive(ctx context.Context, questionID int64) (string, error)
	Import(ctx context.Context, questionID int64, records []backup.Record) ([]model.TestCase, error)
	Archives(ctx context.Context, questionID int64) ([]service.Archive, error)
	ImportArchive(ctx context.Context, questionID int64, objectKey string) ([]model.TestCase, error)
}

// GradingController handles grading HTTP endpoints.
type GradingController struct {
	gradingService GradingService
}

// NewGradingController creates a new GradingController.
func NewGradingController(gradingService GradingService) *GradingController {
	return &GradingController{gradingService: gradingService}
}

// RegisterRoutes mounts the grading API on group. Test case management is
// guarded by hostAuth when it is set.
func (h *GradingController) RegisterRoutes(group gin.IRouter, hostAuth gin.HandlerFunc) {
	group.POST("/questions/:id/submissions", h.Submit)
	group.GET("/submissions/:id/feedback", h.GetFeedback)
	group.GET("/questions/:id/examples", h.GetExamples)

	manage := group.Group("/questions/:id")
	if hostAuth != nil {
		manage.Use(hostAuth)
	}
	manage.GET("/export", h.Export)
	manage.POST("/export/archive", h.ExportArchive)
	manage.POST("/import", h.Import)
	manage.GET("/archives", h.ListArchives)
	manage.POST("/import/archive", h.ImportArchive)
}

// Submit grades a submission and returns its verdict and feedback.
func (h *GradingController) Submit(c *gin.Context) {
	questionID, ok := questionParam(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	resp, err := h.gradingService.Grade(c.Request.Context(), service.GradeRequest{
		SubmissionID: req.SubmissionID,
		QuestionID:   questionID,
		Language:     req.Language,
		Code:         req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// GetFeedback rebuilds the feedback of a stored submission.
func (h *GradingController) GetFeedback(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	resp, err := h.gradingService.Feedback(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// GetExamples returns the examples block of a question.
func (h *GradingController) GetExamples(c *gin.Context) {
	questionID, ok := questionParam(c)
	if !ok {
		return
	}
	examples, err := h.gradingService.Examples(c.Request.Context(), questionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, examples)
}

// Export returns the test cases of a question as backup records.
func (h *GradingController) Export(c *gin.Context) {
	questionID, ok := questionParam(c)
	if !ok {
		return
	}
	records, err := h.gradingService.Export(c.Request.Context(), questionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ExportResponse{QuestionID: questionID, Records: records})
}

// ExportArchive stores a compressed backup in object storage.
func (h *GradingController) ExportArchive(c *gin.Context) {
	questionID, ok := questionParam(c)
	if !ok {
		return
	}
	key, err := h.gradingService.ExportArchive(c.Request.Context(), questionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ArchiveResponse{QuestionID: questionID, ObjectKey: key})
}

// Import replaces the test cases of a question.
func (h *GradingController) Import(c *gin.Context) {
	questionID, ok := questionParam(c)
	if !ok {
		return
	}
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	cases, err := h.gradingService.Import(c.Request.Context(), questionID, req.Records)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ImportResponse{QuestionID: questionID, Imported: len(cases)})
}

// ListArchives returns the stored backups of a question with download links.
func (h *GradingController) ListArchives(c *gin.Context) {
	questionID, ok := questionParam(c)
	if !ok {
		return
	}
	archives, err := h.gradingService.Archives(c.Request.Context(), questionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ArchiveListResponse{QuestionID: questionID, Archives: archives})
}

// ImportArchive restores the test cases of a question from a stored backup.
func (h *GradingController) ImportArchive(c *gin.Context) {
	questionID, ok := questionParam(c)
	if !ok {
		return
	}
	var req ImportArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	cases, err := h.gradingService.ImportArchive(c.Request.Context(), questionID, req.ObjectKey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ImportResponse{QuestionID: questionID, Imported: len(cases)})
}

func questionParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "Invalid question id")
		return 0, false
	}
	return id, true
}

// SubmitRequest defines the submission payload.
type SubmitRequest struct {
	SubmissionID string `json:"submissionId"`
	Language     string `json:"language" binding:"required"`
	Code         string `json:"code"`
}

// ExportResponse carries the backup records of a question.
type ExportResponse struct {
	QuestionID int64           `json:"questionId"`
	Records    []backup.Record `json:"records"`
}

// ArchiveResponse names the stored backup object.
type ArchiveResponse struct {
	QuestionID int64  `json:"questionId"`
	ObjectKey  string `json:"objectKey"`
}

// ArchiveListResponse lists the stored backups of a question.
type ArchiveListResponse struct {
	QuestionID int64             `json:"questionId"`
	Archives   []service.Archive `json:"archives"`
}

// ImportArchiveRequest names the stored backup to restore.
type ImportArchiveRequest struct {
	ObjectKey string `json:"objectKey" binding:"required"`
}

// ImportRequest carries the records that replace a question's test cases.
type ImportRequest struct {
	Records []backup.Record `json:"records" binding:"required"`
}

// ImportResponse reports how many test cases were stored.
type ImportResponse struct {
	QuestionID int64 `json:"questionId"`
	Imported   int   `json:"imported"`
}
