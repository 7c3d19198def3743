package api

import (
	"encoding/json"
	"net/http"

	"testtrack/server/internal/testfiles"

	"github.com/gin-gonic/gin"
)

// multipart overhead allowed on top of the report itself
const formOverhead = 1 << 20

// UploadTestFile ingests a multipart report. On /upload/:id the upload
// replaces the content of an existing file.
func (h *Handler) UploadTestFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, testfiles.MaxUploadSize+formOverhead)

	header, err := c.FormFile("testFile")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "testFile is required and must be at most 5 MiB"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read testFile"})
		return
	}
	defer file.Close()

	id := c.Param("id")
	result, err := h.testFiles.Upload(c.Request.Context(), principal(c), testfiles.UploadInput{
		TestFileID:       id,
		SprintID:         c.PostForm("sprint_id"),
		Filename:         c.PostForm("filename"),
		OriginalFilename: header.Filename,
		ContentType:      header.Header.Get("Content-Type"),
		Size:             header.Size,
		Body:             file,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// CreateTestFileRequest creates a test file from inline JSON
type CreateTestFileRequest struct {
	Filename         string          `json:"filename" binding:"required,max=500"`
	OriginalFilename string          `json:"original_filename" binding:"max=500"`
	SprintID         string          `json:"sprint_id" binding:"required"`
	Content          json.RawMessage `json:"content" binding:"required"`
}

// CreateTestFile runs the ingestion pipeline on a JSON body
func (h *Handler) CreateTestFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, testfiles.MaxUploadSize+formOverhead)

	var req CreateTestFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	result, err := h.testFiles.Create(c.Request.Context(), principal(c), testfiles.CreateInput{
		SprintID:         req.SprintID,
		Filename:         req.Filename,
		OriginalFilename: req.OriginalFilename,
		Content:          req.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// UpdateTestFileRequest changes metadata, status or content of a test file
type UpdateTestFileRequest struct {
	Filename *string         `json:"filename" binding:"omitempty,min=1,max=500"`
	SprintID *string         `json:"sprint_id" binding:"omitempty,min=1"`
	Status   *string         `json:"status" binding:"omitempty,oneof=Pending Pass Fail"`
	Content  json.RawMessage `json:"content"`
}

// UpdateTestFile updates a test file without a new upload
func (h *Handler) UpdateTestFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, testfiles.MaxUploadSize+formOverhead)

	var req UpdateTestFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}
	if string(req.Content) == "null" {
		req.Content = nil
	}

	file, err := h.testFiles.Update(c.Request.Context(), principal(c), c.Param("id"), testfiles.UpdateInput{
		Filename: req.Filename,
		SprintID: req.SprintID,
		Status:   req.Status,
		Content:  req.Content,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// DeleteTestFile soft-deletes a test file
func (h *Handler) DeleteTestFile(c *gin.Context) {
	if err := h.testFiles.Delete(c.Request.Context(), principal(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "test file deleted"})
}

// GetTestFile returns an active test file
func (h *Handler) GetTestFile(c *gin.Context) {
	file, err := h.testFiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, file)
}

// ListTestFiles returns active test files
func (h *Handler) ListTestFiles(c *gin.Context) {
	limit, offset := pagination(c)
	files, total, err := h.testFiles.List(c.Request.Context(), testfiles.ListFilter{
		SprintID:  c.Query("sprint_id"),
		ProjectID: c.Query("project_id"),
		Filename:  c.Query("filename"),
		Status:    c.Query("status"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "total": total, "limit": limit, "offset": offset})
}

// GetTestFileContent returns the raw JSON report
func (h *Handler) GetTestFileContent(c *gin.Context) {
	data, err := h.testFiles.Content(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// GetTestFileStats summarises test files of a sprint or project
func (h *Handler) GetTestFileStats(c *gin.Context) {
	stats, err := h.testFiles.Stats(c.Request.Context(), testfiles.ListFilter{
		SprintID:  c.Query("sprint_id"),
		ProjectID: c.Query("project_id"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetTestFileHistory returns the history of a test file, deleted or not
func (h *Handler) GetTestFileHistory(c *gin.Context) {
	history, err := h.testFiles.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}
