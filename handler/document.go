package handler

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/AnTengye/casedesk/middleware"
	"github.com/AnTengye/casedesk/service"
	"github.com/gin-gonic/gin"
)

var allowedUploads = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// uploadError is a validation failure reported to the caller as is
type uploadError string

func (e uploadError) Error() string { return string(e) }

// readUpload validates the multipart "file" field and returns it as workflow
// input. The caller closes the returned file.
func (h *AgreementHandler) readUpload(c *gin.Context) (multipart.File, service.UploadInput, error) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		return nil, service.UploadInput{}, uploadError("No file provided")
	}

	fail := func(msg string) (multipart.File, service.UploadInput, error) {
		file.Close()
		return nil, service.UploadInput{}, uploadError(msg)
	}

	if header.Size > h.maxUploadBytes {
		return fail("File too large")
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	expectedContentType, ok := allowedUploads[ext]
	if !ok {
		return fail("Only PDF, DOCX, PNG and JPEG files are allowed")
	}

	// Sniff the first bytes rather than trusting the declared type
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return fail("Failed to read file")
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fail("Failed to read file")
	}

	detected := http.DetectContentType(buffer[:n])
	switch ext {
	case ".pdf":
		if !strings.Contains(detected, "pdf") && detected != "application/octet-stream" {
			return fail("Invalid file type")
		}
	case ".png", ".jpg", ".jpeg":
		if detected != expectedContentType {
			return fail("Invalid file type")
		}
	}

	return file, service.UploadInput{
		Name:        filepath.Base(header.Filename),
		ContentType: expectedContentType,
		Size:        header.Size,
		Reader:      file,
	}, nil
}

type DocumentRequestsBody struct {
	Documents []service.DocumentRequest `json:"documents" binding:"required,min=1,dive"`
}

// RequestDocuments asks the client for documents
func (h *AgreementHandler) RequestDocuments(c *gin.Context) {
	withAgreement(c)
	var req DocumentRequestsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	todos, err := h.workflow.RequestDocuments(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"), req.Documents)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"todos": todos})
}

// UploadDocument stores a client document for an upload todo
func (h *AgreementHandler) UploadDocument(c *gin.Context) {
	withAgreement(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)

	file, in, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	in.TodoID = c.PostForm("todo_id")
	in.Category = c.PostForm("category")
	if in.TodoID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "todo_id is required"})
		return
	}

	doc, err := h.workflow.UploadDocument(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

type ReviewRequest struct {
	Accept *bool  `json:"accept" binding:"required"`
	Note   string `json:"note"`
}

// ReviewDocument accepts or rejects an uploaded document
func (h *AgreementHandler) ReviewDocument(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	doc, err := h.workflow.ReviewDocument(c.Request.Context(), middleware.GetPrincipal(c), c.Param("docId"), *req.Accept, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DocumentURL returns a short-lived download link
func (h *AgreementHandler) DocumentURL(c *gin.Context) {
	url, err := h.workflow.DocumentURL(c.Request.Context(), middleware.GetPrincipal(c), c.Param("docId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// SubmitStrategy uploads a strategy revision for compliance review
func (h *AgreementHandler) SubmitStrategy(c *gin.Context) {
	withAgreement(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)

	file, in, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	doc, err := h.workflow.SubmitStrategy(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// ReviewStrategy records the compliance decision
func (h *AgreementHandler) ReviewStrategy(c *gin.Context) {
	withAgreement(c)
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	doc, err := h.workflow.ReviewStrategy(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"), *req.Accept, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// SendStrategy delivers the approved strategy to the client
func (h *AgreementHandler) SendStrategy(c *gin.Context) {
	withAgreement(c)
	agreement, err := h.workflow.SendStrategy(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreement)
}

// DecideStrategy records the client's answer to the strategy
func (h *AgreementHandler) DecideStrategy(c *gin.Context) {
	withAgreement(c)
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	agreement, err := h.workflow.DecideStrategy(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"), *req.Accept, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreement)
}

// StrategyURL returns a download link for the current strategy
func (h *AgreementHandler) StrategyURL(c *gin.Context) {
	withAgreement(c)
	url, err := h.workflow.StrategyURL(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
