package handler

import (
	"net/http"

	"github.com/AnTengye/casedesk/middleware"
	"github.com/AnTengye/casedesk/pkg/logger"
	"github.com/AnTengye/casedesk/service"
	"github.com/gin-gonic/gin"
)

type AgreementHandler struct {
	workflow       *service.WorkflowService
	maxUploadBytes int64
}

func NewAgreementHandler(workflow *service.WorkflowService, maxUploadMB int) *AgreementHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 25
	}
	return &AgreementHandler{
		workflow:       workflow,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// withAgreement tags the request context with the agreement in the path
func withAgreement(c *gin.Context) {
	if id := c.Param("id"); id != "" {
		c.Request = c.Request.WithContext(logger.WithValue(c.Request.Context(), logger.AgreementIDKey, id))
	}
}

// List returns the agreements visible to the caller
func (h *AgreementHandler) List(c *gin.Context) {
	agreements, err := h.workflow.ListAgreements(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agreements": agreements})
}

// Create drafts a new agreement
func (h *AgreementHandler) Create(c *gin.Context) {
	var req service.CreateAgreementInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	agreement, err := h.workflow.CreateAgreement(c.Request.Context(), middleware.GetPrincipal(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agreement)
}

// Get returns a single agreement
func (h *AgreementHandler) Get(c *gin.Context) {
	withAgreement(c)
	agreement, err := h.workflow.GetAgreement(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreement)
}

// Legacy returns the agreement with its metadata embedded in the description
func (h *AgreementHandler) Legacy(c *gin.Context) {
	withAgreement(c)
	record, err := h.workflow.ExportLegacy(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Send sends a draft to the client for signature
func (h *AgreementHandler) Send(c *gin.Context) {
	withAgreement(c)
	agreement, err := h.workflow.SendAgreement(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreement)
}

type SignRequest struct {
	SignerName string `json:"signer_name"`
}

// Sign records the client's signature
func (h *AgreementHandler) Sign(c *gin.Context) {
	withAgreement(c)
	var req SignRequest
	// the body is optional
	_ = c.ShouldBindJSON(&req)

	agreement, err := h.workflow.SignAgreement(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"), req.SignerName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreement)
}

// Cancel cancels an open agreement
func (h *AgreementHandler) Cancel(c *gin.Context) {
	withAgreement(c)
	agreement, err := h.workflow.CancelAgreement(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agreement)
}
