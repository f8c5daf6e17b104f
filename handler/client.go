package handler

import (
	"net/http"

	"github.com/AnTengye/casedesk/lifecycle"
	"github.com/AnTengye/casedesk/middleware"
	"github.com/AnTengye/casedesk/service"
	"github.com/gin-gonic/gin"
)

type ClientHandler struct {
	details *service.ClientDetailService
	flags   service.FlagStore
}

func NewClientHandler(details *service.ClientDetailService, flags service.FlagStore) *ClientHandler {
	return &ClientHandler{details: details, flags: flags}
}

// List returns the resolved status of every visible client
func (h *ClientHandler) List(c *gin.Context) {
	statuses, err := h.details.ListStatuses(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": statuses})
}

// Detail returns the case view of one client
func (h *ClientHandler) Detail(c *gin.Context) {
	detail, err := h.details.Load(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// Flags returns the caller's advisory onboarding flags
func (h *ClientHandler) Flags(c *gin.Context) {
	flags, err := h.flags.All(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags})
}

// Resolve evaluates the status resolver on posted inputs
func (h *ClientHandler) Resolve(c *gin.Context) {
	var in lifecycle.Inputs
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, lifecycle.Resolve(in))
}
