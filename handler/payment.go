package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/AnTengye/casedesk/middleware"
	"github.com/AnTengye/casedesk/model"
	"github.com/AnTengye/casedesk/pkg/logger"
	"github.com/AnTengye/casedesk/service"
	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the hex HMAC of a webhook body
const SignatureHeader = "X-Signature"

// WebhookVerifier authenticates and decodes provider webhooks
type WebhookVerifier interface {
	VerifyWebhook(body []byte, signature string) (*service.WebhookEvent, error)
}

type PaymentHandler struct {
	workflow *service.WorkflowService
	verifier *service.PaymentVerifier
	webhooks WebhookVerifier
	// pollCtx bounds background polling of new charges, for deployments
	// that cannot receive webhooks. Nil disables polling.
	pollCtx context.Context
}

func NewPaymentHandler(workflow *service.WorkflowService, verifier *service.PaymentVerifier, webhooks WebhookVerifier, pollCtx context.Context) *PaymentHandler {
	return &PaymentHandler{
		workflow: workflow,
		verifier: verifier,
		webhooks: webhooks,
		pollCtx:  pollCtx,
	}
}

// RequestPayment creates the charge of a signed agreement
func (h *PaymentHandler) RequestPayment(c *gin.Context) {
	withAgreement(c)
	charge, err := h.workflow.RequestPayment(c.Request.Context(), middleware.GetPrincipal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if h.pollCtx != nil && charge.Status == model.ChargePending {
		ctx := logger.WithValue(h.pollCtx, logger.RequestIDKey, middleware.GetRequestID(c))
		if !h.verifier.Watch(ctx, charge.ID) {
			logger.Debug(c.Request.Context(), "payment already polled", "charge_id", charge.ID)
		}
	}

	c.JSON(http.StatusCreated, charge)
}

// GetCharge returns a charge
func (h *PaymentHandler) GetCharge(c *gin.Context) {
	charge, err := h.workflow.GetCharge(c.Request.Context(), middleware.GetPrincipal(c), c.Param("chargeId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, charge)
}

// Checkout returns the hosted payment link to the client
func (h *PaymentHandler) Checkout(c *gin.Context) {
	charge, err := h.workflow.StartCheckout(c.Request.Context(), middleware.GetPrincipal(c), c.Param("chargeId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"charge_id":    charge.ID,
		"payment_link": charge.PaymentLink,
	})
}

// Verify asks the provider for the state of a charge once
func (h *PaymentHandler) Verify(c *gin.Context) {
	// visibility check before talking to the provider
	if _, err := h.workflow.GetCharge(c.Request.Context(), middleware.GetPrincipal(c), c.Param("chargeId")); err != nil {
		respondError(c, err)
		return
	}

	charge, err := h.verifier.Check(c.Request.Context(), c.Param("chargeId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, charge)
}

// Webhook receives checkout events from the payment provider
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	event, err := h.webhooks.VerifyWebhook(body, c.GetHeader(SignatureHeader))
	if err != nil {
		logger.Warn(c.Request.Context(), "webhook rejected", "error", err)
		respondError(c, err)
		return
	}

	if err := h.verifier.HandleEvent(c.Request.Context(), event); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook received"})
}
