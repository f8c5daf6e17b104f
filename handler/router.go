package handler

import (
	"time"

	"github.com/AnTengye/casedesk/config"
	"github.com/AnTengye/casedesk/middleware"
	"github.com/AnTengye/casedesk/model"
	"github.com/gin-gonic/gin"
)

// Handlers groups everything mounted under /api
type Handlers struct {
	Auth      *AuthHandler
	Agreement *AgreementHandler
	Payment   *PaymentHandler
	Client    *ClientHandler
}

// RegisterRoutes mounts the API on router
func RegisterRoutes(router gin.IRouter, cfg *config.Config, h Handlers) {
	perMinute := cfg.Server.RateLimit
	if perMinute <= 0 {
		perMinute = 100
	}

	// Public routes, limited per client IP
	api := router.Group("/api")
	public := api.Group("/")
	public.Use(middleware.RateLimit(perMinute, time.Minute))
	{
		public.POST("/auth/login", h.Auth.Login)
		public.POST("/webhooks/payment", h.Payment.Webhook)
	}

	// Protected routes, limited per user
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	protected.Use(middleware.RateLimit(perMinute, time.Minute))
	{
		protected.GET("/auth/me", h.Auth.GetCurrentUser)
		protected.GET("/flags", h.Client.Flags)
		protected.POST("/resolve", h.Client.Resolve)

		protected.GET("/clients", h.Client.List)
		protected.GET("/clients/:id/detail", h.Client.Detail)

		protected.GET("/agreements", h.Agreement.List)
		protected.GET("/agreements/:id", h.Agreement.Get)
		protected.GET("/agreements/:id/strategy", h.Agreement.StrategyURL)
		protected.GET("/agreements/:id/legacy", h.Agreement.Legacy)
		protected.GET("/documents/:docId", h.Agreement.DocumentURL)
		protected.GET("/charges/:chargeId", h.Payment.GetCharge)
		protected.POST("/charges/:chargeId/verify", h.Payment.Verify)
	}

	strategist := protected.Group("/")
	strategist.Use(middleware.RequireRole(model.RoleStrategist))
	{
		strategist.POST("/agreements", h.Agreement.Create)
		strategist.POST("/agreements/:id/send", h.Agreement.Send)
		strategist.POST("/agreements/:id/cancel", h.Agreement.Cancel)
		strategist.POST("/agreements/:id/payment", h.Payment.RequestPayment)
		strategist.POST("/agreements/:id/documents/requests", h.Agreement.RequestDocuments)
		strategist.POST("/documents/:docId/review", h.Agreement.ReviewDocument)
		strategist.POST("/agreements/:id/strategy", h.Agreement.SubmitStrategy)
		strategist.POST("/agreements/:id/strategy/send", h.Agreement.SendStrategy)
	}

	client := protected.Group("/")
	client.Use(middleware.RequireRole(model.RoleClient))
	{
		client.POST("/agreements/:id/sign", h.Agreement.Sign)
		client.POST("/agreements/:id/documents", h.Agreement.UploadDocument)
		client.POST("/agreements/:id/strategy/decision", h.Agreement.DecideStrategy)
		client.POST("/charges/:chargeId/checkout", h.Payment.Checkout)
	}

	compliance := protected.Group("/")
	compliance.Use(middleware.RequireRole(model.RoleCompliance))
	{
		compliance.POST("/agreements/:id/strategy/review", h.Agreement.ReviewStrategy)
	}
}
