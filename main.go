package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/AnTengye/casedesk/config"
	"github.com/AnTengye/casedesk/handler"
	"github.com/AnTengye/casedesk/lifecycle"
	"github.com/AnTengye/casedesk/middleware"
	"github.com/AnTengye/casedesk/model"
	"github.com/AnTengye/casedesk/pkg/logger"
	"github.com/AnTengye/casedesk/service"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "casedesk",
	Short:         "Client onboarding and strategy case desk",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE:  runServe,
}

// resolveCmd evaluates the status resolver offline, useful when support
// needs to explain what a client is seeing
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve a client status from raw inputs",
	RunE:  runResolve,
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash for the users section of the config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

var resolveFlags struct {
	status         string
	signed         bool
	paid           bool
	charged        bool
	totalTodos     int
	uploaded       int
	accepted       int
	strategyReview string
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	f := resolveCmd.Flags()
	f.StringVar(&resolveFlags.status, "status", string(model.AgreementDraft), "agreement status")
	f.BoolVar(&resolveFlags.signed, "signed", false, "signature envelope completed")
	f.BoolVar(&resolveFlags.paid, "paid", false, "a charge has been paid")
	f.BoolVar(&resolveFlags.charged, "charged", false, "a charge has been requested")
	f.IntVar(&resolveFlags.totalTodos, "todos", 0, "requested documents")
	f.IntVar(&resolveFlags.uploaded, "uploaded", 0, "uploaded documents")
	f.IntVar(&resolveFlags.accepted, "accepted", 0, "accepted documents")
	f.StringVar(&resolveFlags.strategyReview, "strategy-review", "", "review status of the current strategy")

	rootCmd.AddCommand(serveCmd, resolveCmd, hashPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runResolve(cmd *cobra.Command, _ []string) error {
	in := lifecycle.Inputs{
		AgreementStatus:   model.AgreementStatus(resolveFlags.status),
		SignatureComplete: resolveFlags.signed,
		PaymentComplete:   resolveFlags.paid,
		ChargeRequested:   resolveFlags.charged,
		TotalDocTodos:     resolveFlags.totalTodos,
		UploadedDocCount:  resolveFlags.uploaded,
		AcceptedDocCount:  resolveFlags.accepted,
	}
	if resolveFlags.strategyReview != "" {
		review := model.StrategyReviewStatus(resolveFlags.strategyReview)
		in.StrategyReview = &review
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(lifecycle.Resolve(in))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "store", cfg.Store.Driver)

	// Initialize services
	repo, err := service.NewRepository(&cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		return fmt.Errorf("failed to initialize MINIO service: %w", err)
	}

	// Ensure bucket exists
	if err := minioSvc.EnsureBucket(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure MINIO bucket: %w", err)
	}

	flags := service.NewFlagStore(context.Background(), &cfg.Redis)
	payments := service.NewPaymentProvider(&cfg.Payment)
	workflow := service.NewWorkflowService(repo, minioSvc, payments, flags, cfg.Payment.Currency)
	verifier := service.NewPaymentVerifier(repo, payments, workflow, &cfg.Payment)
	details := service.NewClientDetailService(repo)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger("/health"))
	router.Use(corsMiddleware())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// background payment polls stop when the server shuts down
	pollCtx, stopPolls := context.WithCancel(context.Background())
	defer stopPolls()

	// without a webhook secret the provider can't reach us, so poll instead
	var chargePolls context.Context
	if cfg.Payment.WebhookSecret == "" {
		chargePolls = pollCtx
	}

	handler.RegisterRoutes(router, cfg, handler.Handlers{
		Auth:      handler.NewAuthHandler(cfg),
		Agreement: handler.NewAgreementHandler(workflow, cfg.Server.MaxUploadMB),
		Payment:   handler.NewPaymentHandler(workflow, verifier, payments, chargePolls),
		Client:    handler.NewClientHandler(details, flags),
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownGrace)*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("stopping payment polls", "active", verifier.ActivePolls())
	stopPolls()
	verifier.Wait()

	slog.Info("server exited gracefully")
	return nil
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
