package main

import (
	"context"
	"log"
	"os"
	"strconv"

	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/labstack/echo/v4"

	"dispatchly/internal/caching"
	"dispatchly/internal/handlers"
	"dispatchly/internal/jobs/background"
	"dispatchly/internal/middleware"
	"dispatchly/internal/repositories"
	"dispatchly/internal/services"
	"dispatchly/pkg/database"
)

func main() {
	// Database connection
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := database.NewPool(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// JWT configuration
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	// Payment gateway configuration. Fail fast at startup: a missing
	// credential must never surface mid-sweep as a string of failed charges.
	gatewayAPIKey := os.Getenv("GATEWAY_API_KEY")
	gatewayLocationID := os.Getenv("GATEWAY_LOCATION_ID")
	gatewaySandbox := os.Getenv("GATEWAY_SANDBOX") == "true"
	gatewaySvc, err := services.NewPaymentGatewayService(gatewayAPIKey, gatewayLocationID, gatewaySandbox)
	if err != nil {
		log.Fatalf("Failed to initialize payment gateway: %v", err)
	}

	// Redis configuration
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if redisDBStr := os.Getenv("REDIS_DB"); redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

	// MinIO configuration
	minioEndpoint := os.Getenv("MINIO_ENDPOINT")
	if minioEndpoint == "" {
		minioEndpoint = "localhost:9000"
	}
	minioAccessKey := os.Getenv("MINIO_ACCESS_KEY")
	if minioAccessKey == "" {
		minioAccessKey = "minioadmin"
	}
	minioSecretKey := os.Getenv("MINIO_SECRET_KEY")
	if minioSecretKey == "" {
		minioSecretKey = "minioadmin"
	}
	minioUseSSL := os.Getenv("MINIO_USE_SSL") == "true"

	receiptSvc, err := services.NewReceiptService(minioEndpoint, minioAccessKey, minioSecretKey, minioUseSSL)
	if err != nil {
		log.Fatalf("Failed to initialize receipt storage: %v", err)
	}
	if err := receiptSvc.EnsureBucket(context.Background()); err != nil {
		log.Printf("WARN: receipt bucket check failed: %v", err)
	}

	// Create repositories
	userRepo := repositories.NewUserRepo(pool)
	tenantRepo := repositories.NewTenantRepo(pool)
	billingRepo := repositories.NewBillingRepo(pool)

	// Create cache service
	cacheSvc := caching.NewRedisCacheService(redisAddr, redisPassword, redisDB)

	// Create services
	authSvc := services.NewAuthService(jwtSecret)
	billingSvc := services.NewBillingService(billingRepo)
	notifierSvc := services.NewNotificationService(cacheSvc)
	chargeSvc := services.NewChargeService(billingRepo, userRepo, gatewaySvc, notifierSvc, receiptSvc)
	sweepSvc := services.NewSweepService(billingRepo, chargeSvc)

	// Create handlers
	authHandlers := handlers.NewAuthHandlers(authSvc, billingSvc, userRepo, tenantRepo)
	billingHandlers := handlers.NewBillingHandlers(billingSvc, chargeSvc, sweepSvc, receiptSvc, cacheSvc, billingRepo)
	healthHandlers := handlers.NewHealthHandlers(pool, cacheSvc, receiptSvc)

	// Background jobs
	scheduler := background.NewJobScheduler(sweepSvc, notifierSvc, billingRepo, userRepo)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start job scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Create Echo instance
	e := echo.New()

	// Global middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	// Health endpoints (no auth required)
	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)

	// API routes
	v1 := e.Group("/v1")

	// Authentication routes (no JWT required for signup/login)
	auth := v1.Group("/auth")
	auth.POST("/signup", authHandlers.Signup)
	auth.POST("/login", authHandlers.Login)

	// Protected routes: JWT first, then the billing access guard
	billingGuard := middleware.NewBillingGuard(billingRepo, billingSvc)
	protected := v1.Group("")
	protected.Use(middleware.JWTMiddleware(jwtSecret))
	protected.Use(billingGuard.Enforce())

	protected.GET("/me", authHandlers.Me)

	// Billing routes
	protected.GET("/billing/status", billingHandlers.GetStatus)
	protected.GET("/billing/plans", billingHandlers.GetPlans)
	protected.POST("/billing/card", billingHandlers.SaveCard)
	protected.GET("/billing/history", billingHandlers.ListHistory)
	protected.GET("/billing/receipts/:id/url", billingHandlers.GetReceiptURL)

	// Administrative billing operations
	admin := protected.Group("", middleware.RequireSuperAdmin())
	admin.POST("/billing/charge", billingHandlers.ChargeNow)
	admin.POST("/billing/cancel", billingHandlers.Cancel)
	admin.POST("/billing/sweep", billingHandlers.RunSweep)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("Starting server on port %s", port)
	if err := e.Start(":" + port); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
