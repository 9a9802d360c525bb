package main

import (
	"context"

	"github.com/auraa-ai/billing/internal/handlers"
	"github.com/auraa-ai/billing/internal/llm"
	billingstripe "github.com/auraa-ai/billing/internal/stripe"
	"github.com/auraa-ai/billing/pkg/auth"
	"github.com/auraa-ai/billing/pkg/config"
	"github.com/auraa-ai/billing/pkg/database"
	"github.com/auraa-ai/billing/pkg/logging"
	"github.com/auraa-ai/billing/pkg/monitoring"
	"github.com/auraa-ai/billing/pkg/server"
	"github.com/auraa-ai/billing/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Billing API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	stripeSecretKey := config.RequireEnv("STRIPE_SECRET_KEY")
	stripeWebhookSecret := config.RequireEnv("STRIPE_WEBHOOK_SECRET")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":          dbURL,
		"JWT_SECRET":            jwtSecret,
		"STRIPE_SECRET_KEY":     stripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": stripeWebhookSecret,
	}))

	// Create custom billing metrics
	metrics := &handlers.BursarMetrics{
		WebhookEvents:            metricsCollector.NewCounter("webhook_events_total", "Webhook events processed", []string{"event_type"}),
		WebhookSignatureFailures: metricsCollector.NewCounter("webhook_signature_failures_total", "Webhook signature verification failures", []string{"provider"}),
		InvoiceRetries:           metricsCollector.NewCounter("invoice_retries_total", "Invoice retry attempts", []string{"result"}),
		AssistantTasks:           metricsCollector.NewCounter("assistant_tasks_total", "Assistant chat tasks", []string{"status"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Stripe client
	stripeClient := billingstripe.NewClient(billingstripe.Config{
		SecretKey:     stripeSecretKey,
		WebhookSecret: stripeWebhookSecret,
		Logger:        logger,
	})

	// LLM provider for assistant chat
	llmProvider, err := llm.NewProvider(llm.LoadConfig())
	if err != nil {
		logger.WithError(err).Fatal("Failed to create LLM provider")
	}

	// Initialize handlers
	handlers.Init(db, logger, metrics, stripeClient, stripeClient, llmProvider, stripeWebhookSecret)

	// Start background jobs (daily failed-invoice sweep)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handlers.Jobs().Start(ctx)
	defer handlers.Jobs().Stop()

	logger.Info("JobManager started - background billing jobs active")

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			// Billing endpoints
			protected.POST("/billing/checkout", handlers.CreateCheckout)
			protected.POST("/billing/portal", handlers.CreateBillingPortal)
			protected.GET("/billing/status", handlers.GetBillingStatus)
			protected.GET("/billing/failed-invoices", handlers.GetFailedInvoices)

			// Assistant endpoints
			protected.POST("/assistants", handlers.DeployAssistant)
			protected.POST("/assistants/:id/chat", handlers.ChatWithAssistant)
			protected.GET("/assistants/:id/metrics", handlers.GetAssistantMetrics)
			protected.GET("/assistants/:id/tasks", handlers.ListAssistantTasks)
		}

		// Webhook endpoints (no auth required; signature-verified)
		router.POST("/webhooks/stripe", handlers.HandleStripeWebhook)

		// Job triggers (service-to-service)
		serviceAPI := router.Group("")
		serviceAPI.Use(auth.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/jobs/retry-failed-invoices", handlers.HandleRetrySweep)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
