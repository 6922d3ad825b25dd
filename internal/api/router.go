package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/internal/cache"
	"github.com/flowledger/flowledger/internal/database"
	"github.com/flowledger/flowledger/internal/jobstate"
	"github.com/flowledger/flowledger/internal/monitoring"
	"github.com/flowledger/flowledger/internal/queue"
	"github.com/flowledger/flowledger/internal/telemetry"
	"github.com/flowledger/flowledger/pkg/alerting"
	"github.com/flowledger/flowledger/pkg/config"
	"github.com/flowledger/flowledger/pkg/health"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/resilience"
	"github.com/flowledger/flowledger/pkg/security"
	"github.com/flowledger/flowledger/pkg/tracing"
)

// Dependencies carries the wired services the router exposes. DB, Redis,
// DeadLetters, Snapshots, Metrics, and Tracing may be nil; the router
// degrades the affected surface instead of failing.
type Dependencies struct {
	DB          *database.DB
	Redis       *queue.RedisClient
	Registry    *resilience.Registry
	Ledger      *audit.Ledger
	Exporter    *audit.Exporter
	Manager     *jobstate.Manager
	Sink        *telemetry.Sink
	Monitor     *monitoring.Service
	DeadLetters *queue.DeadLetterQueue
	Snapshots   *cache.SnapshotCache
	Alerts      *alerting.Service
	Metrics     *metrics.Metrics
	Tracing     *tracing.TracingService
	Logger      *logging.Logger
}

// NewRouter creates and configures the ops API router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	headersCfg := security.DefaultSecurityHeadersConfig()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(deps.Logger))
	router.Use(ErrorHandlingMiddleware())
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}
	router.Use(security.CORSMiddleware(headersCfg))
	router.Use(security.SecurityHeadersMiddleware(headersCfg))
	router.Use(security.RequestSizeMiddleware(1 << 20))
	router.Use(RateLimitMiddleware(deps.Redis, 100, time.Minute))

	healthSvc := health.NewService(deps.Logger, nil)
	if deps.DB != nil {
		healthSvc.RegisterChecker("database", health.NewDatabaseChecker(deps.DB, "database"))
	}
	if deps.Redis != nil {
		healthSvc.RegisterChecker("redis", health.NewRedisChecker(deps.Redis, "redis"))
	}
	if deps.Registry != nil {
		healthSvc.RegisterChecker("breakers", health.NewBreakerChecker(deps.Registry, "breakers"))
	}
	router.GET("/health", healthSvc.Handler())
	router.GET("/health/live", healthSvc.LivenessHandler())
	router.GET("/health/ready", healthSvc.ReadinessHandler())

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// API version info
	router.GET("/api/v1", func(c *gin.Context) {
		SuccessResponse(c, map[string]interface{}{
			"name":    "FlowLedger API",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	breakerHandler := NewBreakerHandler(deps.Registry)
	ledgerHandler := NewLedgerHandler(deps.Ledger, deps.Sink)
	reportHandler := NewReportHandler(deps.Ledger, deps.Exporter, deps.Snapshots, deps.Logger)
	jobHandler := NewJobHandler(deps.Manager)
	dashboardHandler := NewDashboardHandler(deps.Sink, deps.Monitor, deps.Alerts)

	v1 := router.Group("/api/v1")
	{
		breakers := v1.Group("/breakers")
		{
			breakers.GET("", breakerHandler.ListBreakers)
			breakers.GET("/:service", breakerHandler.GetBreaker)
			breakers.POST("/:service/reset", breakerHandler.ResetBreaker)
		}

		ledger := v1.Group("/ledger")
		{
			ledger.POST("/events", ledgerHandler.RecordEvent)
			ledger.GET("/recent", ledgerHandler.RecentEntries)
			ledger.GET("/rules", ledgerHandler.ListRules)
			ledger.GET("/:chain/verify", ledgerHandler.VerifyChain)
		}

		reports := v1.Group("/reports")
		{
			reports.POST("", reportHandler.GenerateReport)
			reports.POST("/verify", reportHandler.VerifyReport)
			reports.GET("/:id", reportHandler.GetReport)
		}

		jobs := v1.Group("/jobs")
		{
			jobs.POST("/:id/executions", jobHandler.StartExecution)
			jobs.PATCH("/:id/progress", jobHandler.UpdateProgress)
			jobs.POST("/:id/complete", jobHandler.FinishExecution)
			jobs.POST("/:id/checkpoints", jobHandler.CreateCheckpoint)
			jobs.GET("/:id/health", jobHandler.GetHealth)
			jobs.GET("/:id/prediction", jobHandler.GetPrediction)
			jobs.POST("/:id/recovery", jobHandler.GenerateRecovery)
			jobs.POST("/:id/recovery/execute", jobHandler.ExecuteRecovery)
			jobs.POST("/:id/watch", jobHandler.WatchJob)
			jobs.DELETE("/:id/watch", jobHandler.UnwatchJob)
		}

		v1.GET("/dashboard", dashboardHandler.GetDashboard)
		v1.GET("/resources", dashboardHandler.GetResources)
		v1.GET("/alerts", dashboardHandler.GetAlerts)

		if deps.DeadLetters != nil {
			deadLetterHandler := NewDeadLetterHandler(deps.DeadLetters)
			deadletters := v1.Group("/deadletters")
			{
				deadletters.GET("", deadLetterHandler.ListDeadLetters)
				deadletters.POST("/pop", deadLetterHandler.PopDeadLetter)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFoundResponse(c, "Endpoint not found")
	})

	return router
}
