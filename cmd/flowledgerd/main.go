package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/flowledger/flowledger/internal/api"
	"github.com/flowledger/flowledger/internal/audit"
	"github.com/flowledger/flowledger/internal/batching"
	"github.com/flowledger/flowledger/internal/cache"
	"github.com/flowledger/flowledger/internal/database"
	"github.com/flowledger/flowledger/internal/jobstate"
	"github.com/flowledger/flowledger/internal/monitoring"
	"github.com/flowledger/flowledger/internal/notifications"
	"github.com/flowledger/flowledger/internal/queue"
	"github.com/flowledger/flowledger/internal/telemetry"
	"github.com/flowledger/flowledger/pkg/alerting"
	"github.com/flowledger/flowledger/pkg/config"
	"github.com/flowledger/flowledger/pkg/logging"
	"github.com/flowledger/flowledger/pkg/metrics"
	"github.com/flowledger/flowledger/pkg/resilience"
	"github.com/flowledger/flowledger/pkg/security"
	"github.com/flowledger/flowledger/pkg/tracing"

	"github.com/shopspring/decimal"
)

// breakerChain is the hash chain that receives circuit breaker transitions.
// Financial, job and batching events live on their own chains.
const breakerChain = "breakers"

// breakerAuditRecorder appends every breaker state change to the audit
// ledger. The resilience package stays free of audit imports; this adapter
// is the only place the two meet.
type breakerAuditRecorder struct {
	ledger *audit.Ledger
	logger *logging.Logger
}

func (r *breakerAuditRecorder) RecordTransition(ctx context.Context, service, fromState, toState, reason string) {
	outcome := audit.OutcomeSuccess
	if toState == resilience.StateOpen.String() {
		outcome = audit.OutcomeWarning
	}

	_, err := r.ledger.Append(ctx, audit.Event{
		EventType:  audit.EventTypeBreakerTransition,
		EntityID:   service,
		EntityType: "SERVICE",
		Actor:      "breaker_registry",
		Action:     fmt.Sprintf("%s_TO_%s", fromState, toState),
		Resource:   "circuit_breaker",
		Outcome:    outcome,
		Details: map[string]interface{}{
			"from":   fromState,
			"to":     toState,
			"reason": reason,
		},
		Chain: breakerChain,
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to audit breaker transition")
	}
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "flowledger",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	// Initialize distributed tracing
	var tracingSvc *tracing.TracingService
	if cfg.Tracing.Enabled {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "production"
		}
		tracingSvc, err = tracing.NewTracingService(&tracing.Config{
			ServiceName:    "flowledger",
			ServiceVersion: "1.0.0",
			Environment:    environment,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			SamplingRate:   cfg.Tracing.SampleRate,
			Enabled:        true,
		})
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracingSvc.Shutdown(ctx); err != nil {
				log.Printf("Tracing shutdown failed: %v", err)
			}
		}()
	}

	// Boot-time collaborator checks get a few retries before the host
	// settles for degraded mode
	bootRetrier := resilience.NewRetrier(resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
	})

	// Initialize database connection. The core stays fully functional on
	// in-memory stores when Postgres is unreachable; what is lost is
	// durable history across restarts.
	var repos *database.Repositories
	db, err := database.New(&cfg.Database)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = bootRetrier.Execute(ctx, db.Health)
		cancel()
	}
	if err != nil {
		log.Printf("Database unavailable, continuing on in-memory stores: %v", err)
		if db != nil {
			db.Close()
			db = nil
		}
	} else {
		defer db.Close()
		repos = database.NewRepositories(db)
		log.Println("Database connection established")
	}

	// Initialize Redis connection. Without it there is no snapshot cache
	// and dead letters stay in process memory.
	redis, err := queue.NewRedisClient(&cfg.Redis)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = bootRetrier.Execute(ctx, redis.Health)
		cancel()
	}
	if err != nil {
		log.Printf("Redis unavailable, continuing without snapshot cache: %v", err)
		if redis != nil {
			redis.Close()
			redis = nil
		}
	} else {
		defer redis.Close()
		log.Println("Redis connection established")
	}

	// Pick durable stores when Postgres is present, memory otherwise
	var (
		auditStore      audit.Store = audit.NewMemoryStore()
		breakerStore    resilience.StateStore
		checkpointStore jobstate.CheckpointStore
		executionStore  jobstate.ExecutionStore
		sampleStore     telemetry.SampleStore
	)
	if repos != nil {
		auditStore = repos.AuditEntries
		breakerStore = repos.BreakerStates
		checkpointStore = repos.Checkpoints
		executionStore = repos.Executions
		sampleStore = repos.MetricSamples
	}

	clock := security.NewSystemClock()

	// Initialize Prometheus metrics
	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Telemetry.Namespace,
		Enabled:   true,
	})

	// Initialize alerting with the configured notification channels
	alerts := alerting.NewService(logger, nil)
	alerts.AddChannel(alerting.NewLogChannel(logger))
	registerNotificationChannels(alerts)
	for _, rule := range alerting.DefaultRules() {
		alerts.AddRule(rule)
	}

	// Initialize the audit ledger and report exporter
	ledgerCfg := &audit.Config{
		RingCapacity:       cfg.Ledger.RingCapacity,
		SigningSecret:      cfg.Ledger.SigningSecret,
		HighValueThreshold: cfg.Ledger.HighValueThreshold,
		RapidWindow:        cfg.Ledger.RapidWindow,
		DailyLimit:         cfg.Ledger.DailyLimit,
		ReportTokenTTL:     cfg.Ledger.ReportTokenTTL,
	}
	ledger := audit.NewLedger(ledgerCfg, auditStore, clock, logger, m, alerts)
	exporter := audit.NewExporter(ledgerCfg, clock)

	// Initialize the circuit breaker registry with durable state and
	// audited transitions
	registry := resilience.NewRegistry(resilience.RegistryConfig{
		Defaults: resilience.Settings{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
			OperationTimeout: cfg.Breaker.OperationTimeout,
		},
		StaleAfter: cfg.Breaker.StateTTL,
		Clock:      clock,
		Store:      breakerStore,
		Recorder:   &breakerAuditRecorder{ledger: ledger, logger: logger},
		Metrics:    m,
		Logger:     logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := registry.Restore(ctx); err != nil {
		log.Printf("Breaker state restore failed, starting cold: %v", err)
	}
	cancel()

	degradation := resilience.NewDegradationPolicy()
	degradation.RegisterService("database", resilience.LevelSevere)
	degradation.RegisterService("redis", resilience.LevelPartial)

	// Initialize caching and the dead letter queue. Quarantined samples
	// are sealed before they reach Redis.
	var (
		snapshots   *cache.SnapshotCache
		deadLetters *queue.DeadLetterQueue
		engineSink  batching.DeadLetterSink
	)
	if redis != nil {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.SnapshotTTL = cfg.Telemetry.SnapshotTTL
		snapshots = cache.NewSnapshotCache(cache.NewService(redis, cacheCfg))

		sealSecret := os.Getenv("DEADLETTER_SEALING_SECRET")
		if sealSecret == "" {
			sealSecret = cfg.Ledger.SigningSecret
		}
		deadLetters = queue.NewDeadLetterQueue(redis, queue.DefaultDeadLetterKey, 10000, logger).
			WithEncryption(security.NewEncryptionService(sealSecret))
		engineSink = deadLetters
	}

	// Initialize resource monitoring
	monitorCfg := monitoring.DefaultConfig()
	monitorCfg.CollectionInterval = cfg.Telemetry.CollectInterval
	monitor := monitoring.NewService(db, redis, deadLetters, snapshots, monitorCfg, clock, logger, alerts)

	// Initialize the batching engine
	batchCfg := batching.DefaultConfig()
	batchCfg.MinBatchSize = cfg.Batching.MinBatchSize
	batchCfg.MaxBatchSize = cfg.Batching.MaxBatchSize
	batchCfg.TargetProcessing = cfg.Batching.TargetProcessing
	batchCfg.MaxFinancialValue = decimal.NewFromFloat(cfg.Batching.MaxFinancialValue)
	batchCfg.MemoryFraction = cfg.Batching.MemoryFraction
	batchCfg.TuneEvery = cfg.Batching.TuneEvery
	batchCfg.MetricsWindow = cfg.Batching.MetricsWindow
	batchCfg.DeadLetterSample = cfg.Batching.DeadLetterSample
	batchCfg.AbortErrorFraction = cfg.Batching.AbortErrorFraction
	engine := batching.NewEngine(batchCfg, ledger, engineSink, monitor.StatusFunc(), clock, logger, m)

	// Initialize job state tracking and recovery
	recoveryCfg := jobstate.DefaultConfig()
	recoveryCfg.HealthCheckInterval = cfg.Recovery.HealthCheckInterval
	recoveryCfg.MaxFailureRate = cfg.Recovery.MaxFailureRate
	recoveryCfg.MaxProcessingTime = cfg.Recovery.MaxProcessingTime
	recoveryCfg.MinDataIntegrity = cfg.Recovery.MinDataIntegrity
	recoveryCfg.StalledAfter = cfg.Recovery.StalledAfter
	recoveryCfg.AutoExecuteDelay = cfg.Recovery.AutoExecuteDelay
	recoveryCfg.RiskFloor = cfg.Recovery.RiskFloor
	manager := jobstate.NewManager(recoveryCfg, checkpointStore, executionStore, ledger, registry, clock, logger, m, alerts)
	defer manager.Close()

	// Initialize the telemetry sink
	sink := telemetry.NewSink(telemetry.SinkConfig{
		FlushInterval:    cfg.Telemetry.CollectInterval,
		SnapshotInterval: cfg.Telemetry.SnapshotTTL,
		Store:            sampleStore,
		Metrics:          m,
		Alerts:           alerts,
		Registry:         registry,
		Degradation:      degradation,
		Engine:           engine,
		Monitor:          monitor,
		DeadLetters:      deadLetters,
		Snapshots:        snapshots,
		Clock:            clock,
		Logger:           logger,
	})

	// Start background services
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	if err := monitor.Start(runCtx); err != nil {
		log.Fatalf("Failed to start resource monitor: %v", err)
	}
	if err := sink.Start(runCtx); err != nil {
		log.Fatalf("Failed to start telemetry sink: %v", err)
	}

	collector := metrics.NewCollector(m, cfg.Telemetry.CollectInterval, monitor.MetricsSource())
	collector.Start(runCtx)

	// Create API router with all dependencies
	router := api.NewRouter(cfg, api.Dependencies{
		DB:          db,
		Redis:       redis,
		Registry:    registry,
		Ledger:      ledger,
		Exporter:    exporter,
		Manager:     manager,
		Sink:        sink,
		Monitor:     monitor,
		DeadLetters: deadLetters,
		Snapshots:   snapshots,
		Alerts:      alerts,
		Metrics:     m,
		Tracing:     tracingSvc,
		Logger:      logger,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting FlowLedger API server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Stop background services after the listener drains so the final
	// flush still sees a consistent view
	collector.Stop()
	if err := sink.Stop(); err != nil {
		log.Printf("Telemetry sink stop failed: %v", err)
	}
	if err := monitor.Stop(); err != nil {
		log.Printf("Resource monitor stop failed: %v", err)
	}

	log.Println("Server exited")
}

// registerNotificationChannels wires the delivery channels that are
// configured through the environment. Missing settings just mean the
// channel stays unregistered; the log channel is always present.
func registerNotificationChannels(alerts *alerting.Service) {
	notifyLogger, err := zap.NewProduction()
	if err != nil {
		log.Printf("Notification logger unavailable: %v", err)
	}

	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		alerts.AddChannel(notifications.NewSlackChannel(notifications.SlackConfig{
			WebhookURL: url,
			Channel:    os.Getenv("SLACK_CHANNEL"),
			Username:   "flowledger",
		}, notifyLogger))
		log.Println("Slack alert channel registered")
	}

	if server := os.Getenv("SMTP_SERVER"); server != "" {
		to := strings.Split(os.Getenv("ALERT_EMAIL_TO"), ",")
		if len(to) == 1 && to[0] == "" {
			log.Println("SMTP_SERVER set but ALERT_EMAIL_TO is empty, skipping email channel")
		} else {
			port, err := strconv.Atoi(os.Getenv("SMTP_PORT"))
			if err != nil {
				port = 587
			}
			alerts.AddChannel(notifications.NewEmailChannel(notifications.EmailConfig{
				SMTPServer: server,
				SMTPPort:   port,
				Username:   os.Getenv("SMTP_USERNAME"),
				Password:   os.Getenv("SMTP_PASSWORD"),
				From:       os.Getenv("ALERT_EMAIL_FROM"),
				To:         to,
			}, notifyLogger))
			log.Println("Email alert channel registered")
		}
	}

	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		headers := map[string]string{}
		if token := os.Getenv("ALERT_WEBHOOK_TOKEN"); token != "" {
			headers["Authorization"] = "Bearer " + token
		}
		alerts.AddChannel(notifications.NewWebhookChannel(notifications.WebhookConfig{
			URL:     url,
			Headers: headers,
			Source:  "flowledger",
		}, notifyLogger))
		log.Println("Webhook alert channel registered")
	}
}
