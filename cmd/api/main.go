package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tshla/previsit-platform/cmd/mainconfig"
	"github.com/tshla/previsit-platform/internal/alerting"
	"github.com/tshla/previsit-platform/internal/api/router"
	"github.com/tshla/previsit-platform/internal/appointments"
	"github.com/tshla/previsit-platform/internal/calls"
	appconfig "github.com/tshla/previsit-platform/internal/config"
	"github.com/tshla/previsit-platform/internal/events"
	"github.com/tshla/previsit-platform/internal/http/handlers"
	"github.com/tshla/previsit-platform/internal/interview"
	"github.com/tshla/previsit-platform/internal/jobs"
	"github.com/tshla/previsit-platform/internal/notify"
	"github.com/tshla/previsit-platform/internal/observability/metrics"
	"github.com/tshla/previsit-platform/internal/patients"
	"github.com/tshla/previsit-platform/internal/responses"
	"github.com/tshla/previsit-platform/internal/retry"
	"github.com/tshla/previsit-platform/internal/scheduler"
	"github.com/tshla/previsit-platform/internal/telephony"
	"github.com/tshla/previsit-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting previsit-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open sql db", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sqlDB.Close() }()

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	callMetrics := metrics.NewCallMetrics(registry)

	// Stores.
	patientRepo := patients.NewPostgresRepository(pool)
	resolver := patients.NewResolver(patientRepo, cfg.FuzzyMatchThreshold, logger)
	apptStore := appointments.NewStore(pool)
	attemptStore := calls.NewStore(pool)
	responseStore := responses.NewStore(pool)
	processedStore := events.NewProcessedStore(pool)
	recordStore := notify.NewRecordStore(pool)
	outbox := alerting.NewOutboxStore(pool)
	live := calls.NewLiveCallStore(rdb)

	// Telephony.
	voiceClient, err := telephony.NewVoiceClient(telephony.VoiceClientConfig{
		APIKey:        cfg.TelnyxAPIKey,
		ConnectionID:  cfg.TelnyxConnectionID,
		FromNumber:    cfg.TelnyxFromNumber,
		CallbackURL:   cfg.PublicBaseURL + "/webhooks/telephony/status",
		WebhookSecret: cfg.TelnyxWebhookSecret,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to create voice client", "error", err)
		os.Exit(1)
	}

	clinicTZ, err := time.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Error("invalid clinic timezone", "timezone", cfg.ClinicTimezone, "error", err)
		os.Exit(1)
	}

	// Interview agent. Without it the call-control application is expected
	// to connect the conversational leg itself.
	var interviewClient *interview.Client
	var bridge calls.Bridge
	if cfg.InterviewAgentAPIKey != "" {
		interviewClient, err = interview.NewClient(interview.ClientConfig{
			APIKey:        cfg.InterviewAgentAPIKey,
			AgentID:       cfg.InterviewAgentID,
			BaseURL:       cfg.InterviewAgentBaseURL,
			WebhookSecret: cfg.InterviewWebhookSecret,
			Logger:        logger,
		})
		if err != nil {
			logger.Error("failed to create interview client", "error", err)
			os.Exit(1)
		}
		bridge = interview.NewCallBridge(interviewClient, patientRepo, apptStore, logger).
			WithTimezone(clinicTZ)
	} else {
		logger.Warn("INTERVIEW_AGENT_API_KEY not set, interview bridging and completion webhooks disabled")
	}

	// Extraction handoff queue.
	var queue jobs.Queue
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory extraction queue, jobs are lost on restart")
		queue = jobs.NewMemoryQueue(0)
	} else {
		queue = jobs.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.ExtractionQueueURL)
	}
	jobStore := jobs.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.ExtractionJobsTable, logger)
	sink := jobs.NewQueueSink(queue, jobStore, logger)

	// Urgent escalation.
	alertPolicy := retry.Policy{
		MaxAttempts:    cfg.AlertRetryMaxAttempts,
		BaseDelay:      cfg.AlertRetryBaseDelay,
		MaxDelay:       10 * time.Minute,
		JitterFraction: 0.5,
	}
	var alertSender alerting.Sender
	if cfg.AlertWebhookURL != "" {
		alertSender, err = alerting.NewWebhookSender(alerting.WebhookSenderConfig{
			URL:    cfg.AlertWebhookURL,
			Secret: cfg.AlertWebhookSecret,
			Logger: logger,
		})
		if err != nil {
			logger.Error("failed to create alert sender", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("ALERT_WEBHOOK_URL not set, urgent alerts queue until the deliverer escalates")
	}
	alertService := alerting.NewService(outbox, alertSender, logger).WithPolicy(alertPolicy)

	sesSender := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger)
	deliverer := alerting.NewDeliverer(outbox, alertSender, logger).WithPolicy(alertPolicy)
	if cfg.AlertFallbackEmail != "" && sesSender != nil {
		deliverer = deliverer.WithFallbackEmail(sesSender, []string{cfg.AlertFallbackEmail})
	}
	go deliverer.Run(ctx)

	// Call lifecycle engine.
	orchOpts := []calls.OrchestratorOption{calls.WithCallMetrics(callMetrics)}
	if bridge != nil {
		orchOpts = append(orchOpts, calls.WithInterviewBridge(bridge))
	}
	if cfg.VoicemailMessage != "" {
		orchOpts = append(orchOpts, calls.WithVoicemailMessage(cfg.VoicemailMessage))
	}
	orchestrator := calls.NewOrchestrator(attemptStore, live, voiceClient, sink, alertService, logger, orchOpts...)

	// Reminder notifications.
	var smsSender notify.SMSSender
	if cfg.ReminderSMSFrom != "" {
		smsSender, err = notify.NewTelnyxSMSSender(notify.TelnyxSMSConfig{
			APIKey:     cfg.TelnyxAPIKey,
			FromNumber: cfg.ReminderSMSFrom,
			Logger:     logger,
		})
		if err != nil {
			logger.Error("failed to create SMS sender", "error", err)
			os.Exit(1)
		}
	}
	var primaryEmail, fallbackEmail notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		primaryEmail = sg
	}
	if sesSender != nil {
		fallbackEmail = sesSender
	}
	emailSender := notify.NewFallbackEmailSender(primaryEmail, fallbackEmail, logger)
	reminders := notify.NewReminderService(smsSender, emailSender, recordStore, cfg.SendGridFromName, logger)

	// Daily dispatch cycle.
	businessHours, err := scheduler.ParseWindow(cfg.BusinessHoursStart + "-" + cfg.BusinessHoursEnd)
	if err != nil {
		logger.Error("invalid business hours", "error", err)
		os.Exit(1)
	}
	windows := [3]scheduler.Window{}
	for i, raw := range []string{cfg.Attempt1Window, cfg.Attempt2Window, cfg.Attempt3Window} {
		windows[i], err = scheduler.ParseWindow(raw)
		if err != nil {
			logger.Error("invalid attempt window", "window", raw, "error", err)
			os.Exit(1)
		}
	}
	sched := scheduler.NewScheduler(apptStore, patientRepo, attemptStore, orchestrator, reminders,
		scheduler.NewCycleStore(pool), scheduler.NewCycleLock(rdb, cfg.SchedulerInterval), logger).
		WithTimezone(clinicTZ).
		WithRestDay(cfg.RestDayWeekday()).
		WithBusinessHours(businessHours).
		WithAttemptWindows(windows[0], windows[1], windows[2]).
		WithJitterMax(cfg.DispatchJitterMax).
		WithInterval(cfg.SchedulerInterval).
		WithWorkers(cfg.DispatchWorkers)
	go sched.Run(ctx)

	// HTTP surface.
	routerCfg := &router.Config{
		Logger:            logger,
		Imports:           handlers.NewImportHandler(resolver, logger),
		TelephonyWebhooks: handlers.NewTelephonyWebhookHandler(voiceClient, processedStore, orchestrator, logger),
		AdminDashboard:    handlers.NewPrevisitDashboardHandler(sqlDB, logger).WithGatherer(registry),
		AdminResponses:    handlers.NewAdminResponsesHandler(responseStore, logger),
		CallStream:        handlers.NewCallStreamHandler(live, logger),

		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	if interviewClient != nil {
		routerCfg.InterviewWebhooks = handlers.NewInterviewWebhookHandler(interviewClient, processedStore, orchestrator, logger)
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
