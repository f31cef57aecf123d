package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tshla/previsit-platform/cmd/mainconfig"
	"github.com/tshla/previsit-platform/internal/alerting"
	"github.com/tshla/previsit-platform/internal/appointments"
	"github.com/tshla/previsit-platform/internal/archive"
	"github.com/tshla/previsit-platform/internal/calls"
	appconfig "github.com/tshla/previsit-platform/internal/config"
	"github.com/tshla/previsit-platform/internal/extraction"
	"github.com/tshla/previsit-platform/internal/jobs"
	"github.com/tshla/previsit-platform/internal/observability/metrics"
	"github.com/tshla/previsit-platform/internal/patients"
	"github.com/tshla/previsit-platform/internal/responses"
	"github.com/tshla/previsit-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	var queue jobs.Queue
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory extraction queue, jobs are lost on restart")
		queue = jobs.NewMemoryQueue(0)
	} else {
		queue = jobs.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.ExtractionQueueURL)
	}
	jobStore := jobs.NewJobStore(dynamodb.NewFromConfig(awsConfig), cfg.ExtractionJobsTable, logger)

	// Bedrock is the primary extraction model; Gemini backstops it when an
	// API key is configured.
	var llm extraction.LLMClient = extraction.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsConfig))
	if cfg.GeminiAPIKey != "" {
		gemini, err := extraction.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to create gemini client", "error", err)
			os.Exit(1)
		}
		llm = extraction.NewFallbackLLMClient(llm, gemini, logger)
	}

	registry := prometheus.NewRegistry()
	extractor := extraction.NewExtractor(llm, cfg.BedrockModelID, logger,
		extraction.WithExtractionMetrics(metrics.NewExtractionMetrics(registry)),
		extraction.WithTimeout(cfg.ExtractionTimeout),
	)

	alerter := alerting.NewService(alerting.NewOutboxStore(pool), nil, logger)

	worker := jobs.NewWorker(queue, extractor, responses.NewStore(pool), logger).
		WithJobTracking(jobStore).
		WithVisitContext(patients.NewPostgresRepository(pool), appointments.NewStore(pool)).
		WithAttemptMarker(calls.NewStore(pool)).
		WithAlerter(alerter).
		WithWorkers(4)
	if cfg.TranscriptBucket != "" {
		worker = worker.WithArchiver(archive.NewStore(s3.NewFromConfig(awsConfig), cfg.TranscriptBucket, logger))
	} else {
		logger.Warn("TRANSCRIPT_BUCKET not set, raw transcripts are not archived")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	metricsSrv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	worker.Start(ctx)
	logger.Info("extraction worker started", "workers", 4, "memory_queue", cfg.UseMemoryQueue)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down extraction worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = metricsSrv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("extraction worker stopped")
	case <-doneCtx.Done():
		logger.Error("extraction worker shutdown timed out", "error", doneCtx.Err())
	}
}
