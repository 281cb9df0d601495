// Command worker drives jobs off the per-kind Redpanda queues through
// generation, moderation, and notification, and runs the background
// DLQ-cooldown and stuck-job-sweep processes alongside it.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgelabs/genflow/internal/adapter/gpu"
	gpucaption "github.com/forgelabs/genflow/internal/adapter/gpu/caption"
	gpureal "github.com/forgelabs/genflow/internal/adapter/gpu/real"
	gpustub "github.com/forgelabs/genflow/internal/adapter/gpu/stub"
	moderationclassifier "github.com/forgelabs/genflow/internal/adapter/moderation"
	"github.com/forgelabs/genflow/internal/adapter/queue/redpanda"
	"github.com/forgelabs/genflow/internal/adapter/repo/postgres"
	"github.com/forgelabs/genflow/internal/config"
	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
	"github.com/forgelabs/genflow/internal/service/ledger"
	"github.com/forgelabs/genflow/internal/service/moderation"
	"github.com/forgelabs/genflow/internal/service/notify"
	"github.com/forgelabs/genflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))
	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	jobRepo := postgres.NewJobRepo(pool)
	creditRepo := postgres.NewCreditRepo(pool)
	prefRepo := postgres.NewPreferenceRepo(pool)
	reviewQueue := postgres.NewReviewQueue(pool)
	errSink := postgres.NewErrorSink(pool, logger)
	creditLedger := ledger.New(creditRepo, errSink, 0)

	queueProducer, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, "genflow-worker-producer")
	if err != nil {
		slog.Error("queue producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueProducer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	dlqProducer, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, "genflow-worker-dlq-producer")
	if err != nil {
		slog.Error("dlq producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dlqProducer.Close(); err != nil {
			slog.Error("failed to close dlq producer", slog.Any("error", err))
		}
	}()

	retryManager := redpanda.NewRetryManager(queueProducer, dlqProducer, jobRepo, creditLedger, cfg)

	providers := buildProviders(cfg)
	captioner := gpucaption.New(cfg.CaptionProviderName, cfg.CaptionEndpoint, cfg.CaptionAPIKey)
	orchestrator := gpu.New(cfg, providers, captioner)

	classifier := moderationclassifier.New(cfg.ModerationClassifierURL, cfg.ModerationClassifierAPIKey, cfg.ModerationClassifierTimeout)
	enforcer := moderation.NewEnforcer(classifier, reviewQueue, jobRepo)
	dispatcher := notify.New(notify.LogNotifier{}, prefRepo)

	jobWorker := worker.New(jobRepo, orchestrator, enforcer, dispatcher, errSink)

	minWorkers := cfg.ConsumerMaxConcurrency / 2
	if cfg.ConsumerMaxConcurrency <= 1 {
		minWorkers = 1
	} else if minWorkers < 2 {
		minWorkers = 2
	}
	maxWorkers := cfg.ConsumerMaxConcurrency
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}

	slog.Info("worker scaling configuration",
		slog.Int("min_workers", minWorkers),
		slog.Int("max_workers", maxWorkers),
		slog.Duration("scaling_interval", cfg.WorkerScalingInterval),
		slog.Duration("idle_timeout", cfg.WorkerIdleTimeout))

	// One consumer and one DLQ consumer per job kind (§4.5): each kind has its
	// own topic pair, but all three share the same Worker and RetryManager
	// since HandleJob already dispatches internally on the job's kind.
	var consumers []*redpanda.Consumer
	var dlqConsumers []*redpanda.DLQConsumer
	for _, kind := range redpanda.AllKinds {
		c, err := redpanda.NewConsumer(cfg.KafkaBrokers, "genflow-workers", kind, jobWorker, minWorkers, maxWorkers)
		if err != nil {
			slog.Error("consumer init failed", slog.String("kind", string(kind)), slog.Any("error", err))
			os.Exit(1)
		}
		c.WithRetryManager(retryManager)
		consumers = append(consumers, c)

		d, err := redpanda.NewDLQConsumer(cfg.KafkaBrokers, "genflow-dlq-workers", kind, retryManager, cfg.DLQRateLimitCooldown)
		if err != nil {
			slog.Error("dlq consumer init failed", slog.String("kind", string(kind)), slog.Any("error", err))
			os.Exit(1)
		}
		dlqConsumers = append(dlqConsumers, d)
	}

	for _, c := range consumers {
		c := c
		go func() {
			if err := c.Start(ctx); err != nil {
				slog.Error("consumer error", slog.Any("error", err))
			}
		}()
	}
	for _, d := range dlqConsumers {
		d := d
		if err := d.Start(ctx); err != nil {
			slog.Error("dlq consumer start error", slog.Any("error", err))
		}
		defer d.Close()
	}
	defer func() {
		for _, c := range consumers {
			_ = c.Close()
		}
	}()

	if sweeper := worker.NewStuckJobSweeper(jobRepo, queueProducer, creditLedger, cfg.StuckJobMaxAge, cfg.StuckJobSweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	slog.Info("worker started successfully, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
}

// buildProviders mirrors the server binary's provider construction so both
// processes agree on which providers exist and in what fallback order.
func buildProviders(cfg config.Config) []domain.Provider {
	names := append([]string{cfg.GPUPrimary}, cfg.GPUFallback...)

	var table []gpu.EndpointConfig
	if cfg.GPUEndpointTablePath != "" {
		t, err := gpu.LoadEndpointTable(cfg.GPUEndpointTablePath)
		if err != nil {
			slog.Warn("gpu endpoint table load failed, falling back to stub providers", slog.Any("error", err))
		} else {
			table = t
		}
	}
	byName := make(map[string]gpu.EndpointConfig, len(table))
	for _, e := range table {
		byName[e.Name] = e
	}

	providers := make([]domain.Provider, 0, len(names))
	for _, name := range names {
		if e, ok := byName[name]; ok {
			providers = append(providers, gpureal.New(e, cfg.GPUPollInterval))
			continue
		}
		slog.Warn("gpu provider not in endpoint table, using stub", slog.String("provider", name))
		providers = append(providers, gpustub.New(name))
	}
	return providers
}
