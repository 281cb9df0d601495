// Command server starts the generation API's HTTP surface: request
// admission, job status/history, cancellation, and the admin surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/forgelabs/genflow/internal/adapter/gpu"
	gpucaption "github.com/forgelabs/genflow/internal/adapter/gpu/caption"
	gpureal "github.com/forgelabs/genflow/internal/adapter/gpu/real"
	gpustub "github.com/forgelabs/genflow/internal/adapter/gpu/stub"
	"github.com/forgelabs/genflow/internal/adapter/httpserver"
	"github.com/forgelabs/genflow/internal/adapter/queue/redpanda"
	"github.com/forgelabs/genflow/internal/adapter/repo/postgres"
	"github.com/forgelabs/genflow/internal/app"
	"github.com/forgelabs/genflow/internal/config"
	"github.com/forgelabs/genflow/internal/domain"
	"github.com/forgelabs/genflow/internal/observability"
	"github.com/forgelabs/genflow/internal/service/ratelimiter"
	"github.com/forgelabs/genflow/internal/usecase/admission"
	"github.com/forgelabs/genflow/internal/usecase/cancellation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	queueProducer, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, "genflow-server-producer")
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueProducer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	jobRepo := postgres.NewJobRepo(pool)
	creditRepo := postgres.NewCreditRepo(pool)
	errSink := postgres.NewErrorSink(pool, logger)

	limiter := ratelimiter.NewSlidingWindowLimiter(rdb, pool, ratelimiter.DefaultActionConfigs(cfg.RateLimitPerMin))

	providers := buildProviders(cfg)
	captioner := gpucaption.New(cfg.CaptionProviderName, cfg.CaptionEndpoint, cfg.CaptionAPIKey)
	orchestrator := gpu.New(cfg, providers, captioner)

	adm := admission.New(jobRepo, queueProducer, limiter, creditRepo, errSink)
	cancel := cancellation.New(jobRepo, creditRepo, errSink)

	sessions := httpserver.NewSessionManager(cfg)
	dbCheck, queueCheck, limiterCheck := app.BuildReadinessChecks(pool, queueProducer, rdb)

	srv := httpserver.NewServer(cfg, adm, cancel, jobRepo, orchestrator, dbCheck, queueCheck, limiterCheck, sessions)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancelShutdown()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// buildProviders loads the configured GPU endpoint table and builds a real
// client per entry; any of GPUPrimary/GPUFallback missing from the table
// falls back to the deterministic stub, so a box with no GPU credentials
// configured still serves generation requests end to end.
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
