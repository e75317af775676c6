package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/config"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/actiondispatcher"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/bootstrap"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/recurring-action-scheduler/internal/log"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/metrics"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/scheduler"
	httptransport "github.com/ErlanBelekov/recurring-action-scheduler/internal/transport/http"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/transport/http/handler"
	"github.com/lmittmann/tint"
)

func main() {
	cfg, warnings, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())
	for _, w := range warnings {
		logger.Warn("config tunable out of range", "detail", w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	metrics.Register()

	taskRepo := postgres.NewTaskRepository(pool, logger)
	dispatcher := actiondispatcher.NewLogDispatcher(logger)

	sched := bootstrap.New(bootstrap.Options{
		Repo:       taskRepo,
		Dispatcher: dispatcher,
		DB:         pool,
		Logger:     logger,
		EngineCfg: scheduler.EngineConfig{
			SweepInterval:           cfg.SweepInterval(),
			ExecutionTolerance:      cfg.ExecutionTolerance(),
			HealthCheckInterval:     cfg.HealthCheckInterval(),
			TimerCleanupInterval:    cfg.TimerCleanupInterval(),
			MaxTimerDrift:           cfg.MaxTimerDrift(),
			MaxConcurrentExecutions: cfg.MaxConcurrentExecutions,
		},
		ExecCfg: scheduler.ExecutorConfig{
			MaxConcurrentTasks:      cfg.MaxConcurrentTasks,
			DefaultTimeout:          cfg.DefaultTimeout(),
			MaxRetries:              cfg.MaxRetries,
			RetryDelayBase:          cfg.RetryDelayBase(),
			RetryDelayMax:           cfg.RetryDelayMax(),
			QueueTimeout:            cfg.QueueTimeout(),
			GracefulShutdownTimeout: cfg.GracefulShutdownTimeout(),
		},
	})

	if err := sched.Start(ctx); err != nil {
		stop()
		log.Fatalf("scheduler start: %v", err)
	}

	opHandler := handler.NewOperatorHandler(sched, logger)
	router := httptransport.NewRouter(opHandler, []byte(cfg.JWTSecret), logger)
	apiSrv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info("operator http server started", "port", cfg.Port)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("operator http server", "error", err)
		}
	}()

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutdown signal received")

	sched.Stop(cfg.GracefulShutdownTimeout())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("operator http server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
