package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"boxbridge/internal/api"
	"boxbridge/internal/config"
	"boxbridge/internal/database"
	"boxbridge/internal/service"
	"boxbridge/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// agent holds what every command needs: configuration, logger and the resources to release on exit
type agent struct {
	cfg     *config.Config
	logger  *zap.Logger
	closers []func()
}

func newAgent() (*agent, error) {
	logger, err := initLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_host", cfg.Database.Host),
		zap.Int("num_chains", len(cfg.Chains)))

	return &agent{cfg: cfg, logger: logger}, nil
}

func (a *agent) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition
func (a *agent) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.logger.Sync()
}

func (a *agent) connectDB() (*database.DB, error) {
	db, err := database.Connect(database.Config{
		Host:     a.cfg.Database.Host,
		Port:     a.cfg.Database.Port,
		User:     a.cfg.Database.User,
		Password: a.cfg.Database.Password,
		DBName:   a.cfg.Database.DBName,
		SSLMode:  a.cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(func() { db.Close() })

	a.logger.Info("Database connected successfully")
	return db, nil
}

// cooldowns returns the log and submit cooldowns, shared through redis when configured
func (a *agent) cooldowns(ctx context.Context) (worker.Cooldown, worker.Cooldown) {
	memory := func() (worker.Cooldown, worker.Cooldown) {
		return worker.NewMemoryCooldown(worker.SystemClock{}), worker.NewMemoryCooldown(worker.SystemClock{})
	}

	if a.cfg.Redis.Addr == "" {
		return memory()
	}

	client, err := worker.NewRedisClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		a.logger.Warn("Redis unavailable, keeping cooldowns in memory",
			zap.String("addr", a.cfg.Redis.Addr),
			zap.Error(err))
		return memory()
	}
	a.onClose(func() { client.Close() })

	a.logger.Info("Sharing cooldowns through redis", zap.String("addr", a.cfg.Redis.Addr))
	logger := a.logger.Named("cooldown")
	return worker.NewRedisCooldown(client, "boxbridge:log:", true, logger),
		worker.NewRedisCooldown(client, "boxbridge:submit:", false, logger)
}

// httpServer builds the read API server
func (a *agent) httpServer(db *database.DB, fees service.WithdrawFeeEstimator, gas service.GasPriceReader, metrics http.Handler) *http.Server {
	estimates := service.NewEstimateService(db, fees, gas, a.cfg.Worker.EstimateGasMultiplierBps, a.logger.Named("estimate"))
	handler := api.NewHandler(db, estimates, !a.cfg.IsProduction(), a.logger.Named("api"))

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      api.SetupRouter(handler, metrics, a.logger.Named("api")),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// serveUntilSignal runs server until SIGINT or SIGTERM, then stops manager (if any) and the server
func (a *agent) serveUntilSignal(ctx context.Context, server *http.Server, manager *worker.WorkerManager) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down service...")

		// Shutdown workers first
		if manager != nil {
			if err := manager.Shutdown(shutdownTimeout); err != nil {
				a.logger.Error("Worker shutdown error", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}

		a.logger.Info("HTTP server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("Service stopped successfully")
	return nil
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
