package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/you/chartq/internal/api"
	"github.com/you/chartq/internal/charts"
	"github.com/you/chartq/internal/config"
	"github.com/you/chartq/internal/queue"
	"github.com/you/chartq/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.AppEnv)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer db.Close()

	if err := storage.Migrate(db, "migrations"); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	q := queue.New(db, logger, queue.WithMaxAttempts(cfg.MaxAttempts))
	proj := charts.NewProjection(db)
	srv := api.NewServer(q, proj, logger)

	httpSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("serve", zap.Error(err))
	}
	logger.Info("api stopped")
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
