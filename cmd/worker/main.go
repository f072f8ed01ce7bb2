package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/chartq/internal/charts"
	"github.com/you/chartq/internal/config"
	"github.com/you/chartq/internal/extern"
	"github.com/you/chartq/internal/fetch"
	"github.com/you/chartq/internal/queue"
	"github.com/you/chartq/internal/relay"
	"github.com/you/chartq/internal/storage"
	"github.com/you/chartq/internal/worker"
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

	var pub relay.Publisher = relay.NewLogPublisher(logger)
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pub = relay.NewRedisPublisher(rdb)
		logger.Info("phase events published to redis", zap.String("addr", cfg.RedisAddr))
	}

	fetchOpts := []fetch.Option{fetch.WithTimeout(cfg.DownloadTimeout)}
	if awsCfg, err := awsconfig.LoadDefaultConfig(ctx); err != nil {
		logger.Warn("aws config unavailable, s3 urls disabled", zap.Error(err))
	} else {
		fetchOpts = append(fetchOpts, fetch.WithS3(s3.NewFromConfig(awsCfg)))
	}
	fetcher := fetch.New(fetchOpts...)

	ocr := extern.NewOCRService(cfg.OCRServiceURL)
	ai := extern.NewAIService(cfg.AIServiceURL)

	hostname, _ := os.Hostname()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerCount; i++ {
		w := worker.New(worker.Config{
			ID:             fmt.Sprintf("%s-%d", hostname, i+1),
			PollInterval:   cfg.PollInterval,
			ErrorBackoff:   cfg.ErrorBackoff,
			StuckThreshold: cfg.StuckThreshold,
		}, q, proj, ocr, ai, ai, fetcher, pub, logger)
		g.Go(func() error { return w.Run(ctx) })
	}

	// periodic sweep alongside the per-worker startup sweep, so stuck jobs
	// are released even when every loop is busy
	g.Go(func() error {
		t := time.NewTicker(cfg.SweepInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				if _, err := q.ReleaseStuck(ctx, cfg.StuckThreshold); err != nil {
					logger.Warn("periodic stuck-job sweep failed", zap.Error(err))
				}
			}
		}
	})

	logger.Info("worker started", zap.Int("loops", cfg.WorkerCount))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker exited", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "dev" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
