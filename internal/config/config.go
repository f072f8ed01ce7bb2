package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"dev"`
	APIAddr     string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN string `env:"POSTGRES_DSN,notEmpty"`

	// Redis is optional; when unset, phase events go to the log only.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	WorkerCount    int           `env:"WORKER_COUNT" envDefault:"2"`
	PollInterval   time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	ErrorBackoff   time.Duration `env:"ERROR_BACKOFF" envDefault:"10s"`
	StuckThreshold time.Duration `env:"STUCK_THRESHOLD" envDefault:"30m"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`

	OCRServiceURL   string        `env:"OCR_SERVICE_URL"`
	AIServiceURL    string        `env:"AI_SERVICE_URL"`
	DownloadTimeout time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"60s"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	return c, nil
}
