// Package relay carries phase-transition events from the worker to
// whatever forwards them to clients. Delivery is fire-and-forget: a
// publish error never affects the outcome of the job that emitted it.
package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/you/chartq/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, ev domain.PhaseEvent) error
}

// LogPublisher writes phase events to the log. Used when no Redis
// transport is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev domain.PhaseEvent) error {
	p.log.Info("phase event",
		zap.String("chart_id", ev.ChartID),
		zap.String("job_id", ev.JobID),
		zap.String("phase", string(ev.Phase)),
		zap.String("message", ev.Message))
	return nil
}
