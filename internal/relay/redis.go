package relay

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/chartq/internal/domain"
)

// RedisPublisher fans phase events out over Redis pub/sub, one channel per
// chart, so a relay process can subscribe per connected client.
type RedisPublisher struct {
	rdb *r.Client
}

func NewRedisPublisher(rdb *r.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Channel returns the pub/sub channel for a chart's status stream.
func Channel(chartID string) string {
	return "chart-status:" + chartID
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.PhaseEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal phase event")
	}
	if err := p.rdb.Publish(ctx, Channel(ev.ChartID), body).Err(); err != nil {
		return errors.Wrap(err, "publish phase event")
	}
	return nil
}
