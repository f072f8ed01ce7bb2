// Package charts maintains the denormalized ai_status projection on the
// charts table. The worker loop is the single writer; clients only read.
package charts

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/you/chartq/internal/domain"
)

type Projection struct {
	db *sql.DB
}

func NewProjection(db *sql.DB) *Projection {
	return &Projection{db: db}
}

// Ensure upserts the chart row so the projection has somewhere to land.
// Called from the enqueue path; a no-op if the chart already exists.
func (p *Projection) Ensure(ctx context.Context, chartID string) error {
	_, err := p.db.ExecContext(ctx, `
		insert into charts (id, ai_status)
		values ($1, 'queued')
		on conflict (id) do nothing`,
		chartID)
	return errors.Wrap(err, "ensure chart")
}

// MarkProcessing stamps processing_started_at on the first transition of
// an attempt.
func (p *Projection) MarkProcessing(ctx context.Context, chartID string) error {
	_, err := p.db.ExecContext(ctx, `
		update charts
		set ai_status = 'processing',
		    processing_started_at = coalesce(processing_started_at, now()),
		    error_message = null,
		    updated_at = now()
		where id = $1`,
		chartID)
	return errors.Wrap(err, "mark chart processing")
}

// MarkReady persists the pipeline results and the terminal success status.
func (p *Projection) MarkReady(ctx context.Context, chartID string, results domain.ChartResults) error {
	body, err := json.Marshal(results)
	if err != nil {
		return errors.Wrap(err, "marshal chart results")
	}
	_, err = p.db.ExecContext(ctx, `
		update charts
		set ai_status = 'ready',
		    ai_results = $2,
		    error_message = null,
		    processing_completed_at = now(),
		    updated_at = now()
		where id = $1`,
		chartID, body)
	return errors.Wrap(err, "mark chart ready")
}

// MarkFailed is the terminal failure transition: attempts exhausted, no
// further automatic retry.
func (p *Projection) MarkFailed(ctx context.Context, chartID, errorMessage string) error {
	_, err := p.db.ExecContext(ctx, `
		update charts
		set ai_status = 'failed',
		    error_message = $2,
		    processing_completed_at = now(),
		    updated_at = now()
		where id = $1`,
		chartID, errorMessage)
	return errors.Wrap(err, "mark chart failed")
}

// MarkRetryPending records a transient failure; the job remains
// reclaimable and a later attempt may still bring the chart to ready.
func (p *Projection) MarkRetryPending(ctx context.Context, chartID string, attempts int, errorMessage string) error {
	_, err := p.db.ExecContext(ctx, `
		update charts
		set ai_status = 'retry_pending',
		    attempt_count = $2,
		    error_message = $3,
		    updated_at = now()
		where id = $1`,
		chartID, attempts, errorMessage)
	return errors.Wrap(err, "mark chart retry pending")
}
