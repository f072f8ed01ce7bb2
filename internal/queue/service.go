// Package queue implements the durable job queue on top of the jobs table.
//
// Claims run inside a single transaction using SELECT ... FOR UPDATE SKIP
// LOCKED, so concurrent workers never block on each other and never claim
// the same row. Retry eligibility is evaluated from status + attempts at
// claim time; there is no schedule column.
package queue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/chartq/internal/domain"
)

// ErrJobNotFound is returned when an operation references an unknown job_id.
var ErrJobNotFound = errors.New("queue: job not found")

// statsWindow bounds the Stats aggregate to recent jobs.
const statsWindow = 24 * time.Hour

// retryBackoffBase seeds the advisory RetryAfter (base * 2^(attempts-1)).
const retryBackoffBase = 10 * time.Second

type Service struct {
	db  *sql.DB
	log *zap.Logger

	maxAttempts int
}

type Option func(*Service)

// WithMaxAttempts overrides the attempt ceiling stamped on new jobs.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func New(db *sql.DB, log *zap.Logger, opts ...Option) *Service {
	s := &Service{db: db, log: log, maxAttempts: domain.DefaultMaxAttempts}
	for _, o := range opts {
		o(s)
	}
	return s
}

const jobColumns = `job_id, chart_id, payload, status, attempts, max_attempts,
worker_id, locked_at, error_message, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*domain.Job, error) {
	var (
		j       domain.Job
		payload []byte
	)
	err := r.Scan(&j.JobID, &j.ChartID, &payload, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.WorkerID, &j.LockedAt, &j.ErrorMessage,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	j.Payload, err = domain.UnmarshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Add inserts a pending job with attempts=0. The payload is validated
// before it is persisted.
func (s *Service) Add(ctx context.Context, chartID string, payload domain.Payload) (*domain.Job, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	body, err := payload.Marshal()
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx, `
		insert into jobs (job_id, chart_id, payload, status, attempts, max_attempts)
		values ($1, $2, $3, 'pending', 0, $4)
		returning created_at`,
		jobID, chartID, body, s.maxAttempts).Scan(&createdAt)
	if err != nil {
		return nil, errors.Wrap(err, "insert job")
	}

	s.log.Info("job enqueued", zap.String("job_id", jobID), zap.String("chart_id", chartID),
		zap.Int("documents", len(payload.Documents)))

	return &domain.Job{
		JobID:       jobID,
		ChartID:     chartID,
		Payload:     payload,
		Status:      domain.Pending,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   createdAt,
	}, nil
}

// ClaimNext atomically claims the oldest eligible job for workerID.
// Eligible means pending, or failed with attempts remaining. Returns
// (nil, nil) when no work is available.
//
// Ordering is FIFO by original created_at: a job that failed and became
// eligible again keeps its place in line.
func (s *Service) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin claim tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var jobID string
	err = tx.QueryRowContext(ctx, `
		select job_id from jobs
		where status = 'pending'
		   or (status = 'failed' and attempts < max_attempts)
		order by created_at asc
		for update skip locked
		limit 1`).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select claim candidate")
	}

	row := tx.QueryRowContext(ctx, `
		update jobs
		set status = 'processing',
		    worker_id = $1,
		    locked_at = now(),
		    started_at = coalesce(started_at, now()),
		    attempts = attempts + 1
		where job_id = $2
		returning `+jobColumns,
		workerID, jobID)
	job, err := scanJob(row)
	if err != nil {
		return nil, errors.Wrap(err, "mark job processing")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit claim tx")
	}

	s.log.Debug("job claimed", zap.String("job_id", job.JobID),
		zap.String("worker_id", workerID), zap.Int("attempt", job.Attempts))
	return job, nil
}

// Complete finalizes a job. Completing an already-completed job is a no-op
// that returns the row unchanged.
func (s *Service) Complete(ctx context.Context, jobID string) (*domain.Job, error) {
	_, err := s.db.ExecContext(ctx, `
		update jobs
		set status = 'completed',
		    completed_at = now(),
		    worker_id = null,
		    locked_at = null
		where job_id = $1 and status <> 'completed'`,
		jobID)
	if err != nil {
		return nil, errors.Wrap(err, "complete job")
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.Completed {
		return nil, errors.Errorf("queue: job %s not completed (status %s)", jobID, job.Status)
	}
	return job, nil
}

// FailResult tells the caller how a failure landed. RetryAfter is advisory
// only; the row is reclaimable immediately and pacing is left to the
// worker's poll interval.
type FailResult struct {
	PermanentlyFailed bool
	Attempts          int
	RetryAfter        time.Duration
}

// Fail records a failure and releases the lock. The job stays failed; a
// subsequent claim picks it up again while attempts remain.
func (s *Service) Fail(ctx context.Context, jobID, errorMessage string) (FailResult, error) {
	var attempts, maxAttempts int
	err := s.db.QueryRowContext(ctx, `
		update jobs
		set status = 'failed',
		    error_message = $2,
		    worker_id = null,
		    locked_at = null
		where job_id = $1
		returning attempts, max_attempts`,
		jobID, errorMessage).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return FailResult{}, ErrJobNotFound
	}
	if err != nil {
		return FailResult{}, errors.Wrap(err, "fail job")
	}

	res := FailResult{
		PermanentlyFailed: attempts >= maxAttempts,
		Attempts:          attempts,
		RetryAfter:        retryBackoffBase << uint(max(attempts-1, 0)),
	}
	s.log.Info("job failed", zap.String("job_id", jobID), zap.Int("attempts", attempts),
		zap.Bool("permanent", res.PermanentlyFailed), zap.String("error", errorMessage))
	return res, nil
}

// ReleaseStuck resets processing jobs whose lock predates the threshold,
// making them pending again. Safe to run alongside active workers: rows
// with a fresh locked_at are untouched.
func (s *Service) ReleaseStuck(ctx context.Context, threshold time.Duration) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		update jobs
		set status = 'pending',
		    worker_id = null,
		    locked_at = null,
		    error_message = 'released: lock exceeded staleness threshold, worker presumed dead'
		where status = 'processing'
		  and locked_at < now() - ($1 * interval '1 second')
		returning `+jobColumns,
		threshold.Seconds())
	if err != nil {
		return nil, errors.Wrap(err, "release stuck jobs")
	}
	defer rows.Close()

	var released []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan released job")
		}
		released = append(released, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate released jobs")
	}

	if len(released) > 0 {
		s.log.Warn("released stuck jobs", zap.Int("count", len(released)))
	}
	return released, nil
}

// Stats holds per-bucket counts over the recent window.
type Stats struct {
	Pending           int `json:"pending"`
	Processing        int `json:"processing"`
	Completed         int `json:"completed"`
	PermanentlyFailed int `json:"permanently_failed"`
	Retrying          int `json:"retrying"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		select
		    count(*) filter (where status = 'pending'),
		    count(*) filter (where status = 'processing'),
		    count(*) filter (where status = 'completed'),
		    count(*) filter (where status = 'failed' and attempts >= max_attempts),
		    count(*) filter (where status = 'failed' and attempts < max_attempts)
		from jobs
		where created_at > now() - ($1 * interval '1 second')`,
		statsWindow.Seconds()).
		Scan(&st.Pending, &st.Processing, &st.Completed, &st.PermanentlyFailed, &st.Retrying)
	if err != nil {
		return Stats{}, errors.Wrap(err, "queue stats")
	}
	return st, nil
}

// Get fetches a single job by job_id.
func (s *Service) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+jobColumns+` from jobs where job_id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	return job, nil
}
