package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/you/chartq/internal/domain"
)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	s := New(db, zap.NewNop())
	return s, mock, func() { db.Close() }
}

var jobCols = []string{
	"job_id", "chart_id", "payload", "status", "attempts", "max_attempts",
	"worker_id", "locked_at", "error_message", "created_at", "started_at", "completed_at",
}

const testPayload = `{"chart":{"chart_id":"chart-1"},"documents":[{"id":"d1","url":"https://files/d1.pdf"}]}`

func addJobRow(rows *sqlmock.Rows, jobID, status string, attempts, maxAttempts int) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(jobID, "chart-1", []byte(testPayload), status, attempts, maxAttempts,
		nil, nil, nil, now, nil, nil)
}

func TestAdd(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	mock.ExpectQuery("insert into jobs").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	payload := domain.Payload{
		Chart:     domain.ChartInfo{ChartID: "chart-1"},
		Documents: []domain.Document{{ID: "d1", URL: "https://files/d1.pdf"}},
	}
	job, err := s.Add(context.Background(), "chart-1", payload)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if job.Status != domain.Pending {
		t.Errorf("got status %s, want pending", job.Status)
	}
	if job.Attempts != 0 {
		t.Errorf("got attempts %d, want 0", job.Attempts)
	}
	if job.MaxAttempts != domain.DefaultMaxAttempts {
		t.Errorf("got max_attempts %d, want %d", job.MaxAttempts, domain.DefaultMaxAttempts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestAdd_InvalidPayload(t *testing.T) {
	s, _, closeDB := newMockService(t)
	defer closeDB()

	_, err := s.Add(context.Background(), "chart-1", domain.Payload{
		Chart: domain.ChartInfo{ChartID: "chart-1"},
	})
	if err == nil {
		t.Fatal("expected validation error for empty document list")
	}
}

// The claim must select the oldest eligible row with skip-locked semantics
// inside a single transaction. We assert the generated SQL, not the
// database behavior (that is Postgres's contract).
func TestClaimNext_QueryStructure(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`select job_id from jobs`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	job, err := s.ClaimNext(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if job != nil {
		t.Errorf("expected claim miss, got job %v", job)
	}

	// a second pass pinning the locking and ordering clauses
	mock.ExpectBegin()
	mock.ExpectQuery(`order by created_at asc\s+for update skip locked\s+limit 1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := s.ClaimNext(context.Background(), "worker-1"); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClaimNext_Success(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(`select job_id from jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}).AddRow("job-1"))

	rows := sqlmock.NewRows(jobCols)
	now := time.Now()
	worker := "worker-1"
	rows.AddRow("job-1", "chart-1", []byte(testPayload), "processing", 1, 3,
		worker, now, nil, now, now, nil)
	mock.ExpectQuery(`update jobs`).
		WithArgs("worker-1", "job-1").
		WillReturnRows(rows)
	mock.ExpectCommit()

	job, err := s.ClaimNext(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if job.Status != domain.Processing {
		t.Errorf("got status %s, want processing", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("got attempts %d, want 1", job.Attempts)
	}
	if job.WorkerID == nil || *job.WorkerID != "worker-1" {
		t.Errorf("got worker_id %v, want worker-1", job.WorkerID)
	}
	if job.Payload.Chart.ChartID != "chart-1" {
		t.Errorf("payload not decoded: %+v", job.Payload)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestComplete_Idempotent(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	// first completion flips the row
	mock.ExpectExec(`update jobs`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`from jobs where job_id`).
		WillReturnRows(addJobRow(sqlmock.NewRows(jobCols), "job-1", "completed", 1, 3))

	job, err := s.Complete(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("first Complete failed: %v", err)
	}
	if job.Status != domain.Completed {
		t.Errorf("got status %s, want completed", job.Status)
	}

	// second completion touches no rows and must not error
	mock.ExpectExec(`update jobs`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`from jobs where job_id`).
		WillReturnRows(addJobRow(sqlmock.NewRows(jobCols), "job-1", "completed", 1, 3))

	job, err = s.Complete(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("repeat Complete errored: %v", err)
	}
	if job.Status != domain.Completed {
		t.Errorf("got status %s, want completed", job.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFail_Retryable(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	mock.ExpectQuery(`update jobs`).
		WithArgs("job-1", "ocr exploded").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "max_attempts"}).AddRow(1, 3))

	res, err := s.Fail(context.Background(), "job-1", "ocr exploded")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if res.PermanentlyFailed {
		t.Error("attempt 1 of 3 must not be permanent")
	}
	if res.Attempts != 1 {
		t.Errorf("got attempts %d, want 1", res.Attempts)
	}
	if res.RetryAfter != 10*time.Second {
		t.Errorf("got retry_after %v, want 10s", res.RetryAfter)
	}
}

func TestFail_Permanent(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	mock.ExpectQuery(`update jobs`).
		WithArgs("job-1", "ai coding: boom").
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "max_attempts"}).AddRow(3, 3))

	res, err := s.Fail(context.Background(), "job-1", "ai coding: boom")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if !res.PermanentlyFailed {
		t.Error("attempt 3 of 3 must be permanent")
	}
	if res.RetryAfter != 40*time.Second {
		t.Errorf("got retry_after %v, want 40s", res.RetryAfter)
	}
}

func TestFail_UnknownJob(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	mock.ExpectQuery(`update jobs`).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Fail(context.Background(), "nope", "x")
	if err != ErrJobNotFound {
		t.Errorf("got %v, want ErrJobNotFound", err)
	}
}

func TestReleaseStuck(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	rows := sqlmock.NewRows(jobCols)
	addJobRow(rows, "job-1", "pending", 1, 3)
	addJobRow(rows, "job-2", "pending", 2, 3)
	mock.ExpectQuery(`update jobs`).
		WithArgs(float64(1800)).
		WillReturnRows(rows)

	released, err := s.ReleaseStuck(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("ReleaseStuck failed: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("got %d released jobs, want 2", len(released))
	}
	for _, j := range released {
		if j.Status != domain.Pending {
			t.Errorf("job %s: got status %s, want pending", j.JobID, j.Status)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStats(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	mock.ExpectQuery(`select`).
		WillReturnRows(sqlmock.NewRows(
			[]string{"pending", "processing", "completed", "permanently_failed", "retrying"}).
			AddRow(4, 2, 10, 1, 3))

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := Stats{Pending: 4, Processing: 2, Completed: 10, PermanentlyFailed: 1, Retrying: 3}
	if st != want {
		t.Errorf("got %+v, want %+v", st, want)
	}
}

func TestGet_NotFound(t *testing.T) {
	s, mock, closeDB := newMockService(t)
	defer closeDB()

	mock.ExpectQuery(`from jobs where job_id`).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	if err != ErrJobNotFound {
		t.Errorf("got %v, want ErrJobNotFound", err)
	}
}
