// Package api exposes the queue over HTTP: enqueue a chart-processing job,
// fetch a job, read queue stats.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/chartq/internal/domain"
	"github.com/you/chartq/internal/queue"
)

// QueueService is the slice of the queue the API needs.
type QueueService interface {
	Add(ctx context.Context, chartID string, payload domain.Payload) (*domain.Job, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Charts creates the chart row the worker will project status onto.
type Charts interface {
	Ensure(ctx context.Context, chartID string) error
}

type Server struct {
	queue  QueueService
	charts Charts
	log    *zap.Logger
}

func NewServer(q QueueService, charts Charts, log *zap.Logger) *Server {
	return &Server{queue: q, charts: charts, log: log}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/v1/charts/{chartID}/jobs", s.handleEnqueue)
	r.Get("/v1/jobs/{jobID}", s.handleGetJob)
	r.Get("/v1/stats", s.handleStats)
	return r
}

type enqueueRequest struct {
	Chart     domain.ChartInfo  `json:"chart"`
	Documents []domain.Document `json:"documents"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	chartID := chi.URLParam(r, "chartID")

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode request"))
		return
	}
	req.Chart.ChartID = chartID
	payload := domain.Payload{Chart: req.Chart, Documents: req.Documents}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.charts.Ensure(r.Context(), chartID); err != nil {
		s.log.Error("ensure chart failed", zap.String("chart_id", chartID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("store unavailable"))
		return
	}

	job, err := s.queue.Add(r.Context(), chartID, payload)
	if err != nil {
		s.log.Error("enqueue failed", zap.String("chart_id", chartID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("store unavailable"))
		return
	}
	writeJSON(w, http.StatusAccepted, jobJSON(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.queue.Get(r.Context(), jobID)
	if errors.Is(err, queue.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.log.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("store unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, jobJSON(job))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.queue.Stats(r.Context())
	if err != nil {
		s.log.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("store unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type jobResponse struct {
	JobID        string  `json:"job_id"`
	ChartID      string  `json:"chart_id"`
	Status       string  `json:"status"`
	Attempts     int     `json:"attempts"`
	MaxAttempts  int     `json:"max_attempts"`
	ErrorMessage *string `json:"error_message,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func jobJSON(j *domain.Job) jobResponse {
	return jobResponse{
		JobID:        j.JobID,
		ChartID:      j.ChartID,
		Status:       string(j.Status),
		Attempts:     j.Attempts,
		MaxAttempts:  j.MaxAttempts,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
