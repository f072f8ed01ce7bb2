package domain

import "time"

// Phase names one observable step of job execution. Emitted in a fixed
// order, exactly once per phase per attempt.
type Phase string

const (
	PhaseProcessing    Phase = "processing"
	PhaseOCRStarted    Phase = "ocr_started"
	PhaseOCRCompleted  Phase = "ocr_completed"
	PhaseAIStarted     Phase = "ai_started"
	PhaseAICompleted   Phase = "ai_completed"
	PhaseSavingResults Phase = "saving_results"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
)

// PhaseEvent is what the worker hands to the status relay.
type PhaseEvent struct {
	ChartID   string    `json:"chart_id"`
	JobID     string    `json:"job_id"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
