package domain

import "encoding/json"

// ChartStatus is the denormalized processing status projected onto the
// chart row. The worker loop is its only writer.
type ChartStatus string

const (
	ChartQueued       ChartStatus = "queued"
	ChartProcessing   ChartStatus = "processing"
	ChartReady        ChartStatus = "ready"
	ChartFailed       ChartStatus = "failed"
	ChartRetryPending ChartStatus = "retry_pending"
)

// DocumentOutcome records how one document fared in the pipeline. A failed
// document does not fail the job unless every document failed.
type DocumentOutcome struct {
	DocumentID string          `json:"document_id"`
	Name       string          `json:"name,omitempty"`
	OK         bool            `json:"ok"`
	Error      string          `json:"error,omitempty"`
	OCRMillis  int64           `json:"ocr_millis,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}

// ChartResults is what gets persisted on the chart when a job completes.
type ChartResults struct {
	Coding    json.RawMessage   `json:"coding"`
	Documents []DocumentOutcome `json:"documents"`
}
