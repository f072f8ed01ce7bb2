package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// DefaultMaxAttempts is the claim ceiling applied when a job is enqueued.
const DefaultMaxAttempts = 3

// Job is one unit of queued chart-processing work (database row, jobs table).
type Job struct {
	JobID        string
	ChartID      string
	Payload      Payload
	Status       Status
	Attempts     int
	MaxAttempts  int
	WorkerID     *string
	LockedAt     *time.Time
	ErrorMessage *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// PermanentlyFailed reports whether the job has exhausted its attempts.
// Only meaningful when Status is Failed.
func (j *Job) PermanentlyFailed() bool {
	return j.Status == Failed && j.Attempts >= j.MaxAttempts
}

// Document is one uploaded file attached to a chart. URL is a fetchable
// reference (https:// or s3://); the object itself was uploaded before
// the job was enqueued.
type Document struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ChartInfo is the chart metadata forwarded to the AI collaborators.
type ChartInfo struct {
	ChartID     string `json:"chart_id"`
	Provider    string `json:"provider,omitempty"`
	Specialty   string `json:"specialty,omitempty"`
	ServiceDate string `json:"service_date,omitempty"`
}

// Payload is the job payload, written once at enqueue time and read by
// the claiming worker.
type Payload struct {
	Chart     ChartInfo  `json:"chart"`
	Documents []Document `json:"documents"`
}

func (p Payload) Validate() error {
	if p.Chart.ChartID == "" {
		return errors.New("payload: chart_id is required")
	}
	if len(p.Documents) == 0 {
		return errors.New("payload: at least one document is required")
	}
	for _, d := range p.Documents {
		if d.URL == "" {
			return errors.Errorf("payload: document %q has no url", d.ID)
		}
	}
	return nil
}

func (p Payload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	return b, errors.Wrap(err, "marshal payload")
}

func UnmarshalPayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, errors.Wrap(err, "unmarshal payload")
	}
	return p, nil
}
