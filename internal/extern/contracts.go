// Package extern holds the contracts for the external collaborators the
// worker delegates to (OCR extraction, AI coding, AI summaries) and thin
// HTTP adapters for wiring real services into the binaries. The pipeline
// only ever sees the interfaces.
package extern

import (
	"context"
	"encoding/json"
	"time"

	"github.com/you/chartq/internal/domain"
)

// OCRResult is the outcome of text extraction for a single document.
type OCRResult struct {
	Text           string
	ProcessingTime time.Duration
}

// OCRClient extracts text from a local file.
type OCRClient interface {
	ExtractText(ctx context.Context, path, documentType string) (OCRResult, error)
}

// FormattedDocument is one successfully extracted document, shaped for the
// AI collaborators.
type FormattedDocument struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name,omitempty"`
	Type       string `json:"type,omitempty"`
	Text       string `json:"text"`
}

// CodingClient produces the structured coding result for a chart from its
// extracted documents.
type CodingClient interface {
	ProcessForCoding(ctx context.Context, docs []FormattedDocument, chart domain.ChartInfo) (json.RawMessage, error)
}

// SummaryClient produces a per-document summary. Best-effort: callers
// treat failures as non-fatal.
type SummaryClient interface {
	GenerateSummary(ctx context.Context, doc FormattedDocument, chart domain.ChartInfo) (json.RawMessage, error)
}
