package extern

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chartq/internal/domain"
)

// OCRService calls an HTTP OCR endpoint with the document file attached.
type OCRService struct {
	baseURL string
	httpc   *http.Client
}

func NewOCRService(baseURL string) *OCRService {
	return &OCRService{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type ocrResponse struct {
	Text             string `json:"text"`
	ProcessingMillis int64  `json:"processing_millis"`
}

func (s *OCRService) ExtractText(ctx context.Context, path, documentType string) (OCRResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return OCRResult{}, errors.Wrap(err, "open document file")
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return OCRResult{}, errors.Wrap(err, "build multipart body")
	}
	if _, err := io.Copy(part, f); err != nil {
		return OCRResult{}, errors.Wrap(err, "copy document into request")
	}
	if err := mw.WriteField("document_type", documentType); err != nil {
		return OCRResult{}, errors.Wrap(err, "write document_type field")
	}
	if err := mw.Close(); err != nil {
		return OCRResult{}, errors.Wrap(err, "finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/extract", &body)
	if err != nil {
		return OCRResult{}, errors.Wrap(err, "build ocr request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out ocrResponse
	if err := doJSON(s.httpc, req, &out); err != nil {
		return OCRResult{}, errors.Wrap(err, "ocr extract")
	}
	return OCRResult{
		Text:           out.Text,
		ProcessingTime: time.Duration(out.ProcessingMillis) * time.Millisecond,
	}, nil
}

// AIService calls the coding/summary endpoints of the AI backend.
type AIService struct {
	baseURL string
	httpc   *http.Client
}

func NewAIService(baseURL string) *AIService {
	return &AIService{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 3 * time.Minute},
	}
}

func (s *AIService) ProcessForCoding(ctx context.Context, docs []FormattedDocument, chart domain.ChartInfo) (json.RawMessage, error) {
	var out json.RawMessage
	err := s.postJSON(ctx, "/v1/coding", map[string]any{
		"chart":     chart,
		"documents": docs,
	}, &out)
	return out, errors.Wrap(err, "ai coding")
}

func (s *AIService) GenerateSummary(ctx context.Context, doc FormattedDocument, chart domain.ChartInfo) (json.RawMessage, error) {
	var out json.RawMessage
	err := s.postJSON(ctx, "/v1/summaries", map[string]any{
		"chart":    chart,
		"document": doc,
	}, &out)
	return out, errors.Wrap(err, "ai summary")
}

func (s *AIService) postJSON(ctx context.Context, path string, in any, out *json.RawMessage) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(s.httpc, req, out)
}

func doJSON(httpc *http.Client, req *http.Request, out any) error {
	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
