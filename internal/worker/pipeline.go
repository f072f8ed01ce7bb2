package worker

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/you/chartq/internal/domain"
	"github.com/you/chartq/internal/extern"
)

// process executes one claimed job end to end and reports the outcome to
// the queue and the chart projection. It never returns an error: every
// failure is routed through fail().
func (w *Worker) process(ctx context.Context, job *domain.Job) {
	log := w.log.With(
		zap.String("job_id", job.JobID),
		zap.String("chart_id", job.ChartID),
		zap.Int("attempt", job.Attempts))
	log.Info("processing job", zap.Int("documents", len(job.Payload.Documents)))

	w.emit(ctx, job, domain.PhaseProcessing, "chart processing started")
	if err := w.charts.MarkProcessing(ctx, job.ChartID); err != nil {
		// projection lag is tolerable; the job itself decides the outcome
		log.Warn("mark chart processing failed", zap.Error(err))
	}

	outcomes, formatted := w.runOCR(ctx, job, log)
	if len(formatted) == 0 {
		w.fail(ctx, job, log,
			errors.Errorf("ocr failed for all %d documents", len(job.Payload.Documents)))
		return
	}

	w.emit(ctx, job, domain.PhaseAIStarted,
		fmt.Sprintf("coding %d documents", len(formatted)))
	coding, err := w.coder.ProcessForCoding(ctx, formatted, job.Payload.Chart)
	if err != nil {
		w.fail(ctx, job, log, errors.Wrap(err, "ai coding"))
		return
	}

	w.runSummaries(ctx, job, formatted, outcomes, log)
	w.emit(ctx, job, domain.PhaseAICompleted, "ai coding completed")

	w.emit(ctx, job, domain.PhaseSavingResults, "persisting results")
	results := domain.ChartResults{Coding: coding, Documents: outcomes}
	if err := w.charts.MarkReady(ctx, job.ChartID, results); err != nil {
		w.fail(ctx, job, log, errors.Wrap(err, "save chart results"))
		return
	}

	if _, err := w.queue.Complete(ctx, job.JobID); err != nil {
		// chart is ready but the row is still processing; the stuck-job
		// sweep will make it claimable again and the retry completes it
		log.Error("complete job failed", zap.Error(err))
		return
	}

	w.emit(ctx, job, domain.PhaseCompleted, "chart processing completed")
	log.Info("job completed")
}

// runOCR extracts text from each document independently. One document's
// failure never aborts the batch; it is recorded on its outcome and the
// rest proceed.
func (w *Worker) runOCR(ctx context.Context, job *domain.Job, log *zap.Logger) ([]domain.DocumentOutcome, []extern.FormattedDocument) {
	docs := job.Payload.Documents
	w.emit(ctx, job, domain.PhaseOCRStarted,
		fmt.Sprintf("extracting text from %d documents", len(docs)))

	outcomes := make([]domain.DocumentOutcome, 0, len(docs))
	var formatted []extern.FormattedDocument

	for _, doc := range docs {
		outcome := domain.DocumentOutcome{DocumentID: doc.ID, Name: doc.Name}

		err := w.fetcher.WithLocalCopy(ctx, doc.URL, func(path string) error {
			res, err := w.ocr.ExtractText(ctx, path, doc.Type)
			if err != nil {
				return err
			}
			outcome.OK = true
			outcome.OCRMillis = res.ProcessingTime.Milliseconds()
			formatted = append(formatted, extern.FormattedDocument{
				DocumentID: doc.ID,
				Name:       doc.Name,
				Type:       doc.Type,
				Text:       res.Text,
			})
			return nil
		})
		if err != nil {
			outcome.Error = err.Error()
			log.Warn("document ocr failed",
				zap.String("document_id", doc.ID), zap.Error(err))
		}
		outcomes = append(outcomes, outcome)
	}

	w.emit(ctx, job, domain.PhaseOCRCompleted,
		fmt.Sprintf("extracted %d of %d documents", len(formatted), len(docs)))
	return outcomes, formatted
}

// runSummaries is best-effort: failures are collected and logged, never
// fatal. Successful summaries are attached to the matching outcome.
func (w *Worker) runSummaries(ctx context.Context, job *domain.Job,
	formatted []extern.FormattedDocument, outcomes []domain.DocumentOutcome, log *zap.Logger) {

	byID := make(map[string]int, len(outcomes))
	for i, o := range outcomes {
		byID[o.DocumentID] = i
	}

	var errs error
	for _, doc := range formatted {
		summary, err := w.summarizer.GenerateSummary(ctx, doc, job.Payload.Chart)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "document %s", doc.DocumentID))
			continue
		}
		if i, ok := byID[doc.DocumentID]; ok {
			outcomes[i].Summary = summary
		}
	}
	if errs != nil {
		log.Warn("some document summaries failed", zap.Error(errs))
	}
}

// fail reports the failure to the queue, then projects the result onto the
// chart. Projection errors are logged and swallowed so the loop survives.
func (w *Worker) fail(ctx context.Context, job *domain.Job, log *zap.Logger, cause error) {
	log.Warn("job failed", zap.Error(cause))

	res, err := w.queue.Fail(ctx, job.JobID, cause.Error())
	if err != nil {
		log.Error("record job failure failed", zap.Error(err))
		w.emit(ctx, job, domain.PhaseFailed, cause.Error())
		return
	}

	if res.PermanentlyFailed {
		if err := w.charts.MarkFailed(ctx, job.ChartID, cause.Error()); err != nil {
			log.Error("mark chart failed failed", zap.Error(err))
		}
	} else {
		if err := w.charts.MarkRetryPending(ctx, job.ChartID, res.Attempts, cause.Error()); err != nil {
			log.Error("mark chart retry_pending failed", zap.Error(err))
		}
	}

	w.emit(ctx, job, domain.PhaseFailed,
		fmt.Sprintf("%s (attempt %d of %d)", cause.Error(), res.Attempts, job.MaxAttempts))
}
