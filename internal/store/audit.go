package store

import (
	"context"
	"fmt"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/importer"
)

var _ importer.AuditSink = (*Store)(nil)

func (s *Store) RunStarted(ctx context.Context, sum importer.Summary) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO import_runs (id, started_at, date_from, date_to)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING
`, sum.RunID, sum.StartedAt, sum.From, sum.To)
	if err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, runID string, o importer.Outcome) error {
	var documentID *int64
	if o.DocumentID != 0 {
		documentID = &o.DocumentID
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO import_outcomes (run_id, doc_type, doc_number, remote_id, outcome, stage, reason, attachment_missing, lpo_created, document_id, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
`, runID, string(o.DocType), o.DocNumber, nullText(o.RemoteID), string(o.State), nullText(string(o.Stage)),
		nullText(o.Reason), o.AttachmentMissing, o.LPOCreated, documentID)
	if err != nil {
		return fmt.Errorf("insert import outcome: %w", err)
	}
	return nil
}

// RunFinished writes the final counters. It upserts so a run whose start was
// not recorded still gets a row.
func (s *Store) RunFinished(ctx context.Context, sum importer.Summary) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO import_runs (
  id, started_at, finished_at, date_from, date_to, scanned, skipped_existing, skipped_no_lpo,
  imported, failed, attachments_missing, lpos_created, fetch_errors, aborted_reason
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE
SET finished_at = EXCLUDED.finished_at,
    scanned = EXCLUDED.scanned,
    skipped_existing = EXCLUDED.skipped_existing,
    skipped_no_lpo = EXCLUDED.skipped_no_lpo,
    imported = EXCLUDED.imported,
    failed = EXCLUDED.failed,
    attachments_missing = EXCLUDED.attachments_missing,
    lpos_created = EXCLUDED.lpos_created,
    fetch_errors = EXCLUDED.fetch_errors,
    aborted_reason = EXCLUDED.aborted_reason
`, sum.RunID, sum.StartedAt, sum.FinishedAt, sum.From, sum.To, sum.Scanned, sum.SkippedExisting, sum.SkippedNoLPO,
		sum.Imported, sum.Failed, sum.AttachmentsMissing, sum.LPOsCreated, sum.FetchErrors, nullText(sum.AbortedReason))
	if err != nil {
		return fmt.Errorf("finish import run: %w", err)
	}
	return nil
}
