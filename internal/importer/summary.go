package importer

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
)

// State is a step of the per-document state machine.
type State string

const (
	StateFetched         State = "fetched"
	StateSkippedNoLPO    State = "skipped_no_lpo"
	StateSkippedDedup    State = "skipped_dedup"
	StateResolving       State = "resolving"
	StateAttachmentFetch State = "attachment_fetch"
	StateWriting         State = "writing"
	StateDone            State = "done"
	StateFailed          State = "failed"
)

// Outcome is the terminal result for one document.
type Outcome struct {
	DocType           DocType
	DocNumber         string
	RemoteID          string
	State             State
	Stage             State // step that failed, for StateFailed
	Reason            string
	AttachmentMissing bool
	LPOCreated        bool
	DocumentID        int64
	Err               error
}

// Fatal reports whether the outcome must stop the run.
func (o Outcome) Fatal() bool { return o.Err != nil && errs.IsAuth(o.Err) }

func (o Outcome) skip(state State, reason string) Outcome {
	o.State = state
	o.Reason = reason
	return o
}

func (o Outcome) fail(err error) Outcome {
	o.Stage = o.State
	o.State = StateFailed
	o.Reason = err.Error()
	o.Err = err
	return o
}

// Summary is the run report. It is the record operators check, not the logs.
type Summary struct {
	RunID              string
	From               time.Time
	To                 time.Time
	StartedAt          time.Time
	FinishedAt         time.Time
	Scanned            int
	SkippedExisting    int
	SkippedNoLPO       int
	Imported           int
	Failed             int
	AttachmentsMissing int
	LPOsCreated        int
	FetchErrors        []string
	AbortedReason      string
}

func (s *Summary) Add(o Outcome) {
	s.Scanned++
	switch o.State {
	case StateSkippedNoLPO:
		s.SkippedNoLPO++
	case StateSkippedDedup:
		s.SkippedExisting++
	case StateDone:
		s.Imported++
		if o.AttachmentMissing {
			s.AttachmentsMissing++
		}
		if o.LPOCreated {
			s.LPOsCreated++
		}
	case StateFailed:
		s.Failed++
	}
}

// Truncated is true when pagination stopped early on a FetchError.
func (s Summary) Truncated() bool { return len(s.FetchErrors) > 0 }

func (s Summary) Fields() logrus.Fields {
	f := logrus.Fields{
		"run_id":              s.RunID,
		"scanned":             s.Scanned,
		"skipped_existing":    s.SkippedExisting,
		"skipped_no_lpo":      s.SkippedNoLPO,
		"imported":            s.Imported,
		"failed":              s.Failed,
		"attachments_missing": s.AttachmentsMissing,
		"lpos_created":        s.LPOsCreated,
	}
	if len(s.FetchErrors) > 0 {
		f["fetch_errors"] = s.FetchErrors
	}
	if s.AbortedReason != "" {
		f["aborted_reason"] = s.AbortedReason
	}
	return f
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errs.IsAuth(err):
		return "auth: " + err.Error()
	}
	return err.Error()
}

// AuditSink receives the append-only record of a run.
type AuditSink interface {
	RunStarted(ctx context.Context, s Summary) error
	RecordOutcome(ctx context.Context, runID string, o Outcome) error
	RunFinished(ctx context.Context, s Summary) error
}

// LogSink writes the audit trail as structured log entries.
type LogSink struct {
	log *logrus.Entry
}

func NewLogSink(log *logrus.Entry) *LogSink { return &LogSink{log: log} }

func (l *LogSink) RunStarted(_ context.Context, s Summary) error {
	l.log.WithFields(logrus.Fields{
		"run_id": s.RunID,
		"from":   s.From.Format(time.DateOnly),
		"to":     s.To.Format(time.DateOnly),
	}).Info("import run started")
	return nil
}

func (l *LogSink) RecordOutcome(_ context.Context, runID string, o Outcome) error {
	entry := l.log.WithFields(logrus.Fields{
		"run_id":     runID,
		"doc_type":   o.DocType,
		"doc_number": o.DocNumber,
		"remote_id":  o.RemoteID,
		"outcome":    o.State,
	})
	if o.Reason != "" {
		entry = entry.WithField("reason", o.Reason)
	}
	switch o.State {
	case StateFailed:
		entry.WithField("stage", o.Stage).Error("document failed")
	case StateDone:
		entry.WithFields(logrus.Fields{
			"document_id":        o.DocumentID,
			"attachment_missing": o.AttachmentMissing,
			"lpo_created":        o.LPOCreated,
		}).Info("document imported")
	default:
		entry.Info("document skipped")
	}
	return nil
}

func (l *LogSink) RunFinished(_ context.Context, s Summary) error {
	entry := l.log.WithFields(s.Fields())
	if s.AbortedReason != "" {
		entry.Error("import run aborted")
		return nil
	}
	entry.Info("import run finished")
	return nil
}

// MultiSink fans out to every sink and returns the first error.
type MultiSink []AuditSink

func (m MultiSink) RunStarted(ctx context.Context, s Summary) error {
	var first error
	for _, sink := range m {
		if err := sink.RunStarted(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) RecordOutcome(ctx context.Context, runID string, o Outcome) error {
	var first error
	for _, sink := range m {
		if err := sink.RecordOutcome(ctx, runID, o); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiSink) RunFinished(ctx context.Context, s Summary) error {
	var first error
	for _, sink := range m {
		if err := sink.RunFinished(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}
