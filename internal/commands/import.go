package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/config"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/importer"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/lock"
)

// Process exit codes of the importer.
const (
	ExitOK        = 0
	ExitFatal     = 1
	ExitTruncated = 2
)

// ErrLocked is returned when another importer holds the realm lock.
var ErrLocked = errors.New("another import is running for this realm")

// ImportParams are the run parameters the CLI may override.
type ImportParams struct {
	From  time.Time
	To    time.Time
	Limit int
}

// Import runs one import over the configured range. The summary is valid even
// when err is non-nil.
func Import(ctx context.Context, cfg *config.Config, log *logrus.Entry, p ImportParams) (importer.Summary, error) {
	if err := cfg.RequireImport(); err != nil {
		return importer.Summary{}, err
	}
	if p.To.Before(p.From) {
		return importer.Summary{}, fmt.Errorf("invalid range: %s is before %s", p.To.Format(time.DateOnly), p.From.Format(time.DateOnly))
	}
	docTypes := make([]importer.DocType, 0, len(cfg.DocTypes))
	for _, s := range cfg.DocTypes {
		t, err := importer.ParseDocType(s)
		if err != nil {
			return importer.Summary{}, err
		}
		docTypes = append(docTypes, t)
	}

	st, err := connectDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return importer.Summary{}, fmt.Errorf("connect db: %w", err)
	}
	defer st.Close()

	if cfg.RedisAddr != "" {
		locker, err := lock.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, log)
		if err != nil {
			return importer.Summary{}, err
		}
		defer locker.Close()

		lease, err := locker.Acquire(ctx, lock.RunKey(cfg.RealmID), cfg.LockTTL)
		if errors.Is(err, lock.ErrHeld) {
			return importer.Summary{}, fmt.Errorf("%w: %v", ErrLocked, err)
		}
		if err != nil {
			return importer.Summary{}, err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("lock release failed")
			}
		}()

		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-lease.Lost():
				log.Error("run lock lost; stopping")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	creds, err := credentialStore(cfg, st)
	if err != nil {
		return importer.Summary{}, err
	}
	mgr, err := tokenManager(ctx, cfg, creds, log)
	if err != nil {
		return importer.Summary{}, &errs.AuthError{Op: "load credential", Err: err}
	}
	source := importer.NewQuickBooksSource(quickBooksClient(cfg, mgr, cfg.RealmID))

	blobs, closeBlobs, err := blobStore(ctx, cfg)
	if err != nil {
		return importer.Summary{}, err
	}
	defer closeBlobs()

	opts := importer.DefaultOptions()
	opts.DocTypes = docTypes
	opts.SkipWithoutLPO = cfg.SkipWithoutLPO
	opts.TaxRate = cfg.TaxRate
	opts.Workers = cfg.Workers
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PageSize = cfg.PageSize

	orch := importer.New(importer.Deps{
		Pages:       source,
		Remote:      source,
		Attachments: source,
		Blobs:       blobs,
		Store:       st,
		Sink:        importer.MultiSink{importer.NewLogSink(log), st},
		Retry:       cfg.RetryPolicy(),
		Log:         log,
	}, opts)

	log.WithFields(logrus.Fields{
		"from":      p.From.Format(time.DateOnly),
		"to":        p.To.Format(time.DateOnly),
		"limit":     p.Limit,
		"doc_types": cfg.DocTypes,
		"workers":   cfg.Workers,
	}).Info("import starting")
	return orch.Run(ctx, p.From, p.To, p.Limit)
}

// ExitCode maps a run result to the process exit status.
func ExitCode(sum importer.Summary, err error) int {
	if err != nil {
		return ExitFatal
	}
	if sum.Truncated() {
		return ExitTruncated
	}
	return ExitOK
}
