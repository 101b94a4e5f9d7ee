package importer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/retry"
)

const DefaultWriteTimeout = 30 * time.Second

// DefaultTaxRate is applied to lines whose tax code is not "NON".
var DefaultTaxRate = decimal.RequireFromString("0.05")

type Options struct {
	DocTypes       []DocType
	SkipWithoutLPO bool
	TaxRate        decimal.Decimal
	// Workers > 1 processes documents of a page concurrently.
	Workers      int
	WriteTimeout time.Duration
	PageSize     int
}

func DefaultOptions() Options {
	return Options{
		DocTypes:       []DocType{DocInvoice},
		SkipWithoutLPO: true,
		TaxRate:        DefaultTaxRate,
		Workers:        1,
		WriteTimeout:   DefaultWriteTimeout,
		PageSize:       DefaultPageSize,
	}
}

// Deps are the ports an Orchestrator drives.
type Deps struct {
	Pages       PageSource
	Remote      RemoteReader
	Attachments AttachmentSource
	Blobs       BlobStore
	Store       Store
	Sink        AuditSink
	Retry       retry.Policy
	Log         *logrus.Entry
}

// Orchestrator runs the fetch, dedup, resolve, attach and write pipeline.
type Orchestrator struct {
	fetcher     *Fetcher
	gate        *DedupGate
	resolver    *Resolver
	attachments *AttachmentFetcher
	remote      RemoteReader
	store       Store
	sink        AuditSink
	retry       retry.Policy
	opts        Options
	log         *logrus.Entry
	now         func() time.Time

	mu sync.Mutex
}

func New(d Deps, opts Options) *Orchestrator {
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if d.Sink == nil {
		d.Sink = NewLogSink(d.Log)
	}
	if len(opts.DocTypes) == 0 {
		opts.DocTypes = []DocType{DocInvoice}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	o := &Orchestrator{
		fetcher:  NewFetcher(d.Pages, opts.PageSize, d.Retry, d.Log),
		gate:     NewDedupGate(d.Store),
		resolver: NewResolver(d.Remote, d.Store, d.Retry, d.Log),
		remote:   d.Remote,
		store:    d.Store,
		sink:     d.Sink,
		retry:    d.Retry,
		opts:     opts,
		log:      d.Log,
		now:      time.Now,
	}
	if d.Attachments != nil && d.Blobs != nil {
		o.attachments = NewAttachmentFetcher(d.Attachments, d.Blobs, d.Retry, d.Log)
	}
	return o
}

// Run imports every configured document type dated within [from, to].
// limit caps the documents scanned per type; 0 means no cap. The summary is
// returned even when err is non-nil, and reflects everything processed up to
// the abort.
func (o *Orchestrator) Run(ctx context.Context, from, to time.Time, limit int) (Summary, error) {
	sum := &Summary{
		RunID:     uuid.NewString(),
		From:      from,
		To:        to,
		StartedAt: o.now(),
	}
	log := o.log.WithField("run_id", sum.RunID)
	if err := o.sink.RunStarted(ctx, *sum); err != nil {
		log.WithError(err).Warn("audit: run start not recorded")
	}

	var runErr error
	for _, t := range o.opts.DocTypes {
		if runErr = o.runType(ctx, log, sum, t, from, to, limit); runErr != nil {
			break
		}
	}

	sum.FinishedAt = o.now()
	if runErr != nil {
		sum.AbortedReason = abortReason(runErr)
	}
	if err := o.sink.RunFinished(context.WithoutCancel(ctx), *sum); err != nil {
		log.WithError(err).Warn("audit: run finish not recorded")
	}
	return *sum, runErr
}

func (o *Orchestrator) runType(ctx context.Context, log *logrus.Entry, sum *Summary, t DocType, from, to time.Time, limit int) error {
	it := o.fetcher.Documents(ctx, t, from, to, limit)

	var err error
	if o.opts.Workers > 1 {
		err = o.drainParallel(ctx, sum, it)
	} else {
		err = o.drain(ctx, sum, it)
	}
	if err != nil {
		return err
	}

	ferr := it.Err()
	switch {
	case ferr == nil:
		return nil
	case errs.IsAuth(ferr):
		return ferr
	case ctx.Err() != nil:
		return ctx.Err()
	}
	log.WithError(ferr).WithField("pages", it.Pages()).Error("pagination stopped, results are incomplete")
	sum.FetchErrors = append(sum.FetchErrors, ferr.Error())
	return nil
}

func (o *Orchestrator) drain(ctx context.Context, sum *Summary, it *DocumentIterator) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !it.Next() {
			return nil
		}
		out := o.process(ctx, sum.RunID, it.Document())
		if interrupted(ctx, out) {
			return ctx.Err()
		}
		o.record(ctx, sum, out)
		if out.Fatal() {
			return out.Err
		}
	}
}

func (o *Orchestrator) drainParallel(ctx context.Context, sum *Summary, it *DocumentIterator) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for gctx.Err() == nil && it.Next() {
		doc := it.Document()
		g.Go(func() error {
			out := o.process(gctx, sum.RunID, doc)
			if interrupted(gctx, out) {
				return nil
			}
			o.record(ctx, sum, out)
			if out.Fatal() {
				return out.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// interrupted reports whether out failed only because the run was stopped.
// Such a document was never finished and is left for the next run.
func interrupted(ctx context.Context, out Outcome) bool {
	return out.State == StateFailed && ctx.Err() != nil
}

func (o *Orchestrator) record(ctx context.Context, sum *Summary, out Outcome) {
	o.mu.Lock()
	sum.Add(out)
	o.mu.Unlock()
	if err := o.sink.RecordOutcome(context.WithoutCancel(ctx), sum.RunID, out); err != nil {
		o.log.WithError(err).WithField("doc_number", out.DocNumber).Warn("audit: outcome not recorded")
	}
}

// process drives one document to a terminal state. It never returns an error:
// failures are carried in the Outcome, and only auth failures are Fatal.
func (o *Orchestrator) process(ctx context.Context, runID string, doc RemoteDocument) Outcome {
	out := Outcome{DocType: doc.DocType, DocNumber: doc.DocNumber, RemoteID: doc.RemoteID, State: StateFetched}

	if doc.DocType == DocInvoice && o.opts.SkipWithoutLPO && doc.LPO.Empty() {
		return out.skip(StateSkippedNoLPO, "no linked purchase order")
	}
	if doc.DocNumber == "" {
		return out.fail(&errs.ResolutionError{Entity: "document", Ref: doc.RemoteID, Reason: "document has no number"})
	}
	exists, err := o.gate.AlreadyImported(ctx, doc.DocType, doc.DocNumber)
	if err != nil {
		return out.fail(errs.Wrap(err, "dedup check"))
	}
	if exists {
		return out.skip(StateSkippedDedup, "already imported")
	}

	out.State = StateResolving
	rec, lpo, err := o.resolve(ctx, doc)
	if errors.Is(err, errUnnumberedLPO) {
		return out.skip(StateSkippedNoLPO, "linked purchase order has no number")
	}
	if err != nil {
		return out.fail(err)
	}
	rec.RunID = runID
	if rec.LinkedLPO != nil {
		rec.LinkedLPO.RunID = runID
	}

	out.State = StateAttachmentFetch
	if err := o.collectAttachments(ctx, doc, rec, lpo); err != nil {
		return out.fail(err)
	}

	out.State = StateWriting
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.WriteTimeout)
	defer cancel()
	res, err := o.store.WriteDocument(wctx, rec)
	if err != nil {
		if o.gate.IsConflict(err) {
			return out.skip(StateSkippedDedup, "imported concurrently")
		}
		return out.fail(errs.Wrap(err, "write document"))
	}

	out.State = StateDone
	out.DocumentID = res.DocumentID
	out.LPOCreated = res.LPOCreated
	out.AttachmentMissing = rec.AttachmentMissing || (rec.LinkedLPO != nil && rec.LinkedLPO.AttachmentMissing)
	return out
}

// resolve builds the record for doc. For an invoice linked to a purchase
// order it also returns the purchase order when that still has to be staged.
func (o *Orchestrator) resolve(ctx context.Context, doc RemoteDocument) (*DocumentRecord, *RemoteDocument, error) {
	supplier := doc.Supplier
	var (
		lpo       *RemoteDocument
		lpoNumber string
	)
	if doc.DocType == DocInvoice && !doc.LPO.Empty() {
		po, err := o.linkedPurchaseOrder(ctx, doc.LPO)
		if err != nil {
			return nil, nil, err
		}
		supplier = po.Supplier
		exists, err := o.gate.AlreadyImported(ctx, DocLPO, po.DocNumber)
		if err != nil {
			return nil, nil, errs.Wrap(err, "dedup check linked purchase order")
		}
		if exists {
			lpoNumber = po.DocNumber
		} else {
			lpo = &po
		}
	}

	rec, err := o.build(ctx, doc, supplier)
	if err != nil {
		return nil, nil, err
	}
	rec.LPODocNumber = lpoNumber
	if lpo != nil {
		lrec, err := o.build(ctx, *lpo, supplier)
		if err != nil {
			return nil, nil, err
		}
		rec.LinkedLPO = lrec
	}
	return rec, lpo, nil
}

// errUnnumberedLPO marks an invoice whose linked purchase order carries no
// number. The invoice is skipped, not failed.
var errUnnumberedLPO = errors.New("linked purchase order has no number")

func (o *Orchestrator) linkedPurchaseOrder(ctx context.Context, ref LPORef) (RemoteDocument, error) {
	if ref.TxnID == "" {
		return RemoteDocument{}, &errs.ResolutionError{Entity: "purchase order", Ref: ref.DocNumber, Reason: "linked transaction has no id"}
	}
	var po RemoteDocument
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		po, err = o.remote.PurchaseOrder(ctx, ref.TxnID)
		return err
	})
	if err != nil {
		if errs.IsAuth(err) {
			return RemoteDocument{}, err
		}
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrForbidden) {
			return RemoteDocument{}, &errs.ResolutionError{Entity: "purchase order", Ref: ref.TxnID, Reason: "remote lookup failed", Err: err}
		}
		return RemoteDocument{}, errs.Wrapf(err, "read purchase order %s", ref.TxnID)
	}
	if po.DocNumber == "" {
		return RemoteDocument{}, errUnnumberedLPO
	}
	return po, nil
}

func (o *Orchestrator) build(ctx context.Context, doc RemoteDocument, supplier PartyRef) (*DocumentRecord, error) {
	supplierID, err := o.resolver.ResolveSupplier(ctx, supplier)
	if err != nil {
		return nil, err
	}
	rec := &DocumentRecord{
		DocType:    doc.DocType,
		DocNumber:  doc.DocNumber,
		RemoteID:   doc.RemoteID,
		SupplierID: supplierID,
		Date:       doc.Date,
		DueDate:    doc.DueDate,
		Status:     doc.Status,
		Subtotal:   doc.Subtotal,
		TaxTotal:   doc.TaxTotal,
		Total:      doc.Total,
		Memo:       doc.Memo,
		Message:    doc.Message,
		Raw:        doc.Raw,
		Lines:      make([]LineRecord, 0, len(doc.Lines)),
	}
	for i, l := range doc.Lines {
		itemID, err := o.resolver.ResolveItem(ctx, l.Item)
		if err != nil {
			return nil, err
		}
		lineNum := l.LineNum
		if lineNum == 0 {
			lineNum = i + 1
		}
		taxRate := decimal.Zero
		if l.Taxable {
			taxRate = o.opts.TaxRate
		}
		rec.Lines = append(rec.Lines, LineRecord{
			LineNum:     lineNum,
			ItemID:      itemID,
			Description: l.Description,
			Quantity:    l.Quantity,
			Rate:        l.UnitPrice,
			TaxRate:     taxRate,
			Amount:      l.Amount,
		})
	}
	return rec, nil
}

func (o *Orchestrator) collectAttachments(ctx context.Context, doc RemoteDocument, rec *DocumentRecord, lpo *RemoteDocument) error {
	if o.attachments == nil {
		return nil
	}
	recs, missing, err := o.attachments.Collect(ctx, doc)
	if err != nil {
		return err
	}
	rec.Attachments, rec.AttachmentMissing = recs, missing
	if lpo != nil && rec.LinkedLPO != nil {
		recs, missing, err := o.attachments.Collect(ctx, *lpo)
		if err != nil {
			return err
		}
		rec.LinkedLPO.Attachments, rec.LinkedLPO.AttachmentMissing = recs, missing
	}
	return nil
}
