package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/retry"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fastRetry keeps backoff waits out of the tests.
func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

var (
	testFrom = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	testTo   = time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
)

// scriptedPages serves docs by position. failures maps a 1-based start
// position to errors returned, in order, before the page succeeds.
type scriptedPages struct {
	mu       sync.Mutex
	docs     map[DocType][]RemoteDocument
	failures map[int][]error
	calls    []pageCall
}

type pageCall struct {
	t     DocType
	start int
	size  int
}

func (p *scriptedPages) Page(_ context.Context, t DocType, _, _ time.Time, start, size int) ([]RemoteDocument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pageCall{t: t, start: start, size: size})
	if errsAt := p.failures[start]; len(errsAt) > 0 {
		err := errsAt[0]
		p.failures[start] = errsAt[1:]
		return nil, err
	}
	all := p.docs[t]
	if start-1 >= len(all) {
		return nil, nil
	}
	end := start - 1 + size
	if end > len(all) {
		end = len(all)
	}
	return append([]RemoteDocument(nil), all[start-1:end]...), nil
}

type fakeRemote struct {
	mu         sync.Mutex
	parties    map[string]RemoteParty
	items      map[string]RemoteItem
	pos        map[string]RemoteDocument
	partyErr   map[string]error
	itemErr    map[string]error
	poErr      error
	poHook     func()
	partyCalls int
	itemCalls  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		parties:  map[string]RemoteParty{},
		items:    map[string]RemoteItem{},
		pos:      map[string]RemoteDocument{},
		partyErr: map[string]error{},
		itemErr:  map[string]error{},
	}
}

func (r *fakeRemote) Party(_ context.Context, ref PartyRef) (RemoteParty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partyCalls++
	if err := r.partyErr[ref.ID]; err != nil {
		return RemoteParty{}, err
	}
	p, ok := r.parties[ref.ID]
	if !ok {
		return RemoteParty{}, errs.Wrap(errs.ErrNotFound, "party "+ref.ID)
	}
	return p, nil
}

func (r *fakeRemote) Item(_ context.Context, id string) (RemoteItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.itemCalls++
	if err := r.itemErr[id]; err != nil {
		return RemoteItem{}, err
	}
	it, ok := r.items[id]
	if !ok {
		return RemoteItem{}, errs.Wrap(errs.ErrNotFound, "item "+id)
	}
	return it, nil
}

func (r *fakeRemote) PurchaseOrder(ctx context.Context, txnID string) (RemoteDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.poHook != nil {
		r.poHook()
	}
	if err := ctx.Err(); err != nil {
		return RemoteDocument{}, err
	}
	if r.poErr != nil {
		return RemoteDocument{}, r.poErr
	}
	po, ok := r.pos[txnID]
	if !ok {
		return RemoteDocument{}, errs.Wrap(errs.ErrNotFound, "purchase order "+txnID)
	}
	return po, nil
}

// memStore mimics the unique constraints of the relational store.
type memStore struct {
	mu         sync.Mutex
	docs       map[string]*DocumentRecord
	suppliers  map[string]int64
	items      map[string]int64
	nextID     int64
	writes     int
	existsHook func(t DocType, docNumber string) (bool, bool)
	writeErr   error
}

func newMemStore() *memStore {
	return &memStore{
		docs:      map[string]*DocumentRecord{},
		suppliers: map[string]int64{},
		items:     map[string]int64{},
	}
}

func docKey(t DocType, n string) string { return string(t) + "/" + n }

func (s *memStore) DocumentExists(_ context.Context, t DocType, docNumber string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsHook != nil {
		if exists, ok := s.existsHook(t, docNumber); ok {
			return exists, nil
		}
	}
	_, ok := s.docs[docKey(t, docNumber)]
	return ok, nil
}

func (s *memStore) UpsertSupplier(_ context.Context, rec SupplierRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(rec.Source) + ":" + rec.ExternalID
	if id, ok := s.suppliers[key]; ok {
		return id, nil
	}
	s.nextID++
	s.suppliers[key] = s.nextID
	return s.nextID, nil
}

func (s *memStore) UpsertItem(_ context.Context, rec ItemRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.items[rec.ExternalID]; ok {
		return id, nil
	}
	s.nextID++
	s.items[rec.ExternalID] = s.nextID
	return s.nextID, nil
}

func (s *memStore) WriteDocument(_ context.Context, doc *DocumentRecord) (WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.writeErr != nil {
		return WriteResult{}, s.writeErr
	}
	if _, ok := s.docs[docKey(doc.DocType, doc.DocNumber)]; ok {
		return WriteResult{}, fmt.Errorf("insert document: %w", ErrDuplicate)
	}
	var res WriteResult
	if doc.LinkedLPO != nil {
		key := docKey(DocLPO, doc.LinkedLPO.DocNumber)
		if _, ok := s.docs[key]; !ok {
			s.docs[key] = doc.LinkedLPO
			res.LPOCreated = true
		}
		s.nextID++
		res.LPOID = s.nextID
	}
	s.nextID++
	res.DocumentID = s.nextID
	s.docs[docKey(doc.DocType, doc.DocNumber)] = doc
	return res, nil
}

func (s *memStore) doc(t DocType, n string) *DocumentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[docKey(t, n)]
}

type fakeAttachments struct {
	mu      sync.Mutex
	refs    map[string][]AttachmentRef
	content map[string]string
	listErr error
	openErr map[string]error
	opens   int
}

func (a *fakeAttachments) ListAttachments(_ context.Context, _ DocType, remoteID string) ([]AttachmentRef, error) {
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.refs[remoteID], nil
}

func (a *fakeAttachments) OpenAttachment(_ context.Context, ref AttachmentRef) (io.ReadCloser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opens++
	if err := a.openErr[ref.RemoteID]; err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewBufferString(a.content[ref.RemoteID])), nil
}

type memBlobs struct {
	mu    sync.Mutex
	blobs map[string]string
	err   error
}

func (b *memBlobs) Put(_ context.Context, key, _ string, r io.Reader) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blobs == nil {
		b.blobs = map[string]string{}
	}
	b.blobs[key] = string(data)
	return "mem://" + key, nil
}

type recordingSink struct {
	mu       sync.Mutex
	started  int
	outcomes []Outcome
	finished []Summary
}

func (s *recordingSink) RunStarted(context.Context, Summary) error {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) RecordOutcome(_ context.Context, _ string, o Outcome) error {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) RunFinished(_ context.Context, sum Summary) error {
	s.mu.Lock()
	s.finished = append(s.finished, sum)
	s.mu.Unlock()
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// invoice builds an invoice billed to customer C1 with one taxable line.
func invoice(remoteID, docNumber, poTxnID string) RemoteDocument {
	return RemoteDocument{
		RemoteID:  remoteID,
		DocNumber: docNumber,
		DocType:   DocInvoice,
		Date:      testFrom,
		Supplier:  PartyRef{Kind: PartyCustomer, ID: "C1", Name: "Customer One"},
		LPO:       LPORef{TxnID: poTxnID},
		Lines: []RemoteLine{{
			LineNum:   1,
			Item:      ItemRef{ID: "I1", Name: "Widget"},
			Quantity:  dec("2"),
			UnitPrice: dec("50"),
			Amount:    dec("100"),
			Taxable:   true,
		}},
		Total:    dec("105"),
		TaxTotal: dec("5"),
		Subtotal: dec("100"),
		Status:   "Pending",
	}
}

func purchaseOrder(remoteID, docNumber string) RemoteDocument {
	return RemoteDocument{
		RemoteID:  remoteID,
		DocNumber: docNumber,
		DocType:   DocLPO,
		Date:      testFrom,
		Supplier:  PartyRef{Kind: PartyVendor, ID: "V1", Name: "Vendor One"},
		Lines: []RemoteLine{{
			LineNum:  1,
			Item:     ItemRef{ID: "I1"},
			Quantity: dec("2"),
			Amount:   dec("100"),
		}},
		Total:  dec("100"),
		Status: "Open",
	}
}

// world wires an orchestrator over in-memory fakes.
type world struct {
	pages  *scriptedPages
	remote *fakeRemote
	store  *memStore
	atts   *fakeAttachments
	blobs  *memBlobs
	sink   *recordingSink
}

func newWorld(docs ...RemoteDocument) *world {
	w := &world{
		pages:  &scriptedPages{docs: map[DocType][]RemoteDocument{}, failures: map[int][]error{}},
		remote: newFakeRemote(),
		store:  newMemStore(),
		atts:   &fakeAttachments{refs: map[string][]AttachmentRef{}, content: map[string]string{}, openErr: map[string]error{}},
		blobs:  &memBlobs{},
		sink:   &recordingSink{},
	}
	for _, d := range docs {
		w.pages.docs[d.DocType] = append(w.pages.docs[d.DocType], d)
	}
	w.remote.parties["C1"] = RemoteParty{ID: "C1", Name: "Customer One"}
	w.remote.parties["V1"] = RemoteParty{ID: "V1", Name: "Vendor One", Email: "ap@vendor.test"}
	w.remote.items["I1"] = RemoteItem{ID: "I1", Name: "Widget", Type: "Inventory"}
	w.remote.pos["P-10"] = purchaseOrder("P-10", "P-10")
	return w
}

func (w *world) orchestrator(opts Options) *Orchestrator {
	return New(Deps{
		Pages:       w.pages,
		Remote:      w.remote,
		Attachments: w.atts,
		Blobs:       w.blobs,
		Store:       w.store,
		Sink:        w.sink,
		Retry:       fastRetry(),
		Log:         testLog(),
	}, opts)
}
