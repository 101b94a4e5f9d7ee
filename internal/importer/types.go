package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// DocType is the local document kind. It is half of the idempotency key.
type DocType string

const (
	DocInvoice DocType = "Invoice"
	DocLPO     DocType = "LPO"
)

// ParseDocType accepts the local names and the remote "PurchaseOrder".
func ParseDocType(s string) (DocType, error) {
	switch s {
	case "Invoice", "invoice":
		return DocInvoice, nil
	case "LPO", "lpo", "PurchaseOrder", "purchaseorder":
		return DocLPO, nil
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

// RemoteEntity is the remote entity name for the document type.
func (t DocType) RemoteEntity() string {
	if t == DocLPO {
		return "PurchaseOrder"
	}
	return "Invoice"
}

type PartyKind string

const (
	PartyVendor   PartyKind = "vendor"
	PartyCustomer PartyKind = "customer"
)

// PartyRef points at a remote vendor or customer.
type PartyRef struct {
	Kind PartyKind
	ID   string
	Name string
}

func (r PartyRef) key() string { return string(r.Kind) + ":" + r.ID }

type ItemRef struct {
	ID   string
	Name string
}

// LPORef links an invoice to its purchase order. DocNumber is known only once
// the purchase order has been read.
type LPORef struct {
	TxnID     string
	DocNumber string
}

func (r LPORef) Empty() bool { return r.TxnID == "" && r.DocNumber == "" }

type RemoteLine struct {
	LineNum     int
	Description string
	Item        ItemRef
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	Taxable     bool
}

type AttachmentRef struct {
	RemoteID    string
	FileName    string
	ContentType string
	Size        int64
}

// RemoteDocument is an invoice or purchase order as read from the remote API.
type RemoteDocument struct {
	RemoteID       string
	DocNumber      string
	DocType        DocType
	Date           time.Time
	DueDate        time.Time
	Supplier       PartyRef
	LPO            LPORef
	Lines          []RemoteLine
	AttachmentRefs []AttachmentRef
	Subtotal       decimal.Decimal
	TaxTotal       decimal.Decimal
	Total          decimal.Decimal
	Status         string
	Memo           string
	Message        string
	Raw            json.RawMessage
}

type RemoteParty struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type RemoteItem struct {
	ID          string
	Name        string
	Type        string
	Description string
}

// SupplierRecord is the row upserted for a vendor or customer.
type SupplierRecord struct {
	Source     PartyKind
	ExternalID string
	Name       string
	Email      string
	Phone      string
}

type ItemRecord struct {
	ExternalID  string
	Name        string
	Unit        string
	Type        string
	Description string
}

type LineRecord struct {
	LineNum     int
	ItemID      int64
	Description string
	Quantity    decimal.Decimal
	Rate        decimal.Decimal
	TaxRate     decimal.Decimal
	Amount      decimal.Decimal
}

type AttachmentRecord struct {
	RemoteID    string
	FileName    string
	ContentType string
	Size        int64
	StoragePath string
}

// DocumentRecord is everything written in one document transaction.
// LinkedLPO is inserted first when set; otherwise LPODocNumber, when set,
// links to an LPO that is already stored.
type DocumentRecord struct {
	DocType           DocType
	DocNumber         string
	RemoteID          string
	SupplierID        int64
	Date              time.Time
	DueDate           time.Time
	Status            string
	Subtotal          decimal.Decimal
	TaxTotal          decimal.Decimal
	Total             decimal.Decimal
	Memo              string
	Message           string
	Raw               json.RawMessage
	RunID             string
	AttachmentMissing bool

	Lines       []LineRecord
	Attachments []AttachmentRecord

	LinkedLPO    *DocumentRecord
	LPODocNumber string
}

// WriteResult reports what a document transaction stored.
type WriteResult struct {
	DocumentID int64
	LPOID      int64
	LPOCreated bool
}

// ErrDuplicate is returned by a Store when the (doc_type, doc_number) unique
// constraint rejects an insert.
var ErrDuplicate = errors.New("document already imported")

// Store is the relational side of the pipeline.
type Store interface {
	DocumentExists(ctx context.Context, t DocType, docNumber string) (bool, error)
	UpsertSupplier(ctx context.Context, s SupplierRecord) (int64, error)
	UpsertItem(ctx context.Context, it ItemRecord) (int64, error)
	WriteDocument(ctx context.Context, doc *DocumentRecord) (WriteResult, error)
}

// PageSource returns one page of documents. start is 1-based.
type PageSource interface {
	Page(ctx context.Context, t DocType, from, to time.Time, start, size int) ([]RemoteDocument, error)
}

// RemoteReader reads the entities a document references.
type RemoteReader interface {
	Party(ctx context.Context, ref PartyRef) (RemoteParty, error)
	Item(ctx context.Context, id string) (RemoteItem, error)
	PurchaseOrder(ctx context.Context, txnID string) (RemoteDocument, error)
}

// AttachmentSource lists and downloads attachments of a remote document.
type AttachmentSource interface {
	ListAttachments(ctx context.Context, t DocType, remoteID string) ([]AttachmentRef, error)
	OpenAttachment(ctx context.Context, ref AttachmentRef) (io.ReadCloser, error)
}

// BlobStore keeps attachment content and returns where it was written.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}
