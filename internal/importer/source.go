package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/pkg/quickbooks"
)

// QuickBooksSource adapts the QuickBooks client to the importer ports and
// translates its errors into the errs taxonomy.
type QuickBooksSource struct {
	client *quickbooks.Client
}

func NewQuickBooksSource(client *quickbooks.Client) *QuickBooksSource {
	return &QuickBooksSource{client: client}
}

var (
	_ PageSource       = (*QuickBooksSource)(nil)
	_ RemoteReader     = (*QuickBooksSource)(nil)
	_ AttachmentSource = (*QuickBooksSource)(nil)
)

func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errs.IsAuth(err):
		return err
	case errors.Is(err, quickbooks.ErrUnauthorized):
		return &errs.AuthError{Op: "quickbooks request", Err: err}
	case errors.Is(err, quickbooks.ErrNotFound):
		return fmt.Errorf("%w: %w", errs.ErrNotFound, err)
	case errors.Is(err, quickbooks.ErrForbidden):
		return fmt.Errorf("%w: %w", errs.ErrForbidden, err)
	case quickbooks.IsTransient(err):
		return errs.Transient(err)
	}
	return err
}

func (s *QuickBooksSource) Page(ctx context.Context, t DocType, from, to time.Time, start, size int) ([]RemoteDocument, error) {
	if size > quickbooks.MaxPageSize {
		size = quickbooks.MaxPageSize
	}
	switch t {
	case DocInvoice:
		invs, err := s.client.QueryInvoices(ctx, from, to, start, size)
		if err != nil {
			return nil, classify(err)
		}
		docs := make([]RemoteDocument, 0, len(invs))
		for _, inv := range invs {
			docs = append(docs, InvoiceDocument(inv))
		}
		return docs, nil
	case DocLPO:
		pos, err := s.client.QueryPurchaseOrders(ctx, from, to, start, size)
		if err != nil {
			return nil, classify(err)
		}
		docs := make([]RemoteDocument, 0, len(pos))
		for _, po := range pos {
			docs = append(docs, PurchaseOrderDocument(po))
		}
		return docs, nil
	}
	return nil, fmt.Errorf("unsupported document type %q", t)
}

func (s *QuickBooksSource) Party(ctx context.Context, ref PartyRef) (RemoteParty, error) {
	var (
		p   *quickbooks.Party
		err error
	)
	if ref.Kind == PartyCustomer {
		p, err = s.client.GetCustomer(ctx, ref.ID)
	} else {
		p, err = s.client.GetVendor(ctx, ref.ID)
	}
	if err != nil {
		return RemoteParty{}, classify(err)
	}
	name := p.DisplayName
	if name == "" {
		name = p.CompanyName
	}
	return RemoteParty{ID: p.ID, Name: name, Email: p.Email(), Phone: p.Phone()}, nil
}

func (s *QuickBooksSource) Item(ctx context.Context, id string) (RemoteItem, error) {
	it, err := s.client.GetItem(ctx, id)
	if err != nil {
		return RemoteItem{}, classify(err)
	}
	return RemoteItem{ID: it.ID, Name: it.Name, Type: it.Type, Description: it.Description}, nil
}

func (s *QuickBooksSource) PurchaseOrder(ctx context.Context, txnID string) (RemoteDocument, error) {
	po, err := s.client.GetPurchaseOrder(ctx, txnID)
	if err != nil {
		return RemoteDocument{}, classify(err)
	}
	return PurchaseOrderDocument(*po), nil
}

func (s *QuickBooksSource) ListAttachments(ctx context.Context, t DocType, remoteID string) ([]AttachmentRef, error) {
	atts, err := s.client.ListAttachables(ctx, t.RemoteEntity(), remoteID)
	if err != nil {
		return nil, classify(err)
	}
	refs := make([]AttachmentRef, 0, len(atts))
	for _, a := range atts {
		refs = append(refs, AttachmentRef{
			RemoteID:    a.ID,
			FileName:    a.FileName,
			ContentType: a.ContentType,
			Size:        int64(a.Size),
		})
	}
	return refs, nil
}

func (s *QuickBooksSource) OpenAttachment(ctx context.Context, ref AttachmentRef) (io.ReadCloser, error) {
	rc, err := s.client.DownloadAttachable(ctx, ref.RemoteID)
	if err != nil {
		return nil, classify(err)
	}
	return rc, nil
}

// InvoiceDocument maps a QuickBooks invoice. The customer stands in as the
// supplier until a linked purchase order says otherwise.
func InvoiceDocument(inv quickbooks.Invoice) RemoteDocument {
	doc := RemoteDocument{
		RemoteID:  inv.ID,
		DocNumber: inv.DocNumber,
		DocType:   DocInvoice,
		Date:      inv.TxnDate.Time,
		DueDate:   inv.DueDate.Time,
		LPO:       LPORef{TxnID: inv.PurchaseOrderID()},
		Lines:     remoteLines(inv.Line),
		Total:     inv.TotalAmt,
		TaxTotal:  totalTax(inv.TxnTaxDetail),
		Memo:      inv.PrivateNote,
		Raw:       inv.Raw,
		Status:    "Pending",
	}
	if inv.Balance.IsZero() {
		doc.Status = "Paid"
	}
	if inv.CustomerRef != nil {
		doc.Supplier = PartyRef{Kind: PartyCustomer, ID: inv.CustomerRef.Value, Name: inv.CustomerRef.Name}
	}
	if inv.CustomerMemo != nil {
		doc.Message = inv.CustomerMemo.Value
	}
	doc.Subtotal = doc.Total.Sub(doc.TaxTotal)
	return doc
}

func PurchaseOrderDocument(po quickbooks.PurchaseOrder) RemoteDocument {
	doc := RemoteDocument{
		RemoteID:  po.ID,
		DocNumber: po.DocNumber,
		DocType:   DocLPO,
		Date:      po.TxnDate.Time,
		DueDate:   po.DueDate.Time,
		Lines:     remoteLines(po.Line),
		Total:     po.TotalAmt,
		TaxTotal:  totalTax(po.TxnTaxDetail),
		Memo:      po.Memo,
		Message:   po.PrivateNote,
		Raw:       po.Raw,
		Status:    po.POStatus,
	}
	if doc.Status == "" {
		doc.Status = "Open"
	}
	if po.VendorRef != nil {
		doc.Supplier = PartyRef{Kind: PartyVendor, ID: po.VendorRef.Value, Name: po.VendorRef.Name}
	}
	doc.Subtotal = doc.Total.Sub(doc.TaxTotal)
	return doc
}

func totalTax(d *quickbooks.TxnTaxDetail) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return d.TotalTax
}

// remoteLines keeps item based lines only. Subtotal and discount lines carry
// no item and are not stored.
func remoteLines(lines []quickbooks.Line) []RemoteLine {
	out := make([]RemoteLine, 0, len(lines))
	for _, l := range lines {
		d := l.ItemDetail()
		if d == nil {
			continue
		}
		rl := RemoteLine{
			LineNum:     l.LineNum,
			Description: l.Description,
			Quantity:    d.Qty,
			UnitPrice:   d.UnitPrice,
			Amount:      l.Amount,
			Taxable:     d.TaxCodeRef != nil && d.TaxCodeRef.Value != "" && d.TaxCodeRef.Value != "NON",
		}
		if d.ItemRef != nil {
			rl.Item = ItemRef{ID: d.ItemRef.Value, Name: d.ItemRef.Name}
		}
		out = append(out, rl)
	}
	return out
}
