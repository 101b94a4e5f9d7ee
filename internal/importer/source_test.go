package importer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/pkg/quickbooks"
)

type staticTokens string

func (s staticTokens) AccessToken(context.Context) (string, error) { return string(s), nil }

func (s staticTokens) ForceRefresh(context.Context, string) (string, error) { return string(s), nil }

const invoiceJSON = `{
  "Id": "130",
  "DocNumber": "1037",
  "TxnDate": "2025-05-02",
  "DueDate": "2025-06-01",
  "CustomerRef": {"value": "58", "name": "Sonnenschein Family Store"},
  "LinkedTxn": [{"TxnId": "77", "TxnType": "Estimate"}, {"TxnId": "91", "TxnType": "PurchaseOrder"}],
  "Line": [
    {"Id": "1", "LineNum": 1, "Description": "Rock Fountain", "Amount": 275.00, "DetailType": "SalesItemLineDetail",
     "SalesItemLineDetail": {"ItemRef": {"value": "5", "name": "Rock Fountain"}, "Qty": 1, "UnitPrice": 275, "TaxCodeRef": {"value": "TAX"}}},
    {"Id": "2", "LineNum": 2, "Amount": 12.75, "DetailType": "SalesItemLineDetail",
     "SalesItemLineDetail": {"ItemRef": {"value": "11", "name": "Pump"}, "Qty": 3, "UnitPrice": 4.25, "TaxCodeRef": {"value": "NON"}}},
    {"Amount": 287.75, "DetailType": "SubTotalLineDetail", "SubTotalLineDetail": {}}
  ],
  "TxnTaxDetail": {"TotalTax": 13.75},
  "TotalAmt": 301.50,
  "Balance": 0,
  "CustomerMemo": {"value": "Thank you for your business"},
  "PrivateNote": "deliver to rear entrance"
}`

func TestInvoiceDocument_Mapping(t *testing.T) {
	t.Parallel()

	var inv quickbooks.Invoice
	if err := json.Unmarshal([]byte(invoiceJSON), &inv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	doc := InvoiceDocument(inv)

	if doc.DocNumber != "1037" || doc.DocType != DocInvoice {
		t.Fatalf("unexpected header %+v", doc)
	}
	if doc.LPO.TxnID != "91" {
		t.Fatalf("expected linked purchase order 91, got %q", doc.LPO.TxnID)
	}
	if doc.Supplier.Kind != PartyCustomer || doc.Supplier.ID != "58" {
		t.Fatalf("expected customer 58 as supplier, got %+v", doc.Supplier)
	}
	if doc.Status != "Paid" {
		t.Fatalf("expected Paid for zero balance, got %q", doc.Status)
	}
	if !doc.Subtotal.Equal(dec("287.75")) || !doc.TaxTotal.Equal(dec("13.75")) {
		t.Fatalf("unexpected totals subtotal=%s tax=%s", doc.Subtotal, doc.TaxTotal)
	}
	if len(doc.Lines) != 2 {
		t.Fatalf("expected the subtotal line to be dropped, got %d lines", len(doc.Lines))
	}
	if !doc.Lines[0].Taxable || doc.Lines[1].Taxable {
		t.Fatalf("expected only the first line taxable, got %v and %v", doc.Lines[0].Taxable, doc.Lines[1].Taxable)
	}
	if doc.Message != "Thank you for your business" || doc.Memo != "deliver to rear entrance" {
		t.Fatalf("unexpected memo/message %q / %q", doc.Memo, doc.Message)
	}
	if len(doc.Raw) == 0 {
		t.Fatal("expected raw payload to be kept")
	}
}

func TestPurchaseOrderDocument_Mapping(t *testing.T) {
	t.Parallel()

	var po quickbooks.PurchaseOrder
	raw := `{"Id":"91","DocNumber":"P-10","TxnDate":"2025-04-20","VendorRef":{"value":"41","name":"Hicks Hardware"},
	"POStatus":"Closed","TotalAmt":100,"Line":[{"LineNum":1,"Amount":100,"DetailType":"ItemBasedExpenseLineDetail",
	"ItemBasedExpenseLineDetail":{"ItemRef":{"value":"5"},"Qty":4,"UnitPrice":25}}]}`
	if err := json.Unmarshal([]byte(raw), &po); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	doc := PurchaseOrderDocument(po)

	if doc.Supplier.Kind != PartyVendor || doc.Supplier.ID != "41" {
		t.Fatalf("expected vendor 41, got %+v", doc.Supplier)
	}
	if doc.Status != "Closed" {
		t.Fatalf("expected POStatus, got %q", doc.Status)
	}
	if len(doc.Lines) != 1 || doc.Lines[0].Item.ID != "5" {
		t.Fatalf("unexpected lines %+v", doc.Lines)
	}
	if !doc.Subtotal.Equal(dec("100")) {
		t.Fatalf("expected subtotal 100 without tax detail, got %s", doc.Subtotal)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	unauthorized := &quickbooks.APIError{StatusCode: http.StatusUnauthorized}
	notFound := &quickbooks.APIError{StatusCode: http.StatusNotFound}
	unavailable := &quickbooks.APIError{StatusCode: http.StatusServiceUnavailable}
	badRequest := &quickbooks.APIError{StatusCode: http.StatusBadRequest}

	if !errs.IsAuth(classify(unauthorized)) {
		t.Fatal("expected 401 to be an auth error")
	}
	if !errors.Is(classify(notFound), errs.ErrNotFound) {
		t.Fatal("expected 404 to map to errs.ErrNotFound")
	}
	if !errs.IsTransient(classify(unavailable)) {
		t.Fatal("expected 503 to be transient")
	}
	if got := classify(badRequest); errs.IsTransient(got) || errs.IsAuth(got) {
		t.Fatalf("expected 400 to stay permanent, got %v", got)
	}
}

func TestQuickBooksSource_Page(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/query") {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"QueryResponse":{"Invoice":[` + invoiceJSON + `],"startPosition":1,"maxResults":1}}`))
	}))
	defer srv.Close()

	client := quickbooks.NewClient(srv.Client(), srv.URL, "9130", staticTokens("tok"))
	src := NewQuickBooksSource(client)

	docs, err := src.Page(context.Background(), DocInvoice, testFrom, testTo, 1, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 || docs[0].DocNumber != "1037" {
		t.Fatalf("unexpected documents %+v", docs)
	}
	if !strings.Contains(gotQuery, "FROM Invoice") || !strings.Contains(gotQuery, "MAXRESULTS 100") {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestQuickBooksSource_PartyNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"Fault":{"Error":[{"Message":"Object Not Found"}],"type":"ValidationFault"}}`))
	}))
	defer srv.Close()

	src := NewQuickBooksSource(quickbooks.NewClient(srv.Client(), srv.URL, "9130", staticTokens("tok")))
	_, err := src.Party(context.Background(), PartyRef{Kind: PartyVendor, ID: "404"})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
