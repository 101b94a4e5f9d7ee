package quickbooks

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SandboxBaseURL    = "https://sandbox-quickbooks.api.intuit.com"
	ProductionBaseURL = "https://quickbooks.api.intuit.com"

	DefaultMinorVersion = "65"

	dateLayout = "2006-01-02"
)

// BaseURL returns the API host for "sandbox" or "production".
func BaseURL(environment string) string {
	if strings.EqualFold(environment, "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// Ref is a QuickBooks entity reference ({"value": "42", "name": "Acme"}).
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// Date is a QuickBooks calendar date ("2025-04-01").
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

type LinkedTxn struct {
	TxnID   string `json:"TxnId"`
	TxnType string `json:"TxnType"`
}

// ItemLineDetail is shared by SalesItemLineDetail and ItemBasedExpenseLineDetail.
type ItemLineDetail struct {
	ItemRef    *Ref            `json:"ItemRef,omitempty"`
	Qty        decimal.Decimal `json:"Qty"`
	UnitPrice  decimal.Decimal `json:"UnitPrice"`
	TaxCodeRef *Ref            `json:"TaxCodeRef,omitempty"`
}

type Line struct {
	ID                         string          `json:"Id"`
	LineNum                    int             `json:"LineNum"`
	Description                string          `json:"Description"`
	Amount                     decimal.Decimal `json:"Amount"`
	DetailType                 string          `json:"DetailType"`
	SalesItemLineDetail        *ItemLineDetail `json:"SalesItemLineDetail,omitempty"`
	ItemBasedExpenseLineDetail *ItemLineDetail `json:"ItemBasedExpenseLineDetail,omitempty"`
}

// ItemDetail returns the item detail for item based lines, nil otherwise.
func (l Line) ItemDetail() *ItemLineDetail {
	switch l.DetailType {
	case "SalesItemLineDetail":
		return l.SalesItemLineDetail
	case "ItemBasedExpenseLineDetail":
		return l.ItemBasedExpenseLineDetail
	}
	return nil
}

type TxnTaxDetail struct {
	TotalTax decimal.Decimal `json:"TotalTax"`
}

type MemoRef struct {
	Value string `json:"value"`
}

type Invoice struct {
	ID           string          `json:"Id"`
	DocNumber    string          `json:"DocNumber"`
	TxnDate      Date            `json:"TxnDate"`
	DueDate      Date            `json:"DueDate"`
	CustomerRef  *Ref            `json:"CustomerRef,omitempty"`
	LinkedTxn    []LinkedTxn     `json:"LinkedTxn,omitempty"`
	Line         []Line          `json:"Line"`
	TotalAmt     decimal.Decimal `json:"TotalAmt"`
	Balance      decimal.Decimal `json:"Balance"`
	TxnTaxDetail *TxnTaxDetail   `json:"TxnTaxDetail,omitempty"`
	CustomerMemo *MemoRef        `json:"CustomerMemo,omitempty"`
	PrivateNote  string          `json:"PrivateNote"`

	Raw json.RawMessage `json:"-"`
}

func (inv *Invoice) UnmarshalJSON(b []byte) error {
	type alias Invoice
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*inv = Invoice(a)
	inv.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// PurchaseOrderID returns the TxnId of the first linked PurchaseOrder, if any.
func (inv Invoice) PurchaseOrderID() string {
	for _, lt := range inv.LinkedTxn {
		if lt.TxnType == "PurchaseOrder" && lt.TxnID != "" {
			return lt.TxnID
		}
	}
	return ""
}

type PurchaseOrder struct {
	ID           string          `json:"Id"`
	DocNumber    string          `json:"DocNumber"`
	TxnDate      Date            `json:"TxnDate"`
	DueDate      Date            `json:"DueDate"`
	VendorRef    *Ref            `json:"VendorRef,omitempty"`
	POStatus     string          `json:"POStatus"`
	Line         []Line          `json:"Line"`
	TotalAmt     decimal.Decimal `json:"TotalAmt"`
	TxnTaxDetail *TxnTaxDetail   `json:"TxnTaxDetail,omitempty"`
	PrivateNote  string          `json:"PrivateNote"`
	Memo         string          `json:"Memo"`

	Raw json.RawMessage `json:"-"`
}

func (po *PurchaseOrder) UnmarshalJSON(b []byte) error {
	type alias PurchaseOrder
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*po = PurchaseOrder(a)
	po.Raw = append(json.RawMessage(nil), b...)
	return nil
}

type EmailAddress struct {
	Address string `json:"Address"`
}

type PhoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

// Party carries the fields shared by Vendor and Customer.
type Party struct {
	ID               string        `json:"Id"`
	DisplayName      string        `json:"DisplayName"`
	CompanyName      string        `json:"CompanyName"`
	PrimaryEmailAddr *EmailAddress `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *PhoneNumber  `json:"PrimaryPhone,omitempty"`
	Active           bool          `json:"Active"`
}

func (p Party) Email() string {
	if p.PrimaryEmailAddr == nil {
		return ""
	}
	return p.PrimaryEmailAddr.Address
}

func (p Party) Phone() string {
	if p.PrimaryPhone == nil {
		return ""
	}
	return p.PrimaryPhone.FreeFormNumber
}

type Item struct {
	ID          string `json:"Id"`
	Name        string `json:"Name"`
	Type        string `json:"Type"`
	Description string `json:"Description"`
	Active      bool   `json:"Active"`
}

type Attachable struct {
	ID              string  `json:"Id"`
	FileName        string  `json:"FileName"`
	ContentType     string  `json:"ContentType"`
	Size            float64 `json:"Size"`
	FileAccessURI   string  `json:"FileAccessUri"`
	TempDownloadURI string  `json:"TempDownloadUri"`
}

type CompanyInfo struct {
	ID          string `json:"Id"`
	CompanyName string `json:"CompanyName"`
	LegalName   string `json:"LegalName"`
	Country     string `json:"Country"`
}
