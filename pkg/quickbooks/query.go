package quickbooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MaxPageSize is the largest MAXRESULTS the query endpoint accepts.
const MaxPageSize = 1000

// QueryResult is the QueryResponse envelope; only the requested entity slice is populated.
type QueryResult struct {
	Invoice       []Invoice       `json:"Invoice"`
	PurchaseOrder []PurchaseOrder `json:"PurchaseOrder"`
	Attachable    []Attachable    `json:"Attachable"`
	StartPosition int             `json:"startPosition"`
	MaxResults    int             `json:"maxResults"`
}

// quote escapes a literal for the query language.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// DateRangeQuery builds a paged, date-filtered query. start is 1-based.
func DateRangeQuery(entity string, from, to time.Time, start, max int) string {
	if start < 1 {
		start = 1
	}
	return fmt.Sprintf("SELECT * FROM %s WHERE TxnDate >= %s AND TxnDate <= %s ORDERBY Id STARTPOSITION %d MAXRESULTS %d",
		entity, quote(from.Format(dateLayout)), quote(to.Format(dateLayout)), start, max)
}

// Query runs a statement against the query endpoint.
func (c *Client) Query(ctx context.Context, statement string) (*QueryResult, error) {
	var res struct {
		QueryResponse QueryResult `json:"QueryResponse"`
	}
	q := url.Values{}
	q.Set("query", statement)
	if err := c.getJSON(ctx, "/query", q, &res); err != nil {
		return nil, err
	}
	return &res.QueryResponse, nil
}

// QueryInvoices returns one page of invoices dated within [from, to].
func (c *Client) QueryInvoices(ctx context.Context, from, to time.Time, start, max int) ([]Invoice, error) {
	res, err := c.Query(ctx, DateRangeQuery("Invoice", from, to, start, max))
	if err != nil {
		return nil, err
	}
	return res.Invoice, nil
}

// QueryPurchaseOrders returns one page of purchase orders dated within [from, to].
func (c *Client) QueryPurchaseOrders(ctx context.Context, from, to time.Time, start, max int) ([]PurchaseOrder, error) {
	res, err := c.Query(ctx, DateRangeQuery("PurchaseOrder", from, to, start, max))
	if err != nil {
		return nil, err
	}
	return res.PurchaseOrder, nil
}

// ListAttachables returns attachment metadata linked to an entity ("Invoice" or "PurchaseOrder").
func (c *Client) ListAttachables(ctx context.Context, entityType, entityID string) ([]Attachable, error) {
	if entityID == "" {
		return nil, fmt.Errorf("entity id empty")
	}
	stmt := fmt.Sprintf("SELECT * FROM Attachable WHERE AttachableRef.EntityRef.Type = %s AND AttachableRef.EntityRef.value = %s",
		quote(entityType), quote(entityID))
	res, err := c.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return res.Attachable, nil
}

// DownloadAttachable streams the content of an attachable. The download
// endpoint answers with a short-lived URL which is then fetched without the
// bearer token. The caller closes the returned reader.
func (c *Client) DownloadAttachable(ctx context.Context, attachableID string) (io.ReadCloser, error) {
	if attachableID == "" {
		return nil, fmt.Errorf("attachable id empty")
	}
	resp, err := c.send(ctx, http.MethodGet, c.companyURL("/download/"+url.PathEscape(attachableID), nil), "text/plain")
	if err != nil {
		return nil, err
	}
	link, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read download link: %w", err)
	}
	target := strings.TrimSpace(string(link))
	if target == "" {
		return nil, fmt.Errorf("download link for %s: %w", attachableID, ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	blob, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if blob.StatusCode >= 300 {
		defer blob.Body.Close()
		return nil, newAPIError(blob)
	}
	return blob.Body, nil
}
