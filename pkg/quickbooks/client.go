package quickbooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
)

// TokenSource supplies bearer tokens. ForceRefresh is called once after a 401
// with the token that was rejected.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, stale string) (string, error)
}

// Fault is the error envelope returned by the accounting API.
type Fault struct {
	Type  string `json:"type"`
	Error []struct {
		Message string `json:"Message"`
		Detail  string `json:"Detail"`
		Code    string `json:"code"`
	} `json:"Error"`
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
	Fault      *Fault
}

func (e *APIError) Error() string {
	msg := e.Body
	if e.Fault != nil && len(e.Fault.Error) > 0 {
		f := e.Fault.Error[0]
		msg = f.Message
		if f.Detail != "" {
			msg += ": " + f.Detail
		}
	}
	return fmt.Sprintf("quickbooks api error %d %s %s: %s", e.StatusCode, e.Method, e.Path, msg)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

func newAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := &APIError{
		StatusCode: resp.StatusCode,
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
		Body:       strings.TrimSpace(string(body)),
	}
	var env struct {
		Fault *Fault `json:"Fault"`
	}
	if json.Unmarshal(body, &env) == nil && env.Fault != nil {
		e.Fault = env.Fault
	}
	return e
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, throttling and 5xx responses.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return rerr.Response != nil && (rerr.Response.StatusCode == http.StatusTooManyRequests || rerr.Response.StatusCode >= 500)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Client talks to the v3 accounting API for one company (realm).
type Client struct {
	httpClient   *http.Client
	baseURL      string
	realmID      string
	minorVersion string
	tokens       TokenSource
}

func NewClient(httpClient *http.Client, baseURL, realmID string, tokens TokenSource) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:   httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		realmID:      realmID,
		minorVersion: DefaultMinorVersion,
		tokens:       tokens,
	}
}

// SetMinorVersion overrides the minorversion query parameter sent with every call.
func (c *Client) SetMinorVersion(v string) {
	if v != "" {
		c.minorVersion = v
	}
}

func (c *Client) RealmID() string { return c.realmID }

func (c *Client) companyURL(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("minorversion", c.minorVersion)
	return fmt.Sprintf("%s/v3/company/%s%s?%s", c.baseURL, url.PathEscape(c.realmID), path, q.Encode())
}

func (c *Client) attempt(ctx context.Context, method, u, accept, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	return c.httpClient.Do(req)
}

// send performs an authenticated request. A 401 triggers one forced refresh
// and one retry; any other non-2xx becomes an *APIError.
func (c *Client) send(ctx context.Context, method, u, accept string) (*http.Response, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.attempt(ctx, method, u, accept, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		token, err = c.tokens.ForceRefresh(ctx, token)
		if err != nil {
			return nil, err
		}
		resp, err = c.attempt(ctx, method, u, accept, token)
		if err != nil {
			return nil, err
		}
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newAPIError(resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.send(ctx, http.MethodGet, c.companyURL(path, q), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// GetPurchaseOrder reads one PurchaseOrder by its Id.
func (c *Client) GetPurchaseOrder(ctx context.Context, id string) (*PurchaseOrder, error) {
	if id == "" {
		return nil, fmt.Errorf("purchase order id empty")
	}
	var res struct {
		PurchaseOrder *PurchaseOrder `json:"PurchaseOrder"`
	}
	if err := c.getJSON(ctx, "/purchaseorder/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	if res.PurchaseOrder == nil {
		return nil, fmt.Errorf("purchase order %s: %w", id, ErrNotFound)
	}
	return res.PurchaseOrder, nil
}

func (c *Client) GetVendor(ctx context.Context, id string) (*Party, error) {
	return c.getParty(ctx, "vendor", "Vendor", id)
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*Party, error) {
	return c.getParty(ctx, "customer", "Customer", id)
}

func (c *Client) getParty(ctx context.Context, path, key, id string) (*Party, error) {
	if id == "" {
		return nil, fmt.Errorf("%s id empty", path)
	}
	var res map[string]*Party
	if err := c.getJSON(ctx, "/"+path+"/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	p := res[key]
	if p == nil {
		return nil, fmt.Errorf("%s %s: %w", path, id, ErrNotFound)
	}
	return p, nil
}

func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	if id == "" {
		return nil, fmt.Errorf("item id empty")
	}
	var res struct {
		Item *Item `json:"Item"`
	}
	if err := c.getJSON(ctx, "/item/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	if res.Item == nil {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return res.Item, nil
}

// GetCompanyInfo is used as a connection check.
func (c *Client) GetCompanyInfo(ctx context.Context) (*CompanyInfo, error) {
	var res struct {
		CompanyInfo *CompanyInfo `json:"CompanyInfo"`
	}
	if err := c.getJSON(ctx, "/companyinfo/"+url.PathEscape(c.realmID), nil, &res); err != nil {
		return nil, err
	}
	if res.CompanyInfo == nil {
		return nil, fmt.Errorf("company info: %w", ErrNotFound)
	}
	return res.CompanyInfo, nil
}
