package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// Invoice statuses as the core sees them. Anything the gateway reports
// that we don't recognize collapses to StatusUnknown.
const (
	StatusActive  = "active"
	StatusPaid    = "paid"
	StatusExpired = "expired"
	StatusUnknown = "unknown"
)

// GatewayError marks transient gateway failures; the reconciler retries
// them on the next tick instead of escalating.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("cryptopay %s: %v", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

type Invoice struct {
	ID     string
	Status string
	Amount decimal.Decimal
	PayURL string
}

// Client talks to the Crypto Pay API (pay.crypt.bot).
type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

type apiResp struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

type apiInvoice struct {
	InvoiceID json.Number `json:"invoice_id"`
	Status    string      `json:"status"`
	Amount    string      `json:"amount"`
	PayURL    string      `json:"pay_url"`
}

// CreateInvoice issues a USDT invoice with a 15 minute validity window.
// The order id rides in the payload so the gateway side stays traceable.
func (c *Client) CreateInvoice(ctx context.Context, amount decimal.Decimal, description, externalOrderID string) (Invoice, error) {
	body := map[string]any{
		"asset":           "USDT",
		"amount":          amount.String(),
		"description":     description,
		"payload":         fmt.Sprintf(`{"order_id":%q}`, externalOrderID),
		"allow_comments":  false,
		"allow_anonymous": false,
		"expires_in":      900,
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/createInvoice", bytes.NewReader(b))
	if err != nil {
		return Invoice{}, &GatewayError{Op: "createInvoice", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	var out apiInvoice
	if err := c.do(req, "createInvoice", &out); err != nil {
		return Invoice{}, err
	}
	return toInvoice(out)
}

// GetInvoiceStatus polls one invoice. Gateway-level failures return
// StatusUnknown alongside the error so callers can keep the entry
// pending without special-casing.
func (c *Client) GetInvoiceStatus(ctx context.Context, invoiceID string) (string, error) {
	u := fmt.Sprintf("%s/getInvoices?invoice_ids=%s", c.base, url.QueryEscape(invoiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return StatusUnknown, &GatewayError{Op: "getInvoices", Err: err}
	}
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	var out struct {
		Items []apiInvoice `json:"items"`
	}
	if err := c.do(req, "getInvoices", &out); err != nil {
		return StatusUnknown, err
	}
	if len(out.Items) == 0 {
		return StatusUnknown, &GatewayError{Op: "getInvoices", Err: fmt.Errorf("invoice %s not returned", invoiceID)}
	}
	switch s := out.Items[0].Status; s {
	case StatusActive, StatusPaid, StatusExpired:
		return s, nil
	default:
		return StatusUnknown, nil
	}
}

func (c *Client) do(req *http.Request, op string, result any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GatewayError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	var ar apiResp
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	if !ar.OK {
		if ar.Error != nil {
			return &GatewayError{Op: op, Err: fmt.Errorf("api error %d %s", ar.Error.Code, ar.Error.Name)}
		}
		return &GatewayError{Op: op, Err: fmt.Errorf("api error")}
	}
	if err := json.Unmarshal(ar.Result, result); err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	return nil
}

func toInvoice(a apiInvoice) (Invoice, error) {
	amt, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return Invoice{}, &GatewayError{Op: "createInvoice", Err: fmt.Errorf("bad amount %q", a.Amount)}
	}
	return Invoice{
		ID:     a.InvoiceID.String(),
		Status: a.Status,
		Amount: amt,
		PayURL: a.PayURL,
	}, nil
}
