package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lendrisk/native/lending"
	"lendrisk/services/lending/engine"
	"lendrisk/services/lending/pricing"
)

// APIError is a non-2xx response from the lending API.
type APIError struct {
	Status  int    `json:"-"`
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lending api: %d %s: %s", e.Status, e.Kind, e.Message)
}

// Client provides a thin wrapper around the lending HTTP API.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken attaches a bearer token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// New constructs a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("lending api: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("lending api: base url %q must be absolute", baseURL)
	}
	c := &Client{base: base, http: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Quote(ctx context.Context, terms lending.LoanTerms, market lending.MarketState) (lending.RateQuote, error) {
	var out lending.RateQuote
	body := map[string]interface{}{"terms": terms, "market": market}
	err := c.do(ctx, http.MethodPost, "/v1/quotes", body, &out)
	return out, err
}

func (c *Client) CreateLoan(ctx context.Context, req engine.CreateLoanRequest) (*engine.Loan, error) {
	var out engine.Loan
	if err := c.do(ctx, http.MethodPost, "/v1/loans", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FundLoan(ctx context.Context, loanID string, deposits []lending.Deposit) (*engine.LoanState, error) {
	return c.state(ctx, loanID, "fund", map[string]interface{}{"deposits": deposits})
}

func (c *Client) DepositCollateral(ctx context.Context, loanID string, deposit lending.Deposit) (*engine.LoanState, error) {
	return c.state(ctx, loanID, "collateral/deposit", deposit)
}

func (c *Client) WithdrawCollateral(ctx context.Context, loanID, assetID string, amount decimal.Decimal) (*engine.LoanState, error) {
	return c.state(ctx, loanID, "collateral/withdraw", map[string]interface{}{"assetId": assetID, "amount": amount})
}

func (c *Client) ApplyPayment(ctx context.Context, loanID string, amount decimal.Decimal) (engine.PaymentReceipt, error) {
	var out engine.PaymentReceipt
	err := c.do(ctx, http.MethodPost, loanPath(loanID, "payments"), map[string]interface{}{"amount": amount}, &out)
	return out, err
}

func (c *Client) SettleEarly(ctx context.Context, loanID string, amount decimal.Decimal) (*engine.LoanState, error) {
	return c.state(ctx, loanID, "settle", map[string]interface{}{"amount": amount})
}

func (c *Client) MarkDefaulted(ctx context.Context, loanID string) (*engine.LoanState, error) {
	return c.state(ctx, loanID, "default", nil)
}

func (c *Client) ArchiveLoan(ctx context.Context, loanID string) (*engine.Loan, error) {
	var out engine.Loan
	if err := c.do(ctx, http.MethodPost, loanPath(loanID, "archive"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, loanID string) (*engine.StatusView, error) {
	var out engine.StatusView
	if err := c.do(ctx, http.MethodGet, loanPath(loanID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PushPrices submits observations and returns the feed's quotes afterwards.
func (c *Client) PushPrices(ctx context.Context, observations []pricing.Observation) ([]pricing.Quote, error) {
	var out struct {
		Quotes []pricing.Quote `json:"quotes"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/prices", map[string]interface{}{"observations": observations}, &out)
	return out.Quotes, err
}

func (c *Client) state(ctx context.Context, loanID, action string, body interface{}) (*engine.LoanState, error) {
	var out engine.LoanState
	if err := c.do(ctx, http.MethodPost, loanPath(loanID, action), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func loanPath(loanID, action string) string {
	path := "/v1/loans/" + url.PathEscape(strings.TrimSpace(loanID))
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("lending api: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("lending api: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(payload, apiErr); jsonErr != nil || apiErr.Kind == "" {
			apiErr.Kind = "http"
			apiErr.Message = strings.TrimSpace(string(payload))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("lending api: decode response: %w", err)
	}
	return nil
}
