// Package gateway is the thin client for the backend's expense endpoints.
// Its one structural job beyond plumbing is the error split: a call
// either failed to reach the server (ConnectivityError) or the server
// answered and said no (APIError). Everything downstream branches on that.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spendlog/internal/analytics"
	"spendlog/internal/core"
)

// TokenSource supplies the current bearer credential; empty means anonymous.
type TokenSource func() string

type Config struct {
	BaseURL string
	Token   TokenSource
	Timeout time.Duration

	// OnUnauthorized is invoked on a 401 so the auth collaborator can clear
	// stored credentials. Optional.
	OnUnauthorized func()
}

type Client struct {
	baseURL        string
	http           *http.Client
	token          TokenSource
	onUnauthorized func()
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           &http.Client{Timeout: timeout},
		token:          cfg.Token,
		onUnauthorized: cfg.OnUnauthorized,
	}
}

// ListParams filters GET /expenses. Nil bounds are open; View is the
// server-side "daily"/"monthly" shortcut used when no explicit range is set.
type ListParams struct {
	StartDate *time.Time
	EndDate   *time.Time
	Category  core.Category
	View      string
}

type (
	// SyncItemError is one rejected record from a bulk sync.
	SyncItemError struct {
		Expense core.Expense `json:"expense"`
		Error   string       `json:"error"`
	}

	// SyncResult is the bulk-sync response: every synced item echoes the
	// clientId it was submitted with.
	SyncResult struct {
		Synced []core.Expense  `json:"synced"`
		Errors []SyncItemError `json:"errors"`
	}
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Count   int             `json:"count"`
	Data    json.RawMessage `json:"data"`
}

type expensePayload struct {
	Amount        float64            `json:"amount"`
	Category      core.Category      `json:"category"`
	PaymentMethod core.PaymentMethod `json:"paymentMethod"`
	Description   string             `json:"description,omitempty"`
	Date          time.Time          `json:"date"`
	ClientID      string             `json:"clientId,omitempty"`
}

func payloadFrom(e core.Expense) expensePayload {
	return expensePayload{
		Amount:        e.Amount,
		Category:      e.Category,
		PaymentMethod: e.PaymentMethod,
		Description:   e.Description,
		Date:          e.Date,
	}
}

// Create posts a single expense. The server assigns identity.
func (c *Client) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	var out core.Expense
	err := c.do(ctx, http.MethodPost, "/expenses", nil, payloadFrom(e), &out)
	return out, err
}

// List fetches server-known expenses matching params.
func (c *Client) List(ctx context.Context, params ListParams) ([]core.Expense, error) {
	q := url.Values{}
	if params.StartDate != nil {
		q.Set("startDate", params.StartDate.Format(time.RFC3339))
	}
	if params.EndDate != nil {
		q.Set("endDate", params.EndDate.Format(time.RFC3339))
	}
	if params.Category != "" {
		q.Set("category", string(params.Category))
	}
	if params.View != "" {
		q.Set("view", params.View)
	}

	var out []core.Expense
	err := c.do(ctx, http.MethodGet, "/expenses", q, nil, &out)
	return out, err
}

// Update applies a patch to the expense with the given server identifier.
func (c *Client) Update(ctx context.Context, id string, patch core.ExpensePatch) (core.Expense, error) {
	var out core.Expense
	err := c.do(ctx, http.MethodPut, "/expenses/"+url.PathEscape(id), nil, patch, &out)
	return out, err
}

// Delete removes the expense with the given server identifier.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/expenses/"+url.PathEscape(id), nil, nil, nil)
}

// BulkSync submits locally created expenses in one batch, each tagged with
// its temporary identifier as clientId so the response can be correlated.
func (c *Client) BulkSync(ctx context.Context, locals []core.Expense) (SyncResult, error) {
	payloads := make([]expensePayload, len(locals))
	for i, e := range locals {
		p := payloadFrom(e)
		p.ClientID = e.ClientID
		if p.ClientID == "" {
			p.ClientID = e.ID
		}
		payloads[i] = p
	}

	body := struct {
		Expenses []expensePayload `json:"expenses"`
	}{Expenses: payloads}

	var out SyncResult
	err := c.do(ctx, http.MethodPost, "/expenses/sync", nil, body, &out)
	return out, err
}

// CategoryBreakdown fetches the server-side aggregation.
func (c *Client) CategoryBreakdown(ctx context.Context, from, to *time.Time) (analytics.BreakdownResult, error) {
	q := url.Values{}
	if from != nil {
		q.Set("startDate", from.Format(time.RFC3339))
	}
	if to != nil {
		q.Set("endDate", to.Format(time.RFC3339))
	}

	var out analytics.BreakdownResult
	err := c.do(ctx, http.MethodGet, "/expenses/analytics/category-breakdown", q, nil, &out)
	return out, err
}

// Insights fetches the server-side month-over-month comparison.
func (c *Client) Insights(ctx context.Context) (analytics.InsightsResult, error) {
	var out analytics.InsightsResult
	err := c.do(ctx, http.MethodGet, "/expenses/analytics/insights", nil, nil, &out)
	return out, err
}

// Ping probes the backend's health endpoint. Used by the poll watcher.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		// A response arrived, so this is the server misbehaving, not the
		// network being down.
		return &APIError{Status: resp.StatusCode, Message: "malformed response body"}
	}

	if resp.StatusCode == http.StatusUnauthorized && c.onUnauthorized != nil {
		c.onUnauthorized()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
