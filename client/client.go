// Package client talks to a chainlist ledger over HTTP. Errors returned by
// the server are mapped back to the model sentinels so callers can use
// errors.Is exactly as they would against an in-process ledger.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"chainlist-backend/model"

	"go.uber.org/zap"
)

// AccountHeader must match the header the server reads the caller from.
const AccountHeader = "X-Account"

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client. It must not set a Timeout,
// which would cut event streams short; use request contexts instead.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response. It unwraps to the matching model error
// when the code is known.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

func (e *APIError) Unwrap() error {
	return model.ErrorForCode(e.Code)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: model.CodeInternalError, Message: strings.TrimSpace(string(raw))}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}

func (c *Client) do(ctx context.Context, method, path, account string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp)
		c.logger.Debug("request rejected", zap.String("method", method), zap.String("path", path), zap.Error(apiErr))
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// ListForSale returns the ids of unsold items in ascending order.
func (c *Client) ListForSale(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := c.do(ctx, http.MethodGet, "/items", "", nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// ItemsForSale returns every unsold item in one round trip.
func (c *Client) ItemsForSale(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	if err := c.do(ctx, http.MethodGet, "/items?all=true", "", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Get(ctx context.Context, id int64) (model.Item, error) {
	var item model.Item
	err := c.do(ctx, http.MethodGet, "/items/"+strconv.FormatInt(id, 10), "", nil, &item)
	return item, err
}

func (c *Client) Count(ctx context.Context) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	err := c.do(ctx, http.MethodGet, "/items/count", "", nil, &resp)
	return resp.Count, err
}

func (c *Client) List(ctx context.Context, seller, name, description string, price int64) (int64, error) {
	in := struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Price       int64  `json:"price"`
	}{name, description, price}
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/items", seller, in, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) Purchase(ctx context.Context, buyer string, id int64, tendered int64) (model.Receipt, error) {
	in := struct {
		Tendered int64 `json:"tendered"`
	}{tendered}
	var receipt model.Receipt
	err := c.do(ctx, http.MethodPost, "/items/"+strconv.FormatInt(id, 10)+"/purchase", buyer, in, &receipt)
	return receipt, err
}

func (c *Client) Balance(ctx context.Context, account string) (model.Account, error) {
	var acct model.Account
	err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(account), "", nil, &acct)
	return acct, err
}

func (c *Client) Deposit(ctx context.Context, account string, amount int64) (model.Account, error) {
	in := struct {
		Amount int64 `json:"amount"`
	}{amount}
	var acct model.Account
	err := c.do(ctx, http.MethodPost, "/accounts/"+url.PathEscape(account)+"/deposit", "", in, &acct)
	return acct, err
}

// History reads committed events with seq greater than after.
func (c *Client) History(ctx context.Context, after int64, limit int) ([]model.Event, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var events []model.Event
	if err := c.do(ctx, http.MethodGet, "/events/history?"+q.Encode(), "", nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// IsLedgerError reports whether err carries a known ledger error code as
// opposed to a transport or server fault.
func IsLedgerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unwrap() != nil
}
