package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
)

// User-facing fallback messages, shown when a request fails outright or
// the backend rejection carries no usable message of its own.
const (
	PurchaseErrFallback = "구매 요청 처리 중 오류가 발생했습니다."
	ConfirmErrFallback  = "구매확정 처리 중 오류가 발생했습니다."
)

// APIError is a backend rejection (non-2xx status). Msg holds the
// user-facing message extracted from the response body.
type APIError struct {
	Status int
	Field  string
	Msg    string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("order api: status %d: %s: %s", e.Status, e.Field, e.Msg)
	}
	return fmt.Sprintf("order api: status %d: %s", e.Status, e.Msg)
}

// Message returns the text to surface to the user for err. Backend
// rejections carry their own extracted message; anything else (network
// failure, malformed response) gets the caller's generic fallback.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Msg != "" {
		return apiErr.Msg
	}
	return fallback
}

// Client talks to the order resource backend. Mutating requests carry the
// CSRF token and the AJAX marker header.
type Client struct {
	base      *url.URL
	http      *http.Client
	csrfToken string

	// UserID, when set, is sent as the X-User-Id header. Backends with
	// cookie sessions ignore it; the dev harness authenticates with it.
	UserID int64
}

func NewClient(httpClient *http.Client, baseURL, csrfToken string) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	return &Client{base: u, http: httpClient, csrfToken: csrfToken}, nil
}

// List fetches all orders for the listing/buyer pair. A legitimate empty
// result is (nil, nil): no orders yet is quiescence, not an error.
func (c *Client) List(ctx context.Context, listingID, buyerID int64) ([]Order, error) {
	u := *c.base
	u.Path = "/api/orders/"
	q := url.Values{}
	q.Set("listing", strconv.FormatInt(listingID, 10))
	q.Set("buyer", strconv.FormatInt(buyerID, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.identify(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Msg: PurchaseErrFallback}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read list response: %w", err)
	}
	return decodeOrderList(body)
}

// LatestFor fetches and selects the most recent order for the pair, or
// nil when none exists.
func (c *Client) LatestFor(ctx context.Context, listingID, buyerID int64) (*Order, error) {
	orders, err := c.List(ctx, listingID, buyerID)
	if err != nil {
		return nil, err
	}
	return Latest(orders), nil
}

// Create places a new order, holding amount in escrow. Rejections are
// returned as *APIError with the message extracted per extractMessage.
func (c *Client) Create(ctx context.Context, listingID, amount int64) (*Order, error) {
	payload, _ := json.Marshal(map[string]int64{"listing": listingID, "amount": amount})
	u := *c.base
	u.Path = "/api/orders/"
	return c.mutate(ctx, u.String(), payload, true, PurchaseErrFallback)
}

// Confirm releases escrow for an existing order. Only a structured detail
// message is extracted from rejections; confirm has no field-level errors.
func (c *Client) Confirm(ctx context.Context, orderID int64) (*Order, error) {
	u := *c.base
	u.Path = fmt.Sprintf("/api/orders/%d/confirm/", orderID)
	return c.mutate(ctx, u.String(), nil, false, ConfirmErrFallback)
}

func (c *Client) mutate(ctx context.Context, endpoint string, payload []byte, fieldErrors bool, fallback string) (*Order, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-CSRFToken", c.csrfToken)
	c.identify(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, extractMessage(resp.StatusCode, raw, fieldErrors, fallback)
	}
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}

func (c *Client) identify(req *http.Request) {
	if c.UserID != 0 {
		req.Header.Set("X-User-Id", strconv.FormatInt(c.UserID, 10))
	}
}

// decodeOrderList accepts both a bare JSON array and a paginated
// {results: [...]} envelope.
func decodeOrderList(body []byte) ([]Order, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var orders []Order
		if err := json.Unmarshal(trimmed, &orders); err != nil {
			return nil, fmt.Errorf("decode order list: %w", err)
		}
		return orders, nil
	}
	var envelope struct {
		Results []Order `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode order list: %w", err)
	}
	return envelope.Results, nil
}

// extractMessage builds the user-facing rejection message: a structured
// "detail" string wins; otherwise, when field-level errors are allowed,
// the first message of the first field's error list; otherwise the
// generic fallback.
func extractMessage(status int, body []byte, fieldErrors bool, fallback string) *APIError {
	apiErr := &APIError{Status: status, Msg: fallback}
	var raw map[string]json.RawMessage
	if json.Unmarshal(body, &raw) != nil {
		return apiErr
	}
	if detail, ok := raw["detail"]; ok {
		var s string
		if json.Unmarshal(detail, &s) == nil && s != "" {
			apiErr.Msg = s
			return apiErr
		}
	}
	if !fieldErrors {
		return apiErr
	}
	fields := make([]string, 0, len(raw))
	for field := range raw {
		if field != "detail" {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	for _, field := range fields {
		var msgs []string
		if json.Unmarshal(raw[field], &msgs) == nil && len(msgs) > 0 {
			apiErr.Field = field
			apiErr.Msg = msgs[0]
			return apiErr
		}
	}
	return apiErr
}
