// Package remote is the HTTP client for the sync backend. It exposes the two
// boundaries the synchronizer needs: per-record mutation calls and the
// tenant-scoped delta pull endpoint. Failures are classified into kinds the
// synchronizer maps onto its retry policy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/marcus/possync/internal/models"
)

// ErrorKind classifies a remote failure.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindConflict    ErrorKind = "conflict"
	KindNotFound    ErrorKind = "not_found"
	KindServerError ErrorKind = "server_error"
	KindNetwork     ErrorKind = "network_error"
)

// Error is a structured remote failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Transient reports whether the failure should be retried with backoff.
func (e *Error) Transient() bool {
	return e.Kind == KindNetwork || e.Kind == KindServerError
}

// Client talks to the sync backend.
type Client struct {
	BaseURL  string
	APIKey   string
	DeviceID string
	HTTP     *http.Client
}

// New creates a client with the default per-attempt timeout.
func New(baseURL, apiKey, deviceID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

// MutateRequest is the body for a record mutation.
type MutateRequest struct {
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	DeviceID string          `json:"device_id"`
	EntryID  string          `json:"entry_id"` // queue entry uuid, server-side dedup key
}

// PullResponse is the delta endpoint response. Changes carry the
// authoritative updatedAt; Checkpoint is an opaque cursor for the next pull.
type PullResponse struct {
	Changes    []models.Change `json:"changes"`
	Checkpoint string          `json:"checkpoint"`
	HasMore    bool            `json:"has_more"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// Mutate sends one mutation for table/recordID and returns the canonical
// server row on success. DELETE responses may have an empty body.
func (c *Client) Mutate(ctx context.Context, tenantID, table, recordID string, action models.Action, payload json.RawMessage) (models.Row, error) {
	body := MutateRequest{
		Action:   string(action),
		Payload:  payload,
		DeviceID: c.DeviceID,
	}
	path := fmt.Sprintf("/v1/tenants/%s/tables/%s/records/%s",
		url.PathEscape(tenantID), url.PathEscape(table), url.PathEscape(recordID))

	var row models.Row
	if err := c.do(ctx, "POST", path, body, &row); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, nil
	}
	return row, nil
}

// MutateEntry is Mutate with the queue entry id attached so the server can
// deduplicate a retried push whose first attempt landed.
func (c *Client) MutateEntry(ctx context.Context, tenantID string, e models.QueueEntry) (models.Row, error) {
	body := MutateRequest{
		Action:   string(e.Action),
		Payload:  e.Payload,
		DeviceID: c.DeviceID,
		EntryID:  e.ID,
	}
	path := fmt.Sprintf("/v1/tenants/%s/tables/%s/records/%s",
		url.PathEscape(tenantID), url.PathEscape(e.Table), url.PathEscape(e.RecordID))

	var row models.Row
	if err := c.do(ctx, "POST", path, body, &row); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, nil
	}
	return row, nil
}

// Pull fetches rows changed since the given cursor. An empty cursor requests
// a full snapshot.
func (c *Client) Pull(ctx context.Context, tenantID, since string, limit int) (*PullResponse, error) {
	params := url.Values{}
	if since != "" {
		params.Set("since", since)
	}
	params.Set("limit", strconv.Itoa(limit))
	if c.DeviceID != "" {
		params.Set("exclude_device", c.DeviceID)
	}
	path := fmt.Sprintf("/v1/tenants/%s/changes?%s", url.PathEscape(tenantID), params.Encode())

	var resp PullResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fetch returns the canonical server row for a single record. Conflict
// resolution uses it to restore a row the pull checkpoint has moved past.
func (c *Client) Fetch(ctx context.Context, tenantID, table, recordID string) (models.Row, error) {
	path := fmt.Sprintf("/v1/tenants/%s/tables/%s/records/%s",
		url.PathEscape(tenantID), url.PathEscape(table), url.PathEscape(recordID))

	var row models.Row
	if err := c.do(ctx, "GET", path, nil, &row); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, nil
	}
	return row, nil
}

// Health verifies server reachability.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// transport failure, including the per-attempt timeout
		return &Error{Kind: KindNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode >= 400 {
		return classify(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// classify maps an HTTP failure onto an error kind.
func classify(status int, body []byte) *Error {
	msg := string(body)
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Message != "" {
		msg = ae.Message
	}

	kind := KindValidation
	switch {
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		// timeouts and throttling are retryable, not client errors
		kind = KindServerError
	case status >= 500:
		kind = KindServerError
	}
	// a server may also signal conflict through the error code
	if ae.Code == "conflict" {
		kind = KindConflict
	}
	return &Error{Kind: kind, Status: status, Message: msg}
}
