// Package loops is a thin client for the Loops.so v1 API. Every call is made
// with a per-request API key because the console manages multiple accounts.
package loops

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests, satisfied by
// *http.Client. Tests substitute their own implementation.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is returned for any failed call: non-2xx responses carry the
// upstream status and message, transport failures carry Status 0 and the
// transport error text.
type APIError struct {
	Status   int
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("loops: request to %s failed: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("loops: API error %d (%s): %s", e.Status, e.Endpoint, e.Message)
}

// Client calls the Loops.so API. It performs no retries; callers own retry
// policy (the bulk importer records per-item failures instead of retrying).
type Client struct {
	baseURL    string
	httpClient HTTPDoer
}

// NewClient creates a client against the given base URL, e.g.
// "https://app.loops.so/api/v1".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(doer HTTPDoer) {
	c.httpClient = doer
}

// Call performs an authenticated request and returns the raw response body on
// 2xx. The payload is JSON-encoded for POST and ignored for GET.
func (c *Client) Call(ctx context.Context, endpoint, apiKey string, payload any, method string) (json.RawMessage, error) {
	var reqBody io.Reader
	if method == http.MethodPost {
		if payload == nil {
			payload = struct{}{}
		}
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Endpoint: endpoint, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Endpoint: endpoint, Message: "read response body: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Status:   resp.StatusCode,
			Endpoint: endpoint,
			Message:  upstreamMessage(respBody, resp.StatusCode),
		}
	}
	return respBody, nil
}

// upstreamMessage extracts the error message from a Loops response body,
// falling back to the HTTP status text when the body carries none.
func upstreamMessage(body []byte, status int) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	if len(bytes.TrimSpace(body)) > 0 {
		var generic map[string]any
		if err := json.Unmarshal(body, &generic); err == nil {
			if b, err := json.Marshal(generic); err == nil {
				return string(b)
			}
		}
	}
	return http.StatusText(status)
}

// CreateContact adds a subscriber.
func (c *Client) CreateContact(ctx context.Context, apiKey, email string) (json.RawMessage, error) {
	return c.Call(ctx, "/contacts/create", apiKey, map[string]string{"email": email}, http.MethodPost)
}

// FindContact looks a subscriber up by email.
func (c *Client) FindContact(ctx context.Context, apiKey, email string) (json.RawMessage, error) {
	return c.Call(ctx, "/contacts/find?email="+url.QueryEscape(email), apiKey, nil, http.MethodGet)
}

// DeleteContact removes a subscriber.
func (c *Client) DeleteContact(ctx context.Context, apiKey, email string) (json.RawMessage, error) {
	return c.Call(ctx, "/contacts/delete", apiKey, map[string]string{"email": email}, http.MethodPost)
}

// TransactionalEmail is the payload for SendTransactional.
type TransactionalEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	From    string `json:"from,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
}

// SendTransactional sends a single transactional email.
func (c *Client) SendTransactional(ctx context.Context, apiKey string, msg TransactionalEmail) (json.RawMessage, error) {
	return c.Call(ctx, "/transactional/send", apiKey, msg, http.MethodPost)
}

// TestKey validates an API key against the platform.
func (c *Client) TestKey(ctx context.Context, apiKey string) (json.RawMessage, error) {
	return c.Call(ctx, "/api-key", apiKey, nil, http.MethodGet)
}
