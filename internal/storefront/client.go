// Package storefront applies staged queue entries to the storefront API.
package storefront

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"catalog-sync/internal/domain"

	"github.com/goccy/go-json"
)

// Error is a non-2xx storefront response
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("storefront returned %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed later. Client errors
// other than throttling will fail the same way again.
func (e *Error) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

type priceUpdate struct {
	Price string `json:"price"`
}

type stockUpdate struct {
	Quantity int64 `json:"quantity"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client talks to the storefront's variant update endpoints
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Apply sends one queue entry downstream
func (c *Client) Apply(ctx context.Context, entry domain.QueueEntry) error {
	var body any
	switch entry.Type {
	case domain.UpdatePrice:
		body = priceUpdate{Price: entry.Payload}
	case domain.UpdateStock:
		qty, err := strconv.ParseInt(entry.Payload, 10, 64)
		if err != nil {
			return &Error{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("invalid stock payload %q", entry.Payload)}
		}
		body = stockUpdate{Quantity: qty}
	default:
		return &Error{StatusCode: http.StatusBadRequest, Message: fmt.Sprintf("unknown update type %q", entry.Type)}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/variants/%s/%s", c.baseURL, url.PathEscape(entry.ExternalID), entry.Type)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", entry.ID.String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call storefront: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(raw)
	var eb errorBody
	if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	return &Error{StatusCode: resp.StatusCode, Message: msg}
}
