// Package client talks to the notifier HTTP API: the event stream, the
// polling fallback, acknowledgements, and session bootstrap.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zvonac99/order-notifier/internal/event"
	"github.com/zvonac99/order-notifier/internal/poller"
)

// Config identifies the caller and the server.
type Config struct {
	BaseURL string
	UserID  int64
	Role    string
	Timeout time.Duration
}

// Client is a thin wrapper over the notifier API.
type Client struct {
	baseURL string
	userID  int64
	role    string
	http    *http.Client
	// Streaming requests must not carry the request timeout, the server
	// holds them open for minutes.
	streaming *http.Client
	logger    *zap.Logger
}

// New creates an API client.
func New(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userID:    cfg.UserID,
		role:      cfg.Role,
		http:      &http.Client{Timeout: timeout},
		streaming: &http.Client{},
		logger:    logger,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-User-ID", strconv.FormatInt(c.userID, 10))
	req.Header.Set("X-User-Role", c.role)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var problem struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil && problem.Title != "" {
		return fmt.Errorf("%s: %s (%s)", resp.Status, problem.Title, problem.Type)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}

// Ack confirms that the event with uid was shown to the user.
func (c *Client) Ack(ctx context.Context, uid string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/events/"+uid+"/ack",
		map[string]bool{"acknowledged": true}, nil)
}

// Bootstrap asks the server to reconcile orders missed since the last visit.
func (c *Client) Bootstrap(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/bootstrap", struct{}{}, nil)
}

// CheckOrders polls for an order that arrived after lastCheck. A zero
// lastCheck requests the shop's latest order unconditionally. Empty
// statuses defer to the server's tracked set.
func (c *Client) CheckOrders(ctx context.Context, lastCheck time.Time, statuses []string) (*poller.CheckResult, error) {
	body := struct {
		LastCheck string   `json:"last_check,omitempty"`
		Statuses  []string `json:"statuses,omitempty"`
	}{Statuses: statuses}
	if !lastCheck.IsZero() {
		body.LastCheck = lastCheck.Format(time.RFC3339)
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			NewOrder   bool   `json:"new_order"`
			LatestID   int64  `json:"latest_id"`
			LatestTime string `json:"latest_time"`
		} `json:"data"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/v1/orders/check", body, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("order check rejected")
	}

	result := &poller.CheckResult{
		NewOrder: resp.Data.NewOrder,
		LatestID: resp.Data.LatestID,
	}
	if resp.Data.LatestTime != "" {
		if ts, err := time.Parse(time.RFC3339, resp.Data.LatestTime); err == nil {
			result.LatestTime = ts
		}
	}
	return result, nil
}

// Stream opens one SSE session and invokes handler per frame until the
// server closes the session or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, handler func(Frame) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streaming.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return readFrames(resp.Body, handler)
}

// StreamEvent is a decoded "event" frame: either a notification or a
// system ping.
type StreamEvent struct {
	Event  *event.Event
	System *event.SystemEvent
}

// DecodeStreamEvent distinguishes notification payloads from system pings
// by the event_type discriminator.
func DecodeStreamEvent(data []byte) (*StreamEvent, error) {
	var probe struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}

	if probe.EventType == event.TypeSystem {
		var sys event.SystemEvent
		if err := json.Unmarshal(data, &sys); err != nil {
			return nil, fmt.Errorf("decode system event: %w", err)
		}
		return &StreamEvent{System: &sys}, nil
	}

	var ev event.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode notification event: %w", err)
	}
	return &StreamEvent{Event: &ev}, nil
}
