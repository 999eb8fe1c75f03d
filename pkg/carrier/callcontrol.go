package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-dialtone/internal/httpc"
	"github.com/teslashibe/go-dialtone/pkg/session"
)

const defaultCallControlURL = "https://api.telnyx.com/v2"

// APIError represents an error response from the call-control API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier: API error %d: %s", e.StatusCode, e.Message)
}

// Controller drives calls through the carrier's call-control API.
type Controller struct {
	apiKey  string
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewController creates a call-control client. An empty baseURL uses
// the production API.
func NewController(apiKey, baseURL string, logger *slog.Logger) *Controller {
	if baseURL == "" {
		baseURL = defaultCallControlURL
	}
	return &Controller{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httpc.NewClient(10 * time.Second),
		log:     logger.With("component", "carrier.control"),
	}
}

// Hangup ends a call.
func (c *Controller) Hangup(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "hangup", nil)
}

// SuppressNoise enables inbound noise suppression so line noise does
// not masquerade as caller speech.
func (c *Controller) SuppressNoise(ctx context.Context, callControlID string) error {
	return c.action(ctx, callControlID, "suppression_start", map[string]any{
		"direction": "inbound",
	})
}

// DialRequest describes an outbound call whose media is streamed to
// the bridge.
type DialRequest struct {
	To           string
	From         string
	ConnectionID string
	StreamURL    string
	WebhookURL   string
}

// Dial places an outbound call and returns its call-control id.
func (c *Controller) Dial(ctx context.Context, req DialRequest) (string, error) {
	payload := map[string]any{
		"to":                        req.To,
		"from":                      req.From,
		"connection_id":             req.ConnectionID,
		"stream_url":                req.StreamURL,
		"stream_track":              "inbound_track",
		"stream_bidirectional_mode": "rtp",
	}
	if req.WebhookURL != "" {
		payload["webhook_url"] = req.WebhookURL
	}

	raw, err := c.post(ctx, "/calls", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data struct {
			CallControlID string `json:"call_control_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("carrier: parse dial response: %w", err)
	}
	if resp.Data.CallControlID == "" {
		return "", fmt.Errorf("carrier: dial response without call_control_id")
	}

	c.log.Info("outbound call placed", "call_control_id", resp.Data.CallControlID, "to", req.To)
	return resp.Data.CallControlID, nil
}

func (c *Controller) action(ctx context.Context, callControlID, name string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	path := fmt.Sprintf("/calls/%s/actions/%s", callControlID, name)
	_, err := c.post(ctx, path, payload)
	if err != nil {
		return err
	}
	c.log.Debug("call action", "action", name, "call_control_id", callControlID)
	return nil
}

func (c *Controller) post(ctx context.Context, path string, payload map[string]any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("carrier: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("carrier: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("carrier: call-control request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("carrier: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Errors []struct {
				Detail string `json:"detail"`
				Title  string `json:"title"`
			} `json:"errors"`
		}
		if json.Unmarshal(raw, &envelope) == nil && len(envelope.Errors) > 0 {
			apiErr.Message = firstOf(envelope.Errors[0].Detail, envelope.Errors[0].Title)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		return nil, apiErr
	}
	return raw, nil
}

var _ session.CallController = (*Controller)(nil)
