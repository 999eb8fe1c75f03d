package carrier

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-dialtone/pkg/session"
)

// Signature headers on call-control webhooks.
const (
	headerSignature = "telnyx-signature-ed25519"
	headerTimestamp = "telnyx-timestamp"
)

// Webhook event types we act on.
const (
	eventCallAnswered     = "call.answered"
	eventCallHangup       = "call.hangup"
	eventStreamingStopped = "streaming.stopped"
	eventStreamingFailed  = "streaming.failed"
)

var (
	// ErrBadSignature is returned when the webhook signature does not
	// verify against the carrier's public key.
	ErrBadSignature = errors.New("carrier: webhook signature invalid")

	// ErrStaleTimestamp is returned when the webhook timestamp is
	// outside the acceptance window.
	ErrStaleTimestamp = errors.New("carrier: webhook timestamp stale")
)

// CallActions is the slice of the call-control API the webhook drives
// on its own.
type CallActions interface {
	SuppressNoise(ctx context.Context, callControlID string) error
}

// Webhook verifies and dispatches call-control events. Every request
// is authenticated with the carrier's Ed25519 public key over
// timestamp|body before any field is trusted.
type Webhook struct {
	publicKey ed25519.PublicKey
	registry  *session.Registry
	control   CallActions
	tolerance time.Duration
	log       *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewWebhook creates a webhook handler. publicKeyB64 is the carrier's
// base64-encoded Ed25519 public key; empty disables verification,
// which is only acceptable in local development. control may be nil;
// when set, inbound noise suppression is enabled as calls are answered.
func NewWebhook(publicKeyB64 string, registry *session.Registry, control CallActions, logger *slog.Logger) (*Webhook, error) {
	w := &Webhook{
		registry:  registry,
		control:   control,
		tolerance: 5 * time.Minute,
		log:       logger.With("component", "carrier.webhook"),
		now:       time.Now,
	}
	if publicKeyB64 != "" {
		key, err := base64.StdEncoding.DecodeString(publicKeyB64)
		if err != nil {
			return nil, fmt.Errorf("carrier: decode public key: %w", err)
		}
		if len(key) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("carrier: public key is %d bytes, want %d", len(key), ed25519.PublicKeySize)
		}
		w.publicKey = ed25519.PublicKey(key)
	}
	return w, nil
}

// Handle is the POST handler for call-control webhooks.
func (w *Webhook) Handle(c *fiber.Ctx) error {
	body := c.Body()

	if w.publicKey != nil {
		sig := c.Get(headerSignature)
		ts := c.Get(headerTimestamp)
		if err := w.verify(ts, body, sig); err != nil {
			w.log.Warn("webhook rejected", "error", err)
			return c.SendStatus(fiber.StatusUnauthorized)
		}
	}

	var event struct {
		Data struct {
			EventType string `json:"event_type"`
			Payload   struct {
				CallControlID string `json:"call_control_id"`
				StreamID      string `json:"stream_id"`
				HangupCause   string `json:"hangup_cause"`
			} `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		w.log.Warn("unparseable webhook", "error", err)
		return c.SendStatus(fiber.StatusBadRequest)
	}

	w.dispatch(event.Data.EventType, event.Data.Payload.CallControlID,
		event.Data.Payload.StreamID, event.Data.Payload.HangupCause)
	return c.SendStatus(fiber.StatusOK)
}

func (w *Webhook) dispatch(eventType, callControlID, streamID, cause string) {
	switch eventType {
	case eventCallAnswered:
		w.log.Info("call answered", "call_control_id", callControlID)
		if w.control != nil && callControlID != "" {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := w.control.SuppressNoise(ctx, callControlID); err != nil {
					w.log.Warn("noise suppression failed", "error", err)
				}
			}()
		}

	case eventCallHangup:
		w.log.Info("call hung up", "call_control_id", callControlID, "cause", cause)
		w.stopSession(callControlID, streamID)

	case eventStreamingStopped, eventStreamingFailed:
		w.log.Info("stream ended", "event", eventType, "call_control_id", callControlID)
		w.stopSession(callControlID, streamID)

	default:
		w.log.Debug("webhook ignored", "event", eventType)
	}
}

func (w *Webhook) stopSession(callControlID, streamID string) {
	if s, ok := w.registry.ByCall(callControlID); ok {
		s.PostCarrierStop()
		return
	}
	if s, ok := w.registry.ByStream(streamID); ok {
		s.PostCarrierStop()
	}
}

// verify checks the Ed25519 signature over timestamp|body and bounds
// the timestamp's age.
func (w *Webhook) verify(timestamp string, body []byte, signatureB64 string) error {
	if timestamp == "" || signatureB64 == "" {
		return ErrBadSignature
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	age := w.now().Sub(time.Unix(unix, 0))
	if age > w.tolerance || age < -w.tolerance {
		return ErrStaleTimestamp
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return ErrBadSignature
	}

	signed := make([]byte, 0, len(timestamp)+1+len(body))
	signed = append(signed, timestamp...)
	signed = append(signed, '|')
	signed = append(signed, body...)

	if !ed25519.Verify(w.publicKey, signed, sig) {
		return ErrBadSignature
	}
	return nil
}
