// Package realtime is the client for the upstream realtime voice API.
// One client serves one call: it streams caller audio up, and surfaces
// engine events (VAD, transcripts, response lifecycle, audio deltas)
// through callbacks wired to the call's session.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-dialtone/pkg/audio"
	"github.com/teslashibe/go-dialtone/pkg/session"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"

	readTimeout  = 120 * time.Second
	pingInterval = 30 * time.Second
)

// Config fixes one call's engine connection parameters.
type Config struct {
	URL    string
	APIKey string
	Model  string

	// Instructions is the system prompt for model-generated replies.
	Instructions string
	Voice        string

	// Encoding is the carrier codec. It is negotiated as both the
	// input and output audio format so G.711 passes through the bridge
	// untouched.
	Encoding audio.Encoding

	// Server VAD tuning.
	VADThreshold float64
	VADPrefixMs  int
	VADSilenceMs int

	// CreateResponses lets server VAD trigger model responses on its
	// own. The scripted flow keeps this off and drives turns itself.
	CreateResponses bool

	Logger *slog.Logger
}

// Client manages the WebSocket connection to the realtime API.
type Client struct {
	cfg Config
	log *slog.Logger

	ws   *websocket.Conn
	wsMu sync.Mutex

	closeMu sync.Mutex
	closed  bool

	// Callbacks, set before Connect. All are invoked from the reader
	// goroutine.
	OnReady            func()
	OnSpeechStarted    func()
	OnSpeechStopped    func()
	OnTranscript       func(text string)
	OnResponseCreated  func(id string)
	OnResponseDone     func(id string)
	OnResponseCanceled func(id string)
	OnAudioDelta       func(b64 string)
	OnAudioDone        func()
	OnError            func(code, message string)
	OnClosed           func(err error)
}

// NewClient creates an unconnected client.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.VADThreshold == 0 {
		cfg.VADThreshold = 0.5
	}
	if cfg.VADPrefixMs == 0 {
		cfg.VADPrefixMs = 300
	}
	if cfg.VADSilenceMs == 0 {
		cfg.VADSilenceMs = 500
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		log: logger.With("component", "realtime"),
	}
}

// Connect dials the API, configures the session, and starts the reader
// and keepalive goroutines.
func (c *Client) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s?model=%s", c.cfg.URL, c.cfg.Model)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("realtime: connect: %w", err)
	}

	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	ws.SetReadDeadline(time.Now().Add(readTimeout))

	c.wsMu.Lock()
	c.ws = ws
	c.wsMu.Unlock()

	go c.handleMessages()
	go c.keepAlive()

	return c.configureSession()
}

// codecName maps a carrier encoding to the API's audio format name.
func codecName(e audio.Encoding) string {
	switch e {
	case audio.EncodingPCMU:
		return "g711_ulaw"
	case audio.EncodingPCMA:
		return "g711_alaw"
	default:
		return "pcm16"
	}
}

func (c *Client) configureSession() error {
	format := codecName(c.cfg.Encoding)

	msg := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        c.cfg.Instructions,
			"voice":               c.cfg.Voice,
			"input_audio_format":  format,
			"output_audio_format": format,
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           c.cfg.VADThreshold,
				"prefix_padding_ms":   c.cfg.VADPrefixMs,
				"silence_duration_ms": c.cfg.VADSilenceMs,
				"create_response":     c.cfg.CreateResponses,
			},
		},
	}
	return c.sendJSON(msg)
}

// AppendAudio forwards one carrier media payload.
func (c *Client) AppendAudio(payload []byte) error {
	return c.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(payload),
	})
}

// ClearInput drops all uncommitted input audio.
func (c *Client) ClearInput() error {
	return c.sendJSON(map[string]string{
		"type": "input_audio_buffer.clear",
	})
}

// CreateResponse asks the engine to generate a spoken response.
func (c *Client) CreateResponse() error {
	return c.sendJSON(map[string]string{
		"type": "response.create",
	})
}

// CancelResponse cancels an in-flight response.
func (c *Client) CancelResponse(id string) error {
	msg := map[string]any{"type": "response.cancel"}
	if id != "" {
		msg["response_id"] = id
	}
	return c.sendJSON(msg)
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

func (c *Client) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

func (c *Client) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if c.isClosed() {
			return
		}
		c.wsMu.Lock()
		err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
		c.wsMu.Unlock()
		if err != nil {
			return
		}
	}
}

// event is the union of the fields we read from server events.
type event struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Delta      string `json:"delta"`
	Response   struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) handleMessages() {
	for {
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.log.Warn("engine read failed", "error", err)
			if c.OnClosed != nil {
				c.OnClosed(err)
			}
			return
		}

		var ev event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Debug("unparseable engine event", "error", err)
			continue
		}
		c.handleEvent(&ev)
	}
}

func (c *Client) handleEvent(ev *event) {
	switch ev.Type {
	case "session.created":
		c.log.Debug("engine session created")

	case "session.updated":
		if c.OnReady != nil {
			c.OnReady()
		}

	case "input_audio_buffer.speech_started":
		if c.OnSpeechStarted != nil {
			c.OnSpeechStarted()
		}

	case "input_audio_buffer.speech_stopped":
		if c.OnSpeechStopped != nil {
			c.OnSpeechStopped()
		}

	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" && c.OnTranscript != nil {
			c.OnTranscript(ev.Transcript)
		}

	case "response.created":
		if c.OnResponseCreated != nil {
			c.OnResponseCreated(ev.Response.ID)
		}

	case "response.done":
		if ev.Response.Status == "cancelled" {
			if c.OnResponseCanceled != nil {
				c.OnResponseCanceled(ev.Response.ID)
			}
			return
		}
		if c.OnResponseDone != nil {
			c.OnResponseDone(ev.Response.ID)
		}

	// Newer API versions renamed the audio events; accept both.
	case "response.audio.delta", "response.output_audio.delta":
		if ev.Delta != "" && c.OnAudioDelta != nil {
			c.OnAudioDelta(ev.Delta)
		}

	case "response.audio.done", "response.output_audio.done":
		if c.OnAudioDone != nil {
			c.OnAudioDone()
		}

	case "error":
		if c.OnError != nil {
			c.OnError(ev.Error.Code, ev.Error.Message)
		}

	default:
		// Transcript deltas, rate limit updates, and item events are
		// not needed for call control.
	}
}

func (c *Client) sendJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws == nil {
		return fmt.Errorf("realtime: not connected")
	}
	return c.ws.WriteJSON(v)
}

var _ session.Engine = (*Client)(nil)
