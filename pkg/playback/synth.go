package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-dialtone/internal/httpc"
)

const (
	openAITTSURL = "https://api.openai.com/v1/audio/speech"

	// synthSampleRate is the PCM rate the speech endpoint returns.
	synthSampleRate = 24000
)

// Voice options.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// Model options.
const (
	ModelTTS1   = "tts-1"    // standard quality, faster
	ModelTTS1HD = "tts-1-hd" // higher quality, slower
)

// Audio is one synthesized utterance as raw little-endian PCM16.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Synth renders approved text to PCM audio.
type Synth interface {
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

// HTTPSynth calls the OpenAI speech endpoint and asks for raw PCM
// output so no container parsing is needed before transcoding.
type HTTPSynth struct {
	apiKey  string
	model   string
	voice   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPSynth creates a synthesis client. Empty model, voice, and
// baseURL fall back to tts-1, shimmer, and the stock endpoint.
func NewHTTPSynth(apiKey, model, voice, baseURL string, timeout time.Duration, logger *slog.Logger) (*HTTPSynth, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if model == "" {
		model = ModelTTS1
	}
	if voice == "" {
		voice = VoiceShimmer
	}
	if baseURL == "" {
		baseURL = openAITTSURL
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSynth{
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		baseURL: baseURL,
		client:  httpc.NewClient(timeout),
		logger:  logger.With("component", "playback.synth"),
	}, nil
}

// Synthesize converts text to 24 kHz PCM16. Retryable API errors are
// retried once.
func (s *HTTPSynth) Synthesize(ctx context.Context, text string) (*Audio, error) {
	start := time.Now()

	audio, err := s.once(ctx, text)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsRetryable() {
			s.logger.Warn("synthesis retry", "status", apiErr.StatusCode)
			audio, err = s.once(ctx, text)
		}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("synthesized",
		"chars", len(text),
		"bytes", len(audio.PCM),
		"latency_ms", time.Since(start).Milliseconds(),
		"voice", s.voice,
	)
	return audio, nil
}

func (s *HTTPSynth) once(ctx context.Context, text string) (*Audio, error) {
	payload := map[string]any{
		"model":           s.model,
		"voice":           s.voice,
		"input":           text,
		"response_format": "pcm",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("playback: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("playback: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("playback: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.parseError(resp)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("playback: read response: %w", err)
	}
	return &Audio{PCM: pcm, SampleRate: synthSampleRate}, nil
}

func (s *HTTPSynth) parseError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && json.Unmarshal(raw, &envelope) == nil {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = envelope.Error.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = string(raw)
	}
	return apiErr
}

var _ Synth = (*HTTPSynth)(nil)
