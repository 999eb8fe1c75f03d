package session

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
)

// Caller intents the classifier may return.
const (
	IntentYes     = "yes"
	IntentNo      = "no"
	IntentUnclear = "unclear"
)

// Next actions the classifier may recommend.
const (
	ActionContinue = "continue"
	ActionRepeat   = "repeat"
	ActionEndCall  = "end_call"
)

// Classification is the structured interpretation of one caller
// utterance.
type Classification struct {
	Intent     string  `json:"intent"`
	NextAction string  `json:"next_action"`
	Confidence float64 `json:"confidence"`
}

// Classifier turns a caller utterance into a structured intent.
type Classifier interface {
	Classify(ctx context.Context, transcript string, stage Stage) (Classification, error)
}

const defaultClassifierURL = "https://api.openai.com/v1/chat/completions"

// HTTPClassifier asks a chat-completions endpoint for a JSON-only
// classification. Malformed JSON is retried exactly once; callers apply
// the confidence floor.
type HTTPClassifier struct {
	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClassifier creates a classifier against the given endpoint.
// An empty baseURL uses the stock chat-completions URL.
func NewHTTPClassifier(apiKey, model, baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClassifier {
	if baseURL == "" {
		baseURL = defaultClassifierURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout == 0 {
		timeout = DefaultClassifyTimeout
	}
	return &HTTPClassifier{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		timeout: timeout,
		client:  httpc.NewClient(timeout),
		logger:  logger.With("component", "classifier"),
	}
}

const classifierSystemPrompt = `You classify one caller utterance from a phone call.
Respond with JSON only: {"intent":"yes"|"no"|"unclear","next_action":"continue"|"repeat"|"end_call","confidence":0.0-1.0}.
No prose, no markdown.`

// Classify sends the transcript and parses the structured reply.
func (c *HTTPClassifier) Classify(ctx context.Context, transcript string, stage Stage) (Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	user := fmt.Sprintf("Call stage: %s. Caller said: %q", stage, transcript)

	raw, err := c.complete(ctx, user)
	if err != nil {
		return Classification{}, err
	}

	cls, err := parseClassification(raw)
	if err == nil {
		return cls, nil
	}

	// One retry on malformed JSON, then give up.
	c.logger.Warn("malformed classification, retrying once", "error", err)
	raw, err = c.complete(ctx, user)
	if err != nil {
		return Classification{}, err
	}
	return parseClassification(raw)
}

func (c *HTTPClassifier) complete(ctx context.Context, user string) (string, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": classifierSystemPrompt},
			{"role": "user", "content": user},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("session: marshal classification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("session: create classification request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session: classification request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("session: classification API error %d: %s", resp.StatusCode, string(b))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("session: decode classification response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("session: classification response had no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func parseClassification(raw string) (Classification, error) {
	var cls Classification
	if err := json.Unmarshal([]byte(raw), &cls); err != nil {
		return Classification{}, fmt.Errorf("session: malformed classification JSON: %w", err)
	}

	switch cls.Intent {
	case IntentYes, IntentNo, IntentUnclear:
	default:
		return Classification{}, fmt.Errorf("session: unknown intent %q", cls.Intent)
	}

	switch cls.NextAction {
	case ActionContinue, ActionRepeat, ActionEndCall:
	case "":
		cls.NextAction = ActionContinue
	default:
		return Classification{}, fmt.Errorf("session: unknown next_action %q", cls.NextAction)
	}

	if cls.Confidence < 0 || cls.Confidence > 1 {
		return Classification{}, fmt.Errorf("session: confidence %f out of range", cls.Confidence)
	}
	return cls, nil
}

// Verify interface compliance at compile time.
var _ Classifier = (*HTTPClassifier)(nil)
