package bridge

import (
	"errors"

	"github.com/teslashibe/go-dialtone/internal/config"
	"github.com/teslashibe/go-dialtone/pkg/session"
)

// Instructions is the system prompt for model-generated replies. The
// scripted flow rarely needs them, but when a response is requested
// the model must stay inside the call's narrow purpose.
const Instructions = `You are a polite phone assistant confirming a service request.
Keep replies to one short sentence. Never discuss anything beyond
scheduling and the caller's request. Never mention that you are an AI.`

// Config holds all configuration for the bridge service.
// Flag parsing is done in cmd/dialtone; this struct is data only.
type Config struct {
	// Debug enables verbose debug logging.
	Debug bool

	// HTTP listener.
	Port        string
	MediaPath   string
	WebhookPath string

	// PublicURL is the externally reachable base URL, used to build
	// stream URLs for outbound dials (e.g. "wss://bridge.example.com").
	PublicURL string

	// StreamToken is the shared secret carried in media stream URLs.
	StreamToken string

	// Upstream engine and model configuration.
	OpenAIKey       string
	RealtimeURL     string
	RealtimeModel   string
	ClassifierModel string
	TTSModel        string
	TTSVoice        string

	// Carrier API configuration.
	TelnyxAPIKey    string
	TelnyxPublicKey string
	CallControlURL  string
	ConnectionID    string

	// Turn-taking parameters and the call script.
	Tuning session.Tuning
	Script *session.Script
}

// DefaultConfig returns sensible defaults for the bridge.
func DefaultConfig() Config {
	return Config{
		Port:        config.DefaultPort,
		MediaPath:   config.DefaultMediaPath,
		WebhookPath: config.DefaultWebhookPath,
		Tuning:      session.DefaultTuning(),
	}
}

// LoadEnvConfig loads configuration values from environment variables.
// Call this after flag parsing to apply environment overrides.
func (c *Config) LoadEnvConfig() {
	c.Port = config.Env("PORT", c.Port)
	c.PublicURL = config.Env("PUBLIC_URL", c.PublicURL)
	c.StreamToken = config.Env("STREAM_TOKEN", c.StreamToken)

	c.OpenAIKey = config.Env("OPENAI_API_KEY", c.OpenAIKey)
	c.RealtimeURL = config.Env("REALTIME_URL", c.RealtimeURL)
	c.RealtimeModel = config.Env("REALTIME_MODEL", c.RealtimeModel)
	c.ClassifierModel = config.Env("CLASSIFIER_MODEL", c.ClassifierModel)
	c.TTSModel = config.Env("TTS_MODEL", c.TTSModel)
	c.TTSVoice = config.Env("TTS_VOICE", c.TTSVoice)

	c.TelnyxAPIKey = config.Env("TELNYX_API_KEY", c.TelnyxAPIKey)
	c.TelnyxPublicKey = config.Env("TELNYX_PUBLIC_KEY", c.TelnyxPublicKey)
	c.CallControlURL = config.Env("TELNYX_API_URL", c.CallControlURL)
	c.ConnectionID = config.Env("TELNYX_CONNECTION_ID", c.ConnectionID)

	c.Tuning.BargeThreshold = config.EnvFloat("BARGE_THRESHOLD", c.Tuning.BargeThreshold)
	c.Tuning.BargeSustain = config.EnvDuration("BARGE_SUSTAIN", c.Tuning.BargeSustain)
	c.Tuning.BargeCooldown = config.EnvDuration("BARGE_COOLDOWN", c.Tuning.BargeCooldown)
	c.Tuning.EchoDrop = config.EnvDuration("ECHO_DROP", c.Tuning.EchoDrop)
	c.Tuning.NudgeDelay = config.EnvDuration("NUDGE_DELAY", c.Tuning.NudgeDelay)
	c.Tuning.MarkTimeout = config.EnvDuration("MARK_TIMEOUT", c.Tuning.MarkTimeout)
	c.Tuning.ConfidenceFloor = config.EnvFloat("CONFIDENCE_FLOOR", c.Tuning.ConfidenceFloor)
	c.Tuning.MaxStageRepeats = config.EnvInt("MAX_STAGE_REPEATS", c.Tuning.MaxStageRepeats)
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.OpenAIKey == "" {
		return errors.New("bridge: OPENAI_API_KEY is required")
	}
	return nil
}
