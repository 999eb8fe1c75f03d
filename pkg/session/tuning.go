package session

import "time"

// Default turn-taking parameters. Every value can be overridden via
// Tuning; these constants are the documented baseline behavior.
const (
	// DefaultBargeThreshold is the normalized RMS energy (0..1) above
	// which inbound audio counts as caller speech.
	DefaultBargeThreshold = 0.015

	// DefaultBargeSustain is how long energy must stay above the
	// threshold before barge-in fires. Debounces clicks and spikes.
	DefaultBargeSustain = 240 * time.Millisecond

	// DefaultBargeCooldown is the minimum gap between successive
	// barge-in/cancel actions.
	DefaultBargeCooldown = 1200 * time.Millisecond

	// DefaultEchoDrop is the window after a barge-in during which
	// inbound audio is discarded, so the tail of the bot's own voice is
	// not misread as renewed caller speech.
	DefaultEchoDrop = 300 * time.Millisecond

	// DefaultNudgeDelay is how long to wait for the caller to speak
	// before the bot prompts again.
	DefaultNudgeDelay = 6 * time.Second

	// DefaultMarkTimeout bounds the wait for the carrier's playback-end
	// mark acknowledgment before delivery is assumed.
	DefaultMarkTimeout = 3 * time.Second

	// DefaultResponseTimeout bounds an upstream response lifecycle.
	DefaultResponseTimeout = 12 * time.Second

	// DefaultNoAudioTimeout is how long a freshly started stream may go
	// without a single inbound media frame before the call is dropped.
	DefaultNoAudioTimeout = 8 * time.Second

	// DefaultGreetingBypass is the window after the greeting closes
	// during which caller audio is accepted even before the inbound
	// pipeline reports ready.
	DefaultGreetingBypass = 2 * time.Second

	// DefaultRecheckDelay is the deferred turn-close re-evaluation
	// interval.
	DefaultRecheckDelay = 500 * time.Millisecond

	// DefaultClassifyTimeout bounds one classification request.
	DefaultClassifyTimeout = 4 * time.Second

	// DefaultConfidenceFloor is the minimum classification confidence;
	// below it the bot asks the caller to repeat instead.
	DefaultConfidenceFloor = 0.55

	// DefaultMaxStageRepeats is how many times a stage question may be
	// re-asked before the call moves on.
	DefaultMaxStageRepeats = 2
)

// Tuning holds every externally configurable turn-taking parameter.
type Tuning struct {
	BargeThreshold  float64
	BargeSustain    time.Duration
	BargeCooldown   time.Duration
	EchoDrop        time.Duration
	NudgeDelay      time.Duration
	MarkTimeout     time.Duration
	ResponseTimeout time.Duration
	NoAudioTimeout  time.Duration
	GreetingBypass  time.Duration
	RecheckDelay    time.Duration
	ClassifyTimeout time.Duration
	ConfidenceFloor float64
	MaxStageRepeats int
}

// withDefaults fills every unset field with its documented baseline,
// so a partial Tuning overrides only the parameters it names.
func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.BargeThreshold == 0 {
		t.BargeThreshold = d.BargeThreshold
	}
	if t.BargeSustain == 0 {
		t.BargeSustain = d.BargeSustain
	}
	if t.BargeCooldown == 0 {
		t.BargeCooldown = d.BargeCooldown
	}
	if t.EchoDrop == 0 {
		t.EchoDrop = d.EchoDrop
	}
	if t.NudgeDelay == 0 {
		t.NudgeDelay = d.NudgeDelay
	}
	if t.MarkTimeout == 0 {
		t.MarkTimeout = d.MarkTimeout
	}
	if t.ResponseTimeout == 0 {
		t.ResponseTimeout = d.ResponseTimeout
	}
	if t.NoAudioTimeout == 0 {
		t.NoAudioTimeout = d.NoAudioTimeout
	}
	if t.GreetingBypass == 0 {
		t.GreetingBypass = d.GreetingBypass
	}
	if t.RecheckDelay == 0 {
		t.RecheckDelay = d.RecheckDelay
	}
	if t.ClassifyTimeout == 0 {
		t.ClassifyTimeout = d.ClassifyTimeout
	}
	if t.ConfidenceFloor == 0 {
		t.ConfidenceFloor = d.ConfidenceFloor
	}
	if t.MaxStageRepeats == 0 {
		t.MaxStageRepeats = d.MaxStageRepeats
	}
	return t
}

// DefaultTuning returns the documented baseline parameters.
func DefaultTuning() Tuning {
	return Tuning{
		BargeThreshold:  DefaultBargeThreshold,
		BargeSustain:    DefaultBargeSustain,
		BargeCooldown:   DefaultBargeCooldown,
		EchoDrop:        DefaultEchoDrop,
		NudgeDelay:      DefaultNudgeDelay,
		MarkTimeout:     DefaultMarkTimeout,
		ResponseTimeout: DefaultResponseTimeout,
		NoAudioTimeout:  DefaultNoAudioTimeout,
		GreetingBypass:  DefaultGreetingBypass,
		RecheckDelay:    DefaultRecheckDelay,
		ClassifyTimeout: DefaultClassifyTimeout,
		ConfidenceFloor: DefaultConfidenceFloor,
		MaxStageRepeats: DefaultMaxStageRepeats,
	}
}
