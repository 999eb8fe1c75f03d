package session

import "fmt"

// TurnState is the position of a call within one bot-speaks-then-listens
// cycle. All turn bookkeeping hangs off this single enumeration instead
// of independent boolean flags, so two flags can never disagree.
type TurnState int

const (
	// BotIdle: no bot utterance pending or playing.
	BotIdle TurnState = iota

	// BotResponsePending: an utterance has been requested (upstream
	// response created, or deterministic line being rendered) but no
	// audio has reached the carrier yet.
	BotResponsePending

	// BotSpeaking: outbound frames are being paced to the carrier.
	BotSpeaking

	// BotAudioDelivered: the carrier confirmed (or we assumed after a
	// timeout) that playback finished; waiting on model completion.
	BotAudioDelivered

	// TurnClosed: both halves of the close conjunction held; turn-scoped
	// state has been reset.
	TurnClosed

	// UserTurnOpen: the floor belongs to the caller.
	UserTurnOpen
)

func (s TurnState) String() string {
	switch s {
	case BotIdle:
		return "bot_idle"
	case BotResponsePending:
		return "bot_response_pending"
	case BotSpeaking:
		return "bot_speaking"
	case BotAudioDelivered:
		return "bot_audio_delivered"
	case TurnClosed:
		return "turn_closed"
	case UserTurnOpen:
		return "user_turn_open"
	default:
		return fmt.Sprintf("turn_state(%d)", int(s))
	}
}

// Turn tracks one bot utterance cycle. Closing a turn requires both
// model completion and confirmed audio delivery; a forced teardown
// bypasses the delivery half.
type Turn struct {
	State TurnState

	// ResponseID is the upstream response identifier when the utterance
	// is model-generated; empty for deterministic lines.
	ResponseID string

	modelDone      bool
	audioDelivered bool
	outstanding    bool
}

// CanBegin reports whether a new bot utterance may start.
func (t *Turn) CanBegin() bool {
	switch t.State {
	case BotIdle, TurnClosed, UserTurnOpen:
		return !t.outstanding
	}
	return false
}

// Begin opens a new bot utterance. modelBacked marks whether an
// upstream response is outstanding for it; deterministic lines close
// their model half immediately.
func (t *Turn) Begin(modelBacked bool) error {
	if !t.CanBegin() {
		return fmt.Errorf("session: cannot begin utterance in state %s (outstanding=%v)", t.State, t.outstanding)
	}
	t.State = BotResponsePending
	t.ResponseID = ""
	t.outstanding = modelBacked
	t.modelDone = !modelBacked
	t.audioDelivered = false
	return nil
}

// StartSpeaking marks the first outbound frame.
func (t *Turn) StartSpeaking() error {
	if t.State != BotResponsePending {
		return fmt.Errorf("session: cannot start speaking in state %s", t.State)
	}
	t.State = BotSpeaking
	return nil
}

// ModelDone records upstream response completion. The id must match the
// outstanding response; a stale id is ignored.
func (t *Turn) ModelDone(id string) bool {
	if t.outstanding && id != "" && t.ResponseID != "" && id != t.ResponseID {
		return false
	}
	t.modelDone = true
	t.outstanding = false
	return true
}

// AudioDelivered records confirmed (or assumed) delivery of the
// utterance audio.
func (t *Turn) AudioDelivered() {
	t.audioDelivered = true
	if t.State == BotSpeaking {
		t.State = BotAudioDelivered
	}
}

// CanClose reports whether both halves of the close conjunction hold.
func (t *Turn) CanClose() bool {
	return t.modelDone && t.audioDelivered
}

// Close resets all turn-scoped state. Preconditions are the caller's
// responsibility via CanClose; forced teardown may close regardless.
func (t *Turn) Close() {
	t.State = TurnClosed
	t.ResponseID = ""
	t.modelDone = false
	t.audioDelivered = false
	t.outstanding = false
}

// OpenUserTurn hands the floor to the caller.
func (t *Turn) OpenUserTurn() {
	t.State = UserTurnOpen
}

// Abort cancels the in-flight utterance (barge-in). Turn-scoped state
// resets and the floor passes to the caller.
func (t *Turn) Abort() {
	t.Close()
	t.OpenUserTurn()
}

// ResponseOutstanding reports whether an upstream response is in flight.
func (t *Turn) ResponseOutstanding() bool {
	return t.outstanding
}
