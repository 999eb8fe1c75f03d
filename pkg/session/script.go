package session

// Stage is the call's position in the fixed qualification script.
// Stages only ever advance; there is no path backwards.
type Stage int

const (
	// StageGreeting: opening line, spoken as soon as the stream starts.
	StageGreeting Stage = iota

	// StageAvailability: "is now a good time" question.
	StageAvailability

	// StageUrgency: "how soon do you need this" question.
	StageUrgency

	// StageDone: terminal. No further prompts are ever emitted.
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageGreeting:
		return "greeting"
	case StageAvailability:
		return "availability"
	case StageUrgency:
		return "urgency"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Next returns the following stage. StageDone is terminal.
func (s Stage) Next() Stage {
	if s >= StageDone {
		return StageDone
	}
	return s + 1
}

// Terminal reports whether the script has finished.
func (s Stage) Terminal() bool {
	return s >= StageDone
}

// Script holds the fixed set of approved utterances for a call. Every
// line the bot speaks comes from here; model output never reaches the
// caller verbatim.
type Script struct {
	Greeting     string
	Availability string
	Urgency      string
	Closing      string

	// Repeat is the deterministic fallback spoken on any recoverable
	// error or low-confidence classification.
	Repeat string

	// Nudge is spoken when the caller stays silent past the nudge delay.
	Nudge string
}

// DefaultScript returns the stock qualification script.
func DefaultScript() *Script {
	return &Script{
		Greeting:     "Hi, this is Dana calling about the service request you submitted. Do you have a quick moment?",
		Availability: "Great. Are you still looking to get this taken care of?",
		Urgency:      "Got it. Is this something you need urgently, or are you flexible on timing?",
		Closing:      "Perfect, thanks for your time. Someone from our team will follow up shortly. Goodbye!",
		Repeat:       "Sorry, I didn't catch that. Could you say that again?",
		Nudge:        "Are you still there?",
	}
}

// Line returns the prompt for a stage. Terminal stages have no prompt.
func (sc *Script) Line(s Stage) string {
	switch s {
	case StageGreeting:
		return sc.Greeting
	case StageAvailability:
		return sc.Availability
	case StageUrgency:
		return sc.Urgency
	default:
		return ""
	}
}

// Approved returns every utterance the bot is permitted to speak,
// for seeding the playback allowlist guard.
func (sc *Script) Approved() []string {
	return []string{
		sc.Greeting,
		sc.Availability,
		sc.Urgency,
		sc.Closing,
		sc.Repeat,
		sc.Nudge,
	}
}

// Answers collects the caller's qualification responses.
type Answers struct {
	Available *bool
	Urgent    *bool
	Notes     []string
}

// Record applies a classified intent for the given stage.
func (a *Answers) Record(stage Stage, intent string, transcript string) {
	yes := intent == IntentYes
	switch stage {
	case StageAvailability:
		a.Available = &yes
	case StageUrgency:
		a.Urgent = &yes
	}
	if transcript != "" {
		a.Notes = append(a.Notes, transcript)
	}
}
