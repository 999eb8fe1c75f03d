package session

import (
	"context"
	"encoding/base64"
	"log/slog"
	"time"

	"github.com/teslashibe/go-dialtone/pkg/audio"
)

// Engine is the upstream realtime voice connection for one call.
type Engine interface {
	// AppendAudio forwards one carrier media payload, still in the
	// negotiated carrier encoding.
	AppendAudio(payload []byte) error

	// ClearInput drops all uncommitted upstream input audio.
	ClearInput() error

	// CreateResponse asks the engine to generate a spoken response.
	CreateResponse() error

	// CancelResponse cancels an in-flight response by id.
	CancelResponse(id string) error

	Close() error
}

// CarrierLink is the outbound half of the carrier media stream that the
// session drives directly. Frame pacing goes through the Speaker; the
// session only needs the clear instruction and teardown.
type CarrierLink interface {
	SendClear() error
	Close() error
}

// SpeakHandle describes one scheduled utterance.
type SpeakHandle struct {
	// Mark is the name that will come back in the carrier's playback
	// acknowledgment.
	Mark string

	// Estimated is the wall-clock playback duration of the utterance.
	Estimated time.Duration
}

// Speaker renders and paces bot audio toward the carrier.
type Speaker interface {
	// Speak renders an approved line and begins paced playback. It
	// blocks for the synthesis round-trip, not for playback.
	Speak(ctx context.Context, text string) (SpeakHandle, error)

	// AppendEngineAudio feeds one base64 model audio delta into the
	// current playback stream, starting one if none is active.
	AppendEngineAudio(b64 string) error

	// FinishEngineAudio ends the model audio stream so the closing
	// mark can be emitted once the queue drains.
	FinishEngineAudio()

	// Abort discards everything queued and invalidates in-flight
	// renders.
	Abort()

	// HoldFor pauses frame emission for the given window.
	HoldFor(d time.Duration)

	Close()
}

// CallController issues call-control commands against the carrier API.
type CallController interface {
	Hangup(ctx context.Context, callControlID string) error
}

// Config carries the per-call identity and media parameters fixed at
// stream start.
type Config struct {
	StreamID      string
	CallControlID string
	From          string
	To            string
	Encoding      audio.Encoding
	SampleRate    int
	Tuning        Tuning
	Script        *Script
}

// Deps are the session's external collaborators. All of them are
// driven only from the session goroutine.
type Deps struct {
	Engine   Engine
	Link     CarrierLink
	Speaker  Speaker
	Classify Classifier
	Control  CallController
	Registry *Registry
	Logger   *slog.Logger
}

type msgKind int

const (
	msgMedia msgKind = iota
	msgMarkAck
	msgCarrierStop
	msgHangup
	msgSpeechStarted
	msgSpeechStopped
	msgResponseCreated
	msgResponseDone
	msgResponseCanceled
	msgRequestResponse
	msgAudioDelta
	msgAudioDone
	msgTranscript
	msgEngineReady
	msgEngineError
	msgEngineClosed
	msgSpeakReady
	msgSpeakFailed
	msgPlaybackFlushed
	msgClassified
	msgClassifyFailed
	msgTimer
)

type timerKind int

const (
	timerNoAudio timerKind = iota
	timerNudge
	timerMark
	timerResponseWatchdog
	timerRecheck
)

// message is the single envelope every external event arrives in. The
// reducer goroutine is the only reader, so session state needs no
// locks.
type message struct {
	kind    msgKind
	timer   timerKind
	epoch   uint64
	payload []byte
	text    string
	id      string
	code    string
	err     error
	handle  SpeakHandle
	cls     Classification
}

// Session is the per-call actor. One goroutine (Run) consumes msgs and
// owns all mutable state; carriers, the engine client, and playback
// deliver events through the Post methods and never touch state
// directly.
type Session struct {
	StreamID      string
	CallControlID string
	From          string
	To            string
	Encoding      audio.Encoding
	SampleRate    int

	deps   Deps
	tuning Tuning
	script *Script
	log    *slog.Logger

	msgs chan message
	done chan struct{}

	// Everything below is owned by the Run goroutine. The epoch
	// increments on every turn boundary; timer callbacks carry the
	// epoch they were armed under and stale ones are dropped.
	epoch          uint64
	turn           Turn
	stage          Stage
	stageRepeats   int
	nudges         int
	answers        Answers
	barge          *BargeDetector
	timers         map[timerKind]*time.Timer
	pendingLine    string
	currentMark    string
	lastTranscript string
	userSpeaking   bool
	engineReady    bool
	sawAudio       bool
	greetingClosed bool
	closingSpoken  bool
	torn           bool
	bypassUntil    time.Time
	speakLockUntil time.Time
	echoDropUntil  time.Time
}

// New builds a session. Run must be called on its own goroutine before
// any Post method is used.
func New(cfg Config, deps Deps) *Session {
	tuning := cfg.Tuning.withDefaults()
	script := cfg.Script
	if script == nil {
		script = DefaultScript()
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 8000
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		StreamID:      cfg.StreamID,
		CallControlID: cfg.CallControlID,
		From:          cfg.From,
		To:            cfg.To,
		Encoding:      cfg.Encoding,
		SampleRate:    rate,
		deps:          deps,
		tuning:        tuning,
		script:        script,
		log:           logger.With("component", "session", "stream_id", cfg.StreamID),
		msgs:          make(chan message, 256),
		done:          make(chan struct{}),
		barge:         NewBargeDetector(tuning),
		timers:        make(map[timerKind]*time.Timer),
	}
}

// Done closes when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Results returns the collected answers. Valid only after Done.
func (s *Session) Results() Answers { return s.answers }

// Stage returns the script stage. Valid only after Done.
func (s *Session) ScriptStage() Stage { return s.stage }

// Run is the session's event loop. It speaks the greeting, then
// consumes messages until teardown.
func (s *Session) Run() {
	s.log.Info("session started",
		"call_control_id", s.CallControlID,
		"encoding", string(s.Encoding),
		"sample_rate", s.SampleRate)

	s.schedule(timerNoAudio, s.tuning.NoAudioTimeout)
	s.speakLine(s.script.Greeting)

	for {
		select {
		case <-s.done:
			return
		case m := <-s.msgs:
			s.reduce(m)
		}
	}
}

func (s *Session) post(m message) {
	select {
	case <-s.done:
	case s.msgs <- m:
	}
}

// PostMedia delivers one inbound carrier media payload. The slice must
// not be reused by the caller.
func (s *Session) PostMedia(payload []byte) {
	s.post(message{kind: msgMedia, payload: payload})
}

// PostMarkAck delivers a carrier playback acknowledgment.
func (s *Session) PostMarkAck(name string) {
	s.post(message{kind: msgMarkAck, text: name})
}

// PostCarrierStop signals that the carrier stream ended.
func (s *Session) PostCarrierStop() {
	s.post(message{kind: msgCarrierStop})
}

// PostHangup requests an active hangup and teardown.
func (s *Session) PostHangup() {
	s.post(message{kind: msgHangup})
}

// PostSpeechStarted delivers the engine's voice-activity start event.
func (s *Session) PostSpeechStarted() {
	s.post(message{kind: msgSpeechStarted})
}

// PostSpeechStopped delivers the engine's voice-activity stop event.
func (s *Session) PostSpeechStopped() {
	s.post(message{kind: msgSpeechStopped})
}

// PostResponseCreated delivers an upstream response.created.
func (s *Session) PostResponseCreated(id string) {
	s.post(message{kind: msgResponseCreated, id: id})
}

// PostResponseDone delivers an upstream response.done.
func (s *Session) PostResponseDone(id string) {
	s.post(message{kind: msgResponseDone, id: id})
}

// PostResponseCanceled delivers an upstream response cancellation.
func (s *Session) PostResponseCanceled(id string) {
	s.post(message{kind: msgResponseCanceled, id: id})
}

// RequestResponse asks for a model-generated reply. Refused while
// another response is outstanding.
func (s *Session) RequestResponse() {
	s.post(message{kind: msgRequestResponse})
}

// PostAudioDelta delivers one base64 model audio chunk.
func (s *Session) PostAudioDelta(b64 string) {
	s.post(message{kind: msgAudioDelta, text: b64})
}

// PostAudioDone signals the end of the model audio stream.
func (s *Session) PostAudioDone() {
	s.post(message{kind: msgAudioDone})
}

// PostTranscript delivers a completed caller transcript.
func (s *Session) PostTranscript(text string) {
	s.post(message{kind: msgTranscript, text: text})
}

// PostEngineReady signals that the engine session is configured.
func (s *Session) PostEngineReady() {
	s.post(message{kind: msgEngineReady})
}

// PostEngineError delivers an upstream error event.
func (s *Session) PostEngineError(code, msg string) {
	s.post(message{kind: msgEngineError, code: code, text: msg})
}

// PostEngineClosed signals that the engine connection dropped.
func (s *Session) PostEngineClosed(err error) {
	s.post(message{kind: msgEngineClosed, err: err})
}

// PostPlaybackFlushed signals that the named utterance finished pacing
// toward the carrier.
func (s *Session) PostPlaybackFlushed(mark string) {
	s.post(message{kind: msgPlaybackFlushed, text: mark})
}

func (s *Session) reduce(m message) {
	if s.torn {
		return
	}

	switch m.kind {
	case msgMedia:
		s.onMedia(m.payload)
	case msgMarkAck:
		s.onMarkAck(m.text)
	case msgCarrierStop:
		s.log.Info("carrier stream ended")
		s.teardown(false)
	case msgHangup:
		s.teardown(true)
	case msgSpeechStarted:
		s.onSpeechStarted()
	case msgSpeechStopped:
		s.userSpeaking = false
		if s.turn.State == UserTurnOpen {
			s.schedule(timerNudge, s.tuning.NudgeDelay)
		}
	case msgResponseCreated:
		s.onResponseCreated(m.id)
	case msgResponseDone:
		if s.turn.ModelDone(m.id) {
			s.cancelTimer(timerResponseWatchdog)
			s.evaluateClose()
		}
	case msgResponseCanceled:
		s.onResponseCanceled(m.id)
	case msgRequestResponse:
		s.onRequestResponse()
	case msgAudioDelta:
		s.onAudioDelta(m.text)
	case msgAudioDone:
		s.deps.Speaker.FinishEngineAudio()
	case msgTranscript:
		s.onTranscript(m.text)
	case msgEngineReady:
		s.engineReady = true
	case msgEngineError:
		s.onEngineError(m.code, m.text)
	case msgEngineClosed:
		s.log.Warn("engine connection closed", "error", m.err)
		s.teardown(true)
	case msgSpeakReady:
		s.onSpeakReady(m)
	case msgSpeakFailed:
		s.onSpeakFailed(m)
	case msgPlaybackFlushed:
		s.currentMark = m.text
		s.schedule(timerMark, s.tuning.MarkTimeout)
	case msgClassified:
		if m.epoch == s.epoch {
			s.applyClassification(m.cls)
		}
	case msgClassifyFailed:
		if m.epoch == s.epoch {
			s.log.Warn("classification failed", "error", m.err)
			s.repeatStage()
		}
	case msgTimer:
		if m.epoch == s.epoch {
			s.onTimer(m.timer)
		}
	}
}

func (s *Session) onMedia(payload []byte) {
	now := time.Now()

	if !s.sawAudio {
		s.sawAudio = true
		s.cancelTimer(timerNoAudio)
	}

	if now.Before(s.echoDropUntil) {
		return
	}

	if s.turn.State == BotSpeaking {
		samples := s.Encoding.DecodeToPCM16(payload)
		if s.barge.Observe(audio.RMSNormalized(samples), now) {
			s.bargeIn("energy")
			return
		}
	} else {
		s.barge.Reset()
	}

	if s.engineReady || now.Before(s.bypassUntil) {
		if err := s.deps.Engine.AppendAudio(payload); err != nil {
			s.log.Warn("append audio failed", "error", err)
		}
	}
}

func (s *Session) onSpeechStarted() {
	s.userSpeaking = true
	s.cancelTimer(timerNudge)
	if s.turn.State == BotSpeaking {
		s.bargeIn("vad")
	}
}

// bargeIn cancels bot playback and hands the floor to the caller:
// flush the paced queue, tell the carrier to clear its jitter buffer,
// cancel the upstream response, drop stale input, and open the
// post-cancel echo-drop window.
func (s *Session) bargeIn(reason string) {
	now := time.Now()
	s.log.Info("barge-in", "reason", reason, "state", s.turn.State.String())

	s.deps.Speaker.Abort()
	if err := s.deps.Link.SendClear(); err != nil {
		s.log.Warn("carrier clear failed", "error", err)
	}
	if s.turn.ResponseOutstanding() {
		if err := s.deps.Engine.CancelResponse(s.turn.ResponseID); err != nil {
			s.log.Warn("response cancel failed", "error", err)
		}
	}
	if err := s.deps.Engine.ClearInput(); err != nil {
		s.log.Warn("input clear failed", "error", err)
	}

	s.barge.NoteCancel(now)
	s.echoDropUntil = now.Add(s.tuning.EchoDrop)
	s.deps.Speaker.HoldFor(s.tuning.EchoDrop)

	s.epoch++
	s.cancelTimer(timerMark)
	s.cancelTimer(timerResponseWatchdog)
	s.cancelTimer(timerRecheck)
	s.cancelTimer(timerNudge)
	s.currentMark = ""
	s.pendingLine = ""
	s.turn.Abort()
}

func (s *Session) onResponseCreated(id string) {
	switch {
	case s.turn.ResponseOutstanding() && s.turn.ResponseID == "":
		s.turn.ResponseID = id
	case s.turn.CanBegin():
		// Unsolicited server-side response; adopt it as the turn.
		if err := s.turn.Begin(true); err != nil {
			s.log.Warn("cannot adopt response", "error", err)
			return
		}
		s.turn.ResponseID = id
		s.schedule(timerResponseWatchdog, s.tuning.ResponseTimeout)
	default:
		s.log.Warn("refusing overlapping response", "response_id", id)
		if err := s.deps.Engine.CancelResponse(id); err != nil {
			s.log.Warn("response cancel failed", "error", err)
		}
	}
}

func (s *Session) onResponseCanceled(id string) {
	if !s.turn.ResponseOutstanding() {
		return
	}
	if s.turn.ResponseID != "" && id != "" && id != s.turn.ResponseID {
		return
	}
	s.turn.ModelDone(id)
	s.barge.NoteCancel(time.Now())
	s.cancelTimer(timerResponseWatchdog)
	if s.turn.State == BotResponsePending {
		// Canceled before any audio reached the carrier.
		s.epoch++
		s.turn.Abort()
		s.armNudge()
	}
}

func (s *Session) onRequestResponse() {
	if err := s.turn.Begin(true); err != nil {
		s.log.Warn("refusing response request", "error", err)
		return
	}
	if err := s.deps.Engine.CreateResponse(); err != nil {
		s.log.Error("response create failed", "error", err)
		s.turn.Abort()
		return
	}
	s.schedule(timerResponseWatchdog, s.tuning.ResponseTimeout)
}

func (s *Session) onAudioDelta(b64 string) {
	switch s.turn.State {
	case BotResponsePending:
		if err := s.turn.StartSpeaking(); err != nil {
			s.log.Warn("unexpected audio delta", "error", err)
			return
		}
	case BotSpeaking:
	default:
		// Audio for a canceled or closed response.
		return
	}
	s.extendSpeakLock(s.deltaDuration(len(b64)))
	if err := s.deps.Speaker.AppendEngineAudio(b64); err != nil {
		s.log.Warn("engine audio enqueue failed", "error", err)
	}
}

// extendSpeakLock grows the playback window by the duration of newly
// buffered speech, so transcripts of the bot's own voice stay gated
// for exactly as long as that speech takes to play out.
func (s *Session) extendSpeakLock(d time.Duration) {
	if d <= 0 {
		return
	}
	if now := time.Now(); s.speakLockUntil.Before(now) {
		s.speakLockUntil = now
	}
	s.speakLockUntil = s.speakLockUntil.Add(d)
}

// deltaDuration estimates the playout time of one base64 engine audio
// delta. G.711 calls receive deltas in the carrier codec; linear calls
// receive 24 kHz PCM16.
func (s *Session) deltaDuration(b64len int) time.Duration {
	bps := s.Encoding.BytesPerSecond(s.SampleRate)
	if s.Encoding == audio.EncodingL16 {
		bps = 2 * 24000
	}
	if bps <= 0 {
		return 0
	}
	n := base64.StdEncoding.DecodedLen(b64len)
	return time.Duration(n) * time.Second / time.Duration(bps)
}

func (s *Session) onTranscript(text string) {
	if text == "" || s.stage.Terminal() {
		return
	}
	if s.turn.State == BotSpeaking && time.Now().Before(s.speakLockUntil) {
		s.log.Debug("dropping transcript during playback", "transcript", text)
		return
	}

	s.lastTranscript = text
	epoch := s.epoch
	stage := s.stage

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.tuning.ClassifyTimeout)
		defer cancel()

		cls, err := s.deps.Classify.Classify(ctx, text, stage)
		if err != nil {
			s.post(message{kind: msgClassifyFailed, err: err, epoch: epoch})
			return
		}
		s.post(message{kind: msgClassified, cls: cls, epoch: epoch})
	}()
}

func (s *Session) applyClassification(cls Classification) {
	if s.stage.Terminal() {
		return
	}
	s.log.Info("classified",
		"stage", s.stage.String(),
		"intent", cls.Intent,
		"action", cls.NextAction,
		"confidence", cls.Confidence)

	if cls.NextAction == ActionEndCall {
		s.answers.Record(s.stage, cls.Intent, s.lastTranscript)
		s.finishCall()
		return
	}
	if cls.Confidence < s.tuning.ConfidenceFloor || cls.Intent == IntentUnclear || cls.NextAction == ActionRepeat {
		s.repeatStage()
		return
	}

	s.answers.Record(s.stage, cls.Intent, s.lastTranscript)
	if s.stage == StageGreeting && cls.Intent == IntentNo {
		s.finishCall()
		return
	}

	s.stage = s.stage.Next()
	s.stageRepeats = 0
	if line := s.script.Line(s.stage); line != "" {
		s.speakLine(line)
	} else {
		s.finishCall()
	}
}

func (s *Session) repeatStage() {
	s.stageRepeats++
	if s.stageRepeats > s.tuning.MaxStageRepeats {
		s.log.Info("giving up on stage", "stage", s.stage.String())
		s.finishCall()
		return
	}
	s.speakLine(s.script.Repeat)
}

func (s *Session) finishCall() {
	if s.closingSpoken {
		return
	}
	s.stage = StageDone
	s.closingSpoken = true
	s.speakLine(s.script.Closing)
}

func (s *Session) onEngineError(code, msg string) {
	// Raised when input is committed with no buffered audio; routine
	// during silence.
	if code == "input_audio_buffer_commit_empty" {
		s.log.Debug("empty input commit", "message", msg)
		return
	}

	s.log.Error("engine error", "code", code, "message", msg)
	if s.turn.ResponseOutstanding() {
		if err := s.deps.Engine.CancelResponse(s.turn.ResponseID); err != nil {
			s.log.Warn("response cancel failed", "error", err)
		}
		s.cancelTimer(timerResponseWatchdog)
		s.epoch++
		s.turn.Abort()
		if !s.stage.Terminal() {
			s.speakLine(s.script.Repeat)
		}
	}
}

// speakLine renders an approved line through the speaker. If a turn is
// already in flight the line is parked and spoken when the turn closes.
func (s *Session) speakLine(text string) {
	if text == "" {
		return
	}
	if err := s.turn.Begin(false); err != nil {
		s.log.Debug("parking line until turn closes", "error", err)
		s.pendingLine = text
		return
	}

	epoch := s.epoch
	go func() {
		h, err := s.deps.Speaker.Speak(context.Background(), text)
		if err != nil {
			s.post(message{kind: msgSpeakFailed, text: text, err: err, epoch: epoch})
			return
		}
		s.post(message{kind: msgSpeakReady, text: text, handle: h, epoch: epoch})
	}()
}

func (s *Session) onSpeakReady(m message) {
	if m.epoch != s.epoch || s.turn.State != BotResponsePending {
		return
	}
	if err := s.turn.StartSpeaking(); err != nil {
		s.log.Warn("cannot start speaking", "error", err)
		return
	}
	s.currentMark = m.handle.Mark
	s.speakLockUntil = time.Now().Add(m.handle.Estimated)
}

func (s *Session) onSpeakFailed(m message) {
	s.log.Error("utterance render failed", "error", m.err)
	if m.epoch != s.epoch {
		return
	}

	s.epoch++
	s.turn.Abort()
	s.cancelTimer(timerMark)

	if s.stage.Terminal() || m.text == s.script.Repeat {
		// Nothing deterministic left to fall back to.
		s.teardown(true)
		return
	}
	s.speakLine(s.script.Repeat)
}

func (s *Session) onMarkAck(name string) {
	if name != s.currentMark {
		s.log.Debug("stale mark ack", "name", name)
		return
	}
	s.cancelTimer(timerMark)
	s.turn.AudioDelivered()
	s.evaluateClose()
}

func (s *Session) evaluateClose() {
	if !s.turn.CanClose() {
		if s.turn.State == BotSpeaking || s.turn.State == BotAudioDelivered {
			s.schedule(timerRecheck, s.tuning.RecheckDelay)
		}
		return
	}
	s.closeTurn()
}

func (s *Session) closeTurn() {
	s.turn.Close()
	s.epoch++
	s.cancelTimer(timerMark)
	s.cancelTimer(timerResponseWatchdog)
	s.cancelTimer(timerRecheck)
	s.currentMark = ""

	if !s.greetingClosed {
		s.greetingClosed = true
		s.bypassUntil = time.Now().Add(s.tuning.GreetingBypass)
	}

	if s.stage.Terminal() && s.closingSpoken {
		s.teardown(true)
		return
	}

	if s.pendingLine != "" {
		line := s.pendingLine
		s.pendingLine = ""
		s.speakLine(line)
		return
	}

	s.turn.OpenUserTurn()
	s.armNudge()
}

func (s *Session) armNudge() {
	if !s.userSpeaking && !s.stage.Terminal() {
		s.schedule(timerNudge, s.tuning.NudgeDelay)
	}
}

func (s *Session) onTimer(k timerKind) {
	switch k {
	case timerNoAudio:
		if !s.sawAudio {
			s.log.Warn("no inbound audio, dropping call")
			s.teardown(true)
		}
	case timerNudge:
		if s.turn.State != UserTurnOpen || s.userSpeaking {
			return
		}
		s.nudges++
		if s.nudges > 1 {
			s.log.Info("caller stayed silent, ending call")
			s.finishCall()
			return
		}
		s.speakLine(s.script.Nudge)
	case timerMark:
		s.log.Warn("mark ack timed out, assuming delivered", "mark", s.currentMark)
		s.turn.AudioDelivered()
		s.evaluateClose()
	case timerResponseWatchdog:
		if !s.turn.ResponseOutstanding() {
			return
		}
		s.log.Warn("response timed out", "response_id", s.turn.ResponseID)
		if err := s.deps.Engine.CancelResponse(s.turn.ResponseID); err != nil {
			s.log.Warn("response cancel failed", "error", err)
		}
		s.epoch++
		s.turn.Abort()
		if !s.stage.Terminal() {
			s.speakLine(s.script.Repeat)
		}
	case timerRecheck:
		s.evaluateClose()
	}
}

// schedule arms (or re-arms) a timer. The callback posts back into the
// loop with the epoch it was armed under; nothing fires synchronously.
func (s *Session) schedule(k timerKind, d time.Duration) {
	s.cancelTimer(k)
	epoch := s.epoch
	s.timers[k] = time.AfterFunc(d, func() {
		s.post(message{kind: msgTimer, timer: k, epoch: epoch})
	})
}

func (s *Session) cancelTimer(k timerKind) {
	if t, ok := s.timers[k]; ok {
		t.Stop()
		delete(s.timers, k)
	}
}

// teardown closes everything exactly once. hangup controls whether the
// call-control hangup command is issued; a carrier-initiated stop means
// the call already ended.
func (s *Session) teardown(hangup bool) {
	if s.torn {
		return
	}
	s.torn = true
	s.epoch++

	for k := range s.timers {
		s.cancelTimer(k)
	}

	s.deps.Speaker.Close()
	if err := s.deps.Engine.Close(); err != nil {
		s.log.Debug("engine close", "error", err)
	}
	if err := s.deps.Link.Close(); err != nil {
		s.log.Debug("link close", "error", err)
	}
	if s.deps.Registry != nil {
		s.deps.Registry.Remove(s)
	}

	if hangup && s.deps.Control != nil && s.CallControlID != "" {
		id := s.CallControlID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.deps.Control.Hangup(ctx, id); err != nil {
				s.log.Warn("hangup failed", "error", err)
			}
		}()
	}

	s.log.Info("session ended",
		"stage", s.stage.String(),
		"available", boolOrNil(s.answers.Available),
		"urgent", boolOrNil(s.answers.Urgent))

	close(s.done)
}

func boolOrNil(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
