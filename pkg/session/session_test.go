package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-dialtone/pkg/audio"
)

type fakeEngine struct {
	mu       sync.Mutex
	appended int
	cleared  int
	created  int
	canceled []string
	closed   bool
}

func (f *fakeEngine) AppendAudio(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended++
	return nil
}

func (f *fakeEngine) ClearInput() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeEngine) CreateResponse() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return nil
}

func (f *fakeEngine) CancelResponse(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) counts() (appended, cleared, created int, canceled []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appended, f.cleared, f.created, append([]string(nil), f.canceled...)
}

type fakeLink struct {
	mu     sync.Mutex
	clears int
	closed bool
}

func (f *fakeLink) SendClear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clears
}

type fakeSpeaker struct {
	mu           sync.Mutex
	spoken       []string
	engineChunks int
	aborts       int
	holds        int
	closed       bool
	failNext     bool
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string) (SpeakHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return SpeakHandle{}, errors.New("synthesis unavailable")
	}
	f.spoken = append(f.spoken, text)
	return SpeakHandle{Mark: fmt.Sprintf("mark-%d", len(f.spoken))}, nil
}

func (f *fakeSpeaker) AppendEngineAudio(b64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.engineChunks++
	return nil
}

func (f *fakeSpeaker) FinishEngineAudio() {}

func (f *fakeSpeaker) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
}

func (f *fakeSpeaker) HoldFor(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds++
}

func (f *fakeSpeaker) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSpeaker) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

func (f *fakeSpeaker) abortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborts
}

type fakeClassifier struct {
	mu    sync.Mutex
	calls int
	fn    func(stage Stage, transcript string) (Classification, error)
}

func (f *fakeClassifier) Classify(ctx context.Context, transcript string, stage Stage) (Classification, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return Classification{Intent: IntentYes, NextAction: ActionContinue, Confidence: 0.9}, nil
	}
	return fn(stage, transcript)
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeControl struct {
	mu      sync.Mutex
	hangups []string
}

func (f *fakeControl) Hangup(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, id)
	return nil
}

func (f *fakeControl) hangupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hangups)
}

type testHarness struct {
	s       *Session
	engine  *fakeEngine
	link    *fakeLink
	speaker *fakeSpeaker
	class   *fakeClassifier
	control *fakeControl
	reg     *Registry
}

func testTuning() Tuning {
	t := DefaultTuning()
	t.NudgeDelay = time.Hour
	t.NoAudioTimeout = time.Hour
	t.MarkTimeout = time.Hour
	t.ResponseTimeout = time.Hour
	t.BargeSustain = 10 * time.Millisecond
	t.BargeCooldown = 30 * time.Millisecond
	t.EchoDrop = 50 * time.Millisecond
	t.RecheckDelay = 5 * time.Millisecond
	return t
}

func startSession(t *testing.T, tune Tuning) *testHarness {
	return startSessionWith(t, tune, nil)
}

// startSessionWith runs prep on the harness before the session
// goroutine starts, for tests that need a collaborator primed.
func startSessionWith(t *testing.T, tune Tuning, prep func(*testHarness)) *testHarness {
	t.Helper()
	return startSessionCfg(t, Config{
		StreamID:      "stream-1",
		CallControlID: "cc-1",
		Encoding:      audio.EncodingPCMU,
		SampleRate:    8000,
		Tuning:        tune,
	}, prep)
}

func startSessionCfg(t *testing.T, cfg Config, prep func(*testHarness)) *testHarness {
	t.Helper()

	h := &testHarness{
		engine:  &fakeEngine{},
		link:    &fakeLink{},
		speaker: &fakeSpeaker{},
		class:   &fakeClassifier{},
		control: &fakeControl{},
		reg:     NewRegistry(),
	}
	h.s = New(cfg, Deps{
		Engine:   h.engine,
		Link:     h.link,
		Speaker:  h.speaker,
		Classify: h.class,
		Control:  h.control,
		Registry: h.reg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.reg.Add(h.s)

	if prep != nil {
		prep(h)
	}
	go h.s.Run()
	t.Cleanup(func() {
		h.s.PostCarrierStop()
		select {
		case <-h.s.Done():
		case <-time.After(2 * time.Second):
			t.Error("session did not tear down")
		}
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func loudFrame() []byte {
	return bytes.Repeat([]byte{audio.PCM16ToMuLaw(20000)}, 160)
}

func quietFrame() []byte {
	return bytes.Repeat([]byte{audio.PCM16ToMuLaw(0)}, 160)
}

// finishUtterance walks one utterance through playback flush and mark
// acknowledgment.
func (h *testHarness) finishUtterance(t *testing.T, n int) {
	t.Helper()
	waitFor(t, fmt.Sprintf("utterance %d spoken", n), func() bool {
		return len(h.speaker.lines()) >= n
	})
	time.Sleep(10 * time.Millisecond)
	mark := fmt.Sprintf("mark-%d", n)
	h.s.PostPlaybackFlushed(mark)
	h.s.PostMarkAck(mark)
	time.Sleep(10 * time.Millisecond)
}

func TestTurn_CloseRequiresBothHalves(t *testing.T) {
	var turn Turn

	if err := turn.Begin(true); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := turn.StartSpeaking(); err != nil {
		t.Fatalf("StartSpeaking failed: %v", err)
	}

	turn.AudioDelivered()
	if turn.CanClose() {
		t.Error("turn closable with model still outstanding")
	}

	turn.ModelDone("r1")
	if !turn.CanClose() {
		t.Error("turn not closable with both halves done")
	}
}

func TestTurn_ModelDoneBeforeDelivery(t *testing.T) {
	var turn Turn

	if err := turn.Begin(true); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	turn.ResponseID = "r1"
	if err := turn.StartSpeaking(); err != nil {
		t.Fatalf("StartSpeaking failed: %v", err)
	}

	if !turn.ModelDone("r1") {
		t.Error("matching response id rejected")
	}
	if turn.CanClose() {
		t.Error("turn closable without delivery confirmation")
	}
	if turn.ModelDone("r2") {
		t.Error("stale response id accepted")
	}

	turn.AudioDelivered()
	if !turn.CanClose() {
		t.Error("turn not closable after delivery")
	}
}

func TestTurn_SecondBeginRefusedWhileOutstanding(t *testing.T) {
	var turn Turn

	if err := turn.Begin(true); err != nil {
		t.Fatalf("first Begin failed: %v", err)
	}
	if err := turn.Begin(true); err == nil {
		t.Error("overlapping Begin accepted")
	}

	turn.Abort()
	if turn.ResponseOutstanding() {
		t.Error("outstanding flag survived abort")
	}
	if err := turn.Begin(false); err != nil {
		t.Errorf("Begin after abort failed: %v", err)
	}
}

func TestBargeDetector_SpikeDoesNotFire(t *testing.T) {
	d := NewBargeDetector(DefaultTuning())
	now := time.Now()

	if d.Observe(0.5, now) {
		t.Error("fired on first loud frame")
	}
	if d.Observe(0.001, now.Add(20*time.Millisecond)) {
		t.Error("fired on quiet frame")
	}
	if d.Observe(0.5, now.Add(40*time.Millisecond)) {
		t.Error("fired immediately after energy returned")
	}
}

func TestBargeDetector_SustainedEnergyFires(t *testing.T) {
	d := NewBargeDetector(DefaultTuning())
	now := time.Now()

	d.Observe(0.5, now)
	if !d.Observe(0.5, now.Add(DefaultBargeSustain+time.Millisecond)) {
		t.Fatal("sustained energy did not fire")
	}

	// Inside the cooldown nothing fires, however loud.
	d.Observe(0.9, now.Add(300*time.Millisecond))
	if d.Observe(0.9, now.Add(600*time.Millisecond)) {
		t.Error("fired inside the cooldown")
	}
}

func TestSession_SpeaksGreetingFirst(t *testing.T) {
	h := startSession(t, testTuning())

	waitFor(t, "greeting", func() bool { return len(h.speaker.lines()) == 1 })
	if got := h.speaker.lines()[0]; got != DefaultScript().Greeting {
		t.Errorf("first line = %q, want greeting", got)
	}
}

func TestSession_FullQualificationFlow(t *testing.T) {
	h := startSession(t, testTuning())
	script := DefaultScript()

	h.finishUtterance(t, 1)
	h.s.PostTranscript("sure, go ahead")

	waitFor(t, "availability question", func() bool { return len(h.speaker.lines()) >= 2 })
	if got := h.speaker.lines()[1]; got != script.Availability {
		t.Fatalf("second line = %q, want availability question", got)
	}

	h.finishUtterance(t, 2)
	h.s.PostTranscript("yes, definitely")

	waitFor(t, "urgency question", func() bool { return len(h.speaker.lines()) >= 3 })
	if got := h.speaker.lines()[2]; got != script.Urgency {
		t.Fatalf("third line = %q, want urgency question", got)
	}

	h.finishUtterance(t, 3)
	h.s.PostTranscript("yes, as soon as possible")

	waitFor(t, "closing line", func() bool { return len(h.speaker.lines()) >= 4 })
	if got := h.speaker.lines()[3]; got != script.Closing {
		t.Fatalf("fourth line = %q, want closing", got)
	}

	h.finishUtterance(t, 4)

	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after closing line")
	}

	res := h.s.Results()
	if res.Available == nil || !*res.Available {
		t.Error("availability answer not recorded as yes")
	}
	if res.Urgent == nil || !*res.Urgent {
		t.Error("urgency answer not recorded as yes")
	}
	waitFor(t, "hangup", func() bool { return h.control.hangupCount() == 1 })
	if h.reg.Len() != 0 {
		t.Error("session still registered after teardown")
	}
}

func TestSession_LowConfidenceRepeatsVerbatim(t *testing.T) {
	h := startSession(t, testTuning())
	h.class.fn = func(Stage, string) (Classification, error) {
		return Classification{Intent: IntentYes, NextAction: ActionContinue, Confidence: 0.40}, nil
	}

	h.finishUtterance(t, 1)
	h.s.PostTranscript("mumble mumble")

	waitFor(t, "repeat line", func() bool { return len(h.speaker.lines()) >= 2 })
	if got := h.speaker.lines()[1]; got != DefaultScript().Repeat {
		t.Errorf("spoken %q, want the fixed repeat line", got)
	}
}

func TestSession_RepeatLimitExhaustedEndsCall(t *testing.T) {
	tune := testTuning()
	tune.MaxStageRepeats = 1
	h := startSession(t, tune)
	h.class.fn = func(Stage, string) (Classification, error) {
		return Classification{Intent: IntentUnclear, NextAction: ActionRepeat, Confidence: 0.9}, nil
	}

	h.finishUtterance(t, 1)
	h.s.PostTranscript("static")
	h.finishUtterance(t, 2)
	h.s.PostTranscript("more static")

	waitFor(t, "closing line", func() bool { return len(h.speaker.lines()) >= 3 })
	if got := h.speaker.lines()[2]; got != DefaultScript().Closing {
		t.Errorf("spoken %q, want closing after repeat limit", got)
	}
}

func TestSession_EnergyBargeInAbortsPlayback(t *testing.T) {
	h := startSession(t, testTuning())

	waitFor(t, "greeting", func() bool { return len(h.speaker.lines()) == 1 })
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 50 && h.speaker.abortCount() == 0; i++ {
		h.s.PostMedia(loudFrame())
		time.Sleep(5 * time.Millisecond)
	}

	if h.speaker.abortCount() != 1 {
		t.Fatalf("aborts = %d, want 1", h.speaker.abortCount())
	}
	waitFor(t, "carrier clear", func() bool { return h.link.clearCount() == 1 })
	waitFor(t, "input clear", func() bool {
		_, cleared, _, _ := h.engine.counts()
		return cleared == 1
	})
}

// Drives a full A-law call: the greeting speaks exactly once, silence
// draws exactly one nudge, and sustained caller speech during the nudge
// aborts playback and clears the carrier's buffer.
func TestSession_ALawCallGreetingNudgeBargeIn(t *testing.T) {
	tune := testTuning()
	tune.NudgeDelay = 30 * time.Millisecond
	h := startSessionCfg(t, Config{
		StreamID:      "stream-a",
		CallControlID: "cc-a",
		Encoding:      audio.EncodingPCMA,
		SampleRate:    8000,
		Tuning:        tune,
	}, nil)
	script := DefaultScript()

	h.finishUtterance(t, 1)
	if got := h.speaker.lines()[0]; got != script.Greeting {
		t.Fatalf("first line = %q, want greeting", got)
	}

	waitFor(t, "nudge", func() bool { return len(h.speaker.lines()) >= 2 })
	if got := h.speaker.lines()[1]; got != script.Nudge {
		t.Fatalf("second line = %q, want nudge", got)
	}
	time.Sleep(15 * time.Millisecond)

	loud := bytes.Repeat([]byte{audio.PCM16ToALaw(20000)}, 160)
	for i := 0; i < 50 && h.speaker.abortCount() == 0; i++ {
		h.s.PostMedia(loud)
		time.Sleep(5 * time.Millisecond)
	}

	if h.speaker.abortCount() != 1 {
		t.Fatalf("aborts = %d, want 1", h.speaker.abortCount())
	}
	waitFor(t, "carrier clear", func() bool { return h.link.clearCount() == 1 })
	if n := len(h.speaker.lines()); n != 2 {
		t.Errorf("lines spoken = %d, want exactly 2", n)
	}
}

func TestSession_VADBargeInAbortsPlayback(t *testing.T) {
	h := startSession(t, testTuning())

	waitFor(t, "greeting", func() bool { return len(h.speaker.lines()) == 1 })
	time.Sleep(15 * time.Millisecond)

	h.s.PostSpeechStarted()
	waitFor(t, "abort", func() bool { return h.speaker.abortCount() == 1 })
	waitFor(t, "carrier clear", func() bool { return h.link.clearCount() == 1 })
}

func TestSession_QuietAudioNeverBargesIn(t *testing.T) {
	h := startSession(t, testTuning())

	waitFor(t, "greeting", func() bool { return len(h.speaker.lines()) == 1 })
	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 10; i++ {
		h.s.PostMedia(quietFrame())
		time.Sleep(5 * time.Millisecond)
	}
	if h.speaker.abortCount() != 0 {
		t.Errorf("aborts = %d, want 0 for silence", h.speaker.abortCount())
	}
}

func TestSession_MediaForwardedOnlyAfterEngineReady(t *testing.T) {
	tune := testTuning()
	tune.GreetingBypass = 0
	h := startSession(t, tune)
	h.finishUtterance(t, 1)

	h.s.PostMedia(quietFrame())
	time.Sleep(20 * time.Millisecond)
	if appended, _, _, _ := h.engine.counts(); appended != 0 {
		t.Fatalf("audio forwarded before engine ready: %d frames", appended)
	}

	h.s.PostEngineReady()
	time.Sleep(10 * time.Millisecond)
	h.s.PostMedia(quietFrame())
	waitFor(t, "forwarded frame", func() bool {
		appended, _, _, _ := h.engine.counts()
		return appended == 1
	})
}

func TestSession_GreetingBypassForwardsBeforeReady(t *testing.T) {
	h := startSession(t, testTuning())

	// Before the greeting turn closes nothing is forwarded.
	h.s.PostMedia(quietFrame())
	time.Sleep(20 * time.Millisecond)
	if appended, _, _, _ := h.engine.counts(); appended != 0 {
		t.Fatalf("audio forwarded before greeting closed: %d frames", appended)
	}

	// Once it closes, the bypass window accepts caller audio even
	// though the engine never reported ready.
	h.finishUtterance(t, 1)
	h.s.PostMedia(quietFrame())
	waitFor(t, "bypassed frame", func() bool {
		appended, _, _, _ := h.engine.counts()
		return appended == 1
	})
}

func TestSession_OverlappingResponseCanceled(t *testing.T) {
	h := startSession(t, testTuning())

	waitFor(t, "greeting", func() bool { return len(h.speaker.lines()) == 1 })
	time.Sleep(15 * time.Millisecond)

	// Greeting is still playing; an unsolicited upstream response must
	// be refused.
	h.s.PostResponseCreated("r-overlap")
	waitFor(t, "cancel", func() bool {
		_, _, _, canceled := h.engine.counts()
		return len(canceled) == 1 && canceled[0] == "r-overlap"
	})
}

func TestSession_ModelTurnLifecycle(t *testing.T) {
	h := startSession(t, testTuning())
	h.finishUtterance(t, 1)

	h.s.RequestResponse()
	waitFor(t, "response create", func() bool {
		_, _, created, _ := h.engine.counts()
		return created == 1
	})

	// A second request while the first is outstanding must not reach
	// the engine.
	h.s.RequestResponse()
	time.Sleep(20 * time.Millisecond)
	if _, _, created, _ := h.engine.counts(); created != 1 {
		t.Fatalf("created = %d, want 1 while outstanding", created)
	}

	h.s.PostResponseCreated("r1")
	h.s.PostAudioDelta("UklGRg==")
	h.s.PostAudioDone()
	h.s.PostResponseDone("r1")
	h.s.PostPlaybackFlushed("m-engine")
	h.s.PostMarkAck("m-engine")
	time.Sleep(20 * time.Millisecond)

	h.s.RequestResponse()
	waitFor(t, "second response create", func() bool {
		_, _, created, _ := h.engine.counts()
		return created == 2
	})
}

func TestSession_SpeakLockTracksEngineAudioLength(t *testing.T) {
	h := startSession(t, testTuning())
	h.finishUtterance(t, 1)

	h.s.RequestResponse()
	waitFor(t, "response create", func() bool {
		_, _, created, _ := h.engine.counts()
		return created == 1
	})
	h.s.PostResponseCreated("r1")

	// 200 ms of µ-law audio gates transcripts for 200 ms. A transcript
	// arriving inside that window is the bot hearing itself.
	h.s.PostAudioDelta(base64.StdEncoding.EncodeToString(make([]byte, 1600)))
	h.s.PostTranscript("playback echo")
	time.Sleep(30 * time.Millisecond)
	if n := h.class.callCount(); n != 0 {
		t.Fatalf("classifications during playback = %d, want 0", n)
	}

	// Once the buffered speech has played out the gate lifts, well
	// before any mark-ack timeout.
	time.Sleep(250 * time.Millisecond)
	h.s.PostTranscript("yes that works")
	waitFor(t, "classification after playout", func() bool {
		return h.class.callCount() == 1
	})
}

func TestSession_NudgeFiresOnceThenCallEnds(t *testing.T) {
	tune := testTuning()
	tune.NudgeDelay = 30 * time.Millisecond
	h := startSession(t, tune)
	script := DefaultScript()

	h.finishUtterance(t, 1)

	waitFor(t, "nudge", func() bool { return len(h.speaker.lines()) >= 2 })
	if got := h.speaker.lines()[1]; got != script.Nudge {
		t.Fatalf("second line = %q, want nudge", got)
	}

	h.finishUtterance(t, 2)

	// Continued silence ends the call instead of nudging again.
	waitFor(t, "closing", func() bool { return len(h.speaker.lines()) >= 3 })
	if got := h.speaker.lines()[2]; got != script.Closing {
		t.Fatalf("third line = %q, want closing", got)
	}

	h.finishUtterance(t, 3)
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
	if n := len(h.speaker.lines()); n != 3 {
		t.Errorf("lines spoken = %d, want exactly 3", n)
	}
}

func TestSession_MarkTimeoutAssumesDelivered(t *testing.T) {
	tune := testTuning()
	tune.MarkTimeout = 20 * time.Millisecond
	h := startSession(t, tune)

	waitFor(t, "greeting", func() bool { return len(h.speaker.lines()) == 1 })
	time.Sleep(10 * time.Millisecond)
	h.s.PostPlaybackFlushed("mark-1")

	// No ack ever arrives. After the timeout the turn closes and the
	// conversation proceeds.
	time.Sleep(60 * time.Millisecond)
	h.s.PostTranscript("yes")

	waitFor(t, "next question", func() bool { return len(h.speaker.lines()) >= 2 })
	if got := h.speaker.lines()[1]; got != DefaultScript().Availability {
		t.Errorf("second line = %q, want availability question", got)
	}
}

func TestSession_TerminalStageIgnoresTranscripts(t *testing.T) {
	h := startSession(t, testTuning())
	h.class.fn = func(Stage, string) (Classification, error) {
		return Classification{Intent: IntentNo, NextAction: ActionEndCall, Confidence: 0.95}, nil
	}

	h.finishUtterance(t, 1)
	h.s.PostTranscript("please take me off your list")

	waitFor(t, "closing", func() bool { return len(h.speaker.lines()) >= 2 })
	if got := h.speaker.lines()[1]; got != DefaultScript().Closing {
		t.Fatalf("second line = %q, want closing", got)
	}
	calls := h.class.callCount()

	h.s.PostTranscript("hello?")
	time.Sleep(30 * time.Millisecond)
	if h.class.callCount() != calls {
		t.Error("transcript classified after the script finished")
	}
}

func TestSession_SynthFailureFallsBackThenRecovers(t *testing.T) {
	h := startSessionWith(t, testTuning(), func(h *testHarness) {
		h.speaker.failNext = true
	})

	// The greeting render fails; the fixed repeat line is spoken
	// instead of leaving the caller in silence.
	waitFor(t, "fallback line", func() bool { return len(h.speaker.lines()) >= 1 })
	if got := h.speaker.lines()[0]; got != DefaultScript().Repeat {
		t.Errorf("fallback line = %q, want repeat prompt", got)
	}
}

func TestSession_NoInboundAudioDropsCall(t *testing.T) {
	tune := testTuning()
	tune.NoAudioTimeout = 30 * time.Millisecond
	h := startSession(t, tune)

	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session survived without any inbound audio")
	}
	waitFor(t, "hangup", func() bool { return h.control.hangupCount() == 1 })
}

func TestSession_CarrierStopTearsDownWithoutHangup(t *testing.T) {
	h := startSession(t, testTuning())
	waitFor(t, "greeting", func() bool { return len(h.speaker.lines()) == 1 })

	h.s.PostCarrierStop()
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not tear down on carrier stop")
	}

	time.Sleep(20 * time.Millisecond)
	if h.control.hangupCount() != 0 {
		t.Error("hangup issued for a carrier-initiated stop")
	}
	if h.reg.Len() != 0 {
		t.Error("session still registered")
	}
}

func TestTuning_PartialOverrideKeepsOtherDefaults(t *testing.T) {
	got := Tuning{NudgeDelay: time.Minute, MaxStageRepeats: 5}.withDefaults()

	if got.NudgeDelay != time.Minute {
		t.Errorf("NudgeDelay = %v, want the override", got.NudgeDelay)
	}
	if got.MaxStageRepeats != 5 {
		t.Errorf("MaxStageRepeats = %d, want the override", got.MaxStageRepeats)
	}
	if got.BargeSustain != DefaultBargeSustain {
		t.Errorf("BargeSustain = %v, want default", got.BargeSustain)
	}
	if got.BargeThreshold != DefaultBargeThreshold {
		t.Errorf("BargeThreshold = %v, want default", got.BargeThreshold)
	}
	if got.ConfidenceFloor != DefaultConfidenceFloor {
		t.Errorf("ConfidenceFloor = %v, want default", got.ConfidenceFloor)
	}
}

func TestSession_ArmedTimerInertAfterTeardown(t *testing.T) {
	tune := testTuning()
	tune.NudgeDelay = 75 * time.Millisecond
	h := startSession(t, tune)

	// Greeting delivery opens the caller's turn and arms the nudge
	// timer; the stream then ends before it can fire.
	h.finishUtterance(t, 1)
	h.s.PostCarrierStop()
	select {
	case <-h.s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not tear down on carrier stop")
	}

	time.Sleep(100 * time.Millisecond)
	if got := h.speaker.lines(); len(got) != 1 {
		t.Fatalf("lines after teardown = %v, want the greeting only", got)
	}
	if h.control.hangupCount() != 0 {
		t.Error("torn-down session issued a hangup")
	}
	if _, _, created, canceled := h.engine.counts(); created != 0 || len(canceled) != 0 {
		t.Errorf("engine touched after teardown: created=%d canceled=%v", created, canceled)
	}
}

func TestRegistry_AddLookupRemove(t *testing.T) {
	reg := NewRegistry()
	s := New(Config{StreamID: "st", CallControlID: "cc", Encoding: audio.EncodingPCMU}, Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	reg.Add(s)
	if got, ok := reg.ByStream("st"); !ok || got != s {
		t.Error("stream lookup failed")
	}
	if got, ok := reg.ByCall("cc"); !ok || got != s {
		t.Error("call lookup failed")
	}

	reg.Remove(s)
	reg.Remove(s)
	if _, ok := reg.ByStream("st"); ok {
		t.Error("session still present after remove")
	}
	if reg.Len() != 0 {
		t.Errorf("Len = %d, want 0", reg.Len())
	}
}
