package playback

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-dialtone/pkg/audio"
	"github.com/teslashibe/go-dialtone/pkg/session"
)

// Config assembles one call's playback pipeline.
type Config struct {
	Encoding   audio.Encoding
	SampleRate int
	Synth      Synth
	Cache      *Cache // shared across calls; nil for per-call
	Guard      *Guard
	Sink       Sink
	OnFlushed  func(mark string)
	Logger     *slog.Logger
}

// Pipeline renders approved text and model audio into paced carrier
// frames. It is the session's Speaker.
type Pipeline struct {
	guard *Guard
	cache *Cache
	synth Synth
	sched *Scheduler
	enc   audio.Encoding
	rate  int
	log   *slog.Logger

	mu           sync.Mutex
	gen          uint64
	engineActive bool
}

// New builds a pipeline and starts its pacer.
func New(cfg Config) *Pipeline {
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache()
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 8000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		guard: cfg.Guard,
		cache: cache,
		synth: cfg.Synth,
		sched: NewScheduler(cfg.Sink, cfg.Encoding.BytesPerSecond(rate), cfg.OnFlushed, logger),
		enc:   cfg.Encoding,
		rate:  rate,
		log:   logger.With("component", "playback"),
	}
}

// Speak renders one approved line and schedules it. Unapproved text is
// replaced by the guard's fallback line; it never reaches the caller.
func (p *Pipeline) Speak(ctx context.Context, text string) (session.SpeakHandle, error) {
	line := text
	if p.guard != nil {
		resolved, ok := p.guard.Resolve(text)
		if !ok {
			p.log.Warn("unapproved utterance replaced", "chars", len(text))
		}
		line = resolved
	}
	if line == "" {
		return session.SpeakHandle{}, fmt.Errorf("playback: nothing to speak")
	}

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	rendered, ok := p.cache.Get(line)
	if !ok {
		var err error
		rendered, err = p.synth.Synthesize(ctx, line)
		if err != nil {
			return session.SpeakHandle{}, err
		}
		p.cache.Put(line, rendered)
	}
	payload := p.transcode(rendered.PCM, rendered.SampleRate)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		// Barge-in landed while we were rendering.
		return session.SpeakHandle{}, ErrAborted
	}

	mark := "utt-" + uuid.NewString()[:8]
	p.sched.Begin(mark)
	p.sched.Append(payload)
	p.sched.Finish()

	est := time.Duration(len(payload)) * time.Second / time.Duration(p.enc.BytesPerSecond(p.rate))
	return session.SpeakHandle{Mark: mark, Estimated: est}, nil
}

// AppendEngineAudio feeds one base64 model audio delta into the pacer,
// opening a new utterance stream if none is active. G.711 deltas pass
// through untouched because the engine output codec is negotiated to
// match the carrier; linear audio is resampled and re-encoded.
func (p *Pipeline) AppendEngineAudio(b64 string) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("playback: decode audio delta: %w", err)
	}

	payload := raw
	if p.enc == audio.EncodingL16 {
		payload = p.transcode(raw, synthSampleRate)
	}

	p.mu.Lock()
	if !p.engineActive {
		p.engineActive = true
		p.sched.Begin("resp-" + uuid.NewString()[:8])
	}
	p.mu.Unlock()

	p.sched.Append(payload)
	return nil
}

// FinishEngineAudio closes the model audio stream so the mark can be
// emitted once the queue drains.
func (p *Pipeline) FinishEngineAudio() {
	p.mu.Lock()
	active := p.engineActive
	p.engineActive = false
	p.mu.Unlock()
	if active {
		p.sched.Finish()
	}
}

// Abort drops everything queued and invalidates in-flight renders.
func (p *Pipeline) Abort() {
	p.mu.Lock()
	p.gen++
	p.engineActive = false
	p.mu.Unlock()
	p.sched.Abort()
}

// HoldFor pauses frame emission for the given window.
func (p *Pipeline) HoldFor(d time.Duration) {
	p.sched.HoldFor(d)
}

// Close stops the pacer.
func (p *Pipeline) Close() {
	p.sched.Close()
}

// transcode converts little-endian PCM16 at fromRate into the carrier
// encoding at the carrier rate.
func (p *Pipeline) transcode(pcm []byte, fromRate int) []byte {
	samples := audio.BytesToSamples(pcm)
	if fromRate != p.rate {
		samples = audio.Resample(samples, fromRate, p.rate)
	}
	return p.enc.EncodeFromPCM16(samples)
}

var _ session.Speaker = (*Pipeline)(nil)
