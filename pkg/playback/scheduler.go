package playback

import (
	"log/slog"
	"sync"
	"time"
)

// FrameInterval is the carrier media frame cadence.
const FrameInterval = 20 * time.Millisecond

// Sink is the outbound half of a carrier media stream.
type Sink interface {
	SendMedia(payload []byte) error
	SendMark(name string) error
}

// Scheduler paces queued audio toward the carrier in fixed 20 ms
// frames instead of dumping whole utterances at once. Keeping the
// carrier-side jitter buffer shallow is what makes barge-in feel
// instant: on Abort at most one frame is already in flight.
type Scheduler struct {
	sink      Sink
	frameSize int
	onFlushed func(mark string)
	log       *slog.Logger

	mu        sync.Mutex
	queue     []byte
	mark      string
	finished  bool
	holdUntil time.Time
	closed    bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewScheduler starts a pacer writing to sink. bytesPerSecond is the
// wire rate of the carrier encoding; onFlushed is invoked after the
// closing mark of each utterance has been sent.
func NewScheduler(sink Sink, bytesPerSecond int, onFlushed func(mark string), logger *slog.Logger) *Scheduler {
	return newScheduler(sink, bytesPerSecond/50, FrameInterval, onFlushed, logger)
}

func newScheduler(sink Sink, frameSize int, interval time.Duration, onFlushed func(mark string), logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		sink:      sink,
		frameSize: frameSize,
		onFlushed: onFlushed,
		log:       logger.With("component", "playback.scheduler"),
		stop:      make(chan struct{}),
	}
	go s.run(interval)
	return s
}

func (s *Scheduler) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || now.Before(s.holdUntil) {
		return
	}

	if len(s.queue) > 0 {
		n := s.frameSize
		if n > len(s.queue) {
			if !s.finished {
				// Mid-utterance underrun; wait for more audio.
				return
			}
			n = len(s.queue)
		}
		frame := s.queue[:n]
		s.queue = s.queue[n:]
		if err := s.sink.SendMedia(frame); err != nil {
			s.log.Warn("media send failed", "error", err)
		}
		if len(s.queue) > 0 || !s.finished {
			return
		}
	}

	if s.finished && s.mark != "" {
		mark := s.mark
		s.mark = ""
		s.finished = false
		if err := s.sink.SendMark(mark); err != nil {
			s.log.Warn("mark send failed", "error", err)
		}
		if s.onFlushed != nil {
			// Off the tick goroutine so a slow consumer cannot stall
			// pacing.
			go s.onFlushed(mark)
		}
	}
}

// Begin opens a new utterance that will close with the given mark. Any
// previous utterance must have drained or been aborted.
func (s *Scheduler) Begin(mark string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mark = mark
	s.finished = false
}

// Append queues audio for the current utterance.
func (s *Scheduler) Append(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, payload...)
}

// Finish marks the current utterance complete; once the queue drains
// the closing mark is emitted.
func (s *Scheduler) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

// Abort drops everything queued without emitting the mark.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.mark = ""
	s.finished = false
}

// HoldFor pauses frame emission until the window elapses. The window
// only ever extends.
func (s *Scheduler) HoldFor(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(s.holdUntil) {
		s.holdUntil = until
	}
}

// Buffered returns the playback duration of the queued audio.
func (s *Scheduler) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frameSize == 0 {
		return 0
	}
	frames := len(s.queue) / s.frameSize
	return time.Duration(frames) * FrameInterval
}

// Close stops the pacer. Safe to call more than once.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
