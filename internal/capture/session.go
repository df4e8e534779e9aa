// Package capture records one utterance at a time from an audio Device. A recording
// ends on Stop, on device loss, or after a debounced stretch of silence, and yields
// exactly one Result per cycle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Config wires a Session to its collaborators.
type Config struct {
	ID       string
	Device   Device
	Encoder  EncoderFactory
	Clock    Clock
	Defaults Options
	// OnStateChange runs under the session lock and must not call back into the Session.
	OnStateChange func(State)
}

// Session owns at most one live recording cycle: the stream, the encoder sink, the
// analyser and the silence timer all belong to that cycle and are released together.
type Session struct {
	id         string
	device     Device
	newEncoder EncoderFactory
	clock      Clock
	defaults   Options
	onState    func(State)

	mu      sync.Mutex
	state   State
	closed  bool
	gen     uint64
	pending *cycle
	active  *cycle
	level   float64
}

type cycle struct {
	gen       uint64
	opts      Options
	stream    Stream
	encoder   Encoder
	sink      sink
	analyser  *analyser
	monitor   *silenceMonitor
	poll      Timer
	deadline  Timer
	results   chan Result
	startedAt time.Time

	// set when the stream ends while Start is still setting up
	ended  bool
	endErr error

	cleanupOnce sync.Once
	flushErr    error
}

func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Encoder == nil {
		cfg.Encoder = NewWAVEncoder
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	return &Session{
		id:         cfg.ID,
		device:     cfg.Device,
		newEncoder: cfg.Encoder,
		clock:      cfg.Clock,
		defaults:   cfg.Defaults.withDefaults(DefaultOptions()),
		onState:    cfg.OnStateChange,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Level returns the most recent amplitude reading, zero while idle.
func (s *Session) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Start acquires the device and begins recording. The returned channel yields exactly
// one Result for this cycle and is then closed. Calling Start while recording returns
// the live cycle's channel without acquiring anything.
func (s *Session) Start(ctx context.Context, opts Options) (<-chan Result, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, ErrClosed
	case s.active != nil:
		results := s.active.results
		s.mu.Unlock()
		return results, nil
	case s.pending != nil:
		s.mu.Unlock()
		return nil, ErrStartInProgress
	}
	s.gen++
	c := &cycle{gen: s.gen, opts: opts.withDefaults(s.defaults)}
	s.pending = c
	s.mu.Unlock()

	if s.device == nil {
		s.abandon(c)
		return nil, fmt.Errorf("%w: no input device configured", ErrDeviceError)
	}

	stream, err := s.device.Open(ctx, &cycleListener{session: s, cycle: c})
	if err != nil {
		s.abandon(c)
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceError) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceError, err)
	}
	c.stream = stream

	enc, err := s.newEncoder(stream.SampleRate(), c.sink.add)
	if err != nil {
		s.abandon(c)
		c.cleanup()
		return nil, fmt.Errorf("%w: open encoder: %w", ErrDeviceError, err)
	}
	c.encoder = enc

	s.mu.Lock()
	s.pending = nil
	if s.closed || c.ended {
		closed, endErr := s.closed, c.endErr
		s.mu.Unlock()
		c.cleanup()
		if closed {
			return nil, ErrClosed
		}
		if endErr != nil {
			return nil, fmt.Errorf("%w: stream ended during setup: %w", ErrDeviceError, endErr)
		}
		return nil, fmt.Errorf("%w: stream ended during setup", ErrDeviceError)
	}
	defer s.mu.Unlock()

	c.analyser = newAnalyser(c.opts.FFTSize)
	c.results = make(chan Result, 1)
	c.startedAt = s.clock.Now()
	c.monitor = newSilenceMonitor(s.clock, c.opts.SilenceThreshold, c.opts.SilenceDuration, func(armed uint64) {
		s.silenceElapsed(c, armed)
	})
	s.active = c
	s.setState(StateRecording)
	s.schedulePoll(c)
	if c.opts.MaxDuration > 0 {
		c.deadline = s.clock.AfterFunc(c.opts.MaxDuration, func() { s.deadlineElapsed(c) })
	}

	log.Debug().
		Str("capture_session", s.id).
		Uint64("cycle", c.gen).
		Int("sample_rate", stream.SampleRate()).
		Float64("silence_threshold", c.opts.SilenceThreshold).
		Dur("silence_duration", c.opts.SilenceDuration).
		Msg("capture started")
	return c.results, nil
}

// Stop ends the live cycle, if any. Finalization completes asynchronously and is
// reported on the channel returned by Start.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	s.release(s.active, StopReasonManual, nil)
}

// Close tears the session down through the same path as Stop; later Starts fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.active != nil {
		s.release(s.active, StopReasonClosed, nil)
	}
	return nil
}

func (s *Session) abandon(c *cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == c {
		s.pending = nil
	}
}

// release is the single exit transition out of Recording. Caller holds s.mu.
// Timers and the analyser are dropped here; the stream and encoder are released by
// cleanup off the lock so device callbacks waiting on s.mu can drain.
func (s *Session) release(c *cycle, reason StopReason, failure error) {
	if s.active != c {
		return
	}
	s.active = nil
	s.level = 0
	stopTimer(&c.poll)
	stopTimer(&c.deadline)
	c.monitor.cancel()
	c.analyser.close()
	s.setState(StateIdle)

	res := Result{Reason: reason, Err: failure, Duration: s.clock.Now().Sub(c.startedAt)}
	go s.finalize(c, res)
}

func (s *Session) finalize(c *cycle, res Result) {
	defer close(c.results)
	c.cleanup()

	if res.Err == nil {
		switch payload := c.sink.concat(); {
		case c.flushErr != nil:
			res.Err = fmt.Errorf("capture: flush encoder: %w", c.flushErr)
		case len(payload) == 0:
			res.Err = ErrEmptyCapture
		default:
			res.Artifact = &Artifact{MIMEType: c.encoder.MIMEType(), Data: payload, Duration: res.Duration}
		}
	}

	ev := log.Debug()
	if res.Err != nil && !errors.Is(res.Err, ErrEmptyCapture) {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("capture_session", s.id).
		Uint64("cycle", c.gen).
		Str("reason", string(res.Reason)).
		Dur("duration", res.Duration).
		Bool("artifact", res.Artifact != nil).
		Msg("capture finished")

	c.results <- res
}

// cleanup stops the stream's tracks and flushes the encoder exactly once.
func (c *cycle) cleanup() {
	c.cleanupOnce.Do(func() {
		if c.stream != nil {
			if err := c.stream.Stop(); err != nil {
				log.Warn().Err(err).Uint64("cycle", c.gen).Msg("stream stop failed")
			}
		}
		if c.encoder != nil {
			c.flushErr = c.encoder.Close()
		}
	})
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.onState != nil {
		s.onState(st)
	}
}

func (s *Session) schedulePoll(c *cycle) {
	c.poll = s.clock.AfterFunc(c.opts.PollInterval, func() { s.poll(c) })
}

func (s *Session) poll(c *cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != c {
		return
	}
	s.level = c.analyser.level()
	if !c.opts.DisableAutoStop {
		c.monitor.observe(s.level)
	}
	s.schedulePoll(c)
}

func (s *Session) silenceElapsed(c *cycle, armed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != c || !c.monitor.current(armed) {
		return
	}
	s.release(c, StopReasonSilence, nil)
}

func (s *Session) deadlineElapsed(c *cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != c {
		return
	}
	s.release(c, StopReasonMaxDuration, nil)
}

func (s *Session) frame(c *cycle, pcm []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != c || len(pcm) == 0 {
		return
	}
	if err := c.encoder.Write(pcm); err != nil {
		s.release(c, StopReasonEncoderError, fmt.Errorf("%w: encode: %w", ErrDeviceError, err))
		return
	}
	c.analyser.push(pcm)
}

func (s *Session) ended(c *cycle, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == c {
		c.ended = true
		c.endErr = err
		return
	}
	if s.active != c {
		return
	}
	failure := ErrDeviceLost
	if err != nil {
		failure = fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	s.release(c, StopReasonDeviceLost, failure)
}

// cycleListener routes device callbacks to the cycle that opened the stream, so a
// late callback from a previous stream never touches the current one.
type cycleListener struct {
	session *Session
	cycle   *cycle
}

func (l *cycleListener) Frame(pcm []int16) { l.session.frame(l.cycle, pcm) }

func (l *cycleListener) Ended(err error) { l.session.ended(l.cycle, err) }
