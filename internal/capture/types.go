package capture

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a capture Session.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// StopReason records which exit path ended a recording cycle.
type StopReason string

const (
	StopReasonManual       StopReason = "manual"
	StopReasonSilence      StopReason = "silence"
	StopReasonMaxDuration  StopReason = "max_duration"
	StopReasonClosed       StopReason = "closed"
	StopReasonDeviceLost   StopReason = "device_lost"
	StopReasonEncoderError StopReason = "encoder_error"
)

var (
	// ErrPermissionDenied is returned by Start when the user or platform refused device access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrDeviceError is returned by Start when the device was acquired but stream setup failed.
	ErrDeviceError = errors.New("capture: device setup failed")
	// ErrDeviceLost is delivered when the stream ended unexpectedly while recording.
	ErrDeviceLost = errors.New("capture: device lost")
	// ErrEmptyCapture is delivered when a recording stopped with zero captured bytes.
	ErrEmptyCapture = errors.New("capture: no audio recorded")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("capture: session closed")
	// ErrStartInProgress is returned by Start while another Start is awaiting the device.
	ErrStartInProgress = errors.New("capture: start already in progress")
)

// Listener receives raw audio from an open Stream. Frame may be called from any
// goroutine; implementations passed in by Session copy what they keep.
type Listener interface {
	Frame(pcm []int16)
	// Ended reports that the stream terminated without Stop being called.
	Ended(err error)
}

// Stream is an acquired input stream. Stop releases every track and must be idempotent.
type Stream interface {
	SampleRate() int
	Stop() error
}

// Device acquires live audio input. Open may block until the user grants consent;
// it must honor ctx. Refusals wrap ErrPermissionDenied.
type Device interface {
	Open(ctx context.Context, l Listener) (Stream, error)
}

// Result is the single outcome of one recording cycle: exactly one of Artifact or Err is set.
type Result struct {
	Artifact *Artifact
	Err      error
	Reason   StopReason
	Duration time.Duration
}

const (
	DefaultSilenceThreshold = 0.01
	DefaultSilenceDuration  = 1500 * time.Millisecond
	DefaultPollInterval     = 20 * time.Millisecond
	DefaultFFTSize          = 2048
)

// Options tunes one recording cycle. Zero fields fall back to the session defaults.
type Options struct {
	SilenceThreshold float64
	SilenceDuration  time.Duration
	PollInterval     time.Duration
	FFTSize          int
	// MaxDuration caps a single utterance; zero disables the cap.
	MaxDuration time.Duration
	// DisableAutoStop turns the silence monitor into a meter only.
	DisableAutoStop bool
}

func (o Options) withDefaults(base Options) Options {
	if o.SilenceThreshold <= 0 {
		o.SilenceThreshold = base.SilenceThreshold
	}
	if o.SilenceDuration <= 0 {
		o.SilenceDuration = base.SilenceDuration
	}
	if o.PollInterval <= 0 {
		o.PollInterval = base.PollInterval
	}
	if o.FFTSize <= 0 {
		o.FFTSize = base.FFTSize
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = base.MaxDuration
	}
	if base.DisableAutoStop {
		o.DisableAutoStop = true
	}
	return o
}

// OrDefaults fills every unset field from DefaultOptions.
func (o Options) OrDefaults() Options { return o.withDefaults(DefaultOptions()) }

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		SilenceThreshold: DefaultSilenceThreshold,
		SilenceDuration:  DefaultSilenceDuration,
		PollInterval:     DefaultPollInterval,
		FFTSize:          DefaultFFTSize,
	}
}
