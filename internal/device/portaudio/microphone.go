// Package portaudio opens the host's default input device as a capture.Device.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/verbalease/internal/capture"
)

const (
	defaultSampleRate      = 16000
	defaultFramesPerBuffer = 1024
)

// Microphone is a capture.Device backed by the default PortAudio input.
type Microphone struct {
	SampleRate      int
	FramesPerBuffer int
}

func (m Microphone) rate() int {
	if m.SampleRate > 0 {
		return m.SampleRate
	}
	return defaultSampleRate
}

func (m Microphone) frames() int {
	if m.FramesPerBuffer > 0 {
		return m.FramesPerBuffer
	}
	return defaultFramesPerBuffer
}

func (m Microphone) Open(ctx context.Context, l capture.Listener) (capture.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrDeviceError, err)
	}
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: portaudio initialize: %w", capture.ErrDeviceError, err)
	}

	st := &stream{rate: m.rate()}
	raw, err := pa.OpenDefaultStream(1, 0, float64(st.rate), m.frames(), func(in []int16) {
		// PortAudio reuses the buffer between callbacks.
		frame := make([]int16, len(in))
		copy(frame, in)
		l.Frame(frame)
	})
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: open default input: %w", capture.ErrDeviceError, err)
	}
	if err := raw.Start(); err != nil {
		_ = raw.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("%w: start input stream: %w", capture.ErrDeviceError, err)
	}
	st.raw = raw
	log.Debug().Int("sample_rate", st.rate).Int("frames_per_buffer", m.frames()).Msg("microphone opened")
	return st, nil
}

type stream struct {
	rate int
	raw  *pa.Stream
	once sync.Once
	err  error
}

func (s *stream) SampleRate() int { return s.rate }

func (s *stream) Stop() error {
	s.once.Do(func() {
		if err := s.raw.Stop(); err != nil {
			s.err = fmt.Errorf("portaudio stop: %w", err)
		}
		if err := s.raw.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("portaudio close: %w", err)
		}
		if err := pa.Terminate(); err != nil && s.err == nil {
			s.err = fmt.Errorf("portaudio terminate: %w", err)
		}
	})
	return s.err
}
