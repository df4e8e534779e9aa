// Package remote implements a capture.Device whose microphone lives on the other end of
// a websocket: Open asks the client for the mic and waits for Grant or Deny, then Push
// forwards the client's PCM16 frames to the capture session.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ent0n29/verbalease/internal/capture"
)

var errOpenPending = errors.New("remote: microphone request already pending")

type answer struct {
	sampleRate int
	err        error
}

// Device is safe for concurrent use by the websocket reader and the capture session.
type Device struct {
	defaultRate int
	request     func()

	mu      sync.Mutex
	waiting chan answer
	live    *stream
}

// New returns a Device. request is invoked each time Open needs the client to start
// its microphone; it must not block.
func New(defaultSampleRate int, request func()) *Device {
	if defaultSampleRate <= 0 {
		defaultSampleRate = 16000
	}
	return &Device{defaultRate: defaultSampleRate, request: request}
}

func (d *Device) Open(ctx context.Context, l capture.Listener) (capture.Stream, error) {
	d.mu.Lock()
	if d.waiting != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", capture.ErrDeviceError, errOpenPending)
	}
	ch := make(chan answer, 1)
	d.waiting = ch
	d.mu.Unlock()

	if d.request != nil {
		d.request()
	}

	select {
	case <-ctx.Done():
		d.mu.Lock()
		if d.waiting == ch {
			d.waiting = nil
		}
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: no answer from client: %w", capture.ErrPermissionDenied, ctx.Err())
	case a := <-ch:
		if a.err != nil {
			return nil, a.err
		}
		st := &stream{device: d, rate: a.sampleRate, listener: l}
		d.mu.Lock()
		d.live = st
		d.mu.Unlock()
		return st, nil
	}
}

// Grant answers a pending Open. It reports false when nothing was waiting.
func (d *Device) Grant(sampleRate int) bool {
	if sampleRate <= 0 {
		sampleRate = d.defaultRate
	}
	return d.answer(answer{sampleRate: sampleRate})
}

// Deny refuses a pending Open with capture.ErrPermissionDenied.
func (d *Device) Deny(reason string) bool {
	err := capture.ErrPermissionDenied
	if reason != "" {
		err = fmt.Errorf("%w: %s", capture.ErrPermissionDenied, reason)
	}
	return d.answer(answer{err: err})
}

func (d *Device) answer(a answer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiting == nil {
		return false
	}
	d.waiting <- a
	d.waiting = nil
	return true
}

// Push forwards one client frame to the live stream; frames without one are dropped.
func (d *Device) Push(pcm []int16) bool {
	d.mu.Lock()
	st := d.live
	d.mu.Unlock()
	if st == nil {
		return false
	}
	st.listener.Frame(pcm)
	return true
}

// Lost reports that the client's microphone track ended on its own.
func (d *Device) Lost(err error) {
	d.mu.Lock()
	st := d.live
	d.live = nil
	d.mu.Unlock()
	if st != nil {
		st.listener.Ended(err)
	}
}

// Live reports whether a stream is currently open.
func (d *Device) Live() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live != nil
}

type stream struct {
	device   *Device
	rate     int
	listener capture.Listener
}

func (s *stream) SampleRate() int { return s.rate }

func (s *stream) Stop() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	if s.device.live == s {
		s.device.live = nil
	}
	return nil
}
