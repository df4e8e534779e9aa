package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/verbalease/internal/capture"
)

type recordingListener struct {
	mu     sync.Mutex
	frames int
	ended  error
	gotEnd bool
}

func (l *recordingListener) Frame([]int16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames++
}

func (l *recordingListener) Ended(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = err
	l.gotEnd = true
}

func TestOpenWaitsForGrant(t *testing.T) {
	requested := make(chan struct{}, 1)
	d := New(16000, func() { requested <- struct{}{} })
	l := &recordingListener{}

	type openResult struct {
		st  capture.Stream
		err error
	}
	done := make(chan openResult, 1)
	go func() {
		st, err := d.Open(context.Background(), l)
		done <- openResult{st, err}
	}()

	select {
	case <-requested:
	case <-time.After(time.Second):
		t.Fatalf("mic request not sent")
	}
	if !d.Grant(48000) {
		t.Fatalf("Grant() = false, want true")
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("Open() error = %v", res.err)
	}
	if res.st.SampleRate() != 48000 {
		t.Fatalf("SampleRate() = %d, want 48000", res.st.SampleRate())
	}

	if !d.Push([]int16{1, 2, 3}) {
		t.Fatalf("Push() = false, want true while live")
	}
	if err := res.st.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if d.Push([]int16{1}) {
		t.Fatalf("Push() after Stop = true, want false")
	}
	if l.frames != 1 {
		t.Fatalf("frames = %d, want 1", l.frames)
	}
}

func TestOpenDenied(t *testing.T) {
	var d *Device
	d = New(0, func() { go d.Deny("user dismissed prompt") })

	_, err := d.Open(context.Background(), &recordingListener{})
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("Open() error = %v, want ErrPermissionDenied", err)
	}
	if d.Grant(16000) {
		t.Fatalf("Grant() with nothing pending = true, want false")
	}
}

func TestOpenHonorsContext(t *testing.T) {
	d := New(16000, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Open(ctx, &recordingListener{})
	if !errors.Is(err, capture.ErrPermissionDenied) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Open() error = %v, want permission denied wrapping deadline", err)
	}
	if d.Grant(16000) {
		t.Fatalf("Grant() after timeout = true, want false")
	}
}

func TestLostEndsLiveStream(t *testing.T) {
	var d *Device
	d = New(16000, func() { go d.Grant(0) })
	l := &recordingListener{}
	st, err := d.Open(context.Background(), l)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if st.SampleRate() != 16000 {
		t.Fatalf("SampleRate() = %d, want default 16000", st.SampleRate())
	}

	lost := errors.New("track ended")
	d.Lost(lost)
	if !l.gotEnd || !errors.Is(l.ended, lost) {
		t.Fatalf("Ended not delivered: %+v", l)
	}
	if d.Live() {
		t.Fatalf("Live() = true after Lost")
	}
}

func TestRemoteDeviceDrivesCaptureSession(t *testing.T) {
	var d *Device
	d = New(16000, func() { go d.Grant(16000) })
	s := capture.NewSession(capture.Config{Device: d})
	defer s.Close()

	results, err := s.Start(context.Background(), capture.Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	d.Push([]int16{2000, -2000, 2000, -2000})
	s.Stop()

	select {
	case res := <-results:
		if res.Err != nil || res.Artifact == nil {
			t.Fatalf("result = %+v, want artifact", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
	}
	if d.Live() {
		t.Fatalf("Live() = true after session stop")
	}
}
