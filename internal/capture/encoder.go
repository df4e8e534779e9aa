package capture

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ent0n29/verbalease/internal/audio"
)

// Encoder turns raw PCM frames into encoded chunks handed to the emit func given to
// its EncoderFactory. Close flushes the final chunk(s) and is called exactly once per cycle.
type Encoder interface {
	MIMEType() string
	Write(pcm []int16) error
	Close() error
}

// EncoderFactory opens an Encoder for a stream of the given sample rate.
type EncoderFactory func(sampleRate int, emit func(chunk []byte)) (Encoder, error)

const (
	EncoderWAV = "wav"
	EncoderPCM = "pcm"
)

// EncoderByName resolves a configured encoder name.
func EncoderByName(name string) (EncoderFactory, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncoderWAV:
		return NewWAVEncoder, nil
	case EncoderPCM:
		return NewPCMEncoder, nil
	default:
		return nil, fmt.Errorf("unknown encoder %q (expected wav|pcm)", name)
	}
}

// wavEncoder buffers the whole utterance and emits a single WAV chunk on Close,
// the way a recorder started without a timeslice delivers one blob on stop.
type wavEncoder struct {
	mu         sync.Mutex
	sampleRate int
	emit       func([]byte)
	pcm        []byte
	closed     bool
}

func NewWAVEncoder(sampleRate int, emit func([]byte)) (Encoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav encoder: invalid sample rate %d", sampleRate)
	}
	return &wavEncoder{sampleRate: sampleRate, emit: emit}, nil
}

func (e *wavEncoder) MIMEType() string { return "audio/wav" }

func (e *wavEncoder) Write(pcm []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("wav encoder: write after close")
	}
	e.pcm = append(e.pcm, audio.PCM16ToBytes(pcm)...)
	return nil
}

func (e *wavEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if len(e.pcm) == 0 {
		return nil
	}
	wav, err := audio.EncodeWAVPCM16LE(e.pcm, e.sampleRate)
	if err != nil {
		return fmt.Errorf("wav encoder: %w", err)
	}
	e.pcm = nil
	e.emit(wav)
	return nil
}

// pcmEncoder emits one raw PCM16LE chunk per frame.
type pcmEncoder struct {
	mu         sync.Mutex
	sampleRate int
	emit       func([]byte)
	closed     bool
}

func NewPCMEncoder(sampleRate int, emit func([]byte)) (Encoder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("pcm encoder: invalid sample rate %d", sampleRate)
	}
	return &pcmEncoder{sampleRate: sampleRate, emit: emit}, nil
}

func (e *pcmEncoder) MIMEType() string { return fmt.Sprintf("audio/L16;rate=%d", e.sampleRate) }

func (e *pcmEncoder) Write(pcm []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("pcm encoder: write after close")
	}
	if len(pcm) == 0 {
		return nil
	}
	e.emit(audio.PCM16ToBytes(pcm))
	return nil
}

func (e *pcmEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// sink is the per-cycle ordered chunk accumulator.
type sink struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

func (s *sink) add(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	s.size += len(chunk)
}

func (s *sink) concat() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, s.size)
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}
