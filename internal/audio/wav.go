package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	numChannels   = 1
	formatPCM     = 1

	// DefaultSampleRate is used when callers pass a non-positive rate.
	DefaultSampleRate = 16000
)

// ErrNotWAV is returned by ParseWAV for payloads without a RIFF/WAVE PCM16 header.
var ErrNotWAV = errors.New("audio: not a PCM16 WAV payload")

// wavHeader mirrors the canonical 44-byte RIFF header for mono PCM16.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newWAVHeader(dataSize, sampleRate int) wavHeader {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   formatPCM,
		Channels:      numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * numChannels * bitsPerSample / 8),
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	w := bufio.NewWriter(out)
	if err := binary.Write(w, binary.LittleEndian, newWAVHeader(len(pcm), sampleRate)); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// ParseWAV returns the PCM payload and sample rate of a mono PCM16 WAV produced by
// EncodeWAVPCM16LE.
func ParseWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < wavHeaderSize {
		return nil, 0, ErrNotWAV
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(data[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, 0, err
	}
	if string(h.RIFF[:]) != "RIFF" || string(h.WAVE[:]) != "WAVE" || string(h.Data[:]) != "data" ||
		h.AudioFormat != formatPCM || h.BitsPerSample != bitsPerSample {
		return nil, 0, ErrNotWAV
	}
	end := wavHeaderSize + int(h.DataSize)
	if end > len(data) {
		end = len(data)
	}
	return data[wavHeaderSize:end], int(h.SampleRate), nil
}
