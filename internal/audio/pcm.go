// Package audio holds PCM16 sample helpers and the WAV container writer.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// PCM16ToBytes serializes samples as little-endian PCM16.
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToPCM16 decodes little-endian PCM16. A trailing odd byte is dropped.
func BytesToPCM16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// DecodeBase64PCM16 decodes a base64 PCM16LE chunk as sent by browser clients.
func DecodeBase64PCM16(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode pcm16 base64: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("decode pcm16 base64: odd byte length %d", len(raw))
	}
	return BytesToPCM16(raw), nil
}

// L16Rate reports whether mimeType names raw linear PCM16 (audio/L16 or audio/pcm) and
// returns its rate parameter, or fallback when the parameter is absent.
func L16Rate(mimeType string, fallback int) (int, bool) {
	media, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(media) {
	case "audio/l16", "audio/pcm":
	default:
		return 0, false
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return fallback, true
	}
	return rate, true
}
