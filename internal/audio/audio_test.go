package audio

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := PCM16ToBytes([]int16{1, -1, 1200, -32768})
	wav, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != wavHeaderSize+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), wavHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected container markers: %q", wav[:44])
	}

	got, rate, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if rate != 24000 {
		t.Fatalf("rate = %d, want 24000", rate)
	}
	if string(got) != string(pcm) {
		t.Fatalf("ParseWAV() payload mismatch")
	}
}

func TestEncodeWAVDefaultsSampleRate(t *testing.T) {
	wav, err := EncodeWAVPCM16LE(nil, 0)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	_, rate, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV() error = %v", err)
	}
	if rate != DefaultSampleRate {
		t.Fatalf("rate = %d, want %d", rate, DefaultSampleRate)
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	if _, _, err := ParseWAV([]byte("definitely not a wav file, not even close to it......")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("ParseWAV() error = %v, want ErrNotWAV", err)
	}
}

func TestDecodeBase64PCM16(t *testing.T) {
	samples := []int16{0, 100, -100, 32767}
	encoded := base64.StdEncoding.EncodeToString(PCM16ToBytes(samples))
	got, err := DecodeBase64PCM16(encoded)
	if err != nil {
		t.Fatalf("DecodeBase64PCM16() error = %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("len = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample[%d] = %d, want %d", i, got[i], samples[i])
		}
	}

	if _, err := DecodeBase64PCM16(base64.StdEncoding.EncodeToString([]byte{1, 2, 3})); err == nil {
		t.Fatalf("DecodeBase64PCM16(odd) error = nil, want error")
	}
}

func TestL16Rate(t *testing.T) {
	cases := []struct {
		mime string
		rate int
		ok   bool
	}{
		{"audio/L16;codec=pcm;rate=24000", 24000, true},
		{"audio/L16;rate=16000", 16000, true},
		{"audio/pcm", 24000, true},
		{"audio/wav", 0, false},
		{"not a mime", 0, false},
	}
	for _, tc := range cases {
		rate, ok := L16Rate(tc.mime, 24000)
		if rate != tc.rate || ok != tc.ok {
			t.Fatalf("L16Rate(%q) = %d, %v; want %d, %v", tc.mime, rate, ok, tc.rate, tc.ok)
		}
	}
}
