package assistant

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"

	"github.com/ent0n29/verbalease/internal/audio"
	"github.com/ent0n29/verbalease/internal/capture"
)

func TestClassifyGenAI(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{"rate limited", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, "resource_exhausted", true},
		{"bad request", fmt.Errorf("wrapped: %w", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}), "invalid_argument", false},
		{"bare code", genai.APIError{Code: 503}, "503", true},
		{"deadline", context.DeadlineExceeded, "timeout", true},
		{"canceled", context.Canceled, "canceled", false},
		{"other", errors.New("boom"), "unknown", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyGenAI("gemini", "respond", tc.err)
			if got.Code != tc.code || got.Retryable != tc.retryable {
				t.Fatalf("classifyGenAI() = %s/%v, want %s/%v", got.Code, got.Retryable, tc.code, tc.retryable)
			}
			if got.Err == nil || errors.Unwrap(got) == nil {
				t.Fatalf("ProviderError lost its cause")
			}
			if isRetryable(got) != tc.retryable {
				t.Fatalf("isRetryable() = %v, want %v", isRetryable(got), tc.retryable)
			}
		})
	}
}

func TestGeminiAudioWrapsRawPCM(t *testing.T) {
	pcm := audio.PCM16ToBytes([]int16{1, 2, 3, 4})
	data, mimeType, err := geminiAudio(&capture.Artifact{MIMEType: "audio/L16;rate=16000", Data: pcm})
	if err != nil {
		t.Fatalf("geminiAudio() error = %v", err)
	}
	if mimeType != "audio/wav" {
		t.Fatalf("mime = %q, want audio/wav", mimeType)
	}
	gotPCM, rate, err := audio.ParseWAV(data)
	if err != nil || rate != 16000 || len(gotPCM) != len(pcm) {
		t.Fatalf("ParseWAV() = %d bytes @%d, err = %v", len(gotPCM), rate, err)
	}

	data, mimeType, err = geminiAudio(&capture.Artifact{MIMEType: "audio/webm;codecs=opus", Data: []byte{9}})
	if err != nil || mimeType != "audio/webm" || len(data) != 1 {
		t.Fatalf("geminiAudio(webm) = %q, %d bytes, %v", mimeType, len(data), err)
	}
}

func TestSpeechArtifactFromTTSResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "ignored"},
			{InlineData: &genai.Blob{MIMEType: "audio/L16;codec=pcm;rate=24000", Data: audio.PCM16ToBytes(make([]int16, 240))}},
		}},
	}}}
	blob := inlineAudio(resp)
	if blob == nil {
		t.Fatalf("inlineAudio() = nil")
	}
	art, err := speechArtifact(blob.MIMEType, blob.Data)
	if err != nil {
		t.Fatalf("speechArtifact() error = %v", err)
	}
	_, rate, err := audio.ParseWAV(art.Data)
	if art.MIMEType != "audio/wav" || err != nil || rate != 24000 {
		t.Fatalf("artifact = %s @%d, err = %v", art.MIMEType, rate, err)
	}
	if inlineAudio(&genai.GenerateContentResponse{}) != nil {
		t.Fatalf("inlineAudio(empty) != nil")
	}
}

func TestNewGeminiProviderRequiresKey(t *testing.T) {
	if _, err := NewGeminiProvider(context.Background(), GeminiConfig{}); err == nil {
		t.Fatalf("NewGeminiProvider() without key succeeded")
	}
}
