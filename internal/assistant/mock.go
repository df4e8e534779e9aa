package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/verbalease/internal/audio"
	"github.com/ent0n29/verbalease/internal/capture"
)

// MockProvider is a local fallback used when no Gemini key is configured. It never
// leaves the process: transcripts are canned and speech is silence sized to the text.
type MockProvider struct {
	Transcript string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Transcript: "simulated voice input"}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Transcribe(_ context.Context, artifact *capture.Artifact) (string, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		return "", capture.ErrEmptyCapture
	}
	return p.Transcript, nil
}

func (p *MockProvider) Respond(_ context.Context, userInput string, history []Message) (string, error) {
	return fmt.Sprintf("You said %q. That makes %d turns so far.", strings.TrimSpace(userInput), len(history)+1), nil
}

func (p *MockProvider) Suggest(_ context.Context, history string) (string, error) {
	if strings.TrimSpace(history) == "" {
		return "", ErrNoHistory
	}
	return "take a short break and stretch", nil
}

// Synthesize returns 40 ms of silence per word.
func (p *MockProvider) Synthesize(_ context.Context, text string) (string, error) {
	words := len(strings.Fields(text))
	samples := make([]int16, words*audio.DefaultSampleRate/25)
	wav, err := audio.EncodeWAVPCM16LE(audio.PCM16ToBytes(samples), audio.DefaultSampleRate)
	if err != nil {
		return "", err
	}
	return (&capture.Artifact{MIMEType: "audio/wav", Data: wav}).DataURI(), nil
}
