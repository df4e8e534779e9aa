// Package assistant turns finished capture artifacts into spoken replies: it transcribes
// the utterance, answers it with the chat history as context, offers suggestions and
// synthesizes speech.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/verbalease/internal/capture"
)

var (
	// ErrNoHistory is returned by Suggest when the conversation has no turns yet.
	ErrNoHistory = errors.New("assistant: no conversation history")
	// ErrEmptyTranscript is returned when the utterance transcribes to nothing.
	ErrEmptyTranscript = errors.New("assistant: empty transcript")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, artifact *capture.Artifact) (string, error)
}

type Conversationalist interface {
	// Respond answers userInput; history holds the prior turns, oldest first.
	Respond(ctx context.Context, userInput string, history []Message) (string, error)
}

type Suggester interface {
	Suggest(ctx context.Context, userHistory string) (string, error)
}

type Synthesizer interface {
	// Synthesize returns the spoken text as a base64 audio data URI.
	Synthesize(ctx context.Context, text string) (string, error)
}

// Provider bundles every model capability the pipeline needs.
type Provider interface {
	Transcriber
	Conversationalist
	Suggester
	Synthesizer
	Name() string
}

// ProviderError describes a failed model call.
type ProviderError struct {
	Provider  string
	Op        string
	Code      string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed (%s): %v", e.Provider, e.Op, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

const (
	transcribePrompt  = "Transcribe the following audio input to text. Reply with the transcript only."
	systemInstruction = "You are a friendly and helpful AI assistant named VerbalEase. " +
		"Answer conversationally in a few short sentences, suitable for being read aloud."
	suggestPrompt = "Based on the following things the user has said, offer one concise, " +
		"personalized suggestion they might find useful. Reply with the suggestion only.\n\n"
	suggestionLead = "Here's a suggestion for you: "
)

// userHistory joins what the user said, one utterance per line.
func userHistory(history []Message) string {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		if m.Role == "user" && strings.TrimSpace(m.Content) != "" {
			lines = append(lines, m.Content)
		}
	}
	return strings.Join(lines, "\n")
}
