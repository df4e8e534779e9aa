// Package protocol defines the JSON messages exchanged over the voice websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"

	TypeMicRequest     MessageType = "mic_request"
	TypeCaptureState   MessageType = "capture_state"
	TypeCaptureResult  MessageType = "capture_result"
	TypeTranscript     MessageType = "transcript"
	TypeAssistantText  MessageType = "assistant_text"
	TypeAssistantAudio MessageType = "assistant_audio"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

// Control actions a client may send.
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionMicReady  = "mic_ready"
	ActionMicDenied = "mic_denied"
	ActionMicLost   = "mic_lost"
	ActionSuggest   = "suggest"
)

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported control action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	// SampleRate accompanies mic_ready.
	SampleRate int    `json:"sample_rate,omitempty"`
	Detail     string `json:"detail,omitempty"`
	// Per-utterance overrides accepted with start.
	SilenceThreshold  float64 `json:"silence_threshold,omitempty"`
	SilenceDurationMS int64   `json:"silence_duration_ms,omitempty"`
	DisableAutoStop   bool    `json:"disable_auto_stop,omitempty"`
	TSMs              int64   `json:"ts_ms,omitempty"`
}

type MicRequest struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	SampleRate int         `json:"sample_rate"`
}

type CaptureState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
}

type CaptureResult struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Reason     string      `json:"reason"`
	MIMEType   string      `json:"mime_type,omitempty"`
	Bytes      int         `json:"bytes"`
	DurationMS int64       `json:"duration_ms"`
}

type Transcript struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Text      string      `json:"text"`
}

type AssistantText struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TurnID     string      `json:"turn_id"`
	Text       string      `json:"text"`
	Suggestion bool        `json:"suggestion,omitempty"`
}

type AssistantAudio struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	// Audio is a base64 data URI.
	Audio string `json:"audio"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStart, ActionStop, ActionMicReady, ActionMicDenied, ActionMicLost, ActionSuggest:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
		}
		if msg.SilenceThreshold < 0 || msg.SilenceThreshold > 1 || msg.SilenceDurationMS < 0 {
			return nil, errors.New("invalid client_control: silence override out of range")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
