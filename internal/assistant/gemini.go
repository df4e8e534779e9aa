package assistant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/ent0n29/verbalease/internal/audio"
	"github.com/ent0n29/verbalease/internal/capture"
	"github.com/ent0n29/verbalease/internal/reliability"
)

const (
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultGeminiTTSModel = "gemini-2.5-flash-preview-tts"
	defaultGeminiVoice    = "Kore"
	geminiTTSSampleRate   = 24000
)

type GeminiConfig struct {
	APIKey     string
	Model      string
	TTSModel   string
	Voice      string
	MaxRetries int
}

// GeminiProvider implements Provider on the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	cfg    GeminiConfig
	retry  reliability.Policy
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = defaultGeminiTTSModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultGeminiVoice
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &GeminiProvider{
		client: client,
		cfg:    cfg,
		retry: reliability.Policy{
			MaxAttempts: cfg.MaxRetries + 1,
			Base:        250 * time.Millisecond,
			Cap:         2 * time.Second,
			Retryable:   isRetryable,
		},
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Transcribe(ctx context.Context, artifact *capture.Artifact) (string, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		return "", capture.ErrEmptyCapture
	}
	data, mimeType, err := geminiAudio(artifact)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Op: "transcribe", Code: "bad_audio", Err: err}
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(transcribePrompt),
		genai.NewPartFromBytes(data, mimeType),
	}, genai.RoleUser)}
	resp, err := p.generate(ctx, "transcribe", p.cfg.Model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *GeminiProvider) Respond(ctx context.Context, userInput string, history []Message) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(userInput, genai.RoleUser))

	resp, err := p.generate(ctx, "respond", p.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.7),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *GeminiProvider) Suggest(ctx context.Context, history string) (string, error) {
	if strings.TrimSpace(history) == "" {
		return "", ErrNoHistory
	}
	contents := []*genai.Content{genai.NewContentFromText(suggestPrompt+history, genai.RoleUser)}
	resp, err := p.generate(ctx, "suggest", p.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.9),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *GeminiProvider) Synthesize(ctx context.Context, text string) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := p.generate(ctx, "synthesize", p.cfg.TTSModel, contents, &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: p.cfg.Voice},
			},
		},
	})
	if err != nil {
		return "", err
	}
	blob := inlineAudio(resp)
	if blob == nil {
		return "", &ProviderError{Provider: p.Name(), Op: "synthesize", Code: "no_audio", Err: errors.New("response carried no audio")}
	}
	speech, err := speechArtifact(blob.MIMEType, blob.Data)
	if err != nil {
		return "", &ProviderError{Provider: p.Name(), Op: "synthesize", Code: "bad_audio", Err: err}
	}
	return speech.DataURI(), nil
}

func (p *GeminiProvider) generate(ctx context.Context, op, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	attempt := 0
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		r, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			perr := classifyGenAI(p.Name(), op, err)
			log.Warn().Err(err).Str("op", op).Str("model", model).Int("attempt", attempt).
				Bool("retryable", perr.Retryable).Msg("gemini call failed")
			return perr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func isRetryable(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.Retryable
}

// classifyGenAI maps a genai failure to a ProviderError with a stable code.
func classifyGenAI(provider, op string, err error) *ProviderError {
	perr := &ProviderError{Provider: provider, Op: op, Code: "unknown", Err: err}
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	case errors.Is(err, context.DeadlineExceeded):
		perr.Code = "timeout"
		perr.Retryable = true
		return perr
	case errors.Is(err, context.Canceled):
		perr.Code = "canceled"
		return perr
	default:
		return perr
	}
	perr.Code = strconv.Itoa(apiErr.Code)
	if apiErr.Status != "" {
		perr.Code = strings.ToLower(apiErr.Status)
	}
	perr.Retryable = reliability.IsRetryableHTTPStatus(apiErr.Code) || reliability.IsRetryableStatus(apiErr.Status)
	return perr
}

// geminiAudio prepares a capture artifact for inline upload. Raw PCM is wrapped in
// WAV because the API does not accept bare L16.
func geminiAudio(a *capture.Artifact) ([]byte, string, error) {
	rate, raw := audio.L16Rate(a.MIMEType, audio.DefaultSampleRate)
	if !raw {
		mediaType, _, _ := strings.Cut(a.MIMEType, ";")
		return a.Data, strings.TrimSpace(mediaType), nil
	}
	wav, err := audio.EncodeWAVPCM16LE(a.Data, rate)
	if err != nil {
		return nil, "", err
	}
	return wav, "audio/wav", nil
}

func inlineAudio(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}

// speechArtifact wraps synthesized audio as a playable artifact; PCM16 is boxed in WAV.
func speechArtifact(mimeType string, data []byte) (*capture.Artifact, error) {
	rate, raw := audio.L16Rate(mimeType, geminiTTSSampleRate)
	if !raw {
		if mimeType == "" {
			mimeType = "audio/wav"
		}
		return &capture.Artifact{MIMEType: mimeType, Data: data}, nil
	}
	wav, err := audio.EncodeWAVPCM16LE(data, rate)
	if err != nil {
		return nil, err
	}
	return &capture.Artifact{MIMEType: "audio/wav", Data: wav}, nil
}
