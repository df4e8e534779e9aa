package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/verbalease/internal/capture"
	"github.com/ent0n29/verbalease/internal/memory"
	"github.com/ent0n29/verbalease/internal/observability"
	"github.com/ent0n29/verbalease/internal/policy"
)

const defaultHistoryLimit = 20

type PipelineConfig struct {
	Provider     Provider
	Store        memory.Store
	HistoryLimit int
	Metrics      *observability.Metrics
}

// Turn is the outcome of one spoken exchange or suggestion.
type Turn struct {
	ID           string   `json:"id"`
	SessionID    string   `json:"session_id"`
	UserText     string   `json:"user_text,omitempty"`
	ReplyText    string   `json:"reply_text"`
	SpeechText   string   `json:"speech_text"`
	AudioDataURI string   `json:"audio,omitempty"`
	Blocked      bool     `json:"blocked,omitempty"`
	Redacted     []string `json:"redacted,omitempty"`
}

// Progress is told about each intermediate result as the turn advances. stage is one
// of the observability stage names.
type Progress func(turnID, stage, text string)

// Pipeline runs transcribe, respond and synthesize for a conversation session and keeps
// its chat history.
type Pipeline struct {
	provider     Provider
	store        memory.Store
	historyLimit int
	metrics      *observability.Metrics
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Store == nil {
		cfg.Store = memory.NewInMemoryStore()
	}
	return &Pipeline{
		provider:     cfg.Provider,
		store:        cfg.Store,
		historyLimit: cfg.HistoryLimit,
		metrics:      cfg.Metrics,
	}
}

func (p *Pipeline) ProviderName() string { return p.provider.Name() }

// HandleTurn answers one captured utterance.
func (p *Pipeline) HandleTurn(ctx context.Context, sessionID string, artifact *capture.Artifact, progress Progress) (Turn, error) {
	started := time.Now()
	turn := Turn{ID: uuid.NewString(), SessionID: sessionID}

	var userText string
	err := p.stage(ctx, observability.StageTranscribe, func(ctx context.Context) (err error) {
		userText, err = p.provider.Transcribe(ctx, artifact)
		return err
	})
	if err != nil {
		return turn, fmt.Errorf("transcribe: %w", err)
	}
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return turn, ErrEmptyTranscript
	}
	turn.UserText = userText
	notify(progress, turn.ID, observability.StageTranscribe, userText)

	prior, err := p.History(ctx, sessionID)
	if err != nil {
		return turn, err
	}
	if err := p.save(ctx, sessionID, memory.RoleUser, userText, &turn); err != nil {
		return turn, err
	}

	var reply string
	if decision := policy.Screen(userText); decision.Blocked {
		turn.Blocked = true
		reply = policy.RefusalText
		log.Info().Str("session_id", sessionID).Str("reason", decision.Reason).Msg("utterance blocked")
	} else {
		err = p.stage(ctx, observability.StageRespond, func(ctx context.Context) (err error) {
			reply, err = p.provider.Respond(ctx, userText, prior)
			return err
		})
		if err != nil {
			return turn, fmt.Errorf("respond: %w", err)
		}
	}
	turn.ReplyText = strings.TrimSpace(reply)
	notify(progress, turn.ID, observability.StageRespond, turn.ReplyText)

	if err := p.save(ctx, sessionID, memory.RoleAssistant, turn.ReplyText, &turn); err != nil {
		return turn, err
	}
	if err := p.speak(ctx, &turn); err != nil {
		return turn, err
	}
	p.metrics.ObserveStage(observability.StageTurnTotal, time.Since(started))
	return turn, nil
}

// Suggest offers a personalized suggestion drawn from what the user has said so far.
func (p *Pipeline) Suggest(ctx context.Context, sessionID string) (Turn, error) {
	turn := Turn{ID: uuid.NewString(), SessionID: sessionID}
	history, err := p.History(ctx, sessionID)
	if err != nil {
		return turn, err
	}
	said := userHistory(history)
	if said == "" {
		return turn, ErrNoHistory
	}

	var suggestion string
	err = p.stage(ctx, observability.StageSuggest, func(ctx context.Context) (err error) {
		suggestion, err = p.provider.Suggest(ctx, said)
		return err
	})
	if err != nil {
		return turn, fmt.Errorf("suggest: %w", err)
	}
	turn.ReplyText = suggestionLead + strings.TrimSpace(suggestion)
	if err := p.save(ctx, sessionID, memory.RoleAssistant, turn.ReplyText, &turn); err != nil {
		return turn, err
	}
	if err := p.speak(ctx, &turn); err != nil {
		return turn, err
	}
	return turn, nil
}

// History returns the session's recent chat, oldest first.
func (p *Pipeline) History(ctx context.Context, sessionID string) ([]Message, error) {
	records, err := p.store.History(ctx, sessionID, p.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]Message, 0, len(records))
	for _, r := range records {
		out = append(out, Message{Role: r.Role, Content: r.Content})
	}
	return out, nil
}

func (p *Pipeline) speak(ctx context.Context, turn *Turn) error {
	turn.SpeechText = SpeechText(turn.ReplyText)
	if turn.SpeechText == "" {
		return nil
	}
	return p.stage(ctx, observability.StageSynthesize, func(ctx context.Context) (err error) {
		turn.AudioDataURI, err = p.provider.Synthesize(ctx, turn.SpeechText)
		if err != nil {
			return fmt.Errorf("synthesize: %w", err)
		}
		return nil
	})
}

func (p *Pipeline) save(ctx context.Context, sessionID, role, content string, turn *Turn) error {
	redacted, kinds := policy.RedactPII(content)
	turn.Redacted = append(turn.Redacted, kinds...)
	err := p.store.SaveTurn(ctx, memory.TurnRecord{
		SessionID:   sessionID,
		Role:        role,
		Content:     redacted,
		PIIRedacted: len(kinds) > 0,
	})
	if err != nil {
		return fmt.Errorf("save %s turn: %w", role, err)
	}
	return nil
}

// stage times fn and counts its provider failures.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	started := time.Now()
	err := fn(ctx)
	p.metrics.ObserveStage(name, time.Since(started))
	var perr *ProviderError
	if errors.As(err, &perr) {
		p.metrics.ObserveProviderError(perr.Provider, perr.Op, perr.Code)
	}
	return err
}

func notify(progress Progress, turnID, stage, text string) {
	if progress != nil {
		progress(turnID, stage, text)
	}
}
