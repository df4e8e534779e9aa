// Package httpapi exposes the REST endpoints and the voice websocket gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/verbalease/internal/assistant"
	"github.com/ent0n29/verbalease/internal/capture"
	"github.com/ent0n29/verbalease/internal/config"
	"github.com/ent0n29/verbalease/internal/observability"
	"github.com/ent0n29/verbalease/internal/session"
)

// Assistant answers captured utterances and suggestion requests for a session.
type Assistant interface {
	HandleTurn(ctx context.Context, sessionID string, artifact *capture.Artifact, progress assistant.Progress) (assistant.Turn, error)
	Suggest(ctx context.Context, sessionID string) (assistant.Turn, error)
	History(ctx context.Context, sessionID string) ([]assistant.Message, error)
	ProviderName() string
}

type Server struct {
	cfg       config.Config
	sessions  *session.Manager
	assistant Assistant
	metrics   *observability.Metrics
	upgrader  websocket.Upgrader

	captureDefaults capture.Options
	encoder         capture.EncoderFactory

	mu    sync.Mutex
	conns map[string]*voiceConn
}

func New(cfg config.Config, sessions *session.Manager, asst Assistant, metrics *observability.Metrics) *Server {
	encoder, err := capture.EncoderByName(cfg.Encoder)
	if err != nil {
		log.Warn().Err(err).Msg("unknown capture encoder, using wav")
		encoder = capture.NewWAVEncoder
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		assistant: asst,
		metrics:   metrics,
		encoder:   encoder,
		captureDefaults: capture.Options{
			SilenceThreshold: cfg.SilenceThreshold,
			SilenceDuration:  cfg.SilenceDuration,
			PollInterval:     cfg.PollInterval,
			FFTSize:          cfg.FFTSize,
			MaxDuration:      cfg.MaxDuration,
		}.OrDefaults(),
		conns: make(map[string]*voiceConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session's microphone.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Post("/v1/voice/session/{id}/end", s.handleEndSession)
	r.Get("/v1/voice/session/{id}/history", s.handleHistory)
	r.Post("/v1/voice/session/{id}/suggestion", s.handleSuggestion)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Get("/v1/capture/settings", s.handleCaptureSettings)
	r.Get("/v1/onboarding/status", s.handleOnboardingStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"assistant_provider": s.providerName(),
		"history_store_mode": s.storeMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.assistant == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "assistant not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"assistant_provider": s.providerName(),
		"history_store_mode": s.storeMode(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
		WebSocketPath:   "/v1/voice/session/ws?session_id=" + url.QueryEscape(sess.ID),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.CloseSession(id)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if s.assistant == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "assistant not configured")
		return
	}
	messages, err := s.assistant.History(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if messages == nil {
		messages = []assistant.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "messages": messages})
}

func (s *Server) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if _, err := s.sessions.Active(id); err != nil {
		status := http.StatusNotFound
		if errors.Is(err, session.ErrEnded) {
			status = http.StatusConflict
		}
		respondError(w, status, "session_unavailable", err.Error())
		return
	}
	if s.assistant == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "assistant not configured")
		return
	}
	turn, err := s.assistant.Suggest(r.Context(), id)
	if err != nil {
		code, retryable := errorCode(err)
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, assistant.ErrNoHistory):
			status = http.StatusConflict
		case !retryable && code == "internal":
			status = http.StatusInternalServerError
		}
		respondError(w, status, code, err.Error())
		return
	}
	_ = s.sessions.CompleteSuggestion(id)
	respondJSON(w, http.StatusOK, turn)
}

type captureSettingsResponse struct {
	SilenceThreshold  float64 `json:"silence_threshold"`
	SilenceDurationMS int64   `json:"silence_duration_ms"`
	PollIntervalMS    int64   `json:"poll_interval_ms"`
	FFTSize           int     `json:"fft_size"`
	MaxDurationMS     int64   `json:"max_duration_ms"`
	SampleRate        int     `json:"sample_rate"`
	Encoder           string  `json:"encoder"`
}

func (s *Server) handleCaptureSettings(w http.ResponseWriter, _ *http.Request) {
	d := s.captureDefaults
	respondJSON(w, http.StatusOK, captureSettingsResponse{
		SilenceThreshold:  d.SilenceThreshold,
		SilenceDurationMS: d.SilenceDuration.Milliseconds(),
		PollIntervalMS:    d.PollInterval.Milliseconds(),
		FFTSize:           d.FFTSize,
		MaxDurationMS:     d.MaxDuration.Milliseconds(),
		SampleRate:        s.sampleRate(),
		Encoder:           s.cfg.Encoder,
	})
}

// CloseSession tears down the session's live websocket, if any.
func (s *Server) CloseSession(sessionID string) {
	s.mu.Lock()
	c := s.conns[sessionID]
	s.mu.Unlock()
	if c != nil {
		c.shutdown()
	}
}

func (s *Server) providerName() string {
	if s.assistant == nil {
		return "none"
	}
	return s.assistant.ProviderName()
}

func (s *Server) storeMode() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

func (s *Server) sampleRate() int {
	if s.cfg.SampleRate > 0 {
		return s.cfg.SampleRate
	}
	return 16000
}

func (s *Server) permissionTimeout() time.Duration {
	if s.cfg.PermissionTimeout > 0 {
		return s.cfg.PermissionTimeout
	}
	return 30 * time.Second
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// errorCode maps pipeline and capture failures to stable wire codes.
func errorCode(err error) (code string, retryable bool) {
	var perr *assistant.ProviderError
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "mic_permission_denied", false
	case errors.Is(err, capture.ErrDeviceLost):
		return "mic_lost", true
	case errors.Is(err, capture.ErrDeviceError):
		return "mic_device_error", true
	case errors.Is(err, capture.ErrStartInProgress):
		return "capture_start_in_progress", true
	case errors.Is(err, capture.ErrClosed):
		return "capture_closed", false
	case errors.Is(err, capture.ErrEmptyCapture):
		return "empty_capture", true
	case errors.Is(err, assistant.ErrEmptyTranscript):
		return "empty_transcript", true
	case errors.Is(err, assistant.ErrNoHistory):
		return "no_history", false
	case errors.As(err, &perr):
		return "provider_" + perr.Code, perr.Retryable
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	default:
		return "internal", false
	}
}
