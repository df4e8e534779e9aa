package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	AssistantProvider string            `json:"assistant_provider"`
	HistoryStoreMode  string            `json:"history_store_mode"`
	CaptureEncoder    string            `json:"capture_encoder"`
	Checks            []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]onboardingCheck, 0, 4)
	checks = append(checks, s.providerChecks()...)
	checks = append(checks, s.historyChecks()...)
	checks = append(checks, onboardingCheck{
		ID:     "capture_encoder",
		Status: "ok",
		Label:  "Capture encoder",
		Detail: fmt.Sprintf("%s, silence %.3f for %s", s.cfg.Encoder, s.captureDefaults.SilenceThreshold, s.captureDefaults.SilenceDuration),
	})

	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		AssistantProvider: s.providerName(),
		HistoryStoreMode:  s.storeMode(),
		CaptureEncoder:    s.cfg.Encoder,
		Checks:            checks,
	})
}

func (s *Server) providerChecks() []onboardingCheck {
	switch provider := s.providerName(); provider {
	case "gemini":
		return []onboardingCheck{{
			ID:     "assistant_provider",
			Status: "ok",
			Label:  "Assistant (Gemini)",
			Detail: "API key present",
		}}
	case "mock":
		fix := "Set GEMINI_API_KEY and ASSISTANT_PROVIDER=auto."
		if strings.TrimSpace(s.cfg.GeminiAPIKey) != "" {
			fix = "Unset ASSISTANT_PROVIDER=mock to use Gemini."
		}
		return []onboardingCheck{{
			ID:     "assistant_provider",
			Status: "warn",
			Label:  "Assistant (mock)",
			Detail: "Transcripts and replies are placeholders.",
			Fix:    fix,
		}}
	default:
		return []onboardingCheck{{
			ID:     "assistant_provider",
			Status: "error",
			Label:  "Assistant",
			Detail: provider,
		}}
	}
}

func (s *Server) historyChecks() []onboardingCheck {
	raw := strings.TrimSpace(s.cfg.DatabaseURL)
	if raw == "" {
		return []onboardingCheck{{
			ID:     "history_store",
			Status: "warn",
			Label:  "Chat history",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to persist history across restarts.",
		}}
	}
	if err := probeDatabase(raw); err != nil {
		return []onboardingCheck{{
			ID:     "history_store",
			Status: "error",
			Label:  "Chat history (postgres)",
			Detail: fmt.Sprintf("database not reachable: %v", err),
		}}
	}
	return []onboardingCheck{{
		ID:     "history_store",
		Status: "ok",
		Label:  "Chat history (postgres)",
		Detail: "reachable",
	}}
}

// probeDatabase checks that the database host accepts TCP connections.
func probeDatabase(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	host := strings.TrimSpace(u.Host)
	if host == "" {
		return fmt.Errorf("host missing")
	}
	addr := host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "5432")
	}
	c, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
	if err != nil {
		return err
	}
	return c.Close()
}
