package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SilenceThreshold != 0.01 {
		t.Fatalf("SilenceThreshold = %v, want 0.01", cfg.SilenceThreshold)
	}
	if cfg.SilenceDuration != 1500*time.Millisecond {
		t.Fatalf("SilenceDuration = %v, want 1.5s", cfg.SilenceDuration)
	}
	if cfg.PollInterval != 20*time.Millisecond || cfg.FFTSize != 2048 {
		t.Fatalf("PollInterval/FFTSize = %v/%d, want 20ms/2048", cfg.PollInterval, cfg.FFTSize)
	}
	if cfg.Encoder != "wav" || cfg.AssistantProvider != "auto" {
		t.Fatalf("Encoder/Provider = %q/%q, want wav/auto", cfg.Encoder, cfg.AssistantProvider)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", " :9191 ")
	t.Setenv("CAPTURE_SILENCE_THRESHOLD", "0.05")
	t.Setenv("CAPTURE_SILENCE_DURATION", "1s")
	t.Setenv("CAPTURE_ENCODER", "PCM")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("ASSISTANT_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want trimmed value", cfg.BindAddr)
	}
	if cfg.SilenceThreshold != 0.05 || cfg.SilenceDuration != time.Second {
		t.Fatalf("silence = %v/%v, want 0.05/1s", cfg.SilenceThreshold, cfg.SilenceDuration)
	}
	if cfg.Encoder != "pcm" || !cfg.AllowAnyOrigin || cfg.AssistantProvider != "gemini" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{"CAPTURE_SILENCE_THRESHOLD", "1.5", "CAPTURE_SILENCE_THRESHOLD"},
		{"CAPTURE_SILENCE_THRESHOLD", "loud", "parse error"},
		{"CAPTURE_FFT_SIZE", "1000", "CAPTURE_FFT_SIZE"},
		{"CAPTURE_POLL_INTERVAL", "5s", "CAPTURE_POLL_INTERVAL"},
		{"CAPTURE_ENCODER", "mp3", "CAPTURE_ENCODER"},
		{"ASSISTANT_PROVIDER", "gemini", "GEMINI_API_KEY"},
		{"APP_LOG_FORMAT", "xml", "APP_LOG_FORMAT"},
		{"APP_SESSION_INACTIVITY_TIMEOUT", "1s", "APP_SESSION_INACTIVITY_TIMEOUT"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"CAPTURE_SILENCE_THRESHOLD",
		"CAPTURE_SILENCE_DURATION",
		"CAPTURE_POLL_INTERVAL",
		"CAPTURE_FFT_SIZE",
		"CAPTURE_MAX_DURATION",
		"CAPTURE_ENCODER",
		"CAPTURE_SAMPLE_RATE",
		"CAPTURE_PERMISSION_TIMEOUT",
		"ASSISTANT_PROVIDER",
		"GEMINI_API_KEY",
		"GEMINI_MODEL",
		"GEMINI_TTS_MODEL",
		"GEMINI_TTS_VOICE",
		"ASSISTANT_HISTORY_LIMIT",
		"ASSISTANT_RETRY_MAX",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
