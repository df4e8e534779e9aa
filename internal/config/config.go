// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice assistant service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	LogLevel                 string
	LogFormat                string

	SilenceThreshold  float64
	SilenceDuration   time.Duration
	PollInterval      time.Duration
	FFTSize           int
	MaxDuration       time.Duration
	Encoder           string
	SampleRate        int
	PermissionTimeout time.Duration

	AssistantProvider string
	GeminiAPIKey      string
	GeminiModel       string
	GeminiTTSModel    string
	GeminiTTSVoice    string
	HistoryLimit      int
	RetryMax          int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "verbalease"),
		LogLevel:                 strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,

		SilenceThreshold:  0.01,
		SilenceDuration:   1500 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
		FFTSize:           2048,
		MaxDuration:       60 * time.Second,
		Encoder:           strings.ToLower(envOrDefault("CAPTURE_ENCODER", "wav")),
		SampleRate:        16000,
		PermissionTimeout: 30 * time.Second,

		AssistantProvider: strings.ToLower(envOrDefault("ASSISTANT_PROVIDER", "auto")),
		GeminiAPIKey:      trimmedEnv("GEMINI_API_KEY"),
		GeminiModel:       envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiTTSModel:    envOrDefault("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		GeminiTTSVoice:    envOrDefault("GEMINI_TTS_VOICE", "Kore"),
		HistoryLimit:      20,
		RetryMax:          2,

		DatabaseURL: trimmedEnv("DATABASE_URL"),
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"CAPTURE_SILENCE_DURATION", &cfg.SilenceDuration},
		{"CAPTURE_POLL_INTERVAL", &cfg.PollInterval},
		{"CAPTURE_MAX_DURATION", &cfg.MaxDuration},
		{"CAPTURE_PERMISSION_TIMEOUT", &cfg.PermissionTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = durationFromEnv(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	ints := []struct {
		key string
		dst *int
	}{
		{"CAPTURE_FFT_SIZE", &cfg.FFTSize},
		{"CAPTURE_SAMPLE_RATE", &cfg.SampleRate},
		{"ASSISTANT_HISTORY_LIMIT", &cfg.HistoryLimit},
		{"ASSISTANT_RETRY_MAX", &cfg.RetryMax},
	}
	for _, n := range ints {
		if *n.dst, err = intFromEnv(n.key, *n.dst); err != nil {
			return Config{}, err
		}
	}
	if cfg.SilenceThreshold, err = floatFromEnv("CAPTURE_SILENCE_THRESHOLD", cfg.SilenceThreshold); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.SessionInactivityTimeout < 5*time.Second:
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	case c.SilenceThreshold <= 0 || c.SilenceThreshold >= 1:
		return fmt.Errorf("CAPTURE_SILENCE_THRESHOLD must be in (0,1)")
	case c.SilenceDuration <= 0:
		return fmt.Errorf("CAPTURE_SILENCE_DURATION must be positive")
	case c.PollInterval <= 0 || c.PollInterval > c.SilenceDuration:
		return fmt.Errorf("CAPTURE_POLL_INTERVAL must be positive and not exceed CAPTURE_SILENCE_DURATION")
	case c.FFTSize < 32 || c.FFTSize&(c.FFTSize-1) != 0:
		return fmt.Errorf("CAPTURE_FFT_SIZE must be a power of two >= 32")
	case c.MaxDuration < 0:
		return fmt.Errorf("CAPTURE_MAX_DURATION must be >= 0")
	case c.SampleRate < 8000:
		return fmt.Errorf("CAPTURE_SAMPLE_RATE must be at least 8000")
	case c.PermissionTimeout <= 0:
		return fmt.Errorf("CAPTURE_PERMISSION_TIMEOUT must be positive")
	case c.HistoryLimit <= 0:
		return fmt.Errorf("ASSISTANT_HISTORY_LIMIT must be positive")
	case c.RetryMax < 0:
		return fmt.Errorf("ASSISTANT_RETRY_MAX must be >= 0")
	}
	switch c.Encoder {
	case "wav", "pcm":
	default:
		return fmt.Errorf("CAPTURE_ENCODER must be wav or pcm, got %q", c.Encoder)
	}
	switch c.AssistantProvider {
	case "auto", "mock":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("ASSISTANT_PROVIDER=gemini requires GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("ASSISTANT_PROVIDER must be auto, gemini or mock, got %q", c.AssistantProvider)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
