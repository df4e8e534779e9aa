package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/verbalease/internal/app"
	"github.com/ent0n29/verbalease/internal/audio"
	"github.com/ent0n29/verbalease/internal/config"
)

func TestChunkPCMAlignsToSamples(t *testing.T) {
	pcm := make([]byte, 16000*2/10+1) // 100ms plus a stray byte
	chunks := chunkPCM(pcm, 16000, 40)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if len(c)%2 != 0 {
			t.Fatalf("chunk of %d bytes is not sample aligned", len(c))
		}
		total += len(c)
	}
	if total != 3200 {
		t.Fatalf("total = %d, want 3200", total)
	}
}

func TestToneClipIsAudible(t *testing.T) {
	clip := toneClip(16000, 440, 100*time.Millisecond, 0.3)
	samples := audio.BytesToPCM16(clip.pcm16LE)
	if len(samples) != 1600 {
		t.Fatalf("samples = %d, want 1600", len(samples))
	}
	var sum float64
	for _, s := range samples {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}
	if level := sum / float64(len(samples)) / 32768; level < 0.1 {
		t.Fatalf("level = %v, want >= 0.1", level)
	}
}

func TestLoadClipsReadsWAV(t *testing.T) {
	wav, err := audio.EncodeWAVPCM16LE([]byte{1, 0, 2, 0}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	clips, err := loadClips([]string{path})
	if err != nil {
		t.Fatalf("loadClips error = %v", err)
	}
	if clips[0].sampleRate != 8000 || len(clips[0].pcm16LE) != 4 {
		t.Fatalf("clip = %+v", clips[0])
	}

	bad := filepath.Join(t.TempDir(), "bad.wav")
	_ = os.WriteFile(bad, []byte("not audio"), 0o644)
	if _, err := loadClips([]string{bad}); err == nil {
		t.Fatalf("loadClips accepted a non-WAV file")
	}
}

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://example.test/base/", "abc")
	if err != nil {
		t.Fatalf("wsURLForSession error = %v", err)
	}
	if got != "wss://example.test/base/v1/voice/session/ws?session_id=abc" {
		t.Fatalf("url = %q", got)
	}
	if _, err := wsURLForSession("ftp://example.test", "abc"); err == nil {
		t.Fatalf("wsURLForSession accepted ftp scheme")
	}
}

func TestPercentile(t *testing.T) {
	values := []time.Duration{40, 10, 30, 20}
	if got := percentile(values, 0.5); got != 20 {
		t.Fatalf("p50 = %v, want 20", got)
	}
	if got := percentile(values, 1); got != 40 {
		t.Fatalf("max = %v, want 40", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("empty = %v, want 0", got)
	}
}

func TestReplayAgainstMockServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	built, err := app.Build(ctx, config.Config{
		AssistantProvider:        "mock",
		MetricsNamespace:         "test_cmd_replay",
		SessionInactivityTimeout: time.Minute,
		Encoder:                  "wav",
		SampleRate:               16000,
		PermissionTimeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	defer built.Cleanup()
	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	opts := replayOptions{baseURL: ts.URL, userID: "replay-test", turns: 2, chunkMS: 40, realtime: 50, turnTimeout: 5 * time.Second}
	if err := opts.validate(); err != nil {
		t.Fatalf("validate error = %v", err)
	}
	var out bytes.Buffer
	report, err := runReplay(ctx, opts, &out)
	if err != nil {
		t.Fatalf("runReplay error = %v", err)
	}
	if len(report.turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(report.turns))
	}
	for i, turn := range report.turns {
		if turn.audio < turn.transcript {
			t.Fatalf("turn %d audio %v before transcript %v", i, turn.audio, turn.transcript)
		}
	}
	report.print(&out)
	if !strings.Contains(out.String(), "2 turns") {
		t.Fatalf("report = %q", out.String())
	}
}
