package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/verbalease/internal/audio"
	"github.com/ent0n29/verbalease/internal/protocol"
)

type replayOptions struct {
	baseURL     string
	userID      string
	turns       int
	chunkMS     int
	realtime    float64
	turnTimeout time.Duration
	files       []string
	verbose     bool
}

type audioClip struct {
	name       string
	pcm16LE    []byte
	sampleRate int
}

type turnTiming struct {
	transcript time.Duration
	audio      time.Duration
}

type replayReport struct {
	sessionID string
	turns     []turnTiming
}

type wsEnvelope struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
	Text   string `json:"text,omitempty"`
	State  string `json:"state,omitempty"`
}

func newReplayCmd() *cobra.Command {
	opts := replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay [wav files...]",
		Short: "Replay utterances through a running server and report turn latency",
		Long: "Creates a session, streams each mono PCM16 WAV (or a synthetic tone when none are given) " +
			"over the voice websocket and times stop-to-transcript and stop-to-audio for every turn.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.files = args
			if err := opts.validate(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 8*time.Minute)
			defer cancel()
			report, err := runReplay(ctx, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			report.print(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "VerbalEase base URL")
	cmd.Flags().StringVar(&opts.userID, "user-id", "replay", "user_id for the synthetic session")
	cmd.Flags().IntVar(&opts.turns, "turns", 5, "number of turns to replay")
	cmd.Flags().IntVar(&opts.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	cmd.Flags().Float64Var(&opts.realtime, "realtime", 2.0, "chunk pacing multiplier (1.0=realtime)")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 30*time.Second, "timeout waiting for assistant audio per turn")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print replay progress")
	return cmd
}

func (o *replayOptions) validate() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	if o.baseURL == "" {
		return fmt.Errorf("base-url is required")
	}
	if o.turns <= 0 {
		return fmt.Errorf("turns must be > 0")
	}
	if o.chunkMS < 10 || o.chunkMS > 2000 {
		return fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if o.realtime <= 0 {
		return fmt.Errorf("realtime must be > 0")
	}
	if o.turnTimeout < time.Second {
		o.turnTimeout = time.Second
	}
	return nil
}

func runReplay(ctx context.Context, opts replayOptions, out io.Writer) (replayReport, error) {
	clips, err := loadClips(opts.files)
	if err != nil {
		return replayReport{}, fmt.Errorf("prepare utterance audio: %w", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := createSession(ctx, httpClient, opts.baseURL, opts.userID)
	if err != nil {
		return replayReport{}, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, opts.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return replayReport{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return replayReport{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 64)
	readErr := make(chan error, 1)
	go readLoop(conn, events, readErr)

	report := replayReport{sessionID: sessionID}
	seq := 0
	for i := 0; i < opts.turns; i++ {
		clip := clips[i%len(clips)]
		if opts.verbose {
			fmt.Fprintf(out, "replay: turn %d/%d clip=%s sample_rate=%dHz bytes=%d\n", i+1, opts.turns, clip.name, clip.sampleRate, len(clip.pcm16LE))
		}
		timing, err := replayTurn(conn, events, readErr, sessionID, clip, opts, &seq)
		if err != nil {
			return report, fmt.Errorf("turn %d: %w", i+1, err)
		}
		report.turns = append(report.turns, timing)
	}
	return report, nil
}

func replayTurn(conn *websocket.Conn, events <-chan wsEnvelope, readErr <-chan error, sessionID string, clip audioClip, opts replayOptions, seq *int) (turnTiming, error) {
	start := protocol.ClientControl{
		Type:            protocol.TypeClientControl,
		SessionID:       sessionID,
		Action:          protocol.ActionStart,
		DisableAutoStop: true,
		TSMs:            time.Now().UnixMilli(),
	}
	if err := conn.WriteJSON(start); err != nil {
		return turnTiming{}, fmt.Errorf("send start: %w", err)
	}
	if _, err := awaitEvent(events, readErr, opts.turnTimeout, string(protocol.TypeMicRequest)); err != nil {
		return turnTiming{}, fmt.Errorf("await mic_request: %w", err)
	}
	ready := protocol.ClientControl{
		Type:       protocol.TypeClientControl,
		SessionID:  sessionID,
		Action:     protocol.ActionMicReady,
		SampleRate: clip.sampleRate,
	}
	if err := conn.WriteJSON(ready); err != nil {
		return turnTiming{}, fmt.Errorf("send mic_ready: %w", err)
	}
	if _, err := awaitState(events, readErr, opts.turnTimeout, "recording"); err != nil {
		return turnTiming{}, fmt.Errorf("await recording: %w", err)
	}
	if err := sendTurnAudio(conn, sessionID, clip, opts.chunkMS, opts.realtime, seq); err != nil {
		return turnTiming{}, fmt.Errorf("send audio: %w", err)
	}

	stop := protocol.ClientControl{Type: protocol.TypeClientControl, SessionID: sessionID, Action: protocol.ActionStop}
	stoppedAt := time.Now()
	if err := conn.WriteJSON(stop); err != nil {
		return turnTiming{}, fmt.Errorf("send stop: %w", err)
	}

	var timing turnTiming
	if _, err := awaitEvent(events, readErr, opts.turnTimeout, string(protocol.TypeTranscript)); err != nil {
		return timing, fmt.Errorf("await transcript: %w", err)
	}
	timing.transcript = time.Since(stoppedAt)
	if _, err := awaitEvent(events, readErr, opts.turnTimeout, string(protocol.TypeAssistantAudio)); err != nil {
		return timing, fmt.Errorf("await assistant_audio: %w", err)
	}
	timing.audio = time.Since(stoppedAt)
	return timing, nil
}

// awaitEvent skips unrelated events until want arrives. An error_event fails the wait.
func awaitEvent(events <-chan wsEnvelope, readErr <-chan error, timeout time.Duration, want string) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case env := <-events:
			switch env.Type {
			case want:
				return env, nil
			case string(protocol.TypeErrorEvent):
				return env, fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
			}
		case err := <-readErr:
			return wsEnvelope{}, err
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timeout after %s", timeout)
		}
	}
}

func awaitState(events <-chan wsEnvelope, readErr <-chan error, timeout time.Duration, state string) (wsEnvelope, error) {
	deadline := time.Now().Add(timeout)
	for {
		env, err := awaitEvent(events, readErr, time.Until(deadline), string(protocol.TypeCaptureState))
		if err != nil {
			return env, err
		}
		if env.State == state {
			return env, nil
		}
	}
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		events <- env
	}
}

func sendTurnAudio(conn *websocket.Conn, sessionID string, clip audioClip, chunkMS int, realtime float64, seq *int) error {
	for _, chunk := range chunkPCM(clip.pcm16LE, clip.sampleRate, chunkMS) {
		*seq++
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			SessionID:   sessionID,
			Seq:         *seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(chunk),
			SampleRate:  clip.sampleRate,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		pace := time.Duration(float64(time.Duration(len(chunk))*time.Second/time.Duration(clip.sampleRate*2)) / realtime)
		if pace <= 0 {
			pace = 10 * time.Millisecond
		}
		time.Sleep(pace)
	}
	return nil
}

// chunkPCM splits PCM16LE into sample-aligned chunks of chunkMS each.
func chunkPCM(pcm []byte, sampleRate, chunkMS int) [][]byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	size := sampleRate * 2 * chunkMS / 1000
	if size < 2 {
		size = 2
	}
	size -= size % 2
	usable := len(pcm) - len(pcm)%2

	var out [][]byte
	for off := 0; off < usable; off += size {
		end := min(off+size, usable)
		out = append(out, pcm[off:end])
	}
	return out
}

func loadClips(files []string) ([]audioClip, error) {
	if len(files) == 0 {
		return []audioClip{toneClip(16000, 440, 1200*time.Millisecond, 0.3)}, nil
	}
	clips := make([]audioClip, 0, len(files))
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		pcm, rate, err := audio.ParseWAV(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if len(pcm) == 0 {
			return nil, fmt.Errorf("%s: no PCM samples", path)
		}
		clips = append(clips, audioClip{name: path, pcm16LE: pcm, sampleRate: rate})
	}
	return clips, nil
}

// toneClip synthesizes a sine wave loud enough to count as speech.
func toneClip(sampleRate int, freq float64, d time.Duration, amplitude float64) audioClip {
	n := int(float64(sampleRate) * d.Seconds())
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return audioClip{name: "tone", pcm16LE: audio.PCM16ToBytes(samples), sampleRate: sampleRate}
}

func createSession(ctx context.Context, client *http.Client, baseURL, userID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/voice/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/voice/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r replayReport) print(out io.Writer) {
	fmt.Fprintf(out, "session %s: %d turns\n", r.sessionID, len(r.turns))
	if len(r.turns) == 0 {
		return
	}
	transcripts := make([]time.Duration, 0, len(r.turns))
	audios := make([]time.Duration, 0, len(r.turns))
	for _, t := range r.turns {
		transcripts = append(transcripts, t.transcript)
		audios = append(audios, t.audio)
	}
	fmt.Fprintf(out, "stop->transcript p50=%s max=%s\n", percentile(transcripts, 0.5), percentile(transcripts, 1))
	fmt.Fprintf(out, "stop->audio      p50=%s max=%s\n", percentile(audios, 0.5), percentile(audios, 1))
}

func percentile(values []time.Duration, q float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
