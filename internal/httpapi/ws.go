package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ent0n29/verbalease/internal/assistant"
	"github.com/ent0n29/verbalease/internal/audio"
	"github.com/ent0n29/verbalease/internal/capture"
	"github.com/ent0n29/verbalease/internal/device/remote"
	"github.com/ent0n29/verbalease/internal/observability"
	"github.com/ent0n29/verbalease/internal/protocol"
	"github.com/ent0n29/verbalease/internal/session"
)

var errRemoteTrackEnded = errors.New("client microphone track ended")

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.assistant == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "assistant not configured")
		return
	}
	sess, err := s.sessions.Active(sessionID)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, session.ErrEnded) {
			status = http.StatusConflict
		}
		respondError(w, status, "session_unavailable", err.Error())
		return
	}

	s.mu.Lock()
	if _, busy := s.conns[sessionID]; busy {
		s.mu.Unlock()
		respondError(w, http.StatusConflict, "session_connected", "session already has a live connection")
		return
	}
	// Reserve the slot before the upgrade so a second dial can't race in.
	s.conns[sessionID] = nil
	s.mu.Unlock()

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.mu.Lock()
		delete(s.conns, sessionID)
		s.mu.Unlock()
		return
	}
	defer wsConn.Close()

	c := s.newVoiceConn(r.Context(), sess, wsConn)
	s.mu.Lock()
	s.conns[sessionID] = c
	s.mu.Unlock()
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	c.run()

	s.mu.Lock()
	delete(s.conns, sessionID)
	s.mu.Unlock()
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// voiceConn binds one websocket to one capture session fed by the client's microphone.
type voiceConn struct {
	srv       *Server
	sessionID string
	ws        *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc
	out    chan any

	device  *remote.Device
	capture *capture.Session

	// busy is set while a captured utterance or suggestion is being answered.
	busy    atomic.Bool
	workers sync.WaitGroup
	once    sync.Once
}

func (s *Server) newVoiceConn(parent context.Context, sess *session.Session, ws *websocket.Conn) *voiceConn {
	ctx, cancel := context.WithCancel(parent)
	c := &voiceConn{
		srv:       s,
		sessionID: sess.ID,
		ws:        ws,
		ctx:       ctx,
		cancel:    cancel,
		out:       make(chan any, 256),
	}
	c.device = remote.New(s.sampleRate(), func() {
		c.trySend(protocol.MicRequest{Type: protocol.TypeMicRequest, SessionID: c.sessionID, SampleRate: s.sampleRate()})
	})
	c.capture = capture.NewSession(capture.Config{
		ID:            sess.ID,
		Device:        c.device,
		Encoder:       s.encoder,
		Defaults:      s.captureDefaults,
		OnStateChange: c.onCaptureState,
	})
	return c
}

func (c *voiceConn) run() {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	c.ws.SetReadLimit(2 << 20)
	_ = c.ws.SetReadDeadline(time.Now().Add(120 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(120 * time.Second))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.sendError("invalid_client_message", "gateway", false, err.Error())
			continue
		}
		c.handle(parsed)
		if c.ctx.Err() != nil {
			break
		}
	}

	c.shutdown()
	c.workers.Wait()
	<-writerDone
}

// shutdown is the caller teardown for the connection: the capture session is closed
// through its normal release path and in-flight turns are cancelled.
func (c *voiceConn) shutdown() {
	c.once.Do(func() {
		_ = c.capture.Close()
		c.cancel()
		_ = c.ws.SetReadDeadline(time.Now())
	})
}

func (c *voiceConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.srv.metrics.WSMessages.WithLabelValues("outbound_failed", string(messageTypeOf(msg))).Inc()
				c.shutdown()
				return
			}
			c.srv.metrics.WSMessages.WithLabelValues("outbound", string(messageTypeOf(msg))).Inc()
		}
	}
}

func (c *voiceConn) handle(msg any) {
	c.srv.metrics.WSMessages.WithLabelValues("inbound", string(messageTypeOf(msg))).Inc()
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		pcm, err := audio.DecodeBase64PCM16(m.PCM16Base64)
		if err != nil {
			c.sendError("invalid_audio_chunk", "gateway", false, err.Error())
			return
		}
		c.device.Push(pcm)
	case protocol.ClientControl:
		_ = c.srv.sessions.Touch(c.sessionID)
		switch m.Action {
		case protocol.ActionStart:
			c.startCapture(m)
		case protocol.ActionStop:
			c.capture.Stop()
		case protocol.ActionMicReady:
			if !c.device.Grant(m.SampleRate) {
				c.sendError("no_mic_request", "gateway", false, "mic_ready without a pending request")
			}
		case protocol.ActionMicDenied:
			c.device.Deny(m.Detail)
		case protocol.ActionMicLost:
			cause := errRemoteTrackEnded
			if m.Detail != "" {
				cause = errors.New(m.Detail)
			}
			c.device.Lost(cause)
		case protocol.ActionSuggest:
			c.suggest()
		}
	}
}

func (c *voiceConn) startCapture(m protocol.ClientControl) {
	if c.busy.Load() {
		c.sendError("turn_in_progress", "gateway", true, "previous utterance is still being answered")
		return
	}
	opts := capture.Options{
		SilenceThreshold: m.SilenceThreshold,
		SilenceDuration:  time.Duration(m.SilenceDurationMS) * time.Millisecond,
		DisableAutoStop:  m.DisableAutoStop,
	}
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.srv.permissionTimeout())
		results, err := c.capture.Start(ctx, opts)
		cancel()
		if err != nil {
			c.reportError("capture", err)
			return
		}
		res, ok := <-results
		if !ok {
			// Another waiter on the same cycle took the result.
			return
		}
		c.finishCapture(res)
	}()
}

func (c *voiceConn) finishCapture(res capture.Result) {
	outcome, bytes, mimeType := "artifact", 0, ""
	switch {
	case res.Artifact != nil:
		bytes, mimeType = len(res.Artifact.Data), res.Artifact.MIMEType
	case errors.Is(res.Err, capture.ErrEmptyCapture):
		outcome = "empty"
	default:
		outcome = "error"
	}
	c.srv.metrics.ObserveCapture(string(res.Reason), outcome, bytes)
	c.srv.metrics.ObserveStage(observability.StageUtterance, res.Duration)

	if c.ctx.Err() != nil {
		return
	}
	c.send(protocol.CaptureResult{
		Type:       protocol.TypeCaptureResult,
		SessionID:  c.sessionID,
		Reason:     string(res.Reason),
		MIMEType:   mimeType,
		Bytes:      bytes,
		DurationMS: res.Duration.Milliseconds(),
	})
	if res.Err != nil {
		c.reportError("capture", res.Err)
		return
	}
	if !c.busy.CompareAndSwap(false, true) {
		c.sendError("turn_in_progress", "gateway", true, "utterance dropped while another turn is answered")
		return
	}
	turn, err := c.srv.assistant.HandleTurn(c.ctx, c.sessionID, res.Artifact, func(turnID, stage, text string) {
		switch stage {
		case observability.StageTranscribe:
			c.send(protocol.Transcript{Type: protocol.TypeTranscript, SessionID: c.sessionID, TurnID: turnID, Text: text})
		case observability.StageRespond:
			c.send(protocol.AssistantText{Type: protocol.TypeAssistantText, SessionID: c.sessionID, TurnID: turnID, Text: text})
		}
	})
	// Cleared before the reply goes out so a client may start the next turn on receipt.
	c.busy.Store(false)
	if err != nil {
		c.reportError("assistant", err)
		return
	}
	_ = c.srv.sessions.CompleteTurn(c.sessionID)
	c.sendAudio(turn)
}

func (c *voiceConn) suggest() {
	if !c.busy.CompareAndSwap(false, true) {
		c.sendError("turn_in_progress", "gateway", true, "previous utterance is still being answered")
		return
	}
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		turn, err := c.srv.assistant.Suggest(c.ctx, c.sessionID)
		c.busy.Store(false)
		if err != nil {
			c.reportError("assistant", err)
			return
		}
		_ = c.srv.sessions.CompleteSuggestion(c.sessionID)
		c.send(protocol.AssistantText{Type: protocol.TypeAssistantText, SessionID: c.sessionID, TurnID: turn.ID, Text: turn.ReplyText, Suggestion: true})
		c.sendAudio(turn)
	}()
}

func (c *voiceConn) sendAudio(turn assistant.Turn) {
	if turn.AudioDataURI == "" {
		return
	}
	c.send(protocol.AssistantAudio{Type: protocol.TypeAssistantAudio, SessionID: c.sessionID, TurnID: turn.ID, Audio: turn.AudioDataURI})
}

// onCaptureState runs under the capture session lock, so it only does non-blocking work.
func (c *voiceConn) onCaptureState(st capture.State) {
	recording := st == capture.StateRecording
	_ = c.srv.sessions.SetRecording(c.sessionID, recording)
	if recording {
		c.srv.metrics.ActiveCaptures.Inc()
	} else {
		c.srv.metrics.ActiveCaptures.Dec()
	}
	c.trySend(protocol.CaptureState{Type: protocol.TypeCaptureState, SessionID: c.sessionID, State: st.String()})
}

func (c *voiceConn) reportError(source string, err error) {
	if c.ctx.Err() != nil {
		return
	}
	code, retryable := errorCode(err)
	log.Info().Err(err).Str("session_id", c.sessionID).Str("code", code).Str("source", source).Msg("voice turn failed")
	c.sendError(code, source, retryable, err.Error())
}

func (c *voiceConn) sendError(code, source string, retryable bool, detail string) {
	c.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sessionID,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	})
}

func (c *voiceConn) send(msg any) {
	select {
	case <-c.ctx.Done():
	case c.out <- msg:
	}
}

// trySend drops the message when the outbound queue is full.
func (c *voiceConn) trySend(msg any) {
	select {
	case c.out <- msg:
	default:
		c.srv.metrics.WSMessages.WithLabelValues("outbound_dropped", string(messageTypeOf(msg))).Inc()
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type
	case protocol.ClientControl:
		return m.Type
	case protocol.MicRequest:
		return m.Type
	case protocol.CaptureState:
		return m.Type
	case protocol.CaptureResult:
		return m.Type
	case protocol.Transcript:
		return m.Type
	case protocol.AssistantText:
		return m.Type
	case protocol.AssistantAudio:
		return m.Type
	case protocol.SystemEvent:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
