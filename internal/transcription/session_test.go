package transcription

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
	"github.com/hsapsbch-blip/betapdoc/internal/audio"
)

type harness struct {
	manager     *Manager
	mic         *fakeMicrophone
	capture     *fakeCapture
	conn        *fakeConn
	transcriber *fakeTranscriber
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	capture := newFakeCapture()
	conn := newFakeConn()
	transcriber := &fakeTranscriber{conn: conn}
	return &harness{
		manager:     NewManager(transcriber, config, zaptest.NewLogger(t)),
		mic:         &fakeMicrophone{stream: capture},
		capture:     capture,
		conn:        conn,
		transcriber: transcriber,
	}
}

func (h *harness) start(t *testing.T) *Session {
	t.Helper()
	session, err := h.manager.StartSession(context.Background(), h.mic)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	return session
}

func wait(t *testing.T, session *Session) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	text, err := session.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("session did not settle in time")
	}
	return text, err
}

func (h *harness) assertReleasedOnce(t *testing.T) {
	t.Helper()
	if got := h.capture.closeCalls.Load(); got != 1 {
		t.Errorf("Expected microphone to be released once, got %d", got)
	}
	if got := h.conn.closeCalls.Load(); got != 1 {
		t.Errorf("Expected connection to be closed once, got %d", got)
	}
}

func TestStartSession_Streams(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	if session.State() != StateStreaming {
		t.Errorf("Expected state %s, got %s", StateStreaming, session.State())
	}

	if h.capture.startCalls.Load() != 1 {
		t.Error("Expected audio capture to be started")
	}

	if h.transcriber.lastConfig.SampleRate != DefaultSampleRate {
		t.Errorf("Expected sample rate %d, got %d", DefaultSampleRate, h.transcriber.lastConfig.SampleRate)
	}

	h.conn.hangUp()
	wait(t, session)
}

func TestSession_TurnCompleteJoinsFragments(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	h.conn.transcript("Con")
	h.conn.transcript(" mèo")
	h.conn.turnComplete()

	text, err := wait(t, session)
	if err != nil {
		t.Fatalf("Expected resolution, got error %v", err)
	}
	if text != "Con mèo" {
		t.Errorf("Expected %q, got %q", "Con mèo", text)
	}
	if session.State() != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, session.State())
	}
	h.assertReleasedOnce(t)
}

func TestSession_TurnCompleteWithoutFragments(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	h.conn.turnComplete()

	text, err := wait(t, session)
	if err != nil {
		t.Fatalf("Expected resolution, got error %v", err)
	}
	if text != "" {
		t.Errorf("Expected empty transcript, got %q", text)
	}
	h.assertReleasedOnce(t)
}

func TestSession_ErrorDiscardsFragments(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	h.conn.transcript("Con")
	h.conn.fail(errRemote)

	text, err := wait(t, session)
	if text != "" {
		t.Errorf("Expected partial transcript to be discarded, got %q", text)
	}

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("Expected StreamError, got %v", err)
	}
	if !errors.Is(err, errRemote) {
		t.Errorf("Expected rejection to wrap the remote error, got %v", err)
	}
	h.assertReleasedOnce(t)
}

func TestSession_SilentCloseIsSoftCompletion(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	h.conn.transcript("Mèo")
	h.conn.hangUp()

	text, err := wait(t, session)
	if err != nil {
		t.Fatalf("Expected resolution, got error %v", err)
	}
	if text != "Mèo" {
		t.Errorf("Expected %q, got %q", "Mèo", text)
	}
	h.assertReleasedOnce(t)
}

func TestSession_EventsChannelClosedIsSoftCompletion(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	h.conn.transcript("  Bé đi học ")
	close(h.conn.events)

	text, err := wait(t, session)
	if err != nil {
		t.Fatalf("Expected resolution, got error %v", err)
	}
	if text != "Bé đi học" {
		t.Errorf("Expected trimmed transcript, got %q", text)
	}
}

func TestStartSession_PermissionDenied(t *testing.T) {
	h := newHarness(t, Config{})
	h.mic.openErr = repositories.ErrMicrophonePermissionDenied

	session, err := h.manager.StartSession(context.Background(), h.mic)
	if session != nil {
		t.Error("Expected no session on permission failure")
	}

	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("Expected PermissionError, got %v", err)
	}
	if !errors.Is(err, repositories.ErrMicrophonePermissionDenied) {
		t.Errorf("Expected error to wrap ErrMicrophonePermissionDenied, got %v", err)
	}

	if h.transcriber.connects.Load() != 0 {
		t.Error("Speech endpoint must not be contacted when the microphone is denied")
	}
	if h.capture.closeCalls.Load() != 0 || h.conn.closeCalls.Load() != 0 {
		t.Error("No cleanup should run for resources that were never acquired")
	}

	// the manager is free for the next attempt
	h.mic.openErr = nil
	next := h.start(t)
	h.conn.hangUp()
	wait(t, next)
}

func TestStartSession_ConnectFailureReleasesMicrophone(t *testing.T) {
	h := newHarness(t, Config{})
	h.transcriber.connectErr = errors.New("dial tcp: connection refused")

	_, err := h.manager.StartSession(context.Background(), h.mic)

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if h.capture.closeCalls.Load() != 1 {
		t.Errorf("Expected microphone released once, got %d", h.capture.closeCalls.Load())
	}
	if h.capture.startCalls.Load() != 0 {
		t.Error("Capture must not start before the endpoint is ready")
	}
}

func TestStartSession_CaptureStartFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.capture.startErr = errors.New("device busy")

	_, err := h.manager.StartSession(context.Background(), h.mic)

	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("Expected PermissionError, got %v", err)
	}
	h.assertReleasedOnce(t)
}

func TestSession_FramesKeepCaptureOrder(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	var want [][]byte
	for i := 0; i < 100; i++ {
		frame := []float32{float32(i) / 100, -float32(i) / 100, 0.25}
		want = append(want, audio.EncodePCM16(frame))
		h.capture.frames <- frame
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.conn.sentChunks()) < len(want) {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d chunks, got %d", len(want), len(h.conn.sentChunks()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	for i, chunk := range h.conn.sentChunks() {
		if !bytes.Equal(chunk.Data, want[i]) {
			t.Fatalf("chunk %d out of order or corrupted", i)
		}
		if chunk.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("Unexpected MIME type %q", chunk.MIMEType)
		}
	}

	h.conn.turnComplete()
	wait(t, session)
}

func TestSession_RepeatedTerminalEventsAreIgnored(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	h.conn.transcript("Con")
	h.conn.turnComplete()
	h.conn.fail(errRemote)
	h.conn.hangUp()

	text, err := wait(t, session)
	if err != nil || text != "Con" {
		t.Fatalf("Expected first terminal event to win, got %q, %v", text, err)
	}

	if session.settle("other", errRemote) {
		t.Error("settle after close must be a no-op")
	}

	text, err = wait(t, session)
	if err != nil || text != "Con" {
		t.Errorf("Result changed after settling: %q, %v", text, err)
	}
	h.assertReleasedOnce(t)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	session.Stop()
	session.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for h.conn.endTurns.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected stop to ask the endpoint to end the turn")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-session.Done():
		t.Fatal("Stop must not settle the session by itself")
	default:
	}

	h.conn.hangUp()
	wait(t, session)

	session.Stop()

	if got := h.conn.endTurns.Load(); got != 1 {
		t.Errorf("Expected one end-of-turn request, got %d", got)
	}
	h.assertReleasedOnce(t)
}

func TestSession_FramesAfterStopAreNotSent(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	session.Stop()
	for h.conn.endTurns.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	h.capture.frames <- []float32{0.1, 0.2}
	h.conn.turnComplete()
	wait(t, session)

	if n := len(h.conn.sentChunks()); n != 0 {
		t.Errorf("Expected no frames after stop, got %d", n)
	}
}

func TestSession_FinalizeTimeoutClosesSoftly(t *testing.T) {
	h := newHarness(t, Config{FinalizeTimeout: 50 * time.Millisecond})
	session := h.start(t)

	h.conn.transcript("Mèo")
	session.Stop()

	text, err := wait(t, session)
	if err != nil {
		t.Fatalf("Expected soft completion, got %v", err)
	}
	if text != "Mèo" {
		t.Errorf("Expected %q, got %q", "Mèo", text)
	}
	h.assertReleasedOnce(t)
}

func TestSession_MaxDurationRejects(t *testing.T) {
	h := newHarness(t, Config{MaxSessionDuration: 50 * time.Millisecond})
	session := h.start(t)

	h.conn.transcript("Con")

	_, err := wait(t, session)
	if !errors.Is(err, ErrSessionTimeout) {
		t.Fatalf("Expected ErrSessionTimeout, got %v", err)
	}
	h.assertReleasedOnce(t)
}

func TestSession_CaptureEndRequestsEndOfTurn(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	close(h.capture.frames)

	deadline := time.Now().Add(2 * time.Second)
	for h.conn.endTurns.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected capture end to request end of turn")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.conn.turnComplete()
	if _, err := wait(t, session); err != nil {
		t.Errorf("Expected resolution, got %v", err)
	}
}

func TestSession_SendFailureRejects(t *testing.T) {
	h := newHarness(t, Config{})
	h.conn.sendErr = errors.New("broken pipe")
	session := h.start(t)

	h.capture.frames <- []float32{0.5}

	started := time.Now()
	_, err := wait(t, session)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if elapsed := time.Since(started); elapsed < sendFailureGrace/2 {
		t.Errorf("Expected rejection after the grace period, got it after %s", elapsed)
	}
	h.assertReleasedOnce(t)
}

func TestSession_RemoteCloseRacingSendResolves(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t, Config{})
		h.conn.sendErr = errors.New("failed to send audio data: EOF")
		session := h.start(t)

		h.conn.transcript("Mèo")
		h.conn.hangUp()
		h.capture.frames <- []float32{0.5}

		text, err := wait(t, session)
		if err != nil {
			t.Fatalf("run %d: expected soft completion, got %v", i, err)
		}
		if text != "Mèo" {
			t.Fatalf("run %d: expected %q, got %q", i, "Mèo", text)
		}
		h.assertReleasedOnce(t)
	}
}

func TestSession_EventsAfterSendFailureAreHonoured(t *testing.T) {
	h := newHarness(t, Config{})
	h.conn.sendErr = errors.New("broken pipe")
	session := h.start(t)

	h.capture.frames <- []float32{0.5}
	time.Sleep(50 * time.Millisecond)
	h.conn.transcript("Con mèo")
	h.conn.turnComplete()

	text, err := wait(t, session)
	if err != nil {
		t.Fatalf("Expected resolution, got %v", err)
	}
	if text != "Con mèo" {
		t.Errorf("Expected %q, got %q", "Con mèo", text)
	}
	if got := h.conn.endTurns.Load(); got != 0 {
		t.Errorf("Expected no end-of-turn request after a failed send, got %d", got)
	}
}

func TestSession_QueuedFramesAreSentBeforeEndTurn(t *testing.T) {
	const queued = 50
	for i := 0; i < 20; i++ {
		h := newHarness(t, Config{})
		session := h.start(t)

		for j := 0; j < queued; j++ {
			h.capture.frames <- []float32{float32(j) / queued}
		}
		session.Stop()

		deadline := time.Now().Add(2 * time.Second)
		for h.conn.endTurns.Load() == 0 {
			if time.Now().After(deadline) {
				t.Fatal("Expected stop to request end of turn")
			}
			time.Sleep(time.Millisecond)
		}

		h.conn.mu.Lock()
		sent := h.conn.sentBeforeEndTurn
		h.conn.mu.Unlock()
		if sent != queued {
			t.Fatalf("run %d: expected %d frames before end of turn, got %d", i, queued, sent)
		}

		h.conn.turnComplete()
		wait(t, session)
	}
}

func TestConfig_MaxSessionDurationDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero takes the default", 0, defaultMaxSessionDuration},
		{"negative disables", -1, -1},
		{"explicit", 5 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Config{MaxSessionDuration: tt.in}.withDefaults().MaxSessionDuration
			if got != tt.want {
				t.Errorf("withDefaults() MaxSessionDuration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_NegativeMaxDurationNeverExpires(t *testing.T) {
	h := newHarness(t, Config{MaxSessionDuration: -1})
	session := h.start(t)

	time.Sleep(100 * time.Millisecond)
	select {
	case <-session.Done():
		t.Fatal("Expected the session to stay open without a duration limit")
	default:
	}

	h.conn.transcript("Mèo")
	h.conn.turnComplete()
	if text, err := wait(t, session); err != nil || text != "Mèo" {
		t.Fatalf("Expected %q, got %q, %v", "Mèo", text, err)
	}
}

func TestManager_SingleActiveSession(t *testing.T) {
	h := newHarness(t, Config{})
	session := h.start(t)

	if _, err := h.manager.StartSession(context.Background(), h.mic); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("Expected ErrSessionActive, got %v", err)
	}

	if h.manager.Active() != session {
		t.Error("Expected Active to return the open session")
	}

	h.conn.turnComplete()
	wait(t, session)

	if h.manager.Active() != nil {
		t.Error("Expected no active session after close")
	}

	conn := newFakeConn()
	h.transcriber.conn = conn
	next := h.start(t)
	conn.hangUp()
	wait(t, next)
}

func TestManager_Shutdown(t *testing.T) {
	h := newHarness(t, Config{FinalizeTimeout: 20 * time.Millisecond})
	session := h.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.manager.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if session.State() != StateClosed {
		t.Errorf("Expected closed session, got %s", session.State())
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateConnecting, StateStreaming, true},
		{StateConnecting, StateFinalizing, true},
		{StateStreaming, StateFinalizing, true},
		{StateFinalizing, StateClosed, true},
		{StateStreaming, StateConnecting, false},
		{StateFinalizing, StateFinalizing, false},
		{StateClosed, StateFinalizing, false},
		{StateClosed, StateStreaming, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
