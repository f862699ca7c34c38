package transcription

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
	"github.com/hsapsbch-blip/betapdoc/internal/audio"
)

// Session is one microphone-to-endpoint capture. It is both the control
// handle (Stop) and the single-shot result (Wait, Done).
type Session struct {
	id     string
	state  atomic.Int32
	config Config
	logger *zap.Logger

	capture repositories.CaptureStream
	conn    repositories.RealtimeConnection

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// owned by the run loop
	transcript strings.Builder
	framesSent int

	// written once before done is closed
	text string
	err  error

	startedAt time.Time
}

func newSession(id string, capture repositories.CaptureStream, config Config, logger *zap.Logger) *Session {
	s := &Session{
		id:        id,
		config:    config,
		logger:    logger,
		capture:   capture,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stop asks the speech endpoint to close the current turn. The result is
// settled later by the endpoint's answer. Calling Stop again, or after the
// session closed, does nothing.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Done is closed once the session has settled and released its resources
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session settles and returns the trimmed transcript,
// or the error that rejected the session.
func (s *Session) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		return s.text, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// transition performs a compare-and-transition along a legal edge
func (s *Session) transition(to State) bool {
	for {
		from := s.State()
		if !canTransition(from, to) {
			return false
		}
		if s.state.CompareAndSwap(int32(from), int32(to)) {
			s.logger.Debug("Transcription session state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			return true
		}
	}
}

// run is the session loop. Capture frames, endpoint events, stop requests and
// timers are all handled here, so the transcript has a single writer and
// frames leave in capture order.
func (s *Session) run() {
	frames := s.capture.Frames()
	events := s.conn.Events()
	stop := s.stopCh
	stopping := false

	var finalize <-chan time.Time
	var finalizeTimer *time.Timer
	var grace <-chan time.Time
	var graceTimer *time.Timer
	var sendErr error
	defer func() {
		if finalizeTimer != nil {
			finalizeTimer.Stop()
		}
		if graceTimer != nil {
			graceTimer.Stop()
		}
	}()

	var deadline <-chan time.Time
	if s.config.MaxSessionDuration > 0 {
		timer := time.NewTimer(s.config.MaxSessionDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	// forward sends one frame. After a failed send no more audio goes out and
	// the endpoint gets sendFailureGrace to deliver what it already has.
	forward := func(frame []float32) bool {
		chunk := repositories.AudioChunk{
			Data:     audio.EncodePCM16(frame),
			MIMEType: s.config.Audio.MIMEType(),
		}
		if err := s.conn.SendAudio(chunk); err != nil {
			s.logger.Warn("Failed to send audio, waiting for the endpoint to finish",
				zap.Error(err),
				zap.Duration("grace", sendFailureGrace))
			sendErr = err
			frames = nil
			stop = nil
			graceTimer = time.NewTimer(sendFailureGrace)
			grace = graceTimer.C
			return false
		}
		s.framesSent++
		return true
	}

	// flush forwards frames the capture already queued, without waiting for more
	flush := func() {
		for frames != nil {
			select {
			case frame, ok := <-frames:
				if !ok {
					frames = nil
					return
				}
				if !forward(frame) {
					return
				}
			default:
				return
			}
		}
	}

	endTurn := func(reason string) bool {
		stop = nil
		stopping = true
		s.logger.Info("Requesting end of turn", zap.String("reason", reason))
		if err := s.conn.EndTurn(); err != nil {
			s.settle("", &ConnectionError{Err: err})
			return false
		}
		if s.config.FinalizeTimeout > 0 {
			finalizeTimer = time.NewTimer(s.config.FinalizeTimeout)
			finalize = finalizeTimer.C
		}
		return true
	}

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				frames = nil
				if !stopping && !endTurn("capture ended") {
					return
				}
				continue
			}
			if stopping {
				continue
			}
			forward(frame)

		case ev, ok := <-events:
			if !ok {
				s.settle(s.transcriptText(), nil)
				return
			}
			if s.handleEvent(ev) {
				return
			}

		case <-stop:
			flush()
			if sendErr != nil {
				continue
			}
			if !endTurn("stop requested") {
				return
			}

		case <-finalize:
			s.logger.Warn("Speech endpoint did not finish the turn in time, closing",
				zap.Duration("timeout", s.config.FinalizeTimeout))
			s.settle(s.transcriptText(), nil)
			return

		case <-grace:
			s.settle("", &ConnectionError{Err: sendErr})
			return

		case <-deadline:
			s.settle("", ErrSessionTimeout)
			return
		}
	}
}

// handleEvent applies one endpoint event and reports whether it was terminal
func (s *Session) handleEvent(ev repositories.TranscriptionEvent) bool {
	switch ev.Kind {
	case repositories.EventTranscript:
		s.transcript.WriteString(ev.Text)
		return false
	case repositories.EventTurnComplete:
		s.settle(s.transcriptText(), nil)
	case repositories.EventError:
		s.settle("", &StreamError{Err: ev.Err})
	case repositories.EventClosed:
		// a silent close is a soft completion
		s.settle(s.transcriptText(), nil)
	default:
		s.logger.Warn("Ignoring unknown transcription event", zap.Stringer("kind", ev.Kind))
		return false
	}
	return true
}

func (s *Session) transcriptText() string {
	return strings.TrimSpace(s.transcript.String())
}

// settle fixes the outcome and tears the session down. Only the first caller
// wins the move into StateFinalizing; every later call is a no-op.
func (s *Session) settle(text string, err error) bool {
	if !s.transition(StateFinalizing) {
		return false
	}

	s.text, s.err = text, err
	s.teardown()

	fields := []zap.Field{
		zap.Int("framesSent", s.framesSent),
		zap.Duration("duration", time.Since(s.startedAt)),
	}
	if err != nil {
		s.logger.Warn("Transcription session rejected", append(fields, zap.Error(err))...)
	} else {
		s.logger.Info("Transcription session resolved", append(fields, zap.String("transcript", text))...)
	}

	s.transition(StateClosed)
	close(s.done)
	return true
}

func (s *Session) teardown() {
	if err := s.capture.Close(); err != nil {
		s.logger.Warn("Failed to release microphone", zap.Error(err))
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Failed to close speech endpoint connection", zap.Error(err))
		}
	}
}
