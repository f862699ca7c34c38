// Package transcription captures a child's reading from the microphone,
// streams it to a realtime speech endpoint and settles one transcript per
// turn.
package transcription

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

const (
	DefaultSampleRate         = 16000
	DefaultEncoding           = "LINEAR16"
	DefaultLanguage           = "vi-VN"
	defaultFinalizeTimeout    = 8 * time.Second
	defaultMaxSessionDuration = 60 * time.Second

	// how long a session keeps reading endpoint events after a failed send
	sendFailureGrace = 500 * time.Millisecond
)

// Config controls the capture format and the bounds on how long a session
// may stay open.
type Config struct {
	Audio repositories.AudioConfig

	// FinalizeTimeout bounds the wait for the endpoint after Stop. When it
	// expires the session is closed as if the endpoint had hung up.
	FinalizeTimeout time.Duration

	// MaxSessionDuration rejects a session with ErrSessionTimeout. Negative
	// disables the limit.
	MaxSessionDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.Encoding == "" {
		c.Audio.Encoding = DefaultEncoding
	}
	if c.Audio.Language == "" {
		c.Audio.Language = DefaultLanguage
	}
	if c.FinalizeTimeout == 0 {
		c.FinalizeTimeout = defaultFinalizeTimeout
	}
	if c.MaxSessionDuration == 0 {
		c.MaxSessionDuration = defaultMaxSessionDuration
	}
	return c
}

// Manager hands out at most one open Session at a time
type Manager struct {
	transcriber repositories.RealtimeTranscriber
	config      Config
	logger      *zap.Logger

	mu       sync.Mutex
	starting bool
	active   *Session
}

// NewManager creates a session manager for the given speech endpoint
func NewManager(transcriber repositories.RealtimeTranscriber, config Config, logger *zap.Logger) *Manager {
	return &Manager{
		transcriber: transcriber,
		config:      config.withDefaults(),
		logger:      logger,
	}
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.config
}

// StartSession acquires the microphone, opens the endpoint connection and
// starts streaming. Permission and handshake failures are returned here with
// everything already released; later failures reject the session.
func (m *Manager) StartSession(ctx context.Context, mic repositories.Microphone) (*Session, error) {
	if err := m.reserve(); err != nil {
		return nil, err
	}
	defer m.release()

	id := uuid.New().String()
	logger := m.logger.With(zap.String("sessionID", id))

	stream, err := mic.Open(ctx, m.config.Audio.SampleRate)
	if err != nil {
		logger.Warn("Microphone could not be opened", zap.Error(err))
		var permErr *PermissionError
		if errors.As(err, &permErr) {
			return nil, err
		}
		return nil, &PermissionError{Err: err}
	}

	session := newSession(id, stream, m.config, logger)

	conn, err := m.transcriber.Connect(ctx, m.config.Audio)
	if err != nil {
		logger.Error("Failed to connect to speech endpoint", zap.Error(err))
		if closeErr := stream.Close(); closeErr != nil {
			logger.Warn("Failed to release microphone", zap.Error(closeErr))
		}
		return nil, &ConnectionError{Err: err}
	}
	session.conn = conn

	if err := stream.Start(); err != nil {
		logger.Error("Failed to start audio capture", zap.Error(err))
		session.settle("", &PermissionError{Err: err})
		return nil, session.err
	}

	session.transition(StateStreaming)
	go session.run()

	m.mu.Lock()
	m.active = session
	m.mu.Unlock()

	logger.Info("Transcription session started",
		zap.Int("sampleRate", m.config.Audio.SampleRate),
		zap.String("language", m.config.Audio.Language))

	return session, nil
}

// Active returns the session that has not yet closed, if any
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.State() == StateClosed {
		return nil
	}
	return m.active
}

// Shutdown stops the active session and waits for it to settle
func (m *Manager) Shutdown(ctx context.Context) error {
	session := m.Active()
	if session == nil {
		return nil
	}
	session.Stop()
	_, err := session.Wait(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.starting {
		return ErrSessionActive
	}
	if m.active != nil && m.active.State() != StateClosed {
		return ErrSessionActive
	}
	m.starting = true
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.starting = false
	m.mu.Unlock()
}
