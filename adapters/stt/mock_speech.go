package stt

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

// MockTranscriber is a stand-in realtime endpoint for local development. It
// answers every turn with a canned transcript picked by how much audio was
// sent.
type MockTranscriber struct {
	logger *zap.Logger
}

// NewMockTranscriber creates a new mock realtime transcriber
func NewMockTranscriber(logger *zap.Logger) *MockTranscriber {
	return &MockTranscriber{logger: logger}
}

// Connect opens a mock connection
func (m *MockTranscriber) Connect(ctx context.Context, config repositories.AudioConfig) (repositories.RealtimeConnection, error) {
	m.logger.Info("Opening mock transcription connection",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockConnection{
		logger: m.logger,
		events: make(chan repositories.TranscriptionEvent, 4),
	}, nil
}

// MockConnection is the connection handed out by MockTranscriber
type MockConnection struct {
	logger    *zap.Logger
	received  atomic.Int64
	events    chan repositories.TranscriptionEvent
	endOnce   sync.Once
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func (m *MockConnection) SendAudio(chunk repositories.AudioChunk) error {
	m.received.Add(int64(len(chunk.Data)))
	return nil
}

// EndTurn emits the canned transcript followed by a turn completion
func (m *MockConnection) EndTurn() error {
	m.endOnce.Do(func() {
		text := mockTranscript(m.received.Load())
		m.logger.Info("Ending mock transcription turn",
			zap.Int64("bytes", m.received.Load()),
			zap.String("result", text))

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return
		}
		if text != "" {
			m.events <- repositories.TranscriptionEvent{Kind: repositories.EventTranscript, Text: text}
		}
		m.events <- repositories.TranscriptionEvent{Kind: repositories.EventTurnComplete}
		m.closed = true
		close(m.events)
	})
	return nil
}

func (m *MockConnection) Events() <-chan repositories.TranscriptionEvent {
	return m.events
}

func (m *MockConnection) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.closed {
			m.closed = true
			close(m.events)
		}
	})
	return nil
}

// Mock different responses based on cumulative audio size
func mockTranscript(bytes int64) string {
	switch {
	case bytes > 64000:
		return "Bé đi học cùng mẹ."
	case bytes > 16000:
		return "Con mèo nhỏ."
	case bytes > 0:
		return "Mèo."
	default:
		return ""
	}
}
