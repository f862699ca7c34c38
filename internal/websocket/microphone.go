package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
	"github.com/hsapsbch-blip/betapdoc/internal/audio"
)

const (
	// Capture frames buffered between the socket and the transcription session
	captureBuffer = 64

	defaultPermissionTimeout = 30 * time.Second
)

var (
	errConnectionClosed = errors.New("websocket connection closed")
	errRequestPending   = errors.New("microphone request already pending")
	errCaptureClosed    = errors.New("capture stream closed")
)

// browserMicrophone is the reader's browser acting as the capture device.
// Open asks the page for permission; granted capture arrives as binary
// frames of float32 samples.
type browserMicrophone struct {
	client  *Client
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending chan *captureStream
	stream  *captureStream
}

func newBrowserMicrophone(client *Client, timeout time.Duration, logger *zap.Logger) *browserMicrophone {
	if timeout <= 0 {
		timeout = defaultPermissionTimeout
	}
	return &browserMicrophone{client: client, timeout: timeout, logger: logger}
}

// Open implements repositories.Microphone
func (m *browserMicrophone) Open(ctx context.Context, sampleRate int) (repositories.CaptureStream, error) {
	m.mu.Lock()
	if m.pending != nil {
		m.mu.Unlock()
		return nil, errRequestPending
	}
	answer := make(chan *captureStream, 1)
	m.pending = answer
	m.mu.Unlock()

	if !m.client.sendJSON(CreateMicrophoneRequestMessage(sampleRate)) {
		m.abandon(answer)
		return nil, errConnectionClosed
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	var err error
	select {
	case stream := <-answer:
		if stream == nil {
			return nil, repositories.ErrMicrophonePermissionDenied
		}
		m.logger.Info("Microphone granted", zap.Int("sampleRate", sampleRate))
		return stream, nil
	case <-timer.C:
		err = fmt.Errorf("%w: no answer within %s", repositories.ErrMicrophonePermissionDenied, m.timeout)
	case <-ctx.Done():
		err = ctx.Err()
	case <-m.client.done:
		err = errConnectionClosed
	}
	m.abandon(answer)
	return nil, err
}

// abandon withdraws a request Open stopped waiting for. A grant that raced
// the withdrawal is released again.
func (m *browserMicrophone) abandon(answer chan *captureStream) {
	m.mu.Lock()
	if m.pending == answer {
		m.pending = nil
	}
	m.mu.Unlock()

	select {
	case stream := <-answer:
		if stream != nil {
			stream.Close()
		}
	default:
	}
}

// answer resolves a pending permission request. It runs on the read
// goroutine, so a granted stream exists before the next binary frame is read.
func (m *browserMicrophone) answer(granted bool) {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil

	if pending == nil {
		m.mu.Unlock()
		m.logger.Warn("Microphone answer without a pending request", zap.Bool("granted", granted))
		return
	}

	var stream *captureStream
	if granted && m.stream == nil {
		stream = &captureStream{
			mic:    m,
			frames: make(chan []float32, captureBuffer),
		}
		m.stream = stream
	} else if granted {
		m.logger.Warn("Microphone granted while a capture is still open")
	}
	m.mu.Unlock()

	pending <- stream
}

// deliver hands one binary capture frame to the open stream
func (m *browserMicrophone) deliver(data []byte) {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()

	if stream == nil {
		m.logger.Debug("Dropping capture frame, microphone not open", zap.Int("size", len(data)))
		return
	}

	frame, err := audio.DecodeFloat32(data)
	if err != nil {
		m.logger.Warn("Invalid capture frame", zap.Error(err))
		return
	}
	stream.push(frame)
}

// shutdown releases the device when the connection goes away
func (m *browserMicrophone) shutdown() {
	m.mu.Lock()
	stream := m.stream
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

func (m *browserMicrophone) release(stream *captureStream) {
	m.mu.Lock()
	if m.stream == stream {
		m.stream = nil
	}
	m.mu.Unlock()

	m.client.sendJSON(CreateMicrophoneReleaseMessage())
	m.logger.Info("Microphone released", zap.Int("frames", stream.delivered))
}

type captureStream struct {
	mic    *browserMicrophone
	frames chan []float32

	mu        sync.Mutex
	started   bool
	closed    bool
	early     [][]float32
	delivered int
	dropped   int
}

// Start releases frames captured since the grant, then delivers live
func (s *captureStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errCaptureClosed
	}
	s.started = true
	for _, frame := range s.early {
		s.offer(frame)
	}
	s.early = nil
	return nil
}

func (s *captureStream) Frames() <-chan []float32 {
	return s.frames
}

func (s *captureStream) push(frame []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if !s.started {
		if len(s.early) < captureBuffer {
			s.early = append(s.early, frame)
		} else {
			s.dropped++
		}
		return
	}
	s.offer(frame)
}

func (s *captureStream) offer(frame []float32) {
	select {
	case s.frames <- frame:
		s.delivered++
	default:
		s.dropped++
		s.mic.logger.Warn("Capture buffer full, dropping frame", zap.Int("dropped", s.dropped))
	}
}

func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.frames)
	s.mu.Unlock()

	s.mic.release(s)
	return nil
}
