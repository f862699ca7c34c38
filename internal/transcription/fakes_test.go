package transcription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

type fakeCapture struct {
	frames     chan []float32
	startCalls atomic.Int32
	closeCalls atomic.Int32
	startErr   error
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{frames: make(chan []float32, 256)}
}

func (c *fakeCapture) Start() error {
	c.startCalls.Add(1)
	return c.startErr
}

func (c *fakeCapture) Frames() <-chan []float32 { return c.frames }

func (c *fakeCapture) Close() error {
	c.closeCalls.Add(1)
	return nil
}

type fakeMicrophone struct {
	stream  *fakeCapture
	openErr error
	opens   atomic.Int32
}

func (m *fakeMicrophone) Open(ctx context.Context, sampleRate int) (repositories.CaptureStream, error) {
	m.opens.Add(1)
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m.stream, nil
}

type fakeConn struct {
	mu         sync.Mutex
	sent       []repositories.AudioChunk
	events     chan repositories.TranscriptionEvent
	endTurns   atomic.Int32
	closeCalls atomic.Int32
	sendErr    error
	endTurnErr error

	// chunks already sent when EndTurn was first called
	sentBeforeEndTurn int
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan repositories.TranscriptionEvent, 16)}
}

func (c *fakeConn) SendAudio(chunk repositories.AudioChunk) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, chunk)
	return nil
}

func (c *fakeConn) EndTurn() error {
	if c.endTurns.Add(1) == 1 {
		c.mu.Lock()
		c.sentBeforeEndTurn = len(c.sent)
		c.mu.Unlock()
	}
	return c.endTurnErr
}

func (c *fakeConn) Events() <-chan repositories.TranscriptionEvent { return c.events }

func (c *fakeConn) Close() error {
	c.closeCalls.Add(1)
	return nil
}

func (c *fakeConn) sentChunks() []repositories.AudioChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]repositories.AudioChunk, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) transcript(text string) {
	c.events <- repositories.TranscriptionEvent{Kind: repositories.EventTranscript, Text: text}
}

func (c *fakeConn) turnComplete() {
	c.events <- repositories.TranscriptionEvent{Kind: repositories.EventTurnComplete}
}

func (c *fakeConn) fail(err error) {
	c.events <- repositories.TranscriptionEvent{Kind: repositories.EventError, Err: err}
}

func (c *fakeConn) hangUp() {
	c.events <- repositories.TranscriptionEvent{Kind: repositories.EventClosed}
}

type fakeTranscriber struct {
	conn       *fakeConn
	connectErr error
	connects   atomic.Int32
	lastConfig repositories.AudioConfig
}

func (t *fakeTranscriber) Connect(ctx context.Context, config repositories.AudioConfig) (repositories.RealtimeConnection, error) {
	t.connects.Add(1)
	t.lastConfig = config
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	return t.conn, nil
}

var errRemote = errors.New("remote: internal error")
