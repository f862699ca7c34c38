package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/internal/audio"
	"github.com/hsapsbch-blip/betapdoc/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for capture frames
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ErrReaderConnected is returned when a second reader tries to connect
var ErrReaderConnected = errors.New("another reader is already connected")

// HubConfig tunes the per-connection behaviour
type HubConfig struct {
	// How long the browser may take to answer a microphone request
	PermissionTimeout time.Duration
	// Hold the SPEAKING state until the streamed audio has had time to play
	WaitForPlayback bool
}

// Hub owns the single reader connection. The app practices with one child
// at a time, so a second connection is refused until the first goes away.
type Hub struct {
	practices *usecase.PracticeService
	config    HubConfig
	logger    *zap.Logger

	mu     sync.Mutex
	active *Client
}

// NewHub creates a new WebSocket hub
func NewHub(practices *usecase.PracticeService, config HubConfig, logger *zap.Logger) *Hub {
	return &Hub{
		practices: practices,
		config:    config,
		logger:    logger,
	}
}

// Connected reports the reader currently connected, if any
func (h *Hub) Connected() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active == nil {
		return "", false
	}
	return h.active.readerID, true
}

func (h *Hub) reserve(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil {
		return ErrReaderConnected
	}
	h.active = c
	return nil
}

func (h *Hub) release(c *Client) {
	h.mu.Lock()
	if h.active == c {
		h.active = nil
	}
	h.mu.Unlock()
	h.logger.Info("Reader disconnected", zap.String("readerID", c.readerID))
}

// WriteData is one outbound websocket frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the reader's
// practice. It implements usecase.Output.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed; done ends the
	// connection instead.
	send chan WriteData

	done      chan struct{}
	closeOnce sync.Once

	readerID  string
	logger    *zap.Logger
	validator *MessageValidator

	mic      *browserMicrophone
	practice *usecase.Practice
}

// HandleWebSocket upgrades an authenticated reader's request and starts the
// practice for them.
func (h *Hub) HandleWebSocket(c echo.Context, readerID string) error {
	logger := h.logger.With(zap.String("readerID", readerID))
	client := &Client{
		hub:       h,
		send:      make(chan WriteData, 256),
		done:      make(chan struct{}),
		readerID:  readerID,
		logger:    logger,
		validator: NewMessageValidator(),
	}

	if err := h.reserve(client); err != nil {
		logger.Warn("WebSocket connection rejected", zap.Error(err))
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		h.release(client)
		return err
	}
	client.conn = conn
	client.mic = newBrowserMicrophone(client, h.config.PermissionTimeout, logger)
	client.practice = h.practices.NewPractice(readerID, client, client.mic)

	logger.Info("Reader connected")
	client.SendState(usecase.StateIdle)

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the practice.
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.mic.deliver(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.shutdown()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// shutdown tears the connection down once: the microphone is released, the
// practice is stopped and the hub slot is freed.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.mic.shutdown()
		c.practice.Close()
		c.hub.release(c)
	})
}

// processMessage dispatches a control message from the reader
func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendJSON(CreateErrorMessage(ErrorCodeInvalidMessage, "Invalid message", err.Error()))
		return
	}

	switch msg.Type {
	case MessageTypeNewText:
		err = c.practice.NewText()
	case MessageTypeListen:
		err = c.practice.Listen()
	case MessageTypeStartReading:
		err = c.practice.StartReading()
	case MessageTypeStopReading:
		err = c.practice.StopReading()
	case MessageTypeMicrophoneGranted:
		c.mic.answer(true)
	case MessageTypeMicrophoneDenied:
		c.mic.answer(false)
	case MessageTypePing:
		c.sendJSON(CreatePongMessage(msg.Data))
	}

	if err != nil {
		c.logger.Info("Action refused",
			zap.String("type", string(msg.Type)),
			zap.String("state", string(c.practice.State())),
			zap.Error(err))
		c.sendJSON(CreateErrorMessage(errorCode(err), err.Error(), string(msg.Type)))
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, usecase.ErrBusy):
		return ErrorCodeBusy
	case errors.Is(err, usecase.ErrNoText):
		return ErrorCodeNoText
	case errors.Is(err, usecase.ErrNotListening):
		return ErrorCodeNotListening
	default:
		return ErrorCodeInternal
	}
}

// enqueue hands a frame to the write pump. It reports false once the
// connection is gone.
func (c *Client) enqueue(data WriteData) bool {
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) sendJSON(v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return false
	}
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) SendState(state usecase.AppState) {
	c.sendJSON(CreateStateMessage(string(state)))
}

func (c *Client) SendReadingText(text string) {
	c.sendJSON(CreateTextMessage(MessageTypeReadingText, text))
}

func (c *Client) SendTranscription(text string) {
	c.sendJSON(CreateTextMessage(MessageTypeTranscription, text))
}

func (c *Client) SendFeedback(text string) {
	c.sendJSON(CreateTextMessage(MessageTypeFeedback, text))
}

func (c *Client) SendReward(sticker string, collected int) {
	c.sendJSON(CreateRewardMessage(sticker, collected))
}

// PlayAudio streams PCM16 chunks to the browser between speaking_start and
// speaking_end frames.
func (c *Client) PlayAudio(ctx context.Context, sampleRate int, chunks <-chan []byte) error {
	started := time.Now()
	if !c.sendJSON(CreateSpeakingStartMessage(sampleRate)) {
		go drain(chunks)
		return errConnectionClosed
	}

	total := 0
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				c.sendJSON(CreateSpeakingEndMessage(total))
				c.logger.Debug("Audio streamed", zap.Int("bytes", total), zap.Int("sampleRate", sampleRate))
				return c.waitForPlayback(ctx, started, total, sampleRate)
			}
			if !c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: chunk}) {
				go drain(chunks)
				return errConnectionClosed
			}
			total += len(chunk)
		case <-ctx.Done():
			go drain(chunks)
			return ctx.Err()
		}
	}
}

func (c *Client) waitForPlayback(ctx context.Context, started time.Time, total, sampleRate int) error {
	if !c.hub.config.WaitForPlayback || sampleRate <= 0 {
		return nil
	}
	samples := total / audio.BytesPerSample
	remaining := time.Duration(samples)*time.Second/time.Duration(sampleRate) - time.Since(started)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errConnectionClosed
	}
}

func drain(chunks <-chan []byte) {
	for range chunks {
	}
}
