package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

const defaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// GeminiLiveConfig holds the settings for the Gemini Live transcriber
type GeminiLiveConfig struct {
	APIKey string
	Model  string
}

// GeminiLiveTranscriber implements RealtimeTranscriber on the Gemini Live API
// with input audio transcription enabled.
type GeminiLiveTranscriber struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiLiveTranscriber creates a Gemini Live client
func NewGeminiLiveTranscriber(ctx context.Context, config GeminiLiveConfig, logger *zap.Logger) (*GeminiLiveTranscriber, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultLiveModel
		logger.Info("Using default live model", zap.String("model", model))
	}

	return &GeminiLiveTranscriber{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

// Connect opens a live session. Only the input transcription is consumed;
// the model's spoken reply is ignored.
func (g *GeminiLiveTranscriber) Connect(ctx context.Context, config repositories.AudioConfig) (repositories.RealtimeConnection, error) {
	session, err := g.client.Live.Connect(ctx, g.model, &genai.LiveConnectConfig{
		ResponseModalities:      []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect live session: %w", err)
	}

	g.logger.Debug("Live session connected",
		zap.String("model", g.model),
		zap.String("mimeType", config.MIMEType()))

	conn := &geminiLiveConnection{
		session: session,
		logger:  g.logger,
		events:  make(chan repositories.TranscriptionEvent, 16),
		done:    make(chan struct{}),
	}
	go conn.receive()

	return conn, nil
}

type geminiLiveConnection struct {
	session   *genai.Session
	logger    *zap.Logger
	events    chan repositories.TranscriptionEvent
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *geminiLiveConnection) SendAudio(chunk repositories.AudioChunk) error {
	if err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk.Data, MIMEType: chunk.MIMEType},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (c *geminiLiveConnection) EndTurn() error {
	if err := c.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true}); err != nil {
		return fmt.Errorf("failed to end audio stream: %w", err)
	}
	return nil
}

func (c *geminiLiveConnection) Events() <-chan repositories.TranscriptionEvent {
	return c.events
}

func (c *geminiLiveConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.session.Close()
	})
	return c.closeErr
}

func (c *geminiLiveConnection) receive() {
	defer close(c.events)

	for {
		msg, err := c.session.Receive()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.logger.Debug("Live session closed by server",
					zap.Int("code", closeErr.Code),
					zap.String("reason", closeErr.Text))
				c.emit(repositories.TranscriptionEvent{Kind: repositories.EventClosed})
				return
			}
			c.emit(repositories.TranscriptionEvent{Kind: repositories.EventError, Err: err})
			return
		}

		content := msg.ServerContent
		if content == nil {
			continue
		}
		if content.InputTranscription != nil && content.InputTranscription.Text != "" {
			c.emit(repositories.TranscriptionEvent{
				Kind: repositories.EventTranscript,
				Text: content.InputTranscription.Text,
			})
		}
		if content.TurnComplete {
			c.emit(repositories.TranscriptionEvent{Kind: repositories.EventTurnComplete})
			return
		}
	}
}

func (c *geminiLiveConnection) emit(event repositories.TranscriptionEvent) {
	select {
	case c.events <- event:
	case <-c.done:
	}
}
