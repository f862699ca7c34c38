package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

// GoogleSpeechTranscriber implements RealtimeTranscriber for Google Cloud
// Speech-to-Text streaming recognition. Credentials come from the
// environment (GOOGLE_APPLICATION_CREDENTIALS).
type GoogleSpeechTranscriber struct {
	logger *zap.Logger
}

// NewGoogleSpeechTranscriber creates a Google Cloud Speech transcriber
func NewGoogleSpeechTranscriber(logger *zap.Logger) *GoogleSpeechTranscriber {
	return &GoogleSpeechTranscriber{logger: logger}
}

// Connect opens a streaming recognition call. The call lives until ctx is
// cancelled or the connection is closed.
func (g *GoogleSpeechTranscriber) Connect(ctx context.Context, config repositories.AudioConfig) (repositories.RealtimeConnection, error) {
	// Convert encoding string to Google Speech API enum
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(streamingConfigRequest(encoding, config)); err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	return newGoogleSpeechConnection(client, stream, cancel, g.logger), nil
}

// streamingConfigRequest opens the recognition. The turn is ended by
// EndTurn, not by the server's end-of-utterance detection.
func streamingConfigRequest(encoding speechpb.RecognitionConfig_AudioEncoding, config repositories.AudioConfig) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        encoding,
					SampleRateHertz: int32(config.SampleRate),
					LanguageCode:    config.Language,
				},
				InterimResults:  false, // We only want final results
				SingleUtterance: false,
			},
		},
	}
}

func newGoogleSpeechConnection(client *speech.Client, stream speechpb.Speech_StreamingRecognizeClient, cancel context.CancelFunc, logger *zap.Logger) *googleSpeechConnection {
	conn := &googleSpeechConnection{
		client: client,
		stream: stream,
		cancel: cancel,
		logger: logger,
		events: make(chan repositories.TranscriptionEvent, 16),
		done:   make(chan struct{}),
	}
	go conn.receive()
	return conn
}

type googleSpeechConnection struct {
	client    *speech.Client
	stream    speechpb.Speech_StreamingRecognizeClient
	cancel    context.CancelFunc
	logger    *zap.Logger
	events    chan repositories.TranscriptionEvent
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// set once the server stopped taking audio
	sendClosed atomic.Bool
}

func (g *googleSpeechConnection) SendAudio(chunk repositories.AudioChunk) error {
	if len(chunk.Data) == 0 || g.sendClosed.Load() {
		return nil
	}
	err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk.Data,
		},
	})
	if errors.Is(err, io.EOF) {
		// the call already ended; Recv carries the results and the status
		g.sendClosed.Store(true)
		g.logger.Debug("Speech stream no longer accepts audio, dropping frames")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// EndTurn half-closes the stream; the server answers with its final results
// and then io.EOF.
func (g *googleSpeechConnection) EndTurn() error {
	if err := g.stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send stream: %w", err)
	}
	return nil
}

func (g *googleSpeechConnection) Events() <-chan repositories.TranscriptionEvent {
	return g.events
}

func (g *googleSpeechConnection) Close() error {
	g.closeOnce.Do(func() {
		close(g.done)
		g.cancel()
		if g.client != nil {
			g.closeErr = g.client.Close()
		}
	})
	return g.closeErr
}

func (g *googleSpeechConnection) receive() {
	defer close(g.events)

	fragments := 0
	for {
		resp, err := g.stream.Recv()
		if errors.Is(err, io.EOF) {
			g.emit(repositories.TranscriptionEvent{Kind: repositories.EventTurnComplete})
			return
		}
		if err != nil {
			if status.Code(err) == codes.Canceled {
				g.emit(repositories.TranscriptionEvent{Kind: repositories.EventClosed})
				return
			}
			g.emit(repositories.TranscriptionEvent{
				Kind: repositories.EventError,
				Err:  fmt.Errorf("failed to receive response: %w", err),
			})
			return
		}

		if resp.Error != nil {
			g.emit(repositories.TranscriptionEvent{
				Kind: repositories.EventError,
				Err:  status.ErrorProto(resp.Error),
			})
			return
		}

		for _, result := range resp.Results {
			if !result.IsFinal || len(result.Alternatives) == 0 {
				continue
			}
			// Take the best alternative
			text := result.Alternatives[0].Transcript
			if text == "" {
				continue
			}
			if fragments > 0 {
				text = " " + text
			}
			fragments++
			g.emit(repositories.TranscriptionEvent{Kind: repositories.EventTranscript, Text: text})
		}
	}
}

func (g *googleSpeechConnection) emit(event repositories.TranscriptionEvent) {
	select {
	case g.events <- event:
	case <-g.done:
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
