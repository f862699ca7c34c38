package tts

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

const (
	defaultGeminiTTSModel  = "gemini-2.5-flash-preview-tts"
	defaultGeminiVoice     = "Kore"
	geminiTTSSampleRate    = 24000
	defaultGeminiChunkSize = 4800 // 100ms of 24 kHz PCM16
)

// GeminiTTSConfig holds configuration for the GeminiTTS adapter
type GeminiTTSConfig struct {
	APIKey    string
	Model     string
	Voice     string
	ChunkSize int
}

// GeminiTTS implements TextToSpeech with the Gemini speech generation model.
// The model answers with one block of 24 kHz mono PCM16 which is re-chunked
// onto the output channel.
type GeminiTTS struct {
	client    *genai.Client
	model     string
	voice     string
	chunkSize int
	logger    *zap.Logger
}

var _ repositories.TextToSpeech = (*GeminiTTS)(nil)

// NewGeminiTTS creates a new Gemini TTS instance
func NewGeminiTTS(ctx context.Context, config GeminiTTSConfig, logger *zap.Logger) (*GeminiTTS, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if config.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
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
		model = defaultGeminiTTSModel
		logger.Info("Using default TTS model", zap.String("model", model))
	}

	voice := config.Voice
	if voice == "" {
		voice = defaultGeminiVoice
		logger.Info("Using default voice", zap.String("voice", voice))
	}

	chunkSize := config.ChunkSize
	if chunkSize == 0 {
		chunkSize = defaultGeminiChunkSize
	}
	// keep chunks sample aligned
	chunkSize -= chunkSize % 2

	return &GeminiTTS{
		client:    client,
		model:     model,
		voice:     voice,
		chunkSize: chunkSize,
		logger:    logger,
	}, nil
}

func (g *GeminiTTS) SampleRate() int {
	return geminiTTSSampleRate
}

// ConvertTextToSpeech synthesizes text. The request is made before returning
// so that API errors reach the caller; the audio is then streamed.
func (g *GeminiTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	g.logger.Info("Converting text to speech",
		zap.String("text", text),
		zap.String("voice", g.voice),
		zap.String("model", g.model))

	response, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.voice},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("could not convert text to speech: %w", err)
	}

	audio := inlineAudio(response)
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio data returned from API")
	}

	audioChan := make(chan []byte, 10)
	go func() {
		defer close(audioChan)
		for offset := 0; offset < len(audio); offset += g.chunkSize {
			end := min(offset+g.chunkSize, len(audio))
			select {
			case audioChan <- audio[offset:end]:
			case <-ctx.Done():
				g.logger.Warn("Context cancelled while sending audio chunk")
				return
			}
		}
		g.logger.Debug("Finished streaming audio data", zap.Int("totalBytes", len(audio)))
	}()

	return audioChan, nil
}

func inlineAudio(response *genai.GenerateContentResponse) []byte {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range response.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data
		}
	}
	return nil
}
