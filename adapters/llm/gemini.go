package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

const (
	defaultModel               = "gemini-2.5-flash"
	defaultTextTemperature     = 1.0
	defaultTextTopP            = 0.95
	defaultFeedbackTemperature = 0.5
	defaultTimeoutSeconds      = 20
	maxAttempts                = 3
)

// ErrEmptyResponse is returned when the model answers without any text
var ErrEmptyResponse = errors.New("no content generated")

// GeminiConfig holds configuration for the GeminiTutor adapter
type GeminiConfig struct {
	APIKey              string  // Required
	Model               string  // Optional: defaults to gemini-2.5-flash
	TextTemperature     float32 // Optional: sampling temperature for new sentences
	TextTopP            float32 // Optional
	FeedbackTemperature float32 // Optional: sampling temperature for feedback
	TimeoutSeconds      int     // Optional: per request
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Gemini accepts temperatures up to 2
	if config.TextTemperature < 0 || config.TextTemperature > 2 {
		return fmt.Errorf("text temperature must be between 0 and 2, got %f", config.TextTemperature)
	}
	if config.FeedbackTemperature < 0 || config.FeedbackTemperature > 2 {
		return fmt.Errorf("feedback temperature must be between 0 and 2, got %f", config.FeedbackTemperature)
	}

	if config.TextTopP < 0 || config.TextTopP > 1 {
		return fmt.Errorf("topP must be between 0 and 1, got %f", config.TextTopP)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must be positive, got %d", config.TimeoutSeconds)
	}

	return nil
}

// GeminiTutor implements ReadingTutor using Google's Gemini API
type GeminiTutor struct {
	client              *genai.Client
	logger              *zap.Logger
	model               string
	textTemperature     float32
	textTopP            float32
	feedbackTemperature float32
	timeout             time.Duration
}

var _ repositories.ReadingTutor = (*GeminiTutor)(nil)

// NewGeminiTutor creates a new Gemini-backed reading tutor
func NewGeminiTutor(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiTutor, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	// Apply defaults where needed
	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	textTemperature := config.TextTemperature
	if textTemperature == 0 {
		textTemperature = defaultTextTemperature
	}

	textTopP := config.TextTopP
	if textTopP == 0 {
		textTopP = defaultTextTopP
	}

	feedbackTemperature := config.FeedbackTemperature
	if feedbackTemperature == 0 {
		feedbackTemperature = defaultFeedbackTemperature
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}

	return &GeminiTutor{
		client:              client,
		logger:              logger,
		model:               model,
		textTemperature:     textTemperature,
		textTopP:            textTopP,
		feedbackTemperature: feedbackTemperature,
		timeout:             time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// GenerateReadingText asks for a 4-6 word sentence for a first-grader
func (g *GeminiTutor) GenerateReadingText(ctx context.Context) (string, error) {
	text, err := g.generate(ctx, readingTextPrompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.textTemperature),
		TopP:        genai.Ptr(g.textTopP),
	})
	if err != nil {
		return "", fmt.Errorf("could not generate reading text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// GetReadingFeedback asks for at most two encouraging sentences comparing
// the child's reading with the original
func (g *GeminiTutor) GetReadingFeedback(ctx context.Context, originalText, userText string) (string, error) {
	text, err := g.generate(ctx, feedbackPrompt(originalText, userText), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.feedbackTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("could not get reading feedback: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (g *GeminiTutor) generate(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := genai.Text(prompt)

	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = g.client.Models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			break
		}

		g.logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	if err != nil {
		return "", err
	}

	text := response.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}

	g.logger.Debug("Generated content",
		zap.String("model", g.model),
		zap.String("preview", preview(text, 50)))

	return text, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
