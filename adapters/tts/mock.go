package tts

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hsapsbch-blip/betapdoc/internal/audio"
)

const (
	mockSampleRate     = 24000
	mockToneHz         = 440
	mockRunesPerSecond = 20
)

// MockTTS produces a soft tone whose length follows the text length
type MockTTS struct{}

// NewMockTTS creates a new mock TTS
func NewMockTTS() *MockTTS {
	return &MockTTS{}
}

func (m *MockTTS) SampleRate() int {
	return mockSampleRate
}

func (m *MockTTS) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	n := utf8.RuneCountInString(text) * mockSampleRate / mockRunesPerSecond
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*mockToneHz*float64(i)/mockSampleRate))
	}
	pcm := audio.EncodePCM16(samples)

	audioChan := make(chan []byte, 4)
	go func() {
		defer close(audioChan)
		for offset := 0; offset < len(pcm); offset += defaultGeminiChunkSize {
			end := min(offset+defaultGeminiChunkSize, len(pcm))
			select {
			case audioChan <- pcm[offset:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioChan, nil
}
