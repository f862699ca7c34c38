package repositories

import "context"

// TextToSpeech abstracts speech synthesis. Audio is streamed as raw PCM chunks;
// the channel is closed when synthesis finishes or fails.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
	// SampleRate of the PCM produced by ConvertTextToSpeech
	SampleRate() int
}
