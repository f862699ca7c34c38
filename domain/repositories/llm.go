package repositories

import "context"

// ReadingTutor abstracts the generative model that coaches the child
type ReadingTutor interface {
	// GenerateReadingText returns a short sentence for a beginner reader
	GenerateReadingText(ctx context.Context) (string, error)
	// GetReadingFeedback compares what the child read with the original text
	// and returns a short, encouraging comment
	GetReadingFeedback(ctx context.Context, originalText, userText string) (string, error)
}
