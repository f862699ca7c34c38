package llm

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

var mockSentences = []string{
	"Bé đi học cùng mẹ.",
	"Con mèo nằm ngủ.",
	"Em yêu bầu trời xanh.",
	"Bố trồng cây trong vườn.",
}

// MockTutor is a placeholder implementation of ReadingTutor
type MockTutor struct {
	next atomic.Int64
}

// NewMockTutor creates a new mock tutor
func NewMockTutor() repositories.ReadingTutor {
	return &MockTutor{}
}

// GenerateReadingText cycles through a fixed list of sentences
func (m *MockTutor) GenerateReadingText(ctx context.Context) (string, error) {
	i := m.next.Add(1) - 1
	return mockSentences[int(i)%len(mockSentences)], nil
}

// GetReadingFeedback praises an exact match and otherwise names the text
func (m *MockTutor) GetReadingFeedback(ctx context.Context, originalText, userText string) (string, error) {
	if normalize(originalText) == normalize(userText) {
		return "Con đọc giỏi quá! Đúng hết rồi.", nil
	}
	return fmt.Sprintf("Con cố gắng lắm! Mình cùng đọc lại câu \"%s\" nhé.", originalText), nil
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimRight(s, ".!?")
}
