package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAttemptNotFound is returned by repositories when no attempt matches
var ErrAttemptNotFound = errors.New("practice attempt not found")

// AttemptOutcome represents how a reading attempt ended
type AttemptOutcome string

const (
	// OutcomeRead means the child was heard and feedback was generated
	OutcomeRead AttemptOutcome = "read"
	// OutcomeNothingHeard means the session finished with an empty transcript
	OutcomeNothingHeard AttemptOutcome = "nothing_heard"
	// OutcomeFailed means the recording or the feedback failed
	OutcomeFailed AttemptOutcome = "failed"
)

// PracticeAttempt is one "read this sentence aloud" round
type PracticeAttempt struct {
	ID          string         `json:"id" bson:"_id"`
	ReaderID    string         `json:"reader_id" bson:"reader_id"`
	ReadingText string         `json:"reading_text" bson:"reading_text"`
	Transcript  string         `json:"transcript" bson:"transcript"`
	Feedback    string         `json:"feedback" bson:"feedback"`
	Outcome     AttemptOutcome `json:"outcome" bson:"outcome"`
	Error       string         `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at" bson:"started_at"`
	DurationMs  int64          `json:"duration_ms" bson:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
}

// NewPracticeAttempt starts an attempt for the given sentence
func NewPracticeAttempt(readerID, readingText string) *PracticeAttempt {
	now := time.Now()
	return &PracticeAttempt{
		ID:          uuid.New().String(),
		ReaderID:    readerID,
		ReadingText: readingText,
		StartedAt:   now,
		CreatedAt:   now,
	}
}

// Complete records the transcript and the tutor's feedback
func (a *PracticeAttempt) Complete(transcript, feedback string) {
	a.Transcript = transcript
	a.Feedback = feedback
	if transcript == "" {
		a.Outcome = OutcomeNothingHeard
	} else {
		a.Outcome = OutcomeRead
	}
	a.finish()
}

// Fail records why the attempt could not be finished
func (a *PracticeAttempt) Fail(err error, feedback string) {
	a.Outcome = OutcomeFailed
	a.Feedback = feedback
	if err != nil {
		a.Error = err.Error()
	}
	a.finish()
}

func (a *PracticeAttempt) finish() {
	a.DurationMs = time.Since(a.StartedAt).Milliseconds()
}

// Finished reports whether an outcome has been recorded
func (a *PracticeAttempt) Finished() bool {
	return a.Outcome != ""
}

// Validate validates the attempt data
func (a *PracticeAttempt) Validate() error {
	if a.ID == "" {
		return errors.New("id is required")
	}
	if a.ReaderID == "" {
		return errors.New("reader_id is required")
	}
	if a.ReadingText == "" {
		return errors.New("reading_text is required")
	}

	switch a.Outcome {
	case OutcomeRead, OutcomeNothingHeard, OutcomeFailed:
	default:
		return errors.New("invalid attempt outcome")
	}

	return nil
}
