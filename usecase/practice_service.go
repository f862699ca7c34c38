package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/domain/entities"
	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
	"github.com/hsapsbch-blip/betapdoc/internal/transcription"
)

// AppState is the practice round state shown to the reader
type AppState string

const (
	StateIdle       AppState = "IDLE"
	StateGenerating AppState = "GENERATING"
	StateListening  AppState = "LISTENING"
	StateAnalysing  AppState = "ANALYSING"
	StateSpeaking   AppState = "SPEAKING"
	StateFeedback   AppState = "FEEDBACK"
)

// Messages shown and spoken to the child
const (
	MessageGenerateFailed        = "Ôi, đã có lỗi xảy ra khi tạo chữ mới. Con thử lại nhé!"
	MessageListenFailed          = "Lỗi rồi! Không thể đọc chữ cho con nghe được."
	MessageNothingHeard          = "Tiếc quá, cô chưa nghe con đọc gì cả. Con thử lại nhé!"
	MessageFeedbackFailed        = "Có lỗi khi nhận xét bài đọc của con. Thử lại sau nhé!"
	MessageRecordingFailed       = "Có lỗi khi ghi âm. Con thử lại nhé."
	MessageMicrophoneUnavailable = "Không thể nghe được con đọc. Con hãy chắc chắn đã cho phép dùng micro nhé."
)

var (
	ErrBusy         = errors.New("practice is busy")
	ErrNoText       = errors.New("no reading text yet")
	ErrNotListening = errors.New("not listening")
	ErrClosed       = errors.New("practice closed")
)

const saveTimeout = 5 * time.Second

// Every rewardThreshold successful readings earn the next sticker
const rewardThreshold = 3

var stickers = []string{"🦄", "🚀", "🦖", "🦁", "🍓", "🎉", "🌈", "⭐", "🤖", "🦋", "🎈", "🏆"}

// stickerFor returns the sticker earned by the count-th successful reading
func stickerFor(count int) (string, bool) {
	if count <= 0 || count%rewardThreshold != 0 {
		return "", false
	}
	return stickers[(count/rewardThreshold-1)%len(stickers)], true
}

// Output receives everything a practice round reports to the reader
type Output interface {
	SendState(state AppState)
	SendReadingText(text string)
	SendTranscription(text string)
	SendFeedback(text string)
	// SendReward shows a newly earned sticker; collected counts it
	SendReward(sticker string, collected int)
	// PlayAudio streams PCM16 audio to the reader and returns when the
	// channel is drained
	PlayAudio(ctx context.Context, sampleRate int, audio <-chan []byte) error
}

// SessionStarter opens transcription sessions
type SessionStarter interface {
	StartSession(ctx context.Context, mic repositories.Microphone) (*transcription.Session, error)
}

// PracticeService wires the tutor, speech synthesis, transcription and
// attempt history together. One Practice is created per connected reader.
type PracticeService struct {
	tutor    repositories.ReadingTutor
	speech   repositories.TextToSpeech
	sessions SessionStarter
	attempts repositories.PracticeRepository
	logger   *zap.Logger
}

// NewPracticeService creates a new practice service
func NewPracticeService(
	tutor repositories.ReadingTutor,
	speech repositories.TextToSpeech,
	sessions SessionStarter,
	attempts repositories.PracticeRepository,
	logger *zap.Logger,
) *PracticeService {
	return &PracticeService{
		tutor:    tutor,
		speech:   speech,
		sessions: sessions,
		attempts: attempts,
		logger:   logger,
	}
}

// History returns the reader's most recent attempts
func (s *PracticeService) History(ctx context.Context, readerID string, limit int) ([]*entities.PracticeAttempt, error) {
	return s.attempts.ListRecent(ctx, readerID, limit)
}

// Practice is the state machine for one reader's rounds:
// IDLE -> GENERATING -> IDLE, IDLE -> SPEAKING -> IDLE and
// IDLE -> LISTENING -> ANALYSING -> SPEAKING -> FEEDBACK.
type Practice struct {
	service  *PracticeService
	readerID string
	out      Output
	mic      repositories.Microphone
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	state         AppState
	text          string
	session       *transcription.Session
	stopRequested bool
	closed        bool

	completed int
	collected []string
}

// NewPractice creates the practice state machine for a reader
func (s *PracticeService) NewPractice(readerID string, out Output, mic repositories.Microphone) *Practice {
	ctx, cancel := context.WithCancel(context.Background())
	return &Practice{
		service:  s,
		readerID: readerID,
		out:      out,
		mic:      mic,
		logger:   s.logger.With(zap.String("readerID", readerID)),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
	}
}

// State returns the current state
func (p *Practice) State() AppState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Text returns the sentence being practised
func (p *Practice) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

// Stickers returns the stickers collected during this connection
func (p *Practice) Stickers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.collected...)
}

// NewText generates the next sentence. Allowed when idle or after feedback.
func (p *Practice) NewText() error {
	if err := p.begin(StateGenerating, false, StateIdle, StateFeedback); err != nil {
		return err
	}
	p.mu.Lock()
	p.text = ""
	p.mu.Unlock()

	p.spawn(func() {
		defer p.setState(StateIdle)

		text, err := p.service.tutor.GenerateReadingText(p.ctx)
		if err != nil {
			p.logger.Error("Failed to generate reading text", zap.Error(err))
			p.capture(err, "generate_text")
			p.out.SendFeedback(MessageGenerateFailed)
			return
		}

		p.mu.Lock()
		p.text = text
		p.mu.Unlock()
		p.out.SendReadingText(text)
	})
	return nil
}

// Listen reads the current sentence aloud
func (p *Practice) Listen() error {
	if err := p.begin(StateSpeaking, true, StateIdle); err != nil {
		return err
	}
	text := p.Text()

	p.spawn(func() {
		defer p.setState(StateIdle)

		if err := p.play(text); err != nil {
			p.logger.Error("Failed to read text aloud", zap.Error(err))
			p.capture(err, "listen")
			p.out.SendFeedback(MessageListenFailed)
		}
	})
	return nil
}

// StartReading opens a transcription session and, once it settles, asks the
// tutor for feedback
func (p *Practice) StartReading() error {
	if err := p.begin(StateListening, true, StateIdle); err != nil {
		return err
	}
	p.mu.Lock()
	p.stopRequested = false
	text := p.text
	p.mu.Unlock()

	p.spawn(func() { p.read(text) })
	return nil
}

// StopReading ends the child's turn. The transcript arrives shortly after.
func (p *Practice) StopReading() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateListening {
		return ErrNotListening
	}
	if p.session != nil {
		p.session.Stop()
	} else {
		// still waiting for the microphone
		p.stopRequested = true
	}
	return nil
}

// Close stops any running session and waits for background work
func (p *Practice) Close() {
	p.mu.Lock()
	p.closed = true
	session := p.session
	p.mu.Unlock()

	p.cancel()
	if session != nil {
		session.Stop()
	}
	p.wg.Wait()
}

func (p *Practice) read(text string) {
	attempt := entities.NewPracticeAttempt(p.readerID, text)

	session, err := p.service.sessions.StartSession(p.ctx, p.mic)
	if err != nil {
		var permErr *transcription.PermissionError
		message := MessageRecordingFailed
		if errors.As(err, &permErr) {
			message = MessageMicrophoneUnavailable
			p.logger.Warn("Microphone unavailable", zap.Error(err))
		} else {
			p.logger.Error("Failed to start transcription session", zap.Error(err))
			p.capture(err, "start_reading")
		}
		p.out.SendFeedback(message)
		attempt.Fail(err, message)
		p.save(attempt)
		p.setState(StateIdle)
		return
	}

	p.mu.Lock()
	p.session = session
	stop := p.stopRequested || p.closed
	p.mu.Unlock()
	if stop {
		session.Stop()
	}

	// Sessions always settle: the manager bounds them with its own timeouts
	transcript, err := session.Wait(context.Background())

	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Transcription session rejected",
			zap.String("sessionID", session.ID()),
			zap.Error(err))
		p.capture(err, "transcription")
		p.out.SendFeedback(MessageRecordingFailed)
		attempt.Fail(err, MessageRecordingFailed)
		p.save(attempt)
		p.setState(StateIdle)
		return
	}

	p.processTranscription(attempt, transcript)
}

func (p *Practice) processTranscription(attempt *entities.PracticeAttempt, transcript string) {
	p.setState(StateAnalysing)
	p.out.SendTranscription(transcript)

	var feedback, sticker string
	var collected int
	var earned bool
	if strings.TrimSpace(transcript) == "" {
		feedback = MessageNothingHeard
		attempt.Complete("", feedback)
	} else {
		var err error
		feedback, err = p.service.tutor.GetReadingFeedback(p.ctx, attempt.ReadingText, transcript)
		if err != nil {
			p.logger.Error("Failed to get reading feedback", zap.Error(err))
			p.capture(err, "feedback")
			feedback = MessageFeedbackFailed
			attempt.Transcript = transcript
			attempt.Fail(err, feedback)
		} else {
			attempt.Complete(transcript, feedback)
			sticker, collected, earned = p.countReading()
		}
	}

	p.out.SendFeedback(feedback)
	if earned {
		p.out.SendReward(sticker, collected)
	}
	p.save(attempt)

	if err := p.play(feedback); err != nil {
		p.logger.Warn("Failed to speak feedback", zap.Error(err))
	}
	p.setState(StateFeedback)
}

// countReading records a reading that got feedback and reports a sticker
// when it reaches the next reward
func (p *Practice) countReading() (string, int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completed++
	sticker, ok := stickerFor(p.completed)
	if ok {
		p.collected = append(p.collected, sticker)
		p.logger.Info("Sticker earned",
			zap.String("sticker", sticker),
			zap.Int("readings", p.completed))
	}
	return sticker, len(p.collected), ok
}

func (p *Practice) play(text string) error {
	p.setState(StateSpeaking)
	audio, err := p.service.speech.ConvertTextToSpeech(p.ctx, text)
	if err != nil {
		return err
	}
	return p.out.PlayAudio(p.ctx, p.service.speech.SampleRate(), audio)
}

func (p *Practice) save(attempt *entities.PracticeAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := p.service.attempts.Create(ctx, attempt); err != nil {
		p.logger.Error("Failed to save practice attempt",
			zap.String("attemptID", attempt.ID),
			zap.Error(err))
		p.capture(err, "save_attempt")
		return
	}
	p.logger.Info("Practice attempt saved",
		zap.String("attemptID", attempt.ID),
		zap.String("outcome", string(attempt.Outcome)),
		zap.Int64("durationMs", attempt.DurationMs))
}

// begin moves to next if the current state is one of from and reserves a
// slot for the background work that follows; callers must spawn.
func (p *Practice) begin(next AppState, needText bool, from ...AppState) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	allowed := false
	for _, s := range from {
		if p.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		p.mu.Unlock()
		return ErrBusy
	}
	if needText && p.text == "" {
		p.mu.Unlock()
		return ErrNoText
	}
	p.state = next
	p.wg.Add(1)
	p.mu.Unlock()

	p.out.SendState(next)
	return nil
}

func (p *Practice) setState(state AppState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	p.out.SendState(state)
}

func (p *Practice) spawn(fn func()) {
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Practice) capture(err error, operation string) {
	if errors.Is(err, context.Canceled) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("operation", operation)
		scope.SetUser(sentry.User{ID: p.readerID})
		sentry.CaptureException(err)
	})
}
