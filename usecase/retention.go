package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

const (
	defaultCleanupInterval = 30 * time.Minute
	defaultInitialDelay    = time.Minute
)

// RetentionService periodically deletes practice attempts older than the
// retention period
type RetentionService struct {
	repo         repositories.PracticeRepository
	retention    time.Duration
	interval     time.Duration
	initialDelay time.Duration
	logger       *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRetentionService creates a new retention service. A non-positive
// retention disables cleanup.
func NewRetentionService(repo repositories.PracticeRepository, retention time.Duration, logger *zap.Logger) *RetentionService {
	return &RetentionService{
		repo:         repo,
		retention:    retention,
		interval:     defaultCleanupInterval,
		initialDelay: defaultInitialDelay,
		logger:       logger,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *RetentionService) Start() {
	if s.retention <= 0 {
		close(s.done)
		s.logger.Info("Attempt retention disabled")
		return
	}
	go s.cleanupLoop()
	s.logger.Info("Attempt retention service started", zap.Duration("retention", s.retention))
}

// Stop gracefully stops the cleanup service and waits for a running pass
func (s *RetentionService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.done
	s.logger.Info("Attempt retention service stopped")
}

func (s *RetentionService) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run initial cleanup shortly after start
	initialTimer := time.NewTimer(s.initialDelay)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.RunOnce(context.Background())
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce deletes expired attempts and returns how many were removed
func (s *RetentionService) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to delete expired attempts", zap.Error(err))
		return 0
	}

	s.logger.Info("Attempt cleanup completed",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted))
	return deleted
}
