package adapters

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hsapsbch-blip/betapdoc/domain/entities"
	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

// MemoryPracticeRepository is an in-memory implementation of
// PracticeRepository, used when no MongoDB URI is configured
type MemoryPracticeRepository struct {
	mu       sync.RWMutex
	attempts map[string]*entities.PracticeAttempt // id -> attempt
	readers  map[string][]string                  // reader_id -> attempt ids, oldest first
}

var _ repositories.PracticeRepository = (*MemoryPracticeRepository)(nil)

// NewMemoryPracticeRepository creates a new in-memory attempt repository
func NewMemoryPracticeRepository() *MemoryPracticeRepository {
	return &MemoryPracticeRepository{
		attempts: make(map[string]*entities.PracticeAttempt),
		readers:  make(map[string][]string),
	}
}

// Create implements PracticeRepository interface
func (m *MemoryPracticeRepository) Create(ctx context.Context, attempt *entities.PracticeAttempt) error {
	if attempt == nil {
		return errors.New("attempt cannot be nil")
	}
	if err := attempt.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.attempts[attempt.ID]; exists {
		return errors.New("attempt with this id already exists")
	}

	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}

	stored := *attempt
	m.attempts[stored.ID] = &stored
	m.readers[stored.ReaderID] = append(m.readers[stored.ReaderID], stored.ID)

	return nil
}

// GetByID implements PracticeRepository interface
func (m *MemoryPracticeRepository) GetByID(ctx context.Context, id string) (*entities.PracticeAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attempt, exists := m.attempts[id]
	if !exists {
		return nil, entities.ErrAttemptNotFound
	}

	out := *attempt
	return &out, nil
}

// ListRecent implements PracticeRepository interface
func (m *MemoryPracticeRepository) ListRecent(ctx context.Context, readerID string, limit int) ([]*entities.PracticeAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.readers[readerID]
	result := make([]*entities.PracticeAttempt, 0, len(ids))
	for _, id := range ids {
		out := *m.attempts[id]
		result = append(result, &out)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DeleteOlderThan implements PracticeRepository interface
func (m *MemoryPracticeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for readerID, ids := range m.readers {
		kept := ids[:0]
		for _, id := range ids {
			if m.attempts[id].CreatedAt.Before(cutoff) {
				delete(m.attempts, id)
				deleted++
				continue
			}
			kept = append(kept, id)
		}
		if len(kept) == 0 {
			delete(m.readers, readerID)
		} else {
			m.readers[readerID] = kept
		}
	}

	return deleted, nil
}

// Count returns the number of stored attempts
func (m *MemoryPracticeRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attempts)
}
