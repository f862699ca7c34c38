package repositories

import (
	"context"
	"time"

	"github.com/hsapsbch-blip/betapdoc/domain/entities"
)

// PracticeRepository defines data access methods for practice attempts
type PracticeRepository interface {
	Create(ctx context.Context, attempt *entities.PracticeAttempt) error
	GetByID(ctx context.Context, id string) (*entities.PracticeAttempt, error)
	ListRecent(ctx context.Context, readerID string, limit int) ([]*entities.PracticeAttempt, error)
	// DeleteOlderThan removes attempts created before the cutoff and returns
	// how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
