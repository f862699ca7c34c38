package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/hsapsbch-blip/betapdoc/domain/entities"
	"github.com/hsapsbch-blip/betapdoc/domain/repositories"
)

const attemptsCollection = "practice_attempts"

// PracticeRepository implements repositories.PracticeRepository on MongoDB
type PracticeRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.PracticeRepository = (*PracticeRepository)(nil)

// NewPracticeRepository creates a new MongoDB practice attempt repository
func NewPracticeRepository(db *mongo.Database, logger *zap.Logger) *PracticeRepository {
	return &PracticeRepository{
		collection: db.Collection(attemptsCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the lookup index used by ListRecent and the
// created_at index used by retention.
func (r *PracticeRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "reader_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create attempt indexes: %w", err)
	}
	r.logger.Info("Practice attempt indexes created")
	return nil
}

// Create implements repositories.PracticeRepository
func (r *PracticeRepository) Create(ctx context.Context, attempt *entities.PracticeAttempt) error {
	if attempt == nil {
		return errors.New("attempt cannot be nil")
	}
	if err := attempt.Validate(); err != nil {
		return err
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, attempt); err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

// GetByID implements repositories.PracticeRepository
func (r *PracticeRepository) GetByID(ctx context.Context, id string) (*entities.PracticeAttempt, error) {
	if id == "" {
		return nil, errors.New("attempt ID cannot be empty")
	}

	var attempt entities.PracticeAttempt
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&attempt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, entities.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt %s: %w", id, err)
	}
	return &attempt, nil
}

// ListRecent implements repositories.PracticeRepository
func (r *PracticeRepository) ListRecent(ctx context.Context, readerID string, limit int) ([]*entities.PracticeAttempt, error) {
	if readerID == "" {
		return nil, errors.New("reader ID cannot be empty")
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"reader_id": readerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer cursor.Close(ctx)

	attempts := make([]*entities.PracticeAttempt, 0, limit)
	if err := cursor.All(ctx, &attempts); err != nil {
		return nil, fmt.Errorf("failed to decode attempts: %w", err)
	}
	return attempts, nil
}

// DeleteOlderThan implements repositories.PracticeRepository
func (r *PracticeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}
	return result.DeletedCount, nil
}
