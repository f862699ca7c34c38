package usecase

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hsapsbch-blip/betapdoc/adapters"
	"github.com/hsapsbch-blip/betapdoc/domain/entities"
)

func TestRetentionService_RunOnce(t *testing.T) {
	repo := adapters.NewMemoryPracticeRepository()
	ctx := context.Background()

	old := entities.NewPracticeAttempt("reader-1", "Cũ.")
	old.Complete("cũ", "Giỏi!")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	fresh := entities.NewPracticeAttempt("reader-1", "Mới.")
	fresh.Complete("mới", "Giỏi!")

	for _, a := range []*entities.PracticeAttempt{old, fresh} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	service := NewRetentionService(repo, 24*time.Hour, zaptest.NewLogger(t))
	if deleted := service.RunOnce(ctx); deleted != 1 {
		t.Errorf("expected 1 deleted attempt, got %d", deleted)
	}
	if repo.Count() != 1 {
		t.Errorf("expected 1 attempt left, got %d", repo.Count())
	}
}

func TestRetentionService_Loop(t *testing.T) {
	repo := adapters.NewMemoryPracticeRepository()
	old := entities.NewPracticeAttempt("reader-1", "Cũ.")
	old.Complete("", "")
	old.CreatedAt = time.Now().Add(-time.Hour)
	if err := repo.Create(context.Background(), old); err != nil {
		t.Fatalf("Create: %v", err)
	}

	service := NewRetentionService(repo, time.Minute, zaptest.NewLogger(t))
	service.initialDelay = 10 * time.Millisecond
	service.Start()

	deadline := time.Now().Add(2 * time.Second)
	for repo.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	service.Stop()
	service.Stop()

	if repo.Count() != 0 {
		t.Fatal("expected the initial pass to remove the expired attempt")
	}
}

func TestRetentionService_Disabled(t *testing.T) {
	service := NewRetentionService(adapters.NewMemoryPracticeRepository(), 0, zaptest.NewLogger(t))
	service.Start()
	service.Stop()
}
