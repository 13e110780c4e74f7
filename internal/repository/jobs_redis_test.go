package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

func newMiniredisStore(t *testing.T) (*RedisJobStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	store := NewRedisJobStoreFromClient(client, "test_jobs:")
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func TestRedisJobStoreContract(t *testing.T) {
	store, server := newMiniredisStore(t)
	exerciseJobStore(t, store, server.FastForward)
}

func TestRedisJobStoreWritesStatusAndResultTogether(t *testing.T) {
	store, server := newMiniredisStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, &domain.Job{
		ID:           "job-r",
		OriginalName: "trip.mov",
		CreatedAt:    time.Now().UTC(),
		State:        domain.Queued{},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Update(ctx, "job-r", domain.Completed{
		Result:      domain.UploadResult{URL: "https://cdn.example/trip.mp4", PublicID: "videos/trip"},
		CompletedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := server.HGet("test_jobs:job-r", "status"); got != "completed" {
		t.Fatalf("expected status field completed, got %q", got)
	}
	if got := server.HGet("test_jobs:job-r", "result_public_id"); got != "videos/trip" {
		t.Fatalf("expected result_public_id field, got %q", got)
	}
	if got := server.HGet("test_jobs:job-r", "original_name"); got != "trip.mov" {
		t.Fatalf("expected original_name preserved by update, got %q", got)
	}
}

func TestRedisJobStoreUpdateDoesNotResurrectMissingJob(t *testing.T) {
	store, server := newMiniredisStore(t)
	ctx := context.Background()

	if err := store.Update(ctx, "ghost", domain.Processing{}); err != ErrUnknownJob {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
	if server.Exists("test_jobs:ghost") {
		t.Fatalf("update must not create a record for an unknown job")
	}
}
