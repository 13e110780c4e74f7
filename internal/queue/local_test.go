package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iago/media-compressor-back/internal/domain"
)

func TestLocalQueueRejectsWhenFull(t *testing.T) {
	q := NewLocalQueue(2, AdmissionReject)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2"} {
		if err := q.Enqueue(ctx, domain.WorkItem{JobID: id}); err != nil {
			t.Fatalf("enqueue %s failed: %v", id, err)
		}
	}
	if err := q.Enqueue(ctx, domain.WorkItem{JobID: "job-3"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", q.Depth())
	}
}

func TestLocalQueueBlockPolicyWaitsForSpace(t *testing.T) {
	q := NewLocalQueue(1, AdmissionBlock)
	if err := q.Enqueue(context.Background(), domain.WorkItem{JobID: "job-1"}); err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}

	admitted := make(chan error, 1)
	go func() {
		admitted <- q.Enqueue(context.Background(), domain.WorkItem{JobID: "job-2"})
	}()

	select {
	case err := <-admitted:
		t.Fatalf("expected blocked enqueue, returned early with %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	consumeCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan string, 2)
	go func() {
		_ = q.Consume(consumeCtx, func(_ context.Context, item domain.WorkItem) {
			received <- item.JobID
		})
	}()

	if err := <-admitted; err != nil {
		t.Fatalf("blocked enqueue failed: %v", err)
	}
	if first := <-received; first != "job-1" {
		t.Fatalf("expected FIFO delivery of job-1, got %s", first)
	}
	if second := <-received; second != "job-2" {
		t.Fatalf("expected job-2 second, got %s", second)
	}
}

func TestLocalQueueBlockPolicyHonorsContext(t *testing.T) {
	q := NewLocalQueue(1, AdmissionBlock)
	_ = q.Enqueue(context.Background(), domain.WorkItem{JobID: "job-1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, domain.WorkItem{JobID: "job-2"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull after deadline, got %v", err)
	}
}

func TestLocalQueueDeliversEachItemOnce(t *testing.T) {
	const items = 50
	q := NewLocalQueue(items, AdmissionReject)
	for i := 0; i < items; i++ {
		if err := q.Enqueue(context.Background(), domain.WorkItem{JobID: string(rune('A' + i))}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
		done sync.WaitGroup
	)
	done.Add(items)
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Consume(ctx, func(_ context.Context, item domain.WorkItem) {
				mu.Lock()
				seen[item.JobID]++
				mu.Unlock()
				done.Done()
			})
		}()
	}

	done.Wait()
	cancel()
	wg.Wait()

	if len(seen) != items {
		t.Fatalf("expected %d distinct items, got %d", items, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("item %q delivered %d times", id, count)
		}
	}
}

func TestLocalQueueClosedRejectsAdmission(t *testing.T) {
	q := NewLocalQueue(1, AdmissionBlock)
	q.Close()
	if err := q.Enqueue(context.Background(), domain.WorkItem{JobID: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestParseAdmissionPolicy(t *testing.T) {
	if policy, err := ParseAdmissionPolicy(" BLOCK "); err != nil || policy != AdmissionBlock {
		t.Fatalf("expected block policy, got %q %v", policy, err)
	}
	if policy, err := ParseAdmissionPolicy(""); err != nil || policy != AdmissionReject {
		t.Fatalf("expected reject default, got %q %v", policy, err)
	}
	if _, err := ParseAdmissionPolicy("drop"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestLocalQueueDrainEmptiesBuffer(t *testing.T) {
	q := NewLocalQueue(3, AdmissionReject)
	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(context.Background(), domain.WorkItem{JobID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	q.Close()

	items := q.Drain()
	if len(items) != 2 || items[0].JobID != "a" || items[1].JobID != "b" {
		t.Fatalf("expected both items in order, got %+v", items)
	}
	if q.Depth() != 0 || len(q.Drain()) != 0 {
		t.Fatalf("expected empty queue after drain")
	}
}
