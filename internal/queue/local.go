package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/iago/media-compressor-back/internal/domain"
)

var (
	ErrQueueFull   = errors.New("queue backpressure: work queue is full")
	ErrQueueClosed = errors.New("work queue is closed")
)

// AdmissionPolicy decides what Enqueue does when the queue is at capacity.
type AdmissionPolicy string

const (
	AdmissionReject AdmissionPolicy = "reject"
	AdmissionBlock  AdmissionPolicy = "block"
)

func ParseAdmissionPolicy(value string) (AdmissionPolicy, error) {
	switch AdmissionPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case AdmissionReject, "":
		return AdmissionReject, nil
	case AdmissionBlock:
		return AdmissionBlock, nil
	default:
		return "", fmt.Errorf("unknown queue admission policy %q", value)
	}
}

// LocalQueue is a bounded in-process FIFO. Each item is delivered to exactly
// one consumer.
type LocalQueue struct {
	ch     chan domain.WorkItem
	policy AdmissionPolicy

	closeOnce sync.Once
	closed    chan struct{}
}

func NewLocalQueue(capacity int, policy AdmissionPolicy) *LocalQueue {
	if capacity <= 0 {
		capacity = 8
	}
	if policy == "" {
		policy = AdmissionReject
	}
	return &LocalQueue{
		ch:     make(chan domain.WorkItem, capacity),
		policy: policy,
		closed: make(chan struct{}),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, item domain.WorkItem) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	if q.policy == AdmissionReject {
		select {
		case q.ch <- item:
			return nil
		default:
			return ErrQueueFull
		}
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	case <-q.closed:
		return ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// Consume blocks for items until ctx is done. Items still buffered when ctx
// ends stay in the queue.
func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.WorkItem)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-q.ch:
			handler(ctx, item)
		}
	}
}

// Close stops admission. Buffered items remain consumable.
func (q *LocalQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
}

func (q *LocalQueue) Depth() int {
	return len(q.ch)
}

func (q *LocalQueue) Capacity() int {
	return cap(q.ch)
}

func (q *LocalQueue) Policy() AdmissionPolicy {
	return q.policy
}

// Drain removes and returns the items still buffered, without waiting.
func (q *LocalQueue) Drain() []domain.WorkItem {
	var items []domain.WorkItem
	for {
		select {
		case item := <-q.ch:
			items = append(items, item)
		default:
			return items
		}
	}
}
