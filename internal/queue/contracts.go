package queue

import (
	"context"

	"github.com/iago/media-compressor-back/internal/domain"
)

// Producer admits work items into a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, item domain.WorkItem) error
}

// Consumer hands work items to a handler, one item per call.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.WorkItem)) error
}
