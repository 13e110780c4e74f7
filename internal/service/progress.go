package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/iago/media-compressor-back/internal/repository"
)

type EventKind string

const (
	EventStatus   EventKind = "status"
	EventNotFound EventKind = "not_found"
	EventTimeout  EventKind = "timeout"
	EventError    EventKind = "error"
)

// maxReadFailures is how many consecutive store errors a watch rides out
// before it gives up.
const maxReadFailures = 3

// Event is one frame of a progress stream. Job is set only for status events.
type Event struct {
	Kind  EventKind
	JobID string
	Job   *domain.Job
}

type ProgressConfig struct {
	Interval    time.Duration
	MaxDuration time.Duration
}

func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{Interval: time.Second, MaxDuration: 5 * time.Minute}
}

// ProgressService answers job status queries by reading the store; it holds
// no job state of its own.
type ProgressService struct {
	store repository.JobStore
	cfg   ProgressConfig
}

func NewProgressService(store repository.JobStore, cfg ProgressConfig) *ProgressService {
	defaults := DefaultProgressConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaults.MaxDuration
	}
	return &ProgressService{store: store, cfg: cfg}
}

func (s *ProgressService) Snapshot(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Watch samples the job until it reaches a terminal status, disappears or
// the stream duration runs out. emit is called only when the status changes.
// A done ctx ends the watch without a final event. Store errors are retried
// on the next tick; a run of them ends the watch with an error event.
func (s *ProgressService) Watch(ctx context.Context, jobID string, emit func(Event) error) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.MaxDuration)
	defer deadline.Stop()

	var (
		last     domain.JobStatus
		failures int
	)
	for {
		job, err := s.store.Get(ctx, jobID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return emit(Event{Kind: EventNotFound, JobID: jobID})
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures >= maxReadFailures {
				readErr := fmt.Errorf("read job %s: %w", jobID, err)
				if emitErr := emit(Event{Kind: EventError, JobID: jobID}); emitErr != nil {
					return errors.Join(readErr, emitErr)
				}
				return readErr
			}
		default:
			failures = 0
			if status := job.Status(); status != last {
				if err := emit(Event{Kind: EventStatus, JobID: jobID, Job: job}); err != nil {
					return err
				}
				last = status
			}
			if last.Terminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return emit(Event{Kind: EventTimeout, JobID: jobID})
		case <-ticker.C:
		}
	}
}
