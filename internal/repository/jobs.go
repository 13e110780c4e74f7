package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iago/media-compressor-back/internal/domain"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateJob = errors.New("job already exists")
	ErrUnknownJob   = errors.New("job does not exist")
)

// JobStore is the single source of truth for job lifecycle state.
// Each Update applies all fields of the given state in one atomic write.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	Update(ctx context.Context, jobID string, state domain.JobState) error
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Expire(ctx context.Context, jobID string, ttl time.Duration) error
}

type memoryRecord struct {
	job       domain.Job
	expiresAt time.Time
}

// MemoryJobStore keeps jobs in process memory for local development and tests.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*memoryRecord
	now  func() time.Time
}

type MemoryOption func(*MemoryJobStore)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryJobStore) {
		s.now = now
	}
}

func NewMemoryJobStore(opts ...MemoryOption) *MemoryJobStore {
	store := &MemoryJobStore{
		jobs: make(map[string]*memoryRecord),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *MemoryJobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	s.jobs[job.ID] = &memoryRecord{job: *job}
	return nil
}

func (s *MemoryJobStore) Update(_ context.Context, jobID string, state domain.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.liveLocked(jobID)
	if !ok {
		return ErrUnknownJob
	}
	record.job.State = state
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.liveLocked(jobID)
	if !ok {
		return nil, ErrNotFound
	}
	clone := record.job
	return &clone, nil
}

func (s *MemoryJobStore) Expire(_ context.Context, jobID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.liveLocked(jobID)
	if !ok {
		return ErrUnknownJob
	}
	if ttl <= 0 {
		delete(s.jobs, jobID)
		return nil
	}
	record.expiresAt = s.now().Add(ttl)
	return nil
}

// Len reports the number of records not yet reclaimed.
func (s *MemoryJobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.jobs)
}

func (s *MemoryJobStore) liveLocked(jobID string) (*memoryRecord, bool) {
	record, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	if s.expiredLocked(record) {
		delete(s.jobs, jobID)
		return nil, false
	}
	return record, true
}

func (s *MemoryJobStore) expiredLocked(record *memoryRecord) bool {
	return !record.expiresAt.IsZero() && !s.now().Before(record.expiresAt)
}

func (s *MemoryJobStore) sweepLocked() {
	for id, record := range s.jobs {
		if s.expiredLocked(record) {
			delete(s.jobs, id)
		}
	}
}
