package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Both scripts guard the write with a presence check so create and update
// never race with eviction or with each other.
var (
	createJobScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)
	updateJobScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)
)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisJobStore keeps one hash per job.
type RedisJobStore struct {
	client *redis.Client
	prefix string
}

func NewRedisJobStore(ctx context.Context, cfg RedisConfig) (*RedisJobStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisJobStoreFromClient(client, cfg.KeyPrefix), nil
}

func NewRedisJobStoreFromClient(client *redis.Client, keyPrefix string) *RedisJobStore {
	if keyPrefix == "" {
		keyPrefix = "media_jobs:"
	}
	return &RedisJobStore{client: client, prefix: keyPrefix}
}

func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisJobStore) Create(ctx context.Context, job *domain.Job) error {
	created, err := createJobScript.Run(ctx, s.client, []string{s.key(job.ID)}, flatten(jobFields(job))...).Int()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if created == 0 {
		return ErrDuplicateJob
	}
	return nil
}

func (s *RedisJobStore) Update(ctx context.Context, jobID string, state domain.JobState) error {
	updated, err := updateJobScript.Run(ctx, s.client, []string{s.key(jobID)}, flatten(stateFields(state))...).Int()
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if updated == 0 {
		return ErrUnknownJob
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeJob(jobID, fields)
}

func (s *RedisJobStore) Expire(ctx context.Context, jobID string, ttl time.Duration) error {
	if ttl <= 0 {
		deleted, err := s.client.Del(ctx, s.key(jobID)).Result()
		if err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		if deleted == 0 {
			return ErrUnknownJob
		}
		return nil
	}

	ok, err := s.client.PExpire(ctx, s.key(jobID), ttl).Result()
	if err != nil {
		return fmt.Errorf("expire job: %w", err)
	}
	if !ok {
		return ErrUnknownJob
	}
	return nil
}

func (s *RedisJobStore) key(jobID string) string {
	return s.prefix + jobID
}
