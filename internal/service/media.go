package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iago/media-compressor-back/internal/codec"
	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/iago/media-compressor-back/internal/media"
	"github.com/iago/media-compressor-back/internal/queue"
	"github.com/iago/media-compressor-back/internal/repository"
	"github.com/iago/media-compressor-back/internal/upload"
)

var (
	ErrEmptyFile  = errors.New("uploaded file is empty")
	ErrProcessing = errors.New("media processing failed")
	ErrCapacity   = errors.New("processing capacity exhausted")
)

// ImageCompressor re-encodes an image in memory.
type ImageCompressor interface {
	Compress(ctx context.Context, data []byte, opts codec.Options) ([]byte, error)
}

type MediaConfig struct {
	WorkDir string
	Image   codec.Options
}

// Submission is the outcome of accepting one upload. Images carry their
// upload result; videos carry the queued job.
type Submission struct {
	Category     media.Category
	OriginalName string
	Image        *domain.UploadResult
	Job          *domain.Job
}

// MediaService classifies uploads and routes them: images are compressed
// and uploaded inline, videos are handed to the worker pool.
type MediaService struct {
	store      repository.JobStore
	producer   queue.Producer
	compressor ImageCompressor
	uploader   upload.Uploader
	logger     *log.Logger
	cfg        MediaConfig
	now        func() time.Time
	newID      func() string
}

func NewMediaService(
	store repository.JobStore,
	producer queue.Producer,
	compressor ImageCompressor,
	uploader upload.Uploader,
	cfg MediaConfig,
	logger *log.Logger,
) *MediaService {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &MediaService{
		store:      store,
		producer:   producer,
		compressor: compressor,
		uploader:   uploader,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

func (s *MediaService) Submit(ctx context.Context, file io.ReadSeeker, name string) (Submission, error) {
	name = strings.TrimSpace(filepath.Base(name))
	if empty, err := isEmpty(file); err != nil {
		return Submission{}, fmt.Errorf("inspect upload: %w", err)
	} else if empty {
		return Submission{}, ErrEmptyFile
	}

	category, err := media.Classify(file, name)
	if err != nil {
		return Submission{}, err
	}

	switch category {
	case media.CategoryImage:
		result, err := s.compressImage(ctx, file, name)
		if err != nil {
			return Submission{}, err
		}
		return Submission{Category: category, OriginalName: name, Image: &result}, nil
	case media.CategoryVideo:
		job, err := s.enqueueVideo(ctx, file, name)
		if err != nil {
			return Submission{}, err
		}
		return Submission{Category: category, OriginalName: name, Job: job}, nil
	default:
		return Submission{}, media.ErrUnsupportedType
	}
}

func (s *MediaService) compressImage(ctx context.Context, file io.Reader, name string) (domain.UploadResult, error) {
	started := time.Now()
	data, err := io.ReadAll(file)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("%w: read image: %w", ErrProcessing, err)
	}

	compressed, err := s.compressor.Compress(ctx, data, s.cfg.Image)
	if err != nil {
		s.logf("image compression failed name=%q: %v", name, err)
		return domain.UploadResult{}, fmt.Errorf("%w: compress image: %w", ErrProcessing, err)
	}

	result, err := s.uploader.Upload(ctx, bytes.NewReader(compressed), name, media.CategoryImage)
	if err != nil {
		s.logf("image upload failed name=%q: %v", name, err)
		return domain.UploadResult{}, fmt.Errorf("%w: upload image: %w", ErrProcessing, err)
	}

	s.logf(
		"image compressed name=%q original_bytes=%d compressed_bytes=%d public_id=%s duration_ms=%d",
		name,
		len(data),
		len(compressed),
		result.PublicID,
		time.Since(started).Milliseconds(),
	)
	return result, nil
}

func (s *MediaService) enqueueVideo(ctx context.Context, file io.Reader, name string) (*domain.Job, error) {
	jobID := s.newID()
	sourcePath, err := s.persistUpload(jobID, file, name)
	if err != nil {
		return nil, fmt.Errorf("persist upload: %w", err)
	}

	job := &domain.Job{
		ID:           jobID,
		OriginalName: name,
		CreatedAt:    s.now(),
		State:        domain.Queued{},
	}
	if err := s.store.Create(ctx, job); err != nil {
		removeFile(sourcePath)
		return nil, fmt.Errorf("create job: %w", err)
	}

	item := domain.WorkItem{
		JobID:        jobID,
		SourcePath:   sourcePath,
		OriginalName: name,
		EnqueuedAt:   job.CreatedAt,
	}
	if err := s.producer.Enqueue(ctx, item); err != nil {
		removeFile(sourcePath)
		if expireErr := s.store.Expire(context.WithoutCancel(ctx), jobID, 0); expireErr != nil {
			s.logf("job record not reclaimed job_id=%s: %v", jobID, expireErr)
		}
		s.logf("job rejected job_id=%s: %v", jobID, err)
		return nil, fmt.Errorf("%w: %w", ErrCapacity, err)
	}

	s.logf("job queued job_id=%s name=%q", jobID, name)
	return job, nil
}

// persistUpload copies the upload into a private file in the work dir.
func (s *MediaService) persistUpload(jobID string, file io.Reader, name string) (string, error) {
	tmp, err := os.CreateTemp(s.cfg.WorkDir, jobID+"_*"+filepath.Ext(name))
	if err != nil {
		return "", err
	}
	path := tmp.Name()

	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		removeFile(path)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		removeFile(path)
		return "", err
	}
	return path, nil
}

func (s *MediaService) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// isEmpty reports whether r has no bytes left, leaving its offset unchanged.
func isEmpty(r io.ReadSeeker) (bool, error) {
	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	end, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return false, err
	}
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return false, err
	}
	return end <= offset, nil
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("temp file cleanup failed path=%s: %v", path, err)
	}
}
