package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/iago/media-compressor-back/internal/media"
	"github.com/iago/media-compressor-back/internal/queue"
	"github.com/iago/media-compressor-back/internal/repository"
	"github.com/iago/media-compressor-back/internal/transcode"
	"github.com/iago/media-compressor-back/internal/upload"
)

const (
	persistAttempts    = 2
	causeStateNotSaved = "job state could not be saved"
)

// Transcoder turns a source video into a compressed artifact on local disk.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string, params transcode.Params) error
}

type PoolConfig struct {
	Workers    int
	WorkDir    string
	Retention  time.Duration
	JobTimeout time.Duration
	Params     transcode.Params
}

// Pool runs a fixed number of workers that drive queued video jobs to a
// terminal state.
type Pool struct {
	consumer   queue.Consumer
	store      repository.JobStore
	transcoder Transcoder
	uploader   upload.Uploader
	logger     *log.Logger
	cfg        PoolConfig
	now        func() time.Time
	retryDelay time.Duration

	wg sync.WaitGroup
}

func NewPool(
	consumer queue.Consumer,
	store repository.JobStore,
	transcoder Transcoder,
	uploader upload.Uploader,
	cfg PoolConfig,
	logger *log.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.Params == (transcode.Params{}) {
		cfg.Params = transcode.DefaultParams()
	}
	return &Pool{
		consumer:   consumer,
		store:      store,
		transcoder: transcoder,
		uploader:   uploader,
		logger:     logger,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		retryDelay: 250 * time.Millisecond,
	}
}

func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// Start launches the workers. They stop taking new items once ctx is done;
// Wait blocks until the job each one holds has finished.
func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, func(ctx context.Context, item domain.WorkItem) {
			p.process(ctx, workerID, item)
		})
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logf("worker consume loop error worker=%d: %v", workerID, err)

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// process never lets a failure escape: it is recorded on the job and the
// worker goes back to the queue.
func (p *Pool) process(ctx context.Context, workerID int, item domain.WorkItem) {
	storeCtx := context.WithoutCancel(ctx)
	jobCtx, cancel := storeCtx, context.CancelFunc(func() {})
	if p.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(storeCtx, p.cfg.JobTimeout)
	}
	defer cancel()

	run := &jobRun{
		pool:       p,
		item:       item,
		workerID:   workerID,
		storeCtx:   storeCtx,
		status:     domain.JobStatusQueued,
		outputPath: filepath.Join(p.cfg.WorkDir, item.JobID+"_compressed.mp4"),
	}
	defer run.recoverPanic()
	run.execute(jobCtx)
}

type jobRun struct {
	pool       *Pool
	item       domain.WorkItem
	workerID   int
	storeCtx   context.Context
	status     domain.JobStatus
	outputPath string
}

func (r *jobRun) execute(ctx context.Context) {
	p := r.pool
	started := time.Now()

	if err := r.advance(domain.Processing{}); err != nil {
		r.storeFailure("mark processing", err)
		r.removeSource()
		r.abandon(err)
		return
	}
	p.logf("job processing job_id=%s worker=%d name=%q", r.item.JobID, r.workerID, r.item.OriginalName)

	if _, err := os.Stat(r.item.SourcePath); err != nil {
		p.logf("job source missing job_id=%s path=%s: %v", r.item.JobID, r.item.SourcePath, err)
		r.fail("source file is missing")
		return
	}

	transcodeErr := p.transcoder.Transcode(ctx, r.item.SourcePath, r.outputPath, p.cfg.Params)
	r.removeSource()
	if transcodeErr != nil {
		p.logf("job transcode failed job_id=%s: %v", r.item.JobID, transcodeErr)
		r.removeOutput()
		r.fail(transcodeCause(transcodeErr))
		return
	}

	if err := r.advance(domain.Uploading{}); err != nil {
		r.storeFailure("mark uploading", err)
		r.removeOutput()
		if !errors.Is(err, repository.ErrUnknownJob) {
			r.fail(causeStateNotSaved)
		}
		return
	}

	result, uploadErr := r.upload(ctx)
	r.removeOutput()
	if uploadErr != nil {
		p.logf("job upload failed job_id=%s: %v", r.item.JobID, uploadErr)
		r.fail(uploadCause(uploadErr))
		return
	}

	if !r.finish(domain.Completed{Result: result, CompletedAt: p.now()}) {
		return
	}
	p.logf(
		"job completed job_id=%s worker=%d public_id=%s duration_ms=%d",
		r.item.JobID,
		r.workerID,
		result.PublicID,
		time.Since(started).Milliseconds(),
	)
}

func (r *jobRun) upload(ctx context.Context) (domain.UploadResult, error) {
	file, err := os.Open(r.outputPath)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("open transcoded file: %w", err)
	}
	defer file.Close()
	return r.pool.uploader.Upload(ctx, file, r.item.OriginalName, media.CategoryVideo)
}

// advance persists the next state before the worker moves on. A failed
// write is retried once; a missing record is not.
func (r *jobRun) advance(state domain.JobState) error {
	if err := domain.ValidateTransition(r.status, state); err != nil {
		return err
	}
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(r.pool.retryDelay)
		}
		err = r.pool.store.Update(r.storeCtx, r.item.JobID, state)
		if err == nil {
			r.status = state.Status()
			return nil
		}
		if errors.Is(err, repository.ErrUnknownJob) {
			return err
		}
		r.pool.logf("job store write failed job_id=%s status=%s attempt=%d: %v", r.item.JobID, state.Status(), attempt, err)
	}
	return err
}

func (r *jobRun) fail(cause string) {
	if r.status.Terminal() || !r.status.CanAdvanceTo(domain.JobStatusFailed) {
		return
	}
	r.finish(domain.Failed{Cause: cause, CompletedAt: r.pool.now()})
}

// finish records a terminal state and reports whether that exact state was
// saved.
func (r *jobRun) finish(state domain.JobState) bool {
	saved := true
	err := r.advance(state)
	if completed, ok := state.(domain.Completed); ok && err != nil && !errors.Is(err, repository.ErrUnknownJob) {
		r.pool.logf("job result not saved job_id=%s public_id=%s: %v", r.item.JobID, completed.Result.PublicID, err)
		state = domain.Failed{Cause: causeStateNotSaved, CompletedAt: r.pool.now()}
		saved = false
		err = r.advance(state)
	}
	if err != nil {
		r.storeFailure("mark "+string(state.Status()), err)
		r.abandon(err)
		return false
	}
	if err := r.pool.store.Expire(r.storeCtx, r.item.JobID, r.pool.cfg.Retention); err != nil {
		r.pool.logf("job retention not applied job_id=%s: %v", r.item.JobID, err)
	}
	if state.Status() == domain.JobStatusFailed {
		r.pool.logf("job failed job_id=%s worker=%d", r.item.JobID, r.workerID)
	}
	return saved
}

// abandon bounds the lifetime of a record the worker could not drive to a
// terminal state.
func (r *jobRun) abandon(cause error) {
	if errors.Is(cause, repository.ErrUnknownJob) {
		return
	}
	if err := r.pool.store.Expire(r.storeCtx, r.item.JobID, r.pool.cfg.Retention); err != nil {
		r.pool.logf("job retention not applied job_id=%s: %v", r.item.JobID, err)
	}
}

func (r *jobRun) storeFailure(step string, err error) {
	if errors.Is(err, repository.ErrUnknownJob) {
		r.pool.logf("SEVERE job record missing during %s job_id=%s: %v", step, r.item.JobID, err)
		return
	}
	r.pool.logf("job store write failed during %s job_id=%s: %v", step, r.item.JobID, err)
}

func (r *jobRun) recoverPanic() {
	recovered := recover()
	if recovered == nil {
		return
	}
	r.pool.logf("worker recovered panic job_id=%s worker=%d: %v", r.item.JobID, r.workerID, recovered)
	r.removeSource()
	r.removeOutput()
	r.fail("internal processing error")
}

func (r *jobRun) removeSource() {
	r.remove(r.item.SourcePath)
}

func (r *jobRun) removeOutput() {
	r.remove(r.outputPath)
}

func (r *jobRun) remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.pool.logf("temp file cleanup failed job_id=%s path=%s: %v", r.item.JobID, path, err)
	}
}

// Discard reclaims work items that will never run, such as those still
// buffered at shutdown. Queued jobs have no failed transition, so their
// records are removed along with the source files.
func (p *Pool) Discard(ctx context.Context, items []domain.WorkItem) {
	for _, item := range items {
		if err := os.Remove(item.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logf("temp file cleanup failed job_id=%s path=%s: %v", item.JobID, item.SourcePath, err)
		}
		if err := p.store.Expire(ctx, item.JobID, 0); err != nil && !errors.Is(err, repository.ErrUnknownJob) {
			p.logf("job record not reclaimed job_id=%s: %v", item.JobID, err)
			continue
		}
		p.logf("job discarded before processing job_id=%s", item.JobID)
	}
}

func (p *Pool) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func transcodeCause(err error) string {
	switch {
	case errors.Is(err, transcode.ErrToolNotFound):
		return "video transcoder is unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "video processing timed out"
	default:
		return "video transcoding failed"
	}
}

func uploadCause(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "upload timed out"
	}
	return "upload to media host failed"
}
