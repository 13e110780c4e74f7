package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iago/media-compressor-back/internal/codec"
	"github.com/iago/media-compressor-back/internal/domain"
	httpserver "github.com/iago/media-compressor-back/internal/http"
	"github.com/iago/media-compressor-back/internal/http/handlers"
	"github.com/iago/media-compressor-back/internal/media"
	"github.com/iago/media-compressor-back/internal/queue"
	"github.com/iago/media-compressor-back/internal/repository"
	"github.com/iago/media-compressor-back/internal/service"
	"github.com/iago/media-compressor-back/internal/transcode"
	"github.com/iago/media-compressor-back/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type queueResult struct {
	Accepted      int64 `json:"accepted"`
	RejectedFull  int64 `json:"rejected_queue_full"`
	Completed     int   `json:"completed"`
	Failed        int   `json:"failed"`
	StillInFlight int   `json:"still_in_flight"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	Queue          queueResult      `json:"queue"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	store  *repository.MemoryJobStore
	cancel func()
}

// simulatedTranscoder stands in for ffmpeg so the benchmark measures the
// service, not the encoder.
type simulatedTranscoder struct {
	delay time.Duration
}

func (s simulatedTranscoder) Transcode(ctx context.Context, inputPath, outputPath string, _ transcode.Params) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data[:len(data)/2], 0o600)
}

type discardUploader struct{}

func (discardUploader) Upload(_ context.Context, file io.Reader, name string, category media.Category) (domain.UploadResult, error) {
	if _, err := io.Copy(io.Discard, file); err != nil {
		return domain.UploadResult{}, err
	}
	return domain.UploadResult{
		URL:      "https://media.invalid/" + string(category) + "/" + name,
		PublicID: string(category) + "/" + name,
	}, nil
}

func main() {
	imagesTotal := flag.Int("images-total", 120, "total image uploads")
	imagesConcurrency := flag.Int("images-concurrency", 12, "concurrency for image uploads")
	videosTotal := flag.Int("videos-total", 200, "total video uploads")
	videosConcurrency := flag.Int("videos-concurrency", 24, "concurrency for video uploads")
	pollsTotal := flag.Int("polls-total", 400, "total job status polls")
	pollsConcurrency := flag.Int("polls-concurrency", 32, "concurrency for job status polls")
	workers := flag.Int("workers", 4, "worker pool size")
	capacityMultiplier := flag.Int("queue-multiplier", 4, "queue capacity per worker")
	transcodeMS := flag.Int("transcode-ms", 40, "simulated transcode duration")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	workDir, err := os.MkdirTemp("", "compressor-load-*")
	if err != nil {
		log.Fatalf("failed to create work dir: %v", err)
	}
	defer os.RemoveAll(workDir)

	env := startBenchmarkEnvironment(workDir, *workers, *capacityMultiplier, time.Duration(*transcodeMS)*time.Millisecond)
	defer env.cancel()

	client := &http.Client{Timeout: 30 * time.Second}
	imageBody := samplePNG()
	videoBody := sampleMP4(64 << 10)

	var (
		accepted, rejected atomic.Int64
		jobIDsMu           sync.Mutex
		jobIDs             []string
	)

	imagesScenario := runScenario("image_sync", *imagesTotal, *imagesConcurrency, func(index int) error {
		_, err := postUpload(client, env.server.URL+"/v1/media", fmt.Sprintf("photo-%d.png", index), imageBody, http.StatusOK)
		return err
	})

	videosScenario := runScenario("video_enqueue", *videosTotal, *videosConcurrency, func(index int) error {
		status, err := postUpload(client, env.server.URL+"/v1/media", fmt.Sprintf("clip-%d.mp4", index), videoBody, http.StatusAccepted, http.StatusServiceUnavailable)
		if err != nil {
			return err
		}
		if status.code == http.StatusServiceUnavailable {
			rejected.Add(1)
			return nil
		}
		accepted.Add(1)
		jobIDsMu.Lock()
		jobIDs = append(jobIDs, status.jobID)
		jobIDsMu.Unlock()
		return nil
	})

	pollsScenario := runScenario("job_poll", *pollsTotal, *pollsConcurrency, func(index int) error {
		jobIDsMu.Lock()
		if len(jobIDs) == 0 {
			jobIDsMu.Unlock()
			return fmt.Errorf("no accepted jobs to poll")
		}
		jobID := jobIDs[index%len(jobIDs)]
		jobIDsMu.Unlock()
		return getStatus(client, env.server.URL+"/v1/jobs/"+jobID, http.StatusOK, http.StatusAccepted)
	})

	queueStats := waitForJobs(env.store, jobIDs, 30*time.Second)
	queueStats.Accepted = accepted.Load()
	queueStats.RejectedFull = rejected.Load()

	slo := map[string]bool{
		"image_endpoint_p95_le_2000ms":   imagesScenario.P95MS <= 2000,
		"video_enqueue_p95_le_500ms":     videosScenario.P95MS <= 500,
		"job_poll_p95_le_100ms":          pollsScenario.P95MS <= 100,
		"no_failed_jobs":                 queueStats.Failed == 0,
		"every_accepted_job_is_terminal": queueStats.StillInFlight == 0,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        []scenarioResult{imagesScenario, videosScenario, pollsScenario},
		Queue:          queueStats,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment(workDir string, workers, multiplier int, transcodeDelay time.Duration) *benchmarkEnv {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	store := repository.NewMemoryJobStore()
	localQueue := queue.NewLocalQueue(workers*multiplier, queue.AdmissionReject)
	uploader := discardUploader{}

	mediaService := service.NewMediaService(store, localQueue, codec.NewJPEGCompressor(), uploader, service.MediaConfig{
		WorkDir: workDir,
		Image:   codec.DefaultOptions(),
	}, logger)
	progressService := service.NewProgressService(store, service.DefaultProgressConfig())
	api := handlers.NewAPI(mediaService, progressService, localQueue, handlers.APIConfig{Version: "load"}, logger)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	pool := worker.NewPool(localQueue, store, simulatedTranscoder{delay: transcodeDelay}, uploader, worker.PoolConfig{
		Workers: workers,
		WorkDir: workDir,
	}, logger)
	pool.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		store:  store,
		cancel: func() {
			server.Close()
			localQueue.Close()
			cancel()
			pool.Wait()
		},
	}
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	result := scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
	return result
}

type uploadStatus struct {
	code  int
	jobID string
}

func postUpload(client *http.Client, url, filename string, data []byte, expected ...int) (uploadStatus, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return uploadStatus{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return uploadStatus{}, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return uploadStatus{}, fmt.Errorf("close form: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, &body)
	if err != nil {
		return uploadStatus{}, fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return uploadStatus{}, err
	}
	defer response.Body.Close()

	if !containsStatus(expected, response.StatusCode) {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return uploadStatus{}, fmt.Errorf("unexpected status %d (expected %v): %s", response.StatusCode, expected, string(raw))
	}

	var decoded struct {
		JobID string `json:"job_id"`
	}
	_ = json.NewDecoder(response.Body).Decode(&decoded)
	return uploadStatus{code: response.StatusCode, jobID: decoded.JobID}, nil
}

func getStatus(client *http.Client, url string, expected ...int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if !containsStatus(expected, response.StatusCode) {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %v): %s", response.StatusCode, expected, string(raw))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func containsStatus(values []int, target int) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

// waitForJobs polls the store until every accepted job settles or the
// timeout passes.
func waitForJobs(store repository.JobStore, jobIDs []string, timeout time.Duration) queueResult {
	deadline := time.Now().Add(timeout)
	for {
		var result queueResult
		for _, jobID := range jobIDs {
			job, err := store.Get(context.Background(), jobID)
			switch {
			case err != nil:
				result.StillInFlight++
			case job.Status() == domain.JobStatusCompleted:
				result.Completed++
			case job.Status() == domain.JobStatusFailed:
				result.Failed++
			default:
				result.StillInFlight++
			}
		}
		if result.StillInFlight == 0 || time.Now().After(deadline) {
			return result
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func samplePNG() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 1024, 768))
	for y := 0; y < 768; y++ {
		for x := 0; x < 1024; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func sampleMP4(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'})
	return data
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
