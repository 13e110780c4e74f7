package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iago/media-compressor-back/internal/codec"
	"github.com/iago/media-compressor-back/internal/domain"
	"github.com/iago/media-compressor-back/internal/http/handlers"
	"github.com/iago/media-compressor-back/internal/media"
	"github.com/iago/media-compressor-back/internal/queue"
	"github.com/iago/media-compressor-back/internal/repository"
	"github.com/iago/media-compressor-back/internal/service"
	"github.com/iago/media-compressor-back/internal/transcode"
	"github.com/iago/media-compressor-back/internal/worker"
)

var mp4Bytes = append([]byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2'}, bytes.Repeat([]byte{7}, 256)...)

type copyTranscoder struct{}

func (copyTranscoder) Transcode(_ context.Context, inputPath, outputPath string, _ transcode.Params) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data[:len(data)/2], 0o600)
}

type memoryUploader struct {
	mu      sync.Mutex
	uploads int
}

func (u *memoryUploader) Upload(_ context.Context, file io.Reader, name string, category media.Category) (domain.UploadResult, error) {
	if _, err := io.Copy(io.Discard, file); err != nil {
		return domain.UploadResult{}, err
	}
	u.mu.Lock()
	u.uploads++
	u.mu.Unlock()
	return domain.UploadResult{
		URL:      "https://res.cloudinary.example/" + string(category) + "/" + name,
		PublicID: "compressed_gallery_" + string(category) + "s/" + name,
	}, nil
}

type runtimeOptions struct {
	authToken      string
	queueCapacity  int
	startWorkers   bool
	maxUploadBytes int64
	// progressStore replaces the store the progress endpoints read from.
	progressStore repository.JobStore
}

type testRuntime struct {
	server *httptest.Server
	store  *repository.MemoryJobStore
	queue  *queue.LocalQueue
}

func startRuntime(t *testing.T, opts runtimeOptions) testRuntime {
	t.Helper()
	if opts.queueCapacity == 0 {
		opts.queueCapacity = 8
	}

	logger := log.New(io.Discard, "", 0)
	workDir := t.TempDir()
	store := repository.NewMemoryJobStore()
	localQueue := queue.NewLocalQueue(opts.queueCapacity, queue.AdmissionReject)
	uploader := &memoryUploader{}

	mediaService := service.NewMediaService(store, localQueue, codec.NewJPEGCompressor(), uploader, service.MediaConfig{
		WorkDir: workDir,
		Image:   codec.DefaultOptions(),
	}, logger)
	var progressStore repository.JobStore = store
	if opts.progressStore != nil {
		progressStore = opts.progressStore
	}
	progressService := service.NewProgressService(progressStore, service.ProgressConfig{
		Interval:    5 * time.Millisecond,
		MaxDuration: 5 * time.Second,
	})
	api := handlers.NewAPI(mediaService, progressService, localQueue, handlers.APIConfig{
		MaxUploadBytes: opts.maxUploadBytes,
		Version:        "test",
	}, logger)
	router := NewRouter(RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      opts.authToken,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(localQueue, store, copyTranscoder{}, uploader, worker.PoolConfig{
		Workers: 2,
		WorkDir: workDir,
	}, logger)
	if opts.startWorkers {
		pool.Start(ctx)
	}

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		cancel()
		pool.Wait()
	})
	return testRuntime{server: server, store: store, queue: localQueue}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func upload(t *testing.T, rt testRuntime, path, field, filename string, data []byte, token string) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if field != "" {
		part, err := writer.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	request, err := http.NewRequest(http.MethodPost, rt.server.URL+path, &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return doJSON(t, request)
}

func getJSON(t *testing.T, rt testRuntime, path string) (*http.Response, map[string]any) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet, rt.server.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return doJSON(t, request)
}

func doJSON(t *testing.T, request *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer response.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return response, decoded
}

func errorCode(body map[string]any) string {
	errBody, _ := body["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

type sseFrame struct {
	event string
	data  map[string]any
}

func readEvents(t *testing.T, rt testRuntime, jobID string) []sseFrame {
	t.Helper()
	response, err := http.Get(rt.server.URL + "/v1/jobs/" + jobID + "/events")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer response.Body.Close()
	if ct := response.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", ct)
	}

	var frames []sseFrame
	var current sseFrame
	scanner := bufio.NewScanner(response.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data); err != nil {
				t.Fatalf("decode frame data: %v", err)
			}
		case line == "":
			frames = append(frames, current)
			current = sseFrame{}
		}
	}
	return frames
}

func TestImageUploadIsCompressedInline(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{})

	response, body := upload(t, rt, "/v1/media", "file", "holiday.png", pngBytes(t), "")
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", response.StatusCode, body)
	}
	if body["message"] != "Image compressed and uploaded successfully" {
		t.Fatalf("unexpected message %v", body["message"])
	}
	if body["original_filename"] != "holiday.png" || body["resource_type"] != "image" {
		t.Fatalf("unexpected image response %v", body)
	}
	if url, _ := body["url"].(string); !strings.HasSuffix(url, "/image/holiday.png") {
		t.Fatalf("unexpected url %q", url)
	}
	if rt.store.Len() != 0 {
		t.Fatalf("image uploads must not create jobs")
	}
}

func TestVideoUploadCompletesAsynchronously(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{startWorkers: true})

	response, body := upload(t, rt, "/upload-and-compress", "file", "trip.mp4", mp4Bytes, "")
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%v)", response.StatusCode, body)
	}
	jobID, _ := body["job_id"].(string)
	if jobID == "" || body["status"] != "queued" {
		t.Fatalf("expected queued job, got %v", body)
	}
	if body["status_url"] != "/v1/jobs/"+jobID || body["events_url"] != "/v1/jobs/"+jobID+"/events" {
		t.Fatalf("unexpected follow-up urls %v", body)
	}
	if response.Header.Get("Location") != "/v1/jobs/"+jobID {
		t.Fatalf("expected Location header, got %q", response.Header.Get("Location"))
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		statusResponse, statusBody := getJSON(t, rt, "/v1/jobs/"+jobID)
		if statusResponse.StatusCode == http.StatusOK {
			if statusBody["status"] != "completed" {
				t.Fatalf("expected completed status, got %v", statusBody)
			}
			result, _ := statusBody["result"].(map[string]any)
			if url, _ := result["url"].(string); !strings.HasSuffix(url, "/video/trip.mp4") {
				t.Fatalf("unexpected result %v", statusBody)
			}
			if statusBody["completed_at"] == nil {
				t.Fatalf("expected completed_at, got %v", statusBody)
			}
			break
		}
		if statusResponse.StatusCode != http.StatusAccepted {
			t.Fatalf("expected 202 while in flight, got %d (%v)", statusResponse.StatusCode, statusBody)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	frames := readEvents(t, rt, jobID)
	if len(frames) != 1 || frames[0].event != "status" || frames[0].data["status"] != "completed" {
		t.Fatalf("expected one completed frame for a settled job, got %+v", frames)
	}
}

func TestStreamFollowsJobToCompletion(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{startWorkers: true})

	_, body := upload(t, rt, "/v1/media", "file", "live.mp4", mp4Bytes, "")
	jobID, _ := body["job_id"].(string)

	frames := readEvents(t, rt, jobID)
	if len(frames) == 0 {
		t.Fatalf("expected at least one frame")
	}
	last := frames[len(frames)-1]
	if last.event != "status" || last.data["status"] != "completed" {
		t.Fatalf("expected stream to end on completed, got %+v", last)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].data["status"] == frames[i-1].data["status"] {
			t.Fatalf("expected frames only on status change, got %+v", frames)
		}
	}
}

func TestUnknownJobIsNotFound(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{})

	response, body := getJSON(t, rt, "/v1/jobs/does-not-exist")
	if response.StatusCode != http.StatusNotFound || errorCode(body) != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %v", response.StatusCode, body)
	}
	if body["request_id"] == "" {
		t.Fatalf("expected request id in error body")
	}

	frames := readEvents(t, rt, "does-not-exist")
	if len(frames) != 1 || frames[0].event != "not_found" {
		t.Fatalf("expected single not_found frame, got %+v", frames)
	}
}

func TestFailedJobIsReportedAsServerError(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{})
	ctx := context.Background()
	_ = rt.store.Create(ctx, &domain.Job{ID: "broken", OriginalName: "x.mov", CreatedAt: time.Now(), State: domain.Queued{}})
	_ = rt.store.Update(ctx, "broken", domain.Processing{})
	_ = rt.store.Update(ctx, "broken", domain.Failed{Cause: "video transcoding failed", CompletedAt: time.Now()})

	response, body := getJSON(t, rt, "/v1/jobs/broken")
	if response.StatusCode != http.StatusInternalServerError || body["status"] != "failed" {
		t.Fatalf("expected 500 failed, got %d %v", response.StatusCode, body)
	}
	errBody, _ := body["error"].(map[string]any)
	if errBody["message"] != "video transcoding failed" {
		t.Fatalf("expected failure cause, got %v", body)
	}
	if body["result"] != nil {
		t.Fatalf("failed job must not carry a result")
	}
}

func TestSubmitValidationErrors(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{maxUploadBytes: 1024})

	cases := []struct {
		name     string
		field    string
		filename string
		data     []byte
		status   int
		code     string
	}{
		{name: "missing part", field: "", status: http.StatusBadRequest, code: "missing_file"},
		{name: "wrong field", field: "upload", filename: "a.png", data: []byte{1}, status: http.StatusBadRequest, code: "missing_file"},
		{name: "empty", field: "file", filename: "a.png", data: nil, status: http.StatusBadRequest, code: "empty_file"},
		{name: "unsupported", field: "file", filename: "notes.txt", data: []byte("hello"), status: http.StatusBadRequest, code: "unsupported_type"},
		{name: "mismatch", field: "file", filename: "fake.jpg", data: mp4Bytes, status: http.StatusBadRequest, code: "content_mismatch"},
		{name: "too large", field: "file", filename: "big.mp4", data: bytes.Repeat([]byte{0}, 4096), status: http.StatusRequestEntityTooLarge, code: "file_too_large"},
	}

	for _, tc := range cases {
		response, body := upload(t, rt, "/v1/media", tc.field, tc.filename, tc.data, "")
		if response.StatusCode != tc.status || errorCode(body) != tc.code {
			t.Fatalf("%s: expected %d %s, got %d %v", tc.name, tc.status, tc.code, response.StatusCode, body)
		}
	}
	if rt.store.Len() != 0 || rt.queue.Depth() != 0 {
		t.Fatalf("rejected uploads must not create jobs")
	}
}

func TestSubmitRequiresTokenButStatusDoesNot(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{authToken: "s3cret"})

	response, body := upload(t, rt, "/v1/media", "file", "clip.mp4", mp4Bytes, "")
	if response.StatusCode != http.StatusUnauthorized || errorCode(body) != "unauthorized" {
		t.Fatalf("expected 401, got %d %v", response.StatusCode, body)
	}

	response, body = upload(t, rt, "/v1/media", "file", "clip.mp4", mp4Bytes, "s3cret")
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 with token, got %d %v", response.StatusCode, body)
	}
	jobID, _ := body["job_id"].(string)

	response, _ = getJSON(t, rt, "/v1/jobs/"+jobID)
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("expected unauthenticated status poll to work, got %d", response.StatusCode)
	}
}

func TestQueueFullRejectsVideoAndReportsDepth(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{queueCapacity: 1})

	response, _ := upload(t, rt, "/v1/media", "file", "one.mp4", mp4Bytes, "")
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("expected first video accepted, got %d", response.StatusCode)
	}

	response, body := upload(t, rt, "/v1/media", "file", "two.mp4", mp4Bytes, "")
	if response.StatusCode != http.StatusServiceUnavailable || errorCode(body) != "queue_full" {
		t.Fatalf("expected 503 queue_full, got %d %v", response.StatusCode, body)
	}
	if response.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if rt.store.Len() != 1 {
		t.Fatalf("expected rejected job to be reclaimed, got %d records", rt.store.Len())
	}

	response, body = getJSON(t, rt, "/healthz")
	if response.StatusCode != http.StatusOK || body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected health response %d %v", response.StatusCode, body)
	}
	if depth, _ := body["queue_depth"].(float64); depth != 1 {
		t.Fatalf("expected queue depth 1, got %v", body["queue_depth"])
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{})

	response, body := getJSON(t, rt, "/v1/nothing")
	if response.StatusCode != http.StatusNotFound || errorCode(body) != "not_found" {
		t.Fatalf("expected 404, got %d %v", response.StatusCode, body)
	}

	response, body = getJSON(t, rt, "/v1/media")
	if response.StatusCode != http.StatusMethodNotAllowed || errorCode(body) != "method_not_allowed" {
		t.Fatalf("expected 405, got %d %v", response.StatusCode, body)
	}
}

type downStore struct {
	repository.JobStore
}

func (downStore) Get(context.Context, string) (*domain.Job, error) {
	return nil, errors.New("redis: connection pool timeout")
}

func TestEventStreamEndsWithNoticeWhenStoreIsDown(t *testing.T) {
	rt := startRuntime(t, runtimeOptions{progressStore: downStore{}})

	frames := readEvents(t, rt, "job-1")
	if len(frames) != 1 || frames[0].event != "error" {
		t.Fatalf("expected single error frame, got %+v", frames)
	}
	if code := errorCode(frames[0].data); code != "unavailable" || frames[0].data["job_id"] != "job-1" {
		t.Fatalf("unexpected error frame %v", frames[0].data)
	}
}
