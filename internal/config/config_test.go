package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"WORKER_COUNT", "QUEUE_CAPACITY_MULTIPLIER", "QUEUE_FULL_POLICY", "MAX_UPLOAD_BYTES", "PROGRESS_INTERVAL_MS", "CORS_ALLOWED_ORIGINS", "CLOUDINARY_TRANSFORMATION"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.QueueCapacity() != 8 {
		t.Fatalf("expected capacity 8, got %d", cfg.QueueCapacity())
	}
	if cfg.QueueFullPolicy != "reject" {
		t.Fatalf("expected reject policy, got %q", cfg.QueueFullPolicy)
	}
	if cfg.MaxUploadBytes != 100<<20 {
		t.Fatalf("expected 100MiB upload limit, got %d", cfg.MaxUploadBytes)
	}
	if cfg.ProgressInterval() != time.Second || cfg.JobTimeout() != 0 {
		t.Fatalf("unexpected durations %s %s", cfg.ProgressInterval(), cfg.JobTimeout())
	}
	if cfg.CORSAllowedOrigins != nil {
		t.Fatalf("expected no CORS origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.CloudinaryTransform != "q_auto:eco" {
		t.Fatalf("expected automatic quality transformation, got %q", cfg.CloudinaryTransform)
	}
}

func TestLoadOverridesAndFallbacks(t *testing.T) {
	t.Setenv("WORKER_COUNT", "5")
	t.Setenv("QUEUE_CAPACITY_MULTIPLIER", "not-a-number")
	t.Setenv("QUEUE_FULL_POLICY", "BLOCK")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example, ,https://b.example ")

	cfg := Load()
	if cfg.WorkerCount != 5 || cfg.QueueCapacityMultiplier != 4 {
		t.Fatalf("expected override and fallback, got %d %d", cfg.WorkerCount, cfg.QueueCapacityMultiplier)
	}
	if cfg.QueueFullPolicy != "block" {
		t.Fatalf("expected normalized policy, got %q", cfg.QueueFullPolicy)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := Load()
	cfg.QueueFullPolicy = "drop"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown policy to fail validation")
	}

	cfg = Load()
	cfg.WorkerCount = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero workers to fail validation")
	}
}

func TestWarningsFlagMissingAuthToken(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	warnings := Load().Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "API_AUTH_TOKEN") {
		t.Fatalf("expected auth token warning, got %v", warnings)
	}

	t.Setenv("API_AUTH_TOKEN", "s3cret")
	if warnings := Load().Warnings(); len(warnings) != 0 {
		t.Fatalf("expected no warnings with a token, got %v", warnings)
	}
}

func TestLoadDotEnvKeepsProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "VIDEO_PRESET=slow\nVIDEO_CODEC=\"libx265\"\n# comment\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("VIDEO_PRESET", "veryfast")
	t.Setenv("VIDEO_CODEC", "")
	os.Unsetenv("VIDEO_CODEC")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("VIDEO_PRESET"); got != "veryfast" {
		t.Fatalf("expected process env to win, got %q", got)
	}
	if got := os.Getenv("VIDEO_CODEC"); got != "libx265" {
		t.Fatalf("expected value from file, got %q", got)
	}
}
