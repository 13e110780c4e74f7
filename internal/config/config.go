package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/iago/media-compressor-back/internal/queue"
)

// Config centralizes runtime settings for the API and the worker pool.
type Config struct {
	Port string

	AuthToken      string
	MaxUploadBytes int64

	WorkerCount             int
	JobTimeoutSeconds       int
	QueueCapacityMultiplier int
	QueueFullPolicy         string
	JobRetentionSeconds     int
	WorkDir                 string

	ProgressIntervalMS  int
	ProgressMaxSeconds  int
	ShutdownTimeoutSecs int

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	DatabaseURL               string
	DatabaseSweepIntervalSecs int

	CloudinaryURL         string
	CloudinaryCloudName   string
	CloudinaryAPIKey      string
	CloudinaryAPISecret   string
	CloudinaryImageFolder string
	CloudinaryVideoFolder string
	CloudinaryTransform   string

	ImageQuality   int
	ImageMaxWidth  int
	ImageMaxHeight int

	FFmpegPath  string
	VideoCodec  string
	VideoCRF    int
	VideoPreset string

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken:      getEnv("API_AUTH_TOKEN", ""),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 100<<20)),

		WorkerCount:             getEnvInt("WORKER_COUNT", 2),
		JobTimeoutSeconds:       getEnvInt("JOB_TIMEOUT_SECONDS", 0),
		QueueCapacityMultiplier: getEnvInt("QUEUE_CAPACITY_MULTIPLIER", 4),
		QueueFullPolicy:         strings.ToLower(getEnv("QUEUE_FULL_POLICY", string(queue.AdmissionReject))),
		JobRetentionSeconds:     getEnvInt("JOB_RETENTION_SECONDS", 3600),
		WorkDir:                 getEnv("WORK_DIR", os.TempDir()),

		ProgressIntervalMS:  getEnvInt("PROGRESS_INTERVAL_MS", 1000),
		ProgressMaxSeconds:  getEnvInt("PROGRESS_MAX_SECONDS", 300),
		ShutdownTimeoutSecs: getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 30),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "media_jobs:"),

		DatabaseURL:               getEnv("DATABASE_URL", ""),
		DatabaseSweepIntervalSecs: getEnvInt("DATABASE_SWEEP_INTERVAL_SECONDS", 300),

		CloudinaryURL:         getEnv("CLOUDINARY_URL", ""),
		CloudinaryCloudName:   getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:      getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret:   getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryImageFolder: getEnv("CLOUDINARY_IMAGE_FOLDER", "compressed_gallery_images"),
		CloudinaryVideoFolder: getEnv("CLOUDINARY_VIDEO_FOLDER", "compressed_gallery_videos"),
		CloudinaryTransform:   getEnv("CLOUDINARY_TRANSFORMATION", "q_auto:eco"),

		ImageQuality:   getEnvInt("IMAGE_QUALITY", 85),
		ImageMaxWidth:  getEnvInt("IMAGE_MAX_WIDTH", 2560),
		ImageMaxHeight: getEnvInt("IMAGE_MAX_HEIGHT", 2560),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		VideoCodec:  getEnv("VIDEO_CODEC", "libx264"),
		VideoCRF:    getEnvInt("VIDEO_CRF", 28),
		VideoPreset: getEnv("VIDEO_PRESET", "medium"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
	}
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.QueueCapacityMultiplier <= 0 {
		return fmt.Errorf("QUEUE_CAPACITY_MULTIPLIER must be positive, got %d", c.QueueCapacityMultiplier)
	}
	if _, err := queue.ParseAdmissionPolicy(c.QueueFullPolicy); err != nil {
		return fmt.Errorf("QUEUE_FULL_POLICY: %w", err)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return fmt.Errorf("IMAGE_QUALITY must be between 1 and 100, got %d", c.ImageQuality)
	}
	if c.VideoCRF < 0 || c.VideoCRF > 51 {
		return fmt.Errorf("VIDEO_CRF must be between 0 and 51, got %d", c.VideoCRF)
	}
	return nil
}

// Warnings lists settings the process can start with but probably should not.
func (c Config) Warnings() []string {
	var warnings []string
	if c.AuthToken == "" {
		warnings = append(warnings, "API_AUTH_TOKEN is empty, media submission is open to unauthenticated clients")
	}
	return warnings
}

func (c Config) QueueCapacity() int {
	return c.WorkerCount * c.QueueCapacityMultiplier
}

func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

func (c Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionSeconds) * time.Second
}

func (c Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

func (c Config) ProgressMaxDuration() time.Duration {
	return time.Duration(c.ProgressMaxSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma separated value, dropping blank entries.
func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fallback
	}
	return items
}
