package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

var ErrToolNotFound = errors.New("transcoder binary not found")

const stderrTailBytes = 2048

// Params controls the H.264 encode. Lower CRF means higher quality.
type Params struct {
	Codec  string
	CRF    int
	Preset string
}

func DefaultParams() Params {
	return Params{Codec: "libx264", CRF: 28, Preset: "medium"}
}

// FFmpeg runs ffmpeg as a subprocess.
type FFmpeg struct {
	Binary string
}

func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary}
}

// Transcode re-encodes inputPath into outputPath. A partial output is
// removed when ffmpeg fails.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string, params Params) error {
	binary, err := exec.LookPath(f.Binary)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrToolNotFound, f.Binary)
	}

	cmd := exec.CommandContext(ctx, binary, Args(inputPath, outputPath, params)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), stderrTailBytes))
	}
	return nil
}

// Args builds the ffmpeg argument list for a transcode. CRF is passed
// through as given; 0 is lossless.
func Args(inputPath, outputPath string, params Params) []string {
	defaults := DefaultParams()
	if params.Codec == "" {
		params.Codec = defaults.Codec
	}
	if params.Preset == "" {
		params.Preset = defaults.Preset
	}

	return []string{
		"-y",
		"-i", inputPath,
		"-vcodec", params.Codec,
		"-crf", strconv.Itoa(params.CRF),
		"-preset", params.Preset,
		"-movflags", "+faststart",
		outputPath,
	}
}

func tail(value string, limit int) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[len(trimmed)-limit:]
}
