// Package transcode normalizes inbound audio for the speech API using ffmpeg:
// mono, 16 kHz, Opus at 32 kb/s in an OGG container. Clients upload whatever
// their platform records (m4a, 3gp, webm, wav); the speech API gets one
// canonical codec.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/vox-engine/internal/fault"
)

// ffmpegAvailable caches whether ffmpeg is in PATH (checked once at startup).
var ffmpegAvailable *bool

// CheckFFmpeg checks if ffmpeg is available in PATH. Call once at startup.
func CheckFFmpeg() bool {
	if ffmpegAvailable != nil {
		return *ffmpegAvailable
	}
	_, err := exec.LookPath("ffmpeg")
	avail := err == nil
	ffmpegAvailable = &avail
	return avail
}

// Transcoder shells out to ffmpeg/ffprobe.
type Transcoder struct {
	timeout time.Duration
}

// New creates a Transcoder with the given per-conversion timeout.
func New(timeout time.Duration) *Transcoder {
	return &Transcoder{timeout: timeout}
}

// Normalize converts arbitrary inbound audio to the canonical codec.
// sourceHint is a container/extension hint like "m4a"; ffmpeg probes the
// bytes anyway, the hint only names the temp file.
func (t *Transcoder) Normalize(ctx context.Context, in []byte, sourceHint string) ([]byte, error) {
	if !CheckFFmpeg() {
		return nil, fault.New(fault.Unavailable, "ffmpeg not found in PATH")
	}

	ext := strings.TrimPrefix(sourceHint, ".")
	if ext == "" {
		ext = "bin"
	}
	inPath, err := writeTemp("vox-in-*."+ext, in)
	if err != nil {
		return nil, err
	}
	defer os.Remove(inPath)

	outPath := inPath + ".ogg"
	defer os.Remove(outPath)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// -vn drops any cover-art video stream phones embed in m4a files.
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-y", "-i", inPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libopus",
		"-b:a", "32k",
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fault.Errorf(fault.Timeout, ctx.Err(), "ffmpeg conversion exceeded %s", t.timeout)
		}
		return nil, fault.Errorf(fault.UnsupportedFormat, err, "ffmpeg rejected input: %s", firstLine(stderr.String()))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read transcoded output: %w", err)
	}
	return out, nil
}

// DurationSeconds probes the audio duration with ffprobe. For bytes ffprobe
// cannot parse, it falls back to a size-based estimate clamped to [5, 30]
// seconds — good enough to gate obviously-silent or oversized input.
func (t *Transcoder) DurationSeconds(ctx context.Context, data []byte) (float64, error) {
	if !CheckFFmpeg() {
		return estimateDuration(len(data)), nil
	}

	path, err := writeTemp("vox-probe-*.ogg", data)
	if err != nil {
		return 0, err
	}
	defer os.Remove(path)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return estimateDuration(len(data)), nil
	}

	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || dur <= 0 {
		return estimateDuration(len(data)), nil
	}
	return dur, nil
}

// estimateDuration guesses seconds from byte count, clamped to [5, 30].
func estimateDuration(size int) float64 {
	est := float64(size) / 1000.0
	if est < 5 {
		return 5
	}
	if est > 30 {
		return 30
	}
	return est
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close temp: %w", err)
	}
	return path, nil
}
