// Package publisher packages a session's raw audio and video files into one
// MP4, probes it and uploads it to object storage.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/getrec/recorder/internal/recordings"
	"github.com/getrec/recorder/pkg/storage"
)

var (
	// ErrMux is returned when ffmpeg fails to package a recording.
	ErrMux = errors.New("mux recording")
	// ErrProbe is returned when the duration of a packaged recording cannot be read.
	ErrProbe = errors.New("probe recording duration")
	// ErrNoStore is returned by Upload when no object store is configured.
	ErrNoStore = errors.New("no object store configured")
)

const (
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"
	DefaultFrameRate   = 30
)

// Config controls packaging and cleanup.
type Config struct {
	FFmpegPath         string
	FFprobePath        string
	FrameRate          int
	CleanRawFiles      bool
	CleanPackagedFiles bool
}

// Publisher runs ffmpeg and ffprobe and uploads the result.
type Publisher struct {
	cfg    Config
	runner Runner
	store  storage.ObjectStore
	logger *zap.Logger
}

// New creates a publisher. A nil runner runs the real binaries.
func New(cfg Config, runner Runner, store storage.ObjectStore, logger *zap.Logger) *Publisher {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = DefaultFFprobePath
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultFrameRate
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{cfg: cfg, runner: runner, store: store, logger: logger}
}

// MuxArgs builds the ffmpeg arguments that copy the video stream of p.H264 and
// the audio stream of p.Opus, skipping audioOffset of audio, into p.MP4.
func MuxArgs(frameRate int, p recordings.Paths, audioOffset time.Duration) []string {
	if audioOffset < 0 {
		audioOffset = 0
	}
	return []string{
		"-y",
		"-fflags", "+genpts",
		"-r", strconv.Itoa(frameRate),
		"-i", p.H264,
		"-ss", fmt.Sprintf("%dms", audioOffset.Milliseconds()),
		"-i", p.Opus,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "copy",
		p.MP4,
	}
}

// ProbeArgs builds the ffprobe arguments that print the duration of path in seconds.
func ProbeArgs(path string) []string {
	return []string{"-i", path, "-show_entries", "format=duration", "-of", "csv=p=0"}
}

// Mux packages the raw files of p into p.MP4.
func (pub *Publisher) Mux(ctx context.Context, p recordings.Paths, audioOffset time.Duration) error {
	out, err := pub.runner.CombinedOutput(ctx, pub.cfg.FFmpegPath, MuxArgs(pub.cfg.FrameRate, p, audioOffset)...)
	if err != nil {
		pub.logger.Debug("ffmpeg output", zap.ByteString("output", out))
		return fmt.Errorf("%w: %s: %w", ErrMux, p.MP4, err)
	}
	return nil
}

// Probe returns the duration of the media file at path.
func (pub *Publisher) Probe(ctx context.Context, path string) (time.Duration, error) {
	out, err := pub.runner.Output(ctx, pub.cfg.FFprobePath, ProbeArgs(path)...)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrProbe, path, err)
	}
	return ParseDuration(out)
}

// ParseDuration parses ffprobe's duration output, a decimal number of seconds.
func ParseDuration(out []byte) (time.Duration, error) {
	raw := strings.TrimSpace(string(out))
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %q: %w", ErrProbe, raw, err)
	}
	if secs < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", ErrProbe, raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Upload stores p.MP4 under p.ObjectKey.
func (pub *Publisher) Upload(ctx context.Context, p recordings.Paths) error {
	if pub.store == nil {
		return ErrNoStore
	}
	if err := pub.store.UploadFile(ctx, p.ObjectKey, p.MP4, storage.ContentTypeMP4); err != nil {
		return fmt.Errorf("upload %s: %w", p.ObjectKey, err)
	}
	return nil
}

// Cleanup removes the raw files and then the packaged file, each only when
// enabled. Missing files are not an error.
func (pub *Publisher) Cleanup(p recordings.Paths) error {
	var errs []error
	if pub.cfg.CleanRawFiles {
		errs = append(errs, remove(p.Opus), remove(p.H264))
	}
	if pub.cfg.CleanPackagedFiles {
		errs = append(errs, remove(p.MP4))
	}
	return errors.Join(errs...)
}

func remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
