package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getrec/recorder/internal/recordings"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls    []call
	muxErr   error
	probeOut string
	probeErr error
}

func (f *fakeRunner) CombinedOutput(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return []byte("ffmpeg log"), f.muxErr
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return []byte(f.probeOut), f.probeErr
}

type fakeStore struct {
	key, path, contentType string
	err                    error
}

func (f *fakeStore) UploadFile(_ context.Context, key, path, contentType string) error {
	f.key, f.path, f.contentType = key, path, contentType
	return f.err
}

func (f *fakeStore) DownloadURL(_ context.Context, key string) (string, error) {
	return "https://example.com/" + key, nil
}

func testPaths() recordings.Paths {
	return recordings.PathsFor("/tmp/rec", uuid.MustParse("5f0c6c52-3a43-4e1f-9d59-0b5a3f4f3b11"))
}

func TestMuxArgs(t *testing.T) {
	p := testPaths()
	args := MuxArgs(30, p, 1500*time.Millisecond)
	assert.Equal(t, []string{
		"-y", "-fflags", "+genpts", "-r", "30",
		"-i", p.H264,
		"-ss", "1500ms",
		"-i", p.Opus,
		"-map", "0:v", "-map", "1:a",
		"-c:v", "copy", "-c:a", "copy",
		p.MP4,
	}, args)
}

func TestMuxArgsClampsNegativeOffset(t *testing.T) {
	args := MuxArgs(25, testPaths(), -time.Second)
	assert.Contains(t, args, "0ms")
	assert.Contains(t, args, "25")
}

func TestMuxUsesConfiguredBinary(t *testing.T) {
	runner := &fakeRunner{}
	pub := New(Config{FFmpegPath: "/opt/ffmpeg"}, runner, nil, nil)
	require.NoError(t, pub.Mux(context.Background(), testPaths(), 0))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/opt/ffmpeg", runner.calls[0].name)
	assert.Contains(t, runner.calls[0].args, "30")
}

func TestMuxError(t *testing.T) {
	runner := &fakeRunner{muxErr: errors.New("exit status 1")}
	pub := New(Config{}, runner, nil, nil)
	err := pub.Mux(context.Background(), testPaths(), 0)
	assert.ErrorIs(t, err, ErrMux)
}

func TestProbe(t *testing.T) {
	runner := &fakeRunner{probeOut: "12.480000\n"}
	pub := New(Config{}, runner, nil, nil)
	d, err := pub.Probe(context.Background(), "/tmp/rec/x.mp4")
	require.NoError(t, err)
	assert.Equal(t, 12480*time.Millisecond, d)
	assert.Equal(t, DefaultFFprobePath, runner.calls[0].name)
	assert.Equal(t, []string{"-i", "/tmp/rec/x.mp4", "-show_entries", "format=duration", "-of", "csv=p=0"}, runner.calls[0].args)
}

func TestProbeErrors(t *testing.T) {
	tests := []struct {
		name   string
		runner *fakeRunner
	}{
		{name: "tool fails", runner: &fakeRunner{probeErr: errors.New("exit status 1")}},
		{name: "not a number", runner: &fakeRunner{probeOut: "N/A\n"}},
		{name: "empty output", runner: &fakeRunner{}},
		{name: "negative", runner: &fakeRunner{probeOut: "-1.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{}, tt.runner, nil, nil).Probe(context.Background(), "x.mp4")
			assert.ErrorIs(t, err, ErrProbe)
		})
	}
}

func TestUpload(t *testing.T) {
	store := &fakeStore{}
	p := testPaths()
	require.NoError(t, New(Config{}, &fakeRunner{}, store, nil).Upload(context.Background(), p))
	assert.Equal(t, p.ObjectKey, store.key)
	assert.Equal(t, p.MP4, store.path)
	assert.Equal(t, "video/mp4", store.contentType)

	store.err = errors.New("denied")
	assert.Error(t, New(Config{}, &fakeRunner{}, store, nil).Upload(context.Background(), p))
	assert.ErrorIs(t, New(Config{}, &fakeRunner{}, nil, nil).Upload(context.Background(), p), ErrNoStore)
}

func TestCleanup(t *testing.T) {
	touch := func(t *testing.T) recordings.Paths {
		p := recordings.PathsFor(t.TempDir(), uuid.New())
		for _, f := range []string{p.Opus, p.H264, p.MP4} {
			require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
		}
		return p
	}
	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	t.Run("raw only", func(t *testing.T) {
		p := touch(t)
		require.NoError(t, New(Config{CleanRawFiles: true}, nil, nil, nil).Cleanup(p))
		assert.False(t, exists(p.Opus))
		assert.False(t, exists(p.H264))
		assert.True(t, exists(p.MP4))
	})
	t.Run("everything", func(t *testing.T) {
		p := touch(t)
		require.NoError(t, New(Config{CleanRawFiles: true, CleanPackagedFiles: true}, nil, nil, nil).Cleanup(p))
		assert.False(t, exists(p.MP4))
	})
	t.Run("disabled", func(t *testing.T) {
		p := touch(t)
		require.NoError(t, New(Config{}, nil, nil, nil).Cleanup(p))
		assert.True(t, exists(p.Opus))
	})
	t.Run("missing files", func(t *testing.T) {
		p := recordings.PathsFor(filepath.Join(t.TempDir(), "gone"), uuid.New())
		assert.NoError(t, New(Config{CleanRawFiles: true, CleanPackagedFiles: true}, nil, nil, nil).Cleanup(p))
	})
}
