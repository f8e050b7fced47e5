package mediastore

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := NewStore(Config{
		UploadDir: filepath.Join(root, "uploads"),
		OutputDir: filepath.Join(root, "outputs"),
		OutputExt: "mp3",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestStore_SaveInput(t *testing.T) {
	s := newTestStore(t)

	loc, size, err := s.SaveInput("job-1", ".MP4", strings.NewReader("video-bytes"), 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
	assert.Equal(t, "job-1.mp4", filepath.Base(loc))

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	entries, err := os.ReadDir(filepath.Dir(loc))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestStore_SaveInputTooLarge(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.SaveInput("job-1", ".mp4", bytes.NewReader(make([]byte, 100)), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooLarge))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	entries, err := os.ReadDir(s.config.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_OutputLocations(t *testing.T) {
	s := newTestStore(t)

	final := s.OutputLocation("job-1")
	assert.Equal(t, filepath.Join(s.config.OutputDir, "job-1.mp3"), final)

	a := s.TempOutputLocation("job-1")
	b := s.TempOutputLocation("job-1")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".mp3"))

	require.NoError(t, os.WriteFile(a, []byte("audio"), 0o644))
	require.NoError(t, s.Promote(a, final))

	f, size, err := s.Open(final)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(5), size)

	_, err = os.Stat(a)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_OpenMissing(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.Open(filepath.Join(s.config.OutputDir, "nope.mp3"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)

	loc, _, err := s.SaveInput("job-1", "mp4", strings.NewReader("x"), 0)
	require.NoError(t, err)

	require.NoError(t, s.Remove(loc))
	require.NoError(t, s.Remove(loc))
	require.NoError(t, s.Remove(""))
}

func TestSanitizeExt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{".mp4", ".mp4"},
		{"MOV", ".mov"},
		{"", ""},
		{"../../etc", ""},
		{".verylongextension", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeExt(tt.in), tt.in)
	}
}
