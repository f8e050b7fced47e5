// Package mediastore keeps uploaded videos and converted audio on a local or
// shared filesystem.
package mediastore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the byte limit
var ErrTooLarge = fmt.Errorf("%w: file exceeds upload limit", domain.ErrInvalidInput)

// Config holds media storage configuration
type Config struct {
	UploadDir string
	OutputDir string
	// OutputExt is the extension of converted files, without the dot
	OutputExt string
}

// Store is a filesystem blob store for inputs and outputs
type Store struct {
	config Config
	logger *slog.Logger
}

// NewStore creates the storage directories and returns a Store
func NewStore(config Config, logger *slog.Logger) (*Store, error) {
	for _, dir := range []string{config.UploadDir, config.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	return &Store{config: config, logger: logger}, nil
}

// SaveInput writes an upload to <upload_dir>/<job_id><ext>. The file only
// appears under its final name once fully written. limit <= 0 disables the cap.
func (s *Store) SaveInput(jobID, ext string, r io.Reader, limit int64) (string, int64, error) {
	final := filepath.Join(s.config.UploadDir, jobID+sanitizeExt(ext))

	tmp, err := os.CreateTemp(s.config.UploadDir, "."+jobID+".upload-*")
	if err != nil {
		return "", 0, domain.NewTransientError("failed to create upload file", err)
	}
	tmpName := tmp.Name()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	written, err := io.Copy(tmp, src)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return "", 0, domain.NewTransientError("failed to write upload", err)
	}

	if limit > 0 && written > limit {
		os.Remove(tmpName)
		return "", 0, ErrTooLarge
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", 0, domain.NewTransientError("failed to store upload", err)
	}

	s.logger.Debug("Upload stored",
		slog.String("job_id", jobID),
		slog.String("location", final),
		slog.Int64("size_bytes", written),
	)

	return final, written, nil
}

// OutputLocation is the deterministic artifact path for a job
func (s *Store) OutputLocation(jobID string) string {
	return filepath.Join(s.config.OutputDir, jobID+"."+s.config.OutputExt)
}

// TempOutputLocation returns a fresh per-attempt path next to the final
// artifact, so concurrent attempts never write the same file.
func (s *Store) TempOutputLocation(jobID string) string {
	name := fmt.Sprintf(".%s.%s.partial.%s", jobID, uuid.NewString()[:8], s.config.OutputExt)
	return filepath.Join(s.config.OutputDir, name)
}

// Promote atomically moves a finished temp artifact to its final location
func (s *Store) Promote(tmp, final string) error {
	if err := os.Rename(tmp, final); err != nil {
		return domain.NewTransientError("failed to promote output", err)
	}
	return nil
}

// Open opens a stored file for reading. A missing file is domain.ErrNotFound.
func (s *Store) Open(location string) (io.ReadSeekCloser, int64, error) {
	f, err := os.Open(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, domain.ErrNotFound
		}
		return nil, 0, domain.NewTransientError("failed to open file", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, domain.NewTransientError("failed to stat file", err)
	}

	return f, info.Size(), nil
}

// Remove deletes a stored file; a missing file is not an error
func (s *Store) Remove(location string) error {
	if location == "" {
		return nil
	}
	if err := os.Remove(location); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", location, err)
	}
	return nil
}

// sanitizeExt keeps a short alphanumeric extension and drops anything else
func sanitizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || len(ext) > 8 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}
