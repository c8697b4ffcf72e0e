// FilePath: server/meterhub/internal/repository/files/files.storage.go
package files

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/itsatony/w4b_v3/server/meterhub/internal/errors"
	"github.com/itsatony/w4b_v3/server/meterhub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

const (
	defaultPermissions = 0755
	tmpSuffix          = ".part"
)

// FileConfig holds configuration for the file storage
type FileConfig struct {
	BasePath         string
	MaxFileSize      int64
	AllowedMimeTypes []string
}

// FileRepo stores artifact payloads as flat files under BasePath.
type FileRepo struct {
	config FileConfig
}

var _ repository.ArtifactStore = (*FileRepo)(nil)

// NewFileRepository creates a new file storage repository
func NewFileRepository(config FileConfig) (*FileRepo, error) {
	if err := createDirectoryIfNotExists(config.BasePath); err != nil {
		return nil, err
	}
	return &FileRepo{config: config}, nil
}

// Save writes r to ref atomically: readers either see the previous file or
// the complete new one.
func (r *FileRepo) Save(ctx context.Context, ref string, src io.Reader) (int64, error) {
	path, err := r.path(ref)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(r.config.BasePath, filepath.Base(path)+"-*"+tmpSuffix)
	if err != nil {
		return 0, errors.NewInternalError("failed to create destination file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	limit := r.config.MaxFileSize
	if limit <= 0 {
		limit = 1 << 62
	}
	n, err := io.Copy(tmp, io.LimitReader(src, limit+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, errors.NewInternalError("failed to copy file", err)
	}
	if n > limit {
		return 0, errors.NewPayloadTooLargeError(fmt.Sprintf("file exceeds maximum size of %d bytes", limit), nil)
	}
	if n == 0 {
		return 0, errors.NewValidationError("empty file", repository.ErrInvalidInput)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return 0, errors.NewInternalError("failed to move file into place", err)
	}

	nuts.L.Debugf("[FileRepo] Stored %s (%d bytes)", ref, n)
	return n, nil
}

func (r *FileRepo) Open(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	path, err := r.path(ref)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, 0, errors.NewNotFoundError("file not found", repository.ErrNotFound)
		}
		return nil, 0, errors.NewInternalError("failed to open file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.NewInternalError("failed to stat file", err)
	}
	return f, info.Size(), nil
}

func (r *FileRepo) Delete(ctx context.Context, ref string) error {
	path, err := r.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return errors.NewInternalError("failed to delete file", err)
	}
	return nil
}

// DeleteOldFiles removes files last modified before the cutoff unless keep
// reports the ref as still referenced.
func (r *FileRepo) DeleteOldFiles(ctx context.Context, before time.Time, keep func(ref string) bool) (int, error) {
	entries, err := os.ReadDir(r.config.BasePath)
	if err != nil {
		return 0, errors.NewInternalError("failed to list files", err)
	}

	var deletedCount int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return deletedCount, ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		ref := entry.Name()
		if keep != nil && !strings.HasSuffix(ref, tmpSuffix) && keep(ref) {
			continue
		}
		if err := os.Remove(filepath.Join(r.config.BasePath, ref)); err != nil {
			nuts.L.Errorf("[FileRepo] Failed to delete old file %s: %v", ref, err)
			continue
		}
		deletedCount++
	}

	if deletedCount > 0 {
		nuts.L.Infof("[FileRepo] Deleted %d files older than %v", deletedCount, before)
	}
	return deletedCount, nil
}

// IsAllowedMimeType reports whether mimeType may be stored. An empty allow
// list accepts everything.
func (r *FileRepo) IsAllowedMimeType(mimeType string) bool {
	if len(r.config.AllowedMimeTypes) == 0 {
		return true
	}
	for _, allowed := range r.config.AllowedMimeTypes {
		if allowed == mimeType {
			return true
		}
	}
	return false
}

// MaxFileSize returns the configured upload limit in bytes.
func (r *FileRepo) MaxFileSize() int64 {
	return r.config.MaxFileSize
}

// path resolves ref to a file directly under BasePath. Refs are flat names.
func (r *FileRepo) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") || strings.ContainsAny(ref, `/\`) {
		return "", errors.NewValidationError("invalid artifact ref", repository.ErrInvalidInput)
	}
	return filepath.Join(r.config.BasePath, ref), nil
}

// ExtensionForMime maps an image content type to a file extension.
func ExtensionForMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func createDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err := os.MkdirAll(path, defaultPermissions)
		if err != nil {
			return errors.NewInternalError("failed to create directory", err)
		}
	}
	return nil
}
