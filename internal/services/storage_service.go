package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/photosync/mediaindex/internal/models"
)

// PartialSuffix marks bytes still being written. A file carrying it is never
// visible under its final name.
const PartialSuffix = ".partial"

// MediaStorageService owns the storage root: create-only writes and crawling
type MediaStorageService struct {
	basePath         string
	maxFileSizeBytes int64
}

// NewMediaStorageService creates a new MediaStorageService rooted at basePath
func NewMediaStorageService(basePath string, maxFileSizeMB int64) (*MediaStorageService, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, err
	}

	return &MediaStorageService{
		basePath:         absPath,
		maxFileSizeBytes: maxFileSizeMB * 1024 * 1024,
	}, nil
}

// Root returns the absolute storage root
func (s *MediaStorageService) Root() string {
	return s.basePath
}

// CheckSize rejects files above the configured limit
func (s *MediaStorageService) CheckSize(n int) error {
	if s.maxFileSizeBytes > 0 && int64(n) > s.maxFileSizeBytes {
		return models.ErrFileTooLarge
	}
	return nil
}

// Write stores data at storedPath without ever replacing an existing file.
// The bytes go to a create-only .partial sibling, are synced, then linked
// into place; an occupied final path is ErrPathConflict.
func (s *MediaStorageService) Write(ctx context.Context, storedPath string, data []byte) error {
	fullPath, err := s.FullPath(storedPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}
	if _, err := os.Lstat(fullPath); err == nil {
		return fmt.Errorf("%w: %s", models.ErrPathConflict, storedPath)
	}

	partial := fullPath + PartialSuffix
	file, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s has a pending write", models.ErrPathConflict, storedPath)
	}
	if err != nil {
		return err
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(partial) // Clean up on error
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(partial)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(partial)
		return err
	}

	// Abandoned callers get the partial discarded rather than published
	if err := ctx.Err(); err != nil {
		os.Remove(partial)
		return err
	}

	err = os.Link(partial, fullPath)
	os.Remove(partial)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", models.ErrPathConflict, storedPath)
	}
	return err
}

// Read returns the bytes stored at storedPath
func (s *MediaStorageService) Read(storedPath string) ([]byte, error) {
	fullPath, err := s.FullPath(storedPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(fullPath)
}

// FullPath returns the absolute path for a stored path
func (s *MediaStorageService) FullPath(storedPath string) (string, error) {
	if strings.TrimSpace(storedPath) == "" {
		return "", fmt.Errorf("stored path cannot be empty")
	}
	return s.resolve(storedPath)
}

// resolve joins a slash-separated relative path onto the root, refusing
// anything that climbs out of it. An empty path is the root itself.
func (s *MediaStorageService) resolve(storedPath string) (string, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(storedPath))

	rel, err := filepath.Rel(s.basePath, fullPath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", models.ErrPathTraversal
	}
	return fullPath, nil
}

// Exists checks if a file exists at the given stored path
func (s *MediaStorageService) Exists(storedPath string) bool {
	fullPath, err := s.FullPath(storedPath)
	if err != nil {
		return false
	}

	_, err = os.Stat(fullPath)
	return err == nil
}

// Files lazily lists every regular file below dir, as slash-separated paths
// relative to the root. Pending .partial files are skipped. A directory that
// cannot be read yields one error and its subtree is skipped; the rest of the
// tree is still listed. Ranging again restarts the listing.
func (s *MediaStorageService) Files(dir string) iter.Seq2[string, error] {
	return s.walk(dir, func(name string) bool {
		return !strings.HasSuffix(name, PartialSuffix)
	})
}

// PartialFiles lists leftover .partial files below dir
func (s *MediaStorageService) PartialFiles(dir string) iter.Seq2[string, error] {
	return s.walk(dir, func(name string) bool {
		return strings.HasSuffix(name, PartialSuffix)
	})
}

func (s *MediaStorageService) walk(dir string, keep func(name string) bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		start, err := s.resolve(dir)
		if err != nil {
			yield("", err)
			return
		}

		err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == start {
					return err
				}
				if !yield("", fmt.Errorf("crawl %s: %w", s.relative(path), err)) {
					return fs.SkipAll
				}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !keep(d.Name()) {
				return nil
			}
			if !yield(s.relative(path), nil) {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			yield("", fmt.Errorf("crawl %s: %w", dir, err))
		}
	}
}

func (s *MediaStorageService) relative(path string) string {
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Crawl calls visit once per regular file below dir. Unreadable subtrees are
// skipped and reported together in the returned error; an error from visit
// or a cancelled ctx stops the crawl.
func (s *MediaStorageService) Crawl(ctx context.Context, dir string, visit func(storedPath string) error) error {
	var errs []error
	for path, err := range s.Files(dir) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := visit(path); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
