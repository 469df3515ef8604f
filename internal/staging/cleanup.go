package staging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"assetlib/internal/logging"
)

// CleanResult contains the outcome of a cleanup pass.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanAbandoned removes temporary extraction directories and partial
// downloads older than maxAge. Both are left behind only by interrupted runs.
func (s *Stager) CleanAbandoned(ctx context.Context, maxAge time.Duration) CleanResult {
	result := CleanResult{}
	cutoff := time.Now().Add(-maxAge)

	s.sweep(ctx, s.importRoot, cutoff, &result, func(entry os.DirEntry) bool {
		return entry.IsDir() && strings.HasPrefix(entry.Name(), tempPrefix)
	})
	s.sweep(ctx, s.root, cutoff, &result, func(entry os.DirEntry) bool {
		return !entry.IsDir() && strings.HasPrefix(entry.Name(), ".") && strings.HasSuffix(entry.Name(), ".part")
	})
	return result
}

func (s *Stager) sweep(ctx context.Context, dir string, cutoff time.Time, result *CleanResult, match func(os.DirEntry) bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		}
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if !match(entry) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			logging.WarnWithContext(s.logger, "failed to remove abandoned staging data", "staging_cleanup_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check downloads_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		s.logger.Info("removed abandoned staging data",
			logging.String("path", path),
			logging.Duration("age", time.Since(info.ModTime())),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
}

// DirInfo describes an extracted asset directory.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// List returns the extracted asset directories under the import root.
func (s *Stager) List() ([]DirInfo, error) {
	entries, err := os.ReadDir(s.importRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(s.importRoot, entry.Name())
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    dirPath,
			ModTime: info.ModTime(),
			Size:    size,
		})
	}
	return dirs, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
