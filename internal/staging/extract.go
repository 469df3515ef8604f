package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"assetlib/internal/services"
)

const tempPrefix = ".staging-"

// extractArchive unpacks archive into a temporary sibling of dest and renames
// it into place. created is false when another writer won the rename.
func extractArchive(archive, importRoot, dest string) (files int, created bool, err error) {
	if err := os.MkdirAll(importRoot, 0o755); err != nil {
		return 0, false, extractFailure("create import root", err)
	}
	tmp := filepath.Join(importRoot, tempPrefix+uuid.NewString())
	if err := os.Mkdir(tmp, 0o755); err != nil {
		return 0, false, extractFailure("create temp dir", err)
	}
	defer func() {
		if err != nil || !created {
			_ = os.RemoveAll(tmp)
		}
	}()

	reader, err := zip.OpenReader(archive)
	if err != nil {
		return 0, false, services.Wrap(services.ErrValidation, component, "extract",
			fmt.Sprintf("%s is not a readable zip archive", filepath.Base(archive)), err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		target, err := entryTarget(tmp, file.Name)
		if err != nil {
			return 0, false, err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return 0, false, extractFailure("create "+file.Name, err)
			}
			continue
		}
		if file.Mode()&fs.ModeSymlink != 0 {
			return 0, false, services.Wrap(services.ErrValidation, component, "extract",
				fmt.Sprintf("archive entry %q is a symlink", file.Name), nil)
		}
		if err := writeEntry(file, target); err != nil {
			return 0, false, err
		}
		files++
	}

	if err := os.Rename(tmp, dest); err != nil {
		if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
			return files, false, nil
		}
		return 0, false, extractFailure("move extraction into place", err)
	}
	return files, true, nil
}

// entryTarget resolves name under root, rejecting entries that would escape it.
func entryTarget(root, name string) (string, error) {
	cleaned := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if !filepath.IsLocal(cleaned) {
		return "", services.Wrap(services.ErrValidation, component, "extract",
			fmt.Sprintf("archive entry %q escapes the extraction directory", name), nil)
	}
	return filepath.Join(root, cleaned), nil
}

func writeEntry(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return extractFailure("create parent of "+file.Name, err)
	}
	src, err := file.Open()
	if err != nil {
		return extractFailure("open entry "+file.Name, err)
	}
	defer src.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return services.Wrap(services.ErrValidation, component, "extract",
				fmt.Sprintf("archive entry %q is duplicated", file.Name), nil)
		}
		return extractFailure("create "+file.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return extractFailure("write "+file.Name, err)
	}
	if err := dst.Close(); err != nil {
		return extractFailure("close "+file.Name, err)
	}
	return nil
}

func extractFailure(op string, err error) error {
	return fmt.Errorf("%s: extract: %s: %w", component, op, err)
}
