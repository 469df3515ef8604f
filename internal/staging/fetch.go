package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"assetlib/internal/logging"
	"assetlib/internal/services"
)

// Downloader streams an asset archive from the registry.
type Downloader interface {
	Download(ctx context.Context, name string, dst io.Writer) (int64, error)
}

// FetchResult describes a downloaded archive.
type FetchResult struct {
	Asset   string
	Archive string
	Bytes   int64
	// Stale is true when an extraction directory from an earlier archive is
	// still present; Stage keeps using it until Invalidate is called.
	Stale bool
}

// Fetch downloads {name}.zip from the registry into the downloads root,
// replacing any existing archive atomically. It does not extract. The swap
// waits for any launch of name that still holds the asset gate.
func (s *Stager) Fetch(ctx context.Context, name string) (FetchResult, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return FetchResult{}, err
	}
	if s.downloader == nil {
		return FetchResult{}, services.Wrap(services.ErrConfiguration, component, "fetch", "no registry downloader configured", nil)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return FetchResult{}, fmt.Errorf("create downloads dir: %w", err)
	}

	tmp := filepath.Join(s.root, fmt.Sprintf(".%s.zip.%s.part", name, uuid.NewString()))
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return FetchResult{}, fmt.Errorf("create download file: %w", err)
	}
	defer os.Remove(tmp)

	written, err := s.downloader.Download(ctx, name, out)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close download file: %w", closeErr)
	}
	if err != nil {
		return FetchResult{}, err
	}

	release, err := s.Lock(ctx, name)
	if err != nil {
		return FetchResult{}, err
	}
	defer release()

	archive := filepath.Join(s.root, name+".zip")
	if existing, findErr := s.findArchive(name); findErr == nil && existing != archive {
		archive = existing
	}
	if err := os.Rename(tmp, archive); err != nil {
		return FetchResult{}, fmt.Errorf("move download into place: %w", err)
	}

	result := FetchResult{Asset: name, Archive: archive, Bytes: written}
	if _, err := os.Stat(s.ExtractDir(name)); err == nil {
		result.Stale = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return FetchResult{}, fmt.Errorf("stat extraction dir: %w", err)
	}

	logging.WithContext(services.WithAsset(ctx, name), s.logger).Info("archive downloaded",
		logging.String("archive", archive),
		logging.Int64("bytes", written),
		logging.Bool("stale_extraction", result.Stale),
		logging.String(logging.FieldEventType, "archive_fetched"),
	)
	return result, nil
}
