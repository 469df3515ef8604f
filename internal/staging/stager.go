package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"

	"assetlib/internal/config"
	"assetlib/internal/logging"
	"assetlib/internal/services"
)

const component = "staging"

// Paths is the deterministic on-disk layout for one asset.
type Paths struct {
	Asset      string
	Archive    string
	ExtractDir string
	// Extracted is true when this call performed the extraction; false when
	// the directory was already present.
	Extracted bool
}

// Stager maps asset names to local archives and extracts them at most once.
type Stager struct {
	root       string
	importRoot string
	downloader Downloader
	gate       *Gate
	logger     *slog.Logger
}

// Option configures a Stager.
type Option func(*Stager)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stager) {
		s.logger = logging.NewComponentLogger(logger, component)
	}
}

// WithGate shares gate with other users of the same extraction trees.
func WithGate(gate *Gate) Option {
	return func(s *Stager) {
		if gate != nil {
			s.gate = gate
		}
	}
}

// WithDownloader enables Fetch.
func WithDownloader(d Downloader) Option {
	return func(s *Stager) {
		s.downloader = d
	}
}

// New constructs a stager rooted at downloadsDir with extractions placed under
// downloadsDir/importDirName.
func New(downloadsDir, importDirName string, opts ...Option) *Stager {
	s := &Stager{
		root:       filepath.Clean(downloadsDir),
		importRoot: filepath.Join(downloadsDir, importDirName),
		gate:       NewGate(""),
		logger:     logging.NewComponentLogger(nil, component),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig constructs a stager from the paths section of cfg. Its gate
// takes lock files in cfg.LockDir() so separate processes also serialize.
func NewFromConfig(cfg *config.Config, opts ...Option) *Stager {
	opts = append([]Option{WithGate(NewGate(cfg.LockDir()))}, opts...)
	return New(cfg.Paths.DownloadsDir, cfg.Paths.ImportDirName, opts...)
}

// Lock holds the per-asset gate until release is called. Stage expects its
// caller to hold it; Fetch and Invalidate take it themselves.
func (s *Stager) Lock(ctx context.Context, name string) (func(), error) {
	return s.gate.Acquire(ctx, name)
}

// Root returns the downloads directory.
func (s *Stager) Root() string { return s.root }

// ImportRoot returns the directory holding extracted assets.
func (s *Stager) ImportRoot() string { return s.importRoot }

// FoldName returns the Unicode case-folded form of name used for directory
// and script file names.
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// Resolve computes the paths for name without touching the extraction
// directory. The archive must exist.
func (s *Stager) Resolve(name string) (Paths, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return Paths{}, err
	}
	archive, err := s.findArchive(name)
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		Asset:      name,
		Archive:    archive,
		ExtractDir: s.ExtractDir(name),
	}, nil
}

// ExtractDir returns the extraction directory for name.
func (s *Stager) ExtractDir(name string) string {
	return filepath.Join(s.importRoot, FoldName(name))
}

// Stage locates the archive for name and extracts it unless the extraction
// directory already exists. It never downloads. Callers hold Lock for name.
func (s *Stager) Stage(ctx context.Context, name string) (Paths, error) {
	paths, err := s.Resolve(name)
	if err != nil {
		return Paths{}, err
	}
	logger := logging.WithContext(services.WithAsset(ctx, paths.Asset), s.logger)

	if info, err := os.Stat(paths.ExtractDir); err == nil {
		if !info.IsDir() {
			return Paths{}, services.Wrap(services.ErrValidation, component, "stage",
				fmt.Sprintf("%s exists and is not a directory", paths.ExtractDir), nil)
		}
		logger.Debug("extraction present; skipping",
			logging.String("extract_dir", paths.ExtractDir),
			logging.String(logging.FieldEventType, "stage_skipped"),
		)
		return paths, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Paths{}, fmt.Errorf("stat extraction dir: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Paths{}, err
	}
	files, created, err := extractArchive(paths.Archive, s.importRoot, paths.ExtractDir)
	if err != nil {
		return Paths{}, err
	}
	paths.Extracted = created
	logger.Info("archive extracted",
		logging.String("archive", filepath.Base(paths.Archive)),
		logging.String("extract_dir", paths.ExtractDir),
		logging.Int("files", files),
		logging.Bool("extracted", created),
		logging.String(logging.FieldEventType, "stage_extracted"),
	)
	return paths, nil
}

// Invalidate removes the extraction directory of name so the next Stage
// re-extracts the archive. It waits for any launch of name still reading the
// tree.
func (s *Stager) Invalidate(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return err
	}
	release, err := s.Lock(ctx, name)
	if err != nil {
		return err
	}
	defer release()
	dir := s.ExtractDir(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}

func (s *Stager) findArchive(name string) (string, error) {
	exact := filepath.Join(s.root, name+".zip")
	if info, err := os.Stat(exact); err == nil && !info.IsDir() {
		return exact, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read downloads dir: %w", err)
	}
	want := FoldName(name + ".zip")
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if FoldName(entry.Name()) == want {
			return filepath.Join(s.root, entry.Name()), nil
		}
	}
	return "", services.Wrap(services.ErrMissingArchive, component, "stage",
		fmt.Sprintf("no %s.zip in %s", name, s.root), nil)
}

func validateName(name string) error {
	switch {
	case name == "":
		return services.Wrap(services.ErrValidation, component, "stage", "asset name is required", nil)
	case name == "." || name == "..",
		strings.ContainsAny(name, `/\`),
		strings.ContainsRune(name, 0):
		return services.Wrap(services.ErrValidation, component, "stage",
			fmt.Sprintf("asset name %q is not a valid file name", name), nil)
	}
	return nil
}
