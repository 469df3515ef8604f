package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"assetlib/internal/checkout"
	"assetlib/internal/config"
	"assetlib/internal/deps"
	"assetlib/internal/journal"
	"assetlib/internal/launch"
	"assetlib/internal/logging"
	"assetlib/internal/registry"
	"assetlib/internal/staging"
)

// Catalog reads asset records from the registry.
type Catalog interface {
	ListAssets(ctx context.Context, opts registry.ListOptions) ([]registry.Asset, error)
	GetAsset(ctx context.Context, name string) (*registry.Asset, error)
}

// Checkouts runs the checkout and check-in protocol.
type Checkouts interface {
	Create(ctx context.Context, req checkout.CreateRequest) (*registry.Asset, error)
	Checkout(ctx context.Context, name, holder string) (*registry.Asset, error)
	Checkin(ctx context.Context, req checkout.CheckinRequest) (*checkout.CheckinResult, error)
	ResumeCheckin(ctx context.Context, sagaID string) (*checkout.CheckinResult, error)
	Checkins(ctx context.Context) ([]journal.Saga, error)
}

// Launcher accepts launch requests and reports their jobs.
type Launcher interface {
	Launch(ctx context.Context, name string) (*launch.Job, error)
	Job(id string) (*launch.Job, bool)
	Jobs() []*launch.Job
}

// Fetcher downloads asset archives into the downloads root.
type Fetcher interface {
	Fetch(ctx context.Context, name string) (staging.FetchResult, error)
	Invalidate(ctx context.Context, name string) error
}

// ToolChecker reports DCC runtime availability.
type ToolChecker interface {
	Check() []deps.Status
}

// Services bundles the domain components served by the daemon. Every field
// is required.
type Services struct {
	Catalog   Catalog
	Checkouts Checkouts
	Launcher  Launcher
	Fetcher   Fetcher
	Tools     ToolChecker
	// Closer is closed with the daemon; typically the check-in journal.
	Closer io.Closer
}

// Daemon serves the local API and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	svc    Services
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Address      string
	LockFilePath string
	JournalPath  string
	StartedAt    time.Time
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, svc Services, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if svc.Catalog == nil || svc.Checkouts == nil || svc.Launcher == nil || svc.Fetcher == nil || svc.Tools == nil {
		return nil, errors.New("daemon requires catalog, checkouts, launcher, fetcher and tools")
	}

	lockPath := filepath.Join(cfg.LockDir(), "assetlib.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		svc:      svc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another assetlib daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.cancel = cancel
	now := time.Now()
	d.startedAt.Store(&now)
	d.running.Store(true)
	d.logger.Info("assetlib daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.api.addr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops serving and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("assetlib daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the services it owns.
func (d *Daemon) Close() error {
	d.Stop()
	if d.svc.Closer != nil {
		return d.svc.Closer.Close()
	}
	return nil
}

// Addr returns the bound API address, or "" when not running.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Address:      d.api.addr(),
		LockFilePath: d.lockPath,
		JournalPath:  d.cfg.JournalPath(),
		Dependencies: d.svc.Tools.Check(),
	}
	if started := d.startedAt.Load(); started != nil && status.Running {
		status.StartedAt = *started
	}
	return status
}
