package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"assetlib/internal/journal"
	"assetlib/internal/logging"
	"assetlib/internal/registry"
	"assetlib/internal/services"
)

const component = "checkout"

// Registry is the subset of the registry client the coordinator needs.
type Registry interface {
	GetAsset(ctx context.Context, name string) (*registry.Asset, error)
	Upload(ctx context.Context, name, version, filename string, content io.Reader) error
	Checkout(ctx context.Context, name, holder string) (*registry.Asset, error)
	Checkin(ctx context.Context, name, filename string, content io.Reader) (registry.VersionMap, error)
	CommitMetadata(ctx context.Context, name string, metadata registry.Metadata) error
}

// Journal persists check-in sagas.
type Journal interface {
	Create(ctx context.Context, saga journal.Saga) (*journal.Saga, error)
	Get(ctx context.Context, id string) (*journal.Saga, error)
	List(ctx context.Context, statuses ...journal.Status) ([]journal.Saga, error)
	MarkContentCommitted(ctx context.Context, id string, versionMap map[string]string) error
	MarkMetadataCommitted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	RecordMetadataFailure(ctx context.Context, id, reason string) error
}

// State is the lock state of an asset as last reported by the registry.
type State struct {
	Asset        string
	IsCheckedOut bool
	Holder       string
	Version      string
}

// CheckinRequest describes a check-in. Version overrides Bump when set.
type CheckinRequest struct {
	Asset      string
	Holder     string
	Filename   string
	Payload    io.Reader
	Note       string
	Keywords   []string
	HasTexture bool
	Version    string
	Bump       Bump
}

// CreateRequest describes a new asset. An empty Version means InitialVersion.
type CreateRequest struct {
	Asset    string
	Version  string
	Filename string
	Payload  io.Reader
}

// CheckinResult describes a completed check-in.
type CheckinResult struct {
	SagaID     string
	Asset      string
	Holder     string
	Filename   string
	Version    string
	VersionMap registry.VersionMap
	// Resumed is true when the result came from ResumeCheckin.
	Resumed bool
}

// Coordinator enforces the single-editor contract on top of the registry.
type Coordinator struct {
	registry Registry
	journal  Journal
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logging.NewComponentLogger(logger, component)
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a coordinator.
func New(reg Registry, store Journal, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: reg,
		journal:  store,
		logger:   logging.NewComponentLogger(nil, component),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckoutState re-fetches the lock state of name from the registry.
func (c *Coordinator) CheckoutState(ctx context.Context, name string) (State, error) {
	asset, err := c.registry.GetAsset(ctx, name)
	if err != nil {
		return State{}, err
	}
	return stateOf(asset), nil
}

// Checkout requests the edit lock on name for holder. A rejection where the
// registry already lists holder as the lock owner is treated as success.
func (c *Coordinator) Checkout(ctx context.Context, name, holder string) (*registry.Asset, error) {
	name = strings.TrimSpace(name)
	holder = strings.TrimSpace(holder)
	if name == "" || holder == "" {
		return nil, services.Wrap(services.ErrValidation, component, "checkout", "asset name and holder are required", nil)
	}
	ctx = services.WithAsset(ctx, name)
	logger := logging.WithContext(ctx, c.logger)

	asset, err := c.registry.Checkout(ctx, name, holder)
	if err == nil {
		logger.Info("checkout granted",
			logging.String("holder", holder),
			logging.String(logging.FieldEventType, "checkout_granted"),
		)
		return asset, nil
	}
	if !errors.Is(err, services.ErrConflict) {
		return nil, err
	}

	current, getErr := c.registry.GetAsset(ctx, name)
	if getErr != nil {
		return nil, err
	}
	if current.IsCheckedOut && sameHolder(current.Holder, holder) {
		logger.Info("checkout already held by caller",
			logging.String("holder", holder),
			logging.String(logging.FieldEventType, "checkout_idempotent"),
		)
		return current, nil
	}
	logger.Info("checkout rejected",
		logging.String("holder", holder),
		logging.String("current_holder", current.Holder),
		logging.String(logging.FieldEventType, "checkout_conflict"),
	)
	return nil, services.Wrap(services.ErrConflict, component, "checkout",
		fmt.Sprintf("%s is checked out by %s", name, displayHolder(current.Holder)), err)
}

// Create uploads the first version of a new asset and returns the registry's
// record of it. The asset starts checked in.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*registry.Asset, error) {
	name := strings.TrimSpace(req.Asset)
	if err := validatePayload("create", name, req.Payload, req.Filename); err != nil {
		return nil, err
	}
	version := strings.TrimSpace(req.Version)
	if version == "" {
		version = InitialVersion
	} else if err := ValidateVersion(version); err != nil {
		return nil, err
	}
	ctx = services.WithAsset(ctx, name)

	if err := c.registry.Upload(ctx, name, version, filepath.Base(req.Filename), req.Payload); err != nil {
		return nil, err
	}
	logging.WithContext(ctx, c.logger).Info("asset created",
		logging.String("version", version),
		logging.String(logging.FieldEventType, "asset_created"),
	)
	return c.registry.GetAsset(ctx, name)
}

// Checkin uploads new content for an asset the caller holds, then commits the
// metadata. Content success followed by metadata failure returns a
// *PartialCheckinError that can be resumed with ResumeCheckin.
func (c *Coordinator) Checkin(ctx context.Context, req CheckinRequest) (*CheckinResult, error) {
	if err := validateCheckin(req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Asset)
	holder := strings.TrimSpace(req.Holder)
	ctx = services.WithAsset(ctx, name)
	logger := logging.WithContext(ctx, c.logger)

	current, err := c.registry.GetAsset(ctx, name)
	if err != nil {
		return nil, err
	}
	if !current.IsCheckedOut || !sameHolder(current.Holder, holder) {
		return nil, services.Wrap(services.ErrConflict, component, "checkin",
			fmt.Sprintf("%s is not checked out by %s (holder: %s)", name, holder, displayHolder(current.Holder)), nil)
	}

	version := strings.TrimSpace(req.Version)
	if version == "" {
		if version, err = NextVersion(current.Version, req.Bump); err != nil {
			return nil, err
		}
	}

	metadata := registry.Metadata{
		Keywords:   normalizeKeywords(req.Keywords),
		HasTexture: req.HasTexture,
		Commit: registry.Commit{
			Author:    holder,
			Timestamp: c.now().UTC().Format(time.RFC3339),
			Version:   version,
			Note:      strings.TrimSpace(req.Note),
		},
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "checkin", "encode metadata", err)
	}

	saga, err := c.journal.Create(ctx, journal.Saga{
		Asset:    name,
		Holder:   holder,
		Version:  version,
		Filename: filepath.Base(req.Filename),
		Metadata: encoded,
	})
	if err != nil {
		return nil, fmt.Errorf("record check-in saga: %w", err)
	}
	logger = logger.With(logging.String("saga_id", saga.ID), logging.String("version", version))

	versionMap, err := c.registry.Checkin(ctx, name, filepath.Base(req.Filename), req.Payload)
	if err != nil {
		if markErr := c.journal.MarkFailed(ctx, saga.ID, err.Error()); markErr != nil {
			logger.Debug("mark saga failed", logging.Error(markErr))
		}
		logger.Info("check-in content rejected; nothing committed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "checkin_failed"),
		)
		return nil, err
	}
	if err := c.journal.MarkContentCommitted(ctx, saga.ID, versionMap); err != nil {
		logging.ErrorWithContext(logger, "journal update failed after content commit", "journal_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions; the saga may not be resumable"),
		)
	}

	metadata.VersionMap = versionMap
	return c.commitMetadata(ctx, logger, saga, metadata, false)
}

// ResumeCheckin retries only the metadata commit of a partially committed
// check-in. Completed sagas return their result without contacting the
// registry.
func (c *Coordinator) ResumeCheckin(ctx context.Context, sagaID string) (*CheckinResult, error) {
	saga, err := c.journal.Get(ctx, strings.TrimSpace(sagaID))
	if err != nil {
		return nil, err
	}
	if saga == nil {
		return nil, services.Wrap(services.ErrNotFound, component, "resume", fmt.Sprintf("no check-in %q", sagaID), nil)
	}
	ctx = services.WithAsset(ctx, saga.Asset)
	logger := logging.WithContext(ctx, c.logger).With(logging.String("saga_id", saga.ID))

	switch saga.Status {
	case journal.StatusMetadataCommitted:
		return resultOf(saga, saga.Version, saga.VersionMap, true), nil
	case journal.StatusContentCommitted:
	default:
		return nil, services.Wrap(services.ErrValidation, component, "resume",
			fmt.Sprintf("check-in %s is %s; only content_committed check-ins can be resumed", saga.ID, saga.Status), nil)
	}

	var metadata registry.Metadata
	if err := json.Unmarshal(saga.Metadata, &metadata); err != nil {
		return nil, fmt.Errorf("decode saga metadata: %w", err)
	}
	metadata.VersionMap = saga.VersionMap
	if metadata.VersionMap == nil {
		metadata.VersionMap = registry.VersionMap{}
	}
	return c.commitMetadata(ctx, logger, saga, metadata, true)
}

// PendingCheckins lists check-ins waiting for a metadata commit.
func (c *Coordinator) PendingCheckins(ctx context.Context) ([]journal.Saga, error) {
	return c.journal.List(ctx, journal.StatusContentCommitted)
}

// Checkins lists every recorded check-in, newest first.
func (c *Coordinator) Checkins(ctx context.Context) ([]journal.Saga, error) {
	return c.journal.List(ctx)
}

func (c *Coordinator) commitMetadata(ctx context.Context, logger *slog.Logger, saga *journal.Saga, metadata registry.Metadata, resumed bool) (*CheckinResult, error) {
	sagaID := saga.ID
	if err := c.registry.CommitMetadata(ctx, saga.Asset, metadata); err != nil {
		if recErr := c.journal.RecordMetadataFailure(ctx, sagaID, err.Error()); recErr != nil {
			logger.Debug("record metadata failure", logging.Error(recErr))
		}
		logging.WarnWithContext(logger, "check-in partially committed", "checkin_partial",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, "run 'assetlib checkin resume "+sagaID+"'"),
			logging.String(logging.FieldImpact, "content uploaded but metadata not recorded"),
		)
		return nil, &PartialCheckinError{SagaID: sagaID, Asset: saga.Asset, VersionMap: metadata.VersionMap, Err: err}
	}
	if err := c.journal.MarkMetadataCommitted(ctx, sagaID); err != nil {
		logger.Debug("mark saga committed", logging.Error(err))
	}
	logger.Info("check-in committed",
		logging.String("version", metadata.Commit.Version),
		logging.Bool("resumed", resumed),
		logging.String(logging.FieldEventType, "checkin_committed"),
	)
	return resultOf(saga, metadata.Commit.Version, metadata.VersionMap, resumed), nil
}

func resultOf(saga *journal.Saga, version string, versionMap registry.VersionMap, resumed bool) *CheckinResult {
	return &CheckinResult{
		SagaID:     saga.ID,
		Asset:      saga.Asset,
		Holder:     saga.Holder,
		Filename:   saga.Filename,
		Version:    version,
		VersionMap: versionMap,
		Resumed:    resumed,
	}
}

func validateCheckin(req CheckinRequest) error {
	if strings.TrimSpace(req.Holder) == "" && strings.TrimSpace(req.Asset) != "" {
		return services.Wrap(services.ErrValidation, component, "checkin", "holder is required", nil)
	}
	return validatePayload("checkin", strings.TrimSpace(req.Asset), req.Payload, req.Filename)
}

func validatePayload(op, name string, payload io.Reader, filename string) error {
	switch {
	case name == "":
		return services.Wrap(services.ErrValidation, component, op, "asset name is required", nil)
	case payload == nil:
		return services.Wrap(services.ErrValidation, component, op, "payload is required", nil)
	case !strings.EqualFold(filepath.Ext(filename), ".zip"):
		return services.Wrap(services.ErrValidation, component, op,
			fmt.Sprintf("payload %q must be a .zip archive", filepath.Base(filename)), nil)
	}
	return nil
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func stateOf(asset *registry.Asset) State {
	return State{
		Asset:        asset.Name,
		IsCheckedOut: asset.IsCheckedOut,
		Holder:       asset.Holder,
		Version:      asset.Version,
	}
}

func sameHolder(a, b string) bool {
	return a != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func displayHolder(holder string) string {
	if holder == "" {
		return "nobody"
	}
	return holder
}
