package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"assetlib/internal/checkout"
	"assetlib/internal/config"
	"assetlib/internal/deps"
	"assetlib/internal/journal"
	"assetlib/internal/launch"
	"assetlib/internal/logging"
	"assetlib/internal/registry"
	"assetlib/internal/staging"
	"assetlib/internal/telemetry"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	runtimeOnce sync.Once
	logger      *slog.Logger
	shutdown    telemetry.Shutdown
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// JSONMode reports whether --json was passed.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// runtime initializes logging and tracing once per invocation.
func (c *commandContext) runtime(ctx context.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	c.runtimeOnce.Do(func() {
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging disabled: %v\n", err)
			logger = logging.NewNop()
		}
		c.logger = logger
		if removed := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "*.log", logging.LogFileName); removed > 0 {
			logger.Debug("pruned old log files", logging.Int("removed", removed))
		}

		shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, version)
		if err != nil {
			logging.WarnWithContext(logger, "tracing disabled", "telemetry_setup_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check telemetry.endpoint"),
				logging.String(logging.FieldImpact, "no traces will be exported"),
			)
			shutdown = func(context.Context) error { return nil }
		}
		c.shutdown = shutdown
	})
	return cfg, c.logger, nil
}

func (c *commandContext) close(ctx context.Context) error {
	if c.shutdown == nil {
		return nil
	}
	err := c.shutdown(context.WithoutCancel(ctx))
	c.shutdown = nil
	return err
}

// appServices is the wired component graph shared by commands.
type appServices struct {
	cfg         *config.Config
	logger      *slog.Logger
	registry    *registry.Client
	journal     *journal.Store
	coordinator *checkout.Coordinator
	stager      *staging.Stager
	locator     *deps.Locator
	pipeline    *launch.Pipeline
}

func (c *commandContext) withServices(cmd *cobra.Command, fn func(*appServices) error) error {
	svc, err := c.openServices(cmd.Context())
	if err != nil {
		return err
	}
	defer svc.journal.Close()
	return fn(svc)
}

func (c *commandContext) openServices(ctx context.Context) (*appServices, error) {
	cfg, logger, err := c.runtime(ctx)
	if err != nil {
		return nil, err
	}
	client, err := registry.New(cfg.Registry.BaseURL,
		registry.WithTimeout(cfg.RegistryTimeout()),
		registry.WithTrailingSlash(cfg.Registry.TrailingSlash),
		registry.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	store, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return nil, fmt.Errorf("open check-in journal: %w", err)
	}
	coordinator := checkout.New(client, store, checkout.WithLogger(logger))
	stager := staging.NewFromConfig(cfg, staging.WithLogger(logger), staging.WithDownloader(client))
	locator := deps.NewLocator(cfg.DCC)
	return &appServices{
		cfg:         cfg,
		logger:      logger,
		registry:    client,
		journal:     store,
		coordinator: coordinator,
		stager:      stager,
		locator:     locator,
		pipeline:    launch.New(cfg, stager, coordinator, locator, launch.WithLogger(logger)),
	}, nil
}

// holderFlag returns the explicit holder or the configured identity.
func holderFlag(cfg *config.Config, flag string) string {
	if flag = strings.TrimSpace(flag); flag != "" {
		return flag
	}
	return cfg.Identity.Holder
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
