package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateDCC(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateTelemetry()
}

func (c *Config) validatePaths() error {
	if c.Paths.DownloadsDir == "" {
		return errors.New("paths.downloads_dir must be set")
	}
	if strings.ContainsAny(c.Paths.ImportDirName, `/\`) || c.Paths.ImportDirName == ".." {
		return fmt.Errorf("paths.import_dir_name %q must be a single directory name", c.Paths.ImportDirName)
	}
	if _, _, err := net.SplitHostPort(c.Paths.APIBind); err != nil {
		return fmt.Errorf("paths.api_bind %q must be host:port: %w", c.Paths.APIBind, err)
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if c.Registry.BaseURL == "" {
		return errors.New("registry.base_url must be set (or ASSETLIB_REGISTRY_URL)")
	}
	parsed, err := url.Parse(c.Registry.BaseURL)
	if err != nil {
		return fmt.Errorf("registry.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("registry.base_url must use http or https, got %q", c.Registry.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("registry.base_url must include a host, got %q", c.Registry.BaseURL)
	}
	return nil
}

func (c *Config) validateDCC() error {
	if c.DCC.HFS == "" {
		if len(c.DCC.InstallRoots) == 0 {
			return errors.New("dcc.install_roots must list at least one root when dcc.hfs is unset")
		}
		if len(c.DCC.Versions) == 0 {
			return errors.New("dcc.versions must list at least one version when dcc.hfs is unset")
		}
	}
	for key, layout := range map[string]string{
		"dcc.interactive_layout": c.DCC.InteractiveLayout,
		"dcc.headless_layout":    c.DCC.HeadlessLayout,
	} {
		if layout == "" {
			return fmt.Errorf("%s must be set", key)
		}
		if !strings.Contains(layout, "{root}") {
			return fmt.Errorf("%s %q must contain {root}", key, layout)
		}
	}
	if !strings.HasPrefix(c.DCC.ControllerNode, "/") {
		return fmt.Errorf("dcc.controller_node %q must be an absolute node path", c.DCC.ControllerNode)
	}
	if filepath.Base(c.DCC.SceneFile) != c.DCC.SceneFile {
		return fmt.Errorf("dcc.scene_file %q must be a file name, not a path", c.DCC.SceneFile)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero or positive")
	}
	return nil
}

func (c *Config) validateTelemetry() error {
	if c.Telemetry.Endpoint == "" {
		return nil
	}
	parsed, err := url.Parse(c.Telemetry.Endpoint)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("telemetry.endpoint %q must be a URL such as http://localhost:4318", c.Telemetry.Endpoint)
	}
	return nil
}
