package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRegistry()
	if err := c.normalizeDCC(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeTelemetry()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DownloadsDir) == "" {
		c.Paths.DownloadsDir = defaultDownloadsDir
	}
	if c.Paths.DownloadsDir, err = expandPath(c.Paths.DownloadsDir); err != nil {
		return fmt.Errorf("paths.downloads_dir: %w", err)
	}
	c.Paths.ImportDirName = strings.TrimSpace(c.Paths.ImportDirName)
	if c.Paths.ImportDirName == "" {
		c.Paths.ImportDirName = defaultImportDirName
	}
	if strings.TrimSpace(c.Paths.ScriptsDir) == "" {
		c.Paths.ScriptsDir = defaultScriptsDir
	}
	if c.Paths.ScriptsDir, err = expandPath(c.Paths.ScriptsDir); err != nil {
		return fmt.Errorf("paths.scripts_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeRegistry() {
	c.Registry.BaseURL = strings.TrimRight(strings.TrimSpace(c.Registry.BaseURL), "/")
	if c.Registry.TimeoutSeconds <= 0 {
		c.Registry.TimeoutSeconds = defaultRegistryTimeoutSeconds
	}
	c.Identity.Holder = strings.TrimSpace(c.Identity.Holder)
}

func (c *Config) normalizeDCC() error {
	var err error
	roots := make([]string, 0, len(c.DCC.InstallRoots))
	for _, root := range c.DCC.InstallRoots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		expanded, err := expandPath(root)
		if err != nil {
			return fmt.Errorf("dcc.install_roots: %w", err)
		}
		roots = append(roots, filepath.ToSlash(expanded))
	}
	c.DCC.InstallRoots = roots

	versions := make([]string, 0, len(c.DCC.Versions))
	seen := make(map[string]struct{}, len(c.DCC.Versions))
	for _, version := range c.DCC.Versions {
		version = strings.TrimSpace(version)
		if version == "" {
			continue
		}
		if _, ok := seen[version]; ok {
			continue
		}
		seen[version] = struct{}{}
		versions = append(versions, version)
	}
	c.DCC.Versions = versions

	c.DCC.InteractiveLayout = strings.TrimSpace(c.DCC.InteractiveLayout)
	c.DCC.HeadlessLayout = strings.TrimSpace(c.DCC.HeadlessLayout)
	if c.DCC.HFS = strings.TrimSpace(c.DCC.HFS); c.DCC.HFS != "" {
		if c.DCC.HFS, err = expandPath(c.DCC.HFS); err != nil {
			return fmt.Errorf("dcc.hfs: %w", err)
		}
	}

	if strings.TrimSpace(c.DCC.TemplateScene) == "" {
		c.DCC.TemplateScene = filepath.Join(c.Paths.DownloadsDir, defaultTemplateSceneName)
	}
	if c.DCC.TemplateScene, err = expandPath(c.DCC.TemplateScene); err != nil {
		return fmt.Errorf("dcc.template_scene: %w", err)
	}

	setDefault := func(dst *string, fallback string) {
		*dst = strings.TrimSpace(*dst)
		if *dst == "" {
			*dst = fallback
		}
	}
	setDefault(&c.DCC.ControllerNode, defaultControllerNode)
	setDefault(&c.DCC.AssetParameter, defaultAssetParameter)
	setDefault(&c.DCC.CheckoutParameter, defaultCheckoutParameter)
	setDefault(&c.DCC.SceneFile, defaultSceneFile)
	setDefault(&c.DCC.SourceExtension, defaultSourceExtension)
	if !strings.HasPrefix(c.DCC.SourceExtension, ".") {
		c.DCC.SourceExtension = "." + c.DCC.SourceExtension
	}
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

func (c *Config) normalizeTelemetry() {
	c.Telemetry.Endpoint = strings.TrimSpace(c.Telemetry.Endpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
}
