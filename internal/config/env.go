package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverlay holds raw environment values layered over the TOML file.
type envOverlay struct {
	RegistryURL   string   `env:"ASSETLIB_REGISTRY_URL"`
	Holder        string   `env:"ASSETLIB_HOLDER"`
	DownloadsDir  string   `env:"ASSETLIB_DOWNLOADS_DIR"`
	LogLevel      string   `env:"ASSETLIB_LOG_LEVEL"`
	LogFormat     string   `env:"ASSETLIB_LOG_FORMAT"`
	OTelEndpoint  string   `env:"ASSETLIB_OTEL_ENDPOINT"`
	DCCVersions   []string `env:"ASSETLIB_DCC_VERSIONS" envSeparator:","`
	TemplateScene string   `env:"ASSETLIB_TEMPLATE_SCENE"`
	APIToken      string   `env:"ASSETLIB_API_TOKEN"`
	HFS           string   `env:"HFS"`
}

// applyEnv overrides file values with any non-empty environment variables.
// HFS only fills dcc.hfs when the file leaves it blank.
func (c *Config) applyEnv() error {
	var raw envOverlay
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	override := func(dst *string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			*dst = value
		}
	}
	override(&c.Registry.BaseURL, raw.RegistryURL)
	override(&c.Identity.Holder, raw.Holder)
	override(&c.Paths.DownloadsDir, raw.DownloadsDir)
	override(&c.Logging.Level, raw.LogLevel)
	override(&c.Logging.Format, raw.LogFormat)
	override(&c.Telemetry.Endpoint, raw.OTelEndpoint)
	override(&c.DCC.TemplateScene, raw.TemplateScene)
	override(&c.Paths.APIToken, raw.APIToken)
	if len(raw.DCCVersions) > 0 {
		c.DCC.Versions = raw.DCCVersions
	}
	if strings.TrimSpace(c.DCC.HFS) == "" {
		c.DCC.HFS = strings.TrimSpace(raw.HFS)
	}
	return nil
}
