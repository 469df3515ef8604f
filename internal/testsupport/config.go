package testsupport

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"assetlib/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Tool discovery probes only directories under the temp root, so nothing on
// the host is ever found unless WithStubbedDCC is used.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DownloadsDir = filepath.Join(base, "downloads")
	cfgVal.Paths.ScriptsDir = filepath.Join(base, "scripts")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Registry.BaseURL = "http://127.0.0.1:1/api"
	cfgVal.Identity.Holder = "tester"
	cfgVal.DCC.InstallRoots = []string{filepath.Join(base, "opt")}
	cfgVal.DCC.Versions = []string{"20.5.550"}
	cfgVal.DCC.InteractiveLayout = "{root}/hfs{version}/bin/" + exe("houdini")
	cfgVal.DCC.HeadlessLayout = "{root}/hfs{version}/bin/" + exe("hython")
	cfgVal.DCC.HFS = ""
	cfgVal.DCC.TemplateScene = filepath.Join(base, "downloads", "houdini_usd_template_v02.hiplc")

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRegistry points the config at a registry base URL.
func WithRegistry(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Registry.BaseURL = baseURL
	}
}

// WithHolder sets the checkout identity.
func WithHolder(holder string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Identity.Holder = holder
	}
}

// WithStubbedDCC writes stub executables for the named tools (default:
// houdini and hython) into the probed install root.
func WithStubbedDCC(tools ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(tools) == 0 {
			tools = []string{"houdini", "hython"}
		}
		binDir := filepath.Join(b.baseDir, "opt", "hfs"+b.cfg.DCC.Versions[0], "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range tools {
			target := filepath.Join(binDir, exe(name))
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DownloadsDir)
}

func exe(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}
