package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"assetlib/internal/config"
	"assetlib/internal/registry"
	"assetlib/internal/registry/registrytest"
	"assetlib/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	reg        *registrytest.Server
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T, mutate ...func(*config.Config)) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	for _, key := range []string{
		"ASSETLIB_REGISTRY_URL", "ASSETLIB_HOLDER", "ASSETLIB_DOWNLOADS_DIR",
		"ASSETLIB_LOG_LEVEL", "ASSETLIB_LOG_FORMAT", "ASSETLIB_OTEL_ENDPOINT",
		"ASSETLIB_DCC_VERSIONS", "ASSETLIB_TEMPLATE_SCENE", "ASSETLIB_API_TOKEN", "HFS",
	} {
		t.Setenv(key, "")
	}

	reg := registrytest.New(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRegistry(reg.URL()), testsupport.WithStubbedDCC())
	cfg.Logging.Level = "error"
	for _, fn := range mutate {
		fn(cfg)
	}

	configPath := filepath.Join(homeDir, ".config", "assetlib", "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, reg: reg, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (env *cliTestEnv) addAsset(name, holder string) {
	env.reg.AddAsset(registry.Asset{Name: name, Creator: "ana", Holder: holder, Keywords: []string{"prop"}})
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	fullArgs := args
	if configPath != "" {
		fullArgs = append([]string{"--config", configPath}, args...)
	}
	cmd.SetArgs(fullArgs)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substring string) {
	t.Helper()
	if !strings.Contains(output, substring) {
		t.Fatalf("expected output to contain %q\noutput:\n%s", substring, output)
	}
}
