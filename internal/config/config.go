package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DownloadsDir  string `toml:"downloads_dir"`
	ImportDirName string `toml:"import_dir_name"`
	ScriptsDir    string `toml:"scripts_dir"`
	StateDir      string `toml:"state_dir"`
	LogDir        string `toml:"log_dir"`
	APIBind       string `toml:"api_bind"`
	// APIToken, when set, is required as a bearer token by the local API.
	APIToken string `toml:"api_token"`
}

// Registry contains connection settings for the asset-management service.
type Registry struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// TrailingSlash appends "/" to every endpoint path; the reference service
	// rejects POSTs without it.
	TrailingSlash bool `toml:"trailing_slash"`
}

// Identity names the holder used for checkout and check-in requests.
type Identity struct {
	Holder string `toml:"holder"`
}

// DCC describes how to discover and drive the content-creation application.
//
// Layout templates accept {root} and {version} placeholders. Candidates are
// probed in order: $HFS first (when set), then every install root crossed with
// every version.
type DCC struct {
	InstallRoots      []string `toml:"install_roots"`
	Versions          []string `toml:"versions"`
	InteractiveLayout string   `toml:"interactive_layout"`
	HeadlessLayout    string   `toml:"headless_layout"`
	HFS               string   `toml:"hfs"`
	TemplateScene     string   `toml:"template_scene"`
	ControllerNode    string   `toml:"controller_node"`
	AssetParameter    string   `toml:"asset_parameter"`
	CheckoutParameter string   `toml:"checkout_parameter"`
	SceneFile         string   `toml:"scene_file"`
	SourceExtension   string   `toml:"source_extension"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes log files older than this many days; 0 keeps everything.
	RetentionDays int `toml:"retention_days"`
}

// Telemetry contains OpenTelemetry export settings. Tracing is disabled when
// Endpoint is empty.
type Telemetry struct {
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
}

// Config encapsulates all configuration values for assetlib.
//
// Configuration sections by subsystem:
//   - Paths: downloads root, script/state/log directories, API bind address
//   - Registry: asset-management REST service
//   - Identity: checkout holder
//   - DCC: Houdini discovery and scene-script parameters
//   - Logging: log format and level
//   - Telemetry: OTLP trace export
type Config struct {
	Paths     Paths     `toml:"paths"`
	Registry  Registry  `toml:"registry"`
	Identity  Identity  `toml:"identity"`
	DCC       DCC       `toml:"dcc"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/assetlib/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("assetlib.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories assetlib writes into. The
// downloads root is left alone; it belongs to the user.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ScriptsDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ImportRoot returns the directory that holds per-asset extraction trees.
func (c *Config) ImportRoot() string {
	return filepath.Join(c.Paths.DownloadsDir, c.Paths.ImportDirName)
}

// JournalPath returns the SQLite database path for the check-in journal.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "checkins.db")
}

// LockDir returns the directory holding per-asset launch lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// RegistryTimeout returns the per-request timeout for registry calls.
func (c *Config) RegistryTimeout() time.Duration {
	if c.Registry.TimeoutSeconds <= 0 {
		return time.Duration(defaultRegistryTimeoutSeconds) * time.Second
	}
	return time.Duration(c.Registry.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
