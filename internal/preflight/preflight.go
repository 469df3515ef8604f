package preflight

import (
	"context"

	"assetlib/internal/config"
	"assetlib/internal/deps"
	"assetlib/internal/registry"
)

// minFreeBytes is the free space below which the downloads disk is flagged.
const minFreeBytes = 1 << 30

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	// Optional checks never fail the overall run.
	Optional bool   `json:"optional"`
	Detail   string `json:"detail,omitempty"`
}

// Lister is the registry call used to prove reachability.
type Lister interface {
	ListAssets(ctx context.Context, opts registry.ListOptions) ([]registry.Asset, error)
}

// RunAll executes every check for cfg. reg may be nil when no registry client
// could be built, in which case the registry check fails.
func RunAll(ctx context.Context, cfg *config.Config, reg Lister, locator *deps.Locator) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckRegistry(ctx, reg))
	results = append(results, CheckDirectoryAccess("Downloads directory", cfg.Paths.DownloadsDir))
	results = append(results, CheckDiskSpace("Downloads free space", cfg.Paths.DownloadsDir, minFreeBytes))
	results = append(results, CheckDirectoryAccess("Scripts directory", cfg.Paths.ScriptsDir))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))
	results = append(results, CheckTemplateScene(cfg.DCC.TemplateScene))
	if locator != nil {
		results = append(results, CheckTools(locator)...)
	}
	return results
}

// Healthy reports whether every required check passed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return false
		}
	}
	return true
}
