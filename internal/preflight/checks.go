package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"assetlib/internal/deps"
	"assetlib/internal/registry"
	"assetlib/internal/services"
)

const registryCheckTimeout = 5 * time.Second

// CheckRegistry verifies that the registry answers an asset listing.
func CheckRegistry(ctx context.Context, reg Lister) Result {
	const name = "Registry"
	if reg == nil {
		return Result{Name: name, Detail: "client not configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, registryCheckTimeout)
	defer cancel()

	assets, err := reg.ListAssets(checkCtx, registry.ListOptions{CheckedInOnly: true})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%s: %v)", services.Kind(err), err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("reachable (%d checked-in assets)", len(assets))}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := checkAccess(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace verifies that the filesystem holding path has at least min
// bytes available.
func CheckDiskSpace(name, path string, min uint64) Result {
	free, err := freeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s available", humanize.IBytes(free))
	if free < min {
		return Result{Name: name, Detail: detail + fmt.Sprintf(" (below %s)", humanize.IBytes(min))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckTemplateScene verifies that the scene template exists.
func CheckTemplateScene(path string) Result {
	const name = "Template scene"
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	case info.IsDir():
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckTools reports the Houdini runtimes found by locator.
func CheckTools(locator *deps.Locator) []Result {
	statuses := locator.Check()
	results := make([]Result, 0, len(statuses))
	for _, status := range statuses {
		detail := status.Command
		if status.Detail != "" {
			detail += " (" + status.Detail + ")"
		}
		results = append(results, Result{
			Name:     status.Name,
			Passed:   status.Available,
			Optional: status.Optional,
			Detail:   detail,
		})
	}
	return results
}
