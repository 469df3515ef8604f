package deps

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"assetlib/internal/config"
	"assetlib/internal/services"
)

// Resolution is the outcome of probing for one tool.
type Resolution struct {
	Tool    Tool
	Path    string
	Version string
	// Source is "hfs" for the $HFS override or "probe" for an install root.
	Source string
	// Tried lists every candidate path in probe order.
	Tried []string
}

// Locator finds DCC executables by probing an ordered candidate list.
type Locator struct {
	hfs      string
	roots    []string
	versions []string
	layouts  map[Tool]string
	goos     string
	stat     func(string) (fs.FileInfo, error)
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithStat replaces os.Stat, letting tests fake an install tree.
func WithStat(stat func(string) (fs.FileInfo, error)) LocatorOption {
	return func(l *Locator) {
		if stat != nil {
			l.stat = stat
		}
	}
}

// WithGOOS overrides the target platform used for executable naming.
func WithGOOS(goos string) LocatorOption {
	return func(l *Locator) {
		if goos != "" {
			l.goos = goos
		}
	}
}

// NewLocator builds a locator from the dcc section of the configuration.
func NewLocator(dcc config.DCC, opts ...LocatorOption) *Locator {
	l := &Locator{
		hfs:      strings.TrimSpace(dcc.HFS),
		roots:    append([]string(nil), dcc.InstallRoots...),
		versions: append([]string(nil), dcc.Versions...),
		layouts: map[Tool]string{
			Interactive: dcc.InteractiveLayout,
			Headless:    dcc.HeadlessLayout,
		},
		goos: runtime.GOOS,
		stat: os.Stat,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type candidate struct {
	path    string
	version string
	source  string
}

func (l *Locator) candidates(tool Tool) []candidate {
	var out []candidate
	if l.hfs != "" {
		out = append(out, candidate{
			path:   filepath.Join(filepath.FromSlash(l.hfs), "bin", executableName(string(tool), l.goos)),
			source: "hfs",
		})
	}
	layout := l.layouts[tool]
	if strings.TrimSpace(layout) == "" {
		return out
	}
	for _, root := range l.roots {
		for _, version := range l.versions {
			rendered := strings.NewReplacer("{root}", filepath.ToSlash(root), "{version}", version).Replace(layout)
			out = append(out, candidate{
				path:    filepath.FromSlash(rendered),
				version: version,
				source:  "probe",
			})
		}
	}
	return out
}

// Candidates returns the probe order for tool.
func (l *Locator) Candidates(tool Tool) []string {
	cands := l.candidates(tool)
	paths := make([]string, 0, len(cands))
	for _, c := range cands {
		paths = append(paths, c.path)
	}
	return paths
}

// Locate returns the first existing candidate for tool. When none exists the
// error matches services.ErrToolNotFound and the Resolution still lists the
// probed paths.
func (l *Locator) Locate(tool Tool) (Resolution, error) {
	res := Resolution{Tool: tool}
	for _, c := range l.candidates(tool) {
		res.Tried = append(res.Tried, c.path)
		info, err := l.stat(c.path)
		if err != nil || !isExecutable(info, l.goos) {
			continue
		}
		res.Path = c.path
		res.Version = c.version
		res.Source = c.source
		return res, nil
	}
	return res, services.Wrap(services.ErrToolNotFound, "deps", "locate",
		fmt.Sprintf("%s not found in %d candidate locations", tool, len(res.Tried)), nil)
}

func executableName(name, goos string) string {
	if goos == "windows" {
		return name + ".exe"
	}
	return name
}

func isExecutable(info fs.FileInfo, goos string) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if goos == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
