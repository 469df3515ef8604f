package deps

import (
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"assetlib/internal/config"
	"assetlib/internal/services"
)

type fakeInfo struct {
	name string
	mode fs.FileMode
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return 1 }
func (f fakeInfo) Mode() fs.FileMode  { return f.mode }
func (f fakeInfo) ModTime() time.Time { return time.Time{} }
func (f fakeInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeInfo) Sys() any           { return nil }

// fakeTree returns a stat func that reports the listed paths as executables.
func fakeTree(paths ...string) func(string) (fs.FileInfo, error) {
	present := make(map[string]fs.FileMode, len(paths))
	for _, p := range paths {
		present[p] = 0o755
	}
	return func(path string) (fs.FileInfo, error) {
		mode, ok := present[path]
		if !ok {
			return nil, fs.ErrNotExist
		}
		return fakeInfo{name: path, mode: mode}, nil
	}
}

func linuxDCC() config.DCC {
	return config.DCC{
		InstallRoots:      []string{"/opt", "/usr/local"},
		Versions:          []string{"20.5.550", "20.5.370"},
		InteractiveLayout: "{root}/hfs{version}/bin/houdini",
		HeadlessLayout:    "{root}/hfs{version}/bin/hython",
	}
}

func TestCandidatesOrderRootsThenVersions(t *testing.T) {
	dcc := linuxDCC()
	dcc.HFS = "/custom/hfs"
	l := NewLocator(dcc, WithGOOS("linux"), WithStat(fakeTree()))

	want := []string{
		"/custom/hfs/bin/hython",
		"/opt/hfs20.5.550/bin/hython",
		"/opt/hfs20.5.370/bin/hython",
		"/usr/local/hfs20.5.550/bin/hython",
		"/usr/local/hfs20.5.370/bin/hython",
	}
	if diff := cmp.Diff(want, l.Candidates(Headless)); diff != "" {
		t.Fatalf("candidate mismatch (-want +got):\n%s", diff)
	}
}

func TestLocateFirstExistingWins(t *testing.T) {
	l := NewLocator(linuxDCC(), WithGOOS("linux"), WithStat(fakeTree(
		"/opt/hfs20.5.370/bin/houdini",
		"/usr/local/hfs20.5.550/bin/houdini",
	)))

	res, err := l.Locate(Interactive)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if res.Path != "/opt/hfs20.5.370/bin/houdini" || res.Version != "20.5.370" || res.Source != "probe" {
		t.Fatalf("unexpected resolution %+v", res)
	}
	if len(res.Tried) != 2 {
		t.Fatalf("expected probing to stop at the first hit, tried %v", res.Tried)
	}
}

func TestLocateHFSOverrideTakesPrecedence(t *testing.T) {
	dcc := linuxDCC()
	dcc.HFS = "/custom/hfs"
	l := NewLocator(dcc, WithGOOS("linux"), WithStat(fakeTree(
		"/custom/hfs/bin/houdini",
		"/opt/hfs20.5.550/bin/houdini",
	)))

	res, err := l.Locate(Interactive)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if res.Path != "/custom/hfs/bin/houdini" || res.Source != "hfs" {
		t.Fatalf("expected $HFS hit, got %+v", res)
	}
}

func TestLocateWindowsLayout(t *testing.T) {
	dcc := config.DCC{
		InstallRoots:      []string{"C:/Program Files/Side Effects Software"},
		Versions:          []string{"20.5.550"},
		InteractiveLayout: "{root}/Houdini {version}/bin/houdini.exe",
		HeadlessLayout:    "{root}/Houdini {version}/bin/hython.exe",
		HFS:               "D:/hfs",
	}
	l := NewLocator(dcc, WithGOOS("windows"), WithStat(fakeTree(
		"C:/Program Files/Side Effects Software/Houdini 20.5.550/bin/hython.exe",
	)))

	if got := l.Candidates(Headless)[0]; got != "D:/hfs/bin/hython.exe" {
		t.Fatalf("expected .exe suffix on $HFS candidate, got %s", got)
	}
	res, err := l.Locate(Headless)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if res.Version != "20.5.550" {
		t.Fatalf("unexpected resolution %+v", res)
	}
}

func TestLocateMissingReportsToolNotFound(t *testing.T) {
	l := NewLocator(linuxDCC(), WithGOOS("linux"), WithStat(fakeTree()))

	res, err := l.Locate(Headless)
	if !errors.Is(err, services.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if len(res.Tried) != 4 {
		t.Fatalf("expected all candidates probed, got %v", res.Tried)
	}
}

func TestLocateSkipsNonExecutables(t *testing.T) {
	stat := func(path string) (fs.FileInfo, error) {
		switch path {
		case "/opt/hfs20.5.550/bin/houdini":
			return fakeInfo{name: path, mode: fs.ModeDir | 0o755}, nil
		case "/opt/hfs20.5.370/bin/houdini":
			return fakeInfo{name: path, mode: 0o644}, nil
		}
		return nil, fs.ErrNotExist
	}
	l := NewLocator(linuxDCC(), WithGOOS("linux"), WithStat(stat))
	if _, err := l.Locate(Interactive); !errors.Is(err, services.ErrToolNotFound) {
		t.Fatalf("expected directories and non-executables to be skipped, got %v", err)
	}
}

func TestCheckMarksHeadlessOptional(t *testing.T) {
	l := NewLocator(linuxDCC(), WithGOOS("linux"), WithStat(fakeTree("/opt/hfs20.5.550/bin/houdini")))

	statuses := l.Check()
	if len(statuses) != 2 {
		t.Fatalf("expected two statuses, got %d", len(statuses))
	}
	if !statuses[0].Available || statuses[0].Detail != "version 20.5.550" {
		t.Fatalf("unexpected interactive status %+v", statuses[0])
	}
	if statuses[1].Available || !statuses[1].Optional {
		t.Fatalf("expected optional missing headless runtime, got %+v", statuses[1])
	}
}
