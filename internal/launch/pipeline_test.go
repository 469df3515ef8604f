package launch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"assetlib/internal/checkout"
	"assetlib/internal/config"
	"assetlib/internal/deps"
	"assetlib/internal/launch"
	"assetlib/internal/services"
	"assetlib/internal/staging"
	"assetlib/internal/testsupport"
)

type fakeState struct {
	mu     sync.Mutex
	states map[string]checkout.State
	err    error
	calls  int
}

func (f *fakeState) CheckoutState(_ context.Context, name string) (checkout.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return checkout.State{}, f.err
	}
	state := f.states[name]
	state.Asset = name
	return state, nil
}

type recordingExecutor struct {
	mu      sync.Mutex
	calls   []launch.Command
	results map[string]launch.Result
	hold    map[string]chan struct{}
	pid     int
}

func newExecutor() *recordingExecutor {
	return &recordingExecutor{
		results: make(map[string]launch.Result),
		hold:    make(map[string]chan struct{}),
	}
}

// holdHeadless blocks headless builds whose scene lives under asset's
// extraction directory until the returned func is called.
func (e *recordingExecutor) holdHeadless(asset string) func() {
	ch := make(chan struct{})
	e.mu.Lock()
	e.hold[asset] = ch
	e.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (e *recordingExecutor) Run(ctx context.Context, cmd launch.Command) (launch.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, launch.Command{Binary: cmd.Binary, Args: cmd.Args, Dir: cmd.Dir})
	e.pid++
	pid := 1000 + e.pid
	result := e.results[toolName(cmd.Binary)]
	var hold chan struct{}
	if toolName(cmd.Binary) == "hython" {
		hold = e.hold[filepath.Base(cmd.Dir)]
	}
	e.mu.Unlock()

	if cmd.OnStart != nil {
		cmd.OnStart(pid)
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return launch.Result{}, ctx.Err()
		}
	}
	return result, nil
}

func (e *recordingExecutor) commands() []launch.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]launch.Command(nil), e.calls...)
}

func toolName(binary string) string {
	return strings.TrimSuffix(filepath.Base(binary), ".exe")
}

type harness struct {
	cfg      *config.Config
	state    *fakeState
	exec     *recordingExecutor
	stager   *staging.Stager
	pipeline *launch.Pipeline
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	state := &fakeState{states: map[string]checkout.State{}}
	exec := newExecutor()
	stager := staging.NewFromConfig(cfg)
	pipeline := launch.New(cfg,
		stager,
		state,
		deps.NewLocator(cfg.DCC),
		launch.WithExecutor(exec),
	)
	return harness{cfg: cfg, state: state, exec: exec, stager: stager, pipeline: pipeline}
}

func waitJob(t *testing.T, job *launch.Job) ([]launch.Outcome, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	outcomes, err := job.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("job did not finish")
	}
	return outcomes, err
}

func TestLaunchMissingArchiveSpawnsNothing(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())

	job, err := h.pipeline.Launch(context.Background(), "widget")
	if !errors.Is(err, services.ErrMissingArchive) {
		t.Fatalf("expected ErrMissingArchive, got %v", err)
	}
	if job != nil {
		t.Fatal("no job should be returned for a halted launch")
	}
	if !strings.Contains(err.Error(), "assetlib fetch widget") {
		t.Fatalf("expected fetch guidance, got %q", err.Error())
	}
	if n := len(h.exec.commands()); n != 0 {
		t.Fatalf("expected zero spawns, got %d", n)
	}
	if _, statErr := os.Stat(filepath.Join(h.cfg.Paths.ScriptsDir, "widget.py")); !os.IsNotExist(statErr) {
		t.Fatal("script must not be written when staging fails")
	}
}

func TestLaunchBuildsSceneThenOpensIt(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "Chair")
	h.state.states["Chair"] = checkout.State{IsCheckedOut: true, Holder: "alice"}

	job, err := h.pipeline.Launch(context.Background(), "Chair")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	outcomes, err := waitJob(t, job)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	extractDir := filepath.Join(h.cfg.Paths.DownloadsDir, "assetImport", "chair")
	scene := filepath.Join(extractDir, "generated_scene.hip")
	script := filepath.Join(h.cfg.Paths.ScriptsDir, "chair.py")
	if job.ScenePath != scene || job.ScriptPath != script {
		t.Fatalf("unexpected job paths %+v", job)
	}
	if job.SourcePath != filepath.Join(extractDir, "Chair.fbx") {
		t.Fatalf("unexpected source path %s", job.SourcePath)
	}

	calls := h.exec.commands()
	if len(calls) != 2 {
		t.Fatalf("expected two spawns, got %d", len(calls))
	}
	if toolName(calls[0].Binary) != "hython" || toolName(calls[1].Binary) != "houdini" {
		t.Fatalf("unexpected spawn order %q then %q", calls[0].Binary, calls[1].Binary)
	}
	if diff := cmp.Diff([]string{script, scene}, calls[0].Args); diff != "" {
		t.Fatalf("headless args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{scene}, calls[1].Args); diff != "" {
		t.Fatalf("interactive args mismatch (-want +got):\n%s", diff)
	}

	body, err := os.ReadFile(script)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if !strings.Contains(string(body), "CHECKED_OUT = True\n") {
		t.Fatal("expected checkout flag captured at launch time")
	}
	if len(outcomes) != 2 || outcomes[0].Skipped || outcomes[1].PID == 0 {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if job.State() != launch.StateInteractiveLaunched {
		t.Fatalf("unexpected final state %s", job.State())
	}
	if got, ok := h.pipeline.Job(job.ID); !ok || got != job {
		t.Fatal("accepted job should be retrievable by id")
	}
}

func TestLaunchWithoutHeadlessStillOpensScene(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC("houdini"))
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "lamp")

	job, err := h.pipeline.Launch(context.Background(), "lamp")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if !job.Degraded {
		t.Fatal("expected degraded mode")
	}
	outcomes, err := waitJob(t, job)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}

	calls := h.exec.commands()
	if len(calls) != 1 || toolName(calls[0].Binary) != "houdini" {
		t.Fatalf("expected only the interactive runtime, got %+v", calls)
	}
	if diff := cmp.Diff([]string{job.ScenePath}, calls[0].Args); diff != "" {
		t.Fatalf("interactive args mismatch (-want +got):\n%s", diff)
	}
	if len(outcomes) != 2 || !outcomes[0].Skipped {
		t.Fatalf("expected skipped headless outcome, got %+v", outcomes)
	}
}

func TestLaunchMissingInteractiveRuntime(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC("hython"))
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "lamp")

	_, err := h.pipeline.Launch(context.Background(), "lamp")
	if !errors.Is(err, services.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if n := len(h.exec.commands()); n != 0 {
		t.Fatalf("expected zero spawns, got %d", n)
	}
}

func TestLaunchHaltsWhenRegistryUnavailable(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "lamp")
	h.state.err = services.Wrap(services.ErrUnavailable, "registry", "get_asset", "connection refused", nil)

	_, err := h.pipeline.Launch(context.Background(), "lamp")
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if n := len(h.exec.commands()); n != 0 {
		t.Fatalf("expected zero spawns, got %d", n)
	}
}

func TestProcessFailureIsReportedAfterAcceptance(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "lamp")
	h.exec.results["hython"] = launch.Result{ExitCode: 4, Stderr: "node not found: /obj/STAGE_V05/CONTROLLER\n"}

	job, err := h.pipeline.Launch(context.Background(), "lamp")
	if err != nil {
		t.Fatalf("launch should be accepted, got %v", err)
	}
	outcomes, err := waitJob(t, job)
	if !errors.Is(err, services.ErrProcessFailed) {
		t.Fatalf("expected ErrProcessFailed from Wait, got %v", err)
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected node-not-found classification, got %v", err)
	}
	if outcomes[0].ExitCode != 4 || !strings.Contains(outcomes[0].Stderr, "node not found") {
		t.Fatalf("expected captured stderr, got %+v", outcomes[0])
	}
	if n := len(h.exec.commands()); n != 2 {
		t.Fatalf("interactive runtime should still be invoked, saw %d spawns", n)
	}
}

func TestSameAssetLaunchesAreSerialized(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "chair")
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "lamp")
	release := h.exec.holdHeadless("chair")
	defer release()
	ctx := context.Background()

	first, err := h.pipeline.Launch(ctx, "chair")
	if err != nil {
		t.Fatalf("first Launch: %v", err)
	}

	second := make(chan error, 1)
	go func() {
		_, err := h.pipeline.Launch(ctx, "chair")
		second <- err
	}()

	other, err := h.pipeline.Launch(ctx, "lamp")
	if err != nil {
		t.Fatalf("unrelated asset blocked or failed: %v", err)
	}
	if _, err := waitJob(t, other); err != nil {
		t.Fatalf("lamp job: %v", err)
	}

	select {
	case err := <-second:
		t.Fatalf("same-asset launch finished while the headless build held the gate (err=%v)", err)
	case <-time.After(100 * time.Millisecond):
	}

	release()
	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second Launch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second launch never acquired the gate")
	}
	if _, err := waitJob(t, first); err != nil {
		t.Fatalf("first job: %v", err)
	}
}

func TestLaunchCancelledWhileQueued(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "chair")
	release := h.exec.holdHeadless("chair")
	defer release()

	if _, err := h.pipeline.Launch(context.Background(), "chair"); err != nil {
		t.Fatalf("first Launch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := h.pipeline.Launch(ctx, "chair"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected queued launch to give up with the context, got %v", err)
	}
}

func TestScriptWriteFailureSpawnsNothing(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "chair")
	// A regular file where the scripts directory should be.
	testsupport.WriteFile(t, h.cfg.Paths.ScriptsDir, 1)

	job, err := h.pipeline.Launch(context.Background(), "chair")
	if !errors.Is(err, services.ErrScriptWriteFailed) {
		t.Fatalf("expected ErrScriptWriteFailed, got %v", err)
	}
	if job != nil {
		t.Fatal("no job should be returned for a halted launch")
	}
	if n := len(h.exec.commands()); n != 0 {
		t.Fatalf("expected zero spawns, got %d", n)
	}
	if len(h.pipeline.Jobs()) != 0 {
		t.Fatal("halted launch must not be retained")
	}
}

func TestSourcePathMatchesArchiveCasing(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())
	testsupport.WriteArchive(t, filepath.Join(h.cfg.Paths.DownloadsDir, "Chair.zip"), map[string]string{"chair.fbx": "mesh"})

	job, err := h.pipeline.Launch(context.Background(), "Chair")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if _, err := waitJob(t, job); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := filepath.Join(h.cfg.Paths.DownloadsDir, "assetImport", "chair", "chair.fbx")
	if job.SourcePath != want {
		t.Fatalf("source path %s, want %s", job.SourcePath, want)
	}
}

func TestInvalidateWaitsForHeadlessBuild(t *testing.T) {
	h := newHarness(t, testsupport.WithStubbedDCC())
	testsupport.AssetArchive(t, h.cfg.Paths.DownloadsDir, "chair")
	release := h.exec.holdHeadless("chair")
	defer release()
	ctx := context.Background()

	job, err := h.pipeline.Launch(ctx, "chair")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	invalidated := make(chan error, 1)
	go func() { invalidated <- h.stager.Invalidate(ctx, "chair") }()

	select {
	case err := <-invalidated:
		t.Fatalf("Invalidate returned while the headless build was running (err=%v)", err)
	case <-time.After(100 * time.Millisecond):
	}
	if _, err := os.Stat(job.ExtractDir); err != nil {
		t.Fatalf("extraction removed under a running build: %v", err)
	}

	release()
	select {
	case err := <-invalidated:
		if err != nil {
			t.Fatalf("Invalidate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Invalidate never acquired the gate")
	}
	if _, err := waitJob(t, job); err != nil {
		t.Fatalf("job: %v", err)
	}
	if _, err := os.Stat(job.ExtractDir); !os.IsNotExist(err) {
		t.Fatalf("expected extraction removed after the build, stat err %v", err)
	}
}
