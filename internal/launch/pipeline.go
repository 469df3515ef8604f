package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"assetlib/internal/checkout"
	"assetlib/internal/config"
	"assetlib/internal/deps"
	"assetlib/internal/logging"
	"assetlib/internal/scenescript"
	"assetlib/internal/services"
	"assetlib/internal/staging"
)

const (
	component  = "launch"
	tracerName = "assetlib/internal/launch"
	// maxRetainedJobs bounds how many finished jobs Jobs reports.
	maxRetainedJobs = 64
	stderrLogLimit  = 2048
)

// Stager prepares the local archive for an asset. Lock is held from Stage
// until the headless build exits.
type Stager interface {
	Lock(ctx context.Context, name string) (func(), error)
	Stage(ctx context.Context, name string) (staging.Paths, error)
}

// StateSource reports the registry's current checkout state.
type StateSource interface {
	CheckoutState(ctx context.Context, name string) (checkout.State, error)
}

// Locator resolves DCC executables.
type Locator interface {
	Locate(tool deps.Tool) (deps.Resolution, error)
}

// Pipeline sequences stage, script, headless build and interactive launch.
type Pipeline struct {
	stager  Stager
	state   StateSource
	locator Locator
	exec    Executor
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	scriptsDir string
	sceneFile  string
	sourceExt  string
	scene      scenescript.Params

	mu   sync.Mutex
	jobs map[string]*Job
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExecutor injects a process executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(p *Pipeline) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.NewComponentLogger(logger, component)
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(p *Pipeline) {
		if provider != nil {
			p.tracer = provider.Tracer(tracerName)
		}
	}
}

// New constructs a pipeline from cfg and its collaborators.
func New(cfg *config.Config, stager Stager, state StateSource, locator Locator, opts ...Option) *Pipeline {
	p := &Pipeline{
		stager:     stager,
		state:      state,
		locator:    locator,
		exec:       commandExecutor{},
		logger:     logging.NewComponentLogger(nil, component),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		scriptsDir: cfg.Paths.ScriptsDir,
		sceneFile:  cfg.DCC.SceneFile,
		sourceExt:  cfg.DCC.SourceExtension,
		scene:      scenescript.Params{}.FromConfig(cfg),
		jobs:       make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Launch runs the synchronous stages for name and hands the process stages
// to a background task. A returned job means the launch was accepted; later
// process failures are reported through logs and Job.Wait only.
func (p *Pipeline) Launch(ctx context.Context, name string) (*Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, component, "launch", "asset name is required", nil)
	}
	job := newJob(uuid.NewString(), name, p.now())
	ctx = services.WithAsset(services.WithJobID(ctx, job.ID), name)
	ctx, span := p.tracer.Start(ctx, "launch", trace.WithAttributes(
		attribute.String("assetlib.asset", name),
		attribute.String("assetlib.job_id", job.ID),
	))
	defer span.End()
	logger := logging.WithContext(ctx, p.logger)

	release, err := p.stager.Lock(ctx, name)
	if err != nil {
		return nil, p.halt(span, logger, job, "gate", err)
	}
	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	if err := p.step(ctx, "stage", func(ctx context.Context) error {
		paths, err := p.stager.Stage(ctx, name)
		if err != nil {
			if errors.Is(err, services.ErrMissingArchive) {
				return fmt.Errorf("%w (fetch the asset first: assetlib fetch %s)", err, name)
			}
			return err
		}
		job.Archive = paths.Archive
		job.ExtractDir = paths.ExtractDir
		job.ScenePath = filepath.Join(paths.ExtractDir, p.sceneFile)
		job.SourcePath = sourceFile(paths.ExtractDir, name, p.sourceExt)
		return nil
	}); err != nil {
		return nil, p.halt(span, logger, job, "stage", err)
	}
	job.setState(StateStaged)

	if err := p.step(ctx, "checkout_state", func(ctx context.Context) error {
		state, err := p.state.CheckoutState(ctx, name)
		if err != nil {
			return err
		}
		job.CheckedOut = state.IsCheckedOut
		job.Holder = state.Holder
		return nil
	}); err != nil {
		return nil, p.halt(span, logger, job, "checkout_state", err)
	}

	if err := p.step(ctx, "script", func(context.Context) error {
		params := p.scene
		params.AssetName = name
		params.CheckedOut = job.CheckedOut
		params.SourcePath = job.SourcePath
		params.OutputScenePath = job.ScenePath
		script, err := scenescript.Generate(params)
		if err != nil {
			return err
		}
		job.ScriptPath = filepath.Join(p.scriptsDir, staging.FoldName(name)+".py")
		return scenescript.Write(job.ScriptPath, script)
	}); err != nil {
		return nil, p.halt(span, logger, job, "script", err)
	}
	job.setState(StateScriptWritten)

	if err := p.step(ctx, "discover", func(context.Context) error {
		interactive, err := p.locator.Locate(deps.Interactive)
		if err != nil {
			return err
		}
		job.Interactive = interactive.Path
		headless, err := p.locator.Locate(deps.Headless)
		if err != nil {
			job.Degraded = true
			_, sceneErr := os.Stat(job.ScenePath)
			logging.WarnWithContext(logger, "headless runtime not found; opening existing scene", "headless_degraded",
				logging.Int("candidates", len(headless.Tried)),
				logging.Bool("scene_exists", sceneErr == nil),
				logging.String(logging.FieldErrorHint, "install hython or set dcc.hfs to rebuild scenes"),
				logging.String(logging.FieldImpact, "scene is not regenerated for this launch"),
			)
			return nil
		}
		job.Headless = headless.Path
		return nil
	}); err != nil {
		return nil, p.halt(span, logger, job, "discover", err)
	}

	p.register(job)
	handedOff = true
	go p.run(context.WithoutCancel(ctx), job, release)

	span.SetAttributes(attribute.Bool("assetlib.checked_out", job.CheckedOut), attribute.Bool("assetlib.degraded", job.Degraded))
	logger.Info("launch accepted",
		logging.String("scene", job.ScenePath),
		logging.String("script", job.ScriptPath),
		logging.Bool("checked_out", job.CheckedOut),
		logging.Bool("degraded", job.Degraded),
		logging.String(logging.FieldEventType, "launch_accepted"),
	)
	return job, nil
}

// Job returns a job accepted by this pipeline.
func (p *Pipeline) Job(id string) (*Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[id]
	return job, ok
}

// Jobs returns retained jobs, newest first.
func (p *Pipeline) Jobs() []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Job, 0, len(p.jobs))
	for _, job := range p.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (p *Pipeline) register(job *Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[job.ID] = job
	if len(p.jobs) <= maxRetainedJobs {
		return
	}
	var oldest *Job
	for _, candidate := range p.jobs {
		select {
		case <-candidate.done:
		default:
			continue
		}
		if oldest == nil || candidate.CreatedAt.Before(oldest.CreatedAt) {
			oldest = candidate
		}
	}
	if oldest != nil {
		delete(p.jobs, oldest.ID)
	}
}

func (p *Pipeline) step(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, stage)
	ctx, span := p.tracer.Start(ctx, "launch."+stage)
	defer span.End()
	started := time.Now()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, services.Kind(err))
		return err
	}
	logging.WithContext(ctx, p.logger).Debug("stage complete",
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "launch_stage_complete"),
	)
	return nil
}

func (p *Pipeline) halt(span trace.Span, logger *slog.Logger, job *Job, stage string, err error) error {
	job.setState(StateFailed)
	job.finish()
	span.RecordError(err)
	span.SetStatus(codes.Error, services.Kind(err))
	attrs := []logging.Attr{
		logging.String(logging.FieldStage, stage),
		logging.Error(err),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.String(logging.FieldImpact, "no processes were started"),
	}
	if hint := services.Hint(err); hint != "" {
		attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
	}
	logging.WarnWithContext(logger, "launch halted", "launch_halted", attrs...)
	return err
}

func (p *Pipeline) run(ctx context.Context, job *Job, release func()) {
	defer job.finish()

	if job.Degraded {
		release()
		job.record(Outcome{Step: StepHeadlessBuild, Skipped: true})
	} else {
		outcome := p.spawn(ctx, job, StepHeadlessBuild, job.Headless, []string{job.ScriptPath, job.ScenePath}, nil)
		release()
		job.record(outcome)
	}
	job.setState(StateHeadlessBuildComplete)

	outcome := p.spawn(ctx, job, StepInteractive, job.Interactive, []string{job.ScenePath}, func(int) {
		job.setState(StateInteractiveLaunched)
		job.markLaunched()
	})
	if outcome.PID == 0 {
		job.setState(StateFailed)
	}
	job.record(outcome)
}

func (p *Pipeline) spawn(ctx context.Context, job *Job, step Step, binary string, args []string, onStart func(int)) Outcome {
	ctx = services.WithStage(ctx, string(step))
	ctx, span := p.tracer.Start(ctx, "launch."+string(step), trace.WithAttributes(
		attribute.String("process.executable.path", binary),
	))
	defer span.End()
	logger := logging.WithContext(ctx, p.logger)

	outcome := Outcome{Step: step, Binary: binary, Args: append([]string(nil), args...)}
	result, err := p.exec.Run(ctx, Command{
		Binary: binary,
		Args:   args,
		Dir:    job.ExtractDir,
		OnStart: func(pid int) {
			outcome.PID = pid
			logger.Info("process started",
				logging.Int("pid", pid),
				logging.String("binary", binary),
				logging.String(logging.FieldEventType, "process_start"),
			)
			if onStart != nil {
				onStart(pid)
			}
		},
	})
	outcome.ExitCode = result.ExitCode
	outcome.Stderr = result.Stderr
	outcome.Duration = result.Duration

	switch {
	case err != nil:
		outcome.Err = services.Wrap(services.ErrProcessFailed, component, string(step),
			"could not run "+filepath.Base(binary), err)
	case result.ExitCode != 0:
		outcome.Err = services.Wrap(services.ErrProcessFailed, component, string(step),
			fmt.Sprintf("%s exited with code %d", filepath.Base(binary), result.ExitCode), scriptExitCause(step, result.ExitCode))
	}

	span.SetAttributes(attribute.Int("process.exit.code", result.ExitCode))
	if outcome.Err == nil {
		logger.Info("process exited",
			logging.String("binary", binary),
			logging.Int("exit_code", result.ExitCode),
			logging.Duration("elapsed", result.Duration),
			logging.String(logging.FieldEventType, "process_exit"),
		)
		return outcome
	}

	span.RecordError(outcome.Err)
	span.SetStatus(codes.Error, services.Kind(outcome.Err))
	logging.ErrorWithContext(logger, "process failed", "process_failed",
		logging.String("binary", binary),
		logging.Int("exit_code", result.ExitCode),
		logging.String("stderr", tail(result.Stderr, stderrLogLimit)),
		logging.Error(outcome.Err),
		logging.String(logging.FieldErrorHint, processHint(step, result.ExitCode)),
		logging.String(logging.FieldImpact, processImpact(step)),
	)
	return outcome
}

// scriptExitCause maps the scene script's exit codes to the error taxonomy.
func scriptExitCause(step Step, code int) error {
	if step != StepHeadlessBuild {
		return nil
	}
	switch code {
	case scenescript.ExitInputNotFound:
		return services.Wrap(services.ErrNotFound, "scenescript", "build", "source asset or template scene not found", nil)
	case scenescript.ExitNodeNotFound:
		return services.Wrap(services.ErrNotFound, "scenescript", "build", "controller node not found in template scene", nil)
	case scenescript.ExitParameterNotFound:
		return services.Wrap(services.ErrNotFound, "scenescript", "build", "asset parameter not found on controller node", nil)
	}
	return nil
}

func processHint(step Step, code int) string {
	switch {
	case step == StepHeadlessBuild && code == scenescript.ExitInputNotFound:
		return "check that the archive contains the source asset and dcc.template_scene exists"
	case step == StepHeadlessBuild && (code == scenescript.ExitNodeNotFound || code == scenescript.ExitParameterNotFound):
		return "check dcc.controller_node and dcc.asset_parameter against the template scene"
	case step == StepHeadlessBuild:
		return "inspect stderr; the scene script can be re-run with hython directly"
	default:
		return "inspect stderr and the Houdini console"
	}
}

func processImpact(step Step) string {
	if step == StepHeadlessBuild {
		return "scene not regenerated; interactive launch continues with the existing scene"
	}
	return "interactive session ended abnormally"
}

func tail(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + trimToRune(s[len(s)-limit:])
}

// trimToRune drops leading UTF-8 continuation bytes left by a byte-offset cut.
func trimToRune(s string) string {
	for i := 0; i < len(s) && i < utf8.UTFMax; i++ {
		if utf8.RuneStart(s[i]) {
			return s[i:]
		}
	}
	return s
}

// sourceFile returns dir/name+ext, falling back to a case-insensitive match
// since archive entries keep their author's casing.
func sourceFile(dir, name, ext string) string {
	exact := filepath.Join(dir, name+ext)
	if _, err := os.Stat(exact); err == nil {
		return exact
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return exact
	}
	want := staging.FoldName(name + ext)
	for _, entry := range entries {
		if !entry.IsDir() && staging.FoldName(entry.Name()) == want {
			return filepath.Join(dir, entry.Name())
		}
	}
	return exact
}
