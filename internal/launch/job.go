package launch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a LaunchJob's position in the pipeline.
type State string

const (
	StateIdle                  State = "idle"
	StateStaged                State = "staged"
	StateScriptWritten         State = "script_written"
	StateHeadlessBuildComplete State = "headless_build_complete"
	StateInteractiveLaunched   State = "interactive_launched"
	// StateFailed is terminal: a synchronous stage failed or a process could
	// not be started.
	StateFailed State = "failed"
)

// Step names a process-spawn stage.
type Step string

const (
	StepHeadlessBuild Step = "headless_build"
	StepInteractive   Step = "interactive"
)

// Outcome records how one spawn stage ended.
type Outcome struct {
	Step     Step
	Binary   string
	Args     []string
	PID      int
	ExitCode int
	Stderr   string
	Duration time.Duration
	// Skipped is set when the stage did not run (degraded headless mode).
	Skipped bool
	Err     error
}

// Job is an ephemeral launch request. Paths and the checkout flag are fixed
// once Launch returns; progress is reported through State, Launched and Wait.
type Job struct {
	ID         string
	Asset      string
	Archive    string
	ExtractDir string
	ScriptPath string
	ScenePath  string
	SourcePath string
	CheckedOut bool
	Holder     string
	// Degraded is true when the headless runtime was not found.
	Degraded    bool
	Headless    string
	Interactive string
	CreatedAt   time.Time

	mu       sync.Mutex
	state    State
	outcomes []Outcome
	err      error
	launched chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newJob(id, asset string, now time.Time) *Job {
	return &Job{
		ID:        id,
		Asset:     asset,
		CreatedAt: now,
		state:     StateIdle,
		launched:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// State returns the current pipeline state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Outcomes returns the spawn outcomes recorded so far.
func (j *Job) Outcomes() []Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Outcome(nil), j.outcomes...)
}

// Launched is closed once the interactive runtime has started or the job
// has finished without starting it.
func (j *Job) Launched() <-chan struct{} { return j.launched }

// Done is closed when every spawned process has exited.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx is done. The error joins every
// process failure; each matches services.ErrProcessFailed.
func (j *Job) Wait(ctx context.Context) ([]Outcome, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return j.Outcomes(), ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Outcome(nil), j.outcomes...), j.err
}

func (j *Job) setState(state State) {
	j.mu.Lock()
	j.state = state
	j.mu.Unlock()
}

func (j *Job) record(outcome Outcome) {
	j.mu.Lock()
	j.outcomes = append(j.outcomes, outcome)
	if outcome.Err != nil {
		j.err = errors.Join(j.err, outcome.Err)
	}
	j.mu.Unlock()
}

func (j *Job) markLaunched() {
	j.once.Do(func() { close(j.launched) })
}

func (j *Job) finish() {
	j.markLaunched()
	close(j.done)
}
