package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modulab/modulab/pkg/telemetry"
)

// TaskResult records the outcome of one executed task.
type TaskResult struct {
	// Label is the task's declared label.
	Label string

	// Op is the task's operation key.
	Op string

	// Changed reports whether the task mutated external state.
	Changed bool

	// Message is the optional plugin message.
	Message string

	// Err is the fatal error that halted the run at this task, if any.
	Err error

	// Duration is how long the task took.
	Duration time.Duration
}

// Report aggregates the results of one lifecycle run.
type Report struct {
	// RunID uniquely identifies this run.
	RunID string

	// Module is the module the run was executed against.
	Module string

	// Action is the lifecycle action that was run.
	Action Action

	// StartedAt is when the run started.
	StartedAt time.Time

	// CompletedAt is when the run finished or halted.
	CompletedAt time.Time

	// Results holds one entry per attempted task, in execution order.
	// Tasks after a fatal failure never execute and have no entry.
	Results []TaskResult
}

// Changed reports whether any task in the run mutated external state.
func (r *Report) Changed() bool {
	for _, res := range r.Results {
		if res.Changed {
			return true
		}
	}
	return false
}

// Err returns the fatal error that halted the run, or nil.
func (r *Report) Err() error {
	if len(r.Results) == 0 {
		return nil
	}
	return r.Results[len(r.Results)-1].Err
}

// Recorder persists completed run reports. The runner treats recording as
// best effort: a recording failure is logged but never fails the run.
type Recorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Runner executes ordered task lists. It is single-threaded and
// synchronous: tasks run one at a time in declared order, and a fatal
// error halts the entire run with no rollback of earlier side effects.
type Runner struct {
	registry *Registry
	env      *EnvContext
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	recorder Recorder
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(log zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// WithMetrics wires a metrics collector into the runner.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRecorder wires a run-history recorder into the runner.
func WithRecorder(rec Recorder) RunnerOption {
	return func(r *Runner) { r.recorder = rec }
}

// NewRunner creates a runner dispatching against the given registry with
// the given ambient environment.
func NewRunner(registry *Registry, env *EnvContext, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: registry,
		env:      env,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes tasks in declared order for the given action. For each
// task it resolves the plugin, validates required parameters, invokes the
// action method, and records the result. The first fatal error halts the
// run immediately: no later task executes and nothing is rolled back. The
// returned report covers every attempted task even when an error is also
// returned.
func (r *Runner) Run(ctx context.Context, module string, action Action, tasks []Task) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		Module:    module,
		Action:    action,
		StartedAt: time.Now(),
	}

	log := r.log.With().
		Str("run_id", report.RunID).
		Str("module", module).
		Str("action", string(action)).
		Logger()

	log.Info().Int("tasks", len(tasks)).Msg("Starting lifecycle run")
	r.metrics.RunStarted(string(action))

	var runErr error
	for _, task := range tasks {
		result := r.runTask(ctx, log, action, task)
		report.Results = append(report.Results, result)

		if result.Err != nil {
			runErr = result.Err
			break
		}
	}

	report.CompletedAt = time.Now()

	status := "succeeded"
	if runErr != nil {
		status = "failed"
	}
	r.metrics.RunCompleted(string(action), status)
	log.Info().
		Str("status", status).
		Bool("changed", report.Changed()).
		Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
		Msg("Lifecycle run finished")

	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, report); err != nil {
			log.Warn().Err(err).Msg("Failed to record run history")
		}
	}

	return report, runErr
}

// runTask executes a single task: resolve, validate, invoke, record.
func (r *Runner) runTask(ctx context.Context, log zerolog.Logger, action Action, task Task) TaskResult {
	result := TaskResult{Label: task.Label, Op: task.Op}
	start := time.Now()

	log.Info().Str("op", task.Op).Str("task", task.Label).Msg("Running task")

	plugin, err := r.registry.Resolve(task.Op)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		log.Error().Err(err).Str("op", task.Op).Msg("Task failed")
		r.metrics.TaskFailed(task.Op, errKind(err))
		return result
	}

	// Validation precedes any side effect of the task.
	if err := ValidateParams(task.Params, plugin.Required(action), task.Op); err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		log.Error().Err(err).Str("op", task.Op).Msg("Task failed")
		r.metrics.TaskFailed(task.Op, errKind(err))
		return result
	}

	out, err := r.invoke(ctx, plugin, action, task.Params)
	result.Duration = time.Since(start)

	if err != nil {
		var te *TaskError
		if errors.As(err, &te) {
			if te.Op == "" {
				te.Op = task.Op
			}
			if te.Plugin == "" {
				te.Plugin = task.Op
			}
		}
		result.Err = err
		log.Error().Err(err).Str("op", task.Op).Msg("Task failed")
		r.metrics.TaskFailed(task.Op, errKind(err))
		return result
	}

	result.Changed = out.Changed
	result.Message = out.Message
	if out.Message != "" {
		// Surface the plugin message to the caller before the next task.
		log.Info().Str("op", task.Op).Bool("changed", out.Changed).Msg(out.Message)
	} else {
		log.Debug().Str("op", task.Op).Bool("changed", out.Changed).Msg("Task complete")
	}
	r.metrics.TaskExecuted(task.Op, out.Changed, result.Duration.Seconds())
	return result
}

// invoke dispatches the action method on a plugin, falling back to the
// catch-all Any for lifecycle methods the plugin does not implement.
func (r *Runner) invoke(ctx context.Context, plugin Plugin, action Action, params Params) (Result, error) {
	out, err := r.invokeAction(ctx, plugin, action, params)
	if errors.Is(err, ErrNotImplemented) && action != ActionAny {
		out, err = plugin.Any(ctx, r.env, params)
	}
	if errors.Is(err, ErrNotImplemented) {
		return Result{}, NewUnsupportedOpError("", action)
	}
	return out, err
}

func (r *Runner) invokeAction(ctx context.Context, plugin Plugin, action Action, params Params) (Result, error) {
	switch action {
	case ActionInstall:
		return plugin.Install(ctx, r.env, params)
	case ActionRemove:
		return plugin.Remove(ctx, r.env, params)
	case ActionStart:
		return plugin.Start(ctx, r.env, params)
	case ActionStop:
		return plugin.Stop(ctx, r.env, params)
	case ActionAny:
		return plugin.Any(ctx, r.env, params)
	default:
		return Result{}, NewUnsupportedOpError("", action)
	}
}

func errKind(err error) string {
	var te *TaskError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	return "unclassified"
}
