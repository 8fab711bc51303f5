package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// spyPlugin records every invocation and returns scripted outcomes.
type spyPlugin struct {
	UnimplementedPlugin

	mu       sync.Mutex
	name     string
	required []string
	calls    []string
	result   Result
	err      error
	onlyAny  bool
}

func (p *spyPlugin) Aliases() []string { return []string{p.name} }

func (p *spyPlugin) Required(Action) []string { return p.required }

func (p *spyPlugin) record(action Action) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, string(action))
	return p.result, p.err
}

func (p *spyPlugin) Install(context.Context, *EnvContext, Params) (Result, error) {
	if p.onlyAny {
		return Result{}, ErrNotImplemented
	}
	return p.record(ActionInstall)
}

func (p *spyPlugin) Remove(context.Context, *EnvContext, Params) (Result, error) {
	if p.onlyAny {
		return Result{}, ErrNotImplemented
	}
	return p.record(ActionRemove)
}

func (p *spyPlugin) Any(context.Context, *EnvContext, Params) (Result, error) {
	return p.record(ActionAny)
}

func (p *spyPlugin) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func newTestRunner(t *testing.T, plugins ...Plugin) *Runner {
	t.Helper()
	reg := NewRegistry()
	for _, p := range plugins {
		reg.MustRegister(p)
	}
	return NewRunner(reg, &EnvContext{Commands: NewExecRunner()})
}

func TestRunnerExecutesTasksInDeclaredOrder(t *testing.T) {
	var order []string
	mkPlugin := func(name string) *orderPlugin {
		return &orderPlugin{name: name, order: &order}
	}
	a, b, c := mkPlugin("a"), mkPlugin("b"), mkPlugin("c")

	runner := newTestRunner(t, a, b, c)
	tasks := []Task{
		{Label: "first", Op: "a"},
		{Label: "second", Op: "b"},
		{Label: "third", Op: "c"},
	}

	report, err := runner.Run(context.Background(), "demo", ActionInstall, tasks)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(report.Results))
	}

	want := []string{"a", "b", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
		if report.Results[i].Op != want[i] {
			t.Fatalf("result order = %v, want ops %v", report.Results, want)
		}
	}
}

// orderPlugin appends its name to a shared slice on every invocation.
type orderPlugin struct {
	UnimplementedPlugin
	name  string
	order *[]string
}

func (p *orderPlugin) Aliases() []string { return []string{p.name} }

func (p *orderPlugin) Install(context.Context, *EnvContext, Params) (Result, error) {
	*p.order = append(*p.order, p.name)
	return Result{Changed: true}, nil
}

func TestRunnerHaltsOnFatalError(t *testing.T) {
	a := &spyPlugin{name: "a", result: Result{Changed: true}}
	b := &spyPlugin{name: "b", err: NewCriticalError("b", "boom")}
	c := &spyPlugin{name: "c"}

	runner := newTestRunner(t, a, b, c)
	tasks := []Task{
		{Label: "apply a", Op: "a"},
		{Label: "apply b", Op: "b"},
		{Label: "apply c", Op: "c"},
	}

	report, err := runner.Run(context.Background(), "demo", ActionInstall, tasks)
	if !IsCritical(err) {
		t.Fatalf("expected critical error, got %v", err)
	}

	if a.callCount() != 1 {
		t.Errorf("task A executed %d times, want 1", a.callCount())
	}
	if c.callCount() != 0 {
		t.Errorf("task C executed after fatal failure")
	}
	if len(report.Results) != 2 {
		t.Fatalf("got %d results, want 2 (halt at B)", len(report.Results))
	}
	// A's side effect remains applied.
	if !report.Results[0].Changed {
		t.Error("task A result lost its changed flag")
	}
	if report.Results[1].Err == nil {
		t.Error("task B result carries no error")
	}
}

func TestRunnerUnresolvedOpHaltsBeforeSideEffects(t *testing.T) {
	a := &spyPlugin{name: "a", result: Result{Changed: true}}

	runner := newTestRunner(t, a)
	tasks := []Task{
		{Label: "mystery", Op: "bogus"},
		{Label: "apply a", Op: "a"},
	}

	_, err := runner.Run(context.Background(), "demo", ActionInstall, tasks)
	var te *TaskError
	if !errors.As(err, &te) || te.Kind != KindUnresolvedOp {
		t.Fatalf("expected unresolved-op error, got %v", err)
	}
	if a.callCount() != 0 {
		t.Error("later task executed despite unresolved operation key")
	}
}

func TestRunnerValidatesParamsBeforeInvocation(t *testing.T) {
	p := &spyPlugin{name: "copy", required: []string{"dest", "content"}}

	runner := newTestRunner(t, p)
	tasks := []Task{
		{Label: "write file", Op: "copy", Params: Params{"dest": "/tmp/x"}},
	}

	_, err := runner.Run(context.Background(), "demo", ActionInstall, tasks)
	var te *TaskError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TaskError, got %v", err)
	}
	if te.Kind != KindMissingParam {
		t.Errorf("Kind = %q, want %q", te.Kind, KindMissingParam)
	}
	if te.Plugin != "copy" {
		t.Errorf("Plugin = %q, want %q", te.Plugin, "copy")
	}

	// The plugin must not have been invoked at all.
	if p.callCount() != 0 {
		t.Errorf("plugin invoked %d times despite missing parameter", p.callCount())
	}
}

func TestRunnerFallsBackToAny(t *testing.T) {
	p := &spyPlugin{name: "get_url", onlyAny: true, result: Result{Changed: true}}

	runner := newTestRunner(t, p)
	tasks := []Task{{Label: "download", Op: "get_url"}}

	report, err := runner.Run(context.Background(), "demo", ActionInstall, tasks)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p.calls[0] != string(ActionAny) {
		t.Errorf("dispatched %q, want fallback to %q", p.calls[0], ActionAny)
	}
	if !report.Changed() {
		t.Error("report lost the changed flag from the any fallback")
	}
}

func TestRunnerUnsupportedActionIsFatal(t *testing.T) {
	p := &noopPlugin{name: "noop"}

	runner := newTestRunner(t, p)
	_, err := runner.Run(context.Background(), "demo", ActionStop, []Task{{Op: "noop"}})

	var te *TaskError
	if !errors.As(err, &te) || te.Kind != KindUnsupportedOp {
		t.Fatalf("expected unsupported-op error, got %v", err)
	}
	if te.Plugin != "noop" {
		t.Errorf("Plugin = %q, want the task's operation key", te.Plugin)
	}
}

// noopPlugin implements nothing beyond the embedded defaults.
type noopPlugin struct {
	UnimplementedPlugin
	name string
}

func (p *noopPlugin) Aliases() []string { return []string{p.name} }

func TestRunnerNoChangeIsSuccess(t *testing.T) {
	a := &spyPlugin{name: "a", result: Result{Message: "already in place"}}
	b := &spyPlugin{name: "b", result: Result{Changed: true}}

	runner := newTestRunner(t, a, b)
	tasks := []Task{
		{Label: "noop", Op: "a"},
		{Label: "mutate", Op: "b"},
	}

	report, err := runner.Run(context.Background(), "demo", ActionInstall, tasks)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if b.callCount() != 1 {
		t.Error("execution did not continue past a changed=false task")
	}
	if report.Results[0].Changed {
		t.Error("no-op task reported changed=true")
	}
	if report.Results[0].Message != "already in place" {
		t.Errorf("message %q not surfaced in report", report.Results[0].Message)
	}
	if !report.Changed() {
		t.Error("aggregate Changed() = false despite one mutating task")
	}
}

type fakeRecorder struct {
	reports []*Report
}

func (f *fakeRecorder) RecordRun(_ context.Context, report *Report) error {
	f.reports = append(f.reports, report)
	return nil
}

func TestRunnerRecordsRunHistory(t *testing.T) {
	a := &spyPlugin{name: "a", result: Result{Changed: true}}
	rec := &fakeRecorder{}

	reg := NewRegistry()
	reg.MustRegister(a)
	runner := NewRunner(reg, &EnvContext{}, WithRecorder(rec))

	report, err := runner.Run(context.Background(), "demo", ActionInstall, []Task{{Op: "a"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(rec.reports) != 1 {
		t.Fatalf("recorded %d reports, want 1", len(rec.reports))
	}
	if rec.reports[0].RunID != report.RunID {
		t.Error("recorded report does not match returned report")
	}
	if report.RunID == "" {
		t.Error("run ID not assigned")
	}
}
