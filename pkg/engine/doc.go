// Package engine implements the task orchestration core: the plugin
// capability interface, the alias registry, and the ordered task runner.
//
// A lifecycle action is executed as an ordered list of tasks. Each task
// names an operation key that resolves to exactly one registered plugin.
// Tasks run strictly in declared order, one at a time; a fatal error from
// any task halts the whole run and already-applied side effects are not
// rolled back.
package engine
