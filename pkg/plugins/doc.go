// Package plugins contains the built-in plugin set: thin, idempotent
// wrappers over OS tools and SDKs that the engine dispatches tasks to.
// Every plugin reports (changed, message) and leaves external state
// consistent across repeated or interrupted invocations.
package plugins
