// Package telemetry provides structured logging and Prometheus metrics
// for the modulab engine.
package telemetry
