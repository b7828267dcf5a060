// Package logx is a thin structured-logging layer over zerolog.
//
// It exposes a small Field-based API so callers never import zerolog
// directly, and a Service that fans log records out to the configured
// sinks (console and/or an append-only file). Sinks and level can be
// swapped at runtime via Apply without replacing existing Logger values.
package logx
