// Package scheduler runs the standings poll loop and auxiliary cron jobs.
//
// # Poll loop
//
// The poll job runs on a fixed wall-clock cadence: after each tick the loop
// sleeps for the configured interval minus the time the tick took (clamped
// at zero), so tick starts stay roughly interval-aligned instead of
// drifting by the tick duration. Ticks never overlap; a tick that overruns
// the interval simply delays the next one, there is no backlog.
//
// A tick failure is caught, logged with its outcome, and the loop carries
// on. The loop stops only when Stop is called (normally from the signal
// handler); an in-flight tick is given until the Stop deadline to finish
// before its context is cancelled.
//
// # Cron jobs
//
// Maintenance work that wants calendar semantics (e.g. nightly snapshot
// pruning) registers through AddCron. Specs accept 5-field cron
// expressions, descriptors like "@daily" / "@every 55m", or plain Go
// durations.
package scheduler
