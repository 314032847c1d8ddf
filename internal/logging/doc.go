// Package logging provides structured logging for the Conductor engine.
// It wraps Go's log/slog package to produce JSON-formatted logs with
// persistent attributes for plan, step, and user context, suitable for
// post-hoc analysis of plan executions.
//
// A Logger writes to a log file with size-based rotation, or to stderr
// when no log path is configured. Child loggers created via WithPlan,
// WithStep, WithUser, or With inherit all parent attributes:
//
//	log := logger.WithPlan(planID)
//	log.Info("execution started", "steps", len(steps))
//
// NopLogger returns a logger that discards everything, for tests and for
// components constructed without logging.
package logging
