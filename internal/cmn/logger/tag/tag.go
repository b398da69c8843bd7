// Package tag provides standardized attribute constructors for structured
// logging. Use these instead of raw strings to keep log keys consistent
// across the codebase.
package tag

import (
	"log/slog"
	"time"
)

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// TaskID creates a tag for task IDs.
func TaskID(id string) slog.Attr {
	return slog.String("task-id", id)
}

// DAGID creates a tag for DAG IDs.
func DAGID(id string) slog.Attr {
	return slog.String("dag-id", id)
}

// NodeID creates a tag for DAG node IDs.
func NodeID(id string) slog.Attr {
	return slog.String("node-id", id)
}

// DeviceID creates a tag for device IDs.
func DeviceID(id string) slog.Attr {
	return slog.String("device-id", id)
}

// DeviceTaskID creates a tag for device task IDs.
func DeviceTaskID(id string) slog.Attr {
	return slog.String("device-task-id", id)
}

// SessionID creates a tag for hypergraph session IDs.
func SessionID(id string) slog.Attr {
	return slog.String("session-id", id)
}

// Project creates a tag for project labels.
func Project(name string) slog.Attr {
	return slog.String("project", name)
}

// Role creates a tag for agent role identifiers.
func Role(id string) slog.Attr {
	return slog.String("role", id)
}

// Model creates a tag for model identifiers.
func Model(id string) slog.Attr {
	return slog.String("model", id)
}

// Status creates a tag for lifecycle statuses.
func Status(s string) slog.Attr {
	return slog.String("status", s)
}

// Reason creates a tag for terminal failure reasons.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}

// Step creates a tag for hypergraph step counters.
func Step(n int) slog.Attr {
	return slog.Int("step", n)
}

// Path creates a tag for file paths.
func Path(p string) slog.Attr {
	return slog.String("path", p)
}

// Elapsed creates a tag for durations.
func Elapsed(d time.Duration) slog.Attr {
	return slog.Duration("elapsed", d)
}

// Count creates a tag for generic counts.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}
