package config

import (
	"fmt"
	"strings"
)

// ValidationErrors collects all validation errors so a bad config reports
// everything wrong at once.
type ValidationErrors struct {
	Problems []string
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// HasErrors returns true if any validation errors exist.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

// Error formats all validation errors into a clear message.
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString("  - " + p + "\n")
	}
	return sb.String()
}

// Validate checks the configuration. All timing values must be positive;
// zero heartbeat is allowed (it disables heartbeats).
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if c.Server.Port == "" {
		errs.add("server.port must not be empty")
	}
	if c.Server.Events.MaxConnsPerUser <= 0 {
		errs.add("server.events.max_conns_per_user must be positive, got %d", c.Server.Events.MaxConnsPerUser)
	}
	if c.Server.Events.HeartbeatMS < 0 {
		errs.add("server.events.heartbeat_ms must not be negative, got %d", c.Server.Events.HeartbeatMS)
	}
	if c.Server.Audit.Enabled && c.Server.Audit.Directory == "" {
		errs.add("server.audit.directory required when audit is enabled")
	}

	if c.Watcher.Stream.FailureThreshold <= 0 {
		errs.add("watcher.stream.failure_threshold must be positive, got %d", c.Watcher.Stream.FailureThreshold)
	}
	if c.Watcher.Stream.BackoffBaseMS <= 0 {
		errs.add("watcher.stream.backoff_base_ms must be positive, got %d", c.Watcher.Stream.BackoffBaseMS)
	}
	if c.Watcher.Stream.JitterRatio < 0 || c.Watcher.Stream.JitterRatio >= 1 {
		errs.add("watcher.stream.jitter_ratio must be in [0, 1), got %g", c.Watcher.Stream.JitterRatio)
	}

	poll := c.Watcher.Poll
	for _, tv := range []struct {
		name  string
		value int
	}{
		{"interval_ms", poll.IntervalMS},
		{"max_interval_ms", poll.MaxIntervalMS},
		{"soft_timeout_ms", poll.SoftTimeoutMS},
		{"hard_timeout_ms", poll.HardTimeoutMS},
	} {
		if tv.value <= 0 {
			errs.add("watcher.poll.%s must be positive, got %d", tv.name, tv.value)
		}
	}
	if poll.MaxIntervalMS > 0 && poll.IntervalMS > poll.MaxIntervalMS {
		errs.add("watcher.poll.interval_ms (%d) must not exceed max_interval_ms (%d)", poll.IntervalMS, poll.MaxIntervalMS)
	}
	if poll.MaxErrors <= 0 {
		errs.add("watcher.poll.max_errors must be positive, got %d", poll.MaxErrors)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
