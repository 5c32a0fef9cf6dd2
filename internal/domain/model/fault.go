package model

import (
	"fmt"
	"time"
)

// Severity classifies a recovery-loop fault for alerting purposes only.
type Severity string

const (
	SeverityGeneric  Severity = "generic"
	SeverityUpstream Severity = "upstream"
)

// Fault describes one transition of the recovery loop into reconnecting.
type Fault struct {
	When     time.Time
	Severity Severity
	Err      error
	Attempt  int
	Delay    time.Duration
}

// Summary renders the fault as a single line suitable for chat alerts.
func (f Fault) Summary() string {
	msg := "<nil>"
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return fmt.Sprintf("[%s] %s (attempt %d, retrying in %s)", f.Severity, msg, f.Attempt, f.Delay)
}
