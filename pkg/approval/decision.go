// Package approval gates host tool calls behind an interactive
// decision. Every call the model addresses to the host surfaces as a
// pending approval; the user accepts it, accepts the tool for the rest
// of the process, or rejects the call. Rejection feeds the model a
// fixed error payload without ever reaching the tool registry.
package approval

import (
	"fmt"
	"strings"
)

// Decision is the user's answer to a pending tool call.
type Decision int

const (
	// Accept runs this call only.
	Accept Decision = iota

	// AlwaysAllow runs this call and every later call to the same tool
	// for the rest of the process.
	AlwaysAllow

	// Reject refuses this call. The tool never runs and the model
	// receives the rejection payload as the result.
	Reject
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case AlwaysAllow:
		return "always_allow"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParseDecision converts a string to a Decision. It accepts the wire
// names used by the relay API plus the console shorthand.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "approve", "yes", "a":
		return Accept, nil
	case "always_allow", "always-allow", "always", "allow":
		return AlwaysAllow, nil
	case "reject", "deny", "no", "r":
		return Reject, nil
	default:
		return Reject, fmt.Errorf("unknown decision: %s (valid: accept, always_allow, reject)", s)
	}
}
