package enums

import "slices"

// IntentStatus tracks the lifecycle of a payment intent. PENDING is the only
// non-terminal status.
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "PENDING"
	IntentStatusSucceeded IntentStatus = "SUCCEEDED"
	IntentStatusFailed    IntentStatus = "FAILED"
	IntentStatusCancelled IntentStatus = "CANCELLED"
	IntentStatusExpired   IntentStatus = "EXPIRED"
)

// TerminalIntentStatuses lists the statuses an intent never leaves.
var TerminalIntentStatuses = []IntentStatus{
	IntentStatusSucceeded,
	IntentStatusFailed,
	IntentStatusCancelled,
	IntentStatusExpired,
}

func (s IntentStatus) String() string { return string(s) }

func (s IntentStatus) IsValid() bool {
	return s == IntentStatusPending || s.IsTerminal()
}

func (s IntentStatus) IsTerminal() bool {
	return slices.Contains(TerminalIntentStatuses, s)
}

// ParseIntentStatus is case-sensitive.
func ParseIntentStatus(value string) (IntentStatus, error) {
	return lookup("intent status", append([]IntentStatus{IntentStatusPending}, TerminalIntentStatuses...), value)
}
