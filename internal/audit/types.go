package audit

import "time"

// EventType classifies what kind of security event occurred.
type EventType string

const (
	EventPromptInjection    EventType = "PROMPT_INJECTION"
	EventDataLeakPrevention EventType = "DATA_LEAK_PREVENTION"
	EventOutputRedaction    EventType = "OUTPUT_REDACTION"
	EventRateLimitViolation EventType = "RATE_LIMIT_VIOLATION"
	EventPermissionDenied   EventType = "PERMISSION_DENIED"
	EventPermissionGrant    EventType = "PERMISSION_GRANT"
	EventParamValidation    EventType = "PARAM_VALIDATION"
	EventToolCall           EventType = "TOOL_CALL"
)

// Status records the disposition of the event.
type Status string

const (
	StatusBlocked  Status = "BLOCKED"
	StatusAllowed  Status = "ALLOWED"
	StatusDetected Status = "DETECTED"
	StatusRedacted Status = "REDACTED"
	StatusLogged   Status = "LOGGED"
	StatusRejected Status = "REJECTED"
	StatusReported Status = "REPORTED"
)

// Severity ranks how serious the event is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Event captures a single security event. Events are immutable once
// written: one JSON object per line in the audit sink.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Status    Status         `json:"status"`
	Severity  Severity       `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
