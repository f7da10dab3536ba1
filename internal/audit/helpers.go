package audit

import "unicode/utf8"

// snippetLimit caps how much of a user query is preserved in event details.
// Enough for an analyst to recognize the attempt without archiving whole
// prompts.
const snippetLimit = 100

// Snippet truncates a query for inclusion in event details. The cut backs
// up to a rune boundary so a split multi-byte character cannot surface as
// U+FFFD in the serialized event.
func Snippet(query string) string {
	if len(query) <= snippetLimit {
		return query
	}
	cut := snippetLimit
	for cut > 0 && !utf8.RuneStart(query[cut]) {
		cut--
	}
	return query[:cut] + "..."
}

// LogEvent records a generic security event and returns its ID.
func (m *Manager) LogEvent(eventType EventType, status Status, severity Severity, userID string, details map[string]any) string {
	return m.Record(&Event{
		Type:     eventType,
		Status:   status,
		Severity: severity,
		UserID:   userID,
		Details:  details,
	})
}

// LogInjectionAttempt records a blocked prompt injection attempt. The query
// is truncated to a snippet; full prompts never reach the audit file.
func (m *Manager) LogInjectionAttempt(query string, confidence float64, userID string) string {
	return m.LogEvent(EventPromptInjection, StatusBlocked, SeverityCritical, userID, map[string]any{
		"query_snippet": Snippet(query),
		"confidence":    confidence,
	})
}

// LogLeakPrevention records a blocked bulk data leak.
func (m *Manager) LogLeakPrevention(leakType string, count int, userID string) string {
	return m.LogEvent(EventDataLeakPrevention, StatusBlocked, SeverityCritical, userID, map[string]any{
		"leak_type": leakType,
		"count":     count,
	})
}
