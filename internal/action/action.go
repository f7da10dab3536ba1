// Package action defines the typed set of tool actions the governance layer
// knows about. Budgets, parameter schemas and protected-permission lookups all
// key on Type, so unknown strings collapse into a single Unknown variant
// instead of silently creating new map keys.
package action

// Type identifies a tool action kind.
type Type string

const (
	// Email actions
	EmailSend   Type = "email_send"
	EmailRead   Type = "email_read"
	EmailSearch Type = "email_search"
	EmailDelete Type = "email_delete"

	// Calendar actions
	CalendarCreate Type = "calendar_create"
	CalendarRead   Type = "calendar_read"
	CalendarDelete Type = "calendar_delete"

	// Note actions
	NoteCreate Type = "note_create"
	NoteSearch Type = "note_search"
	NoteDelete Type = "note_delete"

	// Task actions
	TaskCreate Type = "task_create"
	TaskRead   Type = "task_read"
	TaskDelete Type = "task_delete"

	// Web and maps actions
	WebSearch  Type = "web_search"
	WebOpen    Type = "web_open"
	MapsSearch Type = "maps_search"

	// Unknown covers any action string outside the known set. It still
	// passes through every guard, falling back to the default budget and
	// the unregistered-schema path.
	Unknown Type = "unknown"
)

var known = map[Type]struct{}{
	EmailSend:      {},
	EmailRead:      {},
	EmailSearch:    {},
	EmailDelete:    {},
	CalendarCreate: {},
	CalendarRead:   {},
	CalendarDelete: {},
	NoteCreate:     {},
	NoteSearch:     {},
	NoteDelete:     {},
	TaskCreate:     {},
	TaskRead:       {},
	TaskDelete:     {},
	WebSearch:      {},
	WebOpen:        {},
	MapsSearch:     {},
}

// Parse maps a raw action string to its Type. Unrecognized strings return
// Unknown; callers that need the original spelling should keep the input.
func Parse(s string) Type {
	t := Type(s)
	if _, ok := known[t]; ok {
		return t
	}
	return Unknown
}

// IsKnown reports whether t is one of the declared action kinds.
func (t Type) IsKnown() bool {
	_, ok := known[t]
	return ok
}

// String returns the wire form of the action type.
func (t Type) String() string {
	return string(t)
}

// Known returns all declared action kinds, for registration loops and tests.
func Known() []Type {
	out := make([]Type, 0, len(known))
	for t := range known {
		out = append(out, t)
	}
	return out
}
