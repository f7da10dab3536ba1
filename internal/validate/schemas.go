package validate

import "github.com/clavrr/guardrail/internal/action"

// Parameter length limits
const (
	MaxSubjectLength = 200
	MaxTitleLength   = 200
	MaxQueryLength   = 500
	MaxBodyLength    = 50000
	MaxNoteLength    = 100000
)

// DefaultSchemas returns the built-in schemas for side-effecting and
// outbound actions. Read actions carry no schema and pass through.
func DefaultSchemas() []Schema {
	return []Schema{
		{Action: action.EmailSend, Fields: []Field{
			{Name: "to", Required: true, Message: "recipient email address is required", Checks: []Predicate{Email}},
			{Name: "subject", Required: true, Message: "subject is required", Checks: []Predicate{NonEmpty, MaxLength(MaxSubjectLength)}},
			{Name: "body", Checks: []Predicate{MaxLength(MaxBodyLength)}},
		}},
		{Action: action.CalendarCreate, Fields: []Field{
			{Name: "title", Required: true, Message: "event title is required", Checks: []Predicate{NonEmpty, MaxLength(MaxTitleLength)}},
			{Name: "start_time", Required: true, Message: "start time is required", Checks: []Predicate{ISO8601}},
			{Name: "end_time", Checks: []Predicate{ISO8601}},
		}},
		{Action: action.TaskCreate, Fields: []Field{
			{Name: "title", Required: true, Message: "task title is required", Checks: []Predicate{NonEmpty, MaxLength(MaxTitleLength)}},
			{Name: "due_date", Checks: []Predicate{ISO8601}},
			{Name: "priority", Checks: []Predicate{PositiveInt}},
		}},
		{Action: action.NoteCreate, Fields: []Field{
			{Name: "title", Required: true, Message: "note title is required", Checks: []Predicate{MaxLength(MaxTitleLength)}},
			{Name: "content", Checks: []Predicate{MaxLength(MaxNoteLength)}},
		}},
		{Action: action.WebOpen, Fields: []Field{
			{Name: "url", Required: true, Message: "url is required", Checks: []Predicate{URL}},
		}},
		{Action: action.WebSearch, Fields: []Field{
			{Name: "query", Required: true, Message: "search query is required", Checks: []Predicate{NonEmpty, MaxLength(MaxQueryLength)}},
		}},
	}
}
