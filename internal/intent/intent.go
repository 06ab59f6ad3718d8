package intent

import "time"

// Kind is the closed set of message intents.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindSearch   Kind = "search"
	KindReminder Kind = "reminder"
)

// Valid reports whether k is a known intent.
func (k Kind) Valid() bool {
	switch k {
	case KindMemory, KindSearch, KindReminder:
		return true
	}
	return false
}

// ReminderSpec is the schedule extracted from a reminder-intent message.
// ScheduledAt is always derived from the classification's reference time,
// never hardcoded by the model.
type ReminderSpec struct {
	Message     string
	ScheduledAt time.Time
	Timezone    string
}

// Classification is the structured result of classifying one message.
type Classification struct {
	Kind       Kind
	Confidence float64
	Reasoning  string

	// ExtractedQuery is set when Kind is search: a normalized query string,
	// falling back to the raw message when the model omits it.
	ExtractedQuery string

	// RewrittenContent is set when Kind is memory and the message contained
	// a relative-time phrase, with that phrase resolved to an absolute date.
	RewrittenContent string

	// Reminder is set when Kind is reminder and a schedule could be
	// computed. A reminder classified heuristically carries no schedule.
	Reminder *ReminderSpec

	// Fallback marks a heuristic classification produced without the
	// language-understanding collaborator.
	Fallback bool
}
