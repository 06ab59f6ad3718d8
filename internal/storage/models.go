package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// InteractionType is the closed set of inbound message kinds. Values are
// validated at the intake boundary so typos never reach storage.
type InteractionType string

const (
	InteractionText     InteractionType = "text"
	InteractionImage    InteractionType = "image"
	InteractionAudio    InteractionType = "audio"
	InteractionDocument InteractionType = "document"
	InteractionCommand  InteractionType = "command"
	InteractionSearch   InteractionType = "search"
)

// Valid reports whether t is one of the known interaction types.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionText, InteractionImage, InteractionAudio, InteractionDocument,
		InteractionCommand, InteractionSearch:
		return true
	}
	return false
}

// Reminder lifecycle statuses. A reminder leaves "pending" exactly once.
const (
	ReminderPending   = "pending"
	ReminderSent      = "sent"
	ReminderCancelled = "cancelled"
)

// Reminder kinds. Recurring reminders spawn a follow-up row after each
// successful delivery.
const (
	ReminderOneOff    = "one_off"
	ReminderRecurring = "recurring"
)

type User struct {
	ID        string
	ChannelID string // external messaging-channel identifier, unique
	CreatedAt time.Time
}

// Blob is a content-addressed binary payload. Digest is the sha256 of the
// bytes and is the deduplication key; Path points at the stored file.
type Blob struct {
	ID           string
	Digest       string
	Kind         string // image, audio, document, other
	MimeType     string
	Size         int64
	Path         string
	MetadataJSON string // free-form metadata stored as JSON text
	CreatedAt    time.Time
}

// Interaction is one recorded inbound message, keyed by the channel's
// message id for idempotent replay.
type Interaction struct {
	ID               string
	UserID           string
	ChannelMessageID string
	Type             InteractionType
	Content          string
	Transcript       string
	BlobID           string // optional reference to a Blob
	MetadataJSON     string // JSON object stored as text
	CreatedAt        time.Time
}

// Memory is a durable fact derived from an interaction, mirrored in the
// external semantic index under Mem0ID.
type Memory struct {
	ID            string
	Mem0ID        string
	UserID        string
	InteractionID string
	Content       string
	Type          string
	Tags          string // JSON array stored as text
	CreatedAt     time.Time
}

type Reminder struct {
	ID            string
	UserID        string
	InteractionID string
	Message       string
	ScheduledAt   time.Time // stored in UTC; Timezone keeps the user's zone
	Timezone      string
	Status        string
	Kind          string
	Recurrence    string // optional descriptor: daily, weekly, monthly
	SentAt        *time.Time
	CreatedAt     time.Time
}
