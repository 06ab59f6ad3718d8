// Package reminder schedules one-off and recurring reminders and sweeps
// due ones to the outbound messenger on a fixed polling cadence.
package reminder

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/remembot/internal/storage"
)

// Service creates and cancels reminders for users.
type Service struct {
	store *storage.Store
}

// NewService creates a Service over the given store.
func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

// Create persists a pending reminder. scheduledAt must already carry its
// intended location; it is normalized to UTC on insert while the location
// name is kept for recurrence arithmetic.
func (s *Service) Create(user storage.User, interactionID, message string, scheduledAt time.Time, timezone string) (storage.Reminder, error) {
	if strings.TrimSpace(message) == "" {
		return storage.Reminder{}, fmt.Errorf("reminder message is empty")
	}
	if timezone == "" {
		timezone = scheduledAt.Location().String()
	}

	recurrence := detectRecurrence(message)
	kind := storage.ReminderOneOff
	if recurrence != "" {
		kind = storage.ReminderRecurring
	}

	r := storage.Reminder{
		ID:            uuid.New().String(),
		UserID:        user.ID,
		InteractionID: interactionID,
		Message:       message,
		ScheduledAt:   scheduledAt.UTC(),
		Timezone:      timezone,
		Status:        storage.ReminderPending,
		Kind:          kind,
		Recurrence:    recurrence,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertReminder(r); err != nil {
		return storage.Reminder{}, err
	}
	return r, nil
}

// Cancel flips a pending reminder to cancelled. Returns false when the
// reminder is missing, already resolved, or owned by another user.
func (s *Service) Cancel(id, userID string) (bool, error) {
	return s.store.CancelReminder(id, userID)
}

// Pending returns the user's pending reminders, soonest first.
func (s *Service) Pending(userID string, limit int) ([]storage.Reminder, error) {
	return s.store.PendingReminders(userID, limit)
}

// detectRecurrence recognizes the recurrence descriptors the scheduler can
// re-fire. Anything else yields a one-off reminder.
func detectRecurrence(message string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "every day") || strings.Contains(lower, "daily"):
		return "daily"
	case strings.Contains(lower, "every week") || strings.Contains(lower, "weekly"):
		return "weekly"
	case strings.Contains(lower, "every month") || strings.Contains(lower, "monthly"):
		return "monthly"
	}
	return ""
}

// nextOccurrence computes the follow-up fire time for a recurring reminder.
// The step is applied in the reminder's stored location so wall-clock times
// survive DST transitions. Returns false for descriptors the scheduler does
// not recognize.
func nextOccurrence(r storage.Reminder) (time.Time, bool) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		loc = time.UTC
	}
	base := r.ScheduledAt.In(loc)

	switch r.Recurrence {
	case "daily":
		return base.AddDate(0, 0, 1), true
	case "weekly":
		return base.AddDate(0, 0, 7), true
	case "monthly":
		return base.AddDate(0, 1, 0), true
	}
	return time.Time{}, false
}
