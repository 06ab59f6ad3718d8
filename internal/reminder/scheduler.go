package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/remembot/internal/storage"
)

const (
	defaultPollInterval = 60 * time.Second
	sweepBatchSize      = 50
	deliveryPrefix      = "⏰ REMINDER: "
)

// Messenger delivers outbound messages to a user's channel address.
type Messenger interface {
	Deliver(ctx context.Context, channelID, body string) error
}

// Scheduler polls the store for due reminders and pushes them to the
// messenger. Delivery is at-least-once: the sent flag is flipped only after
// the messenger accepts the message, so a crash in between re-delivers.
type Scheduler struct {
	store     *storage.Store
	messenger Messenger
	poll      time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a Scheduler with the given dependencies.
// If pollInterval is <= 0, it defaults to 60s.
func NewScheduler(store *storage.Store, messenger Messenger, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Scheduler{
		store:     store,
		messenger: messenger,
		poll:      pollInterval,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Run sweeps on the polling cadence until ctx is cancelled. Sweeps never
// overlap: the next one starts a full interval after the previous returns.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		sent, err := s.RunOnce(ctx)
		if err != nil {
			s.logger.Error("reminder sweep failed", "error", err)
		} else if sent > 0 {
			s.logger.Info("reminder sweep delivered", "count", sent)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.poll):
		}
	}
}

// RunOnce performs a single sweep: it loads due pending reminders and
// delivers each in turn. A failed delivery is logged and skipped, leaving
// the reminder pending for the next sweep. Returns the number delivered.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	due, err := s.store.DuePendingReminders(s.now(), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("loading due reminders: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	sent := 0
	for _, r := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if err := s.deliver(ctx, r); err != nil {
			s.logger.Warn("reminder delivery failed", "reminder_id", r.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Scheduler) deliver(ctx context.Context, r storage.Reminder) error {
	user, err := s.store.GetUser(r.UserID)
	if err != nil {
		return fmt.Errorf("loading user %s: %w", r.UserID, err)
	}

	if err := s.messenger.Deliver(ctx, user.ChannelID, deliveryPrefix+r.Message); err != nil {
		return fmt.Errorf("sending to %s: %w", user.ChannelID, err)
	}

	marked, err := s.store.MarkReminderSent(r.ID, s.now())
	if err != nil {
		return fmt.Errorf("marking sent: %w", err)
	}
	if !marked {
		// Cancelled between the due query and delivery. The message already
		// went out; the row keeps its cancelled state.
		s.logger.Warn("reminder resolved concurrently after delivery", "reminder_id", r.ID)
		return nil
	}

	if r.Kind == storage.ReminderRecurring {
		if err := s.spawnNext(r); err != nil {
			s.logger.Error("scheduling next occurrence failed", "reminder_id", r.ID, "error", err)
		}
	}
	return nil
}

// spawnNext inserts the follow-up pending row for a recurring reminder.
// The sent row itself is never reset.
func (s *Scheduler) spawnNext(r storage.Reminder) error {
	next, ok := nextOccurrence(r)
	if !ok {
		s.logger.Warn("unrecognized recurrence, not re-firing", "reminder_id", r.ID, "recurrence", r.Recurrence)
		return nil
	}

	return s.store.InsertReminder(storage.Reminder{
		ID:            uuid.New().String(),
		UserID:        r.UserID,
		InteractionID: r.InteractionID,
		Message:       r.Message,
		ScheduledAt:   next.UTC(),
		Timezone:      r.Timezone,
		Status:        storage.ReminderPending,
		Kind:          storage.ReminderRecurring,
		Recurrence:    r.Recurrence,
		CreatedAt:     time.Now().UTC(),
	})
}
