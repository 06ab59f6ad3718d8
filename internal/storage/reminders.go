package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const reminderColumns = `id, user_id, interaction_id, message, scheduled_at, timezone, status, kind, recurrence, sent_at, created_at`

// InsertReminder persists a reminder with status pending. ScheduledAt is
// stored in UTC so due-query string comparison is total.
func (s *Store) InsertReminder(r Reminder) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	kind := r.Kind
	if kind == "" {
		kind = "one_off"
	}
	_, err := s.db.Exec(`
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, NULL, ?)`,
		r.ID, r.UserID, r.InteractionID, r.Message,
		r.ScheduledAt.UTC().Format(time.RFC3339), r.Timezone, kind,
		r.Recurrence, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reminder: %w", err)
	}
	return nil
}

// GetReminder returns the reminder with the given id.
func (s *Store) GetReminder(id string) (Reminder, error) {
	row := s.db.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	return scanReminder(row.Scan)
}

// DuePendingReminders returns pending reminders whose scheduled time has
// passed, oldest first, capped at limit.
func (s *Store) DuePendingReminders(now time.Time, limit int) ([]Reminder, error) {
	rows, err := s.db.Query(`
		SELECT `+reminderColumns+` FROM reminders
		WHERE status = 'pending' AND scheduled_at <= ?
		ORDER BY scheduled_at ASC LIMIT ?`,
		now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Reminder
	for rows.Next() {
		r, err := scanReminder(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// MarkReminderSent flips a pending reminder to sent and records the sent
// timestamp in the same statement. Returns false if the reminder was not
// pending (already sent, cancelled concurrently, or missing).
func (s *Store) MarkReminderSent(id string, sentAt time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE reminders SET status = 'sent', sent_at = ?
		WHERE id = ? AND status = 'pending'`,
		sentAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return false, fmt.Errorf("marking reminder sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CancelReminder flips a pending reminder to cancelled. It succeeds only if
// the reminder exists, belongs to userID, and is still pending.
func (s *Store) CancelReminder(id, userID string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE reminders SET status = 'cancelled'
		WHERE id = ? AND user_id = ? AND status = 'pending'`, id, userID)
	if err != nil {
		return false, fmt.Errorf("cancelling reminder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PendingReminders returns the user's pending reminders, soonest first.
func (s *Store) PendingReminders(userID string, limit int) ([]Reminder, error) {
	rows, err := s.db.Query(`
		SELECT `+reminderColumns+` FROM reminders
		WHERE user_id = ? AND status = 'pending'
		ORDER BY scheduled_at ASC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Reminder
	for rows.Next() {
		r, err := scanReminder(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ReminderCounts returns the user's total and pending reminder counts.
func (s *Store) ReminderCounts(userID string) (total, pending int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(status = 'pending'), 0)
		FROM reminders WHERE user_id = ?`, userID).Scan(&total, &pending)
	return total, pending, err
}

func scanReminder(scan func(...any) error) (Reminder, error) {
	var r Reminder
	var scheduledAt, createdAt string
	var sentAt sql.NullString
	err := scan(&r.ID, &r.UserID, &r.InteractionID, &r.Message, &scheduledAt,
		&r.Timezone, &r.Status, &r.Kind, &r.Recurrence, &sentAt, &createdAt)
	if err == sql.ErrNoRows {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, err
	}
	if r.ScheduledAt, err = time.Parse(time.RFC3339, scheduledAt); err != nil {
		return Reminder{}, fmt.Errorf("parsing scheduled_at: %w", err)
	}
	if sentAt.Valid {
		t, err := time.Parse(time.RFC3339, sentAt.String)
		if err != nil {
			return Reminder{}, fmt.Errorf("parsing sent_at: %w", err)
		}
		r.SentAt = &t
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Reminder{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return r, nil
}
