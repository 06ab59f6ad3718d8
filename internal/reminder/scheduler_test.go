package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/remembot/internal/storage"
)

type mockMessenger struct {
	mu        sync.Mutex
	delivered []string
	deliverFn func(ctx context.Context, channelID, body string) error
}

func (m *mockMessenger) Deliver(ctx context.Context, channelID, body string) error {
	if m.deliverFn != nil {
		if err := m.deliverFn(ctx, channelID, body); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered = append(m.delivered, channelID+"|"+body)
	return nil
}

func (m *mockMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delivered)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *storage.Store) storage.User {
	t.Helper()
	u, err := s.GetOrCreateUser("+15551234567")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	return u
}

var testNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newTestScheduler(store *storage.Store, m Messenger) *Scheduler {
	s := NewScheduler(store, m, 0)
	s.now = func() time.Time { return testNow }
	return s
}

func TestCreateDetectsRecurrence(t *testing.T) {
	store := openTestStore(t)
	u := createTestUser(t, store)
	svc := NewService(store)

	cases := []struct {
		message        string
		wantKind       string
		wantRecurrence string
	}{
		{"call mom at 3pm", storage.ReminderOneOff, ""},
		{"take vitamins every day", storage.ReminderRecurring, "daily"},
		{"water the plants weekly", storage.ReminderRecurring, "weekly"},
		{"pay rent every month", storage.ReminderRecurring, "monthly"},
		{"check in every fortnight", storage.ReminderOneOff, ""},
	}
	for _, tc := range cases {
		r, err := svc.Create(u, "int-1", tc.message, testNow.Add(time.Hour), "UTC")
		if err != nil {
			t.Fatalf("Create(%q): %v", tc.message, err)
		}
		if r.Kind != tc.wantKind || r.Recurrence != tc.wantRecurrence {
			t.Errorf("Create(%q) = kind %q recurrence %q, want %q/%q",
				tc.message, r.Kind, r.Recurrence, tc.wantKind, tc.wantRecurrence)
		}
	}
}

func TestCreateRejectsEmptyMessage(t *testing.T) {
	store := openTestStore(t)
	u := createTestUser(t, store)
	svc := NewService(store)

	if _, err := svc.Create(u, "int-1", "   ", testNow, "UTC"); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestSweepDeliversDueOnly(t *testing.T) {
	store := openTestStore(t)
	u := createTestUser(t, store)
	svc := NewService(store)

	due, err := svc.Create(u, "int-1", "call mom", testNow.Add(-time.Minute), "UTC")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(u, "int-2", "dentist", testNow.Add(time.Hour), "UTC"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	m := &mockMessenger{}
	sched := newTestScheduler(store, m)

	sent, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if m.count() != 1 || !strings.Contains(m.delivered[0], "⏰ REMINDER: call mom") {
		t.Errorf("delivered = %v", m.delivered)
	}
	if !strings.HasPrefix(m.delivered[0], u.ChannelID+"|") {
		t.Errorf("delivered to %q, want channel %q", m.delivered[0], u.ChannelID)
	}

	got, err := store.GetReminder(due.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got.Status != storage.ReminderSent || got.SentAt == nil {
		t.Errorf("status = %q, sent_at = %v", got.Status, got.SentAt)
	}

	// A second sweep must not re-deliver.
	sent, err = sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sent != 0 || m.count() != 1 {
		t.Errorf("second sweep sent %d, total deliveries %d", sent, m.count())
	}
}

func TestSweepFailedDeliveryStaysPending(t *testing.T) {
	store := openTestStore(t)
	u := createTestUser(t, store)
	svc := NewService(store)

	r, err := svc.Create(u, "int-1", "call mom", testNow.Add(-time.Minute), "UTC")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	broken := errors.New("channel down")
	m := &mockMessenger{deliverFn: func(ctx context.Context, channelID, body string) error {
		return broken
	}}
	sched := newTestScheduler(store, m)

	sent, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}

	got, err := store.GetReminder(r.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got.Status != storage.ReminderPending {
		t.Errorf("status = %q, want pending", got.Status)
	}

	// Next sweep retries and succeeds.
	m.deliverFn = nil
	sent, err = sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sent != 1 {
		t.Errorf("retry sweep sent %d, want 1", sent)
	}
}

// A failure on one reminder must not block the rest of the batch.
func TestSweepIsolatesFailures(t *testing.T) {
	store := openTestStore(t)
	u := createTestUser(t, store)
	svc := NewService(store)

	if _, err := svc.Create(u, "int-1", "first", testNow.Add(-2*time.Minute), "UTC"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(u, "int-2", "second", testNow.Add(-time.Minute), "UTC"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	m := &mockMessenger{deliverFn: func(ctx context.Context, channelID, body string) error {
		if strings.Contains(body, "first") {
			return errors.New("transient")
		}
		return nil
	}}
	sched := newTestScheduler(store, m)

	sent, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if m.count() != 1 || !strings.Contains(m.delivered[0], "second") {
		t.Errorf("delivered = %v", m.delivered)
	}
}

func TestSweepCancelledNeverDelivered(t *testing.T) {
	store := openTestStore(t)
	u := createTestUser(t, store)
	svc := NewService(store)

	r, err := svc.Create(u, "int-1", "call mom", testNow.Add(-time.Minute), "UTC")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ok, err := svc.Cancel(r.ID, u.ID)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}

	m := &mockMessenger{}
	sched := newTestScheduler(store, m)

	sent, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sent != 0 || m.count() != 0 {
		t.Errorf("cancelled reminder delivered: sent=%d deliveries=%d", sent, m.count())
	}
}

func TestRecurringSpawnsNextOccurrence(t *testing.T) {
	store := openTestStore(t)
	u := createTestUser(t, store)
	svc := NewService(store)

	r, err := svc.Create(u, "int-1", "take vitamins every day", testNow.Add(-time.Minute), "UTC")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m := &mockMessenger{}
	sched := newTestScheduler(store, m)

	if _, err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, err := store.GetReminder(r.ID)
	if err != nil {
		t.Fatalf("GetReminder: %v", err)
	}
	if got.Status != storage.ReminderSent {
		t.Errorf("original status = %q, want sent", got.Status)
	}

	pending, err := store.PendingReminders(u.ID, 10)
	if err != nil {
		t.Fatalf("PendingReminders: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending follow-ups = %d, want 1", len(pending))
	}
	next := pending[0]
	wantAt := r.ScheduledAt.AddDate(0, 0, 1)
	if !next.ScheduledAt.Equal(wantAt) {
		t.Errorf("next ScheduledAt = %v, want %v", next.ScheduledAt, wantAt)
	}
	if next.Message != r.Message || next.Recurrence != "daily" {
		t.Errorf("next = %+v", next)
	}
}

// A recurrence descriptor the scheduler cannot interpret is stored but
// never re-fired.
func TestUnrecognizedRecurrenceDoesNotRefire(t *testing.T) {
	store := openTestStore(t)
	u := createTestUser(t, store)

	r := storage.Reminder{
		ID:          uuid.New().String(),
		UserID:      u.ID,
		Message:     "stretch",
		ScheduledAt: testNow.Add(-time.Minute),
		Timezone:    "UTC",
		Kind:        storage.ReminderRecurring,
		Recurrence:  "fortnightly",
	}
	if err := store.InsertReminder(r); err != nil {
		t.Fatalf("InsertReminder: %v", err)
	}

	m := &mockMessenger{}
	sched := newTestScheduler(store, m)

	sent, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}

	pending, err := store.PendingReminders(u.ID, 10)
	if err != nil {
		t.Fatalf("PendingReminders: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("unexpected follow-up rows: %d", len(pending))
	}
}

func TestNextOccurrenceKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}

	// The US spring-forward transition in 2026 is on March 8.
	before := time.Date(2026, 3, 7, 9, 0, 0, 0, loc)
	r := storage.Reminder{
		ScheduledAt: before.UTC(),
		Timezone:    "America/New_York",
		Recurrence:  "daily",
	}
	next, ok := nextOccurrence(r)
	if !ok {
		t.Fatal("nextOccurrence returned false")
	}
	got := next.In(loc)
	if got.Hour() != 9 || got.Day() != 8 {
		t.Errorf("next = %v, want Mar 8 09:00 local", got)
	}
}
