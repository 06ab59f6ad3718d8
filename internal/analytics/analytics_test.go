package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/remembot/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestMemory(t *testing.T, s *storage.Store, userID, memType, tags string) {
	t.Helper()
	id := uuid.New().String()
	err := s.InsertMemory(storage.Memory{
		ID:        id,
		Mem0ID:    "mem0-" + id,
		UserID:    userID,
		Content:   "content",
		Type:      memType,
		Tags:      tags,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}
}

func insertTestInteraction(t *testing.T, s *storage.Store, userID string, typ storage.InteractionType, at time.Time) {
	t.Helper()
	id := uuid.New().String()
	_, err := s.CreateInteraction(storage.Interaction{
		ID:               id,
		UserID:           userID,
		ChannelMessageID: "SM" + id,
		Type:             typ,
		Content:          "content",
		CreatedAt:        at,
	})
	if err != nil {
		t.Fatalf("CreateInteraction: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	store := openTestStore(t)
	u, err := store.GetOrCreateUser("+15551234567")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	insertTestMemory(t, store, u.ID, "text", `["work","meetings"]`)
	insertTestMemory(t, store, u.ID, "text", `["work"]`)
	insertTestMemory(t, store, u.ID, "image", `[]`)

	first := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	last := time.Date(2026, 8, 31, 9, 30, 0, 0, time.UTC)
	insertTestInteraction(t, store, u.ID, storage.InteractionText, first)
	insertTestInteraction(t, store, u.ID, storage.InteractionImage, last)

	if err := store.InsertReminder(storage.Reminder{
		ID:          uuid.New().String(),
		UserID:      u.ID,
		Message:     "call mom",
		ScheduledAt: last.Add(time.Hour),
		Timezone:    "UTC",
	}); err != nil {
		t.Fatalf("InsertReminder: %v", err)
	}

	svc := NewService(store)
	got, err := svc.Summarize(u.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if got.TotalMemories != 3 || got.MemoryTypes["text"] != 2 || got.MemoryTypes["image"] != 1 {
		t.Errorf("memory counts = %+v", got)
	}
	if got.TotalInteractions != 2 || got.InteractionTypes["text"] != 1 {
		t.Errorf("interaction counts = %+v", got)
	}
	if got.LastIngestAt == nil || !got.LastIngestAt.Equal(last) {
		t.Errorf("LastIngestAt = %v, want %v", got.LastIngestAt, last)
	}
	if got.TotalReminders != 1 || got.PendingReminders != 1 {
		t.Errorf("reminder counts = %d/%d", got.TotalReminders, got.PendingReminders)
	}

	if len(got.TopTags) != 2 {
		t.Fatalf("TopTags = %+v", got.TopTags)
	}
	if got.TopTags[0].Tag != "work" || got.TopTags[0].Count != 2 {
		t.Errorf("top tag = %+v", got.TopTags[0])
	}
}

func TestSummarizeEmptyUser(t *testing.T) {
	store := openTestStore(t)
	u, err := store.GetOrCreateUser("+15551234567")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	got, err := NewService(store).Summarize(u.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.TotalMemories != 0 || got.TotalInteractions != 0 {
		t.Errorf("summary = %+v", got)
	}
	if got.LastIngestAt != nil {
		t.Errorf("LastIngestAt = %v, want nil", got.LastIngestAt)
	}
	if len(got.TopTags) != 0 {
		t.Errorf("TopTags = %+v", got.TopTags)
	}
}

func TestTopTagsCapAndStableOrder(t *testing.T) {
	store := openTestStore(t)
	u, err := store.GetOrCreateUser("+15551234567")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	for i := 0; i < 7; i++ {
		insertTestMemory(t, store, u.ID, "text", fmt.Sprintf(`["tag%d","shared"]`, i))
	}
	insertTestMemory(t, store, u.ID, "text", "not json")

	got, err := NewService(store).Summarize(u.ID)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(got.TopTags) != 5 {
		t.Fatalf("TopTags length = %d, want 5", len(got.TopTags))
	}
	if got.TopTags[0].Tag != "shared" || got.TopTags[0].Count != 7 {
		t.Errorf("top tag = %+v", got.TopTags[0])
	}
	// Singleton tags tie; order must be alphabetical.
	if got.TopTags[1].Tag != "tag0" || got.TopTags[2].Tag != "tag1" {
		t.Errorf("tie order = %+v", got.TopTags[1:])
	}
}
