// Package analytics aggregates per-user usage statistics from the local
// store.
package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kalambet/remembot/internal/storage"
)

const topTagLimit = 5

// TagCount is one entry in the top-tags ranking.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Summary is a user's aggregate usage snapshot.
type Summary struct {
	MemoryTypes       map[string]int `json:"memory_types"`
	InteractionTypes  map[string]int `json:"interaction_types"`
	TotalMemories     int            `json:"total_memories"`
	TotalInteractions int            `json:"total_interactions"`
	LastIngestAt      *time.Time     `json:"last_ingest_at"`
	TopTags           []TagCount     `json:"top_tags"`
	TotalReminders    int            `json:"total_reminders"`
	PendingReminders  int            `json:"pending_reminders"`
}

// Service computes usage summaries.
type Service struct {
	store *storage.Store
}

// NewService creates a Service over the given store.
func NewService(store *storage.Store) *Service {
	return &Service{store: store}
}

// Summarize builds the user's usage summary.
func (s *Service) Summarize(userID string) (Summary, error) {
	memoryTypes, err := s.store.MemoryTypeCounts(userID)
	if err != nil {
		return Summary{}, fmt.Errorf("counting memories: %w", err)
	}
	interactionTypes, err := s.store.InteractionTypeCounts(userID)
	if err != nil {
		return Summary{}, fmt.Errorf("counting interactions: %w", err)
	}
	lastIngest, err := s.store.LastInteractionAt(userID)
	if err != nil {
		return Summary{}, fmt.Errorf("loading last interaction: %w", err)
	}
	tagLists, err := s.store.MemoryTagLists(userID)
	if err != nil {
		return Summary{}, fmt.Errorf("loading tags: %w", err)
	}
	totalReminders, pendingReminders, err := s.store.ReminderCounts(userID)
	if err != nil {
		return Summary{}, fmt.Errorf("counting reminders: %w", err)
	}

	return Summary{
		MemoryTypes:       memoryTypes,
		InteractionTypes:  interactionTypes,
		TotalMemories:     sumCounts(memoryTypes),
		TotalInteractions: sumCounts(interactionTypes),
		LastIngestAt:      lastIngest,
		TopTags:           topTags(tagLists, topTagLimit),
		TotalReminders:    totalReminders,
		PendingReminders:  pendingReminders,
	}, nil
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// topTags ranks tag frequency across the raw per-memory tag lists. Rows
// with unparsable tag JSON are skipped. Ties break alphabetically so the
// ranking is stable.
func topTags(tagLists []string, limit int) []TagCount {
	counts := make(map[string]int)
	for _, raw := range tagLists {
		if raw == "" {
			continue
		}
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			continue
		}
		for _, tag := range tags {
			counts[tag]++
		}
	}

	ranked := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		ranked = append(ranked, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Tag < ranked[j].Tag
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
