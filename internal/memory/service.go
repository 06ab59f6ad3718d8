// Package memory implements the dual-store memory model: the external
// semantic index is write-ahead for creation and the local relational store
// is the filter of record for every read path. There is no distributed
// transaction between the two: a crash after the index write but before
// the local commit leaves an orphaned index entry, which reconciliation
// keeps out of all query results.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/remembot/internal/mem0"
	"github.com/kalambet/remembot/internal/storage"
)

// Index is the external semantic-memory collaborator.
type Index interface {
	Add(ctx context.Context, content, userKey string, metadata map[string]any) (string, error)
	Search(ctx context.Context, query, userKey string, limit int) ([]mem0.Hit, error)
	List(ctx context.Context, userKey string, limit int) ([]mem0.Hit, error)
}

// EnrichedMemory is a search result: an index hit reconciled with its local
// row. Local type/tags/timestamp take precedence over the index's copy.
type EnrichedMemory struct {
	LocalID       string
	Mem0ID        string
	InteractionID string
	Content       string
	Type          string
	Tags          []string
	CreatedAt     time.Time
	Metadata      map[string]any
}

// Service coordinates the local store and the external index.
type Service struct {
	store *storage.Store
	index Index
}

// NewService creates a Service over the given store and index.
func NewService(store *storage.Store, index Index) *Service {
	return &Service{store: store, index: index}
}

// UserKey derives the stable per-user index key from the channel
// identifier, namespaced so memories never cross users.
func UserKey(channelID string) string {
	return "user:wa:" + channelID
}

// Create writes the memory to the external index first, then persists the
// local row referencing the returned external id. If the index write fails
// the operation fails entirely; a local-only row would never surface in
// semantic search.
func (s *Service) Create(ctx context.Context, user storage.User, interactionID, content, memType string, tags []string) (storage.Memory, error) {
	mem0ID, err := s.index.Add(ctx, content, UserKey(user.ChannelID), map[string]any{
		"user_id":        user.ID,
		"interaction_id": interactionID,
	})
	if err != nil {
		return storage.Memory{}, fmt.Errorf("writing to semantic index: %w", err)
	}

	// Logged before the local insert so a crash between the two writes
	// leaves a traceable orphan in the index.
	slog.Info("created index memory", "mem0_id", mem0ID, "user_id", user.ID)

	tagsJSON := "[]"
	if len(tags) > 0 {
		b, err := json.Marshal(tags)
		if err != nil {
			return storage.Memory{}, fmt.Errorf("marshaling tags: %w", err)
		}
		tagsJSON = string(b)
	}

	m := storage.Memory{
		ID:            uuid.New().String(),
		Mem0ID:        mem0ID,
		UserID:        user.ID,
		InteractionID: interactionID,
		Content:       content,
		Type:          memType,
		Tags:          tagsJSON,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertMemory(m); err != nil {
		return storage.Memory{}, fmt.Errorf("persisting memory: %w", err)
	}
	return m, nil
}

// Search queries the external index and reconciles each hit against the
// local store, discarding hits with no local row or belonging to another
// user. When the index is unavailable it degrades to a local substring
// match, routed through the same reconciliation step.
func (s *Service) Search(ctx context.Context, user storage.User, query string, limit int) ([]EnrichedMemory, error) {
	hits, err := s.index.Search(ctx, query, UserKey(user.ChannelID), limit)
	if err != nil {
		slog.Warn("semantic search failed, falling back to local match", "user_id", user.ID, "error", err)
		local, lerr := s.store.SearchMemoriesLocal(user.ID, query, limit)
		if lerr != nil {
			return nil, fmt.Errorf("local search fallback: %w", lerr)
		}
		hits = hitsFromLocal(local)
	}

	return s.reconcile(user, hits), nil
}

// List returns the user's memories from the local store, newest first. The
// index is consulted only as a best-effort consistency probe; its failure
// never fails the call.
func (s *Service) List(ctx context.Context, user storage.User, limit int) ([]storage.Memory, error) {
	memories, err := s.store.ListMemories(user.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}

	if hits, err := s.index.List(ctx, UserKey(user.ChannelID), limit); err != nil {
		slog.Debug("index list unavailable", "user_id", user.ID, "error", err)
	} else if len(hits) < len(memories) {
		slog.Warn("index holds fewer entries than local store",
			"user_id", user.ID, "index", len(hits), "local", len(memories))
	}

	return memories, nil
}

// reconcile keeps only hits that resolve to a local row owned by user.
// The local row wins for display metadata.
func (s *Service) reconcile(user storage.User, hits []mem0.Hit) []EnrichedMemory {
	results := make([]EnrichedMemory, 0, len(hits))
	for _, hit := range hits {
		m, err := s.store.GetMemoryByMem0ID(hit.ID)
		if errors.Is(err, storage.ErrNotFound) {
			slog.Debug("dropping index hit with no local row", "mem0_id", hit.ID)
			continue
		}
		if err != nil {
			slog.Warn("reconciliation lookup failed", "mem0_id", hit.ID, "error", err)
			continue
		}
		if m.UserID != user.ID {
			// Defense against cross-tenant leakage from the index.
			slog.Warn("dropping index hit owned by another user", "mem0_id", hit.ID)
			continue
		}

		content := hit.Content
		if content == "" {
			content = m.Content
		}
		results = append(results, EnrichedMemory{
			LocalID:       m.ID,
			Mem0ID:        m.Mem0ID,
			InteractionID: m.InteractionID,
			Content:       content,
			Type:          m.Type,
			Tags:          parseTags(m.Tags),
			CreatedAt:     m.CreatedAt,
			Metadata:      hit.Metadata,
		})
	}
	return results
}

func hitsFromLocal(memories []storage.Memory) []mem0.Hit {
	hits := make([]mem0.Hit, len(memories))
	for i, m := range memories {
		hits[i] = mem0.Hit{
			ID:        m.Mem0ID,
			Content:   m.Content,
			Type:      m.Type,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		}
	}
	return hits
}

func parseTags(tagsJSON string) []string {
	if tagsJSON == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}
