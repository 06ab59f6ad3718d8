package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const memoryColumns = `id, mem0_id, user_id, interaction_id, content, type, tags, created_at`

// InsertMemory persists a local memory row. The external index write must
// have already succeeded; Mem0ID is required and unique.
func (s *Store) InsertMemory(m Memory) error {
	if m.Mem0ID == "" {
		return fmt.Errorf("memory missing mem0 id")
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tags := m.Tags
	if tags == "" {
		tags = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Mem0ID, m.UserID, m.InteractionID, m.Content, m.Type, tags,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

// GetMemoryByMem0ID returns the local row mirroring the given external id.
func (s *Store) GetMemoryByMem0ID(mem0ID string) (Memory, error) {
	row := s.db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE mem0_id = ?`, mem0ID)
	return scanMemory(row.Scan)
}

// ListMemories returns the user's memories, newest first.
func (s *Store) ListMemories(userID string, limit int) ([]Memory, error) {
	rows, err := s.db.Query(`
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

// SearchMemoriesLocal is the degraded search path used when the external
// index is unavailable: case-insensitive substring match over content,
// newest first.
func (s *Store) SearchMemoriesLocal(userID, query string, limit int) ([]Memory, error) {
	rows, err := s.db.Query(`
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND content LIKE '%' || ? || '%'
		ORDER BY created_at DESC LIMIT ?`, userID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemories(rows)
}

func collectMemories(rows *sql.Rows) ([]Memory, error) {
	var results []Memory
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func scanMemory(scan func(...any) error) (Memory, error) {
	var m Memory
	var createdAt string
	err := scan(&m.ID, &m.Mem0ID, &m.UserID, &m.InteractionID, &m.Content,
		&m.Type, &m.Tags, &createdAt)
	if err == sql.ErrNoRows {
		return Memory{}, ErrNotFound
	}
	if err != nil {
		return Memory{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Memory{}, fmt.Errorf("parsing created_at: %w", err)
	}
	m.CreatedAt = t
	return m, nil
}
