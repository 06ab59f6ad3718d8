package storage

import (
	"database/sql"
	"time"
)

// MemoryTypeCounts returns the user's memory counts grouped by type.
func (s *Store) MemoryTypeCounts(userID string) (map[string]int, error) {
	return s.typeCounts(`SELECT type, COUNT(*) FROM memories WHERE user_id = ? GROUP BY type`, userID)
}

// InteractionTypeCounts returns the user's interaction counts grouped by type.
func (s *Store) InteractionTypeCounts(userID string) (map[string]int, error) {
	return s.typeCounts(`SELECT type, COUNT(*) FROM interactions WHERE user_id = ? GROUP BY type`, userID)
}

func (s *Store) typeCounts(query, userID string) (map[string]int, error) {
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// LastInteractionAt returns the timestamp of the user's most recent
// interaction, or nil if there is none.
func (s *Store) LastInteractionAt(userID string) (*time.Time, error) {
	var createdAt string
	err := s.db.QueryRow(`
		SELECT created_at FROM interactions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`, userID).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MemoryTagLists returns the raw tags JSON of every memory the user owns.
// Tag frequency is computed in the analytics layer.
func (s *Store) MemoryTagLists(userID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT tags FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []string
	for rows.Next() {
		var tags string
		if err := rows.Scan(&tags); err != nil {
			return nil, err
		}
		lists = append(lists, tags)
	}
	return lists, rows.Err()
}
