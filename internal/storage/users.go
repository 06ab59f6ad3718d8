package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetOrCreateUser returns the user owning channelID, creating it lazily on
// first contact. Concurrent first contacts race on the unique channel_id
// constraint; the loser reads back the winner's row.
func (s *Store) GetOrCreateUser(channelID string) (User, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO users (id, channel_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO NOTHING`,
		uuid.New().String(), channelID, now.Format(time.RFC3339),
	)
	if err != nil {
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return s.GetUserByChannelID(channelID)
}

// GetUser returns the user with the given internal id.
func (s *Store) GetUser(id string) (User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, channel_id, created_at FROM users WHERE id = ?`, id))
}

// GetUserByChannelID returns the user with the given channel identifier.
func (s *Store) GetUserByChannelID(channelID string) (User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, channel_id, created_at FROM users WHERE channel_id = ?`, channelID))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	var createdAt string
	err := row.Scan(&u.ID, &u.ChannelID, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	u.CreatedAt = t
	return u, nil
}
