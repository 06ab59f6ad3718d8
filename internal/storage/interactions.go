package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const interactionColumns = `id, user_id, channel_message_id, type, content, transcript, blob_id, metadata, created_at`

// CreateInteraction records an inbound message idempotently: if a row with
// the same channel_message_id already exists it is returned unchanged, and
// a concurrent duplicate delivery races on the unique constraint with the
// loser reading back the winner's row.
func (s *Store) CreateInteraction(i Interaction) (Interaction, error) {
	if !i.Type.Valid() {
		return Interaction{}, fmt.Errorf("invalid interaction type %q", i.Type)
	}
	createdAt := i.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	metadata := i.MetadataJSON
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_message_id) DO NOTHING`,
		i.ID, i.UserID, i.ChannelMessageID, string(i.Type), i.Content,
		i.Transcript, i.BlobID, metadata, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return Interaction{}, fmt.Errorf("inserting interaction: %w", err)
	}
	return s.GetInteractionByChannelMessageID(i.ChannelMessageID)
}

// DeleteInteraction removes a ledger row. Used to roll back an interaction
// whose downstream side effects failed, so a channel retry of the same
// message re-executes instead of replaying a false acknowledgment.
func (s *Store) DeleteInteraction(id string) error {
	_, err := s.db.Exec(`DELETE FROM interactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting interaction: %w", err)
	}
	return nil
}

// GetInteractionByChannelMessageID returns the interaction recorded for the
// given external message id.
func (s *Store) GetInteractionByChannelMessageID(channelMessageID string) (Interaction, error) {
	row := s.db.QueryRow(`
		SELECT `+interactionColumns+` FROM interactions WHERE channel_message_id = ?`,
		channelMessageID)
	return scanInteraction(row.Scan)
}

// GetInteraction returns the interaction with the given internal id.
func (s *Store) GetInteraction(id string) (Interaction, error) {
	row := s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id)
	return scanInteraction(row.Scan)
}

// GetRecentInteractions returns the user's interactions, newest first.
func (s *Store) GetRecentInteractions(userID string, limit int) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT `+interactionColumns+` FROM interactions
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

func scanInteraction(scan func(...any) error) (Interaction, error) {
	var i Interaction
	var typ, createdAt string
	err := scan(&i.ID, &i.UserID, &i.ChannelMessageID, &typ, &i.Content,
		&i.Transcript, &i.BlobID, &i.MetadataJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	if err != nil {
		return Interaction{}, err
	}
	i.Type = InteractionType(typ)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}
