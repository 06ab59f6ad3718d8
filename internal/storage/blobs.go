package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// RegisterBlob records blob metadata keyed by content digest. A duplicate
// digest is not an error: the existing row is returned unchanged and the new
// metadata is discarded (first write wins). The caller must have written the
// bytes to b.Path before registering.
func (s *Store) RegisterBlob(b Blob) (Blob, error) {
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	metadata := b.MetadataJSON
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO blobs (id, digest, kind, mime_type, size, path, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(digest) DO NOTHING`,
		b.ID, b.Digest, b.Kind, b.MimeType, b.Size, b.Path, metadata,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return Blob{}, fmt.Errorf("inserting blob: %w", err)
	}
	return s.GetBlobByDigest(b.Digest)
}

// GetBlobByDigest returns the blob with the given content digest.
func (s *Store) GetBlobByDigest(digest string) (Blob, error) {
	var b Blob
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, digest, kind, mime_type, size, path, metadata, created_at
		FROM blobs WHERE digest = ?`, digest,
	).Scan(&b.ID, &b.Digest, &b.Kind, &b.MimeType, &b.Size, &b.Path, &b.MetadataJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Blob{}, fmt.Errorf("parsing created_at: %w", err)
	}
	b.CreatedAt = t
	return b, nil
}

// CountBlobs returns the number of registered blobs.
func (s *Store) CountBlobs() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM blobs`).Scan(&n)
	return n, err
}
