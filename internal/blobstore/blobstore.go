// Package blobstore provides content-addressed storage for message
// attachments. Bytes are written under a sha256-derived filename before the
// metadata row is registered, so a registered blob always points at an
// existing file.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/remembot/internal/storage"
)

// Store writes blob files into a directory and registers them in the
// relational store keyed by content digest.
type Store struct {
	dir     string
	records *storage.Store
}

// New creates a Store rooted at <dataDir>/blobs.
func New(dataDir string, records *storage.Store) (*Store, error) {
	dir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Store{dir: dir, records: records}, nil
}

// Put stores data, deduplicating by content digest. Byte-identical payloads
// resolve to the existing record without re-writing the file or merging
// metadata.
func (s *Store) Put(data []byte, kind, mimeType, metadataJSON string) (storage.Blob, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	existing, err := s.records.GetBlobByDigest(digest)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Blob{}, fmt.Errorf("looking up blob %s: %w", digest, err)
	}

	path := filepath.Join(s.dir, digest+"."+extensionFor(mimeType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return storage.Blob{}, fmt.Errorf("writing blob file: %w", err)
	}

	blob, err := s.records.RegisterBlob(storage.Blob{
		ID:           uuid.New().String(),
		Digest:       digest,
		Kind:         kind,
		MimeType:     mimeType,
		Size:         int64(len(data)),
		Path:         path,
		MetadataJSON: metadataJSON,
	})
	if err != nil {
		return storage.Blob{}, fmt.Errorf("registering blob %s: %w", digest, err)
	}
	return blob, nil
}

// extensionFor derives a filename extension from a MIME type, dropping any
// parameters ("audio/ogg; codecs=opus" -> "ogg").
func extensionFor(mimeType string) string {
	sub := mimeType
	if i := strings.Index(sub, "/"); i >= 0 {
		sub = sub[i+1:]
	}
	if i := strings.Index(sub, ";"); i >= 0 {
		sub = sub[:i]
	}
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return "bin"
	}
	return sub
}
