// Package session owns the session registry: durable per-session records,
// the in-memory cache, and the lifecycle manager that hydrates conversation
// engines on demand.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/indranilweb/ai-document-assistant/internal/conversation"
)

// ErrSessionNotFound is returned when a session exists neither in the
// in-memory cache nor in durable storage.
var ErrSessionNotFound = errors.New("session not found")

// Metadata is the authoritative record of one session. The transcript is
// append-only for the session's lifetime.
type Metadata struct {
	ID         string              `json:"id"`
	Documents  []string            `json:"documents"`
	Transcript []conversation.Turn `json:"transcript"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Store keeps session metadata in memory, mirrored durably as one directory
// per session under <root>, each holding metadata.json and index.json.
// Durable writes always precede cache updates.
type Store struct {
	root   string
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]Metadata
}

const (
	metadataFile = "metadata.json"
	indexFile    = "index.json"
)

// NewStore opens (or creates) the sessions directory under dataDir and loads
// every valid durable record into the cache. Malformed records are skipped
// with a logged warning, never a fatal error.
func NewStore(dataDir string) (*Store, error) {
	root := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}

	s := &Store{
		root:     root,
		logger:   slog.Default(),
		sessions: make(map[string]Metadata),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scanning sessions directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		meta, err := s.readMetadata(id)
		if err != nil {
			s.logger.Warn("skipping malformed session record", "session_id", id, "error", err)
			continue
		}
		s.sessions[id] = meta
	}

	return s, nil
}

// SessionDir returns the durable directory for the given session.
func (s *Store) SessionDir(id string) string {
	return filepath.Join(s.root, id)
}

// IndexPath returns the location of the session's persisted vector index.
func (s *Store) IndexPath(id string) string {
	return filepath.Join(s.root, id, indexFile)
}

// Create records a new session with the given identifier and document names
// and an empty transcript, durably first.
func (s *Store) Create(id string, documents []string) (Metadata, error) {
	meta := Metadata{
		ID:         id,
		Documents:  append([]string(nil), documents...),
		Transcript: []conversation.Turn{},
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.writeMetadata(meta); err != nil {
		return Metadata{}, err
	}

	s.mu.Lock()
	s.sessions[id] = meta
	s.mu.Unlock()

	return copyMetadata(meta), nil
}

// Get returns the session metadata, preferring the cache but falling back to
// durable storage so state survives a cache miss.
func (s *Store) Get(id string) (Metadata, error) {
	s.mu.RLock()
	meta, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return copyMetadata(meta), nil
	}

	meta, err := s.readMetadata(id)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	s.sessions[id] = meta
	s.mu.Unlock()
	return copyMetadata(meta), nil
}

// UpdateTranscript overwrites the session's transcript and refreshes its
// activity timestamp, writing durably before touching the cache.
func (s *Store) UpdateTranscript(id string, transcript []conversation.Turn) error {
	s.mu.RLock()
	meta, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		var err error
		if meta, err = s.readMetadata(id); err != nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
	}

	meta.Transcript = append([]conversation.Turn(nil), transcript...)
	meta.UpdatedAt = time.Now().UTC()
	if err := s.writeMetadata(meta); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[id] = meta
	s.mu.Unlock()
	return nil
}

// List returns all sessions ordered by activity timestamp descending, ties
// broken by identifier descending.
func (s *Store) List() []Metadata {
	s.mu.RLock()
	out := make([]Metadata, 0, len(s.sessions))
	for _, meta := range s.sessions {
		out = append(out, copyMetadata(meta))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Delete removes the cache entry and the whole durable session directory,
// index included. Deleting a non-existent session is not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	if err := os.RemoveAll(s.SessionDir(id)); err != nil {
		return fmt.Errorf("removing session directory: %w", err)
	}
	return nil
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.root, id, metadataFile)
}

func (s *Store) readMetadata(id string) (Metadata, error) {
	data, err := os.ReadFile(s.metadataPath(id))
	if err != nil {
		return Metadata{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parsing metadata: %w", err)
	}
	if meta.ID != id {
		return Metadata{}, fmt.Errorf("metadata id %q does not match directory %q", meta.ID, id)
	}
	return meta, nil
}

// writeMetadata persists the record atomically: a concurrent reader observes
// either the previous or the new file, never a truncated one.
func (s *Store) writeMetadata(meta Metadata) error {
	dir := s.SessionDir(meta.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing metadata file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.metadataPath(meta.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming metadata into place: %w", err)
	}
	return nil
}

func copyMetadata(meta Metadata) Metadata {
	out := meta
	out.Documents = append([]string(nil), meta.Documents...)
	out.Transcript = append([]conversation.Turn(nil), meta.Transcript...)
	return out
}
