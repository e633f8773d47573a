package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/indranilweb/ai-document-assistant/internal/chunker"
	"github.com/indranilweb/ai-document-assistant/internal/conversation"
	"github.com/indranilweb/ai-document-assistant/internal/extract"
	"github.com/indranilweb/ai-document-assistant/internal/gateway"
	"github.com/indranilweb/ai-document-assistant/internal/index"
)

var (
	// ErrEmptyContent is returned when no text could be extracted from any
	// uploaded file.
	ErrEmptyContent = errors.New("no extractable text in uploaded files")

	// ErrEmptyQuestion is returned for blank chat questions. No state changes.
	ErrEmptyQuestion = errors.New("question must not be empty")
)

// HydrationState tracks whether a session's conversation engine is resident
// in memory.
type HydrationState string

const (
	StateCold      HydrationState = "cold"
	StateHydrating HydrationState = "hydrating"
	StateWarm      HydrationState = "warm"
)

// ChatRecorder receives a best-effort audit record of each successful chat.
// Implemented by storage.Store.
type ChatRecorder interface {
	RecordChat(sessionID, question, answer string, elapsed time.Duration) error
	DeleteSessionInteractions(sessionID string) (int, error)
}

// entry is the in-memory cache slot for one session. Its mutex serializes
// chat calls, hydration, and deletion for that session; different sessions
// are fully independent. The hydration state carries its own lock so
// Get/List can read it without blocking behind an in-flight chat.
type entry struct {
	mu     sync.Mutex
	engine *conversation.Engine

	stateMu sync.Mutex
	state   HydrationState
}

func (e *entry) currentState() HydrationState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

func (e *entry) setState(s HydrationState) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// Manager orchestrates session creation, lazy hydration, chat, listing, and
// deletion over the Store. Safe for concurrent use.
type Manager struct {
	store     *Store
	embedder  gateway.Embedder
	generator gateway.Generator
	splitter  *chunker.Chunker
	topK      int
	recorder  ChatRecorder // optional
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager wires the lifecycle manager. recorder may be nil to disable the
// interaction log.
func NewManager(store *Store, embedder gateway.Embedder, generator gateway.Generator, splitter *chunker.Chunker, topK int, recorder ChatRecorder) *Manager {
	return &Manager{
		store:     store,
		embedder:  embedder,
		generator: generator,
		splitter:  splitter,
		topK:      topK,
		recorder:  recorder,
		logger:    slog.Default(),
		entries:   make(map[string]*entry),
	}
}

// CreateSession extracts text from the uploaded files, builds and persists
// the vector index, and only then creates the session record, so a session
// becomes visible no earlier than its index exists on disk. Files that fail
// extraction are skipped with a warning; the whole request fails with
// ErrEmptyContent only when nothing at all could be extracted.
func (m *Manager) CreateSession(ctx context.Context, files []extract.File) (Metadata, error) {
	if len(files) == 0 {
		return Metadata{}, fmt.Errorf("%w: no files provided", ErrEmptyContent)
	}

	var documents []string
	var combined strings.Builder
	for _, f := range files {
		text, err := extract.Extract(f.Name, f.Data)
		if err != nil {
			m.logger.Warn("skipping file", "file", f.Name, "error", err)
			continue
		}
		documents = append(documents, f.Name)
		combined.WriteString(text)
		combined.WriteString("\n")
	}

	chunks := m.splitter.Split(combined.String())
	if len(chunks) == 0 {
		return Metadata{}, ErrEmptyContent
	}

	id := uuid.New().String()

	ix, err := index.Build(ctx, m.embedder, chunks)
	if err != nil {
		return Metadata{}, err
	}
	if err := ix.Persist(m.store.IndexPath(id)); err != nil {
		m.cleanupOrphan(id)
		return Metadata{}, fmt.Errorf("persisting index: %w", err)
	}

	meta, err := m.store.Create(id, documents)
	if err != nil {
		m.cleanupOrphan(id)
		return Metadata{}, fmt.Errorf("creating session record: %w", err)
	}

	m.logger.Info("session created",
		"session_id", id, "documents", len(documents), "chunks", ix.Len())
	return meta, nil
}

// cleanupOrphan removes a half-created session directory after a failed
// create, leaving no record behind.
func (m *Manager) cleanupOrphan(id string) {
	if err := m.store.Delete(id); err != nil {
		m.logger.Warn("could not clean up partial session", "session_id", id, "error", err)
	}
}

// Chat answers a question within a session, hydrating the conversation
// engine from the persisted index and stored transcript on first use.
// Chats against the same session are serialized; different sessions proceed
// independently.
func (m *Manager) Chat(ctx context.Context, id, question string) (string, []conversation.Turn, error) {
	if strings.TrimSpace(question) == "" {
		return "", nil, ErrEmptyQuestion
	}
	if _, err := m.store.Get(id); err != nil {
		return "", nil, err
	}

	e := m.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-read under the session lock: the session may have been deleted
	// while we waited.
	meta, err := m.store.Get(id)
	if err != nil {
		return "", nil, err
	}

	if e.currentState() != StateWarm {
		if err := m.hydrate(e, meta); err != nil {
			return "", nil, err
		}
	}

	started := time.Now()
	answer, transcript, err := e.engine.Ask(ctx, question)
	if err != nil {
		return "", nil, err
	}

	if err := m.store.UpdateTranscript(id, transcript); err != nil {
		// The engine's in-memory transcript now runs ahead of disk. Discard
		// it so the next chat re-seeds from the last durable state.
		e.engine = nil
		e.setState(StateCold)
		return "", nil, fmt.Errorf("persisting transcript: %w", err)
	}

	if m.recorder != nil {
		if err := m.recorder.RecordChat(id, question, answer, time.Since(started)); err != nil {
			m.logger.Warn("could not record interaction", "session_id", id, "error", err)
		}
	}

	return answer, transcript, nil
}

// hydrate performs the Cold -> Hydrating -> Warm transition under the
// session lock. On failure the entry returns to Cold with no engine cached,
// and the error is reported as session-not-found since the session is
// unusable from the caller's perspective.
func (m *Manager) hydrate(e *entry, meta Metadata) error {
	e.setState(StateHydrating)

	ix, err := index.Load(m.store.IndexPath(meta.ID))
	if err != nil {
		e.setState(StateCold)
		return fmt.Errorf("%w: hydrating %s: %v", ErrSessionNotFound, meta.ID, err)
	}

	engine, err := conversation.New(ix, m.embedder, m.generator, meta.Transcript, m.topK)
	if err != nil {
		e.setState(StateCold)
		return fmt.Errorf("%w: hydrating %s: %v", ErrSessionNotFound, meta.ID, err)
	}

	e.engine = engine
	e.setState(StateWarm)
	m.logger.Debug("session hydrated", "session_id", meta.ID, "chunks", ix.Len())
	return nil
}

// Get returns the session metadata together with its hydration state.
func (m *Manager) Get(id string) (Metadata, HydrationState, error) {
	meta, err := m.store.Get(id)
	if err != nil {
		return Metadata{}, StateCold, err
	}

	state := StateCold
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if ok {
		state = e.currentState()
	}

	return meta, state, nil
}

// List returns all sessions in recency order.
func (m *Manager) List() []Metadata {
	return m.store.List()
}

// DeleteSession discards the cached engine and removes both the durable
// record and the persisted index. All removals are attempted even if one
// fails; success means the session no longer exists. Idempotent.
func (m *Manager) DeleteSession(id string) error {
	// Hold the session lock so deletion cannot interleave with an in-flight
	// chat, whose transcript write would otherwise recreate the session
	// directory just removed.
	e := m.entryFor(id)
	e.mu.Lock()

	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()

	err := m.store.Delete(id)
	e.mu.Unlock()

	if m.recorder != nil {
		if _, pruneErr := m.recorder.DeleteSessionInteractions(id); pruneErr != nil {
			m.logger.Warn("could not prune interactions", "session_id", id, "error", pruneErr)
		}
	}

	return err
}

func (m *Manager) entryFor(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{state: StateCold}
		m.entries[id] = e
	}
	return e
}
