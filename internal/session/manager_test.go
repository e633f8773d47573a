package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/indranilweb/ai-document-assistant/internal/chunker"
	"github.com/indranilweb/ai-document-assistant/internal/conversation"
	"github.com/indranilweb/ai-document-assistant/internal/extract"
	"github.com/indranilweb/ai-document-assistant/internal/gateway"
	"github.com/indranilweb/ai-document-assistant/internal/storage"
)

// fakeEmbedder produces keyword-keyed vectors so retrieval is predictable.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	lower := strings.ToLower(text)
	vec := []float32{0.01, 0.01}
	if strings.Contains(lower, "paris") || strings.Contains(lower, "france") {
		vec[0] = 1
	}
	if strings.Contains(lower, "tokyo") || strings.Contains(lower, "japan") {
		vec[1] = 1
	}
	return vec, nil
}

// fakeGenerator answers by question keyword and records the last context block.
type fakeGenerator struct {
	mu          sync.Mutex
	err         error
	lastContext string
	calls       int
}

func (f *fakeGenerator) Generate(_ context.Context, contextBlock string, _ []gateway.Message, question string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastContext = contextBlock
	if f.err != nil {
		return "", f.err
	}
	lower := strings.ToLower(question)
	switch {
	case strings.Contains(lower, "france"):
		return "The capital of France is Paris.", nil
	case strings.Contains(lower, "japan"):
		return "The capital of Japan is Tokyo.", nil
	default:
		return "The documents do not say.", nil
	}
}

func testFiles() []extract.File {
	return []extract.File{
		{Name: "doc-a.txt", Data: []byte("Paris is the capital of France.")},
		{Name: "doc-b.txt", Data: []byte("Tokyo is the capital of Japan.")},
	}
}

func newTestManager(t *testing.T, dir string, gen *fakeGenerator) *Manager {
	t.Helper()
	store := newTestStore(t, dir)
	split, err := chunker.New(6, 2)
	if err != nil {
		t.Fatalf("chunker.New failed: %v", err)
	}
	return NewManager(store, &fakeEmbedder{}, gen, split, 4, nil)
}

func TestCreateSession(t *testing.T) {
	m := newTestManager(t, t.TempDir(), &fakeGenerator{})

	meta, err := m.CreateSession(context.Background(), testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if meta.ID == "" {
		t.Fatal("session has no id")
	}
	if len(meta.Transcript) != 0 {
		t.Errorf("new session transcript = %d turns, want 0", len(meta.Transcript))
	}

	got, state, err := m.Get(meta.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state != StateCold {
		t.Errorf("hydration state after create = %q, want %q", state, StateCold)
	}
	if len(got.Documents) != 2 || got.Documents[0] != "doc-a.txt" || got.Documents[1] != "doc-b.txt" {
		t.Errorf("Documents = %v", got.Documents)
	}
}

func TestCreateSession_FreshIdentifiers(t *testing.T) {
	m := newTestManager(t, t.TempDir(), &fakeGenerator{})
	a, err := m.CreateSession(context.Background(), testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	b, err := m.CreateSession(context.Background(), testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if a.ID == b.ID {
		t.Errorf("both sessions got id %q", a.ID)
	}
}

func TestCreateSession_EmptyContent(t *testing.T) {
	m := newTestManager(t, t.TempDir(), &fakeGenerator{})
	ctx := context.Background()

	if _, err := m.CreateSession(ctx, nil); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("no files: error = %v, want ErrEmptyContent", err)
	}

	unsupported := []extract.File{{Name: "image.png", Data: []byte{1, 2, 3}}}
	if _, err := m.CreateSession(ctx, unsupported); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("unsupported only: error = %v, want ErrEmptyContent", err)
	}

	blank := []extract.File{{Name: "empty.txt", Data: []byte("   ")}}
	if _, err := m.CreateSession(ctx, blank); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("blank only: error = %v, want ErrEmptyContent", err)
	}

	if got := m.List(); len(got) != 0 {
		t.Errorf("failed creates left %d sessions behind", len(got))
	}
}

func TestCreateSession_SkipsUnreadableFiles(t *testing.T) {
	m := newTestManager(t, t.TempDir(), &fakeGenerator{})
	files := append(testFiles(), extract.File{Name: "image.png", Data: []byte{1}})

	meta, err := m.CreateSession(context.Background(), files)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if len(meta.Documents) != 2 {
		t.Errorf("Documents = %v, want the two readable files", meta.Documents)
	}
}

func TestCreateSession_EmbedderFailure(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	split, _ := chunker.New(6, 2)
	m := NewManager(store, &fakeEmbedder{err: errors.New("gateway down")}, &fakeGenerator{}, split, 4, nil)

	_, err := m.CreateSession(context.Background(), testFiles())
	if err == nil {
		t.Fatal("expected error when embedding gateway is down")
	}
	if got := m.List(); len(got) != 0 {
		t.Errorf("failed create left %d sessions behind", len(got))
	}
}

// TestChat_Scenario follows the two-document capital-cities exchange: each
// chat appends exactly one user/assistant pair and prior turns are untouched.
func TestChat_Scenario(t *testing.T) {
	gen := &fakeGenerator{}
	m := newTestManager(t, t.TempDir(), gen)
	ctx := context.Background()

	meta, err := m.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	answer, transcript, err := m.Chat(ctx, meta.ID, "What is the capital of France?")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if !strings.Contains(answer, "Paris") {
		t.Errorf("answer = %q, want it to contain Paris", answer)
	}
	if len(transcript) != 2 {
		t.Fatalf("len(transcript) = %d, want 2", len(transcript))
	}
	if !strings.Contains(gen.lastContext, "Paris") {
		t.Errorf("context block %q does not carry retrieved document text", gen.lastContext)
	}

	answer, transcript, err = m.Chat(ctx, meta.ID, "And Japan?")
	if err != nil {
		t.Fatalf("follow-up Chat failed: %v", err)
	}
	if !strings.Contains(answer, "Tokyo") {
		t.Errorf("answer = %q, want it to contain Tokyo", answer)
	}
	if len(transcript) != 4 {
		t.Fatalf("len(transcript) = %d, want 4", len(transcript))
	}
	if transcript[0].Content != "What is the capital of France?" {
		t.Errorf("first turn changed: %q", transcript[0].Content)
	}
	for i, turn := range transcript {
		want := conversation.RoleUser
		if i%2 == 1 {
			want = conversation.RoleAssistant
		}
		if turn.Role != want {
			t.Errorf("turn %d role = %q, want %q", i, turn.Role, want)
		}
	}

	if _, state, _ := m.Get(meta.ID); state != StateWarm {
		t.Errorf("hydration state after chat = %q, want %q", state, StateWarm)
	}
}

func TestChat_Validation(t *testing.T) {
	m := newTestManager(t, t.TempDir(), &fakeGenerator{})
	ctx := context.Background()

	if _, _, err := m.Chat(ctx, "unknown", "hello"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: error = %v, want ErrSessionNotFound", err)
	}
	meta, err := m.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, _, err := m.Chat(ctx, meta.ID, "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("blank question: error = %v, want ErrEmptyQuestion", err)
	}
}

// TestChat_SurvivesRestart rebuilds the manager over the same data directory
// and checks the conversation continues from the stored transcript.
func TestChat_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{}
	ctx := context.Background()

	m1 := newTestManager(t, dir, gen)
	meta, err := m1.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, _, err := m1.Chat(ctx, meta.ID, "What is the capital of France?"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	m2 := newTestManager(t, dir, gen)
	if _, state, err := m2.Get(meta.ID); err != nil || state != StateCold {
		t.Fatalf("after restart: state = %q err = %v, want cold and nil", state, err)
	}

	_, transcript, err := m2.Chat(ctx, meta.ID, "And Japan?")
	if err != nil {
		t.Fatalf("Chat after restart failed: %v", err)
	}
	if len(transcript) != 4 {
		t.Fatalf("len(transcript) = %d, want 4 (prior turns preserved)", len(transcript))
	}
	if transcript[0].Content != "What is the capital of France?" {
		t.Errorf("prior turn lost: %q", transcript[0].Content)
	}
}

func TestChat_HydrationFailure(t *testing.T) {
	m := newTestManager(t, t.TempDir(), &fakeGenerator{})
	ctx := context.Background()

	meta, err := m.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := os.Remove(m.store.IndexPath(meta.ID)); err != nil {
		t.Fatalf("removing index: %v", err)
	}

	_, _, err = m.Chat(ctx, meta.ID, "What is the capital of France?")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Chat error = %v, want ErrSessionNotFound", err)
	}
	if _, state, _ := m.Get(meta.ID); state != StateCold {
		t.Errorf("state after failed hydration = %q, want %q (no partial engine)", state, StateCold)
	}
}

// TestChat_CorruptTranscriptHydration stores a dangling single-turn
// transcript and checks a later hydration reports the session as not found,
// like any other hydration failure.
func TestChat_CorruptTranscriptHydration(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{}
	ctx := context.Background()

	m1 := newTestManager(t, dir, gen)
	meta, err := m1.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	dangling := []conversation.Turn{{Role: conversation.RoleUser, Content: "no answer yet"}}
	if err := m1.store.UpdateTranscript(meta.ID, dangling); err != nil {
		t.Fatalf("UpdateTranscript failed: %v", err)
	}

	m2 := newTestManager(t, dir, gen)
	_, _, err = m2.Chat(ctx, meta.ID, "What is the capital of France?")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Chat error = %v, want ErrSessionNotFound", err)
	}
	if _, state, _ := m2.Get(meta.ID); state != StateCold {
		t.Errorf("state after failed hydration = %q, want %q", state, StateCold)
	}
}

func TestChat_GenerationFailureLeavesState(t *testing.T) {
	gen := &fakeGenerator{}
	dir := t.TempDir()
	m := newTestManager(t, dir, gen)
	ctx := context.Background()

	meta, err := m.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, _, err := m.Chat(ctx, meta.ID, "What is the capital of France?"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	gen.mu.Lock()
	gen.err = errors.New("upstream 503")
	gen.mu.Unlock()
	_, _, err = m.Chat(ctx, meta.ID, "And Japan?")
	if !errors.Is(err, conversation.ErrGenerationUnavailable) {
		t.Fatalf("Chat error = %v, want ErrGenerationUnavailable", err)
	}

	got, _, err := m.Get(meta.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Transcript) != 2 {
		t.Errorf("transcript after failed chat = %d turns, want 2", len(got.Transcript))
	}
}

func TestChat_ConcurrentSameSession(t *testing.T) {
	gen := &fakeGenerator{}
	m := newTestManager(t, t.TempDir(), gen)
	ctx := context.Background()

	meta, err := m.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = m.Chat(ctx, meta.ID, fmt.Sprintf("question %d about France", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Chat %d failed: %v", i, err)
		}
	}

	got, _, err := m.Get(meta.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Transcript) != 2*n {
		t.Fatalf("transcript = %d turns, want %d (no lost appends)", len(got.Transcript), 2*n)
	}
	if err := conversation.ValidateTranscript(got.Transcript); err != nil {
		t.Errorf("transcript not well-formed after concurrent chats: %v", err)
	}
}

// TestGet_ConcurrentWithHydration polls Get and List while a first chat
// drives the Cold -> Hydrating -> Warm transition. Meaningful under -race.
func TestGet_ConcurrentWithHydration(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{}
	ctx := context.Background()

	m1 := newTestManager(t, dir, gen)
	meta, err := m1.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Fresh manager over the same directory so the chat below hydrates.
	m := newTestManager(t, dir, gen)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				m.Get(meta.ID)
				m.List()
			}
		}
	}()

	if _, _, err := m.Chat(ctx, meta.ID, "What is the capital of France?"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	close(done)
	wg.Wait()

	if _, state, _ := m.Get(meta.ID); state != StateWarm {
		t.Errorf("state after chat = %q, want %q", state, StateWarm)
	}
}

// gateGenerator parks each Generate call until released, exposing the window
// where a chat holds the session lock with generation in flight.
type gateGenerator struct {
	entered  chan struct{}
	released chan struct{}
}

func (g *gateGenerator) Generate(_ context.Context, _ string, _ []gateway.Message, _ string) (string, error) {
	g.entered <- struct{}{}
	<-g.released
	return "an answer", nil
}

func TestDeleteSession(t *testing.T) {
	m := newTestManager(t, t.TempDir(), &fakeGenerator{})
	ctx := context.Background()

	meta, err := m.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, _, err := m.Chat(ctx, meta.ID, "What is the capital of France?"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if err := m.DeleteSession(meta.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, _, err := m.Get(meta.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after delete = %v, want ErrSessionNotFound", err)
	}
	if _, _, err := m.Chat(ctx, meta.ID, "And Japan?"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Chat after delete = %v, want ErrSessionNotFound", err)
	}
	if err := m.DeleteSession(meta.ID); err != nil {
		t.Errorf("second DeleteSession failed: %v", err)
	}
}

// TestDeleteSession_DuringChat deletes a session while a chat is mid
// generation. The delete must wait out the chat; afterwards no trace of the
// session may remain, in particular no directory recreated by the chat's
// transcript write.
func TestDeleteSession_DuringChat(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)
	split, _ := chunker.New(6, 2)
	gen := &gateGenerator{entered: make(chan struct{}), released: make(chan struct{})}
	m := NewManager(store, &fakeEmbedder{}, gen, split, 4, nil)
	ctx := context.Background()

	meta, err := m.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	chatErr := make(chan error, 1)
	go func() {
		_, _, err := m.Chat(ctx, meta.ID, "What is the capital of France?")
		chatErr <- err
	}()
	<-gen.entered // chat holds the session lock, generation in flight

	delErr := make(chan error, 1)
	go func() { delErr <- m.DeleteSession(meta.ID) }()

	close(gen.released)
	if err := <-chatErr; err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if err := <-delErr; err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	if _, err := os.Stat(store.SessionDir(meta.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("session directory still exists after delete: stat err = %v", err)
	}
	if _, _, err := m.Get(meta.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after delete = %v, want ErrSessionNotFound", err)
	}
}

func TestChat_RecordsInteractions(t *testing.T) {
	log, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	store := newTestStore(t, t.TempDir())
	split, _ := chunker.New(6, 2)
	m := NewManager(store, &fakeEmbedder{}, &fakeGenerator{}, split, 4, log)
	ctx := context.Background()

	meta, err := m.CreateSession(ctx, testFiles())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, _, err := m.Chat(ctx, meta.ID, "What is the capital of France?"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	count, err := log.CountInteractions()
	if err != nil {
		t.Fatalf("CountInteractions failed: %v", err)
	}
	if count != 1 {
		t.Errorf("interactions = %d, want 1", count)
	}

	if err := m.DeleteSession(meta.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	count, err = log.CountInteractions()
	if err != nil {
		t.Fatalf("CountInteractions failed: %v", err)
	}
	if count != 0 {
		t.Errorf("interactions after delete = %d, want 0", count)
	}
}
