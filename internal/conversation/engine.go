// Package conversation implements the per-session retrieval + generation loop.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/indranilweb/ai-document-assistant/internal/gateway"
	"github.com/indranilweb/ai-document-assistant/internal/index"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

var (
	// ErrGenerationUnavailable is returned when the generation gateway fails.
	// The transcript is not mutated in that case.
	ErrGenerationUnavailable = errors.New("generation gateway unavailable")

	// ErrTranscriptCorrupt is returned when a stored transcript is not a
	// well-formed sequence of user/assistant pairs.
	ErrTranscriptCorrupt = errors.New("stored transcript corrupt")
)

const (
	defaultTopK             = 4
	defaultMaxContextTokens = 4000
)

// Engine answers questions against one session's index, carrying exactly one
// logical transcript. It is not safe for concurrent Ask calls; the lifecycle
// manager serializes access per session.
type Engine struct {
	index      *index.Index
	embedder   gateway.Embedder
	generator  gateway.Generator
	topK       int
	maxContext int
	transcript []Turn
}

// New constructs an Engine over the given index, seeded with the stored
// prior transcript. A malformed prior transcript fails with
// ErrTranscriptCorrupt rather than being silently repaired.
// topK <= 0 selects the default (4).
func New(ix *index.Index, embedder gateway.Embedder, generator gateway.Generator, prior []Turn, topK int) (*Engine, error) {
	if err := ValidateTranscript(prior); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	e := &Engine{
		index:      ix,
		embedder:   embedder,
		generator:  generator,
		topK:       topK,
		maxContext: defaultMaxContextTokens,
		transcript: make([]Turn, len(prior)),
	}
	copy(e.transcript, prior)
	return e, nil
}

// ValidateTranscript checks that turns form complete user/assistant pairs in
// alternating order starting with user.
func ValidateTranscript(turns []Turn) error {
	if len(turns)%2 != 0 {
		return fmt.Errorf("%w: odd turn count %d", ErrTranscriptCorrupt, len(turns))
	}
	for i, turn := range turns {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if turn.Role != want {
			return fmt.Errorf("%w: turn %d has role %q, want %q", ErrTranscriptCorrupt, i, turn.Role, want)
		}
	}
	return nil
}

// Ask retrieves relevant chunks, generates an answer conditioned on them and
// the prior transcript, and appends the exchange as a user/assistant pair.
// The append is all-or-nothing: a failed generation leaves the transcript
// exactly as before. Returns the answer and the full updated transcript.
func (e *Engine) Ask(ctx context.Context, question string) (string, []Turn, error) {
	chunks, err := e.index.Search(ctx, e.embedder, question, e.topK)
	if err != nil {
		return "", nil, fmt.Errorf("retrieving context: %w", err)
	}

	history := make([]gateway.Message, len(e.transcript))
	for i, turn := range e.transcript {
		history[i] = gateway.Message{Role: turn.Role, Content: turn.Content}
	}

	answer, err := e.generator.Generate(ctx, e.buildContext(chunks), history, question)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}

	e.transcript = append(e.transcript,
		Turn{Role: RoleUser, Content: question},
		Turn{Role: RoleAssistant, Content: answer},
	)
	return answer, e.Transcript(), nil
}

// Transcript returns a copy of the current transcript.
func (e *Engine) Transcript() []Turn {
	out := make([]Turn, len(e.transcript))
	copy(out, e.transcript)
	return out
}

const systemPreamble = "You are a document assistant. Answer the question using only the " +
	"provided document excerpts. If the excerpts do not contain the answer, say so."

// buildContext assembles the system context block from retrieved chunks,
// dropping lower-ranked chunks that exceed the token budget.
func (e *Engine) buildContext(chunks []string) string {
	var sb strings.Builder
	sb.WriteString(systemPreamble)

	if len(chunks) == 0 {
		return sb.String()
	}

	header := "\n\n[Document Excerpts]\n"
	remaining := e.maxContext - EstimateTokens(sb.String()) - EstimateTokens(header)

	var selected []string
	for _, ch := range chunks {
		entry := fmt.Sprintf("---\n%s\n", ch)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(header)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}
	return sb.String()
}

// EstimateTokens provides a rough token count using the 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
