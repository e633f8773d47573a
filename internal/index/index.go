// Package index builds, persists, and searches the per-session vector index.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/indranilweb/ai-document-assistant/internal/gateway"
)

var (
	// ErrEmbeddingUnavailable is returned when the embedding gateway fails;
	// no index is constructed or persisted in that case.
	ErrEmbeddingUnavailable = errors.New("embedding gateway unavailable")

	// ErrIndexNotFound is returned by Load when the location does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexCorrupt is returned by Load when the location exists but
	// cannot be parsed into a consistent index.
	ErrIndexCorrupt = errors.New("index corrupt")
)

// embedConcurrency bounds parallel embedding calls during Build.
const embedConcurrency = 4

// entry is one embedded chunk in serialization order.
type entry struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// Index holds the embedded chunks of exactly one session. It is immutable
// after Build or Load: new documents require a new session with a new index.
type Index struct {
	dimension int
	entries   []entry
}

// persisted is the on-disk JSON form of an Index.
type persisted struct {
	Version   int     `json:"version"`
	Dimension int     `json:"dimension"`
	Chunks    []entry `json:"chunks"`
}

const formatVersion = 1

// Build embeds every chunk and returns a searchable index. All embeddings
// succeed or none do: any gateway failure aborts the build with
// ErrEmbeddingUnavailable.
func Build(ctx context.Context, embedder gateway.Embedder, chunks []string) (*Index, error) {
	entries := make([]entry, len(chunks))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, text := range chunks {
		i, text := i, text
		g.Go(func() error {
			vec, err := embedder.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("%w: embedding chunk %d: %v", ErrEmbeddingUnavailable, i, err)
			}
			entries[i] = entry{Text: text, Embedding: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ix := &Index{entries: entries}
	if len(entries) > 0 {
		ix.dimension = len(entries[0].Embedding)
	}
	for i, e := range entries {
		if len(e.Embedding) != ix.dimension {
			return nil, fmt.Errorf("chunk %d embedding has %d dimensions, want %d", i, len(e.Embedding), ix.dimension)
		}
	}
	return ix, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Search embeds the query and returns up to k chunk texts ranked by
// descending cosine similarity. Ties keep original chunk order.
func (ix *Index) Search(ctx context.Context, embedder gateway.Embedder, query string, k int) ([]string, error) {
	if k <= 0 || len(ix.entries) == 0 {
		return nil, nil
	}

	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrEmbeddingUnavailable, err)
	}

	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score float32
	}
	results := make([]scored, len(ix.entries))
	for i, e := range ix.entries {
		results[i] = scored{idx: i, score: cosine(vec, e.Embedding, queryNorm)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if k > len(results) {
		k = len(results)
	}
	texts := make([]string, k)
	for i := 0; i < k; i++ {
		texts[i] = ix.entries[results[i].idx].Text
	}
	return texts, nil
}

// Persist writes the index to path as a single JSON document. The write is
// atomic from a reader's point of view: a temp file is renamed into place.
func (ix *Index) Persist(path string) error {
	doc := persisted{
		Version:   formatVersion,
		Dimension: ix.dimension,
		Chunks:    ix.entries,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*.json")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming index into place: %w", err)
	}
	return nil
}

// Load reads a persisted index. The loaded index is behaviorally equivalent
// to the original for search purposes.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}

	var doc persisted
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("%w: unknown format version %d", ErrIndexCorrupt, doc.Version)
	}
	for i, e := range doc.Chunks {
		if len(e.Embedding) != doc.Dimension {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, want %d", ErrIndexCorrupt, i, len(e.Embedding), doc.Dimension)
		}
	}

	return &Index{dimension: doc.Dimension, entries: doc.Chunks}, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}
