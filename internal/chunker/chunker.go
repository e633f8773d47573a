package chunker

import (
	"errors"
	"strings"
)

// ErrInvalidConfig is returned when the chunk parameters cannot produce
// forward progress (overlap >= size, or non-positive size).
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Chunker splits document text into overlapping, bounded-size word windows.
// It is purely functional: no external calls, deterministic for a given input.
type Chunker struct {
	size    int
	overlap int
}

// New creates a Chunker producing chunks of at most size words, with
// consecutive chunks sharing overlap trailing words.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, ErrInvalidConfig
	}
	if overlap < 0 || overlap >= size {
		return nil, ErrInvalidConfig
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split chunks the given text. Empty or whitespace-only input yields no
// chunks. The chunks cover the whole input in order; each chunk except
// possibly the last holds exactly size words, and each chunk after the first
// starts with the previous chunk's overlap trailing words.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; ; start += step {
		end := start + c.size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
