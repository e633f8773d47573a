package gateway

import "context"

// Message is one prior conversation turn passed to the generation gateway.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder maps text to a fixed-length vector. Remote, fallible, rate-limited;
// callers classify failures into their own error taxonomy.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces an answer from retrieved context, prior turns, and the
// new question.
type Generator interface {
	Generate(ctx context.Context, contextBlock string, history []Message, question string) (string, error)
}
