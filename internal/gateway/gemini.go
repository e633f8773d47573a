package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client communicates with the Gemini generative-language HTTP API.
// It implements both Embedder and Generator.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	timeout    time.Duration
	httpClient *http.Client
}

var (
	_ Embedder  = (*Client)(nil)
	_ Generator = (*Client)(nil)
)

// NewClient creates a Client for the given API base URL and key.
// timeout bounds each individual API call; pass 0 for the default (30s).
func NewClient(baseURL, apiKey, model, embedModel string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		embedModel: embedModel,
		timeout:    timeout,
		httpClient: &http.Client{
			Timeout: 0, // per-call context timeouts instead
		},
	}
}

type contentPart struct {
	Text string `json:"text"`
}

type content struct {
	Role  string        `json:"role,omitempty"`
	Parts []contentPart `json:"parts"`
}

// embedRequest is the JSON body for POST /models/{model}:embedContent.
type embedRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body := embedRequest{
		Model:   "models/" + c.embedModel,
		Content: content{Parts: []contentPart{{Text: text}}},
	}

	var resp embedResponse
	if err := c.post(ctx, c.embedModel+":embedContent", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedding response contained no values")
	}
	return resp.Embedding.Values, nil
}

// generateRequest is the JSON body for POST /models/{model}:generateContent.
type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate answers the question, conditioning on the retrieved context block
// and the prior conversation turns.
func (c *Client) Generate(ctx context.Context, contextBlock string, history []Message, question string) (string, error) {
	req := generateRequest{
		Contents:         make([]content, 0, len(history)+1),
		GenerationConfig: generationConfig{Temperature: 0.3},
	}
	if contextBlock != "" {
		req.SystemInstruction = &content{Parts: []contentPart{{Text: contextBlock}}}
	}
	for _, m := range history {
		role := m.Role
		// Gemini names the assistant role "model".
		if role == "assistant" {
			role = "model"
		}
		req.Contents = append(req.Contents, content{Role: role, Parts: []contentPart{{Text: m.Content}}})
	}
	req.Contents = append(req.Contents, content{Role: "user", Parts: []contentPart{{Text: question}}})

	var resp generateResponse
	if err := c.post(ctx, c.model+":generateContent", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generation response contained no candidates")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The key goes in a header rather than the URL: transport errors quote
	// the URL verbatim, and those strings end up in logs and error bodies.
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
