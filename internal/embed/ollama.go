package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

const (
	ollamaDefaultURL   = "http://localhost:11434"
	ollamaDefaultModel = "nomic-embed-text"
)

// OllamaProvider implements Provider against a local Ollama server. No batch
// API exists; callers use the synchronous path.
type OllamaProvider struct {
	cfg    config.EmbeddingConfig
	base   string
	client *http.Client

	dims int
}

// NewOllama creates an OllamaProvider from cfg.
func NewOllama(cfg config.EmbeddingConfig) *OllamaProvider {
	base := strings.TrimSuffix(cfg.OllamaURL, "/")
	if base == "" {
		base = ollamaDefaultURL
	}
	return &OllamaProvider{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *OllamaProvider) Name() string { return "ollama" }

func (c *OllamaProvider) Model() string {
	if c.cfg.Model != "" {
		return c.cfg.Model
	}
	return ollamaDefaultModel
}

// Dimensions reports the vector size of the last embedding call, defaulting
// to nomic-embed-text's 768 before any call has been made.
func (c *OllamaProvider) Dimensions() int {
	if c.dims > 0 {
		return c.dims
	}
	return 768
}

func (c *OllamaProvider) MaxInputTokens() int64 { return 2048 }

func (c *OllamaProvider) CountTokens(text string) int64 { return estimateTokens(text) }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings      [][]float32 `json:"embeddings"`
	PromptEvalCount int64       `json:"prompt_eval_count"`
	Error           string      `json:"error"`
}

func (c *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, int64, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}
	payload := ollamaEmbedRequest{Model: c.Model(), Input: texts}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshalling Ollama embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("creating Ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling Ollama at %s: %w", c.base, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("reading Ollama embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("Ollama embed error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, 0, fmt.Errorf("parsing Ollama embed response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, 0, fmt.Errorf("Ollama embed error: %s", apiResp.Error)
	}
	if len(apiResp.Embeddings) != len(texts) {
		return nil, 0, fmt.Errorf("Ollama returned %d embeddings for %d inputs", len(apiResp.Embeddings), len(texts))
	}
	if len(apiResp.Embeddings) > 0 {
		c.dims = len(apiResp.Embeddings[0])
	}
	return apiResp.Embeddings, apiResp.PromptEvalCount, nil
}
