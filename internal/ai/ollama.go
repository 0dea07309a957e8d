package ai

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
	ollamaDefaultModel = "llama3.1"
)

// OllamaProvider implements ChatProvider against a local Ollama server.
// Ollama has no batch API; scans fall back to the synchronous path.
type OllamaProvider struct {
	cfg    config.ChatConfig
	base   string
	client *http.Client
}

// NewOllama creates an OllamaProvider from cfg.
func NewOllama(cfg config.ChatConfig) *OllamaProvider {
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

func (c *OllamaProvider) CountTokens(text string) int64 { return estimateTokens(text) }

func (c *OllamaProvider) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *OllamaProvider) model() string {
	if c.cfg.Model != "" {
		return c.cfg.Model
	}
	return ollamaDefaultModel
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message         ollamaChatMessage `json:"message"`
	PromptEvalCount int64             `json:"prompt_eval_count"`
	EvalCount       int64             `json:"eval_count"`
	Error           string            `json:"error"`
}

func (c *OllamaProvider) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	payload := ollamaChatRequest{
		Model: c.model(),
		Messages: []ollamaChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshalling Ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating Ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("calling Ollama at %s: %w", c.base, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading Ollama response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("Ollama API error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing Ollama response: %w", err)
	}
	if apiResp.Error != "" {
		return "", Usage{}, fmt.Errorf("Ollama error: %s", apiResp.Error)
	}
	usage := Usage{InputTokens: apiResp.PromptEvalCount, OutputTokens: apiResp.EvalCount}
	return strings.TrimSpace(apiResp.Message.Content), usage, nil
}
