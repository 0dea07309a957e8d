package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

const (
	anthropicBaseURL       = "https://api.anthropic.com"
	anthropicVersionHeader = "2023-06-01"
	anthropicDefaultModel  = "claude-sonnet-4-6"
	anthropicPollInterval  = 10 * time.Second
)

// AnthropicProvider implements ChatProvider and BatchChatProvider using the
// Anthropic REST API (Messages and Message Batches).
type AnthropicProvider struct {
	cfg    config.ChatConfig
	base   string
	client *http.Client
}

// NewAnthropic creates an AnthropicProvider from cfg.
func NewAnthropic(cfg config.ChatConfig) *AnthropicProvider {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = anthropicBaseURL
	}
	return &AnthropicProvider{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *AnthropicProvider) Name() string { return "anthropic" }

func (c *AnthropicProvider) CountTokens(text string) int64 { return estimateTokens(text) }

func (c *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	if c.cfg.AnthropicKey == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/models", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.cfg.AnthropicKey)
	req.Header.Set("anthropic-version", anthropicVersionHeader)
	req.Header.Set("content-type", "application/json")
}

func (c *AnthropicProvider) model() string {
	if c.cfg.Model != "" {
		return c.cfg.Model
	}
	return anthropicDefaultModel
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *AnthropicProvider) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	payload := anthropicRequest{
		Model:     c.model(),
		MaxTokens: 4096,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: user}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshalling Anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating Anthropic request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("calling Anthropic API: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", Usage{}, fmt.Errorf("reading Anthropic response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("Anthropic API error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", Usage{}, fmt.Errorf("parsing Anthropic API response: %w", err)
	}
	if apiResp.Error != nil {
		return "", Usage{}, fmt.Errorf("Anthropic error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", Usage{}, fmt.Errorf("Anthropic returned no content")
	}
	usage := Usage{InputTokens: apiResp.Usage.InputTokens, OutputTokens: apiResp.Usage.OutputTokens}
	return strings.TrimSpace(apiResp.Content[0].Text), usage, nil
}

// --- Message Batches ---

type anthropicBatchRequest struct {
	Requests []anthropicBatchItem `json:"requests"`
}

type anthropicBatchItem struct {
	CustomID string           `json:"custom_id"`
	Params   anthropicRequest `json:"params"`
}

type anthropicBatchStatus struct {
	ID               string `json:"id"`
	ProcessingStatus string `json:"processing_status"`
	ResultsURL       string `json:"results_url"`
	Error            *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicBatchResultLine struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string            `json:"type"`
		Message anthropicResponse `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
}

// ChatBatch submits items through the Message Batches API and polls until the
// batch ends. With opts.ExistingBatchID set, submission is skipped and the
// existing batch is polled instead.
func (c *AnthropicProvider) ChatBatch(ctx context.Context, items []BatchItem, opts BatchOptions) ([]BatchResult, error) {
	batchID := opts.ExistingBatchID
	if batchID == "" {
		id, err := c.submitBatch(ctx, items)
		if err != nil {
			return nil, err
		}
		batchID = id
		if opts.OnCreated != nil {
			opts.OnCreated(batchID)
		}
		slog.Info("Submitted Anthropic message batch", "batch", batchID, "items", len(items))
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = anthropicPollInterval
	}
	poller := newBatchPoller(interval, batchPollMax, chatBatchDeadline)

	for {
		status, err := c.batchStatus(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if status.Error != nil {
			return nil, fmt.Errorf("Anthropic batch %s failed: %s", batchID, status.Error.Message)
		}
		if status.ProcessingStatus == "ended" {
			return c.batchResults(ctx, status.ResultsURL)
		}
		if err := poller.Wait(ctx, batchID); err != nil {
			return nil, err
		}
	}
}

func (c *AnthropicProvider) submitBatch(ctx context.Context, items []BatchItem) (string, error) {
	payload := anthropicBatchRequest{Requests: make([]anthropicBatchItem, 0, len(items))}
	for _, item := range items {
		payload.Requests = append(payload.Requests, anthropicBatchItem{
			CustomID: item.ID,
			Params: anthropicRequest{
				Model:     c.model(),
				MaxTokens: 4096,
				System:    item.System,
				Messages:  []anthropicMessage{{Role: "user", Content: item.User}},
			},
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshalling Anthropic batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/messages/batches", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating Anthropic batch request: %w", err)
	}
	c.setHeaders(req)

	var status anthropicBatchStatus
	if err := c.doJSON(req, &status); err != nil {
		return "", fmt.Errorf("submitting Anthropic batch: %w", err)
	}
	return status.ID, nil
}

func (c *AnthropicProvider) batchStatus(ctx context.Context, batchID string) (*anthropicBatchStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/messages/batches/"+batchID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating batch status request: %w", err)
	}
	c.setHeaders(req)

	var status anthropicBatchStatus
	if err := c.doJSON(req, &status); err != nil {
		return nil, fmt.Errorf("polling Anthropic batch %s: %w", batchID, err)
	}
	return &status, nil
}

func (c *AnthropicProvider) batchResults(ctx context.Context, resultsURL string) ([]BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating batch results request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching Anthropic batch results: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Anthropic batch results error %d: %s", resp.StatusCode, string(body))
	}

	var out []BatchResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rl anthropicBatchResultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			return nil, fmt.Errorf("parsing Anthropic batch result line: %w", err)
		}
		res := BatchResult{ID: rl.CustomID}
		switch {
		case rl.Result.Type == "succeeded" && len(rl.Result.Message.Content) > 0:
			res.Content = strings.TrimSpace(rl.Result.Message.Content[0].Text)
			res.Usage = Usage{
				InputTokens:  rl.Result.Message.Usage.InputTokens,
				OutputTokens: rl.Result.Message.Usage.OutputTokens,
			}
		case rl.Result.Error != nil:
			res.Err = rl.Result.Error.Message
		default:
			res.Err = fmt.Sprintf("batch item %s: %s", rl.CustomID, rl.Result.Type)
		}
		out = append(out, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading Anthropic batch results: %w", err)
	}
	return out, nil
}

func (c *AnthropicProvider) doJSON(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, dest)
}
