package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

const (
	openAIBaseURL      = "https://api.openai.com"
	openAIDefaultModel = "gpt-4o-mini"
	openAIPollInterval = 10 * time.Second
)

// OpenAIProvider implements ChatProvider and BatchChatProvider using the
// OpenAI REST API. Batches go through the Files + Batches endpoints: upload a
// JSONL file of requests, create a batch over it, poll, download the output
// file.
type OpenAIProvider struct {
	cfg    config.ChatConfig
	base   string
	client *http.Client
}

// NewOpenAI creates an OpenAIProvider from cfg.
func NewOpenAI(cfg config.ChatConfig) *OpenAIProvider {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = openAIBaseURL
	}
	return &OpenAIProvider{
		cfg:    cfg,
		base:   base,
		client: &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *OpenAIProvider) Name() string { return "openai" }

func (c *OpenAIProvider) CountTokens(text string) int64 { return estimateTokens(text) }

func (c *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	if c.cfg.OpenAIKey == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *OpenAIProvider) model() string {
	if c.cfg.Model != "" {
		return c.cfg.Model
	}
	return openAIDefaultModel
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIProvider) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	payload := openAIChatRequest{
		Model: c.model(),
		Messages: []openAIChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, fmt.Errorf("marshalling OpenAI request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("creating OpenAI request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)
	req.Header.Set("Content-Type", "application/json")

	var apiResp openAIChatResponse
	if err := c.doJSON(req, &apiResp); err != nil {
		return "", Usage{}, fmt.Errorf("calling OpenAI API: %w", err)
	}
	if apiResp.Error != nil {
		return "", Usage{}, fmt.Errorf("OpenAI error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("OpenAI returned no choices")
	}
	usage := Usage{InputTokens: apiResp.Usage.PromptTokens, OutputTokens: apiResp.Usage.CompletionTokens}
	return strings.TrimSpace(apiResp.Choices[0].Message.Content), usage, nil
}

// --- Batches ---

type openAIBatchLine struct {
	CustomID string            `json:"custom_id"`
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	Body     openAIChatRequest `json:"body"`
}

type openAIBatchStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
	Errors       *struct {
		Data []struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"errors"`
}

type openAIBatchResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                `json:"status_code"`
		Body       openAIChatResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ChatBatch uploads items as a JSONL batch file, creates a batch, polls until
// it completes and downloads the results.
func (c *OpenAIProvider) ChatBatch(ctx context.Context, items []BatchItem, opts BatchOptions) ([]BatchResult, error) {
	batchID := opts.ExistingBatchID
	if batchID == "" {
		fileID, err := c.uploadBatchFile(ctx, items)
		if err != nil {
			return nil, err
		}
		batchID, err = c.createBatch(ctx, fileID)
		if err != nil {
			return nil, err
		}
		if opts.OnCreated != nil {
			opts.OnCreated(batchID)
		}
		slog.Info("Submitted OpenAI batch", "batch", batchID, "items", len(items))
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = openAIPollInterval
	}
	poller := newBatchPoller(interval, batchPollMax, chatBatchDeadline)

	for {
		status, err := c.batchStatus(ctx, batchID)
		if err != nil {
			return nil, err
		}
		switch status.Status {
		case "completed":
			return c.batchResults(ctx, status.OutputFileID)
		case "failed", "expired", "cancelled":
			msg := status.Status
			if status.Errors != nil && len(status.Errors.Data) > 0 {
				msg = status.Errors.Data[0].Message
			}
			return nil, fmt.Errorf("OpenAI batch %s failed: %s", batchID, msg)
		}
		if err := poller.Wait(ctx, batchID); err != nil {
			return nil, err
		}
	}
}

func (c *OpenAIProvider) uploadBatchFile(ctx context.Context, items []BatchItem) (string, error) {
	var jsonl bytes.Buffer
	for _, item := range items {
		line := openAIBatchLine{
			CustomID: item.ID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: openAIChatRequest{
				Model: c.model(),
				Messages: []openAIChatMessage{
					{Role: "system", Content: item.System},
					{Role: "user", Content: item.User},
				},
			},
		}
		data, err := json.Marshal(line)
		if err != nil {
			return "", fmt.Errorf("marshalling batch line %s: %w", item.ID, err)
		}
		jsonl.Write(data)
		jsonl.WriteByte('\n')
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("writing batch file form: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "batch.jsonl")
	if err != nil {
		return "", fmt.Errorf("writing batch file form: %w", err)
	}
	if _, err := fw.Write(jsonl.Bytes()); err != nil {
		return "", fmt.Errorf("writing batch file form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing batch file form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/files", &body)
	if err != nil {
		return "", fmt.Errorf("creating file upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(req, &uploaded); err != nil {
		return "", fmt.Errorf("uploading OpenAI batch file: %w", err)
	}
	return uploaded.ID, nil
}

func (c *OpenAIProvider) createBatch(ctx context.Context, fileID string) (string, error) {
	payload := map[string]string{
		"input_file_id":     fileID,
		"endpoint":          "/v1/chat/completions",
		"completion_window": "24h",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/batches", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating batch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)
	req.Header.Set("Content-Type", "application/json")

	var status openAIBatchStatus
	if err := c.doJSON(req, &status); err != nil {
		return "", fmt.Errorf("creating OpenAI batch: %w", err)
	}
	return status.ID, nil
}

func (c *OpenAIProvider) batchStatus(ctx context.Context, batchID string) (*openAIBatchStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/batches/"+batchID, nil)
	if err != nil {
		return nil, fmt.Errorf("creating batch status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)

	var status openAIBatchStatus
	if err := c.doJSON(req, &status); err != nil {
		return nil, fmt.Errorf("polling OpenAI batch %s: %w", batchID, err)
	}
	return &status, nil
}

func (c *OpenAIProvider) batchResults(ctx context.Context, fileID string) ([]BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, fmt.Errorf("creating batch results request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching OpenAI batch results: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenAI batch results error %d: %s", resp.StatusCode, string(body))
	}

	var out []BatchResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rl openAIBatchResultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			return nil, fmt.Errorf("parsing OpenAI batch result line: %w", err)
		}
		res := BatchResult{ID: rl.CustomID}
		switch {
		case rl.Error != nil:
			res.Err = rl.Error.Message
		case rl.Response == nil || len(rl.Response.Body.Choices) == 0:
			res.Err = "empty batch response"
		default:
			res.Content = strings.TrimSpace(rl.Response.Body.Choices[0].Message.Content)
			res.Usage = Usage{
				InputTokens:  rl.Response.Body.Usage.PromptTokens,
				OutputTokens: rl.Response.Body.Usage.CompletionTokens,
			}
		}
		out = append(out, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading OpenAI batch results: %w", err)
	}
	return out, nil
}

func (c *OpenAIProvider) doJSON(req *http.Request, dest any) error {
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
