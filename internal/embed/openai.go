package embed

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
	openAIDefaultModel = "text-embedding-3-small"
	openAIPollInterval = 10 * time.Second
)

// openAIModelDims maps the known embedding models to their vector sizes.
var openAIModelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider implements Provider and BatchProvider over the OpenAI
// embeddings API.
type OpenAIProvider struct {
	cfg    config.EmbeddingConfig
	base   string
	client *http.Client
}

// NewOpenAI creates an OpenAIProvider from cfg.
func NewOpenAI(cfg config.EmbeddingConfig) *OpenAIProvider {
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

func (c *OpenAIProvider) Model() string {
	if c.cfg.Model != "" {
		return c.cfg.Model
	}
	return openAIDefaultModel
}

func (c *OpenAIProvider) Dimensions() int {
	if d, ok := openAIModelDims[c.Model()]; ok {
		return d
	}
	return 1536
}

func (c *OpenAIProvider) MaxInputTokens() int64 { return 8191 }

func (c *OpenAIProvider) CountTokens(text string) int64 { return estimateTokens(text) }

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int64 `json:"prompt_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed embeds texts synchronously. Returns the vectors in input order plus
// the prompt tokens consumed.
func (c *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, int64, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}
	payload := openAIEmbedRequest{Model: c.Model(), Input: texts}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshalling embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("creating embedding request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIKey)
	req.Header.Set("Content-Type", "application/json")

	var apiResp openAIEmbedResponse
	if err := c.doJSON(req, &apiResp); err != nil {
		return nil, 0, fmt.Errorf("calling OpenAI embeddings API: %w", err)
	}
	if apiResp.Error != nil {
		return nil, 0, fmt.Errorf("OpenAI embeddings error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, 0, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(apiResp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, 0, fmt.Errorf("OpenAI embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, apiResp.Usage.PromptTokens, nil
}

// --- Batches ---

type openAIEmbedBatchLine struct {
	CustomID string `json:"custom_id"`
	Method   string `json:"method"`
	URL      string `json:"url"`
	Body     struct {
		Model string `json:"model"`
		Input string `json:"input"`
	} `json:"body"`
}

type openAIBatchStatus struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OutputFileID string `json:"output_file_id"`
	Errors       *struct {
		Data []struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"errors"`
}

type openAIEmbedBatchResultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int                 `json:"status_code"`
		Body       openAIEmbedResponse `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbedBatch submits items through the Batches API against /v1/embeddings and
// polls until completion.
func (c *OpenAIProvider) EmbedBatch(ctx context.Context, items []BatchItem, opts BatchOptions) ([]BatchResult, error) {
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
		slog.Info("Submitted OpenAI embedding batch", "batch", batchID, "items", len(items))
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = openAIPollInterval
	}
	poller := newBatchPoller(interval, batchPollMax, embedBatchDeadline)

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
			return nil, fmt.Errorf("OpenAI embedding batch %s failed: %s", batchID, msg)
		}
		if err := poller.Wait(ctx, batchID); err != nil {
			return nil, err
		}
	}
}

func (c *OpenAIProvider) uploadBatchFile(ctx context.Context, items []BatchItem) (string, error) {
	var jsonl bytes.Buffer
	for _, item := range items {
		var line openAIEmbedBatchLine
		line.CustomID = item.ID
		line.Method = "POST"
		line.URL = "/v1/embeddings"
		line.Body.Model = c.Model()
		line.Body.Input = item.Text
		data, err := json.Marshal(line)
		if err != nil {
			return "", fmt.Errorf("marshalling embed batch line %s: %w", item.ID, err)
		}
		jsonl.Write(data)
		jsonl.WriteByte('\n')
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("writing batch file form: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "embed-batch.jsonl")
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
		return "", fmt.Errorf("uploading embedding batch file: %w", err)
	}
	return uploaded.ID, nil
}

func (c *OpenAIProvider) createBatch(ctx context.Context, fileID string) (string, error) {
	payload := map[string]string{
		"input_file_id":     fileID,
		"endpoint":          "/v1/embeddings",
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
		return "", fmt.Errorf("creating embedding batch: %w", err)
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
		return nil, fmt.Errorf("polling embedding batch %s: %w", batchID, err)
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
		return nil, fmt.Errorf("fetching embedding batch results: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding batch results error %d: %s", resp.StatusCode, string(body))
	}

	var out []BatchResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rl openAIEmbedBatchResultLine
		if err := json.Unmarshal(line, &rl); err != nil {
			return nil, fmt.Errorf("parsing embedding batch result line: %w", err)
		}
		res := BatchResult{ID: rl.CustomID}
		switch {
		case rl.Error != nil:
			res.Err = rl.Error.Message
		case rl.Response == nil || len(rl.Response.Body.Data) == 0:
			res.Err = "empty embedding batch response"
		default:
			res.Vector = rl.Response.Body.Data[0].Embedding
		}
		out = append(out, res)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading embedding batch results: %w", err)
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
