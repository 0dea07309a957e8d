package vector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CosmoTheDev/dupescan-agent/internal/config"
)

const qdrantDefaultURL = "http://localhost:6333"

// QdrantStore implements Store over the Qdrant REST API. Qdrant point ids
// must be integers or UUIDs, so string ids are mapped to deterministic UUIDs
// and the original id is carried in the payload under "_id".
type QdrantStore struct {
	base   string
	apiKey string
	client *http.Client
}

// NewQdrant creates a QdrantStore from cfg.
func NewQdrant(cfg config.VectorConfig) *QdrantStore {
	base := strings.TrimSuffix(cfg.URL, "/")
	if base == "" {
		base = qdrantDefaultURL
	}
	return &QdrantStore{
		base:   base,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// pointUUID derives a stable UUID-shaped id from an arbitrary string id.
func pointUUID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return fmt.Sprintf("%x-%x-%x-%x-%x", sum[0:4], sum[4:6], sum[6:8], sum[8:10], sum[10:16])
}

type qdrantEnvelope struct {
	Status json.RawMessage `json:"status"`
	Result json.RawMessage `json:"result"`
}

func (s *QdrantStore) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshalling qdrant request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		return fmt.Errorf("creating qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling qdrant %s %s: %w", method, path, err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading qdrant response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errQdrantNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant error %d on %s %s: %s", resp.StatusCode, method, path, string(respBody))
	}
	if result == nil {
		return nil
	}
	var env qdrantEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("parsing qdrant response: %w", err)
	}
	if len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, result)
}

var errQdrantNotFound = fmt.Errorf("qdrant: not found")

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	err := s.do(ctx, http.MethodGet, "/collections/"+name, nil, nil)
	if err == nil {
		return nil
	}
	if err != errQdrantNotFound {
		return err
	}
	payload := map[string]any{
		"vectors": map[string]any{"size": dims, "distance": "Cosine"},
	}
	return s.do(ctx, http.MethodPut, "/collections/"+name, payload, nil)
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]map[string]any, 0, len(points))
	for _, p := range points {
		payload := map[string]any{"_id": p.ID}
		for k, v := range p.Payload {
			payload[k] = v
		}
		qpoints = append(qpoints, map[string]any{
			"id":      pointUUID(p.ID),
			"vector":  p.Vector,
			"payload": payload,
		})
	}
	return s.do(ctx, http.MethodPut,
		"/collections/"+collection+"/points?wait=true",
		map[string]any{"points": qpoints}, nil)
}

func qdrantFilter(filter Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{"key": k, "match": map[string]any{"value": v}})
	}
	return map[string]any{"must": must}
}

func (s *QdrantStore) Search(ctx context.Context, collection string, vec []float32, limit int, filter Filter) ([]Match, error) {
	payload := map[string]any{
		"vector":       vec,
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		payload["filter"] = f
	}

	var hits []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	}
	err := s.do(ctx, http.MethodPost,
		"/collections/"+collection+"/points/search", payload, &hits)
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		m := Match{Score: h.Score, Payload: h.Payload}
		if id, ok := h.Payload["_id"].(string); ok {
			m.ID = id
			delete(h.Payload, "_id")
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *QdrantStore) GetVector(ctx context.Context, collection, id string) ([]float32, error) {
	payload := map[string]any{
		"ids":         []string{pointUUID(id)},
		"with_vector": true,
	}
	var points []struct {
		Vector []float32 `json:"vector"`
	}
	err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points", payload, &points)
	if err == errQdrantNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return points[0].Vector, nil
}

func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	f := qdrantFilter(filter)
	if f == nil {
		return fmt.Errorf("refusing to delete without a filter")
	}
	return s.do(ctx, http.MethodPost,
		"/collections/"+collection+"/points/delete?wait=true",
		map[string]any{"filter": f}, nil)
}
