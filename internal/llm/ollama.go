package llm

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

const (
	DefaultOllamaEndpoint = "http://127.0.0.1:11434/api/generate"
	ollamaContextTokens   = 6144
)

// OllamaClient calls the Ollama /api/generate endpoint without streaming.
type OllamaClient struct {
	endpointURL string
	model       string
	timeout     time.Duration
	client      *http.Client
}

func NewOllamaClient(cfg Config) *OllamaClient {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultOllamaEndpoint
	}
	if !strings.HasSuffix(endpoint, "/api/generate") {
		endpoint += "/api/generate"
	}
	return &OllamaClient{
		endpointURL: endpoint,
		model:       strings.TrimSpace(cfg.Model),
		timeout:     cfg.TotalTimeout,
		client:      newHTTPClient(cfg.ConnectTimeout),
	}
}

func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	if c == nil {
		return "", fmt.Errorf("ollama client is nil")
	}

	payload := ollamaRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		System: strings.TrimSpace(req.System),
		Stream: false,
		Options: ollamaOptions{
			Temperature: 0,
			NumPredict:  req.MaxOutputTokens,
			NumCtx:      ollamaContextTokens,
		},
	}
	if req.JSON {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	callCtx, cancel := callContext(ctx, req.Timeout, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", transportError("send generate request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError("read generate response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload ollamaResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil && strings.TrimSpace(errPayload.Error) != "" {
			return "", protocolError("generate endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(errPayload.Error))
		}
		return "", protocolError("generate endpoint status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", protocolError("decode generate response: %v", err)
	}
	if strings.TrimSpace(parsed.Error) != "" {
		return "", protocolError("generate response error: %s", parsed.Error)
	}
	if !parsed.Done {
		return "", protocolError("generate response incomplete")
	}
	return parsed.Response, nil
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Format  string        `json:"format,omitempty"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}
