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

const DefaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIClient calls an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	endpointURL string
	model       string
	apiKey      string
	timeout     time.Duration
	client      *http.Client
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultOpenAIEndpoint
	}
	return &OpenAIClient{
		endpointURL: chatCompletionsURL(endpoint),
		model:       strings.TrimSpace(cfg.Model),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		timeout:     cfg.TotalTimeout,
		client:      newHTTPClient(cfg.ConnectTimeout),
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	if c == nil {
		return "", fmt.Errorf("openai client is nil")
	}

	messages := make([]chatMessage, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0,
	}
	if req.MaxOutputTokens > 0 {
		payload.MaxTokens = req.MaxOutputTokens
	}
	if req.JSON {
		payload.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	callCtx, cancel := callContext(ctx, req.Timeout, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", transportError("send chat request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", transportError("read chat response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload chatErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return "", protocolError("chat endpoint status %d: %s", resp.StatusCode, msg)
			}
		}
		return "", protocolError("chat endpoint status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", protocolError("decode chat response: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return "", protocolError("chat response missing choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	MaxTokens      int                 `json:"max_tokens,omitempty"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func chatCompletionsURL(endpoint string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if strings.HasSuffix(trimmed, "/chat/completions") {
		return trimmed
	}
	return trimmed + "/chat/completions"
}
