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
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIGenerator talks to any OpenAI-compatible /chat/completions endpoint
// (OpenAI, Venice, Ollama's compatibility layer).
type OpenAIGenerator struct {
	apiKey     string
	baseURL    string
	modelName  string
	timeout    time.Duration
	httpClient *http.Client
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIChatResponse struct {
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIGenerator creates an OpenAI-compatible generator. An empty baseURL
// targets api.openai.com.
func NewOpenAIGenerator(apiKey, baseURL, modelName string, timeout time.Duration) *OpenAIGenerator {
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIGenerator{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		modelName:  modelName,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (o *OpenAIGenerator) Name() string {
	return "openai"
}

func (o *OpenAIGenerator) Complete(ctx context.Context, instruction string, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts, o.timeout)
	defer cancel()

	modelName := o.modelName
	if opts.Model != "" {
		modelName = opts.Model
	}

	reqBody, err := json.Marshal(openAIChatRequest{
		Model:       modelName,
		Messages:    []openAIMessage{{Role: "user", Content: instruction}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", rejected(o.Name(), fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", classify(ctx, o.Name(), fmt.Errorf("failed to create request: %w", err), TransportFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", classify(ctx, o.Name(), fmt.Errorf("failed to make request: %w", err), TransportFailure)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(ctx, o.Name(), fmt.Errorf("failed to read response body: %w", err), TransportFailure)
	}

	if resp.StatusCode != http.StatusOK {
		return "", rejected(o.Name(), fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(body), 512)))
	}

	var chatResp openAIChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", rejected(o.Name(), fmt.Errorf("failed to parse response: %w", err))
	}
	if chatResp.Error != nil {
		return "", rejected(o.Name(), fmt.Errorf("API error: %s", chatResp.Error.Message))
	}
	if len(chatResp.Choices) == 0 {
		return "", nil
	}

	return chatResp.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
