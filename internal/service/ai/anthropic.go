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

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"

	DefaultAnthropicMaxTokens = 1024
)

// AnthropicGenerator talks to the Anthropic Messages API.
type AnthropicGenerator struct {
	apiKey     string
	baseURL    string
	modelName  string
	timeout    time.Duration
	httpClient *http.Client
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicGenerator creates an Anthropic generator. An empty baseURL
// targets api.anthropic.com.
func NewAnthropicGenerator(apiKey, baseURL, modelName string, timeout time.Duration) *AnthropicGenerator {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicGenerator{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		modelName:  modelName,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

func (a *AnthropicGenerator) Name() string {
	return "anthropic"
}

func (a *AnthropicGenerator) Complete(ctx context.Context, instruction string, opts Options) (string, error) {
	ctx, cancel := withTimeout(ctx, opts, a.timeout)
	defer cancel()

	modelName := a.modelName
	if opts.Model != "" {
		modelName = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}

	reqBody, err := json.Marshal(anthropicRequest{
		Model:       modelName,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: instruction}},
	})
	if err != nil {
		return "", rejected(a.Name(), fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return "", classify(ctx, a.Name(), fmt.Errorf("failed to create request: %w", err), TransportFailure)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", classify(ctx, a.Name(), fmt.Errorf("failed to make request: %w", err), TransportFailure)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(ctx, a.Name(), fmt.Errorf("failed to read response body: %w", err), TransportFailure)
	}

	if resp.StatusCode != http.StatusOK {
		return "", rejected(a.Name(), fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(body), 512)))
	}

	var msgResp anthropicResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return "", rejected(a.Name(), fmt.Errorf("failed to parse response: %w", err))
	}
	if msgResp.Error != nil {
		return "", rejected(a.Name(), fmt.Errorf("API error: %s", msgResp.Error.Message))
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
