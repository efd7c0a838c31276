package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/tavern-chatter/backend/internal/service/ai"
)

// Supported generation backends.
const (
	ProviderNone      = "none"
	ProviderArk       = "ark"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider       string
	Model          string
	APIKey         string
	AccessKey      string
	SecretKey      string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	ReplyMaxTokens int
	Timeout        time.Duration
}

// Enabled 表示是否配置了可用的生成后端。
func (c AIConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != ProviderNone
}

// Options returns the decoding options for multi-party conversations.
func (c AIConfig) Options() ai.Options {
	opts := ai.Options{
		Temperature: c.Temperature,
		MaxTokens:   800,
		Timeout:     c.Timeout,
	}
	if c.MaxTokens != nil {
		opts.MaxTokens = *c.MaxTokens
	}
	return opts
}

// ReplyOptions returns the decoding options for single replies.
func (c AIConfig) ReplyOptions() ai.Options {
	opts := c.Options()
	opts.MaxTokens = c.ReplyMaxTokens
	return opts
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// NewGenerator 根据 Provider 创建生成后端。
func (c AIConfig) NewGenerator(ctx context.Context) (ai.Generator, error) {
	switch c.Provider {
	case ProviderArk:
		chatModel, err := c.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return ai.NewChainGenerator(ctx, ProviderArk, chatModel, c.Timeout)
	case ProviderOpenAI:
		return ai.NewOpenAIGenerator(c.APIKey, c.BaseURL, c.Model, c.Timeout), nil
	case ProviderAnthropic:
		return ai.NewAnthropicGenerator(c.APIKey, c.BaseURL, c.Model, c.Timeout), nil
	case ProviderNone, "":
		return ai.Disabled{Reason: "LLM_PROVIDER not configured"}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		// 兼容旧的 Ark 变量名
		if temperature, err = parseOptionalFloatEnv("ARK_TEMPERATURE"); err != nil {
			return AIConfig{}, err
		}
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	replyMaxTokens, err := parseIntEnv("AI_REPLY_MAX_TOKENS", 300)
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 30*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	modelName := getEnvOrDefault("LLM_MODEL", strings.TrimSpace(os.Getenv("Model")))

	cfg := AIConfig{
		Provider:       strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))),
		Model:          modelName,
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		ReplyMaxTokens: replyMaxTokens,
		Timeout:        timeout,
	}

	arkKey := strings.TrimSpace(os.Getenv("ARK_API_KEY"))
	arkAK := strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY"))
	arkSK := strings.TrimSpace(os.Getenv("ARK_SECRET_KEY"))

	if cfg.Provider == "" {
		if cfg.Model != "" && (arkKey != "" || (arkAK != "" && arkSK != "")) {
			cfg.Provider = ProviderArk
		} else {
			cfg.Provider = ProviderNone
		}
	}

	switch cfg.Provider {
	case ProviderArk:
		cfg.APIKey = arkKey
		cfg.AccessKey = arkAK
		cfg.SecretKey = arkSK
		cfg.BaseURL = getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
		cfg.Region = getEnvOrDefault("ARK_REGION", "cn-beijing")
		if cfg.Model == "" || (cfg.APIKey == "" && (cfg.AccessKey == "" || cfg.SecretKey == "")) {
			return AIConfig{}, fmt.Errorf("LLM_PROVIDER=ark requires LLM_MODEL and ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
		}
	case ProviderOpenAI:
		cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		cfg.BaseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		if cfg.Model == "" {
			cfg.Model = "gpt-4o-mini"
		}
		// 自建兼容端点（如 Ollama）可以不带密钥
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return AIConfig{}, fmt.Errorf("LLM_PROVIDER=openai requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
	case ProviderAnthropic:
		cfg.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
		cfg.BaseURL = strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL"))
		if cfg.Model == "" {
			cfg.Model = "claude-3-5-haiku-latest"
		}
		if cfg.APIKey == "" {
			return AIConfig{}, fmt.Errorf("LLM_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
	case ProviderNone:
	default:
		return AIConfig{}, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.Provider)
	}

	return cfg, nil
}
