package genai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// DefaultTogetherBaseURL is Together AI's OpenAI-compatible endpoint.
const DefaultTogetherBaseURL = "https://api.together.xyz/v1"

// contentGenerator is the subset of llms.Model used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// LangChainClient generates text through a langchaingo chat model.
type LangChainClient struct {
	llm         contentGenerator
	model       string
	temperature float64
	maxTokens   int
	debugMode   bool
	stateDir    string
}

var _ ClientInterface = (*LangChainClient)(nil)

// NewLangChainClient creates a client for an OpenAI-compatible provider through
// langchaingo. The base URL defaults to Together AI.
func NewLangChainClient(opts ...Option) (*LangChainClient, error) {
	cfg := applyOptions(opts)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTogetherBaseURL
	}
	slog.Debug("genai.NewLangChainClient: creating client", "model", cfg.Model, "base_url", cfg.BaseURL, "debug", cfg.DebugMode)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not set")
	}

	llm, err := lcopenai.New(
		lcopenai.WithBaseURL(cfg.BaseURL),
		lcopenai.WithModel(cfg.Model),
		lcopenai.WithToken(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain model: %w", err)
	}
	return &LangChainClient{
		llm:         llm,
		model:       cfg.Model,
		temperature: *cfg.Temperature,
		maxTokens:   int(cfg.MaxTokens),
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Model returns the configured model name.
func (c *LangChainClient) Model() string {
	return c.model
}

// GeneratePromptWithContext generates a response for the provided system and user prompts.
func (c *LangChainClient) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{{
		Role:  schema.ChatMessageTypeSystem,
		Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
	}}
	if userPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  schema.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextContent{Text: userPrompt}},
		})
	}

	slog.Debug("LangChainClient.GeneratePromptWithContext: calling model", "model", c.model, "system_len", len(systemPrompt))
	resp, err := c.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(c.temperature),
		llms.WithMaxTokens(c.maxTokens),
	)
	if err != nil {
		slog.Error("LangChainClient.GeneratePromptWithContext: generation failed", "model", c.model, "error", err)
		c.writeDebug(debugEntry{Method: "GeneratePromptWithContext", SystemPrompt: systemPrompt, UserPrompt: userPrompt, Error: err.Error()})
		return "", fmt.Errorf("langchain generation failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		slog.Error("LangChainClient.GeneratePromptWithContext: no choices returned", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Content
	c.writeDebug(debugEntry{Method: "GeneratePromptWithContext", SystemPrompt: systemPrompt, UserPrompt: userPrompt, Response: content})
	return content, nil
}

func (c *LangChainClient) writeDebug(e debugEntry) {
	if !c.debugMode {
		return
	}
	e.Backend = "langchain"
	e.Model = c.model
	e.Params = map[string]interface{}{"temperature": c.temperature, "max_tokens": c.maxTokens}
	writeDebugEntry(c.stateDir, e)
}
