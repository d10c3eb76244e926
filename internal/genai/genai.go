// Package genai provides model gateway clients for CoachPipe.
//
// Two backends are available: an OpenAI-compatible chat completions client built on
// openai-go, and a LangChain client (langchaingo) used for Together AI. Both satisfy
// ClientInterface and can capture every prompt/response pair to disk for debugging.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation settings.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
)

// ErrNoChoicesReturned is returned when the backend answers without any choice.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ClientInterface is the text generation capability the flow package depends on.
type ClientInterface interface {
	// GeneratePromptWithContext sends a system prompt and an optional user prompt
	// and returns the generated text.
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// Model returns the model name used for generation.
	Model() string
}

// Opts holds configuration options for the GenAI clients.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
}

// Option defines a configuration option for the GenAI clients.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = &t }
}

// WithDebugMode writes every call to <stateDir>/debug when enabled.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory that holds debug captures.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

func applyOptions(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return cfg
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsService adapts the openai-go chat completions service to chatService.
type completionsService struct {
	svc *openai.ChatCompletionService
}

func (s completionsService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
}

var _ ClientInterface = (*Client)(nil)

// NewClient initializes a new GenAI client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := applyOptions(opts)
	slog.Debug("genai.NewClient: creating client", "model", cfg.Model, "base_url_set", cfg.BaseURL != "", "debug", cfg.DebugMode)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key not set")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return &Client{
		chat:        completionsService{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: *cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// GeneratePromptWithContext generates a response for the provided system and user prompts.
// The user message is omitted when userPrompt is empty.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemPrompt)}
	if userPrompt != "" {
		messages = append(messages, openai.UserMessage(userPrompt))
	}
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	}

	slog.Debug("Client.GeneratePromptWithContext: calling chat completions", "model", c.model, "system_len", len(systemPrompt), "user_len", len(userPrompt))
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("Client.GeneratePromptWithContext: chat completion failed", "model", c.model, "error", err)
		c.writeDebug(debugEntry{Method: "GeneratePromptWithContext", Backend: "openai", SystemPrompt: systemPrompt, UserPrompt: userPrompt, Error: err.Error()})
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("Client.GeneratePromptWithContext: no choices returned", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	c.writeDebug(debugEntry{Method: "GeneratePromptWithContext", Backend: "openai", SystemPrompt: systemPrompt, UserPrompt: userPrompt, Response: content})
	slog.Debug("Client.GeneratePromptWithContext: completion received", "model", c.model, "response_len", len(content))
	return content, nil
}

func (c *Client) writeDebug(e debugEntry) {
	if !c.debugMode {
		return
	}
	e.Model = c.model
	e.Params = map[string]interface{}{"temperature": c.temperature, "max_tokens": c.maxTokens}
	writeDebugEntry(c.stateDir, e)
}

// Supported backend providers.
const (
	ProviderOpenAI   = "openai"
	ProviderTogether = "together"
)

// NewBackend creates the client for the named provider.
func NewBackend(provider string, opts ...Option) (ClientInterface, error) {
	switch provider {
	case "", ProviderOpenAI:
		return NewClient(opts...)
	case ProviderTogether:
		return NewLangChainClient(opts...)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", provider)
	}
}
