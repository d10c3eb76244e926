package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func TestGeneratePrompt_Success(t *testing.T) {
	// Prepare a mock response with one choice
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Hello World"}},
		},
	}
	mock := &mockChatService{resp: mockResp}
	client := &Client{chat: mock, model: "test-model", temperature: 0.2, maxTokens: 50}
	out, err := client.GeneratePromptWithContext(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params.Messages))
	}
	if string(mock.params.Model) != "test-model" {
		t.Errorf("expected model test-model, got %s", mock.params.Model)
	}
}

func TestGeneratePrompt_SystemOnly(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "ok"}},
		},
	}
	mock := &mockChatService{resp: mockResp}
	client := &Client{chat: mock, model: "m"}
	if _, err := client.GeneratePromptWithContext(context.Background(), "only system", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.params.Messages) != 1 {
		t.Errorf("expected a single system message, got %d", len(mock.params.Messages))
	}
}

func TestGeneratePrompt_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePrompt_NoChoices(t *testing.T) {
	// Empty choices slice
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if err != ErrNoChoicesReturned {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("custom"), WithTemperature(0), WithBaseURL("http://localhost:9999/v1"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.Model() != "custom" {
		t.Errorf("expected model custom, got %s", cli.Model())
	}
	if cli.temperature != 0 {
		t.Errorf("expected explicit zero temperature to be kept, got %v", cli.temperature)
	}
	if cli.maxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", cli.maxTokens)
	}
}

func TestNewBackend(t *testing.T) {
	if _, err := NewBackend("bogus", WithAPIKey("k")); err == nil {
		t.Error("expected error for unknown provider")
	}
	b, err := NewBackend(ProviderOpenAI, WithAPIKey("k"))
	if err != nil {
		t.Fatalf("openai backend failed: %v", err)
	}
	if _, ok := b.(*Client); !ok {
		t.Errorf("expected *Client, got %T", b)
	}
	b, err = NewBackend(ProviderTogether, WithAPIKey("k"), WithModel("meta-llama/Llama-3.3-70B-Instruct-Turbo"))
	if err != nil {
		t.Fatalf("together backend failed: %v", err)
	}
	if _, ok := b.(*LangChainClient); !ok {
		t.Errorf("expected *LangChainClient, got %T", b)
	}
}

// mockContentGenerator implements contentGenerator for testing.
type mockContentGenerator struct {
	resp     *llms.ContentResponse
	err      error
	messages []llms.MessageContent
}

func (m *mockContentGenerator) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	return m.resp, m.err
}

func TestLangChainClient_Success(t *testing.T) {
	mock := &mockContentGenerator{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "DECISION: 1"}}}}
	client := &LangChainClient{llm: mock, model: "m", temperature: 0.1, maxTokens: 10}
	out, err := client.GeneratePromptWithContext(context.Background(), "sys", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "DECISION: 1" {
		t.Errorf("unexpected output %q", out)
	}
	if len(mock.messages) != 1 || mock.messages[0].Role != schema.ChatMessageTypeSystem {
		t.Errorf("expected one system message, got %+v", mock.messages)
	}
}

func TestLangChainClient_Errors(t *testing.T) {
	client := &LangChainClient{llm: &mockContentGenerator{err: errors.New("upstream down")}}
	if _, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr"); err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("expected upstream error, got %v", err)
	}
	client = &LangChainClient{llm: &mockContentGenerator{resp: &llms.ContentResponse{}}}
	if _, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr"); err != ErrNoChoicesReturned {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}
}
