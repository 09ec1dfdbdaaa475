package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ProviderOpenAI is the provider name reported by OpenAIClient
const ProviderOpenAI = "openai"

// OpenAIClient completes chats against the OpenAI chat completions API
// or any endpoint that speaks the same protocol
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient creates a client for the given model. An empty baseURL
// keeps the library default; a nil httpClient keeps http.DefaultClient.
func NewOpenAIClient(apiKey, model, baseURL string, maxTokens int, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}

	return &OpenAIClient{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *OpenAIClient) Provider() string { return ProviderOpenAI }

func (c *OpenAIClient) Model() string { return c.model }

// Complete sends the full history and returns the first choice's content
func (c *OpenAIClient) Complete(ctx context.Context, history []ChatMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	}
	if c.maxTokens > 0 {
		req.MaxTokens = c.maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", c.classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", malformed(ProviderOpenAI, "response contained no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", malformed(ProviderOpenAI, "first choice had empty content")
	}

	return content, nil
}

func (c *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{
			Provider:   ProviderOpenAI,
			Kind:       KindStatus,
			StatusCode: apiErr.HTTPStatusCode,
			Detail:     truncate(apiErr.Message, 500),
			Err:        err,
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{
			Provider:   ProviderOpenAI,
			Kind:       KindStatus,
			StatusCode: reqErr.HTTPStatusCode,
			Detail:     truncate(reqErr.Error(), 500),
			Err:        err,
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &UpstreamError{Provider: ProviderOpenAI, Kind: KindMalformed, Detail: err.Error(), Err: err}
	}

	return transport(ProviderOpenAI, err)
}
