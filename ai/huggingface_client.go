package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

const (
	// ProviderHuggingFace is the provider name reported by HuggingFaceClient
	ProviderHuggingFace = "huggingface"

	defaultHuggingFaceURL = "https://api-inference.huggingface.co"
)

// HuggingFaceClient completes chats with a hosted text-generation model
// through the Hugging Face inference API
type HuggingFaceClient struct {
	client    *resty.Client
	model     string
	maxTokens int
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
	Options    hfOptions    `json:"options"`
}

type hfParameters struct {
	ReturnFullText bool `json:"return_full_text"`
	MaxNewTokens   int  `json:"max_new_tokens,omitempty"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

type hfError struct {
	Error string `json:"error"`
}

// NewHuggingFaceClient creates a client for the given model. An empty
// baseURL targets the public inference API.
func NewHuggingFaceClient(apiKey, model, baseURL string, maxTokens int, httpClient *http.Client) *HuggingFaceClient {
	if baseURL == "" {
		baseURL = defaultHuggingFaceURL
	}

	var client *resty.Client
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	} else {
		client = resty.New()
	}

	client.
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HuggingFaceClient{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *HuggingFaceClient) Provider() string { return ProviderHuggingFace }

func (c *HuggingFaceClient) Model() string { return c.model }

// Complete flattens the history into a single prompt and returns the
// generated continuation
func (c *HuggingFaceClient) Complete(ctx context.Context, history []ChatMessage) (string, error) {
	body := hfRequest{
		Inputs: FormatPrompt(history),
		Parameters: hfParameters{
			ReturnFullText: false,
			MaxNewTokens:   c.maxTokens,
		},
		Options: hfOptions{WaitForModel: true},
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/models/" + c.model)
	if err != nil {
		return "", transport(ProviderHuggingFace, err)
	}

	if resp.IsError() {
		detail := strings.TrimSpace(string(resp.Body()))
		var apiErr hfError
		if json.Unmarshal(resp.Body(), &apiErr) == nil && apiErr.Error != "" {
			detail = apiErr.Error
		}
		return "", &UpstreamError{
			Provider:   ProviderHuggingFace,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode(),
			Detail:     truncate(detail, 500),
		}
	}

	text, err := parseGeneration(resp.Body())
	if err != nil {
		return "", err
	}
	return text, nil
}

// parseGeneration accepts both the list form and the single object form
// the inference API returns
func parseGeneration(raw []byte) (string, error) {
	var list []hfGeneration
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", malformed(ProviderHuggingFace, "response contained no generations")
		}
		return nonEmpty(list[0].GeneratedText)
	}

	var single hfGeneration
	if err := json.Unmarshal(raw, &single); err != nil {
		return "", malformed(ProviderHuggingFace, "response was not valid JSON: "+truncate(string(raw), 200))
	}
	return nonEmpty(single.GeneratedText)
}

func nonEmpty(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", malformed(ProviderHuggingFace, "generated_text was empty")
	}
	return text, nil
}

// FormatPrompt renders a history as a plain transcript that ends with an
// open assistant turn
func FormatPrompt(history []ChatMessage) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case RoleSystem:
			b.WriteString("System: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
