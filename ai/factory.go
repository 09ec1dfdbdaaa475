package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// Settings selects and configures an upstream provider
type Settings struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
}

// ErrMissingAPIKey is returned when a networked provider has no credentials
var ErrMissingAPIKey = errors.New("upstream API key is required")

// NewCompleter builds the Completer named by s.Provider
func NewCompleter(s Settings) (Completer, error) {
	switch s.Provider {
	case ProviderOpenAI, "":
		if s.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", ProviderOpenAI, ErrMissingAPIKey)
		}
		return NewOpenAIClient(s.APIKey, s.Model, s.BaseURL, s.MaxTokens, s.HTTPClient), nil
	case ProviderHuggingFace:
		if s.APIKey == "" {
			return nil, fmt.Errorf("%s: %w", ProviderHuggingFace, ErrMissingAPIKey)
		}
		return NewHuggingFaceClient(s.APIKey, s.Model, s.BaseURL, s.MaxTokens, s.HTTPClient), nil
	case ProviderCanned:
		return NewCannedClient(nil), nil
	default:
		return nil, fmt.Errorf("unknown upstream provider %q", s.Provider)
	}
}
