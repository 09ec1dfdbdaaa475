package ai

import (
	"context"
	"fmt"
)

// Role identifies the author of a chat message sent upstream
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of the ordered history handed to a provider
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completer produces the assistant reply for an ordered message history.
// The last element of history is the user message being answered.
type Completer interface {
	Complete(ctx context.Context, history []ChatMessage) (string, error)
	Provider() string
	Model() string
}

// ErrorKind classifies a failed upstream call
type ErrorKind string

const (
	// KindStatus means the provider answered with a non-success status
	KindStatus ErrorKind = "status"
	// KindMalformed means the provider answered but the payload had no usable reply
	KindMalformed ErrorKind = "malformed"
	// KindTransport means the request never produced a response
	KindTransport ErrorKind = "transport"
)

// UpstreamError describes a provider failure with enough detail for the
// caller to build a diagnostic response
type UpstreamError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Detail     string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s upstream returned status %d: %s", e.Provider, e.StatusCode, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s upstream %s error: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s upstream %s error: %s", e.Provider, e.Kind, e.Detail)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func malformed(provider, detail string) *UpstreamError {
	return &UpstreamError{Provider: provider, Kind: KindMalformed, Detail: detail}
}

func transport(provider string, err error) *UpstreamError {
	return &UpstreamError{Provider: provider, Kind: KindTransport, Detail: err.Error(), Err: err}
}

// truncate keeps diagnostic bodies readable in logs and responses
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
