package llm

import (
	"context"
	"errors"
)

// ErrUnavailable marks a transient provider failure (transport, auth,
// quota, empty completion). The orchestrator treats it as a signal to
// try the next provider in the fallback chain.
var ErrUnavailable = errors.New("provider unavailable")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client generates a reply from a conversation context.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}
