package llm

import (
	"context"
)

// Provider produces chat completions for deployed assistants.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a finished model response with token accounting.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}
