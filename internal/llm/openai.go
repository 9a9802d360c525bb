package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type OpenAIProvider struct {
	client    *resty.Client
	apiKey    string
	apiURL    string
	model     string
	maxTokens int
}

func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		client:    resty.New().SetTimeout(60 * time.Second),
		apiKey:    cfg.APIKey,
		apiURL:    apiURL,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	if p.model == "" {
		return nil, errors.New("openai model is required")
	}

	reqBody := openAIRequest{
		Model:    p.model,
		Messages: messages,
	}
	if p.maxTokens > 0 {
		reqBody.MaxTokens = p.maxTokens
	}

	var result openAIResponse
	req := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&result)
	if p.apiKey != "" {
		req.SetHeader("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := req.Post(p.apiURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("openai: unexpected status %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	if len(result.Choices) == 0 {
		return nil, errors.New("openai: response contained no choices")
	}

	return &Completion{
		Content:          result.Choices[0].Message.Content,
		Model:            result.Model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}, nil
}

type openAIRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
