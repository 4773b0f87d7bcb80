package provider

import (
	"context"
	"time"
)

// Provider is a text-generation backend. The escalation worker issues
// one-shot completions; streaming and tool calling are not needed here.
type Provider interface {
	ID() string
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	HealthCheck(ctx context.Context) error
}

// CompletionRequest is a single generation call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse is the provider's answer.
type CompletionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config holds configuration for a provider instance.
type Config struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Extra    map[string]string `json:"extra,omitempty"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
}
