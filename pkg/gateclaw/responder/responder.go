// Package responder defines the downstream response generator the pipeline
// dispatches surviving messages to. The core only knows this interface;
// the default implementation talks to an OpenAI-compatible chat endpoint.
package responder

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// Request is a normalized request for the downstream responder.
type Request struct {
	// Sender is the author's gateway identity.
	Sender string

	// SenderName is the author's display name, if known.
	SenderName string

	// ChatID is the conversation the reply will go to.
	ChatID string

	// IsGroup indicates a group conversation.
	IsGroup bool

	// Text is the message text.
	Text string

	// QuotedText is the quoted message's text, if replying.
	QuotedText string
}

// Responder generates a reply for an admitted message.
type Responder interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// Config holds the responder configuration.
type Config struct {
	// BaseURL is the OpenAI-compatible endpoint. Empty uses the default.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates against the endpoint. Resolved through the
	// keyring/env chain before the client is built.
	APIKey string `yaml:"api_key"`

	// Model is the chat model name.
	Model string `yaml:"model"`

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string `yaml:"system_prompt"`
}

// DefaultConfig returns the default responder configuration.
func DefaultConfig() Config {
	return Config{
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are GateClaw, a helpful WhatsApp assistant. Keep replies short and conversational.",
	}
}

// OpenAI is the default Responder backed by an OpenAI-compatible API.
type OpenAI struct {
	cfg    Config
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates the OpenAI-compatible responder.
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger.With("component", "responder"),
	}
}

// Reply generates a reply for the request.
func (r *OpenAI) Reply(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: r.cfg.SystemPrompt},
	}
	if req.QuotedText != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("(replying to: %s)", req.QuotedText),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Text,
	})

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
