// Package llm provides a chat-style client for the language model that
// writes answers and summaries.
package llm

import (
	"context"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions configures a generation request.
type GenerateOptions struct {
	// Model overrides the client's default model.
	Model string

	// SystemPrompt is sent as the leading system message.
	SystemPrompt string

	// History holds earlier turns sent before the prompt.
	History []Message

	// Temperature controls randomness in generation.
	Temperature float32

	// MaxTokens limits the response length. Zero means no limit.
	MaxTokens int
}

// StreamChunk is a single fragment of a streamed response.
type StreamChunk struct {
	Token string
	Done  bool
	Error error
}

// LLM defines the interface for language model clients.
type LLM interface {
	// Generate sends a prompt and blocks until the full response is received.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream sends a prompt and streams response fragments. The channel
	// is closed after a chunk with Done set or an Error.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)
}

// BuildMessages assembles the system prompt, history and prompt into a
// message list.
func BuildMessages(prompt string, opts GenerateOptions) []Message {
	msgs := make([]Message, 0, len(opts.History)+2)
	if opts.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: opts.SystemPrompt})
	}
	msgs = append(msgs, opts.History...)
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return msgs
}
