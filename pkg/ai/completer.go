package ai

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-independent chat completion call.
type CompletionRequest struct {
	Messages []Message
	// JSONObject asks the provider to answer with a single JSON object.
	JSONObject bool
}

// Completer turns a conversation into the assistant's next reply.
// OpenAI-compatible endpoints and Ollama both implement it.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
