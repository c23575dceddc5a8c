package models

// ChatMessage represents a single message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the chat completion payload sent to the research API.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// CompletionResponse is the chat completion payload returned by the research API.
type CompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// CompletionMessage is the assistant message within a choice. Citation
// metadata is present when the model was asked to cite sources.
type CompletionMessage struct {
	Role             string            `json:"role"`
	Content          string            `json:"content"`
	CitationMetadata *CitationMetadata `json:"citation_metadata,omitempty"`
}

// CitationMetadata lists source URLs backing a completion.
type CitationMetadata struct {
	Citations []string `json:"citations"`
}
