package models

import "time"

// Query describes a single research request to the upstream LLM API.
type Query struct {
	Content      string `json:"content"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model"`
	UserID       string `json:"user_id,omitempty"`
}

// Result is the terminal outcome of an orchestrated research request.
type Result struct {
	Response     string        `json:"response"`
	Citations    []string      `json:"citations,omitempty"`
	Cached       bool          `json:"cached"`
	Fallback     bool          `json:"fallback,omitempty"`
	ResponseTime time.Duration `json:"-"`
}
