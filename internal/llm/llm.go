// Package llm is the boundary to the external embedding and reasoning
// services. The core only ever sees the Embedder and Completer
// interfaces; the default implementation talks to a local Ollama
// instance over HTTP.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable wraps transport failures, timeouts, and non-200 statuses
// from either service. Callers degrade per their documented fallback and
// never surface it to the patient-facing flow.
var ErrUnavailable = errors.New("llm service unavailable")

// ErrEmptyEmbedding is returned when the embedding service answers
// successfully but with no vector. Distinct from ErrUnavailable so the
// caller can tell a contract violation from an outage.
var ErrEmptyEmbedding = errors.New("embedding service returned empty vector")

// Message is a chat message in the completion API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured
// completions.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Embedder produces a fixed-length embedding vector for a text.
// Repeated calls on identical text must yield vectors whose cosine
// similarity to themselves is 1.0.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces a chat completion, optionally constrained to a JSON
// schema. The returned string is the raw assistant content.
type Completer interface {
	Complete(ctx context.Context, messages []Message, schema *Schema) (string, error)
}
