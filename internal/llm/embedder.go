package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// TextEmbedder binds a Client to a fixed embedding model, satisfying the
// Embedder interface.
type TextEmbedder struct {
	client *Client
	model  string
}

// NewTextEmbedder creates a TextEmbedder for the given model.
func NewTextEmbedder(client *Client, model string) *TextEmbedder {
	return &TextEmbedder{client: client, model: model}
}

// Embed returns the embedding vector for a single text.
func (e *TextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty input.
func (e *TextEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the service.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.client.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ModelCompleter binds a Client to a fixed chat model, satisfying the
// Completer interface.
type ModelCompleter struct {
	client *Client
	model  string
}

// NewModelCompleter creates a ModelCompleter for the given model.
func NewModelCompleter(client *Client, model string) *ModelCompleter {
	return &ModelCompleter{client: client, model: model}
}

// Complete sends messages to the bound model.
func (m *ModelCompleter) Complete(ctx context.Context, messages []Message, schema *Schema) (string, error) {
	return m.client.Chat(ctx, m.model, messages, schema)
}
