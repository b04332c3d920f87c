package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrEmptyInput is returned when the text to embed is empty after trimming.
var ErrEmptyInput = errors.New("provider: embedding input is empty")

// EmbeddingClient produces L2-normalized query vectors via the external
// embedding API.
type EmbeddingClient struct {
	client *Client
	model  string
}

// NewEmbeddingClient creates an EmbeddingClient for the given model.
func NewEmbeddingClient(client *Client, model string) *EmbeddingClient {
	return &EmbeddingClient{client: client, model: model}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one unit-norm vector for text. The model identifier is
// passed through; dimensionality is whatever the provider returns.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	var resp embedResponse
	err := c.client.callWithFailover(ctx, "Embed", func(key string) *attemptError {
		return c.client.postJSON(ctx, "/embeddings", key, embedRequest{
			Model: c.model,
			Input: []string{text},
		}, &resp)
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("provider.Embed: response contained no embeddings")
	}

	return l2Normalize(resp.Data[0].Embedding), nil
}

// l2Normalize normalizes a vector to unit length (L2 norm = 1).
// A zero vector is returned unchanged.
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}
