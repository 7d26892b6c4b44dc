package embedding

import (
	"context"
	"fmt"

	"kbring/internal/ai"
)

// ollamaProvider embeds via a local Ollama server.
type ollamaProvider struct {
	client    *ai.OllamaClient
	baseURL   string
	modelName string
	dims      int
	batchSize int
}

func NewOllamaProvider(client *ai.OllamaClient, baseURL, modelName string, dims, batchSize int) Provider {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &ollamaProvider{
		client:    client,
		baseURL:   baseURL,
		modelName: modelName,
		dims:      dims,
		batchSize: batchSize,
	}
}

func (p *ollamaProvider) ModelName() string { return p.modelName }
func (p *ollamaProvider) Dims() int         { return p.dims }

func (p *ollamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, queryPrefix+text)
}

func (p *ollamaProvider) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, passagePrefix+text)
}

func (p *ollamaProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = passagePrefix + t
	}

	out := make([][]float32, 0, len(prefixed))
	for i := 0; i < len(prefixed); i += p.batchSize {
		end := i + p.batchSize
		if end > len(prefixed) {
			end = len(prefixed)
		}
		vecs, err := p.client.EmbedBatch(ctx, p.baseURL, p.modelName, prefixed[i:end])
		if err != nil {
			return nil, err
		}
		for _, v := range vecs {
			out = append(out, Normalize(v))
		}
	}
	return out, nil
}

func (p *ollamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.client.EmbedBatch(ctx, p.baseURL, p.modelName, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return Normalize(vecs[0]), nil
}
