package embedding

import (
	"context"
	"fmt"

	"kbring/internal/ai"
)

// E5-style asymmetric encodings: the same model embeds queries and passages
// under different textual prefixes.
const (
	queryPrefix   = "query: "
	passagePrefix = "passage: "
)

const defaultBatchSize = 32

// apiProvider embeds via an OpenAI-compatible /embeddings endpoint.
type apiProvider struct {
	client    *ai.OpenAICompatibleClient
	cfg       ai.EmbeddingConfig
	dims      int
	batchSize int
}

func NewAPIProvider(client *ai.OpenAICompatibleClient, cfg ai.EmbeddingConfig, dims, batchSize int) Provider {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &apiProvider{client: client, cfg: cfg, dims: dims, batchSize: batchSize}
}

func (p *apiProvider) ModelName() string { return p.cfg.Model }
func (p *apiProvider) Dims() int         { return p.dims }

func (p *apiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, queryPrefix+text)
}

func (p *apiProvider) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return p.embedOne(ctx, passagePrefix+text)
}

func (p *apiProvider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
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
		vecs, err := p.client.EmbedBatch(ctx, p.cfg, prefixed[i:end])
		if err != nil {
			return nil, err
		}
		for _, v := range vecs {
			out = append(out, Normalize(v))
		}
	}
	return out, nil
}

func (p *apiProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.client.EmbedBatch(ctx, p.cfg, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return Normalize(vecs[0]), nil
}
