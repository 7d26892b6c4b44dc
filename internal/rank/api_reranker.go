package rank

import (
	"context"

	"kbring/internal/ai"
)

// apiScorer delegates to a hosted rerank endpoint.
type apiScorer struct {
	client *ai.RerankClient
	cfg    ai.RerankConfig
}

func NewAPIScorer(client *ai.RerankClient, cfg ai.RerankConfig) Scorer {
	return &apiScorer{client: client, cfg: cfg}
}

func (s *apiScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	return s.client.Rerank(ctx, s.cfg, query, passages)
}
