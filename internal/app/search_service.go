package app

import (
	"context"
	"strings"

	"kbring/internal/rank"
	"kbring/internal/retrieval"
)

// SearchService composes the hybrid retriever with the optional reranker and
// the confidence policy.
type SearchService struct {
	retriever *retrieval.Retriever
	reranker  *rank.Holder

	rerankDepth     int
	rerankTopM      int
	maxPassageChars int
}

type SearchResult struct {
	Query      string                `json:"query"`
	Confidence string                `json:"confidence"`
	Results    []retrieval.Candidate `json:"results"`
}

func NewSearchService(retriever *retrieval.Retriever, reranker *rank.Holder, rerankDepth, rerankTopM, maxPassageChars int) *SearchService {
	if rerankDepth <= 0 {
		rerankDepth = 50
	}
	if rerankTopM <= 0 {
		rerankTopM = 15
	}
	if maxPassageChars <= 0 {
		maxPassageChars = 2000
	}
	return &SearchService{
		retriever:       retriever,
		reranker:        reranker,
		rerankDepth:     rerankDepth,
		rerankTopM:      rerankTopM,
		maxPassageChars: maxPassageChars,
	}
}

// Search retrieves at rerank depth, rescores when a cross-encoder is
// available, and cuts to topK. Confidence reflects the best fused score so
// it stays comparable whether or not reranking ran.
func (s *SearchService) Search(ctx context.Context, userID uint, query string, topK int) (*SearchResult, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return &SearchResult{Query: query, Confidence: retrieval.ConfidenceLow}, nil
	}
	topK = retrieval.ClampTopK(topK)

	depth := s.rerankDepth
	if depth < topK {
		depth = topK
	}
	candidates, err := s.retriever.RetrieveDepth(ctx, userID, query, depth)
	if err != nil {
		return nil, err
	}

	confidence := retrieval.Confidence(candidates)

	ranked := candidates
	if _, err := s.reranker.Get(); err == nil {
		ranked = rank.Rerank(ctx, s.reranker, query, candidates, s.rerankTopM, s.maxPassageChars)
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	return &SearchResult{
		Query:      query,
		Confidence: confidence,
		Results:    ranked,
	}, nil
}
