// Package retrieval implements the hybrid lexical+vector scorer. Fusion is an
// in-memory merge of two score maps keyed by chunk id, keeping the ranking
// policy out of the storage layer.
package retrieval

import (
	"context"
	"log"
	"sort"
	"strings"

	"kbring/internal/embedding"
)

// Bounds on the caller-supplied result size.
const (
	MinTopK = 1
	MaxTopK = 20
)

// Default policy tunables. Weights are a linear combination, not derived.
const (
	DefaultLexicalWeight  = 0.55
	DefaultVectorWeight   = 0.45
	DefaultCandidateLimit = 200
)

// Candidate is a retrieval-time result row. Score is the fused base score;
// RerankScore is set only when a cross-encoder rescored the candidate.
type Candidate struct {
	ChunkID     uint     `json:"chunk_id"`
	DocumentID  uint     `json:"document_id"`
	Title       string   `json:"title"`
	URI         string   `json:"uri"`
	Content     string   `json:"content"`
	Score       float64  `json:"score"`
	LexScore    float64  `json:"lex_score"`
	VecScore    float64  `json:"vec_score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// ScoredChunk is one sub-search hit.
type ScoredChunk struct {
	ChunkID uint
	Score   float64
}

// LexicalSearcher ranks the owner's chunks by full-text relevance.
type LexicalSearcher interface {
	SearchLexical(ctx context.Context, userID uint, query string, limit int) ([]ScoredChunk, error)
}

// VectorSearcher ranks the owner's chunks by similarity to the query vector,
// restricted to embeddings computed with the given model.
type VectorSearcher interface {
	SearchVector(ctx context.Context, userID uint, queryVec []float32, model string, limit int) ([]ScoredChunk, error)
}

// CandidateLoader attaches document title/URI and chunk content to the fused
// top hits. Implementations must scope by owner.
type CandidateLoader interface {
	LoadCandidates(ctx context.Context, userID uint, chunkIDs []uint) (map[uint]Candidate, error)
}

type Retriever struct {
	lexical  LexicalSearcher
	vector   VectorSearcher
	loader   CandidateLoader
	provider *embedding.Holder

	lexWeight      float64
	vecWeight      float64
	candidateLimit int
}

func NewRetriever(lexical LexicalSearcher, vector VectorSearcher, loader CandidateLoader, provider *embedding.Holder, lexWeight, vecWeight float64, candidateLimit int) *Retriever {
	if lexWeight <= 0 && vecWeight <= 0 {
		lexWeight = DefaultLexicalWeight
		vecWeight = DefaultVectorWeight
	}
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	return &Retriever{
		lexical:        lexical,
		vector:         vector,
		loader:         loader,
		provider:       provider,
		lexWeight:      lexWeight,
		vecWeight:      vecWeight,
		candidateLimit: candidateLimit,
	}
}

// ClampTopK bounds topK to [MinTopK, MaxTopK].
func ClampTopK(topK int) int {
	if topK < MinTopK {
		return MinTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}

// Retrieve returns the owner's most relevant chunks, best first. An empty
// query returns an empty result. When no embedding provider is available the
// lexical ranking is returned as-is; degradation is not an error.
func (r *Retriever) Retrieve(ctx context.Context, userID uint, query string, topK int) ([]Candidate, error) {
	return r.RetrieveDepth(ctx, userID, query, ClampTopK(topK))
}

// RetrieveDepth is Retrieve without the caller-facing topK clamp, for the
// rerank pipeline which needs a deeper candidate slice than MaxTopK.
func (r *Retriever) RetrieveDepth(ctx context.Context, userID uint, query string, depth int) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if depth <= 0 {
		depth = MaxTopK
	}
	if depth > r.candidateLimit {
		depth = r.candidateLimit
	}

	lexHits, err := r.lexical.SearchLexical(ctx, userID, query, r.candidateLimit)
	if err != nil {
		return nil, err
	}

	vecHits := r.vectorHits(ctx, userID, query)

	fused := fuse(lexHits, vecHits, r.lexWeight, r.vecWeight)
	if len(fused) > depth {
		fused = fused[:depth]
	}
	if len(fused) == 0 {
		return nil, nil
	}

	chunkIDs := make([]uint, len(fused))
	for i, c := range fused {
		chunkIDs[i] = c.ChunkID
	}
	loaded, err := r.loader.LoadCandidates(ctx, userID, chunkIDs)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(fused))
	for _, c := range fused {
		full, ok := loaded[c.ChunkID]
		if !ok {
			continue
		}
		full.Score = c.Score
		full.LexScore = c.LexScore
		full.VecScore = c.VecScore
		out = append(out, full)
	}
	return out, nil
}

// vectorHits returns nil whenever the vector side cannot contribute: provider
// disabled or failed, or the query embed call errors. A per-call failure only
// degrades that call.
func (r *Retriever) vectorHits(ctx context.Context, userID uint, query string) []ScoredChunk {
	provider, err := r.provider.Get()
	if err != nil {
		return nil
	}
	queryVec, err := provider.EmbedQuery(ctx, query)
	if err != nil {
		log.Printf("query embed failed, lexical-only retrieval: %v", err)
		return nil
	}
	hits, err := r.vector.SearchVector(ctx, userID, queryVec, provider.ModelName(), r.candidateLimit)
	if err != nil {
		log.Printf("vector search failed, lexical-only retrieval: %v", err)
		return nil
	}
	return hits
}

// fuse unions the two hit sets by chunk id. A chunk present on only one side
// scores 0 on the other. Ties break by chunk id ascending.
func fuse(lexHits, vecHits []ScoredChunk, lexWeight, vecWeight float64) []Candidate {
	byChunk := make(map[uint]*Candidate, len(lexHits)+len(vecHits))
	for _, h := range lexHits {
		byChunk[h.ChunkID] = &Candidate{ChunkID: h.ChunkID, LexScore: h.Score}
	}
	for _, h := range vecHits {
		if c, ok := byChunk[h.ChunkID]; ok {
			c.VecScore = h.Score
		} else {
			byChunk[h.ChunkID] = &Candidate{ChunkID: h.ChunkID, VecScore: h.Score}
		}
	}

	out := make([]Candidate, 0, len(byChunk))
	for _, c := range byChunk {
		c.Score = lexWeight*c.LexScore + vecWeight*c.VecScore
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}
