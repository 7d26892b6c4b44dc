// Package rank rescoring: a cross-encoder reads the query together with each
// candidate passage and emits a relevance score, which replaces the fused
// retrieval score for final ordering.
package rank

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"kbring/internal/ai"
	"kbring/internal/config"
	"kbring/internal/retrieval"
)

// ErrUnavailable marks the reranking capability as absent. Retrieval results
// keep their fused ordering when reranking is off or broken.
var ErrUnavailable = errors.New("reranker unavailable")

// Scorer scores each passage against the query. Scores are returned in input
// order, one per passage.
type Scorer interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Holder lazily initializes a Scorer at most once per process. A failed init
// is permanent; every later Get reports ErrUnavailable without retrying.
type Holder struct {
	build func() (Scorer, error)

	once   sync.Once
	scorer Scorer
	err    error
}

func NewHolder(build func() (Scorer, error)) *Holder {
	return &Holder{build: build}
}

func NewDisabledHolder() *Holder {
	return &Holder{}
}

func (h *Holder) Get() (Scorer, error) {
	if h.build == nil {
		return nil, ErrUnavailable
	}
	h.once.Do(func() {
		s, err := h.build()
		if err != nil {
			h.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			log.Printf("reranker init failed: %v", err)
			return
		}
		h.scorer = s
	})
	if h.err != nil {
		return nil, h.err
	}
	return h.scorer, nil
}

// HolderFromConfig selects the backend at startup.
func HolderFromConfig(cfg config.RerankConfig) *Holder {
	if !cfg.Enabled {
		return NewDisabledHolder()
	}
	switch cfg.Backend {
	case "onnx":
		return NewHolder(func() (Scorer, error) {
			return NewONNXScorer(cfg.ModelPath, cfg.VocabPath, cfg.ONNXSharedLib, cfg.MaxSeqLen)
		})
	case "api":
		return NewHolder(func() (Scorer, error) {
			return NewAPIScorer(ai.NewRerankClient(), ai.RerankConfig{
				BaseURL: cfg.BaseURL,
				APIKey:  cfg.APIKey,
				Model:   cfg.Model,
			}), nil
		})
	default:
		backend := cfg.Backend
		return NewHolder(func() (Scorer, error) {
			return nil, fmt.Errorf("unknown rerank backend %q", backend)
		})
	}
}

// Rerank rescores the top candidates and returns the best topM by rerank
// score. Passages are capped at maxPassageChars before scoring so one huge
// chunk cannot blow the model's input budget. On any scorer failure the
// candidates come back in their original fused order, truncated to topM;
// reranking is an upgrade, never a gate.
func Rerank(ctx context.Context, h *Holder, query string, candidates []retrieval.Candidate, topM, maxPassageChars int) []retrieval.Candidate {
	if len(candidates) == 0 || topM <= 0 {
		return nil
	}

	scorer, err := h.Get()
	if err != nil {
		return truncate(candidates, topM)
	}
	if strings.TrimSpace(query) == "" {
		return truncate(candidates, topM)
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = capRunes(c.Content, maxPassageChars)
	}

	scores, err := scorer.Score(ctx, query, passages)
	if err != nil || len(scores) != len(candidates) {
		if err != nil {
			log.Printf("rerank failed, keeping fused order: %v", err)
		}
		return truncate(candidates, topM)
	}

	out := make([]retrieval.Candidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		s := scores[i]
		out[i].RerankScore = &s
	}
	sort.SliceStable(out, func(i, j int) bool {
		if *out[i].RerankScore != *out[j].RerankScore {
			return *out[i].RerankScore > *out[j].RerankScore
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return truncate(out, topM)
}

func truncate(cs []retrieval.Candidate, n int) []retrieval.Candidate {
	if len(cs) > n {
		return cs[:n]
	}
	return cs
}

func capRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
