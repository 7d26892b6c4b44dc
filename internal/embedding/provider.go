// Package embedding abstracts the text embedding capability used by the
// indexing worker and the hybrid retriever. Providers return L2-normalized
// vectors; query and passage encodings are asymmetric, so a query vector and
// a passage vector for the same text are not interchangeable.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"kbring/internal/ai"
	"kbring/internal/config"
)

// ErrUnavailable marks the embedding capability as absent. Callers must
// treat it as a normal outcome and fall back to lexical-only behavior.
var ErrUnavailable = errors.New("embedding provider unavailable")

type Provider interface {
	ModelName() string
	Dims() int
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Holder lazily initializes a Provider at most once per process. The first
// Get builds the provider and self-verifies it by embedding a sentinel and
// checking the returned width; on any failure the holder stays Failed for
// the process lifetime instead of retrying per call.
type Holder struct {
	build func() (Provider, error)

	once     sync.Once
	provider Provider
	err      error
}

func NewHolder(build func() (Provider, error)) *Holder {
	return &Holder{build: build}
}

// NewDisabledHolder reports ErrUnavailable without ever attempting a build.
func NewDisabledHolder() *Holder {
	return &Holder{}
}

func (h *Holder) Get() (Provider, error) {
	if h.build == nil {
		return nil, ErrUnavailable
	}
	h.once.Do(func() {
		p, err := h.build()
		if err != nil {
			h.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			log.Printf("embedding provider init failed: %v", err)
			return
		}
		if err := verify(p); err != nil {
			h.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
			log.Printf("embedding provider rejected: %v", err)
			return
		}
		h.provider = p
	})
	if h.err != nil {
		return nil, h.err
	}
	return h.provider, nil
}

func verify(p Provider) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	vec, err := p.EmbedQuery(ctx, "ping")
	if err != nil {
		return fmt.Errorf("sentinel embed failed: %w", err)
	}
	if len(vec) != p.Dims() {
		return fmt.Errorf("dims mismatch: expected %d, got %d", p.Dims(), len(vec))
	}
	return nil
}

// HolderFromConfig selects the backend at startup.
func HolderFromConfig(cfg config.EmbeddingsConfig) *Holder {
	if !cfg.Enabled {
		return NewDisabledHolder()
	}
	switch cfg.Backend {
	case "ollama":
		return NewHolder(func() (Provider, error) {
			return NewOllamaProvider(ai.NewOllamaClient(), cfg.BaseURL, cfg.Model, cfg.Dims, cfg.BatchSize), nil
		})
	case "openai":
		return NewHolder(func() (Provider, error) {
			return NewAPIProvider(ai.NewOpenAICompatibleClient(), ai.EmbeddingConfig{
				BaseURL: cfg.BaseURL,
				APIKey:  cfg.APIKey,
				Model:   cfg.Model,
			}, cfg.Dims, cfg.BatchSize), nil
		})
	default:
		backend := cfg.Backend
		return NewHolder(func() (Provider, error) {
			return nil, fmt.Errorf("unknown embeddings backend %q", backend)
		})
	}
}
