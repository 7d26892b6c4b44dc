package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbring/internal/embedding"
)

type fakeLexical struct {
	hits []ScoredChunk
	err  error
}

func (f *fakeLexical) SearchLexical(_ context.Context, _ uint, _ string, _ int) ([]ScoredChunk, error) {
	return f.hits, f.err
}

type fakeVector struct {
	hits  []ScoredChunk
	err   error
	calls int
}

func (f *fakeVector) SearchVector(_ context.Context, _ uint, _ []float32, _ string, _ int) ([]ScoredChunk, error) {
	f.calls++
	return f.hits, f.err
}

type fakeLoader struct{}

func (fakeLoader) LoadCandidates(_ context.Context, _ uint, chunkIDs []uint) (map[uint]Candidate, error) {
	out := make(map[uint]Candidate, len(chunkIDs))
	for _, id := range chunkIDs {
		out[id] = Candidate{
			ChunkID:    id,
			DocumentID: id * 10,
			Title:      fmt.Sprintf("doc %d", id),
			URI:        fmt.Sprintf("kb://doc/%d", id),
			Content:    fmt.Sprintf("content %d", id),
		}
	}
	return out, nil
}

type unitProvider struct{}

func (unitProvider) ModelName() string { return "unit" }
func (unitProvider) Dims() int         { return 2 }
func (unitProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (unitProvider) EmbedPassage(ctx context.Context, t string) ([]float32, error) {
	return unitProvider{}.EmbedQuery(ctx, t)
}
func (unitProvider) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func readyHolder() *embedding.Holder {
	return embedding.NewHolder(func() (embedding.Provider, error) {
		return unitProvider{}, nil
	})
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := NewRetriever(&fakeLexical{}, &fakeVector{}, fakeLoader{}, embedding.NewDisabledHolder(), 0.55, 0.45, 200)
	got, err := r.Retrieve(context.Background(), 1, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClampTopK(t *testing.T) {
	assert.Equal(t, 1, ClampTopK(0))
	assert.Equal(t, 1, ClampTopK(-5))
	assert.Equal(t, 20, ClampTopK(100))
	assert.Equal(t, 7, ClampTopK(7))
}

func TestRetrieveFusesBothSides(t *testing.T) {
	lex := &fakeLexical{hits: []ScoredChunk{{ChunkID: 1, Score: 1.0}, {ChunkID: 2, Score: 0.5}}}
	vec := &fakeVector{hits: []ScoredChunk{{ChunkID: 2, Score: 1.0}, {ChunkID: 3, Score: 0.9}}}
	r := NewRetriever(lex, vec, fakeLoader{}, readyHolder(), 0.55, 0.45, 200)

	got, err := r.Retrieve(context.Background(), 1, "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// chunk 2: 0.55*0.5 + 0.45*1.0 = 0.725
	// chunk 1: 0.55*1.0 = 0.55
	// chunk 3: 0.45*0.9 = 0.405
	assert.Equal(t, uint(2), got[0].ChunkID)
	assert.InDelta(t, 0.725, got[0].Score, 1e-9)
	assert.Equal(t, uint(1), got[1].ChunkID)
	assert.InDelta(t, 0.55, got[1].Score, 1e-9)
	assert.Equal(t, uint(3), got[2].ChunkID)
	assert.InDelta(t, 0.405, got[2].Score, 1e-9)

	// Denormalized fields attached.
	assert.Equal(t, "doc 2", got[0].Title)
	assert.Equal(t, "kb://doc/2", got[0].URI)
	assert.Equal(t, uint(20), got[0].DocumentID)
}

func TestRetrieveTieBreaksByChunkID(t *testing.T) {
	lex := &fakeLexical{hits: []ScoredChunk{{ChunkID: 9, Score: 0.4}, {ChunkID: 3, Score: 0.4}}}
	r := NewRetriever(lex, &fakeVector{}, fakeLoader{}, embedding.NewDisabledHolder(), 0.55, 0.45, 200)

	got, err := r.Retrieve(context.Background(), 1, "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint(3), got[0].ChunkID)
	assert.Equal(t, uint(9), got[1].ChunkID)
}

func TestRetrieveDegradesWithoutProvider(t *testing.T) {
	lex := &fakeLexical{hits: []ScoredChunk{{ChunkID: 1, Score: 0.8}}}
	vec := &fakeVector{hits: []ScoredChunk{{ChunkID: 2, Score: 1.0}}}
	r := NewRetriever(lex, vec, fakeLoader{}, embedding.NewDisabledHolder(), 0.55, 0.45, 200)

	got, err := r.Retrieve(context.Background(), 1, "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint(1), got[0].ChunkID)
	assert.Zero(t, vec.calls, "vector search must be skipped without a provider")
}

func TestRetrieveDegradesOnVectorError(t *testing.T) {
	lex := &fakeLexical{hits: []ScoredChunk{{ChunkID: 1, Score: 0.8}}}
	vec := &fakeVector{err: errors.New("index offline")}
	r := NewRetriever(lex, vec, fakeLoader{}, readyHolder(), 0.55, 0.45, 200)

	got, err := r.Retrieve(context.Background(), 1, "query", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint(1), got[0].ChunkID)
}

func TestRetrieveLexicalErrorPropagates(t *testing.T) {
	lex := &fakeLexical{err: errors.New("db down")}
	r := NewRetriever(lex, &fakeVector{}, fakeLoader{}, embedding.NewDisabledHolder(), 0.55, 0.45, 200)
	_, err := r.Retrieve(context.Background(), 1, "query", 10)
	assert.Error(t, err)
}

func TestRetrieveRespectsTopK(t *testing.T) {
	var hits []ScoredChunk
	for i := 1; i <= 30; i++ {
		hits = append(hits, ScoredChunk{ChunkID: uint(i), Score: float64(100 - i)})
	}
	r := NewRetriever(&fakeLexical{hits: hits}, &fakeVector{}, fakeLoader{}, embedding.NewDisabledHolder(), 0.55, 0.45, 200)

	got, err := r.Retrieve(context.Background(), 1, "query", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, uint(1), got[0].ChunkID)
}

func TestFusionMonotonicity(t *testing.T) {
	// Raising only chunk 1's lexical score never drops it below chunk 2.
	vec := []ScoredChunk{{ChunkID: 1, Score: 0.5}, {ChunkID: 2, Score: 0.5}}
	prevRank := 2
	for _, lexScore := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		lex := []ScoredChunk{{ChunkID: 1, Score: lexScore}, {ChunkID: 2, Score: 0.4}}
		fused := fuse(lex, vec, 0.55, 0.45)
		rank := 0
		for i, c := range fused {
			if c.ChunkID == 1 {
				rank = i + 1
			}
		}
		assert.LessOrEqual(t, rank, prevRank)
		prevRank = rank
	}
}

func TestConfidenceBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  string
	}{
		{0.30, ConfidenceHigh},
		{0.25, ConfidenceHigh},
		{0.15, ConfidenceMedium},
		{0.12, ConfidenceMedium},
		{0.05, ConfidenceLow},
	}
	for _, tc := range cases {
		got := Confidence([]Candidate{{Score: tc.score}})
		assert.Equal(t, tc.want, got, "score %v", tc.score)
	}
	assert.Equal(t, ConfidenceLow, Confidence(nil))
}
