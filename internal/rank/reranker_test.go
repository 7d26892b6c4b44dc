package rank

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbring/internal/retrieval"
)

type fakeScorer struct {
	scores      []float64
	err         error
	gotPassages []string
}

func (f *fakeScorer) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	f.gotPassages = passages
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[:len(passages)], nil
}

func scorerHolder(s Scorer) *Holder {
	return NewHolder(func() (Scorer, error) { return s, nil })
}

func candidates(n int) []retrieval.Candidate {
	out := make([]retrieval.Candidate, n)
	for i := range out {
		out[i] = retrieval.Candidate{
			ChunkID: uint(i + 1),
			Content: "passage",
			Score:   float64(n - i), // incoming fused order, best first
		}
	}
	return out
}

func TestRerankReordersByScore(t *testing.T) {
	s := &fakeScorer{scores: []float64{0.1, 0.9, 0.5}}
	got := Rerank(context.Background(), scorerHolder(s), "q", candidates(3), 3, 2000)
	require.Len(t, got, 3)
	assert.Equal(t, uint(2), got[0].ChunkID)
	assert.Equal(t, uint(3), got[1].ChunkID)
	assert.Equal(t, uint(1), got[2].ChunkID)
	require.NotNil(t, got[0].RerankScore)
	assert.Equal(t, 0.9, *got[0].RerankScore)
}

func TestRerankTruncatesToTopM(t *testing.T) {
	s := &fakeScorer{scores: []float64{0.4, 0.3, 0.2, 0.8, 0.1}}
	got := Rerank(context.Background(), scorerHolder(s), "q", candidates(5), 2, 2000)
	require.Len(t, got, 2)
	assert.Equal(t, uint(4), got[0].ChunkID)
	assert.Equal(t, uint(1), got[1].ChunkID)
}

func TestRerankFallsBackWhenUnavailable(t *testing.T) {
	got := Rerank(context.Background(), NewDisabledHolder(), "q", candidates(5), 3, 2000)
	require.Len(t, got, 3)
	// Incoming base-score order preserved.
	assert.Equal(t, uint(1), got[0].ChunkID)
	assert.Equal(t, uint(2), got[1].ChunkID)
	assert.Equal(t, uint(3), got[2].ChunkID)
	assert.Nil(t, got[0].RerankScore)
}

func TestRerankFallsBackOnScorerError(t *testing.T) {
	s := &fakeScorer{err: errors.New("inference failed")}
	got := Rerank(context.Background(), scorerHolder(s), "q", candidates(4), 2, 2000)
	require.Len(t, got, 2)
	assert.Equal(t, uint(1), got[0].ChunkID)
	assert.Nil(t, got[0].RerankScore)
}

func TestRerankEmptyCandidates(t *testing.T) {
	s := &fakeScorer{scores: []float64{1}}
	got := Rerank(context.Background(), scorerHolder(s), "q", nil, 5, 2000)
	assert.Empty(t, got)
	assert.Nil(t, s.gotPassages, "scorer must not run on empty input")
}

func TestRerankCapsPassageLength(t *testing.T) {
	s := &fakeScorer{scores: []float64{0.5}}
	long := []retrieval.Candidate{{ChunkID: 1, Content: strings.Repeat("x", 5000)}}
	Rerank(context.Background(), scorerHolder(s), "q", long, 1, 2000)
	require.Len(t, s.gotPassages, 1)
	assert.Len(t, s.gotPassages[0], 2000)
}

func TestRerankDoesNotMutateInput(t *testing.T) {
	s := &fakeScorer{scores: []float64{0.1, 0.9}}
	in := candidates(2)
	Rerank(context.Background(), scorerHolder(s), "q", in, 2, 2000)
	assert.Equal(t, uint(1), in[0].ChunkID)
	assert.Nil(t, in[0].RerankScore)
}

func TestHolderFailurePermanent(t *testing.T) {
	builds := 0
	h := NewHolder(func() (Scorer, error) {
		builds++
		return nil, errors.New("model missing")
	})
	for i := 0; i < 3; i++ {
		_, err := h.Get()
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, 1, builds)
}
