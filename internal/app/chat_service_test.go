package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbring/internal/model"
	"kbring/internal/retrieval"
)

func TestBuildContextBlockNumbersEntries(t *testing.T) {
	results := []retrieval.Candidate{
		{ChunkID: 7, Title: "Alpha", URI: "http://a", Content: "first chunk", Score: 0.9},
		{ChunkID: 3, Title: "Beta", Content: "second chunk", Score: 0.5},
	}

	block, citations, used := buildContextBlock(results)

	assert.Contains(t, block, "[1] Alpha (http://a)")
	assert.Contains(t, block, "[2] Beta")
	assert.Contains(t, block, "first chunk")

	require.Len(t, citations, 2)
	assert.Equal(t, uint(7), citations[0].ChunkID)
	assert.Equal(t, 0.9, citations[0].Score)
	assert.Equal(t, uint(3), citations[1].ChunkID)
	require.Len(t, used, 2)
}

func TestBuildContextBlockStopsAtCharCap(t *testing.T) {
	big := strings.Repeat("x", excerptChars)
	var results []retrieval.Candidate
	for i := 0; i < 100; i++ {
		results = append(results, retrieval.Candidate{
			ChunkID: uint(i + 1),
			Title:   "Doc",
			Content: big,
			Score:   1.0,
		})
	}

	block, citations, used := buildContextBlock(results)

	assert.LessOrEqual(t, len(block), contextCharCap)
	assert.Equal(t, len(citations), len(used))
	assert.Less(t, len(used), len(results))
}

func TestBuildContextBlockEmpty(t *testing.T) {
	block, citations, used := buildContextBlock(nil)
	assert.Empty(t, block)
	assert.Empty(t, citations)
	assert.Empty(t, used)
}

func TestFormatSearchReply(t *testing.T) {
	assert.Equal(t, "No matching content found in your documents.", formatSearchReply(nil))

	reply := formatSearchReply([]retrieval.Candidate{
		{ChunkID: 1, Title: "Guide", Content: "how to configure things"},
	})
	assert.Contains(t, reply, "Top matches:")
	assert.Contains(t, reply, "[1] Guide")
}

func TestExcerptIsRuneSafe(t *testing.T) {
	assert.Equal(t, "short", excerpt("  short  ", 10))

	long := strings.Repeat("é", 20)
	got := excerpt(long, 5)
	assert.Equal(t, strings.Repeat("é", 5)+"…", got)
}

func TestTrimMessagesKeepsTail(t *testing.T) {
	messages := []model.Message{
		{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4},
	}

	trimmed := trimMessages(messages, 2)
	require.Len(t, trimmed, 2)
	assert.Equal(t, uint(3), trimmed[0].ID)
	assert.Equal(t, uint(4), trimmed[1].ID)

	assert.Len(t, trimMessages(messages, 0), 4)
	assert.Len(t, trimMessages(messages, 10), 4)
}

func TestIngestRejectsBadInput(t *testing.T) {
	svc := NewDocumentService(nil, nil)

	_, err := svc.Ingest(IngestInput{UserID: 0, Body: "text"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ingest(IngestInput{UserID: 1, Body: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Ingest(IngestInput{UserID: 1, Body: strings.Repeat("a", maxBodyBytes+1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
