package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbring/internal/embedding"
	"kbring/internal/model"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*model.Job
}

func (q *fakeQueue) push(userID uint, documentID uint) *model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	payload, _ := model.EncodeIndexDocumentPayload(documentID)
	job := &model.Job{
		ID:      uint(len(q.jobs) + 1),
		UserID:  userID,
		Kind:    model.JobKindIndexDocument,
		Status:  model.JobStatusQueued,
		Payload: payload,
	}
	q.jobs = append(q.jobs, job)
	return job
}

func (q *fakeQueue) ClaimOne(kind string, _ time.Duration) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.Status == model.JobStatusQueued && j.Kind == kind {
			j.Status = model.JobStatusRunning
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (q *fakeQueue) ExtendLease(uint, time.Duration) error { return nil }

func (q *fakeQueue) Complete(jobID uint, resultJSON string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == jobID {
			j.Status = model.JobStatusDone
			j.Result = resultJSON
		}
	}
	return nil
}

func (q *fakeQueue) Fail(jobID uint, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == jobID {
			j.Status = model.JobStatusError
			j.Error = message
		}
	}
	return nil
}

func (q *fakeQueue) get(jobID uint) model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		if j.ID == jobID {
			return *j
		}
	}
	return model.Job{}
}

type fakeDocs struct {
	docs map[uint]*model.Document
}

func (d *fakeDocs) GetByID(id uint) (*model.Document, error) {
	return d.docs[id], nil
}

type fakeChunks struct {
	mu     sync.Mutex
	nextID uint
	rows   map[string]*model.Chunk // key: docID/chunkIndex
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{nextID: 1, rows: map[string]*model.Chunk{}}
}

func key(docID uint, idx int) string { return fmt.Sprintf("%d/%d", docID, idx) }

func (s *fakeChunks) UpsertBatch(chunks []model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		k := key(c.DocumentID, c.ChunkIndex)
		if existing, ok := s.rows[k]; ok {
			existing.Content = c.Content
			existing.ContentSHA = c.ContentSHA
			existing.Lexeme = c.Lexeme
			continue
		}
		c.ID = s.nextID
		s.nextID++
		cp := c
		s.rows[k] = &cp
	}
	return nil
}

func (s *fakeChunks) ListByDocumentID(documentID uint) ([]model.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Chunk
	for idx := 0; ; idx++ {
		c, ok := s.rows[key(documentID, idx)]
		if !ok {
			break
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *fakeChunks) DeleteTail(documentID uint, fromIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx := fromIndex; ; idx++ {
		k := key(documentID, idx)
		if _, ok := s.rows[k]; !ok {
			break
		}
		delete(s.rows, k)
	}
	return nil
}

type fakeEmbeddings struct {
	mu   sync.Mutex
	rows map[uint]model.Embedding // chunkID -> row (single model in tests)
}

func newFakeEmbeddings() *fakeEmbeddings {
	return &fakeEmbeddings{rows: map[uint]model.Embedding{}}
}

func (s *fakeEmbeddings) HashesByChunkID(chunkIDs []uint, _ string) (map[uint]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[uint]string{}
	for _, id := range chunkIDs {
		if row, ok := s.rows[id]; ok {
			out[id] = row.ChunkSHA
		}
	}
	return out, nil
}

func (s *fakeEmbeddings) UpsertBatch(embeddings []model.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range embeddings {
		s.rows[e.ChunkID] = e
	}
	return nil
}

type countingProvider struct {
	mu       sync.Mutex
	embedded []string
}

func (p *countingProvider) ModelName() string { return "test-model" }
func (p *countingProvider) Dims() int         { return 2 }

func (p *countingProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (p *countingProvider) EmbedPassage(ctx context.Context, t string) ([]float32, error) {
	return p.EmbedQuery(ctx, t)
}

func (p *countingProvider) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.embedded = append(p.embedded, texts...)
	p.mu.Unlock()
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.embedded)
}

func newTestIndexer(q *fakeQueue, docs *fakeDocs, chunks *fakeChunks, embs *fakeEmbeddings, p embedding.Provider) *Indexer {
	holder := embedding.NewDisabledHolder()
	if p != nil {
		holder = embedding.NewHolder(func() (embedding.Provider, error) { return p, nil })
	}
	return NewIndexer(q, docs, chunks, embs, holder, 10, time.Minute, time.Millisecond)
}

func TestIndexDocumentWritesChunksAndEmbeddings(t *testing.T) {
	q := &fakeQueue{}
	docs := &fakeDocs{docs: map[uint]*model.Document{
		1: {ID: 1, UserID: 7, Body: "abcdefghijklmnopqrstuvwxy"},
	}}
	chunks := newFakeChunks()
	embs := newFakeEmbeddings()
	provider := &countingProvider{}
	w := newTestIndexer(q, docs, chunks, embs, provider)

	job := q.push(7, 1)
	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, worked)

	done := q.get(job.ID)
	assert.Equal(t, model.JobStatusDone, done.Status)

	var result model.IndexDocumentResult
	require.NoError(t, json.Unmarshal([]byte(done.Result), &result))
	assert.Equal(t, 3, result.Chunks)

	stored, _ := chunks.ListByDocumentID(1)
	require.Len(t, stored, 3)
	assert.Equal(t, "abcdefghij", stored[0].Content)
	assert.Equal(t, 3, provider.count())
	assert.Len(t, embs.rows, 3)
}

func TestReindexUnchangedDocumentEmbedsNothing(t *testing.T) {
	q := &fakeQueue{}
	docs := &fakeDocs{docs: map[uint]*model.Document{
		1: {ID: 1, UserID: 7, Body: "abcdefghijklmnopqrst"},
	}}
	chunks := newFakeChunks()
	embs := newFakeEmbeddings()
	provider := &countingProvider{}
	w := newTestIndexer(q, docs, chunks, embs, provider)

	q.push(7, 1)
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	first := provider.count()

	q.push(7, 1)
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, provider.count(), "re-indexing unchanged content must embed nothing")
}

func TestReindexChangedChunkEmbedsOnlyThatChunk(t *testing.T) {
	q := &fakeQueue{}
	doc := &model.Document{ID: 1, UserID: 7, Body: "aaaaaaaaaabbbbbbbbbb"}
	docs := &fakeDocs{docs: map[uint]*model.Document{1: doc}}
	chunks := newFakeChunks()
	embs := newFakeEmbeddings()
	provider := &countingProvider{}
	w := newTestIndexer(q, docs, chunks, embs, provider)

	q.push(7, 1)
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, provider.count())

	// Second chunk's slot gets new text; first slot unchanged.
	doc.Body = "aaaaaaaaaacccccccccc"
	q.push(7, 1)
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, provider.count())
	provider.mu.Lock()
	assert.Equal(t, "cccccccccc", provider.embedded[2])
	provider.mu.Unlock()
}

func TestReindexShrunkDocumentDropsTrailingChunks(t *testing.T) {
	q := &fakeQueue{}
	doc := &model.Document{ID: 1, UserID: 7, Body: "aaaaaaaaaabbbbbbbbbbcccccccccc"}
	docs := &fakeDocs{docs: map[uint]*model.Document{1: doc}}
	chunks := newFakeChunks()
	embs := newFakeEmbeddings()
	w := newTestIndexer(q, docs, chunks, embs, &countingProvider{})

	q.push(7, 1)
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	stored, _ := chunks.ListByDocumentID(1)
	require.Len(t, stored, 3)

	doc.Body = "aaaaaaaaaa"
	q.push(7, 1)
	_, err = w.RunOnce(context.Background())
	require.NoError(t, err)

	stored, _ = chunks.ListByDocumentID(1)
	require.Len(t, stored, 1)
	assert.Equal(t, "aaaaaaaaaa", stored[0].Content)
}

func TestMissingDocumentFailsJob(t *testing.T) {
	q := &fakeQueue{}
	w := newTestIndexer(q, &fakeDocs{docs: map[uint]*model.Document{}}, newFakeChunks(), newFakeEmbeddings(), nil)

	job := q.push(7, 99)
	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, worked)

	failed := q.get(job.ID)
	assert.Equal(t, model.JobStatusError, failed.Status)
	assert.Contains(t, failed.Error, "not found")
}

func TestMalformedPayloadFailsJob(t *testing.T) {
	q := &fakeQueue{}
	q.jobs = append(q.jobs, &model.Job{
		ID:      1,
		Kind:    model.JobKindIndexDocument,
		Status:  model.JobStatusQueued,
		Payload: "{not json",
	})
	w := newTestIndexer(q, &fakeDocs{docs: map[uint]*model.Document{}}, newFakeChunks(), newFakeEmbeddings(), nil)

	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, worked)

	failed := q.get(1)
	assert.Equal(t, model.JobStatusError, failed.Status)
	assert.Contains(t, failed.Error, "malformed payload")
}

func TestEmptyQueue(t *testing.T) {
	w := newTestIndexer(&fakeQueue{}, &fakeDocs{}, newFakeChunks(), newFakeEmbeddings(), nil)
	worked, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestIndexWithoutProviderStillCompletes(t *testing.T) {
	q := &fakeQueue{}
	docs := &fakeDocs{docs: map[uint]*model.Document{
		1: {ID: 1, UserID: 7, Body: "some document body"},
	}}
	chunks := newFakeChunks()
	embs := newFakeEmbeddings()
	w := newTestIndexer(q, docs, chunks, embs, nil)

	job := q.push(7, 1)
	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	done := q.get(job.ID)
	assert.Equal(t, model.JobStatusDone, done.Status)
	assert.Empty(t, embs.rows)
}

func TestConcurrentWorkersClaimEachJobOnce(t *testing.T) {
	q := &fakeQueue{}
	docs := &fakeDocs{docs: map[uint]*model.Document{}}
	for i := uint(1); i <= 20; i++ {
		docs.docs[i] = &model.Document{ID: i, UserID: 7, Body: "body"}
		q.push(7, i)
	}
	chunks := newFakeChunks()
	embs := newFakeEmbeddings()

	var wg sync.WaitGroup
	for n := 0; n < 4; n++ {
		w := newTestIndexer(q, docs, chunks, embs, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				worked, err := w.RunOnce(context.Background())
				assert.NoError(t, err)
				if !worked {
					return
				}
			}
		}()
	}
	wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.jobs {
		assert.Equal(t, model.JobStatusDone, j.Status, "job %d", j.ID)
	}
}
