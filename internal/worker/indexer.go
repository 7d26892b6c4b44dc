package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"kbring/internal/embedding"
	"kbring/internal/model"
	"kbring/internal/pkg/chunker"
)

// JobQueue is the claim/heartbeat/settle surface of the job store.
type JobQueue interface {
	ClaimOne(kind string, lease time.Duration) (*model.Job, error)
	ExtendLease(jobID uint, lease time.Duration) error
	Complete(jobID uint, resultJSON string) error
	Fail(jobID uint, message string) error
}

// DocumentStore loads document bodies for indexing.
type DocumentStore interface {
	GetByID(id uint) (*model.Document, error)
}

// ChunkStore writes and reads the chunk index.
type ChunkStore interface {
	UpsertBatch(chunks []model.Chunk) error
	ListByDocumentID(documentID uint) ([]model.Chunk, error)
	DeleteTail(documentID uint, fromIndex int) error
}

// EmbeddingStore reads stored chunk hashes and writes vectors.
type EmbeddingStore interface {
	HashesByChunkID(chunkIDs []uint, modelName string) (map[uint]string, error)
	UpsertBatch(embeddings []model.Embedding) error
}

// Indexer is the polling worker that turns queued index jobs into chunk and
// embedding rows. One Indexer processes one job at a time; run N processes
// for parallelism, the claim protocol keeps them off each other's jobs.
type Indexer struct {
	queue      JobQueue
	documents  DocumentStore
	chunks     ChunkStore
	embeddings EmbeddingStore
	provider   *embedding.Holder

	chunkMaxChars int
	lease         time.Duration
	pollInterval  time.Duration
}

func NewIndexer(queue JobQueue, documents DocumentStore, chunks ChunkStore, embeddings EmbeddingStore, provider *embedding.Holder, chunkMaxChars int, lease, pollInterval time.Duration) *Indexer {
	if chunkMaxChars <= 0 {
		chunkMaxChars = chunker.DefaultMaxChars
	}
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Indexer{
		queue:         queue,
		documents:     documents,
		chunks:        chunks,
		embeddings:    embeddings,
		provider:      provider,
		chunkMaxChars: chunkMaxChars,
		lease:         lease,
		pollInterval:  pollInterval,
	}
}

// Run polls until the context is canceled, sleeping on an empty queue.
func (w *Indexer) Run(ctx context.Context) {
	log.Printf("indexer started, polling every %s", w.pollInterval)
	for {
		worked, err := w.RunOnce(ctx)
		if err != nil {
			log.Printf("indexer claim failed: %v", err)
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			log.Printf("indexer stopped")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// RunOnce claims and processes at most one job. It reports false when the
// queue was empty. Job-level failures are recorded on the job, not returned.
func (w *Indexer) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimOne(model.JobKindIndexDocument, w.lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

// process runs outside the claim transaction; only the short status updates
// touch the job row. A heartbeat keeps the lease alive while chunking and
// embedding run.
func (w *Indexer) process(ctx context.Context, job *model.Job) {
	stopHeartbeat := w.heartbeat(ctx, job.ID)
	defer stopHeartbeat()

	result, err := w.index(ctx, job)
	if err != nil {
		log.Printf("job %d failed: %v", job.ID, err)
		if ferr := w.queue.Fail(job.ID, err.Error()); ferr != nil {
			log.Printf("record job %d failure: %v", job.ID, ferr)
		}
		return
	}
	if cerr := w.queue.Complete(job.ID, result); cerr != nil {
		log.Printf("record job %d completion: %v", job.ID, cerr)
	}
}

func (w *Indexer) index(ctx context.Context, job *model.Job) (string, error) {
	var payload model.IndexDocumentPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return "", fmt.Errorf("malformed payload: %w", err)
	}

	doc, err := w.documents.GetByID(payload.DocumentID)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("document %d not found", payload.DocumentID)
	}

	pieces := chunker.Split(doc.Body, w.chunkMaxChars)

	rows := make([]model.Chunk, len(pieces))
	for i, text := range pieces {
		rows[i] = model.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    text,
			ContentSHA: chunker.SHA256Hex(text),
			Lexeme:     chunker.Lexeme(text),
		}
	}
	if err := w.chunks.UpsertBatch(rows); err != nil {
		return "", err
	}
	// Trailing slots from a longer previous version are dropped.
	if err := w.chunks.DeleteTail(doc.ID, len(pieces)); err != nil {
		return "", err
	}

	if err := w.refreshEmbeddings(ctx, doc.ID); err != nil {
		return "", err
	}

	result, err := json.Marshal(model.IndexDocumentResult{Chunks: len(pieces)})
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// refreshEmbeddings re-embeds only chunks whose content hash differs from
// the stored embedding's hash. Re-indexing an unchanged document embeds
// nothing. A missing provider skips the stage entirely; lexical search still
// works.
func (w *Indexer) refreshEmbeddings(ctx context.Context, documentID uint) error {
	provider, err := w.provider.Get()
	if err != nil {
		return nil
	}

	stored, err := w.chunks.ListByDocumentID(documentID)
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		return nil
	}

	chunkIDs := make([]uint, len(stored))
	for i, c := range stored {
		chunkIDs[i] = c.ID
	}
	hashes, err := w.embeddings.HashesByChunkID(chunkIDs, provider.ModelName())
	if err != nil {
		return err
	}

	var changed []model.Chunk
	for _, c := range stored {
		if hashes[c.ID] != c.ContentSHA {
			changed = append(changed, c)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	texts := make([]string, len(changed))
	for i, c := range changed {
		texts[i] = c.Content
	}
	vecs, err := provider.EmbedMany(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(changed) {
		return fmt.Errorf("embed chunks: expected %d vectors, got %d", len(changed), len(vecs))
	}

	rows := make([]model.Embedding, len(changed))
	for i, c := range changed {
		rows[i] = model.Embedding{
			ChunkID:  c.ID,
			Model:    provider.ModelName(),
			Dims:     len(vecs[i]),
			ChunkSHA: c.ContentSHA,
			Vector:   embedding.Encode(vecs[i]),
		}
	}
	return w.embeddings.UpsertBatch(rows)
}

// heartbeat extends the job lease at a third of its duration until stopped.
func (w *Indexer) heartbeat(ctx context.Context, jobID uint) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.ExtendLease(jobID, w.lease); err != nil {
					log.Printf("extend lease for job %d: %v", jobID, err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
