// Package retrieval holds the per-agent knowledge index used to
// augment agent prompts with ranked snippets from the knowledge base.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seopilot/seopilot/internal/embedding"
	"github.com/seopilot/seopilot/internal/vectorstore"
)

// Chunk is one indexed knowledge snippet. Immutable after Build.
type Chunk struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"-"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	AgentID  string            `json:"agent_id"`
}

// Document is a unit of knowledge text to index.
type Document struct {
	Text     string
	Metadata map[string]string
}

// Scored pairs a chunk with its similarity to a query.
type Scored struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// Scoring larger indexes inline would starve I/O-bound tasks, so the
// dot products are fanned out to a small worker pool past this size.
const parallelScoreThreshold = 2048

// Index is one agent's knowledge index. Vectors are normalized at
// build time, so query-time inner product equals cosine similarity.
type Index struct {
	agentID  string
	embedder embedding.Client
	logger   *zap.Logger

	mu     sync.RWMutex
	chunks []Chunk
	dim    int

	store      *vectorstore.Client
	collection string
	workers    int
}

// NewIndex creates an empty index for one agent.
func NewIndex(agentID string, embedder embedding.Client, logger *zap.Logger) *Index {
	return &Index{
		agentID:  agentID,
		embedder: embedder,
		logger:   logger,
		workers:  4,
	}
}

// AttachStore mirrors built chunks into a Qdrant collection so they
// survive process restarts. Best-effort: mirror failures are logged,
// not fatal.
func (ix *Index) AttachStore(store *vectorstore.Client, collection string) {
	ix.mu.Lock()
	ix.store = store
	ix.collection = collection
	ix.mu.Unlock()
}

// Build splits the documents into overlapping chunks, embeds them and
// replaces the index contents. The vector dimension is fixed by the
// first build.
func (ix *Index) Build(ctx context.Context, docs []Document, chunkSize, overlap int) error {
	var (
		texts []string
		metas []map[string]string
	)
	for _, doc := range docs {
		for _, part := range SplitText(doc.Text, chunkSize, overlap) {
			texts = append(texts, part)
			metas = append(metas, doc.Metadata)
		}
	}
	if len(texts) == 0 {
		ix.mu.Lock()
		ix.chunks = nil
		ix.mu.Unlock()
		return nil
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %d chunks: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			ID:       uuid.New().String(),
			Vector:   embedding.Normalize(vectors[i]),
			Text:     text,
			Metadata: metas[i],
			AgentID:  ix.agentID,
		}
	}

	ix.mu.Lock()
	ix.chunks = chunks
	ix.dim = len(chunks[0].Vector)
	store, collection := ix.store, ix.collection
	ix.mu.Unlock()

	if store != nil {
		ix.mirror(ctx, store, collection, chunks)
	}
	return nil
}

func (ix *Index) mirror(ctx context.Context, store *vectorstore.Client, collection string, chunks []Chunk) {
	if err := store.EnsureCollection(ctx, collection, uint64(len(chunks[0].Vector))); err != nil {
		ix.logger.Warn("vectorstore mirror skipped", zap.String("collection", collection), zap.Error(err))
		return
	}
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		payload := map[string]string{"text": c.Text, "agent_id": c.AgentID}
		for k, v := range c.Metadata {
			payload["meta_"+k] = v
		}
		points[i] = vectorstore.Point{ID: c.ID, Vector: c.Vector, Payload: payload}
	}
	if err := store.UpsertPoints(ctx, collection, points); err != nil {
		ix.logger.Warn("vectorstore mirror failed", zap.String("collection", collection), zap.Error(err))
	}
}

// Reload restores the index contents from the attached Qdrant mirror.
func (ix *Index) Reload(ctx context.Context) error {
	ix.mu.RLock()
	store, collection := ix.store, ix.collection
	ix.mu.RUnlock()
	if store == nil {
		return fmt.Errorf("no vectorstore attached")
	}

	points, err := store.Scroll(ctx, collection, 512)
	if err != nil {
		return fmt.Errorf("reload %s: %w", collection, err)
	}
	chunks := make([]Chunk, 0, len(points))
	for _, p := range points {
		meta := make(map[string]string)
		for k, v := range p.Payload {
			if len(k) > 5 && k[:5] == "meta_" {
				meta[k[5:]] = v
			}
		}
		chunks = append(chunks, Chunk{
			ID:       p.ID,
			Vector:   p.Vector,
			Text:     p.Payload["text"],
			Metadata: meta,
			AgentID:  ix.agentID,
		})
	}

	ix.mu.Lock()
	ix.chunks = chunks
	if len(chunks) > 0 {
		ix.dim = len(chunks[0].Vector)
	}
	ix.mu.Unlock()
	return nil
}

// Len reports the number of indexed chunks.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Search embeds the query once and returns up to topK chunks with
// similarity >= threshold, ordered by descending score with chunk ID
// as the tiebreak so repeated calls return identical sequences.
//
// An empty index or topK <= 0 yields an empty result, not an error.
// A query embedding failure is surfaced; the caller decides whether
// to proceed without retrieval context.
func (ix *Index) Search(ctx context.Context, query string, topK int, threshold float32) ([]Scored, error) {
	ix.mu.RLock()
	chunks := ix.chunks
	ix.mu.RUnlock()

	if topK <= 0 || len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedder returned empty query vector")
	}
	qvec := embedding.Normalize(vectors[0])

	scores := make([]float32, len(chunks))
	if len(chunks) >= parallelScoreThreshold {
		ix.scoreParallel(chunks, qvec, scores)
	} else {
		for i := range chunks {
			scores[i] = dot(chunks[i].Vector, qvec)
		}
	}

	matched := make([]Scored, 0, len(chunks))
	for i := range chunks {
		if scores[i] >= threshold {
			matched = append(matched, Scored{Chunk: chunks[i], Score: scores[i]})
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].Chunk.ID < matched[j].Chunk.ID
	})
	if len(matched) > topK {
		matched = matched[:topK]
	}
	return matched, nil
}

func (ix *Index) scoreParallel(chunks []Chunk, qvec []float32, scores []float32) {
	workers := ix.workers
	if workers < 1 {
		workers = 1
	}
	span := (len(chunks) + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * span
		if start >= len(chunks) {
			break
		}
		end := start + span
		if end > len(chunks) {
			end = len(chunks)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				scores[i] = dot(chunks[i].Vector, qvec)
			}
		}(start, end)
	}
	wg.Wait()
}

func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// FormatContext renders search results into a prompt-friendly block.
func FormatContext(results []Scored) string {
	if len(results) == 0 {
		return ""
	}
	out := "## Retrieved Context\n\n"
	for i, r := range results {
		out += fmt.Sprintf("%d. (score: %.2f) %s\n\n", i+1, r.Score, r.Chunk.Text)
	}
	return out
}
