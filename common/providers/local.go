package providers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// AllowAllIdentity grants every knowledge-base read. Used when no external
// identity service is configured.
type AllowAllIdentity struct{}

func (AllowAllIdentity) CheckKBRead(ctx context.Context, tenantID, userID, kb string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant_id is required for kb access")
	}
	return nil
}

// MemoryVectorStore is an in-process vector store keyed by collection.
// Distances are Euclidean. Suitable for development and tests; production
// deployments swap in a real store behind the same interface.
type MemoryVectorStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dim     int
	entries []memoryEntry
}

type memoryEntry struct {
	text     string
	vector   []float64
	metadata map[string]interface{}
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{collections: make(map[string]*memoryCollection)}
}

// Upsert adds a document to a collection, creating it with the vector's
// dimension on first write.
func (s *MemoryVectorStore) Upsert(ctx context.Context, collection, text string, vector []float64, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collection]
	if !ok {
		col = &memoryCollection{dim: len(vector)}
		s.collections[collection] = col
	}
	if len(vector) != col.dim {
		return fmt.Errorf("vector dimension mismatch: collection %s expects %d, got %d", collection, col.dim, len(vector))
	}
	col.entries = append(col.entries, memoryEntry{text: text, vector: vector, metadata: metadata})
	return nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, collection string, vector []float64, topK int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}
	if len(vector) != col.dim {
		return nil, fmt.Errorf("vector dimension mismatch: collection %s expects %d, got %d", collection, col.dim, len(vector))
	}

	hits := make([]VectorHit, 0, len(col.entries))
	for _, entry := range col.entries {
		hits = append(hits, VectorHit{
			Text:     entry.text,
			Distance: euclidean(vector, entry.vector),
			Metadata: entry.metadata,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Recreate drops the collection and re-registers it with a new dimension
func (s *MemoryVectorStore) Recreate(ctx context.Context, collection string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = &memoryCollection{dim: dim}
	return nil
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// MemoryKeywordIndex is an in-process keyword index with term-overlap
// scoring over whitespace tokens.
type MemoryKeywordIndex struct {
	mu      sync.RWMutex
	indexes map[string][]memoryEntry
}

func NewMemoryKeywordIndex() *MemoryKeywordIndex {
	return &MemoryKeywordIndex{indexes: make(map[string][]memoryEntry)}
}

// Index adds a document to an index
func (s *MemoryKeywordIndex) Index(ctx context.Context, index, text string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[index] = append(s.indexes[index], memoryEntry{text: text, metadata: metadata})
	return nil
}

func (s *MemoryKeywordIndex) Search(ctx context.Context, index, query string, topK int, filter map[string]interface{}) ([]KeywordHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	var hits []KeywordHit
	for _, entry := range s.indexes[index] {
		score := overlapScore(terms, tokenize(entry.text))
		if score == 0 {
			continue
		}
		hits = append(hits, KeywordHit{Text: entry.text, Score: score, Metadata: entry.metadata})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(text)) {
		tokens[strings.Trim(field, ".,;:!?\"'()")] = true
	}
	delete(tokens, "")
	return tokens
}

func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	var matched int
	for term := range query {
		if doc[term] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

// LexicalReranker rescores documents by query-term overlap. It is the
// default reranker when no model-backed provider is configured.
type LexicalReranker struct{}

func (LexicalReranker) Rerank(ctx context.Context, query string, docs []map[string]interface{}, provider string, topK int, tenantID string) ([]map[string]interface{}, error) {
	terms := tokenize(query)

	type scored struct {
		doc   map[string]interface{}
		score float64
	}
	rescored := make([]scored, 0, len(docs))
	for _, doc := range docs {
		text, _ := doc["text"].(string)
		rescored = append(rescored, scored{doc: doc, score: overlapScore(terms, tokenize(text))})
	}
	sort.SliceStable(rescored, func(i, j int) bool { return rescored[i].score > rescored[j].score })

	if topK > 0 && len(rescored) > topK {
		rescored = rescored[:topK]
	}

	out := make([]map[string]interface{}, 0, len(rescored))
	for _, item := range rescored {
		doc := make(map[string]interface{}, len(item.doc)+1)
		for k, v := range item.doc {
			doc[k] = v
		}
		doc["rerank_score"] = item.score
		out = append(out, doc)
	}
	return out, nil
}
