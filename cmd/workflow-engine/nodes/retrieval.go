package nodes

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/providers"
	"github.com/lyzr/ragflow/common/workflow"
)

// collectionName namespaces a knowledge base per tenant. The keyword index
// receives the same name, so KB collisions across tenants cannot leak.
func collectionName(tenantID, kb string) string {
	return fmt.Sprintf("tenant_%s_%s", tenantID, kb)
}

// similarityFromDistance converts a vector distance to a similarity score
func similarityFromDistance(distance float64) float64 {
	return 1.0 / (1.0 + distance)
}

// retrieveVector embeds the query and searches the tenant collection.
// A dimension mismatch self-heals by recreating the collection with the
// new dimension and retrying once.
func retrieveVector(ctx context.Context, set *providers.Set, inv *Invocation, query string, topK int) ([]map[string]interface{}, error) {
	kb := configString(inv.Node, "kb", configString(inv.Node, "knowledge_base", "default"))
	tenantID := inv.TenantID()

	if set.Identity != nil {
		if err := set.Identity.CheckKBRead(ctx, tenantID, inv.UserID(), kb); err != nil {
			return nil, fmt.Errorf("kb access denied: %w", err)
		}
	}

	embedded, err := set.Embeddings.Embed(ctx, []string{query}, configString(inv.Node, "embedding_model", ""), tenantID, inv.UserID())
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}
	if !embedded.Success || len(embedded.Embeddings) == 0 {
		return nil, fmt.Errorf("query embedding failed: %s", embedded.Error)
	}
	vector := embedded.Embeddings[0]

	collection := collectionName(tenantID, kb)
	hits, err := set.Vector.Search(ctx, collection, vector, topK)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "dimension") {
		if recreateErr := set.Vector.Recreate(ctx, collection, len(vector)); recreateErr != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		hits, err = set.Vector.Search(ctx, collection, vector, topK)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	docs := make([]map[string]interface{}, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, map[string]interface{}{
			"text":       hit.Text,
			"similarity": similarityFromDistance(hit.Distance),
			"metadata":   hit.Metadata,
			"source":     "vector",
		})
	}
	return docs, nil
}

// retrieveKeyword searches the keyword index under the same tenant-scoped
// name. Returns nil when no keyword index is configured.
func retrieveKeyword(ctx context.Context, set *providers.Set, inv *Invocation, query string, topK int) ([]map[string]interface{}, error) {
	if set.Keyword == nil {
		return nil, nil
	}

	kb := configString(inv.Node, "kb", configString(inv.Node, "knowledge_base", "default"))
	index := collectionName(inv.TenantID(), kb)

	hits, err := set.Keyword.Search(ctx, index, query, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	docs := make([]map[string]interface{}, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, map[string]interface{}{
			"text":     hit.Text,
			"score":    hit.Score,
			"metadata": hit.Metadata,
			"source":   "keyword",
		})
	}
	return docs, nil
}

func retrievalOutput(docs []map[string]interface{}, query string) map[string]interface{} {
	asAny := make([]interface{}, len(docs))
	for i, doc := range docs {
		asAny[i] = doc
	}
	return map[string]interface{}{
		"documents":     asAny,
		"query":         query,
		"total_results": len(docs),
	}
}

// ragRetrieverRunner performs tenant-scoped vector retrieval
type ragRetrieverRunner struct {
	providers *providers.Set
}

func (r *ragRetrieverRunner) Type() string { return workflow.NodeTypeRAGRetriever }

func (r *ragRetrieverRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	query := inputString(inv.Input, "query", "text", "prompt")
	if query == "" {
		return nil, fmt.Errorf("retriever node missing query input")
	}

	topK := configInt(inv.Node, "top_k", 5)
	docs, err := retrieveVector(ctx, r.providers, inv, query, topK)
	if err != nil {
		return nil, err
	}
	return retrievalOutput(docs, query), nil
}

// hybridRetrieverRunner runs vector and keyword retrieval concurrently and
// merges: vector-ranked docs first, then keyword-only docs.
type hybridRetrieverRunner struct {
	providers *providers.Set
	log       *logger.Logger
}

func (r *hybridRetrieverRunner) Type() string { return workflow.NodeTypeHybridRetriever }

func (r *hybridRetrieverRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	query := inputString(inv.Input, "query", "text", "prompt")
	if query == "" {
		return nil, fmt.Errorf("retriever node missing query input")
	}

	topK := configInt(inv.Node, "top_k", 5)

	var vectorDocs, keywordDocs []map[string]interface{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := retrieveVector(gctx, r.providers, inv, query, topK)
		if err != nil {
			return err
		}
		vectorDocs = docs
		return nil
	})
	g.Go(func() error {
		docs, err := retrieveKeyword(gctx, r.providers, inv, query, topK)
		if err != nil {
			// keyword retrieval is best-effort in hybrid mode
			r.log.Warn("keyword retrieval failed, continuing with vector results",
				"node_id", inv.Node.ID, "error", err)
			return nil
		}
		keywordDocs = docs
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeHybrid(vectorDocs, keywordDocs)
	return retrievalOutput(merged, query), nil
}

// mergeHybrid keeps vector docs in rank order and appends keyword docs
// whose text is not already present.
func mergeHybrid(vectorDocs, keywordDocs []map[string]interface{}) []map[string]interface{} {
	seen := make(map[string]bool, len(vectorDocs))
	merged := make([]map[string]interface{}, 0, len(vectorDocs)+len(keywordDocs))

	for _, doc := range vectorDocs {
		if text, ok := doc["text"].(string); ok {
			seen[text] = true
		}
		merged = append(merged, doc)
	}
	for _, doc := range keywordDocs {
		text, _ := doc["text"].(string)
		if seen[text] {
			continue
		}
		merged = append(merged, doc)
	}
	return merged
}

// retrieverRunner dispatches to vector / keyword / hybrid by config.mode
type retrieverRunner struct {
	providers *providers.Set
	log       *logger.Logger
}

func (r *retrieverRunner) Type() string { return workflow.NodeTypeRetriever }

func (r *retrieverRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	mode := configString(inv.Node, "mode", "hybrid")

	switch mode {
	case "vector":
		runner := &ragRetrieverRunner{providers: r.providers}
		return runner.Run(ctx, inv)
	case "keyword":
		query := inputString(inv.Input, "query", "text", "prompt")
		if query == "" {
			return nil, fmt.Errorf("retriever node missing query input")
		}
		docs, err := retrieveKeyword(ctx, r.providers, inv, query, configInt(inv.Node, "top_k", 5))
		if err != nil {
			return nil, err
		}
		if docs == nil {
			return nil, fmt.Errorf("keyword retrieval unavailable: no keyword index configured")
		}
		return retrievalOutput(docs, query), nil
	case "hybrid":
		runner := &hybridRetrieverRunner{providers: r.providers, log: r.log}
		return runner.Run(ctx, inv)
	default:
		return nil, fmt.Errorf("retriever node has invalid mode: %s", mode)
	}
}

// rerankerRunner rescored documents against the query via the rerank
// provider, returning the truncated list.
type rerankerRunner struct {
	providers *providers.Set
}

func (r *rerankerRunner) Type() string { return workflow.NodeTypeReranker }

func (r *rerankerRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	query := inputString(inv.Input, "query", "text", "prompt")
	if query == "" {
		return nil, fmt.Errorf("reranker node missing query input")
	}

	docs := inputDocuments(inv.Input)
	if len(docs) == 0 {
		return retrievalOutput(nil, query), nil
	}

	reranked, err := r.providers.Rerank.Rerank(ctx, query, docs,
		configString(inv.Node, "provider", "default"),
		configInt(inv.Node, "top_k", len(docs)),
		inv.TenantID())
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}

	out := retrievalOutput(reranked, query)
	out["reranked_documents"] = out["documents"]
	return out, nil
}
