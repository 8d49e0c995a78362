package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lyzr/ragflow/cmd/workflow-engine/netguard"
	"github.com/lyzr/ragflow/common/logger"
	"github.com/lyzr/ragflow/common/providers"
	"github.com/lyzr/ragflow/common/workflow"
)

// stubChat returns a fixed reply and records the last request
type stubChat struct {
	reply   string
	err     error
	lastReq *providers.ChatRequest
}

func (s *stubChat) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResult{
		Success:      true,
		Message:      s.reply,
		Model:        "stub-model",
		FinishReason: "stop",
		Usage:        providers.TokenUsage{TotalTokens: 7},
	}, nil
}

func (s *stubChat) StreamChat(ctx context.Context, req *providers.ChatRequest) (<-chan providers.ChatChunk, error) {
	ch := make(chan providers.ChatChunk, 1)
	ch <- providers.ChatChunk{Success: true, Content: s.reply}
	close(ch)
	return ch, nil
}

// stubEmbeddings maps texts to fixed vectors
type stubEmbeddings struct {
	vectors map[string][]float64
	fallback []float64
}

func (s *stubEmbeddings) Embed(ctx context.Context, texts []string, model, tenantID, userID string) (*providers.EmbedResult, error) {
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		if v, ok := s.vectors[text]; ok {
			out = append(out, v)
			continue
		}
		out = append(out, s.fallback)
	}
	return &providers.EmbedResult{Success: true, Embeddings: out, Model: "stub-embed"}, nil
}

func testSet(chat providers.ChatProvider, embed providers.EmbeddingProvider) *providers.Set {
	return &providers.Set{
		Identity:   providers.AllowAllIdentity{},
		Chat:       chat,
		Embeddings: embed,
		Rerank:     providers.LexicalReranker{},
		Vector:     providers.NewMemoryVectorStore(),
		Keyword:    providers.NewMemoryKeywordIndex(),
		Clock:      providers.SystemClock{},
	}
}

func invoke(node *workflow.Node, input map[string]interface{}) *Invocation {
	return &Invocation{
		Node:  node,
		Input: input,
		Execution: &workflow.ExecutionContext{
			ExecutionID:   "exec-1",
			InputData:     map[string]interface{}{"tenant_id": "t1", "user_id": "u1"},
			GlobalContext: map[string]interface{}{},
		},
	}
}

func TestInputRunner_FillsAliasesWithoutNulls(t *testing.T) {
	r := &inputRunner{}
	node := &workflow.Node{ID: "in", Type: workflow.NodeTypeInput}

	out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"query": "ping"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, alias := range []string{"input", "prompt", "query", "text"} {
		if out[alias] != "ping" {
			t.Errorf("alias %q should carry the representative string, got %v", alias, out[alias])
		}
	}
	data, ok := out["data"].(map[string]interface{})
	if !ok || data["query"] != "ping" {
		t.Errorf("data must hold the original payload, got %v", out["data"])
	}
}

func TestInputRunner_EmptyPayload(t *testing.T) {
	r := &inputRunner{}
	node := &workflow.Node{ID: "in", Type: workflow.NodeTypeInput}

	out, err := r.Run(context.Background(), invoke(node, nil))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["prompt"] != "" {
		t.Errorf("absent values must become empty strings, got %v", out["prompt"])
	}
	if _, ok := out["data"].(map[string]interface{}); !ok {
		t.Errorf("data must be an object, got %v", out["data"])
	}
}

func TestOutputRunner_SelectPath(t *testing.T) {
	r := &outputRunner{}
	node := &workflow.Node{
		ID: "out", Type: workflow.NodeTypeOutput,
		Config: map[string]interface{}{"select_path": "meta.score"},
	}
	input := map[string]interface{}{
		"data": map[string]interface{}{
			"meta": map[string]interface{}{"score": 0.8},
		},
	}

	out, err := r.Run(context.Background(), invoke(node, input))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["result"] != 0.8 {
		t.Errorf("expected projected value, got %v", out["result"])
	}
}

func TestOutputRunner_Template(t *testing.T) {
	r := &outputRunner{}
	node := &workflow.Node{
		ID: "out", Type: workflow.NodeTypeOutput,
		Config: map[string]interface{}{"template": "{{content}}"},
	}
	input := map[string]interface{}{
		"data": map[string]interface{}{"content": "pong"},
	}

	out, err := r.Run(context.Background(), invoke(node, input))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["result"] != "pong" {
		t.Errorf("expected rendered template, got %v", out["result"])
	}
}

func TestOutputRunner_EmptyRenderFallsBack(t *testing.T) {
	r := &outputRunner{}
	node := &workflow.Node{
		ID: "out", Type: workflow.NodeTypeOutput,
		Config: map[string]interface{}{"template": "{{missing.path}}"},
	}
	payload := map[string]interface{}{"k": "v"}
	input := map[string]interface{}{"data": payload}

	out, err := r.Run(context.Background(), invoke(node, input))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	result, ok := out["result"].(map[string]interface{})
	if !ok || result["k"] != "v" {
		t.Errorf("empty render must fall back to the payload, got %v", out["result"])
	}
}

func TestOutputRunner_Passthrough(t *testing.T) {
	r := &outputRunner{}
	node := &workflow.Node{ID: "out", Type: workflow.NodeTypeOutput}
	payload := map[string]interface{}{"answer": 42}

	out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"data": payload}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	result, ok := out["result"].(map[string]interface{})
	if !ok || result["answer"] != 42 {
		t.Errorf("expected payload passthrough, got %v", out["result"])
	}
}

func TestLLMRunner_PromptKeyAndMetadata(t *testing.T) {
	chat := &stubChat{reply: "pong"}
	r := &llmRunner{providers: testSet(chat, nil)}

	node := &workflow.Node{
		ID: "llm", Type: workflow.NodeTypeLLM,
		Config: map[string]interface{}{"prompt_key": "q", "temperature": 0.2},
	}
	// the prompt key is searched at the top level and inside data
	input := map[string]interface{}{
		"data": map[string]interface{}{"q": "ping"},
	}

	out, err := r.Run(context.Background(), invoke(node, input))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["content"] != "pong" {
		t.Errorf("expected model reply, got %v", out["content"])
	}
	if chat.lastReq.Message != "ping" {
		t.Errorf("expected prompt from nested data, got %q", chat.lastReq.Message)
	}
	if chat.lastReq.TenantID != "t1" || chat.lastReq.UserID != "u1" {
		t.Errorf("identity not forwarded: %+v", chat.lastReq)
	}
	meta, _ := out["metadata"].(map[string]interface{})
	if meta["tokens_used"] != 7 || meta["model"] != "stub-model" {
		t.Errorf("unexpected metadata: %v", meta)
	}
}

func TestLLMRunner_TemplatedPrompt(t *testing.T) {
	chat := &stubChat{reply: "ok"}
	r := &llmRunner{providers: testSet(chat, nil)}

	node := &workflow.Node{ID: "llm", Type: workflow.NodeTypeLLM}
	input := map[string]interface{}{
		"prompt": "Summarize: {{document}}",
		"document": "the text",
	}

	if _, err := r.Run(context.Background(), invoke(node, input)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if chat.lastReq.Message != "Summarize: the text" {
		t.Errorf("prompt template not rendered, got %q", chat.lastReq.Message)
	}
}

func TestLLMRunner_MissingPrompt(t *testing.T) {
	r := &llmRunner{providers: testSet(&stubChat{}, nil)}
	node := &workflow.Node{ID: "llm", Type: workflow.NodeTypeLLM}

	if _, err := r.Run(context.Background(), invoke(node, map[string]interface{}{})); err == nil {
		t.Fatal("missing prompt must error")
	}
}

func TestMatchClass_Heuristic(t *testing.T) {
	classes := []string{"positive", "negative", "neutral"}

	if class, conf := matchClass("Negative", classes); class != "negative" || conf != 0.9 {
		t.Errorf("exact match: got %s %v", class, conf)
	}
	if class, conf := matchClass("I think this is positive overall.", classes); class != "positive" || conf != 0.6 {
		t.Errorf("containment: got %s %v", class, conf)
	}
	if class, conf := matchClass("no idea", classes); class != "positive" || conf != 0.3 {
		t.Errorf("fallback: got %s %v", class, conf)
	}
}

func TestClassifierRunner(t *testing.T) {
	chat := &stubChat{reply: "negative"}
	r := &classifierRunner{providers: testSet(chat, nil)}

	node := &workflow.Node{
		ID: "cls", Type: workflow.NodeTypeClassifier,
		Config: map[string]interface{}{"classes": []interface{}{"positive", "negative"}},
	}

	out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"text": "terrible product"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["class"] != "negative" || out["confidence"] != 0.9 {
		t.Errorf("unexpected classification: %v", out)
	}
	if chat.lastReq.Temperature != 0 {
		t.Errorf("classification must run at temperature 0, got %v", chat.lastReq.Temperature)
	}
}

func TestParserRunner_JSONNeverErrors(t *testing.T) {
	r := &parserRunner{}
	node := &workflow.Node{ID: "p", Type: workflow.NodeTypeParser}

	out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"text": `{"k": 1}`}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["success"] != true {
		t.Errorf("valid json must parse, got %v", out)
	}

	out, err = r.Run(context.Background(), invoke(node, map[string]interface{}{"text": "not json"}))
	if err != nil {
		t.Fatalf("malformed json must not raise: %v", err)
	}
	if out["success"] != false || out["parsed_data"] != nil {
		t.Errorf("malformed json must report failure in-band, got %v", out)
	}
	if out["error"] == "" {
		t.Error("parse failure must carry an error message")
	}
}

func TestParserRunner_ExtractFields(t *testing.T) {
	r := &parserRunner{}
	node := &workflow.Node{
		ID: "p", Type: workflow.NodeTypeParser,
		Config: map[string]interface{}{
			"mode": "extract_fields",
			"fields": map[string]interface{}{
				"order_id": `order #(\d+)`,
				"urgent":   "URGENT",
				"absent":   `missing-(\w+)`,
			},
		},
	}

	out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{
		"text": "URGENT: please check order #123 now",
	}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	parsed, _ := out["parsed_data"].(map[string]interface{})
	if parsed["order_id"] != "123" {
		t.Errorf("capture group extraction failed: %v", parsed["order_id"])
	}
	if parsed["urgent"] != "URGENT" {
		t.Errorf("whole-match extraction failed: %v", parsed["urgent"])
	}
	if parsed["absent"] != nil {
		t.Errorf("missing pattern must yield nil, got %v", parsed["absent"])
	}
}

func TestConditionRunner_Operators(t *testing.T) {
	run := func(conditionType string, conditionValue, value interface{}) map[string]interface{} {
		t.Helper()
		r := &conditionRunner{}
		node := &workflow.Node{
			ID: "c", Type: workflow.NodeTypeCondition,
			Config: map[string]interface{}{
				"condition_type":  conditionType,
				"condition_value": conditionValue,
			},
		}
		out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"value": value}))
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return out
	}

	if out := run("equals", 5, 5.0); out["condition_result"] != true {
		t.Error("equals must normalize int/float64")
	}
	if out := run("contains", "err", "server error"); out["condition_result"] != true {
		t.Error("contains failed")
	}
	if out := run("greater_than", 10, 11.0); out["condition_result"] != true {
		t.Error("greater_than failed")
	}
	if out := run("less_than", 10, 11.0); out["condition_result"] != false {
		t.Error("less_than must be false")
	}
	if out := run("", nil, "non-empty"); out["condition_result"] != true {
		t.Error("default truthy check failed")
	}
	if out := run("", nil, ""); out["condition_result"] != false {
		t.Error("empty string must be falsy")
	}
}

func TestConditionRunner_FieldPath(t *testing.T) {
	r := &conditionRunner{}
	node := &workflow.Node{
		ID: "c", Type: workflow.NodeTypeCondition,
		Config: map[string]interface{}{
			"field_path":      "user.age",
			"condition_type":  "greater_than",
			"condition_value": 18,
		},
	}
	input := map[string]interface{}{
		"data": map[string]interface{}{
			"user": map[string]interface{}{"age": 30},
		},
	}

	out, err := r.Run(context.Background(), invoke(node, input))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["condition_result"] != true {
		t.Errorf("field path condition failed: %v", out)
	}
	if out["evaluated_value"] != float64(30) {
		t.Errorf("evaluated value not extracted, got %v", out["evaluated_value"])
	}
	data, _ := out["data"].(map[string]interface{})
	if data == nil || data["user"] == nil {
		t.Error("condition node must pass data through")
	}
}

func TestTransformerRunner_Modes(t *testing.T) {
	data := map[string]interface{}{"a": 1, "b": "two", "c": true}

	jsonNode := &workflow.Node{ID: "t", Type: workflow.NodeTypeTransformer}
	r := &transformerRunner{}
	out, err := r.Run(context.Background(), invoke(jsonNode, map[string]interface{}{"data": data}))
	if err != nil {
		t.Fatalf("json mode failed: %v", err)
	}
	if _, ok := out["json_output"].(string); !ok {
		t.Errorf("json mode must emit a string, got %T", out["json_output"])
	}

	extractNode := &workflow.Node{
		ID: "t", Type: workflow.NodeTypeTransformer,
		Config: map[string]interface{}{
			"mode":   "extract",
			"fields": []interface{}{"a", "missing"},
		},
	}
	out, err = r.Run(context.Background(), invoke(extractNode, map[string]interface{}{"data": data}))
	if err != nil {
		t.Fatalf("extract mode failed: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("extract must project listed fields, got %v", out)
	}
	if value, present := out["missing"]; !present || value != nil {
		t.Errorf("absent fields project as nil, got %v", out)
	}
}

func TestHTTPRunner_JSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("q") != "ping" {
			t.Errorf("query param not templated: %s", req.URL.RawQuery)
		}
		if req.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("header not set: %v", req.Header)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer server.Close()

	r := &httpRunner{}
	node := &workflow.Node{
		ID: "h", Type: workflow.NodeTypeHTTPRequest,
		Config: map[string]interface{}{
			"url":     server.URL,
			"params":  map[string]interface{}{"q": "{{query}}"},
			"headers": map[string]interface{}{"X-Api-Key": "secret"},
		},
	}

	out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"query": "ping"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["status_code"] != 200 || out["success"] != true {
		t.Errorf("unexpected status handling: %v", out)
	}
	body, _ := out["response_data"].(map[string]interface{})
	if body == nil || body["ok"] != true {
		t.Errorf("json body must decode, got %v", out["response_data"])
	}
}

func TestHTTPRunner_ErrorStatusNeverRaises(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	r := &httpRunner{}
	node := &workflow.Node{
		ID: "h", Type: workflow.NodeTypeHTTPRequest,
		Config: map[string]interface{}{"url": server.URL},
	}

	out, err := r.Run(context.Background(), invoke(node, nil))
	if err != nil {
		t.Fatalf("error status must not raise: %v", err)
	}
	if out["status_code"] != 500 || out["success"] != false {
		t.Errorf("unexpected status handling: %v", out)
	}
	if _, ok := out["response_data"].(string); !ok {
		t.Errorf("non-json body must stay a raw string, got %T", out["response_data"])
	}
}

func TestHTTPRunner_PostBodyFromData(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if ct := req.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %s", ct)
		}
		if err := jsonDecode(req, &received); err != nil {
			t.Errorf("body decode failed: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	r := &httpRunner{}
	node := &workflow.Node{
		ID: "h", Type: workflow.NodeTypeHTTPRequest,
		Config: map[string]interface{}{"url": server.URL, "method": "POST"},
	}
	input := map[string]interface{}{
		"data": map[string]interface{}{"name": "widget"},
	}

	out, err := r.Run(context.Background(), invoke(node, input))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["status_code"] != 201 {
		t.Errorf("unexpected status: %v", out["status_code"])
	}
	if received["name"] != "widget" {
		t.Errorf("input data must become the request body, got %v", received)
	}
}

func TestHTTPRunner_InvalidMethod(t *testing.T) {
	r := &httpRunner{}
	node := &workflow.Node{
		ID: "h", Type: workflow.NodeTypeHTTPRequest,
		Config: map[string]interface{}{"url": "http://localhost", "method": "TRACE"},
	}
	if _, err := r.Run(context.Background(), invoke(node, nil)); err == nil {
		t.Fatal("unsupported method must error")
	}
}

func TestHTTPRunner_GuardBlocksInternalTargets(t *testing.T) {
	r := &httpRunner{guard: netguard.New()}
	node := &workflow.Node{
		ID: "h", Type: workflow.NodeTypeHTTPRequest,
		Config: map[string]interface{}{"url": "http://169.254.169.254/latest/meta-data/"},
	}

	_, err := r.Run(context.Background(), invoke(node, nil))
	if err == nil {
		t.Fatal("metadata endpoint must be blocked")
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Errorf("expected a blocked error, got %v", err)
	}
}

func TestHTTPRunner_AllowPrivateOptsOutOfGuard(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer server.Close()

	r := &httpRunner{guard: netguard.New()}
	node := &workflow.Node{
		ID: "h", Type: workflow.NodeTypeHTTPRequest,
		Config: map[string]interface{}{"url": server.URL, "allow_private": true},
	}

	out, err := r.Run(context.Background(), invoke(node, nil))
	if err != nil {
		t.Fatalf("allow_private must bypass the guard: %v", err)
	}
	if out["success"] != true {
		t.Errorf("unexpected result: %v", out)
	}
}

func jsonDecode(req *http.Request, into interface{}) error {
	defer req.Body.Close()
	return json.NewDecoder(req.Body).Decode(into)
}

func TestRAGRetriever_TenantScopedVectorSearch(t *testing.T) {
	queryVec := []float64{1, 0, 0}
	embed := &stubEmbeddings{
		vectors:  map[string][]float64{"find docs": queryVec},
		fallback: queryVec,
	}
	set := testSet(&stubChat{}, embed)

	store := set.Vector.(*providers.MemoryVectorStore)
	ctx := context.Background()
	mustUpsert(t, store, "tenant_t1_kb1", "close match", []float64{0.9, 0, 0})
	mustUpsert(t, store, "tenant_t1_kb1", "far match", []float64{0, 1, 0})
	// another tenant's collection must never surface
	mustUpsert(t, store, "tenant_t2_kb1", "other tenant", []float64{1, 0, 0})

	r := &ragRetrieverRunner{providers: set}
	node := &workflow.Node{
		ID: "rag", Type: workflow.NodeTypeRAGRetriever,
		Config: map[string]interface{}{"kb": "kb1", "top_k": 5},
	}

	out, err := r.Run(ctx, invoke(node, map[string]interface{}{"query": "find docs"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	docs, _ := out["documents"].([]interface{})
	if len(docs) != 2 {
		t.Fatalf("expected 2 tenant-scoped docs, got %d", len(docs))
	}
	first, _ := docs[0].(map[string]interface{})
	if first["text"] != "close match" || first["source"] != "vector" {
		t.Errorf("unexpected top document: %v", first)
	}
	if sim, _ := first["similarity"].(float64); sim <= 0 || sim > 1 {
		t.Errorf("similarity out of range: %v", sim)
	}
	if out["total_results"] != 2 {
		t.Errorf("total_results wrong: %v", out["total_results"])
	}
}

func TestRAGRetriever_DimensionMismatchSelfHeals(t *testing.T) {
	embed := &stubEmbeddings{fallback: []float64{1, 0, 0, 0}}
	set := testSet(&stubChat{}, embed)

	store := set.Vector.(*providers.MemoryVectorStore)
	// collection pre-exists at dimension 3; the query embeds at 4
	mustUpsert(t, store, "tenant_t1_kb1", "stale doc", []float64{1, 0, 0})

	r := &ragRetrieverRunner{providers: set}
	node := &workflow.Node{
		ID: "rag", Type: workflow.NodeTypeRAGRetriever,
		Config: map[string]interface{}{"kb": "kb1"},
	}

	out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"query": "anything"}))
	if err != nil {
		t.Fatalf("dimension mismatch must self-heal, got %v", err)
	}
	if out["total_results"] != 0 {
		t.Errorf("recreated collection must be empty, got %v", out)
	}
}

func TestHybridRetriever_MergeOrderAndDedup(t *testing.T) {
	queryVec := []float64{1, 0}
	embed := &stubEmbeddings{fallback: queryVec}
	set := testSet(&stubChat{}, embed)

	ctx := context.Background()
	store := set.Vector.(*providers.MemoryVectorStore)
	mustUpsert(t, store, "tenant_t1_kb1", "shared doc", []float64{1, 0})
	mustUpsert(t, store, "tenant_t1_kb1", "vector only", []float64{0.8, 0.1})

	index := set.Keyword.(*providers.MemoryKeywordIndex)
	if err := index.Index(ctx, "tenant_t1_kb1", "shared doc", nil); err != nil {
		t.Fatalf("Index failed: %v", err)
	}
	if err := index.Index(ctx, "tenant_t1_kb1", "keyword doc only here", nil); err != nil {
		t.Fatalf("Index failed: %v", err)
	}

	r := &hybridRetrieverRunner{providers: set, log: logger.NewNop()}
	node := &workflow.Node{
		ID: "hy", Type: workflow.NodeTypeHybridRetriever,
		Config: map[string]interface{}{"kb": "kb1", "top_k": 5},
	}

	out, err := r.Run(ctx, invoke(node, map[string]interface{}{"query": "shared doc keyword"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	docs, _ := out["documents"].([]interface{})
	if out["total_results"] != 3 || len(docs) != 3 {
		t.Fatalf("expected 3 merged docs, got %v", out["total_results"])
	}
	first, _ := docs[0].(map[string]interface{})
	if first["source"] != "vector" {
		t.Errorf("vector docs must lead the merge, got %v", first)
	}
	texts := map[string]int{}
	for _, raw := range docs {
		doc, _ := raw.(map[string]interface{})
		texts[doc["text"].(string)]++
	}
	if texts["shared doc"] != 1 {
		t.Errorf("duplicate text must be deduplicated, got %v", texts)
	}
}

func TestRetrieverRunner_KeywordModeWithoutIndex(t *testing.T) {
	set := testSet(&stubChat{}, &stubEmbeddings{fallback: []float64{1}})
	set.Keyword = nil

	r := &retrieverRunner{providers: set, log: logger.NewNop()}
	node := &workflow.Node{
		ID: "ret", Type: workflow.NodeTypeRetriever,
		Config: map[string]interface{}{"mode": "keyword"},
	}

	if _, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"query": "q"})); err == nil {
		t.Fatal("keyword mode without an index must error")
	}
}

func TestRerankerRunner_RescoresAndAliases(t *testing.T) {
	set := testSet(&stubChat{}, nil)
	r := &rerankerRunner{providers: set}

	node := &workflow.Node{ID: "rr", Type: workflow.NodeTypeReranker}
	input := map[string]interface{}{
		"query": "blue widgets",
		"documents": []interface{}{
			map[string]interface{}{"text": "red gadgets entirely"},
			map[string]interface{}{"text": "blue widgets in stock"},
		},
	}

	out, err := r.Run(context.Background(), invoke(node, input))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	docs, _ := out["documents"].([]interface{})
	if len(docs) != 2 {
		t.Fatalf("expected 2 reranked docs, got %d", len(docs))
	}
	top, _ := docs[0].(map[string]interface{})
	if top["text"] != "blue widgets in stock" {
		t.Errorf("lexical rerank order wrong: %v", top)
	}
	if _, ok := top["rerank_score"]; !ok {
		t.Error("rerank score missing")
	}
	if out["reranked_documents"] == nil {
		t.Error("reranked_documents alias missing")
	}
}

func TestRerankerRunner_EmptyDocuments(t *testing.T) {
	r := &rerankerRunner{providers: testSet(&stubChat{}, nil)}
	node := &workflow.Node{ID: "rr", Type: workflow.NodeTypeReranker}

	out, err := r.Run(context.Background(), invoke(node, map[string]interface{}{"query": "q"}))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out["total_results"] != 0 {
		t.Errorf("empty input must yield empty output, got %v", out)
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	set := testSet(&stubChat{reply: "x"}, &stubEmbeddings{fallback: []float64{1}})
	registry := NewRegistry(set, nil, logger.NewNop())

	for _, nodeType := range []string{
		workflow.NodeTypeInput, workflow.NodeTypeOutput, workflow.NodeTypeLLM,
		workflow.NodeTypeRAGRetriever, workflow.NodeTypeHybridRetriever,
		workflow.NodeTypeReranker, workflow.NodeTypeParser,
		workflow.NodeTypeCondition, workflow.NodeTypeTransformer,
		workflow.NodeTypeHTTPRequest, workflow.NodeTypeCodeExecutor,
	} {
		if !registry.Has(nodeType) {
			t.Errorf("runner missing for %s", nodeType)
		}
	}

	_, err := registry.Run(context.Background(), invoke(
		&workflow.Node{ID: "x", Type: "bogus_type"}, nil))
	if err == nil {
		t.Fatal("unknown node type must error")
	}
}

func mustUpsert(t *testing.T, store *providers.MemoryVectorStore, collection, text string, vector []float64) {
	t.Helper()
	if err := store.Upsert(context.Background(), collection, text, vector, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
}
