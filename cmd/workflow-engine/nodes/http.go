package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lyzr/ragflow/cmd/workflow-engine/netguard"
	"github.com/lyzr/ragflow/common/template"
	"github.com/lyzr/ragflow/common/workflow"
)

const defaultHTTPTimeout = 30 * time.Second

// httpRunner performs one outbound HTTP call. Status codes never raise;
// the caller inspects success = status < 400.
type httpRunner struct {
	client *http.Client
	guard  *netguard.Guard
}

func (r *httpRunner) Type() string { return workflow.NodeTypeHTTPRequest }

func (r *httpRunner) Run(ctx context.Context, inv *Invocation) (map[string]interface{}, error) {
	scope := template.Scope{
		Data:    inv.Input,
		Input:   inv.Execution.InputData,
		Context: inv.Execution.GlobalContext,
	}

	rawURL := inputString(inv.Input, "url")
	if rawURL == "" {
		rawURL = configString(inv.Node, "url", "")
	}
	if rawURL == "" {
		return nil, fmt.Errorf("http_request node missing url")
	}
	rawURL = template.Render(rawURL, scope)

	method := strings.ToUpper(configString(inv.Node, "method", http.MethodGet))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("http_request node has invalid method: %s", method)
	}

	timeout := defaultHTTPTimeout
	if secs := configFloat(inv.Node, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("http_request node has invalid url: %w", err)
	}
	if params, ok := inv.Node.Config["params"].(map[string]interface{}); ok {
		query := parsed.Query()
		for key, value := range params {
			query.Set(key, template.Render(asString(value), scope))
		}
		parsed.RawQuery = query.Encode()
	}

	// allow_private opts a node out of destination screening, for
	// workflows that legitimately target in-cluster services
	if r.guard != nil && !configBool(inv.Node, "allow_private", false) {
		if err := r.guard.CheckURL(parsed); err != nil {
			return nil, fmt.Errorf("http_request blocked: %w", err)
		}
	}

	body, contentType, err := requestBody(inv, scope, method)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return nil, fmt.Errorf("http_request build failed: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := inv.Node.Config["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			req.Header.Set(key, template.Render(asString(value), scope))
		}
	}

	client := r.client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("http request timeout after %s: %w", timeout, err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http response read failed: %w", err)
	}

	var responseData interface{}
	if err := json.Unmarshal(raw, &responseData); err != nil {
		responseData = string(raw)
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for key := range resp.Header {
		respHeaders[key] = resp.Header.Get(key)
	}

	return map[string]interface{}{
		"status_code":   resp.StatusCode,
		"response_data": responseData,
		"headers":       respHeaders,
		"success":       resp.StatusCode < 400,
	}, nil
}

// requestBody assembles the outbound body. Map/array bodies go as JSON;
// string bodies are templated and sent as raw text.
func requestBody(inv *Invocation, scope template.Scope, method string) (io.Reader, string, error) {
	if method == http.MethodGet || method == http.MethodDelete {
		return nil, "", nil
	}

	payload, ok := inv.Node.Config["body"]
	if !ok {
		if data, present := inv.Input["data"]; present {
			payload = data
		}
	}
	if payload == nil {
		return nil, "", nil
	}

	if text, ok := payload.(string); ok {
		rendered := template.Render(text, scope)
		if json.Valid([]byte(rendered)) {
			return strings.NewReader(rendered), "application/json", nil
		}
		return strings.NewReader(rendered), "text/plain", nil
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("http_request body serialization failed: %w", err)
	}
	return bytes.NewReader(encoded), "application/json", nil
}
