// Package client contains Cobra CLI commands that talk to a running taskqd
// server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// baseURLFromEnv returns the server base URL from TASKQ_HTTP or a default.
func baseURLFromEnv() string {
	if addr := os.Getenv("TASKQ_HTTP"); addr != "" {
		return addr
	}
	return "http://127.0.0.1:8080"
}

func apiKeyFromEnv() string { return os.Getenv("TASKQ_API_KEY") }

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// doRequest issues a request against the server and decodes the JSON response.
// Non-2xx statuses become errors carrying the server's error message.
func doRequest(ctx context.Context, method, base, path string, query url.Values, body any) (map[string]any, error) {
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, err
		}
		rd = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := apiKeyFromEnv(); key != "" {
		req.Header.Set("x-api-key", key)
	}

	resp, err := newHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if msg, ok := out["error"].(string); ok {
			return out, fmt.Errorf("%s: %s", resp.Status, msg)
		}
		return out, fmt.Errorf("server returned %s", resp.Status)
	}
	return out, nil
}

// printJSON renders a response map as indented JSON.
func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
