// Package ollama implements the executor port against an Ollama-compatible
// /api/generate endpoint, one executor per model.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/agentopt/internal/domain/task"
	"github.com/Strob0t/agentopt/internal/port/executor"
)

// Client talks to one Ollama server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      func() string
}

// NewClient creates a client with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithToken makes the client send token() as a bearer token on every
// request, for servers behind an authenticating proxy. The token is read
// per request so it can be rotated at runtime.
func (c *Client) WithToken(token func() string) *Client {
	c.token = token
	return c
}

// Executor runs tasks on a single model.
type Executor struct {
	client *Client
	model  string
}

// Executor returns an executor bound to model.
func (c *Client) Executor(model string) *Executor {
	return &Executor{client: c, model: model}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	DoneReason    string `json:"done_reason,omitempty"`
	EvalCount     int    `json:"eval_count,omitempty"`
	TotalDuration int64  `json:"total_duration,omitempty"`
}

// Execute sends the task as a single prompt and returns the completion.
func (e *Executor) Execute(ctx context.Context, t task.Task) (executor.Result, error) {
	body, err := json.Marshal(generateRequest{Model: e.model, Prompt: Prompt(t)})
	if err != nil {
		return executor.Result{}, fmt.Errorf("marshal generate: %w", err)
	}

	data, err := e.client.do(ctx, http.MethodPost, "/api/generate", body)
	if err != nil {
		return executor.Result{}, fmt.Errorf("generate %s: %w", e.model, err)
	}

	var resp generateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return executor.Result{}, fmt.Errorf("unmarshal generate: %w", err)
	}
	if !resp.Done {
		return executor.Result{}, fmt.Errorf("generate %s: incomplete response", e.model)
	}
	if strings.TrimSpace(resp.Response) == "" {
		return executor.Result{}, fmt.Errorf("generate %s: empty response", e.model)
	}

	return executor.Result{
		Output: resp.Response,
		Metadata: map[string]any{
			"model":       e.model,
			"eval_count":  resp.EvalCount,
			"done_reason": resp.DoneReason,
		},
	}, nil
}

// Models lists the models installed on the server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal models: %w", err)
	}
	out := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		out = append(out, m.Name)
	}
	sort.Strings(out)
	return out, nil
}

// Prompt renders a task as a plain-text prompt. Requirements are listed
// in key order so equal tasks produce equal prompts.
func Prompt(t task.Task) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(t.Title)
	if t.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(t.Description)
	}
	if len(t.Requirements) > 0 {
		keys := make([]string, 0, len(t.Requirements))
		for k := range t.Requirements {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n\nRequirements:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %v", k, t.Requirements[k])
		}
	}
	return b.String()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
