// Copyright 2025 Longopass
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultBaseURL is the default OpenRouter API endpoint.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds a single model call.
	DefaultTimeout = 8 * time.Second
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues completion calls against an OpenAI-compatible endpoint.
// It is safe for concurrent use.
type Client struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  HTTPClient
}

// Config contains configuration for the invocation client.
type Config struct {
	APIKey  string        // Required: provider API key
	BaseURL string        // Optional: API base URL (default: OpenRouter)
	Timeout time.Duration // Optional: per-call timeout (default: 8s)
}

// NewClient creates a new invocation client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// chatCompletionRequest is the OpenAI-compatible request body.
type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// chatCompletionResponse covers the fields the gateway reads from the
// provider payload. The full body is retained in CallResult.Raw.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage UsageStats `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Invoke issues one synchronous completion call to the named model and
// measures wall-clock latency around it. Any transport error, non-2xx
// status or malformed body returns an *InvocationError; the client never
// retries.
func (c *Client) Invoke(ctx context.Context, model string, messages []Message, temperature float64, maxTokens int) (*CallResult, error) {
	if model == "" {
		return nil, &InvocationError{Message: "model identifier is required"}
	}
	if len(messages) == 0 {
		return nil, &InvocationError{Model: model, Message: "messages must not be empty"}
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, &InvocationError{Model: model, Message: "failed to marshal request", Err: err}
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, &InvocationError{Model: model, Message: "failed to create request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	latencyMS := time.Since(start).Milliseconds()
	if err != nil {
		return nil, &InvocationError{Model: model, Message: "transport error", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &InvocationError{Model: model, StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &InvocationError{Model: model, StatusCode: resp.StatusCode, Message: providerErrorMessage(raw)}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &InvocationError{Model: model, StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &InvocationError{Model: model, StatusCode: resp.StatusCode, Message: "response contains no choices"}
	}

	return &CallResult{
		Content:   parsed.Choices[0].Message.Content,
		Model:     model,
		LatencyMS: latencyMS,
		Usage:     parsed.Usage,
		Raw:       raw,
	}, nil
}

// providerErrorMessage extracts a human-readable error from a non-2xx body.
func providerErrorMessage(raw []byte) string {
	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	msg := string(raw)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
