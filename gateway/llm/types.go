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

// Package llm provides the model invocation client used by the gateway.
// It speaks the OpenAI-compatible chat-completions protocol exposed by
// OpenRouter, issuing one blocking request per call. Retry and fallback
// policy belong to the caller, never to this package.
package llm

import (
	"encoding/json"
	"fmt"
)

// Message roles accepted by the chat-completions API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged turn in a prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UsageStats tracks token usage for one completion.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CallResult is the outcome of one successful model invocation.
// It is owned by the caller that issued the call and is never shared
// across concurrent calls.
type CallResult struct {
	// Content is the generated text response.
	Content string `json:"content"`

	// Model is the model identifier the call was issued against.
	Model string `json:"model"`

	// LatencyMS is the wall-clock duration of the call in milliseconds.
	LatencyMS int64 `json:"latency_ms"`

	// Usage contains token usage reported by the provider.
	Usage UsageStats `json:"usage"`

	// Raw is the unparsed provider payload, kept for audit storage.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// InvocationError carries the provider status and message for a failed
// call. Transport errors, non-2xx responses and malformed bodies all
// surface as this type.
type InvocationError struct {
	Model      string
	StatusCode int
	Message    string
	Err        error
}

func (e *InvocationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm invocation failed: model=%s status=%d: %s", e.Model, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm invocation failed: model=%s: %s", e.Model, e.Message)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
