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

// Package main is the entry point for the Longopass AI Gateway.
//
// The gateway fans user requests out to multiple LLM providers through
// OpenRouter, validates and synthesizes the replies, and enforces a
// health-only topic guard in front of every free-text request.
//
// Usage:
//
//	./gateway
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string (required)
//	OPENROUTER_API_KEY - OpenRouter API key
//	OPENROUTER_API_KEY_SECRET_ARN - Secrets Manager ARN holding the key
//	PARALLEL_MODELS - comma-separated model roster
//	SYNTHESIS_MODEL - model used to merge parallel candidates
//	HEALTH_MODE - guard mode: strict | lenient | topic | hybrid
//	REDIS_ADDR - optional Redis address for the classifier cache
package main

import (
	"github.com/longopass/ai-gateway/gateway"
)

func main() {
	gateway.Run()
}
