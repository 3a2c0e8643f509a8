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

package gateway

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/longopass/ai-gateway/gateway/guard"
	"github.com/longopass/ai-gateway/gateway/llm"
)

// Run starts the gateway. It blocks until the HTTP server exits.
func Run() {
	log.Println("Starting Longopass AI Gateway...")

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx := context.Background()

	apiKey := cfg.OpenRouterAPIKey
	if apiKey == "" && cfg.APIKeySecretARN != "" {
		apiKey, err = fetchAPIKey(ctx, cfg.APIKeySecretARN, cfg.AWSRegion)
		if err != nil {
			log.Fatalf("Failed to fetch API key from Secrets Manager: %v", err)
		}
	}
	if apiKey == "" {
		log.Fatal("OPENROUTER_API_KEY or OPENROUTER_API_KEY_SECRET_ARN is required")
	}

	providerClient, err := llm.NewClient(llm.Config{
		APIKey:  apiKey,
		BaseURL: cfg.OpenRouterBaseURL,
		Timeout: cfg.ParallelTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create provider client: %v", err)
	}

	moderationClient, err := llm.NewClient(llm.Config{
		APIKey:  apiKey,
		BaseURL: cfg.OpenRouterBaseURL,
		Timeout: cfg.ModerationTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create moderation client: %v", err)
	}

	var labelCache guard.LabelCache
	if cfg.RedisAddr != "" {
		redisCache, err := guard.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer func() { _ = redisCache.Close() }()
		labelCache = redisCache
		log.Printf("Classifier cache: redis (%s)", cfg.RedisAddr)
	} else {
		labelCache = guard.NewMemoryCache()
		log.Println("Classifier cache: in-memory")
	}

	classifier := guard.NewClassifier(moderationClient, cfg.ModerationModel, labelCache, guard.DefaultClassifierTTL)
	topicGuard := guard.New(guard.Config{
		Mode:              guard.Mode(cfg.HealthMode),
		PrescriptionBlock: cfg.PrescriptionBlock,
		FailOpen:          cfg.GuardFailOpen,
		Classifier:        classifier,
	})

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	store, err := NewStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	orch := NewOrchestrator(providerClient, topicGuard, cfg)
	server := NewServer(cfg, store, orch, topicGuard)

	r := server.Routes()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	handler := c.Handler(r)

	log.Printf("Gateway listening on port %s (mode=%s, models=%d)",
		cfg.Port, cfg.HealthMode, len(cfg.ParallelModels))
	log.Fatal(http.ListenAndServe(":"+cfg.Port, handler))
}
