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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration, loaded once at process start.
// Environment variables are the primary source; an optional YAML file
// named by GATEWAY_CONFIG_FILE overrides individual fields.
type Config struct {
	Port string `yaml:"port"`

	// Provider
	OpenRouterAPIKey  string `yaml:"openrouter_api_key"`
	OpenRouterBaseURL string `yaml:"openrouter_base_url"`
	APIKeySecretARN   string `yaml:"api_key_secret_arn"`
	AWSRegion         string `yaml:"aws_region"`

	// Roster
	ParallelModels  []string      `yaml:"parallel_models"`
	SynthesisModel  string        `yaml:"synthesis_model"`
	ParallelTimeout time.Duration `yaml:"-"`

	// Validation and history
	CascadeMinChars int `yaml:"cascade_min_chars"`
	ChatHistoryMax  int `yaml:"chat_history_max"`

	// Plans and quotas
	FreeAnalyzeLimit int `yaml:"free_analyze_limit"`
	DailyChatLimit   int `yaml:"daily_chat_limit"`

	// Guard
	HealthMode        string        `yaml:"health_mode"`
	GuardFailOpen     bool          `yaml:"guard_fail_open"`
	ModerationModel   string        `yaml:"moderation_model"`
	ModerationTimeout time.Duration `yaml:"-"`
	PrescriptionBlock bool          `yaml:"prescription_block"`

	// HTTP
	AllowedOrigins []string `yaml:"allowed_origins"`
	WidgetPath     string   `yaml:"widget_path"`

	// Persistence and cache
	DatabaseURL    string `yaml:"database_url"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	LogProviderRaw bool   `yaml:"log_provider_raw"`

	// Identity
	JWTSecret string `yaml:"jwt_secret"`
}

// LoadConfig reads the configuration from the environment, then applies
// the optional YAML overlay.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		APIKeySecretARN:   os.Getenv("OPENROUTER_API_KEY_SECRET_ARN"),
		AWSRegion:         os.Getenv("AWS_REGION"),
		ParallelModels: splitCSV(getEnv("PARALLEL_MODELS",
			"google/gemini-2.5-pro,x-ai/grok-2,deepseek/deepseek-r1,meta-llama/llama-3.1-8b-instruct")),
		SynthesisModel:    getEnv("SYNTHESIS_MODEL", "openai/gpt-5-chat"),
		ParallelTimeout:   envMillis("PARALLEL_TIMEOUT_MS", 8000),
		CascadeMinChars:   envInt("CASCADE_MIN_CHARS", 200),
		ChatHistoryMax:    envInt("CHAT_HISTORY_MAX", 20),
		FreeAnalyzeLimit:  envInt("FREE_ANALYZE_LIMIT", 1),
		DailyChatLimit:    envInt("DAILY_CHAT_LIMIT", 100),
		HealthMode:        getEnv("HEALTH_MODE", "strict"),
		GuardFailOpen:     envBool("GUARD_FAIL_OPEN", true),
		ModerationModel:   getEnv("MODERATION_MODEL", "meta-llama/llama-3.1-8b-instruct"),
		ModerationTimeout: envMillis("MODERATION_TIMEOUT_MS", 2000),
		PrescriptionBlock: envBool("PRESCRIPTION_BLOCK", true),
		AllowedOrigins:    splitCSV(getEnv("ALLOWED_ORIGINS", "*")),
		WidgetPath:        getEnv("WIDGET_PATH", "frontend/widget.js"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		LogProviderRaw:    envBool("LOG_PROVIDER_RAW", true),
		JWTSecret:         os.Getenv("JWT_SECRET"),
	}

	if file := os.Getenv("GATEWAY_CONFIG_FILE"); file != "" {
		if err := cfg.applyFile(file); err != nil {
			return nil, fmt.Errorf("failed to apply config file %s: %w", file, err)
		}
	}

	if len(cfg.ParallelModels) == 0 {
		return nil, fmt.Errorf("PARALLEL_MODELS must name at least one model")
	}
	if cfg.SynthesisModel == "" {
		return nil, fmt.Errorf("SYNTHESIS_MODEL is required")
	}

	return cfg, nil
}

// fileOverlay mirrors Config with pointer fields so only keys present in
// the YAML file override the environment.
type fileOverlay struct {
	Port                *string   `yaml:"port"`
	OpenRouterAPIKey    *string   `yaml:"openrouter_api_key"`
	OpenRouterBaseURL   *string   `yaml:"openrouter_base_url"`
	ParallelModels      *[]string `yaml:"parallel_models"`
	SynthesisModel      *string   `yaml:"synthesis_model"`
	ParallelTimeoutMS   *int      `yaml:"parallel_timeout_ms"`
	CascadeMinChars     *int      `yaml:"cascade_min_chars"`
	ChatHistoryMax      *int      `yaml:"chat_history_max"`
	FreeAnalyzeLimit    *int      `yaml:"free_analyze_limit"`
	DailyChatLimit      *int      `yaml:"daily_chat_limit"`
	HealthMode          *string   `yaml:"health_mode"`
	GuardFailOpen       *bool     `yaml:"guard_fail_open"`
	ModerationModel     *string   `yaml:"moderation_model"`
	ModerationTimeoutMS *int      `yaml:"moderation_timeout_ms"`
	PrescriptionBlock   *bool     `yaml:"prescription_block"`
	AllowedOrigins      *[]string `yaml:"allowed_origins"`
	WidgetPath          *string   `yaml:"widget_path"`
	DatabaseURL         *string   `yaml:"database_url"`
	RedisAddr           *string   `yaml:"redis_addr"`
	LogProviderRaw      *bool     `yaml:"log_provider_raw"`
	JWTSecret           *string   `yaml:"jwt_secret"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}

	if overlay.Port != nil {
		c.Port = *overlay.Port
	}
	if overlay.OpenRouterAPIKey != nil {
		c.OpenRouterAPIKey = *overlay.OpenRouterAPIKey
	}
	if overlay.OpenRouterBaseURL != nil {
		c.OpenRouterBaseURL = *overlay.OpenRouterBaseURL
	}
	if overlay.ParallelModels != nil {
		c.ParallelModels = *overlay.ParallelModels
	}
	if overlay.SynthesisModel != nil {
		c.SynthesisModel = *overlay.SynthesisModel
	}
	if overlay.ParallelTimeoutMS != nil {
		c.ParallelTimeout = time.Duration(*overlay.ParallelTimeoutMS) * time.Millisecond
	}
	if overlay.CascadeMinChars != nil {
		c.CascadeMinChars = *overlay.CascadeMinChars
	}
	if overlay.ChatHistoryMax != nil {
		c.ChatHistoryMax = *overlay.ChatHistoryMax
	}
	if overlay.FreeAnalyzeLimit != nil {
		c.FreeAnalyzeLimit = *overlay.FreeAnalyzeLimit
	}
	if overlay.DailyChatLimit != nil {
		c.DailyChatLimit = *overlay.DailyChatLimit
	}
	if overlay.HealthMode != nil {
		c.HealthMode = *overlay.HealthMode
	}
	if overlay.GuardFailOpen != nil {
		c.GuardFailOpen = *overlay.GuardFailOpen
	}
	if overlay.ModerationModel != nil {
		c.ModerationModel = *overlay.ModerationModel
	}
	if overlay.ModerationTimeoutMS != nil {
		c.ModerationTimeout = time.Duration(*overlay.ModerationTimeoutMS) * time.Millisecond
	}
	if overlay.PrescriptionBlock != nil {
		c.PrescriptionBlock = *overlay.PrescriptionBlock
	}
	if overlay.AllowedOrigins != nil {
		c.AllowedOrigins = *overlay.AllowedOrigins
	}
	if overlay.WidgetPath != nil {
		c.WidgetPath = *overlay.WidgetPath
	}
	if overlay.DatabaseURL != nil {
		c.DatabaseURL = *overlay.DatabaseURL
	}
	if overlay.RedisAddr != nil {
		c.RedisAddr = *overlay.RedisAddr
	}
	if overlay.LogProviderRaw != nil {
		c.LogProviderRaw = *overlay.LogProviderRaw
	}
	if overlay.JWTSecret != nil {
		c.JWTSecret = *overlay.JWTSecret
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func envBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true")
	}
	return defaultValue
}

func envMillis(key string, defaultMS int) time.Duration {
	return time.Duration(envInt(key, defaultMS)) * time.Millisecond
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
