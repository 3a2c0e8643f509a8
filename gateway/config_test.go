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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Len(t, cfg.ParallelModels, 4)
	assert.Equal(t, "openai/gpt-5-chat", cfg.SynthesisModel)
	assert.Equal(t, 8*time.Second, cfg.ParallelTimeout)
	assert.Equal(t, 2*time.Second, cfg.ModerationTimeout)
	assert.Equal(t, "strict", cfg.HealthMode)
	assert.True(t, cfg.GuardFailOpen)
	assert.True(t, cfg.PrescriptionBlock)
	assert.Equal(t, 200, cfg.CascadeMinChars)
	assert.Equal(t, 1, cfg.FreeAnalyzeLimit)
	assert.Equal(t, 100, cfg.DailyChatLimit)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PARALLEL_MODELS", "a/one, b/two ,c/three")
	t.Setenv("PARALLEL_TIMEOUT_MS", "1500")
	t.Setenv("HEALTH_MODE", "hybrid")
	t.Setenv("GUARD_FAIL_OPEN", "false")
	t.Setenv("DAILY_CHAT_LIMIT", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"a/one", "b/two", "c/three"}, cfg.ParallelModels)
	assert.Equal(t, 1500*time.Millisecond, cfg.ParallelTimeout)
	assert.Equal(t, "hybrid", cfg.HealthMode)
	assert.False(t, cfg.GuardFailOpen)
	assert.Equal(t, 5, cfg.DailyChatLimit)
}

func TestLoadConfigFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := "synthesis_model: other/model\nfree_analyze_limit: 3\nparallel_timeout_ms: 4000\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("GATEWAY_CONFIG_FILE", path)
	t.Setenv("SYNTHESIS_MODEL", "env/model")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "other/model", cfg.SynthesisModel, "file overrides env")
	assert.Equal(t, 3, cfg.FreeAnalyzeLimit)
	assert.Equal(t, 4*time.Second, cfg.ParallelTimeout)
	assert.Equal(t, "strict", cfg.HealthMode, "keys absent from the file keep env defaults")
}

func TestLoadConfigRejectsEmptyRoster(t *testing.T) {
	t.Setenv("PARALLEL_MODELS", " , ,")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\tnot yaml"), 0o644))

	t.Setenv("GATEWAY_CONFIG_FILE", path)

	_, err := LoadConfig()
	assert.Error(t, err)
}
