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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsChatAcceptable(t *testing.T) {
	o := newTestOrchestrator(&fakeInvoker{}, []string{"model-a"}, 50)

	t.Run("accepts long health reply", func(t *testing.T) {
		ok, _ := o.isChatAcceptable(strings.Repeat("Magnezyum kas fonksiyonunu destekler. ", 3))
		assert.True(t, ok)
	})

	t.Run("rejects short reply", func(t *testing.T) {
		ok, reason := o.isChatAcceptable("kısa")
		assert.False(t, ok)
		assert.Contains(t, reason, "shorter")
	})

	t.Run("rejects denied topic", func(t *testing.T) {
		ok, reason := o.isChatAcceptable(strings.Repeat("Borsa yatırımı ve hisse senedi tavsiyeleri. ", 3))
		assert.False(t, ok)
		assert.Contains(t, reason, "off-topic")
	})
}

func TestIsAnalysisAcceptable(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"object with list recommendations", `{"recommendations":[],"analysis":{}}`, true},
		{"object without recommendations", `{"analysis":{"summary":"ok"}}`, true},
		{"fenced object", "```json\n{\"analysis\":{\"summary\":\"ok\"}}\n```", true},
		{"recommendations not a list", `{"recommendations":"yok"}`, false},
		{"array", `[1,2,3]`, false},
		{"free text", "serbest metin", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := isAnalysisAcceptable(tt.input)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestIsNonEmpty(t *testing.T) {
	ok, _ := isNonEmpty("içerik")
	assert.True(t, ok)

	ok, reason := isNonEmpty("   \n ")
	assert.False(t, ok)
	assert.Equal(t, "empty reply", reason)
}
