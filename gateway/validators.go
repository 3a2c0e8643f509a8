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
	"encoding/json"
	"strings"
)

// parseJSONObject parses text as a JSON object. It returns nil and false
// for anything that is not an object.
func parseJSONObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// isChatAcceptable rejects empty or too-short replies and replies the
// guard's keyword/regex layer classifies as off-topic. Deterministic, no
// network calls.
func (o *Orchestrator) isChatAcceptable(text string) (bool, string) {
	if len(strings.TrimSpace(text)) < o.minChars {
		return false, "reply shorter than minimum length"
	}
	if !o.guard.IsHealthTopic(text) {
		return false, "reply off-topic"
	}
	return true, ""
}

// isAnalysisAcceptable checks that text is a JSON object (after code
// fence stripping) and that a recommendations field, when present, is a
// list. The analysis field is optional here; strict parsing enforces it
// after synthesis. The reason string names the failing check.
func isAnalysisAcceptable(text string) (bool, string) {
	obj, ok := parseJSONObject(stripCodeFence(text))
	if !ok {
		return false, "not a JSON object"
	}
	if recs, present := obj["recommendations"]; present {
		if _, isList := recs.([]any); !isList {
			return false, "recommendations is not a list"
		}
	}
	return true, ""
}

// isNonEmpty is the loose acceptance predicate for quiz and lab calls;
// JSON-shape enforcement happens at synthesis for those paths.
func isNonEmpty(text string) (bool, string) {
	if strings.TrimSpace(text) == "" {
		return false, "empty reply"
	}
	return true, ""
}
