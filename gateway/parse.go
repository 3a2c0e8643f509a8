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
	"fmt"
	"strings"
)

// stripCodeFence removes a surrounding Markdown code fence, which some
// models wrap around JSON output despite instructions.
func stripCodeFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// parseAnalyzeResponse strictly parses synthesized analyze output.
// The response must be a JSON object with a recommendations list
// (possibly empty) and a non-empty analysis object; violations are
// reported by field.
func parseAnalyzeResponse(text string) (*AnalyzeResponse, error) {
	cleaned := stripCodeFence(text)

	var parsed struct {
		Recommendations json.RawMessage `json:"recommendations"`
		Analysis        map[string]any  `json:"analysis"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}

	recommendations := []RecommendationItem{}
	if len(parsed.Recommendations) > 0 && string(parsed.Recommendations) != "null" {
		if err := json.Unmarshal(parsed.Recommendations, &recommendations); err != nil {
			return nil, fmt.Errorf("recommendations is not a list of items: %w", err)
		}
	}
	for i, r := range recommendations {
		if r.Name == "" {
			return nil, fmt.Errorf("recommendations[%d]: missing name", i)
		}
	}

	if len(parsed.Analysis) == 0 {
		return nil, fmt.Errorf("analysis object is missing or empty")
	}

	return &AnalyzeResponse{
		Recommendations: recommendations,
		Analysis:        parsed.Analysis,
		Disclaimer:      Disclaimer,
	}, nil
}

// parseQuizResponse strictly parses synthesized quiz output and
// guarantees the fixed top-level sections. Missing section titles are
// filled with the canonical ones; a missing section is an error.
func parseQuizResponse(text string) (*QuizResponse, error) {
	cleaned := stripCodeFence(text)

	var parsed struct {
		NutritionAdvice           *AdviceSection             `json:"nutrition_advice"`
		LifestyleAdvice           *AdviceSection             `json:"lifestyle_advice"`
		GeneralWarnings           *WarningSection            `json:"general_warnings"`
		SupplementRecommendations []SupplementRecommendation `json:"supplement_recommendations"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}

	if parsed.NutritionAdvice == nil {
		return nil, fmt.Errorf("nutrition_advice section is missing")
	}
	if parsed.LifestyleAdvice == nil {
		return nil, fmt.Errorf("lifestyle_advice section is missing")
	}
	if parsed.GeneralWarnings == nil {
		return nil, fmt.Errorf("general_warnings section is missing")
	}
	if parsed.SupplementRecommendations == nil {
		return nil, fmt.Errorf("supplement_recommendations list is missing")
	}

	if parsed.NutritionAdvice.Title == "" {
		parsed.NutritionAdvice.Title = "Beslenme Önerileri"
	}
	if parsed.LifestyleAdvice.Title == "" {
		parsed.LifestyleAdvice.Title = "Yaşam Tarzı Önerileri"
	}
	if parsed.GeneralWarnings.Title == "" {
		parsed.GeneralWarnings.Title = "Genel Uyarılar"
	}
	for i := range parsed.SupplementRecommendations {
		if parsed.SupplementRecommendations[i].Priority == "" {
			parsed.SupplementRecommendations[i].Priority = "medium"
		}
	}

	return &QuizResponse{
		Success:                   true,
		Message:                   "Online Sağlık Quizini Başarıyla Tamamladınız",
		NutritionAdvice:           *parsed.NutritionAdvice,
		LifestyleAdvice:           *parsed.LifestyleAdvice,
		GeneralWarnings:           *parsed.GeneralWarnings,
		SupplementRecommendations: parsed.SupplementRecommendations,
		Disclaimer:                Disclaimer,
	}, nil
}

// parseLabResponse strictly parses synthesized lab interpretation
// output. The multiple variant additionally requires the aggregate
// overall_status tag; a conservative default fills it when absent.
func parseLabResponse(text string, multiple bool) (*LabAnalysisResponse, error) {
	cleaned := stripCodeFence(text)

	var parsed struct {
		Analysis      map[string]any `json:"analysis"`
		OverallStatus string         `json:"overall_status"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("not a JSON object: %w", err)
	}

	if len(parsed.Analysis) == 0 {
		return nil, fmt.Errorf("analysis object is missing or empty")
	}

	response := &LabAnalysisResponse{
		Analysis:   parsed.Analysis,
		Disclaimer: Disclaimer,
	}
	if multiple {
		response.OverallStatus = parsed.OverallStatus
		if response.OverallStatus == "" {
			response.OverallStatus = "takip_gerekli"
		}
	}
	return response, nil
}
