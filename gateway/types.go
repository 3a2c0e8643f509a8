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

import "time"

// Disclaimer is attached to every structured response body.
const Disclaimer = "Bu içerik bilgilendirme amaçlıdır; tıbbi tanı/tedavi için hekiminize başvurun."

// Plan identifiers.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// ChatStartResponse is returned by POST /ai/chat/start.
type ChatStartResponse struct {
	ConversationID int64 `json:"conversation_id"`
}

// ChatMessageRequest is the body of POST /ai/chat.
type ChatMessageRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Text           string `json:"text"`
}

// ChatResponse is returned by POST /ai/chat.
type ChatResponse struct {
	ConversationID int64  `json:"conversation_id"`
	Reply          string `json:"reply"`
	UsedModel      string `json:"used_model"`
	LatencyMS      int64  `json:"latency_ms"`
}

// HistoryEntry is one turn in GET /ai/chat/{id}/history.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// AnalyzeRequest is the body of POST /ai/analyze.
type AnalyzeRequest struct {
	Payload map[string]any `json:"payload"`
}

// LabBatchRequest is the body of POST /ai/lab/analyze and /ai/lab/multiple.
type LabBatchRequest struct {
	Results []map[string]any `json:"results"`
}

// LabSingleRequest is the body of POST /ai/lab/single.
type LabSingleRequest struct {
	Result map[string]any `json:"result"`
}

// RecommendationItem is one supplement recommendation in an analyze
// response.
type RecommendationItem struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Source string `json:"source,omitempty"`
}

// AnalyzeResponse is the structured analyze/legacy-lab response shape.
type AnalyzeResponse struct {
	Recommendations []RecommendationItem `json:"recommendations"`
	Analysis        map[string]any       `json:"analysis"`
	UsedModel       string               `json:"used_model,omitempty"`
	Disclaimer      string               `json:"disclaimer"`
}

// QuizAnswers holds the structured quiz input.
type QuizAnswers struct {
	AgeRange            string   `json:"age_range"`
	Gender              string   `json:"gender"`
	SleepPattern        string   `json:"sleep_pattern"`
	SleepHours          string   `json:"sleep_hours"`
	NutritionType       string   `json:"nutrition_type"`
	ExerciseFrequency   string   `json:"exercise_frequency"`
	StressLevel         string   `json:"stress_level"`
	Allergies           []string `json:"allergies"`
	HealthGoals         []string `json:"health_goals"`
	ExistingSupplements []string `json:"existing_supplements"`
}

// QuizRequest is the body of POST /ai/quiz.
type QuizRequest struct {
	Answers QuizAnswers `json:"answers"`
}

// AdviceSection is a titled list of recommendations in a quiz response.
type AdviceSection struct {
	Title           string   `json:"title"`
	Recommendations []string `json:"recommendations"`
}

// WarningSection is the general warnings block of a quiz response.
type WarningSection struct {
	Title    string   `json:"title"`
	Warnings []string `json:"warnings"`
}

// SupplementRecommendation is one prioritized supplement in a quiz
// response.
type SupplementRecommendation struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	DailyDose   string   `json:"daily_dose"`
	Benefits    []string `json:"benefits"`
	Warnings    []string `json:"warnings"`
	Priority    string   `json:"priority"`
}

// QuizResponse is the fixed-section quiz response shape.
type QuizResponse struct {
	Success                   bool                       `json:"success"`
	Message                   string                     `json:"message"`
	NutritionAdvice           AdviceSection              `json:"nutrition_advice"`
	LifestyleAdvice           AdviceSection              `json:"lifestyle_advice"`
	GeneralWarnings           WarningSection             `json:"general_warnings"`
	SupplementRecommendations []SupplementRecommendation `json:"supplement_recommendations"`
	UsedModel                 string                     `json:"used_model,omitempty"`
	Disclaimer                string                     `json:"disclaimer"`
}

// LabAnalysisResponse is the interpretation-only lab response shape.
// OverallStatus is set for the multiple-lab variant only.
type LabAnalysisResponse struct {
	Analysis      map[string]any `json:"analysis"`
	OverallStatus string         `json:"overall_status,omitempty"`
	UsedModel     string         `json:"used_model,omitempty"`
	Disclaimer    string         `json:"disclaimer"`
}

// ErrorResponse is the JSON body for policy/quota/guard rejections.
type ErrorResponse struct {
	Error string `json:"error"`
}
