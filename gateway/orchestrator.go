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
	"strings"
	"sync"
	"time"

	"github.com/longopass/ai-gateway/gateway/guard"
	"github.com/longopass/ai-gateway/gateway/llm"
	"github.com/longopass/ai-gateway/shared/logger"
)

// SentinelModel identifies responses produced by the ultimate fallback
// when every provider and the cascade are exhausted.
const SentinelModel = "fallback"

// unavailableText is the fixed degraded-state message.
const unavailableText = "Longopass AI şu anda geçici olarak hizmet veremiyor. Lütfen daha sonra tekrar deneyin."

// requestKind selects the prompt builder and acceptance predicate.
type requestKind string

const (
	kindChat        requestKind = "chat"
	kindAnalyze     requestKind = "analyze"
	kindQuiz        requestKind = "quiz"
	kindLabSingle   requestKind = "lab_single"
	kindLabMultiple requestKind = "lab_multiple"
)

// Per-kind sampling parameters.
const (
	chatTemperature      = 0.6
	chatMaxTokens        = 600
	analyzeTemperature   = 0.3
	analyzeMaxTokens     = 2000
	quizTemperature      = 0.4
	quizMaxTokens        = 2000
	labTemperature       = 0.3
	labMaxTokens         = 2000
	synthesisTemperature = 0.2
	finalizeTemperature  = 0.2
	finalizeMaxTokens    = 800
	dedupeTemperature    = 0.0
	dedupeMaxTokens      = 900
)

// modelInvoker is the single-call surface the orchestrator needs from
// the invocation client.
type modelInvoker interface {
	Invoke(ctx context.Context, model string, messages []llm.Message, temperature float64, maxTokens int) (*llm.CallResult, error)
}

// Candidate is one validated per-provider response, eligible for
// synthesis.
type Candidate struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// acceptFunc is the per-kind acceptance predicate applied to each
// provider response. The string names the rejection reason.
type acceptFunc func(text string) (bool, string)

// Orchestrator fans one request out to every model in the roster,
// validates the replies, and synthesizes the survivors into a single
// canonical answer.
type Orchestrator struct {
	invoker        modelInvoker
	guard          *guard.Guard
	models         []string
	synthesisModel string
	minChars       int
	deadline       time.Duration
	log            *logger.Logger
}

// NewOrchestrator wires the orchestrator from config. The end-to-end
// deadline bounds fan-out plus the sequential synthesis and finalize
// calls so one slow synthesis cannot stall a request indefinitely.
func NewOrchestrator(invoker modelInvoker, g *guard.Guard, cfg *Config) *Orchestrator {
	return &Orchestrator{
		invoker:        invoker,
		guard:          g,
		models:         cfg.ParallelModels,
		synthesisModel: cfg.SynthesisModel,
		minChars:       cfg.CascadeMinChars,
		deadline:       3*cfg.ParallelTimeout + cfg.ModerationTimeout,
		log:            logger.New("orchestrator"),
	}
}

// ChatResult is the outcome of one orchestrated chat turn.
type ChatResult struct {
	Reply         string
	UsedModel     string
	Contributors  []string
	SynthesizedBy string
}

// structuredResult is the raw outcome of an orchestrated JSON request
// before strict parsing into the response shape.
type structuredResult struct {
	text          string
	usedModel     string
	contributors  []string
	synthesizedBy string
	degraded      bool
}

// fanOut dispatches one invocation concurrently to every roster model.
// Each call is isolated: a provider error is logged and contributes no
// candidate. Candidates are appended in completion order under a single
// mutex, the only shared state during fan-out.
func (o *Orchestrator) fanOut(ctx context.Context, kind requestKind, messages []llm.Message, temperature float64, maxTokens int, accept acceptFunc) []Candidate {
	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		candidates = make([]Candidate, 0, len(o.models))
	)

	for _, model := range o.models {
		wg.Add(1)
		go func(model string) {
			defer wg.Done()

			result, err := o.invoker.Invoke(ctx, model, messages, temperature, maxTokens)
			if err != nil {
				promProviderCalls.WithLabelValues(model, "error").Inc()
				o.log.Warn("", "", "provider call failed", map[string]interface{}{
					"kind":  string(kind),
					"model": model,
					"error": err.Error(),
				})
				return
			}

			if ok, reason := accept(result.Content); !ok {
				promProviderCalls.WithLabelValues(model, "rejected").Inc()
				o.log.Warn("", "", "candidate rejected", map[string]interface{}{
					"kind":   string(kind),
					"model":  model,
					"reason": reason,
				})
				return
			}

			promProviderCalls.WithLabelValues(model, "success").Inc()
			mu.Lock()
			candidates = append(candidates, Candidate{Model: model, Response: result.Content})
			mu.Unlock()
		}(model)
	}

	wg.Wait()
	promCandidates.WithLabelValues(string(kind)).Observe(float64(len(candidates)))
	return candidates
}

// cascade invokes the roster sequentially, stopping at the first output
// that passes validation. When every model fails validation the last
// transport-successful result is returned verbatim; when every call
// errors an empty result attributed to the last roster model is
// returned. Terminal, never retried.
func (o *Orchestrator) cascade(ctx context.Context, kind requestKind, messages []llm.Message, temperature float64, maxTokens int, accept acceptFunc) *llm.CallResult {
	var last *llm.CallResult

	for _, model := range o.models {
		result, err := o.invoker.Invoke(ctx, model, messages, temperature, maxTokens)
		if err != nil {
			promProviderCalls.WithLabelValues(model, "error").Inc()
			o.log.Warn("", "", "cascade call failed", map[string]interface{}{
				"kind":  string(kind),
				"model": model,
				"error": err.Error(),
			})
			continue
		}
		last = result

		if ok, reason := accept(result.Content); ok {
			promProviderCalls.WithLabelValues(model, "success").Inc()
			return result
		} else {
			promProviderCalls.WithLabelValues(model, "rejected").Inc()
			o.log.Warn("", "", "cascade candidate rejected", map[string]interface{}{
				"kind":   string(kind),
				"model":  model,
				"reason": reason,
			})
		}
	}

	if last == nil {
		last = &llm.CallResult{Model: o.models[len(o.models)-1]}
	} else {
		last.Model = o.models[len(o.models)-1]
	}
	return last
}

// synthesize merges ≥2 candidates into one answer via the designated
// synthesis model.
func (o *Orchestrator) synthesize(ctx context.Context, kind requestKind, candidates []Candidate, maxTokens int) (*llm.CallResult, error) {
	messages := buildSynthesisMessages(kind, candidates)
	result, err := o.invoker.Invoke(ctx, o.synthesisModel, messages, synthesisTemperature, maxTokens)
	if err != nil {
		promProviderCalls.WithLabelValues(o.synthesisModel, "error").Inc()
		return nil, err
	}
	promProviderCalls.WithLabelValues(o.synthesisModel, "success").Inc()
	return result, nil
}

// orchestrate runs the shared fan-out / shortcut / synthesis / cascade
// pattern and returns the pre-finalize result. Request types differ only
// in prompt and acceptance predicate.
func (o *Orchestrator) orchestrate(ctx context.Context, kind requestKind, messages []llm.Message, temperature float64, maxTokens int, accept acceptFunc) structuredResult {
	candidates := o.fanOut(ctx, kind, messages, temperature, maxTokens, accept)
	contributors := make([]string, 0, len(candidates))
	for _, c := range candidates {
		contributors = append(contributors, c.Model)
	}

	switch len(candidates) {
	case 0:
		result := o.cascade(ctx, kind, messages, temperature, maxTokens, accept)
		if strings.TrimSpace(result.Content) == "" {
			o.log.Error("", "", "all providers and cascade exhausted", map[string]interface{}{"kind": string(kind)})
			return structuredResult{degraded: true, usedModel: SentinelModel}
		}
		return structuredResult{text: result.Content, usedModel: result.Model}
	case 1:
		return structuredResult{text: candidates[0].Response, usedModel: candidates[0].Model, contributors: contributors}
	default:
		result, err := o.synthesize(ctx, kind, candidates, maxTokens)
		if err != nil {
			// Synthesis failure falls back to the sequential cascade.
			o.log.Warn("", "", "synthesis failed, falling back to cascade", map[string]interface{}{
				"kind":  string(kind),
				"error": err.Error(),
			})
			fallback := o.cascade(ctx, kind, messages, temperature, maxTokens, accept)
			if strings.TrimSpace(fallback.Content) == "" {
				return structuredResult{degraded: true, usedModel: SentinelModel}
			}
			return structuredResult{text: fallback.Content, usedModel: fallback.Model, contributors: contributors}
		}
		return structuredResult{
			text:          result.Content,
			usedModel:     o.synthesisModel,
			contributors:  contributors,
			synthesizedBy: o.synthesisModel,
		}
	}
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.deadline)
}

// Chat runs one orchestrated chat turn over the trimmed history plus
// the new user message, then self-reviews the draft through the
// synthesis model. Never returns an error: total failure yields the
// sentinel reply.
func (o *Orchestrator) Chat(ctx context.Context, history []llm.Message, userText string) *ChatResult {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	messages := buildChatMessages(history, userText)
	result := o.orchestrate(ctx, kindChat, messages, chatTemperature, chatMaxTokens, o.isChatAcceptable)
	if result.degraded {
		return &ChatResult{Reply: unavailableText, UsedModel: SentinelModel}
	}

	reply := result.text
	final, err := o.invoker.Invoke(ctx, o.synthesisModel, buildFinalizeTextMessages(reply), finalizeTemperature, finalizeMaxTokens)
	if err != nil {
		promProviderCalls.WithLabelValues(o.synthesisModel, "error").Inc()
		o.log.Warn("", "", "chat finalize failed, returning draft", map[string]interface{}{"error": err.Error()})
	} else if strings.TrimSpace(final.Content) != "" {
		promProviderCalls.WithLabelValues(o.synthesisModel, "success").Inc()
		reply = final.Content
	}

	return &ChatResult{
		Reply:         reply,
		UsedModel:     result.usedModel,
		Contributors:  result.contributors,
		SynthesizedBy: result.synthesizedBy,
	}
}

// Analyze runs the free-form analyze pipeline and strictly parses the
// outcome into the analyze response shape.
func (o *Orchestrator) Analyze(ctx context.Context, payload map[string]any) *AnalyzeResponse {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	messages := buildAnalyzeMessages(payload)
	result := o.orchestrate(ctx, kindAnalyze, messages, analyzeTemperature, analyzeMaxTokens, isAnalysisAcceptable)
	if result.degraded {
		return sentinelAnalyzeResponse()
	}

	// Finalization deduplicates and orders items without adding new ones.
	text := result.text
	final, err := o.invoker.Invoke(ctx, o.synthesisModel, buildFinalizeAnalyzeMessages(text), dedupeTemperature, dedupeMaxTokens)
	if err != nil {
		promProviderCalls.WithLabelValues(o.synthesisModel, "error").Inc()
		o.log.Warn("", "", "analyze finalize failed, using draft", map[string]interface{}{"error": err.Error()})
	} else if ok, _ := isAnalysisAcceptable(final.Content); ok {
		promProviderCalls.WithLabelValues(o.synthesisModel, "success").Inc()
		text = final.Content
	}

	response, err := parseAnalyzeResponse(text)
	if err != nil {
		o.log.Error("", "", "analyze output failed strict parse", map[string]interface{}{"error": err.Error()})
		return sentinelAnalyzeResponse()
	}
	response.UsedModel = result.usedModel
	return response
}

// Quiz runs the structured quiz pipeline. Synthesis must guarantee the
// fixed top-level sections; parsing enforces them.
func (o *Orchestrator) Quiz(ctx context.Context, answers QuizAnswers) *QuizResponse {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	messages := buildQuizMessages(answers)
	result := o.orchestrate(ctx, kindQuiz, messages, quizTemperature, quizMaxTokens, isNonEmpty)
	if result.degraded {
		return sentinelQuizResponse()
	}

	response, err := parseQuizResponse(result.text)
	if err != nil {
		o.log.Error("", "", "quiz output failed strict parse", map[string]interface{}{"error": err.Error()})
		return sentinelQuizResponse()
	}
	response.UsedModel = result.usedModel
	return response
}

// LabSingle interprets one lab result. The prompt forbids supplement or
// drug recommendations; output is interpretation only.
func (o *Orchestrator) LabSingle(ctx context.Context, labResult map[string]any) *LabAnalysisResponse {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	messages := buildLabSingleMessages(labResult)
	result := o.orchestrate(ctx, kindLabSingle, messages, labTemperature, labMaxTokens, isNonEmpty)
	if result.degraded {
		return sentinelLabResponse()
	}

	response, err := parseLabResponse(result.text, false)
	if err != nil {
		o.log.Error("", "", "lab output failed strict parse", map[string]interface{}{"error": err.Error()})
		return sentinelLabResponse()
	}
	response.UsedModel = result.usedModel
	return response
}

// LabMultiple interprets a batch of lab results together and aggregates
// an overall status tag.
func (o *Orchestrator) LabMultiple(ctx context.Context, labResults []map[string]any) *LabAnalysisResponse {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	messages := buildLabMultipleMessages(labResults)
	result := o.orchestrate(ctx, kindLabMultiple, messages, labTemperature, labMaxTokens, isNonEmpty)
	if result.degraded {
		return sentinelLabResponse()
	}

	response, err := parseLabResponse(result.text, true)
	if err != nil {
		o.log.Error("", "", "multi-lab output failed strict parse", map[string]interface{}{"error": err.Error()})
		return sentinelLabResponse()
	}
	response.UsedModel = result.usedModel
	return response
}

func sentinelAnalyzeResponse() *AnalyzeResponse {
	return &AnalyzeResponse{
		Recommendations: []RecommendationItem{},
		Analysis:        map[string]any{"summary": unavailableText},
		UsedModel:       SentinelModel,
		Disclaimer:      Disclaimer,
	}
}

func sentinelQuizResponse() *QuizResponse {
	return &QuizResponse{
		Success:                   false,
		Message:                   unavailableText,
		NutritionAdvice:           AdviceSection{Title: "Beslenme Önerileri", Recommendations: []string{}},
		LifestyleAdvice:           AdviceSection{Title: "Yaşam Tarzı Önerileri", Recommendations: []string{}},
		GeneralWarnings:           WarningSection{Title: "Genel Uyarılar", Warnings: []string{}},
		SupplementRecommendations: []SupplementRecommendation{},
		UsedModel:                 SentinelModel,
		Disclaimer:                Disclaimer,
	}
}

func sentinelLabResponse() *LabAnalysisResponse {
	return &LabAnalysisResponse{
		Analysis:   map[string]any{"summary": unavailableText},
		UsedModel:  SentinelModel,
		Disclaimer: Disclaimer,
	}
}
