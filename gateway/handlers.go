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
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/longopass/ai-gateway/gateway/guard"
	"github.com/longopass/ai-gateway/gateway/llm"
	"github.com/longopass/ai-gateway/shared/logger"
)

// guardModelTag marks stored assistant messages that were written by the
// topic guard instead of a provider model.
const guardModelTag = "guard"

// analyzeModelTag marks stored analyze results; the free-plan quota is
// counted against it.
const analyzeModelTag = "analyze"

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	cfg   *Config
	store *Store
	orch  *Orchestrator
	guard *guard.Guard
	log   *logger.Logger
}

// NewServer wires the HTTP layer.
func NewServer(cfg *Config, store *Store, orch *Orchestrator, g *guard.Guard) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		orch:  orch,
		guard: g,
		log:   logger.New("http"),
	}
}

// Routes registers all endpoints on a new router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/widget.js", s.handleWidget).Methods(http.MethodGet)
	r.HandleFunc("/ai/chat/start", s.handleChatStart).Methods(http.MethodPost)
	r.HandleFunc("/ai/chat", s.handleChatMessage).Methods(http.MethodPost)
	r.HandleFunc("/ai/chat/{id}/history", s.handleChatHistory).Methods(http.MethodGet)
	r.HandleFunc("/ai/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/ai/quiz", s.handleQuiz).Methods(http.MethodPost)
	r.HandleFunc("/ai/lab/single", s.handleLabSingle).Methods(http.MethodPost)
	r.HandleFunc("/ai/lab/multiple", s.handleLabMultiple).Methods(http.MethodPost)
	r.HandleFunc("/ai/lab/analyze", s.handleLabLegacy).Methods(http.MethodPost)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "longopass-ai",
	})
}

// handleWidget serves the embeddable chat widget as a static asset.
func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.cfg.WidgetPath)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "widget not found")
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}

// handleChatStart opens a conversation for a premium user.
func (s *Server) handleChatStart(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	start := time.Now()

	user, err := s.resolveUser(r)
	if err != nil {
		s.serverError(w, "chat_start", requestID, "failed to resolve user", err)
		return
	}
	if user.Plan != PlanPremium {
		s.reject(w, "chat_start", http.StatusForbidden, "chat is available on the premium plan")
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), user.ID)
	if err != nil {
		s.serverError(w, "chat_start", requestID, "failed to create conversation", err)
		return
	}

	s.log.InfoWithDuration(requestID, strconv.FormatInt(user.ID, 10), "conversation started",
		time.Since(start).Milliseconds(), map[string]interface{}{"conversation_id": conv.ID})
	s.observe("chat_start", http.StatusOK, start)
	s.writeJSON(w, http.StatusOK, ChatStartResponse{ConversationID: conv.ID})
}

// handleChatMessage runs one guarded, orchestrated chat turn.
func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	start := time.Now()

	var req ChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		s.reject(w, "chat", http.StatusBadRequest, "text is required")
		return
	}

	user, err := s.resolveUser(r)
	if err != nil {
		s.serverError(w, "chat", requestID, "failed to resolve user", err)
		return
	}
	if user.Plan != PlanPremium {
		s.reject(w, "chat", http.StatusForbidden, "chat is available on the premium plan")
		return
	}

	conv, err := s.store.GetConversation(r.Context(), req.ConversationID, user.ID)
	if err == ErrNotFound {
		s.reject(w, "chat", http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.serverError(w, "chat", requestID, "failed to load conversation", err)
		return
	}

	// A non-positive limit disables the daily cap.
	if s.cfg.DailyChatLimit > 0 {
		sent, err := s.store.CountUserMessagesSince(r.Context(), user.ID, startOfDayUTC(time.Now()))
		if err != nil {
			s.serverError(w, "chat", requestID, "failed to count messages", err)
			return
		}
		if sent >= s.cfg.DailyChatLimit {
			s.reject(w, "chat", http.StatusTooManyRequests, "daily message limit reached")
			return
		}
	}

	userID := user.ID
	if _, err := s.store.AppendMessage(r.Context(), MessageRecord{
		ConversationID: &conv.ID,
		UserID:         &userID,
		Role:           "user",
		Content:        req.Text,
	}); err != nil {
		s.serverError(w, "chat", requestID, "failed to store message", err)
		return
	}

	// A guard denial is still a successful turn: the refusal is stored
	// and returned as the assistant reply.
	if decision := s.guard.Check(r.Context(), req.Text); !decision.Allowed {
		promGuardDenials.WithLabelValues(string(decision.Reason)).Inc()
		if _, err := s.store.AppendMessage(r.Context(), MessageRecord{
			ConversationID: &conv.ID,
			Role:           "assistant",
			Content:        decision.Message,
			ModelName:      guardModelTag,
		}); err != nil {
			s.serverError(w, "chat", requestID, "failed to store refusal", err)
			return
		}
		s.log.Info(requestID, strconv.FormatInt(user.ID, 10), "chat denied by guard", map[string]interface{}{
			"conversation_id": conv.ID,
			"reason":          string(decision.Reason),
		})
		s.observe("chat", http.StatusOK, start)
		s.writeJSON(w, http.StatusOK, ChatResponse{
			ConversationID: conv.ID,
			Reply:          decision.Message,
			UsedModel:      guardModelTag,
			LatencyMS:      time.Since(start).Milliseconds(),
		})
		return
	}

	history, err := s.store.ListMessages(r.Context(), conv.ID, s.cfg.ChatHistoryMax)
	if err != nil {
		s.serverError(w, "chat", requestID, "failed to load history", err)
		return
	}

	result := s.orch.Chat(r.Context(), historyToMessages(history, req.Text), req.Text)

	assistantID, err := s.store.AppendMessage(r.Context(), MessageRecord{
		ConversationID: &conv.ID,
		Role:           "assistant",
		Content:        result.Reply,
		ModelName:      result.UsedModel,
		LatencyMS:      time.Since(start).Milliseconds(),
	})
	if err != nil {
		s.serverError(w, "chat", requestID, "failed to store reply", err)
		return
	}
	s.attachProvenance(r, assistantID, result.UsedModel, result.Contributors, result.SynthesizedBy)

	s.log.InfoWithDuration(requestID, strconv.FormatInt(user.ID, 10), "chat turn completed",
		time.Since(start).Milliseconds(), map[string]interface{}{
			"conversation_id": conv.ID,
			"used_model":      result.UsedModel,
		})
	s.observe("chat", http.StatusOK, start)
	s.writeJSON(w, http.StatusOK, ChatResponse{
		ConversationID: conv.ID,
		Reply:          result.Reply,
		UsedModel:      result.UsedModel,
		LatencyMS:      time.Since(start).Milliseconds(),
	})
}

// handleChatHistory returns the last turns of a conversation.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	start := time.Now()

	conversationID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.reject(w, "history", http.StatusBadRequest, "invalid conversation id")
		return
	}

	user, err := s.resolveUser(r)
	if err != nil {
		s.serverError(w, "history", requestID, "failed to resolve user", err)
		return
	}

	if _, err := s.store.GetConversation(r.Context(), conversationID, user.ID); err == ErrNotFound {
		s.reject(w, "history", http.StatusNotFound, "conversation not found")
		return
	} else if err != nil {
		s.serverError(w, "history", requestID, "failed to load conversation", err)
		return
	}

	entries, err := s.store.ListMessages(r.Context(), conversationID, s.cfg.ChatHistoryMax)
	if err != nil {
		s.serverError(w, "history", requestID, "failed to load history", err)
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}

	s.observe("history", http.StatusOK, start)
	s.writeJSON(w, http.StatusOK, entries)
}

// handleAnalyze runs the structured supplement analysis. Free users get
// a fixed number of analyses; premium users are unmetered.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	start := time.Now()

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Payload) == 0 {
		s.reject(w, "analyze", http.StatusBadRequest, "payload is required")
		return
	}

	user, err := s.resolveUser(r)
	if err != nil {
		s.serverError(w, "analyze", requestID, "failed to resolve user", err)
		return
	}

	if user.Plan != PlanPremium {
		used, err := s.store.CountAssistantMessagesByTag(r.Context(), user.ID, analyzeModelTag)
		if err != nil {
			s.serverError(w, "analyze", requestID, "failed to count analyses", err)
			return
		}
		if used >= s.cfg.FreeAnalyzeLimit {
			s.reject(w, "analyze", http.StatusForbidden, "free analysis limit reached")
			return
		}
	}

	if !s.guardFreeText(w, r, "analyze", collectStrings(req.Payload)) {
		return
	}

	resp := s.orch.Analyze(r.Context(), req.Payload)

	userID := user.ID
	content, _ := json.Marshal(resp)
	messageID, err := s.store.AppendMessage(r.Context(), MessageRecord{
		UserID:    &userID,
		Role:      "assistant",
		Content:   string(content),
		ModelName: analyzeModelTag,
		LatencyMS: time.Since(start).Milliseconds(),
	})
	if err != nil {
		s.serverError(w, "analyze", requestID, "failed to store analysis", err)
		return
	}
	s.attachProvenance(r, messageID, resp.UsedModel, nil, "")

	s.log.InfoWithDuration(requestID, strconv.FormatInt(user.ID, 10), "analysis completed",
		time.Since(start).Milliseconds(), map[string]interface{}{"used_model": resp.UsedModel})
	s.observe("analyze", http.StatusOK, start)
	s.writeJSON(w, http.StatusOK, resp)
}

// handleQuiz generates the fixed-section supplement quiz advice. It
// shares the free analysis quota, and the guard runs over the serialized
// answers; the stored result feeds the quota count.
func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	start := time.Now()

	var req QuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.reject(w, "quiz", http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.resolveUser(r)
	if err != nil {
		s.serverError(w, "quiz", requestID, "failed to resolve user", err)
		return
	}

	if user.Plan != PlanPremium {
		used, err := s.store.CountAssistantMessagesByTag(r.Context(), user.ID, analyzeModelTag)
		if err != nil {
			s.serverError(w, "quiz", requestID, "failed to count analyses", err)
			return
		}
		if used >= s.cfg.FreeAnalyzeLimit {
			s.reject(w, "quiz", http.StatusForbidden, "free analysis limit reached")
			return
		}
	}

	answersJSON, _ := json.Marshal(req.Answers)
	if !s.guardFreeText(w, r, "quiz", string(answersJSON)) {
		return
	}

	resp := s.orch.Quiz(r.Context(), req.Answers)

	userID := user.ID
	content, _ := json.Marshal(resp)
	messageID, err := s.store.AppendMessage(r.Context(), MessageRecord{
		UserID:    &userID,
		Role:      "assistant",
		Content:   string(content),
		ModelName: analyzeModelTag,
		LatencyMS: time.Since(start).Milliseconds(),
	})
	if err != nil {
		s.serverError(w, "quiz", requestID, "failed to store quiz result", err)
		return
	}
	s.attachProvenance(r, messageID, resp.UsedModel, nil, "")

	s.log.InfoWithDuration(requestID, strconv.FormatInt(user.ID, 10), "quiz completed",
		time.Since(start).Milliseconds(), map[string]interface{}{"used_model": resp.UsedModel})
	s.observe("quiz", http.StatusOK, start)
	s.writeJSON(w, http.StatusOK, resp)
}

// handleLabSingle interprets one lab result.
func (s *Server) handleLabSingle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LabSingleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Result) == 0 {
		s.reject(w, "lab_single", http.StatusBadRequest, "result is required")
		return
	}
	if !s.guardLabText(w, r, "lab_single", collectStrings(req.Result)) {
		return
	}

	resp := s.orch.LabSingle(r.Context(), req.Result)
	s.observe("lab_single", http.StatusOK, start)
	s.writeJSON(w, http.StatusOK, resp)
}

// handleLabMultiple interprets a batch of lab results together.
func (s *Server) handleLabMultiple(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req LabBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Results) == 0 {
		s.reject(w, "lab_multiple", http.StatusBadRequest, "results are required")
		return
	}
	if !s.guardLabText(w, r, "lab_multiple", collectStringsList(req.Results)) {
		return
	}

	resp := s.orch.LabMultiple(r.Context(), req.Results)
	s.observe("lab_multiple", http.StatusOK, start)
	s.writeJSON(w, http.StatusOK, resp)
}

// handleLabLegacy keeps the old lab endpoint alive by funneling the
// batch through the analyze pipeline. The result is stored with the
// analyze tag so it counts toward the free quota like any analysis.
func (s *Server) handleLabLegacy(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	start := time.Now()

	var req LabBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Results) == 0 {
		s.reject(w, "lab_legacy", http.StatusBadRequest, "results are required")
		return
	}

	user, err := s.resolveUser(r)
	if err != nil {
		s.serverError(w, "lab_legacy", requestID, "failed to resolve user", err)
		return
	}

	if !s.guardLabText(w, r, "lab_legacy", collectStringsList(req.Results)) {
		return
	}

	resp := s.orch.Analyze(r.Context(), map[string]any{"lab_results": req.Results})

	userID := user.ID
	content, _ := json.Marshal(resp)
	messageID, err := s.store.AppendMessage(r.Context(), MessageRecord{
		UserID:    &userID,
		Role:      "assistant",
		Content:   string(content),
		ModelName: analyzeModelTag,
		LatencyMS: time.Since(start).Milliseconds(),
	})
	if err != nil {
		s.serverError(w, "lab_legacy", requestID, "failed to store analysis", err)
		return
	}
	s.attachProvenance(r, messageID, resp.UsedModel, nil, "")

	s.observe("lab_legacy", http.StatusOK, start)
	s.writeJSON(w, http.StatusOK, resp)
}

// resolveUser maps the request identity to a stored user.
func (s *Server) resolveUser(r *http.Request) (*User, error) {
	id := resolveIdentity(r, s.cfg.JWTSecret)
	return s.store.FindOrCreateUserByIdentity(r.Context(), id.UserID, id.Plan)
}

// guardFreeText runs the topic guard over the free-text portions of a
// structured payload. Pure numeric payloads pass without a check.
// Returns false after writing the rejection.
func (s *Server) guardFreeText(w http.ResponseWriter, r *http.Request, requestType, text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	return s.guardDecision(w, requestType, s.guard.Check(r.Context(), text))
}

// guardLabText is the lab-payload variant: a recognized test name alone
// is sufficient topic evidence.
func (s *Server) guardLabText(w http.ResponseWriter, r *http.Request, requestType, text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	return s.guardDecision(w, requestType, s.guard.CheckLab(r.Context(), text))
}

func (s *Server) guardDecision(w http.ResponseWriter, requestType string, decision guard.Decision) bool {
	if decision.Allowed {
		return true
	}
	promGuardDenials.WithLabelValues(string(decision.Reason)).Inc()
	promRequestsTotal.WithLabelValues(requestType, strconv.Itoa(http.StatusBadRequest)).Inc()
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: decision.Message})
	return false
}

// attachProvenance stores model attribution for a persisted message
// when raw logging is enabled.
func (s *Server) attachProvenance(r *http.Request, messageID int64, usedModel string, contributors []string, synthesizedBy string) {
	if !s.cfg.LogProviderRaw || usedModel == "" || usedModel == SentinelModel {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"used_model":     usedModel,
		"contributors":   contributors,
		"synthesized_by": synthesizedBy,
	})
	if err != nil {
		return
	}
	if err := s.store.AttachRawPayload(r.Context(), messageID, payload, "openrouter"); err != nil {
		s.log.Warn("", "", "failed to attach provenance", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) reject(w http.ResponseWriter, requestType string, status int, message string) {
	promRequestsTotal.WithLabelValues(requestType, strconv.Itoa(status)).Inc()
	s.writeError(w, status, message)
}

func (s *Server) serverError(w http.ResponseWriter, requestType, requestID, message string, err error) {
	s.log.Error(requestID, "", message, map[string]interface{}{"error": err.Error()})
	promRequestsTotal.WithLabelValues(requestType, strconv.Itoa(http.StatusInternalServerError)).Inc()
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) observe(requestType string, status int, start time.Time) {
	promRequestsTotal.WithLabelValues(requestType, strconv.Itoa(status)).Inc()
	promRequestDuration.WithLabelValues(requestType).Observe(float64(time.Since(start).Milliseconds()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("", "", "failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// historyToMessages converts stored turns to provider messages. Guard
// refusals stay in the transcript as assistant turns. The trailing
// entry is dropped when it is the just-stored current message: the
// prompt builder appends it again.
func historyToMessages(entries []HistoryEntry, currentText string) []llm.Message {
	if n := len(entries); n > 0 && entries[n-1].Role == "user" && entries[n-1].Content == currentText {
		entries = entries[:n-1]
	}
	messages := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		role := llm.RoleAssistant
		if e.Role == "user" {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Message{Role: role, Content: e.Content})
	}
	return messages
}

// collectStrings gathers the free-text values of a payload, depth-first.
func collectStrings(payload map[string]any) string {
	var parts []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				parts = append(parts, t)
			}
		case map[string]any:
			for _, inner := range t {
				walk(inner)
			}
		case []any:
			for _, inner := range t {
				walk(inner)
			}
		}
	}
	walk(payload)
	return strings.Join(parts, " ")
}

func collectStringsList(payloads []map[string]any) string {
	parts := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if s := collectStrings(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
