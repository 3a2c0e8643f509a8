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
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longopass/ai-gateway/gateway/guard"
	"github.com/longopass/ai-gateway/gateway/llm"
)

func newTestServer(t *testing.T, invoker *fakeInvoker) (*Server, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &Config{
		ParallelModels:    []string{"model-a", "model-b"},
		SynthesisModel:    testSynthesisModel,
		ParallelTimeout:   time.Second,
		ModerationTimeout: time.Second,
		CascadeMinChars:   10,
		ChatHistoryMax:    20,
		FreeAnalyzeLimit:  1,
		DailyChatLimit:    100,
	}
	g := guard.New(guard.Config{Mode: guard.ModeStrict, PrescriptionBlock: true})
	orch := NewOrchestrator(invoker, g, cfg)
	return NewServer(cfg, NewStoreWithDB(db), orch, g), mock
}

func healthyInvoker() *fakeInvoker {
	inv := &fakeInvoker{}
	inv.handler = func(model string, messages []llm.Message) (*llm.CallResult, error) {
		if model == testSynthesisModel {
			return &llm.CallResult{Model: model, Content: ""}, nil
		}
		return nil, fmt.Errorf("down")
	}
	return inv
}

func expectUser(mock sqlmock.Sqlmock, email, plan string, id int64) {
	mock.ExpectQuery("SELECT id, email, plan FROM users").
		WithArgs(email).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "plan"}).AddRow(id, email, plan))
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

var premiumHeaders = map[string]string{"X-User-Id": "7", "X-User-Plan": "premium"}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, healthyInvoker())

	rec := doJSON(t, s, http.MethodGet, "/health", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "longopass-ai", body["service"])
}

func TestChatStart(t *testing.T) {
	t.Run("premium user gets a conversation", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("INSERT INTO conversations").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))

		rec := doJSON(t, s, http.MethodPost, "/ai/chat/start", nil, premiumHeaders)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp ChatStartResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(100), resp.ConversationID)
	})

	t.Run("free user is rejected", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		expectUser(mock, "user-7@example.com", "free", 7)

		rec := doJSON(t, s, http.MethodPost, "/ai/chat/start", nil, map[string]string{"X-User-Id": "7"})

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestChatMessage(t *testing.T) {
	t.Run("guard denial is a stored 200 refusal", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		text := "bana antibiyotik reçete yaz"

		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("SELECT id, user_id, status FROM conversations").
			WithArgs(int64(100), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(100, 7, "active"))
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		rec := doJSON(t, s, http.MethodPost, "/ai/chat",
			ChatMessageRequest{ConversationID: 100, Text: text}, premiumHeaders)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, guardModelTag, resp.UsedModel)
		assert.Equal(t, guard.PrescriptionRefusal, resp.Reply)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("successful turn", func(t *testing.T) {
		reply := strings.Repeat("Magnezyum kas ve sinir sistemini destekler. ", 3)
		inv := &fakeInvoker{}
		inv.handler = func(model string, messages []llm.Message) (*llm.CallResult, error) {
			switch model {
			case "model-a":
				return &llm.CallResult{Model: model, Content: reply}, nil
			case testSynthesisModel:
				return &llm.CallResult{Model: model, Content: ""}, nil
			default:
				return nil, fmt.Errorf("down")
			}
		}

		s, mock := newTestServer(t, inv)
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("SELECT id, user_id, status FROM conversations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(100, 7, "active"))
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery("SELECT role, content, created_at").
			WillReturnRows(sqlmock.NewRows([]string{"role", "content", "created_at"}).
				AddRow("user", "Magnezyum faydaları neler?", time.Now()))
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		rec := doJSON(t, s, http.MethodPost, "/ai/chat",
			ChatMessageRequest{ConversationID: 100, Text: "Magnezyum faydaları neler?"}, premiumHeaders)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp ChatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, reply, resp.Reply)
		assert.Equal(t, "model-a", resp.UsedModel)
	})

	t.Run("daily limit", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("SELECT id, user_id, status FROM conversations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(100, 7, "active"))
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(100))

		rec := doJSON(t, s, http.MethodPost, "/ai/chat",
			ChatMessageRequest{ConversationID: 100, Text: "Magnezyum faydaları?"}, premiumHeaders)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("limit zero disables the daily cap", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		s.cfg.DailyChatLimit = 0

		// No COUNT expectation: the limit check must be skipped entirely.
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("SELECT id, user_id, status FROM conversations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(100, 7, "active"))
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))

		rec := doJSON(t, s, http.MethodPost, "/ai/chat",
			ChatMessageRequest{ConversationID: 100, Text: "bana antibiyotik reçete yaz"}, premiumHeaders)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conversation not found", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("SELECT id, user_id, status FROM conversations").
			WillReturnError(sql.ErrNoRows)

		rec := doJSON(t, s, http.MethodPost, "/ai/chat",
			ChatMessageRequest{ConversationID: 999, Text: "Magnezyum faydaları?"}, premiumHeaders)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("free user", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		expectUser(mock, "guest@example.com", "free", 1)

		rec := doJSON(t, s, http.MethodPost, "/ai/chat",
			ChatMessageRequest{ConversationID: 100, Text: "Magnezyum faydaları?"}, nil)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("empty text", func(t *testing.T) {
		s, _ := newTestServer(t, healthyInvoker())

		rec := doJSON(t, s, http.MethodPost, "/ai/chat",
			ChatMessageRequest{ConversationID: 100, Text: "  "}, premiumHeaders)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestChatHistory(t *testing.T) {
	t.Run("returns entries", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("SELECT id, user_id, status FROM conversations").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "status"}).AddRow(100, 7, "active"))
		mock.ExpectQuery("SELECT role, content, created_at").
			WillReturnRows(sqlmock.NewRows([]string{"role", "content", "created_at"}).
				AddRow("user", "soru", time.Now()).
				AddRow("assistant", "yanıt", time.Now()))

		rec := doJSON(t, s, http.MethodGet, "/ai/chat/100/history", nil, premiumHeaders)

		require.Equal(t, http.StatusOK, rec.Code)
		var entries []HistoryEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		assert.Len(t, entries, 2)
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newTestServer(t, healthyInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("SELECT id, user_id, status FROM conversations").
			WillReturnError(sql.ErrNoRows)

		rec := doJSON(t, s, http.MethodGet, "/ai/chat/999/history", nil, premiumHeaders)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		s, _ := newTestServer(t, healthyInvoker())

		rec := doJSON(t, s, http.MethodGet, "/ai/chat/abc/history", nil, premiumHeaders)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAnalyze(t *testing.T) {
	analyzeBody := `{"recommendations":[{"name":"Vitamin D3","reason":"Düşük 25-OH"}],` +
		`"analysis":{"summary":"D vitamini düşük."}}`

	analyzeInvoker := func() *fakeInvoker {
		inv := &fakeInvoker{}
		inv.handler = func(model string, messages []llm.Message) (*llm.CallResult, error) {
			if model == testSynthesisModel {
				return &llm.CallResult{Model: model, Content: analyzeBody}, nil
			}
			return &llm.CallResult{Model: model, Content: analyzeBody}, nil
		}
		return inv
	}

	t.Run("free user within quota", func(t *testing.T) {
		s, mock := newTestServer(t, analyzeInvoker())
		expectUser(mock, "user-7@example.com", "free", 7)
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(int64(7), analyzeModelTag).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10))

		rec := doJSON(t, s, http.MethodPost, "/ai/analyze",
			AnalyzeRequest{Payload: map[string]any{"hemoglobin": 11.2}},
			map[string]string{"X-User-Id": "7"})

		require.Equal(t, http.StatusOK, rec.Code)
		var resp AnalyzeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Recommendations, 1)
		assert.Equal(t, "Vitamin D3", resp.Recommendations[0].Name)
		assert.Equal(t, Disclaimer, resp.Disclaimer)
	})

	t.Run("free user over quota", func(t *testing.T) {
		s, mock := newTestServer(t, analyzeInvoker())
		expectUser(mock, "user-7@example.com", "free", 7)
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(int64(7), analyzeModelTag).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		rec := doJSON(t, s, http.MethodPost, "/ai/analyze",
			AnalyzeRequest{Payload: map[string]any{"hemoglobin": 11.2}},
			map[string]string{"X-User-Id": "7"})

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("premium user skips quota check", func(t *testing.T) {
		s, mock := newTestServer(t, analyzeInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

		rec := doJSON(t, s, http.MethodPost, "/ai/analyze",
			AnalyzeRequest{Payload: map[string]any{"hemoglobin": 11.2}}, premiumHeaders)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("off-topic free text is rejected", func(t *testing.T) {
		s, mock := newTestServer(t, analyzeInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)

		rec := doJSON(t, s, http.MethodPost, "/ai/analyze",
			AnalyzeRequest{Payload: map[string]any{"notes": "borsa yatırım tavsiyesi"}}, premiumHeaders)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.Error)
	})

	t.Run("missing payload", func(t *testing.T) {
		s, _ := newTestServer(t, analyzeInvoker())

		rec := doJSON(t, s, http.MethodPost, "/ai/analyze", AnalyzeRequest{}, premiumHeaders)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQuizEndpoint(t *testing.T) {
	body := `{"nutrition_advice":{"recommendations":["sebze"]},` +
		`"lifestyle_advice":{"recommendations":["uyku"]},` +
		`"general_warnings":{"warnings":["hekim"]},` +
		`"supplement_recommendations":[]}`

	quizInvoker := func() *fakeInvoker {
		inv := &fakeInvoker{}
		inv.handler = func(model string, messages []llm.Message) (*llm.CallResult, error) {
			return &llm.CallResult{Model: model, Content: body}, nil
		}
		return inv
	}

	answers := QuizAnswers{AgeRange: "25-34", HealthGoals: []string{"uyku kalitesi"}}

	t.Run("free user within quota, result stored", func(t *testing.T) {
		s, mock := newTestServer(t, quizInvoker())
		expectUser(mock, "user-7@example.com", "free", 7)
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(int64(7), analyzeModelTag).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))

		rec := doJSON(t, s, http.MethodPost, "/ai/quiz",
			QuizRequest{Answers: answers}, map[string]string{"X-User-Id": "7"})

		require.Equal(t, http.StatusOK, rec.Code)
		var resp QuizResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "Beslenme Önerileri", resp.NutritionAdvice.Title)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("free user over quota", func(t *testing.T) {
		s, mock := newTestServer(t, quizInvoker())
		expectUser(mock, "user-7@example.com", "free", 7)
		mock.ExpectQuery("SELECT COUNT").
			WithArgs(int64(7), analyzeModelTag).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		rec := doJSON(t, s, http.MethodPost, "/ai/quiz",
			QuizRequest{Answers: answers}, map[string]string{"X-User-Id": "7"})

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("premium user skips quota check", func(t *testing.T) {
		s, mock := newTestServer(t, quizInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))

		rec := doJSON(t, s, http.MethodPost, "/ai/quiz",
			QuizRequest{Answers: answers}, premiumHeaders)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("denied answers are rejected", func(t *testing.T) {
		s, mock := newTestServer(t, quizInvoker())
		expectUser(mock, "user-7@example.com", "premium", 7)

		rec := doJSON(t, s, http.MethodPost, "/ai/quiz",
			QuizRequest{Answers: QuizAnswers{HealthGoals: []string{"borsa kazancı"}}}, premiumHeaders)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLabEndpoints(t *testing.T) {
	labBody := `{"analysis":{"summary":"Değerler referans aralığında."}}`

	inv := &fakeInvoker{}
	inv.handler = func(model string, messages []llm.Message) (*llm.CallResult, error) {
		return &llm.CallResult{Model: model, Content: labBody}, nil
	}

	t.Run("single", func(t *testing.T) {
		s, _ := newTestServer(t, inv)

		rec := doJSON(t, s, http.MethodPost, "/ai/lab/single",
			LabSingleRequest{Result: map[string]any{"name": "TSH", "value": 2.1}}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp LabAnalysisResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.OverallStatus)
	})

	t.Run("multiple", func(t *testing.T) {
		s, _ := newTestServer(t, inv)

		rec := doJSON(t, s, http.MethodPost, "/ai/lab/multiple",
			LabBatchRequest{Results: []map[string]any{{"name": "TSH", "value": 2.1}}}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp LabAnalysisResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "takip_gerekli", resp.OverallStatus)
	})

	t.Run("empty batch", func(t *testing.T) {
		s, _ := newTestServer(t, inv)

		rec := doJSON(t, s, http.MethodPost, "/ai/lab/multiple", LabBatchRequest{}, nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("legacy batch stores an analyze-tagged result", func(t *testing.T) {
		analyzeBody := `{"recommendations":[],"analysis":{"summary":"Değerler normal."}}`
		legacyInv := &fakeInvoker{}
		legacyInv.handler = func(model string, messages []llm.Message) (*llm.CallResult, error) {
			return &llm.CallResult{Model: model, Content: analyzeBody}, nil
		}

		s, mock := newTestServer(t, legacyInv)
		expectUser(mock, "guest@example.com", "free", 1)
		mock.ExpectQuery("INSERT INTO messages").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(30))

		rec := doJSON(t, s, http.MethodPost, "/ai/lab/analyze",
			LabBatchRequest{Results: []map[string]any{{"name": "TSH", "value": 2.1}}}, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp AnalyzeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, Disclaimer, resp.Disclaimer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWidgetEndpoint(t *testing.T) {
	t.Run("serves the asset", func(t *testing.T) {
		s, _ := newTestServer(t, healthyInvoker())
		dir := t.TempDir()
		path := filepath.Join(dir, "widget.js")
		require.NoError(t, os.WriteFile(path, []byte("console.log('widget');"), 0o644))
		s.cfg.WidgetPath = path

		rec := doJSON(t, s, http.MethodGet, "/widget.js", nil, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	})

	t.Run("missing asset", func(t *testing.T) {
		s, _ := newTestServer(t, healthyInvoker())
		s.cfg.WidgetPath = "does/not/exist.js"

		rec := doJSON(t, s, http.MethodGet, "/widget.js", nil, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
