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

	"github.com/longopass/ai-gateway/gateway/llm"
)

// systemHealth is the fixed domain preamble embedded in every prompt.
const systemHealth = "Sen Longopass AI'sın. SADECE sağlık/supplement/laboratuvar konularında yanıt ver. " +
	"Off-topic'te kibarca reddet. Yanıtlar bilgilendirme amaçlıdır; tanı/tedavi için hekim gerekir."

// analyzeSchema describes the strict JSON contract for analyze output.
const analyzeSchema = "STRICT JSON ŞEMASI ve ÖRNEK:\n" +
	"{\n" +
	"  \"recommendations\": [\n" +
	"    {\"name\": \"D Vitamini\", \"reason\": \"Eksiklik belirtileri mevcut\", \"source\": \"consensus\"},\n" +
	"    {\"name\": \"Magnezyum\", \"reason\": \"Yorgunluk ve kas krampları için\", \"source\": \"consensus\"}\n" +
	"  ],\n" +
	"  \"analysis\": {\n" +
	"    \"summary\": \"D vitamini eksikliği olası, takviye önerilir\",\n" +
	"    \"key_findings\": [\"Yorgunluk\", \"Saç dökülmesi\"],\n" +
	"    \"risk_level\": \"düşük\"\n" +
	"  }\n" +
	"}\n" +
	"SADECE VE SADECE bu JSON formatında yanıt ver. Hiçbir açıklama, metin ekleme. " +
	"recommendations dizi boş olabilir ama analysis dolu olmalı."

// quizSchema describes the fixed-section quiz JSON contract.
const quizSchema = "STRICT JSON ŞEMASI:\n" +
	"{\n" +
	"  \"nutrition_advice\": {\"title\": \"Beslenme Önerileri\", \"recommendations\": [\"...\"]},\n" +
	"  \"lifestyle_advice\": {\"title\": \"Yaşam Tarzı Önerileri\", \"recommendations\": [\"...\"]},\n" +
	"  \"general_warnings\": {\"title\": \"Genel Uyarılar\", \"warnings\": [\"...\"]},\n" +
	"  \"supplement_recommendations\": [\n" +
	"    {\"name\": \"...\", \"description\": \"...\", \"daily_dose\": \"...\", \"benefits\": [\"...\"], \"warnings\": [\"...\"], \"priority\": \"high|medium|low\"}\n" +
	"  ]\n" +
	"}\n" +
	"SADECE bu JSON formatında yanıt ver. Tüm bölümler dolu olmalı."

// labSchema describes the interpretation-only lab JSON contract.
const labSchema = "STRICT JSON ŞEMASI:\n" +
	"{\n" +
	"  \"analysis\": {\n" +
	"    \"summary\": \"...\",\n" +
	"    \"key_findings\": [\"...\"],\n" +
	"    \"risk_level\": \"düşük|orta|yüksek\"\n" +
	"  }\n" +
	"}\n" +
	"SADECE bu JSON formatında yanıt ver. Supplement veya ilaç önerisi YAPMA; " +
	"yalnızca değerleri yorumla ve gerektiğinde hekime yönlendir."

// labMultiSchema extends labSchema with an aggregate status tag.
const labMultiSchema = "STRICT JSON ŞEMASI:\n" +
	"{\n" +
	"  \"analysis\": {\n" +
	"    \"summary\": \"...\",\n" +
	"    \"key_findings\": [\"...\"],\n" +
	"    \"risk_level\": \"düşük|orta|yüksek\"\n" +
	"  },\n" +
	"  \"overall_status\": \"normal|takip_gerekli|hekime_danisin\"\n" +
	"}\n" +
	"SADECE bu JSON formatında yanıt ver. Supplement veya ilaç önerisi YAPMA; " +
	"tüm sonuçları birlikte yorumla ve genel bir durum etiketi ver."

// buildChatMessages assembles the chat prompt: domain system preamble,
// the trimmed conversation history, then the new user message.
func buildChatMessages(history []llm.Message, userText string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemHealth})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
	return messages
}

func buildAnalyzeMessages(payload map[string]any) []llm.Message {
	user := "Kullanıcı verisi: " + compactJSON(payload)
	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: systemHealth + " Sen bir sağlık supplement uzmanısın. " +
				"Kullanıcı verilerini analiz et ve supplement önerileri yap. SADECE JSON döndür.",
		},
		{Role: llm.RoleUser, Content: user + "\n\n" + analyzeSchema},
	}
}

func buildQuizMessages(answers QuizAnswers) []llm.Message {
	data, _ := json.Marshal(answers)
	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: systemHealth + " Sen bir sağlık supplement uzmanısın. " +
				"Quiz cevaplarına göre kişiselleştirilmiş beslenme, yaşam tarzı ve supplement önerileri hazırla. SADECE JSON döndür.",
		},
		{Role: llm.RoleUser, Content: "Quiz cevapları: " + string(data) + "\n\n" + quizSchema},
	}
}

func buildLabSingleMessages(result map[string]any) []llm.Message {
	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: systemHealth + " Sen bir laboratuvar sonucu yorumlama uzmanısın. " +
				"Tek bir tahlil sonucunu yorumla. Supplement veya ilaç önerisi yapma. SADECE JSON döndür.",
		},
		{Role: llm.RoleUser, Content: "Tahlil sonucu: " + compactJSON(result) + "\n\n" + labSchema},
	}
}

func buildLabMultipleMessages(results []map[string]any) []llm.Message {
	data, _ := json.Marshal(results)
	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: systemHealth + " Sen bir laboratuvar sonucu yorumlama uzmanısın. " +
				"Birden çok tahlil sonucunu birlikte yorumla ve genel durumu özetle. " +
				"Supplement veya ilaç önerisi yapma. SADECE JSON döndür.",
		},
		{Role: llm.RoleUser, Content: "Tahlil sonuçları: " + string(data) + "\n\n" + labMultiSchema},
	}
}

// buildSynthesisMessages lists every candidate labeled by its source
// model and instructs the synthesis model to merge them into one answer
// obeying the request type's output contract. Candidates arrive in
// completion order; the explicit labels keep the prompt deterministic
// regardless of arrival order.
func buildSynthesisMessages(kind requestKind, candidates []Candidate) []llm.Message {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "--- Kaynak model %d (%s) ---\n%s\n\n", i+1, c.Model, c.Response)
	}

	var instruction string
	switch kind {
	case kindChat:
		instruction = " Görevin: Aşağıdaki aday yanıtları tek bir en iyi yanıtta birleştir. " +
			"Örtüşen önerileri birleştir; çelişkilerde daha güvenli/temkinli olanı tercih et. " +
			"Kaynak modellerden veya birleştirme sürecinden ASLA bahsetme. " +
			"Net, anlaşılır Türkçe düz metin döndür."
	case kindAnalyze:
		instruction = " Görevin: Aşağıdaki aday JSON yanıtları tek bir JSON'da birleştir. " +
			"Örtüşen önerileri tekilleştir; çelişkilerde daha güvenli olanı tercih et. " +
			analyzeSchema
	case kindQuiz:
		instruction = " Görevin: Aşağıdaki aday yanıtları tek bir JSON'da birleştir. " +
			"Örtüşen önerileri tekilleştir; çelişkilerde daha güvenli olanı tercih et. " +
			quizSchema
	case kindLabSingle:
		instruction = " Görevin: Aşağıdaki aday yorumları tek bir JSON'da birleştir. " +
			"Çelişkilerde daha temkinli yorumu tercih et. " + labSchema
	case kindLabMultiple:
		instruction = " Görevin: Aşağıdaki aday yorumları tek bir JSON'da birleştir. " +
			"Çelişkilerde daha temkinli yorumu tercih et. " + labMultiSchema
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemHealth + instruction},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

// buildFinalizeTextMessages is the chat self-review pass: quality check,
// rewrite when insufficient, strip meta-commentary.
func buildFinalizeTextMessages(text string) []llm.Message {
	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: systemHealth +
				" Görevin: Aşağıdaki asistan yanıtını kalite (doğruluk, tutarlılık, fayda, güvenlik) açısından değerlendir;" +
				" YETERSİZ/HATALI ise baştan, doğru ve güvenli bir yanıt olarak YENİDEN YAZ. Gerekirse eksikleri tamamla, yanlışları düzelt." +
				" Gereksiz tekrarları çıkar. Net, anlaşılır Türkçe kullan; mümkün olduğunda kısa madde işaretleriyle ver." +
				" Off-topic istekleri kibarca reddet. Sadece nihai yanıtı döndür.",
		},
		{Role: llm.RoleUser, Content: text},
	}
}

// buildFinalizeAnalyzeMessages deduplicates and orders analyze output
// without adding new items.
func buildFinalizeAnalyzeMessages(jsonText string) []llm.Message {
	return []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: systemHealth +
				" Bu JSON'u yalnızca tekilleştir, önem sırasına koy ve geçerli JSON olarak geri ver. Yeni öğe ekleme.",
		},
		{Role: llm.RoleUser, Content: jsonText},
	}
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
