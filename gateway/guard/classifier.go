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

package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/longopass/ai-gateway/gateway/llm"
)

// Label is the topic classification of a user message.
type Label string

const (
	LabelHealth            Label = "HEALTH"
	LabelNonHealth         Label = "NON_HEALTH"
	LabelMedicalProhibited Label = "MEDICAL_PROHIBITED"
	LabelAmbiguous         Label = "AMBIGUOUS"
)

// DefaultClassifierTTL is how long a classification stays cached.
const DefaultClassifierTTL = 1800 * time.Second

// classifierMaxTokens bounds the moderation call output; one label fits
// in a handful of tokens.
const classifierMaxTokens = 3

// ModelInvoker is the single-call surface the classifier needs from the
// invocation client.
type ModelInvoker interface {
	Invoke(ctx context.Context, model string, messages []llm.Message, temperature float64, maxTokens int) (*llm.CallResult, error)
}

// Classifier labels messages via a lightweight moderation model, with a
// TTL cache keyed by the SHA-256 of the normalized text.
type Classifier struct {
	invoker ModelInvoker
	model   string
	cache   LabelCache
	ttl     time.Duration
}

// NewClassifier creates a Classifier. A nil cache gets the in-process
// default; a zero ttl gets DefaultClassifierTTL.
func NewClassifier(invoker ModelInvoker, model string, cache LabelCache, ttl time.Duration) *Classifier {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultClassifierTTL
	}
	return &Classifier{
		invoker: invoker,
		model:   model,
		cache:   cache,
		ttl:     ttl,
	}
}

// CacheKey returns the cache key for text: SHA-256 of the normalized form.
func CacheKey(text string) string {
	sum := sha256.Sum256([]byte(normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Classify returns the topic label for text. A cached, unexpired label is
// returned without a model call; otherwise one moderation call is issued
// and its normalized result cached.
func (c *Classifier) Classify(ctx context.Context, text string) (Label, error) {
	key := CacheKey(text)
	if label, ok := c.cache.Get(ctx, key); ok {
		return label, nil
	}

	messages := []llm.Message{
		{
			Role: llm.RoleSystem,
			Content: "Sınıflandırma yap. YALNIZCA bu etiketlerden birini döndür: " +
				"HEALTH, NON_HEALTH, MEDICAL_PROHIBITED, AMBIGUOUS. Açıklama ekleme.",
		},
		{
			Role: llm.RoleUser,
			Content: "Metin: " + text + "\n\n" +
				"Kriter: Sağlık/supplement/laboratuvar/symptom bağlamı varsa HEALTH. " +
				"İlaç/doz/teşhis talebi ise MEDICAL_PROHIBITED. Belirsizse AMBIGUOUS. Aksi NON_HEALTH.",
		},
	}

	result, err := c.invoker.Invoke(ctx, c.model, messages, 0.0, classifierMaxTokens)
	if err != nil {
		return "", err
	}

	label := normalizeLabel(result.Content)
	c.cache.Set(ctx, key, label, c.ttl)
	return label, nil
}

// normalizeLabel maps raw classifier output onto the known label set.
// Priority order matters: MEDICAL_PROHIBITED must win over HEALTH for
// outputs like "MEDICAL_PROHIBITED (HEALTH)". Unrecognized output maps
// to AMBIGUOUS.
func normalizeLabel(raw string) Label {
	label := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.Contains(label, "MEDICAL"):
		return LabelMedicalProhibited
	case strings.HasPrefix(label, "HEALTH"):
		return LabelHealth
	case strings.HasPrefix(label, "NON"):
		return LabelNonHealth
	case strings.HasPrefix(label, "AMBIG"):
		return LabelAmbiguous
	default:
		return LabelAmbiguous
	}
}
