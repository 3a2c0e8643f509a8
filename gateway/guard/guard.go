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

// Package guard implements the topic/safety gate run before any
// generation call. A layered classifier (prescription patterns, then
// keyword/regex with fuzzy matching, then an LLM classifier with a TTL
// cache) decides whether a message may proceed and, if not, which fixed
// refusal to return.
package guard

import (
	"context"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/longopass/ai-gateway/shared/logger"
)

// Mode selects how strictly the guard gates non-obvious topics.
type Mode string

const (
	// ModeStrict uses the keyword/regex layer only; unmatched text is denied.
	ModeStrict Mode = "strict"

	// ModeLenient uses the keyword/regex layer but allows unmatched text.
	ModeLenient Mode = "lenient"

	// ModeTopic asks the LLM classifier first.
	ModeTopic Mode = "topic"

	// ModeHybrid runs keyword/regex first and falls back to the classifier.
	ModeHybrid Mode = "hybrid"
)

// DenialReason identifies which layer denied a message.
type DenialReason string

const (
	ReasonPrescription      DenialReason = "prescription"
	ReasonMedicalProhibited DenialReason = "medical_prohibited"
	ReasonOffTopic          DenialReason = "off_topic"
)

// Fixed user-facing refusal messages.
const (
	PrescriptionRefusal = "İlaç/doz yazamıyorum veya reçete düzenleyemem. Uygun tedavi için hekiminize danışın."
	MedicalRefusal      = "İlaç/doz/teşhis talebi gerçekleştiremiyorum. Uygun tedavi için hekiminize danışın."
	OffTopicRefusal     = "Üzgünüm, Longopass AI yalnızca sağlık ve supplement konularında yardımcı olabilir."
)

// fuzzyThreshold is the token-level similarity required for a fuzzy
// allow-keyword match.
const fuzzyThreshold = 0.82

// Decision is the terminal outcome of one guard check.
type Decision struct {
	Allowed bool
	Message string
	Reason  DenialReason
}

// allow is the shared ALLOW decision.
var allow = Decision{Allowed: true}

func deny(reason DenialReason, message string) Decision {
	return Decision{Allowed: false, Reason: reason, Message: message}
}

var allowKeywords = []string{
	"sağlık", "beslenme", "supplement", "vitamin", "mineral", "diyet", "uyku",
	"egzersiz", "kan", "laboratuvar", "test", "kolesterol", "hbA1c", "glukoz",
	"magnezyum", "magnesium", "omega", "d3", "b12", "demir", "tiroid", "tansiyon", "insülin",
	"diabet", "kalp", "karaciğer", "böbrek", "semptom", "belirti",
}

var denyKeywords = []string{
	"kripto", "borsa", "hisse", "hukuk", "bahis", "hack", "nsfw", "futbol",
	"siyaset", "politika", "vergi", "emlak",
}

var (
	tokenPattern   = regexp.MustCompile(`[a-z0-9]+`)
	dosePattern    = regexp.MustCompile(`\b\d+(\.\d+)?\s?(mg|mcg|ug|g|iu|ml|mg/dl|mmol/l)\b`)
	freqPattern    = regexp.MustCompile(`(gunde\s?\d+|her\s?\d+\s?(saat|gun)|\b[1-4]x\b)`)
	labUnitPattern = regexp.MustCompile(`\b(mg/dl|mmol/l|mui/ml|miu/l|ng/ml|ug/l|iu|ml)\b`)
	labNamePattern = regexp.MustCompile(`\b(hdl|ldl|hba1c|tsh|crp|trigliserid|triglyceride|kolesterol|ferritin|b12|d vitamini|vit d)\b`)
	organPattern   = regexp.MustCompile(`\b(karaciger|bobrek|tiroid|kalp|akciger)\b`)
	symptomPattern = regexp.MustCompile(`\b(ates|oksuruk|bas agrisi|mide bulantisi|ishal|agrisi|agrim var|agriyor|nabiz|tansiyon|iyi hissetmiyorum|kotu hissediyorum|halsizim|yorgunum|rahatsizim|hasta hissediyorum)\b`)
)

var prescriptionVerbs = []string{
	"doz", "dozu", "kac mg", "recete", "yaz", "ilac", "antibiyotik",
	"antidepresan", "agri kesici",
}

// turkishReplacer maps Turkish accented characters to ASCII equivalents
// before any pattern matching.
var turkishReplacer = strings.NewReplacer(
	"ı", "i", "ö", "o", "ü", "u", "ş", "s", "ğ", "g", "ç", "c",
)

func normalize(text string) string {
	return turkishReplacer.Replace(strings.ToLower(text))
}

// Config holds guard policy configuration.
type Config struct {
	// Mode selects the gating strategy (strict | lenient | topic | hybrid).
	Mode Mode

	// PrescriptionBlock toggles the prescription short-circuit check.
	PrescriptionBlock bool

	// FailOpen allows messages through when the classifier itself fails
	// in topic mode.
	FailOpen bool

	// Classifier is required for topic and hybrid modes.
	Classifier *Classifier
}

// Guard gates inbound user messages.
type Guard struct {
	mode              Mode
	prescriptionBlock bool
	failOpen          bool
	classifier        *Classifier
	log               *logger.Logger
}

// New creates a Guard from config.
func New(cfg Config) *Guard {
	mode := cfg.Mode
	if mode == "" {
		mode = ModeStrict
	}
	return &Guard{
		mode:              mode,
		prescriptionBlock: cfg.PrescriptionBlock,
		failOpen:          cfg.FailOpen,
		classifier:        cfg.Classifier,
		log:               logger.New("guard"),
	}
}

// Check runs the full guard state machine for one message. The
// prescription check always runs first and bypasses everything else.
func (g *Guard) Check(ctx context.Context, text string) Decision {
	if g.IsPrescriptionLike(text) {
		return deny(ReasonPrescription, PrescriptionRefusal)
	}

	switch g.mode {
	case ModeTopic:
		return g.checkTopicMode(ctx, text)
	case ModeHybrid:
		if g.IsHealthTopic(text) {
			return allow
		}
		return g.checkHybridClassifier(ctx, text)
	default:
		if g.IsHealthTopic(text) {
			return allow
		}
		return deny(ReasonOffTopic, OffTopicRefusal)
	}
}

// CheckLab gates structured lab payloads. Their free-text portions are
// often just a test name with no unit or keyword around it, so a
// recognized lab test name alone counts as topic evidence here. The
// prescription check still runs first, and anything unrecognized goes
// through the regular state machine.
func (g *Guard) CheckLab(ctx context.Context, text string) Decision {
	if g.IsPrescriptionLike(text) {
		return deny(ReasonPrescription, PrescriptionRefusal)
	}
	if t := normalize(text); !hasDenyKeyword(t) && labNamePattern.MatchString(t) {
		return allow
	}
	return g.Check(ctx, text)
}

func (g *Guard) checkTopicMode(ctx context.Context, text string) Decision {
	if g.classifier == nil {
		g.log.Warn("", "", "topic mode without classifier, falling back to keyword layer", nil)
		if g.IsHealthTopic(text) {
			return allow
		}
		return deny(ReasonOffTopic, OffTopicRefusal)
	}

	label, err := g.classifier.Classify(ctx, text)
	if err != nil {
		g.log.Warn("", "", "topic classifier failed", map[string]interface{}{
			"error":     err.Error(),
			"fail_open": g.failOpen,
		})
		if g.failOpen {
			return allow
		}
		return deny(ReasonOffTopic, OffTopicRefusal)
	}

	switch label {
	case LabelHealth, LabelAmbiguous:
		return allow
	case LabelMedicalProhibited:
		return deny(ReasonMedicalProhibited, MedicalRefusal)
	default:
		return deny(ReasonOffTopic, OffTopicRefusal)
	}
}

func (g *Guard) checkHybridClassifier(ctx context.Context, text string) Decision {
	if g.classifier == nil {
		return deny(ReasonOffTopic, OffTopicRefusal)
	}

	label, err := g.classifier.Classify(ctx, text)
	if err != nil {
		g.log.Warn("", "", "hybrid classifier failed, re-running keyword layer", map[string]interface{}{
			"error": err.Error(),
		})
		if g.IsHealthTopic(text) {
			return allow
		}
		return deny(ReasonOffTopic, OffTopicRefusal)
	}

	switch label {
	case LabelHealth, LabelAmbiguous:
		return allow
	case LabelMedicalProhibited:
		return deny(ReasonMedicalProhibited, MedicalRefusal)
	default:
		return deny(ReasonOffTopic, OffTopicRefusal)
	}
}

// IsPrescriptionLike flags text containing a dosage pattern together
// with a frequency pattern, or any prescription-intent verb. It returns
// false when the prescription block is disabled by configuration.
func (g *Guard) IsPrescriptionLike(text string) bool {
	if !g.prescriptionBlock {
		return false
	}
	t := normalize(text)

	if dosePattern.MatchString(t) && freqPattern.MatchString(t) {
		return true
	}
	for _, v := range prescriptionVerbs {
		if strings.Contains(t, v) {
			return true
		}
	}
	return false
}

// IsHealthTopic is the keyword/regex layer. Deny-keywords take
// precedence; then exact or fuzzy allow-keywords, the lab-unit+lab-name
// co-occurrence pattern, and organ/symptom phrases. In lenient mode any
// text not explicitly denied passes.
func (g *Guard) IsHealthTopic(text string) bool {
	t := normalize(text)

	if hasDenyKeyword(t) {
		return false
	}
	for _, k := range allowKeywords {
		if strings.Contains(t, normalize(k)) {
			return true
		}
	}
	if fuzzyMatchAny(t, allowKeywords) {
		return true
	}
	if labUnitPattern.MatchString(t) && labNamePattern.MatchString(t) {
		return true
	}
	if organPattern.MatchString(t) || symptomPattern.MatchString(t) {
		return true
	}
	return g.mode == ModeLenient
}

// hasDenyKeyword expects already-normalized text.
func hasDenyKeyword(t string) bool {
	for _, k := range denyKeywords {
		if strings.Contains(t, normalize(k)) {
			return true
		}
	}
	return false
}

// fuzzyMatchAny reports whether any token of text is within the fuzzy
// similarity threshold of any candidate keyword.
func fuzzyMatchAny(text string, candidates []string) bool {
	tokens := tokenPattern.FindAllString(text, -1)
	for _, cand := range candidates {
		c := normalize(cand)
		for _, tok := range tokens {
			if similarity(tok, c) >= fuzzyThreshold {
				return true
			}
		}
	}
	return false
}

// similarity is a normalized edit-distance ratio in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
