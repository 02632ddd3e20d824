package extraction

import (
	"strings"
	"unicode/utf8"

	"github.com/surajgopal85/talktor/internal/catalog"
)

// Signals carries every input to a confidence calculation. Capturing them
// in one value keeps [Score] a pure function: the same signals always
// produce the same score, regardless of engine state or call order.
type Signals struct {
	// Term is the candidate text.
	Term string

	// Strategy that generated the candidate.
	Strategy Strategy

	// Context is the candidate's surrounding text window.
	Context string

	// Position is the candidate's word index in the utterance.
	Position int

	// WordCount is the whitespace-separated word count of the whole
	// utterance, the denominator for the position ratio.
	WordCount int

	// PatternWeight is the suffix weight for pattern candidates.
	PatternWeight float64

	// Record is the catalog resolution for the term.
	Record catalog.Record
}

// Scoring weights. A candidate's confidence is the sum of the components
// below, capped at 1.0.
const (
	catalogMatchBonus  = 0.4  // catalog resolved a canonical name
	catalogDetailBonus = 0.1  // each of: indications, contraindications, RxCUI
	indicatorBonus     = 0.05 // per context indicator found
	indicatorBonusCap  = 0.2
	positionBonus      = 0.05 // candidate sits mid-utterance
	lengthBonus        = 0.05 // plausible medication name length
	patternBonusScale  = 0.15 // multiplied by the suffix weight

	minTermLength = 4
	maxTermLength = 15
)

// strategyWeights is the fixed confidence contribution per strategy.
// Strategies not listed (specialty extensions) contribute nothing here.
var strategyWeights = map[Strategy]float64{
	StrategyPattern:    0.15,
	StrategySingleWord: 0.05,
	StrategyBigram:     0,
}

// contextIndicators are words whose presence near a candidate suggests a
// medication discussion.
var contextIndicators = []string{
	"taking", "prescribed", "medication", "medicine", "drug",
	"pill", "tablet", "dosage", "mg", "milligram",
	"daily", "twice", "morning", "doctor", "physician",
	"pharmacy", "prescription",
}

// Score computes the confidence for one candidate from its signals.
//
// Components: catalog validation (canonical match plus detail bonuses),
// context indicators (capped), the generation strategy's base weight, a
// mid-utterance position bonus, a plausible-length bonus, and the scaled
// suffix pattern weight. The result is capped at 1.0.
func Score(sig Signals) float64 {
	score := catalogComponent(sig.Record) +
		contextComponent(sig.Context) +
		strategyWeights[sig.Strategy] +
		positionComponent(sig.Position, sig.WordCount) +
		lengthComponent(sig.Term) +
		sig.PatternWeight*patternBonusScale
	return min(score, 1.0)
}

// catalogComponent rewards candidates the catalog could resolve. The detail
// bonuses only apply on top of a canonical match: an unknown record scores
// zero here even if partial fields are set.
func catalogComponent(rec catalog.Record) float64 {
	if rec.CanonicalName == "" {
		return 0
	}
	score := catalogMatchBonus
	if len(rec.Indications) > 0 {
		score += catalogDetailBonus
	}
	if len(rec.Contraindications) > 0 {
		score += catalogDetailBonus
	}
	if rec.RxCUI != "" {
		score += catalogDetailBonus
	}
	return score
}

func contextComponent(context string) float64 {
	lower := strings.ToLower(context)
	var hits int
	for _, ind := range contextIndicators {
		if strings.Contains(lower, ind) {
			hits++
		}
	}
	return min(float64(hits)*indicatorBonus, indicatorBonusCap)
}

// positionComponent rewards candidates in the middle of the utterance,
// where medication names tend to appear in natural speech.
func positionComponent(position, wordCount int) float64 {
	ratio := float64(position) / float64(max(wordCount, 1))
	if ratio > 0.2 && ratio < 0.8 {
		return positionBonus
	}
	return 0
}

func lengthComponent(term string) float64 {
	n := utf8.RuneCountInString(term)
	if n >= minTermLength && n <= maxTermLength {
		return lengthBonus
	}
	return 0
}
