package obgyn

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/surajgopal85/talktor/internal/extraction"
)

// StrategyPattern is the extraction strategy name for candidates found by
// the OBGYN vocabulary patterns.
const StrategyPattern extraction.Strategy = "obgyn_pattern_match"

// Boosts applied on top of the base confidence score.
const (
	pregnancyContextBoost   = 0.2  // pregnancy-related pattern while pregnant
	conditionMatchBoost     = 0.15 // pattern's condition was detected
	stageMatchBoost         = 0.2  // pattern's stage matches
	pregnancyRelevanceBoost = 0.15 // term relevant to pregnancy care
	riskPenalty             = -0.1 // term risky during pregnancy

	patternContextBytes = 30
)

// medPattern is an OBGYN vocabulary pattern with its scoring behaviour.
type medPattern struct {
	re       *regexp.Regexp
	category string
	boost    float64

	// pregnancyRelated patterns gain pregnancyContextBoost whenever a
	// pregnancy is in play.
	pregnancyRelated bool

	// condition, when set, gains conditionMatchBoost if that condition
	// was detected in the utterance.
	condition Condition

	// stage, when set, gains stageMatchBoost if the detected pregnancy
	// stage matches.
	stage Stage
}

// medPatterns is the OBGYN vocabulary. ácido fólico sits outside \b, which
// only understands ASCII word characters.
var medPatterns = []medPattern{
	{
		re:       regexp.MustCompile(`\b(?:birth\s+control|contraceptive|pill|oral\s+contraceptive)\b`),
		category: "contraception",
		boost:    0.3,
	},
	{
		re:               regexp.MustCompile(`\b(?:prenatal\s+vitamins?|folic\s+acid|folate|iron\s+supplement|vitaminas\s+prenatales)\b|ácido\s+fólico`),
		category:         "prenatal_supplement",
		boost:            0.4,
		pregnancyRelated: true,
	},
	{
		re:       regexp.MustCompile(`\b(?:clomid|clomiphene|letrozole|femara|gonadotropin)\b`),
		category: "fertility",
		boost:    0.35,
	},
	{
		re:       regexp.MustCompile(`\b(?:epidural|pitocin|oxytocin|magnesium\s+sulfate)\b`),
		category: "labor_delivery",
		boost:    0.4,
		stage:    StageThirdTrimester,
	},
	{
		re:        regexp.MustCompile(`\b(?:metformin|spironolactone|inositol)\b`),
		category:  "pcos_treatment",
		boost:     0.25,
		condition: ConditionPCOS,
	},
	{
		re:       regexp.MustCompile(`\b(?:estrogen|progesterone|hormone\s+replacement|hrt|premarin)\b`),
		category: "hormone_therapy",
		boost:    0.3,
	},
}

// pregnancyRelevantTerms earn a boost during pregnancy: supplements and
// pain relief considered safe.
var pregnancyRelevantTerms = []string{
	"prenatal", "folic", "iron", "vitamin", "calcium", "dha",
	"acetaminophen", "tylenol",
}

// riskyMedTerms are penalised and flagged during pregnancy. Matched as
// substrings, so "ace" also catches ACE inhibitor name fragments.
var riskyMedTerms = []string{
	"ibuprofen", "aspirin", "nsaid", "warfarin", "ace",
	"ibuprofeno", "aspirina", "warfarina",
}

// boostedCandidate pairs a candidate with its OBGYN scoring adjustments.
type boostedCandidate struct {
	extraction.Candidate

	// Category is the matched pattern's grouping, empty for candidates
	// from the general strategies.
	Category string

	// Boost is the summed OBGYN adjustment, negative for risky terms.
	Boost float64

	// RiskFlagged marks terms considered risky during pregnancy.
	RiskFlagged bool
}

// obgynCandidates finds OBGYN vocabulary matches in the lowercased text,
// boosted according to the detected context.
func obgynCandidates(lower string, octx Context) []boostedCandidate {
	var out []boostedCandidate
	for _, p := range medPatterns {
		for _, loc := range p.re.FindAllStringIndex(lower, -1) {
			start, end := loc[0], loc[1]
			boost := p.boost
			if p.pregnancyRelated && octx.Stage != StageNotPregnant {
				boost += pregnancyContextBoost
			}
			if p.condition != "" && octx.HasCondition(p.condition) {
				boost += conditionMatchBoost
			}
			if p.stage != "" && octx.Stage == p.stage {
				boost += stageMatchBoost
			}
			out = append(out, boostedCandidate{
				Candidate: extraction.Candidate{
					Term:     lower[start:end],
					Strategy: StrategyPattern,
					Context:  runeWindow(lower, start-patternContextBytes, end+patternContextBytes),
					Position: len(strings.Fields(lower[:start])),
				},
				Category: p.category,
				Boost:    boost,
			})
		}
	}
	return out
}

// enhance applies pregnancy relevance boosts and risk penalties to the
// general strategies' candidates.
func enhance(candidates []extraction.Candidate, octx Context) []boostedCandidate {
	out := make([]boostedCandidate, 0, len(candidates))
	for _, cand := range candidates {
		bc := boostedCandidate{Candidate: cand}
		if octx.Stage != StageNotPregnant {
			if containsAny(cand.Term, pregnancyRelevantTerms...) {
				bc.Boost += pregnancyRelevanceBoost
			}
			if containsAny(cand.Term, riskyMedTerms...) {
				bc.Boost += riskPenalty
				bc.RiskFlagged = true
			}
		}
		out = append(out, bc)
	}
	return out
}

// dedupe keeps the first candidate per (term, strategy) pair, merging the
// category from later duplicates so pattern information is not lost.
func dedupe(candidates []boostedCandidate) []boostedCandidate {
	type key struct {
		term     string
		strategy extraction.Strategy
	}
	index := make(map[key]int, len(candidates))
	var out []boostedCandidate
	for _, c := range candidates {
		k := key{c.Term, c.Strategy}
		if i, ok := index[k]; ok {
			if out[i].Category == "" {
				out[i].Category = c.Category
			}
			continue
		}
		index[k] = len(out)
		out = append(out, c)
	}
	return out
}

// runeWindow slices s[lo:hi] with bounds clamped and snapped outward to
// rune boundaries.
func runeWindow(s string, lo, hi int) string {
	lo = max(lo, 0)
	hi = min(hi, len(s))
	for lo > 0 && !utf8.RuneStart(s[lo]) {
		lo--
	}
	for hi < len(s) && !utf8.RuneStart(s[hi]) {
		hi++
	}
	return s[lo:hi]
}
