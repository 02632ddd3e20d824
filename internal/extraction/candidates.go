package extraction

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// tokenPattern matches runs of three or more word characters. The Unicode
// classes matter: utterances arrive in Spanish as well as English, and
// accented words such as "está" must tokenize whole.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{3,}`)

// suffixPatterns are pharmaceutical name endings with per-suffix weights.
// Order is fixed so candidate output is deterministic.
var suffixPatterns = []struct {
	re     *regexp.Regexp
	weight float64
}{
	{regexp.MustCompile(`\b\w+mycin\b`), 0.8},    // antibiotics
	{regexp.MustCompile(`\b\w+cillin\b`), 0.85},  // penicillins
	{regexp.MustCompile(`\b\w+prazole\b`), 0.9},  // proton pump inhibitors
	{regexp.MustCompile(`\b\w+statin\b`), 0.85},  // cholesterol
	{regexp.MustCompile(`\b\w+pril\b`), 0.8},     // ACE inhibitors
	{regexp.MustCompile(`\b\w+lol\b`), 0.75},     // beta blockers
	{regexp.MustCompile(`\b\w+ide\b`), 0.7},      // diuretics
	{regexp.MustCompile(`\b\w+pine\b`), 0.7},     // calcium channel blockers
}

// patternContextBytes is the context window taken either side of a suffix
// pattern match.
const patternContextBytes = 20

// Candidates generates all medication candidates for text across the three
// strategies, deduplicated by (term, strategy) with first occurrence kept.
// The output order is deterministic: single words, then bigrams, then
// pattern matches, each in utterance order.
func Candidates(text string) []Candidate {
	lower := strings.ToLower(text)
	words := tokenPattern.FindAllString(lower, -1)

	var out []Candidate
	out = append(out, singleWordCandidates(words)...)
	out = append(out, bigramCandidates(words)...)
	out = append(out, patternCandidates(lower)...)
	return dedupeCandidates(out)
}

func singleWordCandidates(words []string) []Candidate {
	var out []Candidate
	for i, w := range words {
		if utf8.RuneCountInString(w) < 4 {
			continue
		}
		out = append(out, Candidate{
			Term:     w,
			Strategy: StrategySingleWord,
			Context:  wordWindow(words, i-2, i+3),
			Position: i,
		})
	}
	return out
}

func bigramCandidates(words []string) []Candidate {
	var out []Candidate
	for i := 0; i+1 < len(words); i++ {
		out = append(out, Candidate{
			Term:     words[i] + " " + words[i+1],
			Strategy: StrategyBigram,
			Context:  wordWindow(words, i-1, i+4),
			Position: i,
		})
	}
	return out
}

func patternCandidates(lower string) []Candidate {
	var out []Candidate
	for _, p := range suffixPatterns {
		for _, loc := range p.re.FindAllStringIndex(lower, -1) {
			start, end := loc[0], loc[1]
			out = append(out, Candidate{
				Term:          lower[start:end],
				Strategy:      StrategyPattern,
				Context:       byteWindow(lower, start-patternContextBytes, end+patternContextBytes),
				Position:      len(strings.Fields(lower[:start])),
				PatternWeight: p.weight,
			})
		}
	}
	return out
}

// wordWindow joins words[lo:hi] with both bounds clamped to the slice.
func wordWindow(words []string, lo, hi int) string {
	lo = max(lo, 0)
	hi = min(hi, len(words))
	return strings.Join(words[lo:hi], " ")
}

// byteWindow slices s[lo:hi] with bounds clamped and snapped outward to
// rune boundaries so the context never splits a multi-byte character.
func byteWindow(s string, lo, hi int) string {
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

func dedupeCandidates(candidates []Candidate) []Candidate {
	type key struct {
		term     string
		strategy Strategy
	}
	seen := make(map[key]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		k := key{c.Term, c.Strategy}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}
