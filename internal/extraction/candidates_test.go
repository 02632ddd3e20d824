package extraction

import (
	"testing"
	"unicode/utf8"
)

// findCandidate returns the first candidate with the given term and
// strategy, or nil.
func findCandidate(candidates []Candidate, term string, strategy Strategy) *Candidate {
	for i := range candidates {
		if candidates[i].Term == term && candidates[i].Strategy == strategy {
			return &candidates[i]
		}
	}
	return nil
}

func TestCandidates_AllStrategies(t *testing.T) {
	got := Candidates("I am taking azithromycin daily")

	// Tokens of 3+ chars: taking, azithromycin, daily. All three are long
	// enough for single-word candidates, two bigrams, one suffix match.
	if len(got) != 6 {
		t.Fatalf("len(candidates) = %d, want 6: %+v", len(got), got)
	}

	single := findCandidate(got, "azithromycin", StrategySingleWord)
	if single == nil {
		t.Fatal("missing single_word candidate for azithromycin")
	}
	if single.Position != 1 {
		t.Errorf("single_word position = %d, want 1", single.Position)
	}
	if single.Context != "taking azithromycin daily" {
		t.Errorf("single_word context = %q, want %q", single.Context, "taking azithromycin daily")
	}
	if single.PatternWeight != 0 {
		t.Errorf("single_word pattern weight = %v, want 0", single.PatternWeight)
	}

	bigram := findCandidate(got, "taking azithromycin", StrategyBigram)
	if bigram == nil {
		t.Fatal("missing bigram candidate")
	}
	if bigram.Position != 0 {
		t.Errorf("bigram position = %d, want 0", bigram.Position)
	}

	pattern := findCandidate(got, "azithromycin", StrategyPattern)
	if pattern == nil {
		t.Fatal("missing pattern candidate for azithromycin")
	}
	// Word index counts every whitespace-separated word before the match,
	// including short ones that never become candidates themselves.
	if pattern.Position != 3 {
		t.Errorf("pattern position = %d, want 3", pattern.Position)
	}
	if pattern.PatternWeight != 0.8 {
		t.Errorf("pattern weight = %v, want 0.8", pattern.PatternWeight)
	}
}

func TestCandidates_ShortWordsSkipped(t *testing.T) {
	// "for" tokenizes (3 chars) but is too short for a single-word
	// candidate; it still participates in bigrams.
	got := Candidates("pills for pain")

	if c := findCandidate(got, "for", StrategySingleWord); c != nil {
		t.Errorf("unexpected single_word candidate %+v", c)
	}
	if c := findCandidate(got, "pills for", StrategyBigram); c == nil {
		t.Error("missing bigram containing short word")
	}
	if c := findCandidate(got, "pills", StrategySingleWord); c == nil {
		t.Error("missing single_word candidate for pills")
	}
}

func TestCandidates_Dedupe(t *testing.T) {
	got := Candidates("aspirin aspirin aspirin")

	var singles, bigrams int
	for _, c := range got {
		switch c.Strategy {
		case StrategySingleWord:
			singles++
		case StrategyBigram:
			bigrams++
		}
	}
	if singles != 1 {
		t.Errorf("single_word candidates = %d, want 1 after dedupe", singles)
	}
	if bigrams != 1 {
		t.Errorf("bigram candidates = %d, want 1 after dedupe", bigrams)
	}

	// First occurrence wins.
	if c := findCandidate(got, "aspirin", StrategySingleWord); c == nil || c.Position != 0 {
		t.Errorf("kept candidate = %+v, want position 0", c)
	}
}

func TestCandidates_Unicode(t *testing.T) {
	got := Candidates("Está tomando ibuprofeno para el dolor")

	c := findCandidate(got, "está", StrategySingleWord)
	if c == nil {
		t.Fatal("accented word did not tokenize as a candidate")
	}
	if c.Position != 0 {
		t.Errorf("position = %d, want 0", c.Position)
	}
	for _, cand := range got {
		if !utf8.ValidString(cand.Context) {
			t.Errorf("context for %q is not valid UTF-8: %q", cand.Term, cand.Context)
		}
	}
}

func TestCandidates_PatternWindow(t *testing.T) {
	got := Candidates("one two three four five six atorvastatin tail")

	c := findCandidate(got, "atorvastatin", StrategyPattern)
	if c == nil {
		t.Fatal("missing pattern candidate")
	}
	if c.Position != 6 {
		t.Errorf("position = %d, want 6", c.Position)
	}
	if c.Context != "three four five six atorvastatin tail" {
		t.Errorf("context = %q", c.Context)
	}
	if c.PatternWeight != 0.85 {
		t.Errorf("weight = %v, want 0.85", c.PatternWeight)
	}
}

func TestCandidates_PatternOrderIsSuffixOrder(t *testing.T) {
	// prazole is checked before statin, so omeprazole appears first among
	// pattern candidates even though atorvastatin comes first in the text.
	got := Candidates("atorvastatin and omeprazole")

	var patterns []string
	for _, c := range got {
		if c.Strategy == StrategyPattern {
			patterns = append(patterns, c.Term)
		}
	}
	want := []string{"omeprazole", "atorvastatin"}
	if len(patterns) != len(want) {
		t.Fatalf("pattern candidates = %v, want %v", patterns, want)
	}
	for i := range want {
		if patterns[i] != want[i] {
			t.Fatalf("pattern candidates = %v, want %v", patterns, want)
		}
	}
}

func TestCandidates_Empty(t *testing.T) {
	for _, text := range []string{"", "   ", "a to is"} {
		if got := Candidates(text); len(got) != 0 {
			t.Errorf("Candidates(%q) = %+v, want none", text, got)
		}
	}
}
