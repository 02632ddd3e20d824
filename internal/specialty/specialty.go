// Package specialty routes utterances to medical specialty engines.
//
// A [Specialty] wraps the general extraction pipeline with domain knowledge:
// extra vocabulary, safety assessment, and follow-up suggestions. The
// [Registry] holds every registered specialty and decides, per utterance,
// which one should process it. Routing is conservative: when nothing
// matches, [General] is returned and the caller runs plain extraction.
package specialty

import (
	"context"

	"github.com/surajgopal85/talktor/internal/extraction"
)

// General is the routing name used when no specialty matches. It is never
// registered; callers seeing it run the general extraction path.
const General = "general"

// Severity levels for safety flags, in increasing order of concern.
const (
	SeverityLow      = "low"
	SeverityModerate = "moderate"
	SeverityHigh     = "high"
	SeverityUrgent   = "urgent"
)

// Profile carries what the conversation layer knows about the patient.
// All fields are optional; the zero value means nothing is known.
type Profile struct {
	Gender           string   `json:"gender,omitempty"`
	Pregnant         bool     `json:"pregnant,omitempty"`
	GestationalWeeks int      `json:"gestational_weeks,omitempty"`
	Conditions       []string `json:"conditions,omitempty"`
}

// SafetyFlag marks a safety concern detected in an utterance.
type SafetyFlag struct {
	// Type categorises the concern, e.g. "medication_pregnancy_risk".
	Type string `json:"type"`

	// Term is the triggering term, when the flag is term-specific.
	Term string `json:"term,omitempty"`

	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Urgent reports whether the flag needs to interrupt the conversation flow.
func (f SafetyFlag) Urgent() bool {
	return f.Severity == SeverityHigh || f.Severity == SeverityUrgent
}

// SafetyInfo summarises how safe one medication is in a specialty context.
type SafetyInfo struct {
	Medication          string   `json:"medication"`
	PregnancyCategory   string   `json:"pregnancy_category,omitempty"`
	Safety              string   `json:"safety"`
	Recommendation      string   `json:"recommendation"`
	RiskLevel           string   `json:"risk_level"`
	BreastfeedingSafety string   `json:"breastfeeding_safety,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`
	Counseling          []string `json:"counseling,omitempty"`
	ConsultPhysician    bool     `json:"consult_physician,omitempty"`
}

// MedicationAssessment pairs an extracted medication with its specialty
// safety assessment.
type MedicationAssessment struct {
	extraction.Medication

	// Category is the specialty's own grouping, e.g. "contraception".
	Category string `json:"category,omitempty"`

	Safety SafetyInfo `json:"safety"`

	// RiskFlagged marks medications the specialty considers risky in the
	// patient's context. They are surfaced with a flag, never suppressed.
	RiskFlagged bool `json:"risk_flagged,omitempty"`
}

// Assessment is a specialty's enriched view of one utterance.
type Assessment struct {
	Specialty string `json:"specialty"`

	// ExtractionID identifies the stored learning attempt, when the
	// specialty records attempts. Empty otherwise.
	ExtractionID string `json:"extraction_id,omitempty"`

	Medications []MedicationAssessment `json:"medications"`
	Flags       []SafetyFlag           `json:"flags,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`

	// Context holds specialty-specific analysis, e.g. pregnancy stage.
	Context map[string]any `json:"context,omitempty"`

	// ReviewNeeded asks for a specialist to look at the exchange.
	ReviewNeeded bool `json:"review_needed"`
}

// UrgentFlags returns the flags that must reach participants immediately.
func (a Assessment) UrgentFlags() []SafetyFlag {
	var out []SafetyFlag
	for _, f := range a.Flags {
		if f.Urgent() {
			out = append(out, f)
		}
	}
	return out
}

// Specialty is a medical specialty engine.
type Specialty interface {
	// Name returns the routing name, e.g. "obgyn".
	Name() string

	// Keywords returns lowercased utterance fragments that route to this
	// specialty.
	Keywords() []string

	// MatchesProfile reports whether the patient profile alone indicates
	// this specialty, used when the utterance carries no keyword signal.
	MatchesProfile(profile Profile) bool

	// Process runs the specialty's extraction and safety analysis over
	// one utterance.
	Process(ctx context.Context, text, sessionID string, profile Profile) (Assessment, error)

	// MedicationSafety summarises the safety of one medication for the
	// given patient profile.
	MedicationSafety(ctx context.Context, medication string, profile Profile) (SafetyInfo, error)

	// Suggestions proposes follow-up questions for the utterance.
	Suggestions(text string) []string
}
