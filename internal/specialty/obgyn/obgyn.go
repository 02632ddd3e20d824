// Package obgyn is the OBGYN medical specialty: bilingual pregnancy and
// gynecology context detection, specialty medication vocabulary, and
// pregnancy safety assessment layered over the general extraction pipeline.
package obgyn

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/surajgopal85/talktor/internal/catalog"
	"github.com/surajgopal85/talktor/internal/extraction"
	"github.com/surajgopal85/talktor/internal/specialty"
)

// Name is the routing name of this specialty.
const Name = "obgyn"

// keywords route utterances here. Bilingual: the conversations this
// specialty serves happen in English and Spanish.
var keywords = []string{
	"pregnant", "pregnancy", "prenatal", "postpartum", "breastfeeding",
	"birth control", "contraception", "period", "menstrual", "cycle",
	"pcos", "endometriosis", "fertility", "ovulation", "gynecologist",
	"obgyn", "ob/gyn", "prenatal vitamins", "folic acid", "gestational",
	"trimester", "labor", "delivery", "cervical", "uterine", "ovarian",
	"embarazada", "embarazo", "anticonceptivos", "lactancia", "parto",
	"ácido fólico", "trimestre", "fertilidad",
}

// Specialty implements the OBGYN specialty engine.
type Specialty struct {
	log       *slog.Logger
	catalog   extraction.Lookup
	recorder  extraction.Recorder
	threshold float64
}

var _ specialty.Specialty = (*Specialty)(nil)

// Option configures the specialty.
type Option func(*Specialty)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Specialty) { s.log = l }
}

// WithRecorder wires a learning recorder for extraction attempts.
func WithRecorder(r extraction.Recorder) Option {
	return func(s *Specialty) { s.recorder = r }
}

// WithThreshold overrides the confidence threshold medications must
// strictly exceed.
func WithThreshold(threshold float64) Option {
	return func(s *Specialty) { s.threshold = threshold }
}

// New creates the OBGYN specialty backed by the given catalog.
func New(cat extraction.Lookup, opts ...Option) *Specialty {
	s := &Specialty{
		log:       slog.Default(),
		catalog:   cat,
		threshold: extraction.DefaultSpecialtyThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Specialty) Name() string { return Name }

func (s *Specialty) Keywords() []string { return keywords }

// MatchesProfile reports a match for pregnant patients, and for female
// patients whose known conditions include an OBGYN condition.
func (s *Specialty) MatchesProfile(p specialty.Profile) bool {
	if p.Pregnant {
		return true
	}
	if !strings.EqualFold(p.Gender, "female") {
		return false
	}
	for _, cond := range p.Conditions {
		lower := strings.ToLower(cond)
		if strings.Contains(lower, "pregnancy") ||
			strings.Contains(lower, "pcos") ||
			strings.Contains(lower, "endometriosis") {
			return true
		}
	}
	return false
}

// Process analyzes one utterance: OBGYN context, general plus specialty
// candidate generation, boosted confidence scoring, and safety assessment.
// Risky medications are surfaced with flags, never suppressed.
func (s *Specialty) Process(ctx context.Context, text, sessionID string, profile specialty.Profile) (specialty.Assessment, error) {
	lower := strings.ToLower(text)
	octx := AnalyzeContext(text, profile)

	candidates := dedupe(append(
		enhance(extraction.Candidates(text), octx),
		obgynCandidates(lower, octx)...,
	))
	wordCount := len(strings.Fields(text))

	assessment := specialty.Assessment{
		Specialty: Name,
		Flags:     octx.Flags,
		Context: map[string]any{
			"pregnancy_stage":       string(octx.Stage),
			"identified_conditions": octx.Conditions,
			"menstrual_cycle_info":  octx.Cycle,
		},
		ReviewNeeded: octx.ReviewNeeded,
	}
	flaggedTerms := make(map[string]bool)
	for _, f := range octx.Flags {
		if f.Term != "" {
			flaggedTerms[f.Term] = true
		}
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return specialty.Assessment{}, fmt.Errorf("obgyn: %w", err)
		}

		rec, _ := s.resolve(ctx, cand.Term)
		score := extraction.Score(extraction.Signals{
			Term:          cand.Term,
			Strategy:      cand.Strategy,
			Context:       cand.Context,
			Position:      cand.Position,
			WordCount:     wordCount,
			PatternWeight: cand.PatternWeight,
			Record:        rec,
		})
		score = clamp01(score + cand.Boost)
		if score <= s.threshold {
			continue
		}

		assessment.Medications = append(assessment.Medications, specialty.MedicationAssessment{
			Medication: extraction.Medication{
				Term:       cand.Term,
				Confidence: score,
				Strategy:   cand.Strategy,
				Context:    cand.Context,
				Position:   cand.Position,
				Record:     rec,
			},
			Category:    cand.Category,
			Safety:      s.safetyInfo(cand.Term, rec, octx.Stage),
			RiskFlagged: cand.RiskFlagged,
		})

		// Category D and X medications during pregnancy raise their own
		// flag unless the text-level scan already flagged the term.
		category := strings.ToUpper(rec.PregnancyCategory)
		if octx.Stage.Active() && (category == "D" || category == "X") && !flaggedTerms[cand.Term] {
			flaggedTerms[cand.Term] = true
			assessment.Flags = append(assessment.Flags, specialty.SafetyFlag{
				Type:     "medication_pregnancy_risk",
				Term:     cand.Term,
				Severity: specialty.SeverityUrgent,
				Message: fmt.Sprintf(
					"%s is pregnancy category %s and should be avoided during pregnancy / %s debe evitarse durante el embarazo",
					cand.Term, category, cand.Term),
			})
		}
	}

	sort.SliceStable(assessment.Medications, func(i, j int) bool {
		return assessment.Medications[i].Position < assessment.Medications[j].Position
	})
	assessment.Suggestions = buildSuggestions(octx)
	assessment.ReviewNeeded = assessment.ReviewNeeded || len(assessment.UrgentFlags()) > 0

	s.log.Debug("obgyn assessment complete",
		"session_id", sessionID,
		"stage", octx.Stage,
		"candidates", len(candidates),
		"medications", len(assessment.Medications),
		"flags", len(assessment.Flags),
	)

	if s.recorder != nil {
		id, err := s.recorder.RecordAttempt(ctx, sessionID, learningResult(text, candidates, assessment, s.threshold, wordCount))
		if err != nil {
			s.log.Warn("failed to record obgyn extraction attempt", "session_id", sessionID, "error", err)
		} else {
			assessment.ExtractionID = id
		}
	}
	return assessment, nil
}

// MedicationSafety summarises one medication's safety for the patient's
// pregnancy stage, derived from the profile.
func (s *Specialty) MedicationSafety(ctx context.Context, medication string, profile specialty.Profile) (specialty.SafetyInfo, error) {
	if err := ctx.Err(); err != nil {
		return specialty.SafetyInfo{}, fmt.Errorf("obgyn: %w", err)
	}
	stage := detectStage("", profile)
	rec, _ := s.resolve(ctx, medication)
	return s.safetyInfo(medication, rec, stage), nil
}

// Suggestions proposes follow-up questions from the utterance alone.
func (s *Specialty) Suggestions(text string) []string {
	return buildSuggestions(AnalyzeContext(text, specialty.Profile{}))
}

// resolve looks a term up in the local OBGYN database first, then the
// general catalog. The second return reports a local hit.
func (s *Specialty) resolve(ctx context.Context, term string) (catalog.Record, bool) {
	if local, ok := lookupLocal(term); ok {
		return local.Record(term), true
	}
	return s.catalog.Lookup(ctx, term, Name), false
}

// categoryAssessment maps an FDA pregnancy category letter onto the safety
// vocabulary used across the specialty.
func categoryAssessment(category string) (safety, recommendation, risk string) {
	switch category {
	case "A":
		return "safe", "safe_to_use", "minimal"
	case "B":
		return "probably_safe", "generally_safe", "low"
	case "C":
		return "use_with_caution", "risk_benefit_analysis", "moderate"
	case "D":
		return "risky", "avoid_unless_essential", "high"
	case "X":
		return "contraindicated", "do_not_use", "very_high"
	default:
		return "unknown", "consult_physician", "unknown"
	}
}

func (s *Specialty) safetyInfo(term string, rec catalog.Record, stage Stage) specialty.SafetyInfo {
	category := strings.ToUpper(rec.PregnancyCategory)
	if category == "UNKNOWN" {
		category = ""
	}

	safety, recommendation, risk := categoryAssessment(category)
	info := specialty.SafetyInfo{
		Medication:        term,
		PregnancyCategory: category,
		Safety:            safety,
		Recommendation:    recommendation,
		RiskLevel:         risk,
	}
	if bf, ok := rec.SpecialtySpecific["breastfeeding_safety"].(string); ok {
		info.BreastfeedingSafety = bf
	}
	if edu, ok := rec.SpecialtySpecific["patient_education"].([]string); ok {
		info.Counseling = append(info.Counseling, edu...)
	}

	switch {
	case stage == StagePreconception:
		info.Counseling = append(info.Counseling, "Consider medication safety before conception")
		if category == "D" || category == "X" {
			info.Counseling = append(info.Counseling, "Discuss alternative medications with your doctor")
		}

	case stage.Trimester() || stage == StageUnknown:
		info.Counseling = append(info.Counseling, "Always inform healthcare providers about your pregnancy")
		switch category {
		case "A":
			info.Counseling = append(info.Counseling, "This medication is considered safe during pregnancy")
		case "C":
			info.Warnings = append(info.Warnings, "Risk-benefit analysis required")
			info.ConsultPhysician = true
		case "D", "X":
			info.Counseling = append(info.Counseling, "This medication should be avoided during pregnancy")
			info.Warnings = append(info.Warnings, "Not recommended during pregnancy")
			info.ConsultPhysician = true
		case "":
			info.Warnings = append(info.Warnings, "Pregnancy safety not established")
			info.ConsultPhysician = true
		}

	case stage == StagePostpartum:
		if info.BreastfeedingSafety == "safe" {
			info.Counseling = append(info.Counseling, "Safe to use while breastfeeding")
		} else {
			info.Counseling = append(info.Counseling, "Discuss breastfeeding safety with your healthcare provider")
			if info.BreastfeedingSafety == "" || info.BreastfeedingSafety == "unknown" {
				info.Warnings = append(info.Warnings, "Breastfeeding safety not established")
				info.ConsultPhysician = true
			}
		}
	}
	return info
}

// buildSuggestions assembles follow-up questions for the detected context,
// capped at five.
func buildSuggestions(octx Context) []string {
	var out []string
	if octx.Stage != StageNotPregnant {
		out = append(out,
			"Are you taking prenatal vitamins?",
			"When is your next prenatal appointment?",
			"Are you experiencing any concerning symptoms?",
		)
	}
	if octx.HasCondition(ConditionPCOS) {
		out = append(out, "How are you managing your PCOS symptoms?")
	}
	if octx.HasCondition(ConditionContraception) {
		out = append(out,
			"Are you satisfied with your current birth control method?",
			"Are you experiencing any side effects?",
		)
	}
	if octx.Cycle.Regularity == "irregular" {
		out = append(out, "How long have your cycles been irregular?")
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// learningResult flattens an assessment into the general extraction result
// shape for the learning store.
func learningResult(text string, candidates []boostedCandidate, a specialty.Assessment, threshold float64, wordCount int) extraction.Result {
	res := extraction.Result{
		Text: text,
		Metadata: extraction.Metadata{
			TotalCandidates:       len(candidates),
			SuccessfulExtractions: len(a.Medications),
			Specialty:             Name,
			Threshold:             threshold,
			WordCount:             wordCount,
		},
	}
	seen := make(map[extraction.Strategy]bool, 4)
	for _, c := range candidates {
		res.Candidates = append(res.Candidates, c.Candidate)
		if !seen[c.Strategy] {
			seen[c.Strategy] = true
			res.Metadata.StrategiesUsed = append(res.Metadata.StrategiesUsed, c.Strategy)
		}
	}
	for _, m := range a.Medications {
		res.Medications = append(res.Medications, m.Medication)
	}
	return res
}

func clamp01(x float64) float64 {
	return min(max(x, 0), 1)
}
