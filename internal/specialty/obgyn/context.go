package obgyn

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/surajgopal85/talktor/internal/specialty"
)

// Stage is a pregnancy stage inferred from conversation or profile.
type Stage string

const (
	StagePreconception   Stage = "preconception"
	StageFirstTrimester  Stage = "first_trimester"  // weeks 0-13
	StageSecondTrimester Stage = "second_trimester" // weeks 14-27
	StageThirdTrimester  Stage = "third_trimester"  // weeks 28+
	StagePostpartum      Stage = "postpartum"
	StageNotPregnant     Stage = "not_pregnant"
	StageUnknown         Stage = "unknown" // pregnant, stage unclear
)

// Active reports whether the patient is currently, or possibly, pregnant.
func (s Stage) Active() bool {
	switch s {
	case StageFirstTrimester, StageSecondTrimester, StageThirdTrimester, StageUnknown:
		return true
	}
	return false
}

// Trimester reports whether the stage is a known trimester.
func (s Stage) Trimester() bool {
	switch s {
	case StageFirstTrimester, StageSecondTrimester, StageThirdTrimester:
		return true
	}
	return false
}

// Condition is an OBGYN condition detected in conversation.
type Condition string

const (
	ConditionPregnancy         Condition = "pregnancy"
	ConditionPCOS              Condition = "pcos"
	ConditionEndometriosis     Condition = "endometriosis"
	ConditionMenstrualDisorder Condition = "menstrual_disorders"
	ConditionContraception     Condition = "contraception"
	ConditionFertility         Condition = "fertility"
	ConditionMenopause         Condition = "menopause"
	ConditionSTI               Condition = "sti_std"
	ConditionGynecologicCancer Condition = "gynecologic_cancer"
	ConditionGeneralGynecology Condition = "general_gynecology"
)

// CycleInfo is menstrual cycle information pulled from an utterance.
type CycleInfo struct {
	LastPeriod  string   `json:"last_menstrual_period,omitempty"`
	CycleLength int      `json:"cycle_length,omitempty"`
	Regularity  string   `json:"regularity,omitempty"`
	Symptoms    []string `json:"symptoms,omitempty"`
}

// Context is the OBGYN view of one utterance.
type Context struct {
	Stage        Stage                  `json:"pregnancy_stage"`
	Conditions   []Condition            `json:"identified_conditions"`
	Cycle        CycleInfo              `json:"menstrual_cycle_info"`
	Flags        []specialty.SafetyFlag `json:"safety_flags,omitempty"`
	ReviewNeeded bool                   `json:"requires_specialist_review"`
}

// HasCondition reports whether the context identified the condition.
func (c Context) HasCondition(cond Condition) bool {
	for _, have := range c.Conditions {
		if have == cond {
			return true
		}
	}
	return false
}

// stagePhrases are checked in order; the first stage with a phrase hit
// wins. Phrases are bilingual: patients describe pregnancies in English
// and Spanish.
var stagePhrases = []struct {
	stage   Stage
	phrases []string
}{
	{StagePreconception, []string{
		"trying to conceive", "planning pregnancy", "want to get pregnant",
		"before conception", "preconception",
		"tratando de concebir", "planificando embarazo", "quiero quedar embarazada",
		"antes de la concepción", "preconcepción",
	}},
	{StageFirstTrimester, []string{
		"first trimester", "6 weeks pregnant", "8 weeks pregnant",
		"10 weeks pregnant", "12 weeks pregnant", "morning sickness",
		"primer trimestre", "6 semanas embarazada", "8 semanas embarazada",
		"10 semanas embarazada", "12 semanas embarazada", "náuseas matutinas",
	}},
	{StageSecondTrimester, []string{
		"second trimester", "16 weeks pregnant", "20 weeks pregnant",
		"24 weeks pregnant", "anatomy scan",
		"segundo trimestre", "16 semanas embarazada", "20 semanas embarazada",
		"24 semanas embarazada", "ultrasonido anatómico",
	}},
	{StageThirdTrimester, []string{
		"third trimester", "32 weeks pregnant", "36 weeks pregnant",
		"full term", "due date", "labor",
		"tercer trimestre", "32 semanas embarazada", "36 semanas embarazada",
		"a término", "fecha de parto", "trabajo de parto",
	}},
	{StagePostpartum, []string{
		"postpartum", "after delivery", "breastfeeding", "nursing",
		"gave birth", "delivered",
		"posparto", "después del parto", "amamantando", "lactancia",
		"dio a luz", "tuvo el bebé",
	}},
}

// pregnancyTerms indicate a pregnancy without pinning the stage.
var pregnancyTerms = []string{
	"pregnant", "pregnancy", "expecting", "prenatal",
	"embarazada", "embarazo", "esperando bebé",
}

// conditionPhrases are checked in order; every condition with a phrase hit
// is reported.
var conditionPhrases = []struct {
	condition Condition
	phrases   []string
}{
	{ConditionPCOS, []string{
		"pcos", "polycystic ovary", "irregular periods", "hirsutism",
		"ovarios poliquísticos", "períodos irregulares", "reglas irregulares",
	}},
	{ConditionPregnancy, []string{
		"pregnant", "pregnancy", "prenatal", "expecting",
		"embarazada", "embarazo", "esperando bebé",
	}},
	{ConditionContraception, []string{
		"birth control", "contraception", "prevent pregnancy",
		"anticonceptivos", "control natal", "prevenir embarazo", "píldora",
	}},
	{ConditionMenstrualDisorder, []string{
		"irregular periods", "heavy bleeding", "amenorrhea",
		"períodos irregulares", "reglas irregulares", "sangrado abundante", "amenorrea",
	}},
	{ConditionFertility, []string{
		"fertility", "trying to conceive", "ovulation", "infertility",
		"fertilidad", "tratando de concebir", "ovulación", "infertilidad",
	}},
	{ConditionMenopause, []string{
		"menopause", "hot flashes", "perimenopause",
		"menopausia", "sofocos",
	}},
	{ConditionEndometriosis, []string{
		"endometriosis", "endometriosis pélvica",
	}},
}

// riskyTerms flag medications that may be unsafe during pregnancy.
var riskyTerms = []string{
	"ibuprofen", "aspirin", "accutane", "warfarin", "ace inhibitor",
	"ibuprofeno", "aspirina", "warfarina",
}

// substanceTerms flag alcohol and tobacco use during pregnancy.
var substanceTerms = []string{
	"alcohol", "drinking", "smoking", "bebiendo", "fumando", "cigarrillos",
}

var (
	lmpPatterns = []*regexp.Regexp{
		regexp.MustCompile(`last period was (\d+) days? ago`),
		regexp.MustCompile(`lmp was (\w+) (\d+)`),
		regexp.MustCompile(`period started (\d+) days? ago`),
	}
	cyclePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(\d+) day cycle`),
		regexp.MustCompile(`cycles? (?:are|is) (\d+) days?`),
	}
)

// AnalyzeContext derives the OBGYN context for one utterance. The patient
// profile fills in the pregnancy stage when the text itself is silent.
func AnalyzeContext(text string, profile specialty.Profile) Context {
	lower := strings.ToLower(text)
	stage := detectStage(lower, profile)
	flags := assessFlags(lower, stage)
	return Context{
		Stage:        stage,
		Conditions:   identifyConditions(lower),
		Cycle:        extractCycleInfo(lower),
		Flags:        flags,
		ReviewNeeded: len(flags) > 0 || stage != StageNotPregnant,
	}
}

func detectStage(lower string, profile specialty.Profile) Stage {
	for _, sp := range stagePhrases {
		for _, phrase := range sp.phrases {
			if strings.Contains(lower, phrase) {
				return sp.stage
			}
		}
	}
	for _, term := range pregnancyTerms {
		if strings.Contains(lower, term) {
			return StageUnknown
		}
	}
	if profile.Pregnant {
		switch weeks := profile.GestationalWeeks; {
		case weeks <= 13:
			return StageFirstTrimester
		case weeks <= 27:
			return StageSecondTrimester
		default:
			return StageThirdTrimester
		}
	}
	return StageNotPregnant
}

func identifyConditions(lower string) []Condition {
	var out []Condition
	for _, cp := range conditionPhrases {
		for _, phrase := range cp.phrases {
			if strings.Contains(lower, phrase) {
				out = append(out, cp.condition)
				break
			}
		}
	}
	if len(out) == 0 {
		return []Condition{ConditionGeneralGynecology}
	}
	return out
}

func extractCycleInfo(lower string) CycleInfo {
	var info CycleInfo
	for _, re := range lmpPatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			info.LastPeriod = strings.Join(m[1:], " ")
			break
		}
	}
	for _, re := range cyclePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				info.CycleLength = n
			}
			break
		}
	}

	// "irregular" contains "regular", so check it first.
	if containsAny(lower, "irregular", "unpredictable") {
		info.Regularity = "irregular"
	} else if containsAny(lower, "regular", "consistent") {
		info.Regularity = "regular"
	}

	symptomPhrases := []struct {
		symptom string
		phrases []string
	}{
		{"cramping", []string{"cramps", "cramping", "painful"}},
		{"heavy_bleeding", []string{"heavy", "flooding", "clots"}},
		{"light_bleeding", []string{"light", "spotting"}},
		{"pms", []string{"pms", "mood swings", "bloating"}},
	}
	for _, sp := range symptomPhrases {
		if containsAny(lower, sp.phrases...) {
			info.Symptoms = append(info.Symptoms, sp.symptom)
		}
	}
	return info
}

// assessFlags raises text-level safety flags when a pregnancy is in play.
func assessFlags(lower string, stage Stage) []specialty.SafetyFlag {
	if !stage.Active() {
		return nil
	}

	var flags []specialty.SafetyFlag
	for _, term := range riskyTerms {
		if strings.Contains(lower, term) {
			flags = append(flags, specialty.SafetyFlag{
				Type:     "medication_pregnancy_risk",
				Term:     term,
				Severity: specialty.SeverityUrgent,
				Message:  term + " may not be safe during pregnancy / " + term + " puede no ser seguro durante el embarazo",
			})
		}
	}
	if containsAny(lower, substanceTerms...) {
		flags = append(flags, specialty.SafetyFlag{
			Type:     "substance_use_pregnancy",
			Severity: specialty.SeverityHigh,
			Message:  "Alcohol and smoking should be avoided during pregnancy / Alcohol y fumar deben evitarse durante el embarazo",
		})
	}
	return flags
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
