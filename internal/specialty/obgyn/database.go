package obgyn

import (
	"strings"

	"github.com/surajgopal85/talktor/internal/catalog"
)

// localRecord is an OBGYN medication with specialty guidance the general
// catalog does not carry. Consulted before the catalog.
type localRecord struct {
	Name                string
	Category            string
	PregnancyCategory   string // FDA letter
	BreastfeedingSafety string
	CommonUses          []string
	Dosing              map[string]string
	PatientEducation    []string
	Contraindications   []string
	SideEffects         []string
	Interactions        []string
}

// StageDosing returns the dosing guidance for a pregnancy stage, falling
// back through the record's descriptive keys.
func (r localRecord) StageDosing(stage Stage) string {
	switch {
	case stage == StagePreconception:
		if d, ok := r.Dosing["preconception"]; ok {
			return d
		}
	case stage.Trimester() || stage == StageUnknown:
		if d, ok := r.Dosing["pregnancy"]; ok {
			return d
		}
	case stage == StagePostpartum:
		if d, ok := r.Dosing["lactation"]; ok {
			return d
		}
	}
	return ""
}

// Record converts the local record into a catalog record for the given
// term, with OBGYN guidance carried in the specialty fields.
func (r localRecord) Record(term string) catalog.Record {
	extra := map[string]any{
		"category":             r.Category,
		"breastfeeding_safety": r.BreastfeedingSafety,
	}
	if len(r.Dosing) > 0 {
		extra["dosing"] = r.Dosing
	}
	if len(r.PatientEducation) > 0 {
		extra["patient_education"] = r.PatientEducation
	}
	if len(r.SideEffects) > 0 {
		extra["side_effects"] = r.SideEffects
	}
	if len(r.Interactions) > 0 {
		extra["interactions"] = r.Interactions
	}
	return catalog.Record{
		DrugName:          term,
		CanonicalName:     r.Name,
		DrugClass:         []string{r.Category},
		Indications:       r.CommonUses,
		Contraindications: r.Contraindications,
		PregnancyCategory: r.PregnancyCategory,
		SpecialtySpecific: extra,
		Source:            "obgyn",
	}
}

// localMedications is the built-in OBGYN medication database, keyed by the
// normalized name.
var localMedications = map[string]localRecord{
	"folic_acid": {
		Name:                "folic acid",
		Category:            "prenatal_supplement",
		PregnancyCategory:   "A",
		BreastfeedingSafety: "safe",
		CommonUses:          []string{"neural tube defect prevention", "anemia prevention"},
		Dosing: map[string]string{
			"preconception": "400-800 mcg daily",
			"pregnancy":     "400-800 mcg daily",
			"lactation":     "500 mcg daily",
		},
		PatientEducation: []string{
			"Start before conception if possible",
			"Take with or without food",
			"Continue throughout pregnancy",
		},
		Contraindications: []string{"vitamin B12 deficiency (mask symptoms)"},
		Interactions:      []string{"phenytoin", "methotrexate"},
	},
	"prenatal_vitamins": {
		Name:                "prenatal vitamins",
		Category:            "prenatal_supplement",
		PregnancyCategory:   "A",
		BreastfeedingSafety: "safe",
		CommonUses:          []string{"pregnancy nutrition support", "prevent birth defects"},
		Dosing: map[string]string{
			"preconception": "one tablet daily",
			"pregnancy":     "one tablet daily",
			"lactation":     "one tablet daily",
		},
		PatientEducation: []string{
			"Take with food to reduce nausea",
			"Iron may cause constipation - increase fiber",
			"Don't take with coffee or tea (reduces iron absorption)",
		},
		Contraindications: []string{"iron overload disorders"},
		SideEffects:       []string{"nausea", "constipation", "dark stools"},
	},
	"birth_control": {
		Name:                "birth control",
		Category:            "contraception",
		PregnancyCategory:   "X",
		BreastfeedingSafety: "varies_by_type",
		CommonUses:          []string{"pregnancy prevention", "menstrual regulation", "acne treatment"},
		PatientEducation: []string{
			"Take at the same time every day",
			"Use backup method if pill is missed",
		},
		Contraindications: []string{"active pregnancy", "uncontrolled hypertension", "migraine with aura"},
		SideEffects:       []string{"breakthrough bleeding", "breast tenderness", "mood changes"},
	},
	"metformin": {
		Name:                "metformin",
		Category:            "diabetes_pcos",
		PregnancyCategory:   "B",
		BreastfeedingSafety: "safe",
		CommonUses:          []string{"PCOS management", "gestational diabetes", "insulin resistance"},
		Dosing: map[string]string{
			"pcos":                 "500mg twice daily, titrate to 1000mg twice daily",
			"gestational_diabetes": "500mg twice daily, adjust as needed",
		},
		PatientEducation: []string{
			"Take with meals to reduce GI upset",
			"May improve ovulation in PCOS",
			"Monitor blood sugar if diabetic",
		},
		Contraindications: []string{"kidney disease", "severe heart failure"},
		SideEffects:       []string{"diarrhea", "nausea", "metallic taste"},
	},
	"epidural": {
		Name:                "epidural",
		Category:            "labor_analgesia",
		PregnancyCategory:   "B",
		BreastfeedingSafety: "safe",
		CommonUses:          []string{"labor pain management"},
		PatientEducation: []string{
			"May slow labor progression initially",
			"You can still feel pressure during pushing",
			"Rare risk of spinal headache",
		},
		Contraindications: []string{"bleeding disorders", "infection at injection site"},
		SideEffects:       []string{"temporary leg weakness", "blood pressure changes"},
	},
	"amoxicillin": {
		Name:                "amoxicillin",
		Category:            "antibiotic",
		PregnancyCategory:   "B",
		BreastfeedingSafety: "safe",
		CommonUses:          []string{"UTI treatment", "bacterial infections"},
		Dosing: map[string]string{
			"uti":     "500mg three times daily for 7 days",
			"general": "250-500mg three times daily",
		},
		PatientEducation: []string{
			"Complete full course even if feeling better",
			"Take with food if stomach upset",
			"May reduce birth control effectiveness",
		},
		Contraindications: []string{"penicillin allergy"},
		SideEffects:       []string{"diarrhea", "yeast infections", "rash"},
	},
	"clomid": {
		Name:                "clomid",
		Category:            "fertility",
		PregnancyCategory:   "X",
		BreastfeedingSafety: "unknown",
		CommonUses:          []string{"ovulation induction", "fertility treatment"},
		Dosing: map[string]string{
			"fertility": "50mg daily for 5 days, cycle days 3-7",
		},
		PatientEducation: []string{
			"Stop if pregnancy occurs",
			"Monitor ovulation with tracking",
			"May increase chance of multiple births",
		},
		Contraindications: []string{"pregnancy", "liver disease", "abnormal bleeding"},
		SideEffects:       []string{"hot flashes", "mood swings", "visual disturbances"},
	},
}

// lookupLocal resolves a term against the built-in OBGYN database.
func lookupLocal(term string) (localRecord, bool) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(term)), " ", "_")
	rec, ok := localMedications[key]
	return rec, ok
}
