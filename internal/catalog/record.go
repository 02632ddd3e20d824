package catalog

// Record is the resolved description of one medication term.
//
// A Record is never nil and never partially absent: fields the resolution
// sources could not fill stay at their zero values, and a term no source
// recognises is returned as an explicit unknown record (Unknown true,
// PregnancyCategory "unknown") rather than an error.
type Record struct {
	// DrugName is the term the lookup was performed with.
	DrugName string `json:"drug_name" yaml:"drug_name"`

	// CanonicalName is the standardised name, empty when unresolved.
	CanonicalName string `json:"canonical_name" yaml:"canonical_name"`

	// RxCUI is the RxNorm concept identifier, empty when unresolved.
	RxCUI string `json:"rxcui,omitempty" yaml:"rxcui,omitempty"`

	// BrandNames lists known brand names.
	BrandNames []string `json:"brand_names,omitempty" yaml:"brand_names,omitempty"`

	// GenericNames lists known generic ingredient names.
	GenericNames []string `json:"generic_names,omitempty" yaml:"generic_names,omitempty"`

	// DrugClass lists pharmacologic classes.
	DrugClass []string `json:"drug_class,omitempty" yaml:"drug_class,omitempty"`

	// Indications lists label indications and usage text.
	Indications []string `json:"indications,omitempty" yaml:"indications,omitempty"`

	// Contraindications lists label contraindications text.
	Contraindications []string `json:"contraindications,omitempty" yaml:"contraindications,omitempty"`

	// PregnancyCategory is the FDA letter category (A, B, C, D, X) or
	// "unknown".
	PregnancyCategory string `json:"pregnancy_category" yaml:"pregnancy_category"`

	// Translations maps BCP-47 language codes to the medication name in that
	// language, when known.
	Translations map[string]string `json:"translations,omitempty" yaml:"translations,omitempty"`

	// SpecialtySpecific carries per-specialty annotations (dosing notes,
	// stage safety). Populated by specialty engines, not by the base lookup.
	SpecialtySpecific map[string]any `json:"specialty_specific,omitempty" yaml:"specialty_specific,omitempty"`

	// Source names the resolution source: "seed", "rxnorm", "openfda",
	// "rxnorm+openfda" or "none".
	Source string `json:"source" yaml:"source,omitempty"`

	// Unknown is true when no source recognised the term.
	Unknown bool `json:"unknown,omitempty" yaml:"-"`
}

// Unknown builds the explicit miss record for term. Callers receive this
// instead of a nil record or an error when the term cannot be resolved.
func UnknownRecord(term string) Record {
	return Record{
		DrugName:          term,
		PregnancyCategory: "unknown",
		Source:            "none",
		Unknown:           true,
	}
}

// NameIn returns the medication name in the given language, falling back to
// the canonical name and finally the original term.
func (r Record) NameIn(lang string) string {
	if t, ok := r.Translations[lang]; ok && t != "" {
		return t
	}
	if r.CanonicalName != "" {
		return r.CanonicalName
	}
	return r.DrugName
}

// DisplayName returns the canonical name when resolved, otherwise the term.
func (r Record) DisplayName() string {
	if r.CanonicalName != "" {
		return r.CanonicalName
	}
	return r.DrugName
}
