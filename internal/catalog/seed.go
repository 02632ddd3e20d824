package catalog

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"
)

const (
	// fuzzyMinLen is the minimum term length eligible for fuzzy seed
	// matching. Shorter terms produce too many spurious distance-2 hits.
	fuzzyMinLen = 5

	// fuzzyMaxDistance is the maximum Levenshtein distance accepted between
	// a term and a seed name.
	fuzzyMaxDistance = 2
)

// SeedFile is the top-level structure of a catalog seed YAML file.
//
// Example:
//
//	medications:
//	  - drug_name: dipirona
//	    canonical_name: metamizole
//	    translations:
//	      en: metamizole
//	      es: dipirona
type SeedFile struct {
	Medications []Record `yaml:"medications"`
}

// LoadSeedFile reads and parses a seed YAML file from disk.
func LoadSeedFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open seed file %q: %w", path, err)
	}
	defer f.Close()

	recs, err := LoadSeedsFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse seed file %q: %w", path, err)
	}
	return recs, nil
}

// LoadSeedsFromReader parses seed YAML from an [io.Reader]. The reader is
// consumed entirely; the caller is responsible for closing it.
func LoadSeedsFromReader(r io.Reader) ([]Record, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("catalog: decode seed yaml: %w", err)
	}
	for i := range sf.Medications {
		rec := &sf.Medications[i]
		if rec.DrugName == "" {
			return nil, fmt.Errorf("catalog: seed record %d: drug_name must not be empty", i)
		}
		if rec.CanonicalName == "" {
			rec.CanonicalName = rec.DrugName
		}
		if rec.PregnancyCategory == "" {
			rec.PregnancyCategory = "unknown"
		}
		rec.Source = "seed"
	}
	return sf.Medications, nil
}

// buildSeedIndex maps every lowercased name and alias of each seed record to
// its index. Later records win collisions so file-loaded seeds override
// built-ins.
func buildSeedIndex(seeds []Record) map[string]int {
	idx := make(map[string]int, len(seeds)*3)
	for i, rec := range seeds {
		for _, name := range seedAliases(rec) {
			idx[name] = i
		}
	}
	return idx
}

// seedAliases lists every matchable name for a record, normalized.
func seedAliases(rec Record) []string {
	names := make([]string, 0, 2+len(rec.BrandNames)+len(rec.GenericNames)+len(rec.Translations))
	add := func(s string) {
		if n := Normalize(s); n != "" {
			names = append(names, n)
		}
	}
	add(rec.DrugName)
	add(rec.CanonicalName)
	for _, b := range rec.BrandNames {
		add(b)
	}
	for _, g := range rec.GenericNames {
		add(g)
	}
	for _, t := range rec.Translations {
		add(t)
	}
	return names
}

// fromSeeds resolves a normalized term against the seed records: exact
// name/alias match first, then fuzzy matching for transcription mishears.
func (c *Catalog) fromSeeds(norm string) (Record, bool) {
	if i, ok := c.seedIndex[norm]; ok {
		return c.seeds[i], true
	}
	return c.fuzzySeed(norm)
}

// fuzzySeed finds the seed whose name is closest to norm by Levenshtein
// distance. Distance-2 matches additionally require a shared Double Metaphone
// code so "lisinopril"/"listen april" style collisions do not slip through.
// Iteration over sorted alias names keeps tie-breaking deterministic.
func (c *Catalog) fuzzySeed(norm string) (Record, bool) {
	if len([]rune(norm)) < fuzzyMinLen {
		return Record{}, false
	}

	names := make([]string, 0, len(c.seedIndex))
	for name := range c.seedIndex {
		names = append(names, name)
	}
	sort.Strings(names)

	bestDist := fuzzyMaxDistance + 1
	bestIdx := -1
	for _, name := range names {
		if lengthGap(norm, name) > fuzzyMaxDistance {
			continue
		}
		d := matchr.Levenshtein(norm, name)
		if d > fuzzyMaxDistance || d >= bestDist {
			continue
		}
		if d == fuzzyMaxDistance && !metaphoneOverlap(norm, name) {
			continue
		}
		bestDist = d
		bestIdx = c.seedIndex[name]
	}

	if bestIdx < 0 {
		return Record{}, false
	}
	return c.seeds[bestIdx], true
}

// lengthGap returns the absolute rune-length difference, a cheap lower bound
// on Levenshtein distance.
func lengthGap(a, b string) int {
	d := len([]rune(a)) - len([]rune(b))
	if d < 0 {
		return -d
	}
	return d
}

// metaphoneOverlap reports whether the two strings share a Double Metaphone
// code.
func metaphoneOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || (bs != "" && x == bs) {
			return true
		}
	}
	return false
}

// builtinSeeds returns the compiled-in medication records: common enough to
// resolve offline, and together covering every pharmaceutical suffix family
// the extraction patterns recognise.
func builtinSeeds() []Record {
	return []Record{
		{
			DrugName:          "acetaminophen",
			CanonicalName:     "acetaminophen",
			RxCUI:             "161",
			BrandNames:        []string{"Tylenol"},
			GenericNames:      []string{"acetaminophen"},
			DrugClass:         []string{"analgesic", "antipyretic"},
			Indications:       []string{"pain relief", "fever reduction"},
			PregnancyCategory: "B",
			Translations:      map[string]string{"es": "paracetamol"},
			Source:            "seed",
		},
		{
			DrugName:          "ibuprofen",
			CanonicalName:     "ibuprofen",
			RxCUI:             "5640",
			BrandNames:        []string{"Advil", "Motrin"},
			GenericNames:      []string{"ibuprofen"},
			DrugClass:         []string{"nonsteroidal anti-inflammatory drug"},
			Indications:       []string{"pain relief", "inflammation", "fever reduction"},
			Contraindications: []string{"third trimester of pregnancy", "active gastrointestinal bleeding"},
			PregnancyCategory: "D",
			Translations:      map[string]string{"es": "ibuprofeno"},
			Source:            "seed",
		},
		{
			DrugName:          "aspirin",
			CanonicalName:     "aspirin",
			RxCUI:             "1191",
			BrandNames:        []string{"Bayer"},
			GenericNames:      []string{"acetylsalicylic acid"},
			DrugClass:         []string{"nonsteroidal anti-inflammatory drug", "antiplatelet"},
			Indications:       []string{"pain relief", "cardiovascular protection"},
			Contraindications: []string{"bleeding disorders", "third trimester of pregnancy"},
			PregnancyCategory: "D",
			Translations:      map[string]string{"es": "aspirina"},
			Source:            "seed",
		},
		{
			DrugName:          "amoxicillin",
			CanonicalName:     "amoxicillin",
			RxCUI:             "723",
			BrandNames:        []string{"Amoxil"},
			GenericNames:      []string{"amoxicillin"},
			DrugClass:         []string{"penicillin antibiotic"},
			Indications:       []string{"bacterial infections", "urinary tract infection"},
			Contraindications: []string{"penicillin allergy"},
			PregnancyCategory: "B",
			Translations:      map[string]string{"es": "amoxicilina"},
			Source:            "seed",
		},
		{
			DrugName:          "azithromycin",
			CanonicalName:     "azithromycin",
			RxCUI:             "18631",
			BrandNames:        []string{"Zithromax", "Z-Pak"},
			GenericNames:      []string{"azithromycin"},
			DrugClass:         []string{"macrolide antibiotic"},
			Indications:       []string{"bacterial infections", "respiratory infections"},
			Contraindications: []string{"macrolide hypersensitivity"},
			PregnancyCategory: "B",
			Translations:      map[string]string{"es": "azitromicina"},
			Source:            "seed",
		},
		{
			DrugName:          "metformin",
			CanonicalName:     "metformin",
			RxCUI:             "6809",
			BrandNames:        []string{"Glucophage"},
			GenericNames:      []string{"metformin"},
			DrugClass:         []string{"biguanide antidiabetic"},
			Indications:       []string{"type 2 diabetes", "polycystic ovary syndrome"},
			Contraindications: []string{"severe kidney disease"},
			PregnancyCategory: "B",
			Translations:      map[string]string{"es": "metformina"},
			Source:            "seed",
		},
		{
			DrugName:          "lisinopril",
			CanonicalName:     "lisinopril",
			RxCUI:             "29046",
			BrandNames:        []string{"Prinivil", "Zestril"},
			GenericNames:      []string{"lisinopril"},
			DrugClass:         []string{"ACE inhibitor"},
			Indications:       []string{"hypertension", "heart failure"},
			Contraindications: []string{"pregnancy", "history of angioedema"},
			PregnancyCategory: "D",
			Translations:      map[string]string{"es": "lisinopril"},
			Source:            "seed",
		},
		{
			DrugName:          "atorvastatin",
			CanonicalName:     "atorvastatin",
			RxCUI:             "83367",
			BrandNames:        []string{"Lipitor"},
			GenericNames:      []string{"atorvastatin"},
			DrugClass:         []string{"HMG-CoA reductase inhibitor"},
			Indications:       []string{"high cholesterol", "cardiovascular risk reduction"},
			Contraindications: []string{"pregnancy", "active liver disease"},
			PregnancyCategory: "X",
			Translations:      map[string]string{"es": "atorvastatina"},
			Source:            "seed",
		},
		{
			DrugName:          "omeprazole",
			CanonicalName:     "omeprazole",
			RxCUI:             "7646",
			BrandNames:        []string{"Prilosec"},
			GenericNames:      []string{"omeprazole"},
			DrugClass:         []string{"proton pump inhibitor"},
			Indications:       []string{"gastroesophageal reflux disease", "peptic ulcer"},
			PregnancyCategory: "C",
			Translations:      map[string]string{"es": "omeprazol"},
			Source:            "seed",
		},
		{
			DrugName:          "metoprolol",
			CanonicalName:     "metoprolol",
			RxCUI:             "6918",
			BrandNames:        []string{"Lopressor", "Toprol-XL"},
			GenericNames:      []string{"metoprolol"},
			DrugClass:         []string{"beta blocker"},
			Indications:       []string{"hypertension", "angina"},
			Contraindications: []string{"severe bradycardia"},
			PregnancyCategory: "C",
			Translations:      map[string]string{"es": "metoprolol"},
			Source:            "seed",
		},
		{
			DrugName:          "furosemide",
			CanonicalName:     "furosemide",
			RxCUI:             "4603",
			BrandNames:        []string{"Lasix"},
			GenericNames:      []string{"furosemide"},
			DrugClass:         []string{"loop diuretic"},
			Indications:       []string{"edema", "heart failure"},
			PregnancyCategory: "C",
			Translations:      map[string]string{"es": "furosemida"},
			Source:            "seed",
		},
		{
			DrugName:          "amlodipine",
			CanonicalName:     "amlodipine",
			RxCUI:             "17767",
			BrandNames:        []string{"Norvasc"},
			GenericNames:      []string{"amlodipine"},
			DrugClass:         []string{"calcium channel blocker"},
			Indications:       []string{"hypertension", "angina"},
			PregnancyCategory: "C",
			Translations:      map[string]string{"es": "amlodipino"},
			Source:            "seed",
		},
		{
			DrugName:          "warfarin",
			CanonicalName:     "warfarin",
			RxCUI:             "11289",
			BrandNames:        []string{"Coumadin"},
			GenericNames:      []string{"warfarin"},
			DrugClass:         []string{"anticoagulant"},
			Indications:       []string{"blood clot prevention"},
			Contraindications: []string{"pregnancy", "active bleeding"},
			PregnancyCategory: "X",
			Translations:      map[string]string{"es": "warfarina"},
			Source:            "seed",
		},
	}
}
